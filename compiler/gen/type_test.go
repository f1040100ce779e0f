package gen

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/dave/jennifer/jen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/forge/task"
)

type Counter struct{ N int }

func (c *Counter) Next() int {
	c.N++
	return c.N
}

type (
	Runner interface {
		Run(ctx context.Context, n int) (string, error)
	}
	Sink interface {
		Accept(n int)
	}
	Checker interface {
		Check(n int) error
	}
	TaskRunner interface {
		Run(ctx context.Context) *task.Task
	}
	Joiner interface {
		Join(parts ...string) string
	}
	Pair interface {
		A()
		B()
	}
	Multi interface {
		Run() (int, int, error)
	}
	Leaky interface {
		Run(v secret)
	}
	hidden interface {
		run()
	}
)

type secret struct{}

// returnFrame returns the variable of its type.
type returnFrame struct {
	FrameBase
	t reflect.Type
	v *Variable
}

func (r *returnFrame) Resolve(vars *MethodVariables) ([]*Variable, error) {
	v, err := vars.FindVariable(r.t)
	if err != nil {
		return nil, err
	}
	r.v = v
	return []*Variable{v}, nil
}

func (r *returnFrame) Generate(m *GeneratedMethod, g *jen.Group) {
	g.Add(m.Return(r.v))
}

func renderOne(t *testing.T, a *GeneratedAssembly) string {
	t.Helper()
	files, err := a.Render(DefaultPackageName)
	require.NoError(t, err)
	require.Len(t, files, 1)
	return string(files[0].Content)
}

func TestAddType(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		contract reflect.Type
	}{
		{"unexported name", "greetPipeline", reflect.TypeFor[Runner]()},
		{"not an identifier", "Greet-Pipeline", reflect.TypeFor[Runner]()},
		{"not an interface", "GreetPipeline", reflect.TypeFor[Counter]()},
		{"nil contract", "GreetPipeline", nil},
		{"two methods", "GreetPipeline", reflect.TypeFor[Pair]()},
		{"three results", "GreetPipeline", reflect.TypeFor[Multi]()},
		{"unexported parameter type", "GreetPipeline", reflect.TypeFor[Leaky]()},
		{"unexported method", "GreetPipeline", reflect.TypeFor[hidden]()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAssembly(nil).AddType(tt.typeName, tt.contract)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
		})
	}

	t.Run("duplicate name", func(t *testing.T) {
		a := NewAssembly(nil)
		_, err := a.AddType("GreetPipeline", reflect.TypeFor[Runner]())
		require.NoError(t, err)
		_, err = a.AddType("GreetPipeline", reflect.TypeFor[Sink]())
		require.Error(t, err)
		assert.True(t, IsRegistrationError(err))
	})

	t.Run("shapes", func(t *testing.T) {
		a := NewAssembly(nil)
		for name, tc := range map[string]struct {
			contract reflect.Type
			shape    ReturnShape
			errs     bool
		}{
			"RunnerType":  {reflect.TypeFor[Runner](), ReturnValue, true},
			"SinkType":    {reflect.TypeFor[Sink](), ReturnNone, false},
			"CheckerType": {reflect.TypeFor[Checker](), ReturnNone, true},
			"TaskType":    {reflect.TypeFor[TaskRunner](), ReturnTask, false},
		} {
			typ, err := a.AddType(name, tc.contract)
			require.NoError(t, err)
			assert.Equal(t, tc.shape, typ.Method().Shape, name)
			assert.Equal(t, tc.errs, typ.Method().ReturnsError, name)
		}
	})
}

func TestTypeNames(t *testing.T) {
	require := require.New(t)
	a := NewAssembly(nil)

	typ, err := a.AddType("GreetPipeline", reflect.TypeFor[Runner]())
	require.NoError(err)
	require.Equal("NewGreetPipeline", typ.FactoryName())
	require.Equal("greet_pipeline.go", typ.FileName())
	require.Equal("GreetPipeline.Run", typ.Method().FullName())
	require.Equal([]string{"ctx", "num"}, usages(typ.Method().Args))

	typ, err = a.AddType("NumberSink", reflect.TypeFor[Sink](), WithArgNames("n"))
	require.NoError(err)
	require.Equal([]string{"n"}, usages(typ.Method().Args))
	require.Equal("n2", typ.receiver.Usage())

	typ, err = a.AddType("Named", reflect.TypeFor[Runner](), WithArgNames("c", "c"))
	require.NoError(err)
	require.Equal([]string{"c", "c2"}, usages(typ.Method().Args))

	_, err = a.AddType("Invalid", reflect.TypeFor[Runner](), WithArgNames("1x"))
	require.Error(err)
	require.True(IsConfigError(err))
}

func TestInjectField(t *testing.T) {
	typ, err := NewAssembly(nil).AddType("GreetPipeline", reflect.TypeFor[Runner]())
	require.NoError(t, err)
	counterType := reflect.TypeFor[*Counter]()

	first, err := typ.InjectValue(counterType, "", &Counter{})
	require.NoError(t, err)
	assert.Equal(t, "g.counter", first.Usage())
	assert.Equal(t, OriginField, first.Origin())

	again, err := typ.InjectValue(counterType, "counter", &Counter{})
	require.NoError(t, err)
	assert.Same(t, first, again)

	other, err := typ.InjectValue(reflect.TypeFor[Counter](), "counter", Counter{})
	require.NoError(t, err)
	assert.Equal(t, "g.counter2", other.Usage())

	keyword, err := typ.InjectValue(counterType, "Type", &Counter{})
	require.NoError(t, err)
	assert.Equal(t, "g._type", keyword.Usage())

	_, err = typ.InjectValue(reflect.TypeFor[secret](), "", secret{})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	assert.Len(t, typ.Fields(), 3)
}

func TestRenderType(t *testing.T) {
	a := NewAssembly(nil)
	typ, err := a.AddType("GreetPipeline", reflect.TypeFor[Runner]())
	require.NoError(t, err)
	_, err = typ.InjectValue(reflect.TypeFor[*Counter](), "", &Counter{})
	require.NoError(t, err)
	typ.Method().Add(
		&returnFrame{t: stringType},
		newTestFrame("Format", intType).creating(stringType, "text"),
	)

	src := renderOne(t, a)
	for _, want := range []string{
		"// Code generated by forge. DO NOT EDIT.",
		"package pipelines",
		"// GreetPipeline implements gen.Runner.",
		"type GreetPipeline struct {",
		"counter *gen.Counter",
		"func NewGreetPipeline(counter *gen.Counter) func(context.Context, int) (string, error) {",
		"g := &GreetPipeline{counter: counter}",
		"return func(ctx context.Context, num int) (string, error) {",
		"return g.Run(ctx, num)",
		"func (g *GreetPipeline) Run(ctx context.Context, num int) (string, error) {",
		"text := Format(num)",
		"return text, nil",
	} {
		assert.Contains(t, src, want)
	}
	assert.Equal(t, src, typ.SourceCode())
	assert.Less(t, strings.Index(src, "text := Format(num)"), strings.Index(src, "return text, nil"))
}

func TestRenderReturns(t *testing.T) {
	tests := []struct {
		name     string
		contract reflect.Type
		opts     []TypeOption
		frames   func() []Frame
		want     []string
		wantErr  string
	}{
		{
			name:     "value method without return",
			contract: reflect.TypeFor[Runner](),
			wantErr:  "missing return of string",
		},
		{
			name:     "error method returns nil",
			contract: reflect.TypeFor[Checker](),
			frames:   func() []Frame { return []Frame{newTestFrame("Touch", intType)} },
			want:     []string{"Touch(num)", "return nil"},
		},
		{
			name:     "none method has no return",
			contract: reflect.TypeFor[Sink](),
			frames:   func() []Frame { return []Frame{newTestFrame("Touch", intType)} },
			want:     []string{"func (g *GreetPipeline) Accept(num int) {\n\tTouch(num)\n}"},
		},
		{
			name:     "synchronous task completes",
			contract: reflect.TypeFor[TaskRunner](),
			want:     []string{"return task.Completed()"},
		},
		{
			name:     "synchronous task with value",
			contract: reflect.TypeFor[TaskRunner](),
			frames: func() []Frame {
				return []Frame{newTestFrame("Make").creating(intType, "n"), &returnFrame{t: intType}}
			},
			want: []string{"n := Make()", "return task.FromResult(n)"},
		},
		{
			name:     "asynchronous task runs in a closure",
			contract: reflect.TypeFor[TaskRunner](),
			frames: func() []Frame {
				return []Frame{newTestFrame("Wait", reflect.TypeFor[context.Context]()).async()}
			},
			want: []string{"return task.Run(func() (any, error) {", "Wait(ctx)", "return nil, nil"},
		},
		{
			name:     "variadic arguments",
			contract: reflect.TypeFor[Joiner](),
			opts:     []TypeOption{WithArgNames("parts")},
			frames: func() []Frame {
				return []Frame{newTestFrame("Concat", reflect.TypeFor[[]string]()).creating(stringType, "joined"), &returnFrame{t: stringType}}
			},
			want: []string{
				"func NewGreetPipeline() func(...string) string {",
				"return g.Join(parts...)",
				"func (g *GreetPipeline) Join(parts ...string) string {",
				"return joined",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembly(nil)
			typ, err := a.AddType("GreetPipeline", tt.contract, tt.opts...)
			require.NoError(t, err)
			if tt.frames != nil {
				typ.Method().Add(tt.frames()...)
			}
			files, err := a.Render(DefaultPackageName)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, IsGenerationError(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, string(files[0].Content), want)
			}
		})
	}
}

func TestRenderDeterministic(t *testing.T) {
	build := func() *GeneratedAssembly {
		a := NewAssembly(nil)
		for _, name := range []string{"FirstPipeline", "SecondPipeline"} {
			typ, err := a.AddType(name, reflect.TypeFor[Runner]())
			require.NoError(t, err)
			_, err = typ.InjectValue(reflect.TypeFor[*Counter](), "", &Counter{})
			require.NoError(t, err)
			typ.Method().Add(
				newTestFrame("Format", intType).creating(stringType, "text"),
				newTestFrame("Block").nest(newTestFrame("Log", stringType)),
				&returnFrame{t: stringType},
			)
		}
		return a
	}

	a := build()
	first, err := a.Render(DefaultPackageName)
	require.NoError(t, err)
	second, err := a.Render(DefaultPackageName)
	require.NoError(t, err)
	fresh, err := build().Render(DefaultPackageName)
	require.NoError(t, err)

	require.Len(t, first, 2)
	for i := range first {
		assert.Equal(t, string(first[i].Content), string(second[i].Content))
		assert.Equal(t, string(first[i].Content), string(fresh[i].Content))
	}
}

func TestRenderBalanced(t *testing.T) {
	for depth := 1; depth <= 6; depth++ {
		var frame Frame = newTestFrame("Leaf", intType).async()
		for i := 0; i < depth; i++ {
			frame = newTestFrame("Level", intType).nest(frame)
		}
		a := NewAssembly(nil)
		typ, err := a.AddType("NestedPipeline", reflect.TypeFor[TaskRunner]())
		require.NoError(t, err)
		typ.Method().Add(newTestFrame("Seed").creating(intType, "n"), frame)

		src := renderOne(t, a)
		assert.Equal(t, strings.Count(src, "{"), strings.Count(src, "}"), "depth %d", depth)
		assert.Equal(t, strings.Count(src, "("), strings.Count(src, ")"), "depth %d", depth)
		assert.True(t, typ.Method().IsAsync())
	}
}

func TestRenderImportAliases(t *testing.T) {
	a := NewAssembly(nil)
	typ, err := a.AddType("GreetPipeline", reflect.TypeFor[Runner](), WithArgNames("context", "n"))
	require.NoError(t, err)
	typ.Method().Add(newTestFrame("Format", intType).creating(stringType, "text"), &returnFrame{t: stringType})

	src := renderOne(t, a)
	assert.Contains(t, src, `context2 "context"`)
	assert.Contains(t, src, "func (g *GreetPipeline) Run(context context2.Context, n int) (string, error) {")

	refs := a.References()
	require.NotEmpty(t, refs)
	assert.Equal(t, "context", refs[0].PkgPath)
	assert.Equal(t, "context", refs[0].PkgName)
	assert.Equal(t, "context2", refs[0].Alias)
	assert.Contains(t, refs[0].Symbols, "Context")
}
