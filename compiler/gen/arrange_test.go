package gen

import (
	"reflect"
	"strings"
	"testing"

	"github.com/dave/jennifer/jen"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	intType    = reflect.TypeFor[int]()
	stringType = reflect.TypeFor[string]()
	boolType   = reflect.TypeFor[bool]()
)

// testFrame calls a function named after the frame with the variables it
// needs and assigns whatever it creates.
type testFrame struct {
	FrameBase
	name  string
	needs []reflect.Type
	named map[int]string
	got   []*Variable
}

func newTestFrame(name string, needs ...reflect.Type) *testFrame {
	return &testFrame{name: name, needs: needs}
}

func (f *testFrame) creating(t reflect.Type, usage string) *testFrame {
	f.Declare(NewVariable(t, usage))
	return f
}

func (f *testFrame) byName(i int, name string) *testFrame {
	if f.named == nil {
		f.named = make(map[int]string)
	}
	f.named[i] = name
	return f
}

func (f *testFrame) async() *testFrame {
	f.MarkAsync()
	return f
}

func (f *testFrame) nest(children ...Frame) *testFrame {
	f.Nest(children...)
	return f
}

func (f *testFrame) Resolve(vars *MethodVariables) ([]*Variable, error) {
	f.got = f.got[:0]
	for i, t := range f.needs {
		var (
			v   *Variable
			err error
		)
		if name := f.named[i]; name != "" {
			v, err = vars.FindVariableByName(t, name)
		} else {
			v, err = vars.FindVariable(t)
		}
		if err != nil {
			return nil, err
		}
		f.got = append(f.got, v)
	}
	return append([]*Variable(nil), f.got...), nil
}

func (f *testFrame) Generate(m *GeneratedMethod, g *jen.Group) {
	call := jen.Id(f.name).CallFunc(func(g *jen.Group) {
		for _, v := range f.got {
			g.Add(v.Code())
		}
	})
	if len(f.Creates()) > 0 {
		g.Add(m.Assign(call, f.Creates()...))
	} else {
		g.Add(call)
	}
	if len(f.Children()) > 0 {
		g.BlockFunc(func(b *jen.Group) {
			m.RenderFrames(b, f.Body())
		})
	}
}

func (f *testFrame) String() string { return f.name }

func frameNames(frames []Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = FrameName(f)
	}
	return out
}

func TestArrangeOrder(t *testing.T) {
	build := func(order string) *GeneratedMethod {
		a := newTestFrame("A").creating(intType, "x")
		b := newTestFrame("B", intType).creating(stringType, "y")
		m := NewMethod("Run", ReturnNone)
		if order == "AB" {
			m.Add(a, b)
		} else {
			m.Add(b, a)
		}
		return m
	}

	for _, order := range []string{"AB", "BA"} {
		t.Run(order, func(t *testing.T) {
			m := build(order)
			require.NoError(t, m.Arrange())
			if diff := cmp.Diff([]string{"A", "B"}, frameNames(m.Arranged())); diff != "" {
				t.Errorf("arranged order mismatch (-want +got):\n%s", diff)
			}
			assert.Len(t, m.Frames(), 2)
		})
	}
}

func TestArrangeMissingProducer(t *testing.T) {
	m := NewMethod("Run", ReturnNone)
	m.Add(newTestFrame("B", intType).creating(stringType, "y"))

	err := m.Arrange()
	require.Error(t, err)
	assert.True(t, IsResolutionError(err))
	assert.Contains(t, err.Error(), "no variable of type int")
	assert.Contains(t, err.Error(), "for frame B")

	t.Run("no partial arrangement", func(t *testing.T) {
		assert.Nil(t, m.Arranged())
		assert.Equal(t, AsyncUnknown, m.AsyncState())
	})

	t.Run("deterministic", func(t *testing.T) {
		again := m.Arrange()
		require.Error(t, again)
		assert.Equal(t, err.Error(), again.Error())
	})
}

func TestArrangeAmbiguity(t *testing.T) {
	t.Run("unnamed lookup fails", func(t *testing.T) {
		m := NewMethod("Run", ReturnNone)
		m.Add(
			newTestFrame("First").creating(intType, "first"),
			newTestFrame("Second").creating(intType, "second"),
			newTestFrame("Use", intType),
		)
		err := m.Arrange()
		require.Error(t, err)
		assert.True(t, IsAmbiguityError(err))
		assert.Contains(t, err.Error(), "first int")
		assert.Contains(t, err.Error(), "second int")
		assert.Nil(t, m.Arranged())
	})

	t.Run("named lookup disambiguates", func(t *testing.T) {
		m := NewMethod("Run", ReturnNone)
		m.Add(
			newTestFrame("Use", intType).byName(0, "second"),
			newTestFrame("First").creating(intType, "first"),
			newTestFrame("Second").creating(intType, "second"),
		)
		require.NoError(t, m.Arrange())
		assert.Equal(t, []string{"Second", "Use", "First"}, frameNames(m.Arranged()))
	})

	t.Run("argument and frame variable", func(t *testing.T) {
		m := NewMethod("Run", ReturnNone, Argument(intType, "n"))
		m.Add(newTestFrame("Make").creating(intType, "m"), newTestFrame("Use", intType))
		err := m.Arrange()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "n int (argument)")
		assert.Contains(t, err.Error(), "m int (frame)")
	})
}

func TestArrangeCycle(t *testing.T) {
	m := NewMethod("Run", ReturnNone)
	m.Add(
		newTestFrame("A", stringType).creating(intType, "x"),
		newTestFrame("B", intType).creating(stringType, "y"),
	)
	err := m.Arrange()
	require.Error(t, err)
	assert.True(t, IsResolutionError(err))
	assert.Contains(t, err.Error(), "dependency cycle: A -> B -> A")
}

func TestArrangeAsync(t *testing.T) {
	tests := []struct {
		name   string
		frames func() []Frame
		want   AsyncState
	}{
		{
			name: "no async frame",
			frames: func() []Frame {
				return []Frame{newTestFrame("A"), newTestFrame("B")}
			},
			want: AsyncSynchronous,
		},
		{
			name: "one async frame",
			frames: func() []Frame {
				return []Frame{newTestFrame("A"), newTestFrame("B").async()}
			},
			want: AsyncAsynchronous,
		},
		{
			name: "async frame nested in a block",
			frames: func() []Frame {
				return []Frame{newTestFrame("If").nest(newTestFrame("Inner").nest(newTestFrame("Await").async()))}
			},
			want: AsyncAsynchronous,
		},
		{
			name: "empty method",
			frames: func() []Frame {
				return nil
			},
			want: AsyncSynchronous,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMethod("Run", ReturnTask)
			m.Add(tt.frames()...)
			require.NoError(t, m.Arrange())
			assert.Equal(t, tt.want, m.AsyncState())
			assert.Equal(t, tt.want == AsyncAsynchronous, m.IsAsync())
		})
	}
}

func TestArrangeNested(t *testing.T) {
	t.Run("children see outer variables", func(t *testing.T) {
		inner := newTestFrame("Inner", intType)
		m := NewMethod("Run", ReturnNone)
		m.Add(newTestFrame("Block").nest(inner), newTestFrame("A").creating(intType, "x"))
		require.NoError(t, m.Arrange())
		assert.Equal(t, []string{"A", "Block"}, frameNames(m.Arranged()))
		assert.Equal(t, []string{"Inner"}, frameNames(m.Arranged()[1].Children()))
	})

	t.Run("inner variables are not visible outside", func(t *testing.T) {
		m := NewMethod("Run", ReturnNone)
		m.Add(
			newTestFrame("Block").nest(newTestFrame("A").creating(intType, "x")),
			newTestFrame("Use", intType),
		)
		err := m.Arrange()
		require.Error(t, err)
		assert.True(t, IsResolutionError(err))
		assert.Contains(t, err.Error(), "for frame Use")
	})

	t.Run("explicit inner variable outside the block", func(t *testing.T) {
		a := newTestFrame("A").creating(intType, "x")
		use := &probeFrame{fn: func(*MethodVariables) {}, uses: a.Creates()}
		m := NewMethod("Run", ReturnNone)
		m.Add(newTestFrame("Block").nest(a), use)
		err := m.Arrange()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nested block")
	})

	t.Run("children order within the block", func(t *testing.T) {
		block := newTestFrame("Block").nest(
			newTestFrame("B", intType),
			newTestFrame("A").creating(intType, "x"),
		)
		m := NewMethod("Run", ReturnNone)
		m.Add(block)
		require.NoError(t, m.Arrange())
		assert.Equal(t, []string{"A", "B"}, frameNames(block.Body()))
	})
}

func TestArrangeSources(t *testing.T) {
	load := newTestFrame("Load").creating(intType, "loaded")
	require.NoError(t, load.Creates()[0].SetCreator(load))
	calls := 0
	src := VariableSourceFunc(func(_ *MethodVariables, t reflect.Type) (*Variable, bool, error) {
		if t != intType {
			return nil, false, nil
		}
		calls++
		return load.Creates()[0], true, nil
	})

	m := NewMethod("Run", ReturnNone)
	m.AddSource(src)
	m.Add(newTestFrame("Use", intType), newTestFrame("Again", intType))
	require.NoError(t, m.Arrange())
	assert.Equal(t, []string{"Load", "Use", "Again"}, frameNames(m.Arranged()))
	assert.Equal(t, 1, calls)
	assert.Same(t, Frame(load), load.Creates()[0].Creator())
}

func TestArrangeDedupe(t *testing.T) {
	a := newTestFrame("A").creating(intType, "value")
	b := newTestFrame("B").creating(stringType, "value")
	c := newTestFrame("C").creating(boolType, "err")
	m := NewMethod("Run", ReturnNone, Argument(boolType, "value3"))
	m.Add(a, b, c, newTestFrame("Use", intType, stringType, boolType).byName(2, "err"))
	require.NoError(t, m.Arrange())

	assert.Equal(t, "value", a.Creates()[0].Usage())
	assert.Equal(t, "value2", b.Creates()[0].Usage())
	assert.Equal(t, "err2", c.Creates()[0].Usage())
	assert.Equal(t, "err", c.Creates()[0].Name)
}

func TestArrangeIdempotent(t *testing.T) {
	m := NewMethod("Run", ReturnNone)
	m.Add(newTestFrame("A"))
	require.NoError(t, m.Arrange())
	first := m.Arranged()
	require.NoError(t, m.Arrange())
	assert.Equal(t, first, m.Arranged())

	m.Add(newTestFrame("B"))
	err := m.Arrange()
	require.Error(t, err)
	assert.True(t, IsGenerationError(err))
}

func TestArrangeRegistration(t *testing.T) {
	t.Run("frame registered twice", func(t *testing.T) {
		a := newTestFrame("A")
		m := NewMethod("Run", ReturnNone)
		m.Add(a, a)
		err := m.Arrange()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "registered twice")
	})

	t.Run("nil frame", func(t *testing.T) {
		m := NewMethod("Run", ReturnNone)
		m.Add(nil)
		require.Error(t, m.Arrange())
	})

	t.Run("variable created by two frames", func(t *testing.T) {
		v := NewVariable(intType, "x")
		a := newTestFrame("A")
		a.Declare(v)
		b := newTestFrame("B")
		b.Declare(v)
		m := NewMethod("Run", ReturnNone)
		m.Add(a, b)
		err := m.Arrange()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already created by A")
	})
}

func TestMethodVariablesLookups(t *testing.T) {
	var seen []string
	probe := &probeFrame{fn: func(vars *MethodVariables) {
		v, err := vars.TryFindVariable(boolType)
		seen = append(seen, describe(v, err))
		v, err = vars.FindVariableByName(intType, "n")
		seen = append(seen, describe(v, err))
		_, err = vars.FindVariableByName(intType, "missing")
		seen = append(seen, describe(nil, err))
		seen = append(seen, strings.Join(usages(vars.Arguments()), ","))
	}}
	m := NewMethod("Run", ReturnNone, Argument(intType, "n"), Argument(stringType, "s"))
	m.Add(probe)
	require.NoError(t, m.Arrange())
	assert.Equal(t, []string{
		"<nil>",
		"n",
		`forge: resolution error in Run for frame probe: no variable of type int named "missing"`,
		"n,s",
	}, seen)
}

type probeFrame struct {
	FrameBase
	fn   func(*MethodVariables)
	uses []*Variable
}

func (p *probeFrame) Resolve(vars *MethodVariables) ([]*Variable, error) {
	p.fn(vars)
	return p.uses, nil
}

func (p *probeFrame) Generate(*GeneratedMethod, *jen.Group) {}

func (p *probeFrame) String() string { return "probe" }

func describe(v *Variable, err error) string {
	if err != nil {
		return err.Error()
	}
	if v == nil {
		return "<nil>"
	}
	return v.Usage()
}

func usages(vars []*Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Usage()
	}
	return out
}
