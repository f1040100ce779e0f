package frames

import (
	"context"
	"log/slog"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/forge/compiler/gen"
	"github.com/syssam/forge/task"
)

type Input struct{ Name string }

type Output struct{ Greeting string }

type Session struct{ touched bool }

func (s *Session) Touch()       { s.touched = true }
func (s *Session) Close() error { return nil }

type Greeter struct{}

func (g *Greeter) Greet(in *Input) (*Output, error) { return &Output{Greeting: "hi " + in.Name}, nil }
func (g *Greeter) Check(in *Input) error            { return nil }
func (g *Greeter) Open() (*Session, error)          { return &Session{}, nil }

func (g *Greeter) GreetAsync(ctx context.Context, in *Input) *task.Task {
	return task.FromResult(&Output{Greeting: "hi " + in.Name})
}

func Greeting(in *Input) string { return "hi " + in.Name }

type (
	Runner interface {
		Run(ctx context.Context, in *Input) (*Output, error)
	}
	AsyncRunner interface {
		Run(ctx context.Context, in *Input) *task.Task
	}
	Joiner interface {
		Join(ctx context.Context, pending *task.Task) *task.Task
	}
	Sink interface {
		Accept(in *Input)
	}
	Namer interface {
		Name(in *Input) string
	}
	Notifier interface {
		Notify(ctx context.Context, in *Input) error
	}
)

var (
	inputType   = reflect.TypeFor[*Input]()
	outputType  = reflect.TypeFor[*Output]()
	greeterType = reflect.TypeFor[*Greeter]()
	sessionType = reflect.TypeFor[*Session]()
	stringType  = reflect.TypeFor[string]()
	taskType    = reflect.TypeFor[*task.Task]()
)

func render(t *testing.T, contract reflect.Type, build func(*gen.GeneratedType), opts ...gen.TypeOption) (*gen.GeneratedType, string, error) {
	t.Helper()
	a := gen.NewAssembly(nil)
	typ, err := a.AddType("GreetPipeline", contract, opts...)
	require.NoError(t, err)
	build(typ)
	files, err := a.Render(gen.DefaultPackageName)
	if err != nil {
		return typ, "", err
	}
	require.Len(t, files, 1)
	return typ, string(files[0].Content), nil
}

func injectGreeter(t *testing.T, typ *gen.GeneratedType) {
	t.Helper()
	_, err := typ.InjectValue(greeterType, "", &Greeter{})
	require.NoError(t, err)
}

func TestCallFrame(t *testing.T) {
	t.Run("value and error", func(t *testing.T) {
		_, src, err := render(t, reflect.TypeFor[Runner](), func(typ *gen.GeneratedType) {
			injectGreeter(t, typ)
			typ.Method().Add(Method(greeterType, "Greet"), Return(outputType))
		})
		require.NoError(t, err)
		assert.Contains(t, src, "output, err := g.greeter.Greet(input)")
		assert.Contains(t, src, "return *new(*frames.Output), err")
		assert.Contains(t, src, "return output, nil")
	})

	t.Run("package function", func(t *testing.T) {
		_, src, err := render(t, reflect.TypeFor[Namer](), func(typ *gen.GeneratedType) {
			typ.Method().Add(Func(Greeting), Return(stringType))
		})
		require.NoError(t, err)
		assert.Contains(t, src, "greetingResult := frames.Greeting(input)")
		assert.Contains(t, src, "return greetingResult")
	})

	t.Run("unused result is discarded", func(t *testing.T) {
		_, src, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			typ.Method().Add(Func(Greeting))
		})
		require.NoError(t, err)
		assert.Contains(t, src, "_ = frames.Greeting(input)")
	})

	t.Run("error result panics without error return", func(t *testing.T) {
		_, src, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			injectGreeter(t, typ)
			typ.Method().Add(Method(greeterType, "Check"))
		})
		require.NoError(t, err)
		assert.Contains(t, src, "if err := g.greeter.Check(input); err != nil {")
		assert.Contains(t, src, "panic(err)")
	})

	t.Run("task result is awaited", func(t *testing.T) {
		typ, src, err := render(t, reflect.TypeFor[AsyncRunner](), func(typ *gen.GeneratedType) {
			injectGreeter(t, typ)
			typ.Method().Add(Method(greeterType, "GreetAsync").Yields(outputType), Return(outputType))
		})
		require.NoError(t, err)
		assert.True(t, typ.Method().IsAsync())
		assert.Contains(t, src, "return task.Run(func() (any, error) {")
		assert.Contains(t, src, "outputValue, err := g.greeter.GreetAsync(ctx, input).Await(ctx)")
		assert.Contains(t, src, "output, ok := outputValue.(*frames.Output)")
		assert.Contains(t, src, "if !ok && outputValue != nil {")
		assert.Contains(t, src, `return nil, fmt.Errorf("task completed with %T, not *frames.Output", outputValue)`)
		assert.Contains(t, src, "return output, nil")
	})

	t.Run("awaited value name is deduplicated", func(t *testing.T) {
		_, src, err := render(t, reflect.TypeFor[AsyncRunner](), func(typ *gen.GeneratedType) {
			injectGreeter(t, typ)
			typ.Method().Add(
				Func(Greeting).ResultNamed("outputValue"),
				Method(greeterType, "GreetAsync").Yields(outputType),
				Return(outputType),
			)
		})
		require.NoError(t, err)
		assert.Contains(t, src, "outputValue2, err := g.greeter.GreetAsync(ctx, input).Await(ctx)")
		assert.Contains(t, src, "output, ok := outputValue2.(*frames.Output)")
	})

	t.Run("unknown method", func(t *testing.T) {
		_, _, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			typ.Method().Add(Method(greeterType, "Missing"))
		})
		require.Error(t, err)
		assert.True(t, gen.IsConfigError(err))
	})

	t.Run("closure is rejected", func(t *testing.T) {
		_, _, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			typ.Method().Add(Func(func(*Input) {}))
		})
		require.Error(t, err)
		assert.True(t, gen.IsConfigError(err))
	})
}

func TestAwaitFrame(t *testing.T) {
	typ, src, err := render(t, reflect.TypeFor[Joiner](), func(typ *gen.GeneratedType) {
		typ.Method().Add(Await(taskType, outputType), Return(outputType))
	}, gen.WithArgNames("ctx", "pending"))
	require.NoError(t, err)
	assert.True(t, typ.Method().IsAsync())
	assert.Contains(t, src, "outputValue, err := pending.Await(ctx)")
	assert.Contains(t, src, "return output, nil")
}

func TestIfFrame(t *testing.T) {
	t.Run("synchronous", func(t *testing.T) {
		typ, src, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			typ.Method().Add(If(`%s.Name == ""`, inputType).Then(Code(`%s.Name = "anonymous"`, inputType)))
		})
		require.NoError(t, err)
		assert.False(t, typ.Method().IsAsync())
		assert.Contains(t, src, `if input.Name == "" {`)
		assert.Contains(t, src, `input.Name = "anonymous"`)
	})

	t.Run("async child makes the method async", func(t *testing.T) {
		typ, src, err := render(t, reflect.TypeFor[AsyncRunner](), func(typ *gen.GeneratedType) {
			injectGreeter(t, typ)
			typ.Method().Add(If(`%s.Name != ""`, inputType).Then(Method(greeterType, "GreetAsync")))
		})
		require.NoError(t, err)
		assert.True(t, typ.Method().IsAsync())
		assert.Contains(t, src, "return task.Run(func() (any, error) {")
		assert.Contains(t, src, "if _, err := g.greeter.GreetAsync(ctx, input).Await(ctx); err != nil {")
		assert.Contains(t, src, "return nil, err")
		assert.Contains(t, src, "return nil, nil")
	})
}

func TestGuardFrame(t *testing.T) {
	t.Run("recovers and logs", func(t *testing.T) {
		_, src, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			_, err := typ.InjectValue(loggerType, "logger", slog.Default())
			require.NoError(t, err)
			typ.Method().Add(Guard(Func(Greeting)))
		})
		require.NoError(t, err)
		assert.Contains(t, src, "if r := recover(); r != nil {")
		assert.Contains(t, src, `g.logger.Error("pipeline panicked", "panic", r)`)
		assert.Contains(t, src, "panic(r)")
		assert.Contains(t, src, "_ = frames.Greeting(input)")
	})

	t.Run("must be last in its block", func(t *testing.T) {
		_, _, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			typ.Method().Add(Guard(Func(Greeting)), Func(Greeting))
		})
		require.Error(t, err)
		assert.True(t, gen.IsGenerationError(err))
		assert.Contains(t, err.Error(), "must be the last frame of its block")
	})

	t.Run("must be last in a nested block", func(t *testing.T) {
		_, _, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			typ.Method().Add(Scope(Guard(Func(Greeting)), Func(Greeting)))
		})
		require.Error(t, err)
		assert.True(t, gen.IsGenerationError(err))
	})
}

func TestScopeFrame(t *testing.T) {
	t.Run("disposes inside the closure", func(t *testing.T) {
		_, src, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			injectGreeter(t, typ)
			typ.Method().Add(Scope(
				Method(greeterType, "Open").DisposeResult(),
				Method(sessionType, "Touch"),
			))
		})
		require.NoError(t, err)
		assert.Contains(t, src, "if err := func() error {")
		assert.Contains(t, src, "session, err := g.greeter.Open()")
		assert.Contains(t, src, "return err")
		assert.Contains(t, src, "defer session.Close()")
		assert.Contains(t, src, "session.Touch()")
		assert.Contains(t, src, "}(); err != nil {")
	})

	t.Run("return inside the scope", func(t *testing.T) {
		_, _, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			typ.Method().Add(Scope(Return(nil)))
		})
		require.Error(t, err)
		assert.True(t, gen.IsGenerationError(err))
	})

	t.Run("created variables stay inside", func(t *testing.T) {
		_, _, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			injectGreeter(t, typ)
			open := Method(greeterType, "Open")
			typ.Method().Add(Scope(open), Method(sessionType, "Touch").On(open.Result()))
		})
		require.Error(t, err)
		assert.True(t, gen.IsResolutionError(err))
	})
}

func TestLogFrame(t *testing.T) {
	t.Run("context variant", func(t *testing.T) {
		_, src, err := render(t, reflect.TypeFor[Notifier](), func(typ *gen.GeneratedType) {
			_, err := typ.InjectValue(loggerType, "logger", slog.Default())
			require.NoError(t, err)
			typ.Method().Add(Log(slog.LevelInfo, "greeting").AttrOf("input", inputType).AttrValue("attempt", 1))
		})
		require.NoError(t, err)
		assert.Contains(t, src, `g.logger.InfoContext(ctx, "greeting", "input", input, "attempt", 1)`)
		assert.Contains(t, src, "return nil")
	})

	t.Run("levels", func(t *testing.T) {
		assert.Equal(t, "Debug", Log(slog.LevelDebug, "").method())
		assert.Equal(t, "Info", Log(slog.LevelInfo+1, "").method())
		assert.Equal(t, "Warn", Log(slog.LevelWarn, "").method())
		assert.Equal(t, "Error", Log(slog.LevelError+4, "").method())
	})

	t.Run("logger is required", func(t *testing.T) {
		_, _, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
			typ.Method().Add(Log(slog.LevelInfo, "greeting"))
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, gen.ErrResolution)
	})
}

func TestSequenceAndCode(t *testing.T) {
	_, src, err := render(t, reflect.TypeFor[Sink](), func(typ *gen.GeneratedType) {
		typ.Method().Add(Sequence(
			Code(`%s.Name = "a"`, inputType),
			Code(`%s.Name += "b"`, inputType),
		))
	})
	require.NoError(t, err)
	assert.Regexp(t, `input.Name = "a"\n\s+input.Name \+= "b"`, src)
}
