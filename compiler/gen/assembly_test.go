package gen

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runFunc = func(context.Context, int) (string, error)

func newRunnerAssembly(t *testing.T, rules *GenerationRules) (*GeneratedAssembly, *GeneratedType, *Counter) {
	t.Helper()
	a := NewAssembly(rules)
	typ, err := a.AddType("GreetPipeline", reflect.TypeFor[Runner]())
	require.NoError(t, err)
	counter := &Counter{}
	_, err = typ.InjectValue(reflect.TypeFor[*Counter](), "", counter)
	require.NoError(t, err)
	typ.Method().Add(
		newTestFrame("Format", intType).creating(stringType, "text"),
		&returnFrame{t: stringType},
	)
	return a, typ, counter
}

// greetFactory is what a strategy would load for GreetPipeline.
func greetFactory(c *Counter) runFunc {
	return func(_ context.Context, n int) (string, error) {
		return strconv.Itoa(n + c.Next()), nil
	}
}

type mainStrategy struct{ StrategyFunc }

func (mainStrategy) PackageName() string { return "main" }

func TestCompileAll(t *testing.T) {
	t.Run("binds and activates", func(t *testing.T) {
		a, typ, counter := newRunnerAssembly(t, nil)
		var req *CompileRequest
		strategy := StrategyFunc(func(_ context.Context, r *CompileRequest) (Module, error) {
			req = r
			return Symbols{"NewGreetPipeline": greetFactory}, nil
		})
		require.NoError(t, a.CompileAll(context.Background(), strategy))

		require.NotNil(t, req)
		assert.Equal(t, DefaultAssemblyName, req.Assembly)
		assert.Equal(t, DefaultPackageName, req.PackageName)
		require.Len(t, req.Files, 1)
		assert.Equal(t, "greet_pipeline.go", req.Files[0].Name)
		assert.Equal(t, "GreetPipeline", req.Files[0].TypeName)
		var paths []string
		for _, ref := range req.References {
			paths = append(paths, ref.PkgPath)
		}
		assert.Equal(t, []string{"context", "github.com/syssam/forge/compiler/gen"}, paths)

		assert.True(t, typ.Compiled())
		assert.NotNil(t, a.Module())

		run, err := Instance[runFunc](typ)
		require.NoError(t, err)
		out, err := run(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, "11", out)
		assert.Equal(t, 1, counter.N)
	})

	t.Run("package namer", func(t *testing.T) {
		a, typ, _ := newRunnerAssembly(t, nil)
		strategy := mainStrategy{StrategyFunc(func(_ context.Context, r *CompileRequest) (Module, error) {
			assert.Equal(t, "main", r.PackageName)
			return Symbols{"NewGreetPipeline": greetFactory}, nil
		})}
		require.NoError(t, a.CompileAll(context.Background(), strategy))
		assert.Contains(t, typ.SourceCode(), "package main")
	})

	t.Run("nil strategy", func(t *testing.T) {
		a, _, _ := newRunnerAssembly(t, nil)
		err := a.CompileAll(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, IsConfigError(err))
	})

	t.Run("compile error names the assembly", func(t *testing.T) {
		a, typ, _ := newRunnerAssembly(t, MustNewRules(WithAssemblyName("orders")))
		strategy := StrategyFunc(func(context.Context, *CompileRequest) (Module, error) {
			return nil, NewCompileError("fake", []Diagnostic{{File: "greet_pipeline.go", Line: 3, Message: "boom"}}, nil)
		})
		err := a.CompileAll(context.Background(), strategy)
		require.Error(t, err)
		var ce *CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "orders", ce.Assembly)
		assert.False(t, typ.Compiled())
		assert.Nil(t, a.Module())
	})

	t.Run("arrangement errors stop compilation", func(t *testing.T) {
		a := NewAssembly(nil)
		typ, err := a.AddType("BrokenPipeline", reflect.TypeFor[Sink]())
		require.NoError(t, err)
		typ.Method().Add(newTestFrame("Use", stringType))
		called := false
		err = a.CompileAll(context.Background(), StrategyFunc(func(context.Context, *CompileRequest) (Module, error) {
			called = true
			return Symbols{}, nil
		}))
		require.Error(t, err)
		assert.True(t, IsResolutionError(err))
		assert.False(t, called)
	})

	t.Run("missing factory", func(t *testing.T) {
		a, _, _ := newRunnerAssembly(t, nil)
		err := a.CompileAll(context.Background(), StrategyFunc(func(context.Context, *CompileRequest) (Module, error) {
			return Symbols{}, nil
		}))
		require.Error(t, err)
		assert.True(t, IsGenerationError(err))
		assert.Contains(t, err.Error(), "NewGreetPipeline not found")
	})

	t.Run("one missing factory binds no type", func(t *testing.T) {
		a, greet, _ := newRunnerAssembly(t, nil)
		echo, err := a.AddType("EchoPipeline", reflect.TypeFor[Runner]())
		require.NoError(t, err)
		_, err = echo.InjectValue(reflect.TypeFor[*Counter](), "", &Counter{})
		require.NoError(t, err)
		echo.Method().Add(
			newTestFrame("Format", intType).creating(stringType, "text"),
			&returnFrame{t: stringType},
		)

		err = a.CompileAll(context.Background(), StrategyFunc(func(context.Context, *CompileRequest) (Module, error) {
			return Symbols{"NewGreetPipeline": greetFactory}, nil
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NewEchoPipeline not found")
		assert.False(t, greet.Compiled())
		assert.False(t, echo.Compiled())
		assert.Nil(t, a.Module())
		_, err = Instance[runFunc](greet)
		require.Error(t, err)
	})

	t.Run("factory with the wrong shape", func(t *testing.T) {
		for name, sym := range map[string]any{
			"not a function": 42,
			"wrong arity":    func() runFunc { return nil },
		} {
			a, _, _ := newRunnerAssembly(t, nil)
			err := a.CompileAll(context.Background(), StrategyFunc(func(context.Context, *CompileRequest) (Module, error) {
				return Symbols{"NewGreetPipeline": sym}, nil
			}))
			require.Error(t, err, name)
			assert.True(t, IsGenerationError(err), name)
		}
	})

	t.Run("debug logs", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		a, _, _ := newRunnerAssembly(t, MustNewRules(WithLogger(logger)))
		require.NoError(t, a.CompileAll(context.Background(), StrategyFunc(func(context.Context, *CompileRequest) (Module, error) {
			return Symbols{"NewGreetPipeline": greetFactory}, nil
		})))
		assert.Contains(t, buf.String(), "forge: method arranged")
		assert.Contains(t, buf.String(), "async=synchronous")
		assert.Contains(t, buf.String(), "forge: assembly compiled")
	})
}

func TestCreateInstance(t *testing.T) {
	compile := func(t *testing.T, factory any) *GeneratedType {
		t.Helper()
		a, typ, _ := newRunnerAssembly(t, nil)
		require.NoError(t, a.CompileAll(context.Background(), StrategyFunc(func(context.Context, *CompileRequest) (Module, error) {
			return Symbols{"NewGreetPipeline": factory}, nil
		})))
		return typ
	}

	t.Run("before compilation", func(t *testing.T) {
		_, typ, _ := newRunnerAssembly(t, nil)
		_, err := typ.CreateInstance()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has not been compiled")
	})

	t.Run("factory panics", func(t *testing.T) {
		typ := compile(t, func(*Counter) runFunc { panic("no") })
		_, err := typ.CreateInstance()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "factory panicked: no")
	})

	t.Run("field resolution fails", func(t *testing.T) {
		a := NewAssembly(nil)
		typ, err := a.AddType("GreetPipeline", reflect.TypeFor[Runner]())
		require.NoError(t, err)
		_, err = typ.InjectField(reflect.TypeFor[*Counter](), "", func() (any, error) {
			return nil, errors.New("container closed")
		})
		require.NoError(t, err)
		typ.Method().Add(newTestFrame("Format", intType).creating(stringType, "text"), &returnFrame{t: stringType})
		require.NoError(t, a.CompileAll(context.Background(), StrategyFunc(func(context.Context, *CompileRequest) (Module, error) {
			return Symbols{"NewGreetPipeline": greetFactory}, nil
		})))
		_, err = typ.CreateInstance()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "container closed")
	})

	t.Run("field of the wrong type", func(t *testing.T) {
		a := NewAssembly(nil)
		typ, err := a.AddType("GreetPipeline", reflect.TypeFor[Runner]())
		require.NoError(t, err)
		_, err = typ.InjectValue(reflect.TypeFor[*Counter](), "", "not a counter")
		require.NoError(t, err)
		typ.Method().Add(newTestFrame("Format", intType).creating(stringType, "text"), &returnFrame{t: stringType})
		require.NoError(t, a.CompileAll(context.Background(), StrategyFunc(func(context.Context, *CompileRequest) (Module, error) {
			return Symbols{"NewGreetPipeline": greetFactory}, nil
		})))
		_, err = typ.CreateInstance()
		require.Error(t, err)
		assert.True(t, IsConfigError(err))
	})

	t.Run("instance of another type", func(t *testing.T) {
		typ := compile(t, greetFactory)
		_, err := Instance[func() string](typ)
		require.Error(t, err)
		assert.True(t, IsGenerationError(err))
	})

	t.Run("pointer to factory", func(t *testing.T) {
		factory := greetFactory
		typ := compile(t, &factory)
		run, err := Instance[runFunc](typ)
		require.NoError(t, err)
		out, err := run(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "2", out)
	})
}

func TestAssemblyTypes(t *testing.T) {
	a, typ, _ := newRunnerAssembly(t, nil)
	got, ok := a.Type("GreetPipeline")
	require.True(t, ok)
	assert.Same(t, typ, got)
	_, ok = a.Type("Other")
	assert.False(t, ok)
	assert.Equal(t, []*GeneratedType{typ}, a.Types())
	assert.Equal(t, DefaultAssemblyName, a.Rules.AssemblyName)
}
