package frames

import (
	"log/slog"
	"reflect"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/forge/compiler/gen"
)

type logAttr struct {
	key string
	arg any // *gen.Variable, reflect.Type or nil for a literal
	lit any
	v   *gen.Variable
}

// LogFrame writes a structured log record through the *slog.Logger in scope.
// When a context.Context is in scope the Context variant is called.
type LogFrame struct {
	gen.FrameBase
	level  slog.Level
	msg    string
	attrs  []*logAttr
	logger *gen.Variable
	ctx    *gen.Variable
}

// Log returns a frame logging msg at level.
func Log(level slog.Level, msg string) *LogFrame {
	return &LogFrame{level: level, msg: msg}
}

// Attr adds the value of v under key.
func (l *LogFrame) Attr(key string, v *gen.Variable) *LogFrame {
	l.attrs = append(l.attrs, &logAttr{key: key, arg: v})
	return l
}

// AttrOf adds the variable of type t under key.
func (l *LogFrame) AttrOf(key string, t reflect.Type) *LogFrame {
	l.attrs = append(l.attrs, &logAttr{key: key, arg: t})
	return l
}

// AttrValue adds a constant under key.
func (l *LogFrame) AttrValue(key string, lit any) *LogFrame {
	l.attrs = append(l.attrs, &logAttr{key: key, lit: lit})
	return l
}

// Resolve implements gen.Frame.
func (l *LogFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	logger, err := vars.FindVariable(loggerType)
	if err != nil {
		return nil, err
	}
	ctx, err := vars.TryFindVariable(contextType)
	if err != nil {
		return nil, err
	}
	l.logger, l.ctx = logger, ctx
	uses := []*gen.Variable{logger}
	if ctx != nil {
		uses = append(uses, ctx)
	}
	for _, a := range l.attrs {
		if a.arg == nil {
			continue
		}
		v, err := resolveArg(vars, a.arg)
		if err != nil {
			return nil, err
		}
		a.v = v
		uses = append(uses, v)
	}
	return uses, nil
}

func (l *LogFrame) method() string {
	switch {
	case l.level < slog.LevelInfo:
		return "Debug"
	case l.level < slog.LevelWarn:
		return "Info"
	case l.level < slog.LevelError:
		return "Warn"
	default:
		return "Error"
	}
}

// Generate implements gen.Frame.
func (l *LogFrame) Generate(_ *gen.GeneratedMethod, g *jen.Group) {
	name := l.method()
	var args []jen.Code
	if l.ctx != nil {
		name += "Context"
		args = append(args, l.ctx.Code())
	}
	args = append(args, jen.Lit(l.msg))
	for _, a := range l.attrs {
		args = append(args, jen.Lit(a.key))
		if a.v != nil {
			args = append(args, a.v.Code())
		} else {
			args = append(args, jen.Lit(a.lit))
		}
	}
	g.Add(l.logger.Code()).Dot(name).Call(args...)
}

func (l *LogFrame) String() string {
	return "Log(" + l.level.String() + " " + l.msg + ")"
}
