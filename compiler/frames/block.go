package frames

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/forge/compiler/gen"
)

var loggerType = reflect.TypeFor[*slog.Logger]()

// IfFrame renders its children inside an if block.
type IfFrame struct {
	gen.FrameBase
	format string
	args   []any
	vars   []*gen.Variable
}

// If returns a frame guarding its children with a condition. Each %s verb in
// cond is replaced by the usage of the matching argument.
func If(cond string, args ...any) *IfFrame {
	return &IfFrame{format: cond, args: args}
}

// Then appends frames to the block.
func (f *IfFrame) Then(frames ...gen.Frame) *IfFrame {
	f.Nest(frames...)
	return f
}

// Resolve implements gen.Frame.
func (f *IfFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	f.vars = f.vars[:0]
	for _, arg := range f.args {
		v, err := resolveArg(vars, arg)
		if err != nil {
			return nil, err
		}
		f.vars = append(f.vars, v)
	}
	return append([]*gen.Variable(nil), f.vars...), nil
}

// Generate implements gen.Frame.
func (f *IfFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	usages := make([]any, len(f.vars))
	for i, v := range f.vars {
		usages[i] = v.Usage()
	}
	g.If(jen.Id(fmt.Sprintf(f.format, usages...))).BlockFunc(func(b *jen.Group) {
		m.RenderFrames(b, f.Body())
	})
}

func (f *IfFrame) String() string {
	return "If(" + f.format + ")"
}

// GuardFrame recovers a panic, logs it when a *slog.Logger is in scope and
// panics again. The recover is deferred at function level, so a guard must
// be the last frame of its block; its children are the frames it covers.
type GuardFrame struct {
	gen.FrameBase
	msg    string
	logger *gen.Variable
}

// Guard returns a frame guarding frames. Rendering fails when another frame
// follows it in the same block.
func Guard(frames ...gen.Frame) *GuardFrame {
	g := &GuardFrame{msg: "pipeline panicked"}
	g.Nest(frames...)
	return g
}

// Message sets the log message written when a panic is caught.
func (f *GuardFrame) Message(msg string) *GuardFrame {
	f.msg = msg
	return f
}

// Resolve implements gen.Frame.
func (f *GuardFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	v, err := vars.TryFindVariable(loggerType)
	if err != nil {
		return nil, err
	}
	f.logger = v
	if v == nil {
		return nil, nil
	}
	return []*gen.Variable{v}, nil
}

// Generate implements gen.Frame.
func (f *GuardFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	g.Defer().Func().Params().BlockFunc(func(d *jen.Group) {
		d.If(jen.Id("r").Op(":=").Recover(), jen.Id("r").Op("!=").Nil()).BlockFunc(func(b *jen.Group) {
			if f.logger != nil {
				b.Add(f.logger.Code()).Dot("Error").Call(jen.Lit(f.msg), jen.Lit("panic"), jen.Id("r"))
			}
			b.Panic(jen.Id("r"))
		})
	}).Call()
	m.RenderInline(g, f.Body())
}

// Terminal implements gen.Terminal.
func (*GuardFrame) Terminal() {}

func (f *GuardFrame) String() string {
	return fmt.Sprintf("Guard(%d)", len(f.Children()))
}

// ScopeFrame runs its children in a closure so that values they dispose are
// closed when the children finish rather than when the method returns.
type ScopeFrame struct {
	gen.FrameBase
}

// Scope returns a disposal scope around frames. A return inside the scope
// is a generation error.
func Scope(frames ...gen.Frame) *ScopeFrame {
	s := &ScopeFrame{}
	s.Nest(frames...)
	return s
}

// Resolve implements gen.Frame.
func (s *ScopeFrame) Resolve(*gen.MethodVariables) ([]*gen.Variable, error) {
	return nil, nil
}

// Generate implements gen.Frame.
func (s *ScopeFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	var closure *jen.Statement
	m.DisposalScope(func() {
		closure = jen.Func().Params().Error().BlockFunc(func(b *jen.Group) {
			m.RenderFrames(b, s.Body())
			b.Return(jen.Nil())
		})
	})
	g.If(
		jen.Err().Op(":=").Add(closure).Call(),
		jen.Err().Op("!=").Nil(),
	).Block(m.Fail(jen.Err()))
}

func (s *ScopeFrame) String() string {
	return fmt.Sprintf("Scope(%d)", len(s.Children()))
}
