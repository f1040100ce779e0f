// Package frames provides the built-in frames contributors compose into
// generated methods.
package frames

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/forge/compiler/gen"
	"github.com/syssam/forge/compiler/typename"
)

var (
	anyType     = reflect.TypeFor[any]()
	contextType = reflect.TypeFor[context.Context]()
)

// resolveArg turns a *gen.Variable or reflect.Type into a variable.
func resolveArg(vars *gen.MethodVariables, arg any) (*gen.Variable, error) {
	switch a := arg.(type) {
	case *gen.Variable:
		return a, nil
	case reflect.Type:
		return vars.FindVariable(a)
	default:
		return nil, gen.NewConfigError("FrameArgument", fmt.Sprintf("%T", arg), "expected *gen.Variable or reflect.Type")
	}
}

// CodeFrame renders one line of code. Each %s verb in the format is
// replaced by the usage of the matching argument.
type CodeFrame struct {
	gen.FrameBase
	format string
	args   []any
	vars   []*gen.Variable
}

// Code returns a frame rendering format with args, which are variables or
// types resolved to variables.
func Code(format string, args ...any) *CodeFrame {
	return &CodeFrame{format: format, args: args}
}

// Creating declares that the line creates v.
func (c *CodeFrame) Creating(v *gen.Variable) *CodeFrame {
	c.Declare(v)
	return c
}

// Async marks the line as awaiting a task.
func (c *CodeFrame) Async() *CodeFrame {
	c.MarkAsync()
	return c
}

// Resolve implements gen.Frame.
func (c *CodeFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	c.vars = c.vars[:0]
	var uses []*gen.Variable
	for _, arg := range c.args {
		v, err := resolveArg(vars, arg)
		if err != nil {
			return nil, err
		}
		c.vars = append(c.vars, v)
		if v.Creator() != gen.Frame(c) {
			uses = append(uses, v)
		}
	}
	return uses, nil
}

// Generate implements gen.Frame.
func (c *CodeFrame) Generate(_ *gen.GeneratedMethod, g *jen.Group) {
	usages := make([]any, len(c.vars))
	for i, v := range c.vars {
		usages[i] = v.Usage()
	}
	g.Id(fmt.Sprintf(c.format, usages...))
}

func (c *CodeFrame) String() string {
	return "Code(" + strings.TrimSpace(c.format) + ")"
}

// ReturnFrame completes the method.
type ReturnFrame struct {
	gen.FrameBase
	arg any
	v   *gen.Variable
}

// Return returns the variable v, or the variable of type t when v is a
// reflect.Type. A nil argument returns without a value.
func Return(v any) *ReturnFrame {
	return &ReturnFrame{arg: v}
}

// Resolve implements gen.Frame.
func (r *ReturnFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	if r.arg == nil {
		return nil, nil
	}
	v, err := resolveArg(vars, r.arg)
	if err != nil {
		return nil, err
	}
	r.v = v
	return []*gen.Variable{v}, nil
}

// Generate implements gen.Frame.
func (r *ReturnFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	g.Add(m.Return(r.v))
}

func (r *ReturnFrame) String() string {
	switch a := r.arg.(type) {
	case nil:
		return "Return()"
	case *gen.Variable:
		return "Return(" + a.Usage() + ")"
	case reflect.Type:
		return "Return(" + typename.NameInCode(a) + ")"
	}
	return "Return"
}

// SequenceFrame groups frames that render one after another in the
// enclosing block.
type SequenceFrame struct {
	gen.FrameBase
}

// Sequence returns a frame rendering frames in order.
func Sequence(frames ...gen.Frame) *SequenceFrame {
	s := &SequenceFrame{}
	s.Nest(frames...)
	return s
}

// Resolve implements gen.Frame.
func (s *SequenceFrame) Resolve(*gen.MethodVariables) ([]*gen.Variable, error) {
	return nil, nil
}

// Generate implements gen.Frame.
func (s *SequenceFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	m.RenderInline(g, s.Body())
}

func (s *SequenceFrame) String() string {
	return fmt.Sprintf("Sequence(%d)", len(s.Children()))
}
