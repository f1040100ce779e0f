package gen

import (
	"fmt"
	"strings"

	"github.com/dave/jennifer/jen"
)

// Frame is a unit of generated logic: a statement or a block of nested
// frames. Concrete frames embed FrameBase.
type Frame interface {
	// Resolve looks up the variables the frame consumes. It is called once,
	// during arrangement, and the frame keeps whatever it needs for Generate.
	Resolve(vars *MethodVariables) ([]*Variable, error)
	// Creates lists the variables the frame declares.
	Creates() []*Variable
	// Uses lists the variables returned by the last successful Resolve.
	Uses() []*Variable
	// IsAsync reports whether the frame, or any frame nested in it, awaits
	// a task.
	IsAsync() bool
	// Children lists nested frames in registration order.
	Children() []Frame
	// Generate renders the frame into g.
	Generate(m *GeneratedMethod, g *jen.Group)

	base() *FrameBase
}

// Terminal is implemented by frames whose rendering reaches to the end of
// the enclosing function, such as a deferred recover. A terminal frame must
// be the last frame of its block.
type Terminal interface {
	Frame
	Terminal()
}

// FrameBase carries the bookkeeping shared by all frames.
type FrameBase struct {
	async    bool
	creates  []*Variable
	uses     []*Variable
	children []Frame
	body     []Frame
}

func (b *FrameBase) base() *FrameBase { return b }

// MarkAsync flags the frame itself as asynchronous.
func (b *FrameBase) MarkAsync() { b.async = true }

// Declare adds variables to the set the frame creates.
func (b *FrameBase) Declare(vars ...*Variable) { b.creates = append(b.creates, vars...) }

// Nest appends child frames.
func (b *FrameBase) Nest(frames ...Frame) { b.children = append(b.children, frames...) }

// Creates implements Frame.
func (b *FrameBase) Creates() []*Variable { return b.creates }

// Uses implements Frame.
func (b *FrameBase) Uses() []*Variable { return b.uses }

// Children implements Frame.
func (b *FrameBase) Children() []Frame { return b.children }

// IsAsync implements Frame.
func (b *FrameBase) IsAsync() bool {
	if b.async {
		return true
	}
	for _, c := range b.children {
		if c.IsAsync() {
			return true
		}
	}
	return false
}

// Body returns the arranged children. Before arrangement it returns the
// children in registration order.
func (b *FrameBase) Body() []Frame {
	if b.body != nil {
		return b.body
	}
	return b.children
}

// FrameName returns a short name for f used in errors and logs.
func FrameName(f Frame) string {
	if f == nil {
		return "<nil>"
	}
	if s, ok := f.(fmt.Stringer); ok {
		return s.String()
	}
	name := fmt.Sprintf("%T", f)
	return strings.TrimPrefix(name, "*")
}
