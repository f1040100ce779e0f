package gen

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/forge/compiler/typename"
	"github.com/syssam/forge/task"
)

// ReturnShape is the kind of value a generated method returns.
type ReturnShape int

const (
	// ReturnNone methods return nothing, or only an error.
	ReturnNone ReturnShape = iota
	// ReturnValue methods return a value, optionally followed by an error.
	ReturnValue
	// ReturnTask methods return a *task.Task.
	ReturnTask
)

func (s ReturnShape) String() string {
	switch s {
	case ReturnValue:
		return "value"
	case ReturnTask:
		return "task"
	default:
		return "none"
	}
}

// failScope decides how Fail renders an error at the current point.
type failScope int

const (
	failPanic       failScope = iota // value or none, no error result
	failReturnError                  // none with an error result
	failReturnZero                   // value with an error result
	failTaskError                    // synchronous task
	failClosure                      // asynchronous task closure
	failDisposal                     // disposal scope closure
)

// GeneratedMethod is the single execution method of a generated type.
type GeneratedMethod struct {
	// Name is the method name, taken from the contract.
	Name string
	// Args are the method parameters.
	Args []*Variable
	// Returns is the value type for ReturnValue methods.
	Returns reflect.Type
	// ReturnsError is set when the last result is an error.
	ReturnsError bool
	// Shape is the kind of result.
	Shape ReturnShape
	// Variadic is set when the last argument is variadic.
	Variadic bool

	typ      *GeneratedType
	frames   []Frame
	sources  []VariableSource
	arranged []Frame
	frozen   int
	async    AsyncState
	used     map[*Variable]bool

	refs     *references
	scopes   []failScope
	depth    int
	returned bool
	errs     []error
}

// NewMethod returns a standalone method. Methods of generated types are
// created by GeneratedAssembly.AddType.
func NewMethod(name string, shape ReturnShape, args ...*Variable) *GeneratedMethod {
	return &GeneratedMethod{Name: name, Shape: shape, Args: args, refs: newReferences()}
}

// FullName returns "Type.Method", or the method name alone.
func (m *GeneratedMethod) FullName() string {
	if m.typ != nil {
		return m.typ.Name + "." + m.Name
	}
	return m.Name
}

// Type returns the owning type.
func (m *GeneratedMethod) Type() *GeneratedType { return m.typ }

// Add appends frames to the wish-list.
func (m *GeneratedMethod) Add(frames ...Frame) *GeneratedMethod {
	m.frames = append(m.frames, frames...)
	return m
}

// AddSource registers a variable source consulted by this method only.
func (m *GeneratedMethod) AddSource(sources ...VariableSource) *GeneratedMethod {
	m.sources = append(m.sources, sources...)
	return m
}

// Frames returns the wish-list in registration order.
func (m *GeneratedMethod) Frames() []Frame { return m.frames }

// Arranged returns the arranged top-level frames. It is nil until Arrange
// succeeds.
func (m *GeneratedMethod) Arranged() []Frame { return m.arranged }

// AsyncState returns the settled asynchrony of the method.
func (m *GeneratedMethod) AsyncState() AsyncState { return m.async }

// IsAsync reports whether the method was arranged as asynchronous.
func (m *GeneratedMethod) IsAsync() bool { return m.async == AsyncAsynchronous }

// Arrange orders the wish-list, synthesizing missing producers through the
// registered sources. On error the method keeps no arrangement. A method is
// arranged at most once.
func (m *GeneratedMethod) Arrange() error {
	if m.async != AsyncUnknown {
		if len(m.frames) != m.frozen {
			return NewGenerationError("arrange", m.FullName(), "frames added after arrangement", nil)
		}
		return nil
	}
	a := newArranger(m)
	if err := a.register(a.root, m.frames, true); err != nil {
		return err
	}
	var errs []error
	for _, f := range a.root.frames {
		if err := a.place(f); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.commit()
	m.frozen = len(m.frames)
	return nil
}

// Fail returns the statement that propagates err from the current point.
func (m *GeneratedMethod) Fail(err jen.Code) jen.Code {
	switch m.scope() {
	case failReturnError, failDisposal:
		return jen.Return(err)
	case failReturnZero:
		return jen.Return(jen.Op("*").New(m.TypeCode(m.Returns)), err)
	case failTaskError:
		return jen.Return(m.FuncCode(task.FromError).Call(err))
	case failClosure:
		return jen.Return(jen.Nil(), err)
	default:
		return jen.Panic(err)
	}
}

// FailIfErr renders "if err != nil { <fail> }".
func (m *GeneratedMethod) FailIfErr(g *jen.Group) {
	g.If(jen.Err().Op("!=").Nil()).Block(m.Fail(jen.Err()))
}

// Return returns the statement that completes the method with v. A nil v
// completes without a value.
func (m *GeneratedMethod) Return(v *Variable) jen.Code {
	for _, s := range m.scopes {
		if s == failDisposal {
			m.Errorf("return inside a disposal scope")
			return jen.Null()
		}
	}
	if m.depth == 0 {
		m.returned = true
	}
	var value jen.Code = jen.Nil()
	if v != nil {
		value = v.Code()
	}
	switch m.Shape {
	case ReturnValue:
		if v == nil && !nillable(m.Returns) {
			m.Errorf("method returning %s has no value to return", typename.NameInCode(m.Returns))
			return jen.Null()
		}
		if m.ReturnsError {
			return jen.Return(value, jen.Nil())
		}
		return jen.Return(value)
	case ReturnTask:
		if m.scopes[0] == failClosure {
			return jen.Return(value, jen.Nil())
		}
		if v == nil {
			return jen.Return(m.FuncCode(task.Completed).Call())
		}
		return jen.Return(m.FuncCode(task.FromResult).Call(value))
	default:
		if m.ReturnsError {
			return jen.Return(jen.Nil())
		}
		return jen.Return()
	}
}

// IsUsed reports whether an arranged frame consumes v, directly or through
// a member access. Variables disposed with Close always count as used.
func (m *GeneratedMethod) IsUsed(v *Variable) bool {
	return m.used[v] || v.Disposal == DisposeClose
}

// Assign renders "a, b := rhs" for the variables a frame creates. Variables
// nothing consumes are rendered as "_", and the statement becomes a plain
// assignment when every target is blank.
func (m *GeneratedMethod) Assign(rhs jen.Code, vars ...*Variable) jen.Code {
	lhs := make([]jen.Code, len(vars))
	declare := false
	for i, v := range vars {
		if v != nil && m.IsUsed(v) {
			lhs[i] = v.Code()
			declare = true
			continue
		}
		lhs[i] = jen.Id("_")
	}
	if declare {
		return jen.List(lhs...).Op(":=").Add(rhs)
	}
	return jen.List(lhs...).Op("=").Add(rhs)
}

// Dispose renders a deferred Close for every variable that asks for it.
func (m *GeneratedMethod) Dispose(g *jen.Group, vars ...*Variable) {
	for _, v := range vars {
		if v != nil && v.Disposal == DisposeClose {
			g.Defer().Add(v.Code()).Dot("Close").Call()
		}
	}
}

// RenderFrames renders nested frames one block deeper.
func (m *GeneratedMethod) RenderFrames(g *jen.Group, frames []Frame) {
	m.depth++
	defer func() { m.depth-- }()
	for i, f := range frames {
		m.checkTerminal(frames, i)
		f.Generate(m, g)
	}
}

// RenderInline renders frames into the current block at the current depth,
// for frames that add statements around their children without opening a
// block of their own.
func (m *GeneratedMethod) RenderInline(g *jen.Group, frames []Frame) {
	for i, f := range frames {
		m.checkTerminal(frames, i)
		f.Generate(m, g)
	}
}

// checkTerminal records an error when frames[i] is a Terminal frame
// followed by a sibling.
func (m *GeneratedMethod) checkTerminal(frames []Frame, i int) {
	if _, ok := frames[i].(Terminal); ok && i < len(frames)-1 {
		m.Errorf("%s must be the last frame of its block, found %s after it", FrameName(frames[i]), FrameName(frames[i+1]))
	}
}

// DisposalScope renders fn with Fail producing "return err", for frames
// that wrap their children in a func() error closure.
func (m *GeneratedMethod) DisposalScope(fn func()) {
	m.scopes = append(m.scopes, failDisposal)
	defer func() { m.scopes = m.scopes[:len(m.scopes)-1] }()
	fn()
}

// Errorf records a render-time misuse. Rendering continues so all problems
// are reported together.
func (m *GeneratedMethod) Errorf(format string, args ...any) {
	m.errs = append(m.errs, NewGenerationError("render", m.FullName(), fmt.Sprintf(format, args...), nil))
}

// TypeCode returns the code for t and records the packages it references.
func (m *GeneratedMethod) TypeCode(t reflect.Type) *jen.Statement {
	return m.refs.typeCode(t)
}

// FuncCode returns a qualified reference to the package-level function fn.
func (m *GeneratedMethod) FuncCode(fn any) *jen.Statement {
	code, err := m.refs.funcCode(fn)
	if err != nil {
		m.errs = append(m.errs, NewGenerationError("render", m.FullName(), "unusable function", err))
		return jen.Id("_")
	}
	return code
}

func (m *GeneratedMethod) scope() failScope {
	return m.scopes[len(m.scopes)-1]
}

func (m *GeneratedMethod) baseScope() failScope {
	switch {
	case m.Shape == ReturnTask && m.async == AsyncAsynchronous:
		return failClosure
	case m.Shape == ReturnTask:
		return failTaskError
	case m.Shape == ReturnValue && m.ReturnsError:
		return failReturnZero
	case m.Shape == ReturnNone && m.ReturnsError:
		return failReturnError
	default:
		return failPanic
	}
}

// renderBody renders the arranged frames into g and reports render-time
// misuse.
func (m *GeneratedMethod) renderBody(g *jen.Group) error {
	if m.async == AsyncUnknown {
		return NewGenerationError("render", m.FullName(), "method is not arranged", nil)
	}
	m.errs, m.returned, m.depth = nil, false, 0
	m.scopes = []failScope{m.baseScope()}
	defer func() { m.scopes = nil }()

	body := func(g *jen.Group) {
		for i, f := range m.arranged {
			m.returned = false
			m.checkTerminal(m.arranged, i)
			f.Generate(m, g)
		}
		if m.returned {
			return
		}
		switch m.Shape {
		case ReturnTask:
			g.Add(m.Return(nil))
		case ReturnValue:
			m.Errorf("missing return of %s", typename.NameInCode(m.Returns))
		default:
			if m.ReturnsError {
				g.Add(m.Return(nil))
			}
		}
	}
	if m.scopes[0] == failClosure {
		g.Return(m.FuncCode(task.Run).Call(
			jen.Func().Params().Params(jen.Any(), jen.Error()).BlockFunc(body),
		))
	} else {
		body(g)
	}
	return errors.Join(m.errs...)
}

// nillable reports whether nil is a valid value of t.
func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
