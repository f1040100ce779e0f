package gen

import (
	"fmt"
	"reflect"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/forge/compiler/typename"
)

// DisposalMode controls what happens to a variable when the method it lives
// in returns.
type DisposalMode int

const (
	// DisposeNone leaves the value alone.
	DisposeNone DisposalMode = iota
	// DisposeClose defers a Close call right after the value is created.
	DisposeClose
)

// Origin records how a variable enters a method.
type Origin int

const (
	// OriginFrame is a variable created by a frame.
	OriginFrame Origin = iota
	// OriginArgument is a parameter of the generated method.
	OriginArgument
	// OriginField is an injected field of the generated type.
	OriginField
	// OriginMember is a field or method-value access on another variable.
	OriginMember
)

func (o Origin) String() string {
	switch o {
	case OriginArgument:
		return "argument"
	case OriginField:
		return "injected field"
	case OriginMember:
		return "member"
	default:
		return "frame"
	}
}

// Variable is a typed, named handle to a value in generated code.
type Variable struct {
	// Type is the static Go type of the value.
	Type reflect.Type
	// Name is the logical name used by named lookups. It does not change when
	// the usage is suffixed to avoid a collision.
	Name string
	// Disposal is applied by the creating frame.
	Disposal DisposalMode
	// Dependencies are variables that must be in scope for this one to be
	// usable, such as the parent of a member access.
	Dependencies []*Variable

	usage   string
	origin  Origin
	creator Frame
	parent  *Variable
	member  string
}

// NewVariable returns a variable of type t rendered as usage.
func NewVariable(t reflect.Type, usage string) *Variable {
	return &Variable{Type: t, Name: usage, usage: usage}
}

// VariableFor returns a variable of type t with the default name for t.
func VariableFor(t reflect.Type) *Variable {
	return NewVariable(t, typename.DefaultArgName(t))
}

// Argument returns a method argument variable.
func Argument(t reflect.Type, usage string) *Variable {
	v := NewVariable(t, usage)
	v.origin = OriginArgument
	return v
}

// Usage returns the expression generated code uses to refer to the value.
func (v *Variable) Usage() string {
	if v.parent != nil {
		return v.parent.Usage() + "." + v.member
	}
	return v.usage
}

// Code returns the jennifer expression for the variable.
func (v *Variable) Code() *jen.Statement {
	if v.parent != nil {
		return v.parent.Code().Dot(v.member)
	}
	return jen.Id(v.usage)
}

// Creator returns the frame that creates v, or nil for ambient variables.
func (v *Variable) Creator() Frame { return v.creator }

// Origin reports how v enters its method.
func (v *Variable) Origin() Origin { return v.origin }

// Parent returns the variable v is a member of.
func (v *Variable) Parent() *Variable { return v.parent }

// SetCreator records f as the frame that creates v. A creator cannot be
// replaced once set.
func (v *Variable) SetCreator(f Frame) error {
	if v.creator != nil && v.creator != f {
		return NewGenerationError("arrange", "", fmt.Sprintf("variable %s already created by %s", v.Describe(), FrameName(v.creator)), nil)
	}
	if v.origin != OriginFrame {
		return NewGenerationError("arrange", "", fmt.Sprintf("%s %s cannot be created by a frame", v.origin, v.Describe()), nil)
	}
	v.creator = f
	return nil
}

// Member returns a variable for the field or method value name on v.
func (v *Variable) Member(name string, t reflect.Type) *Variable {
	return &Variable{
		Type:         t,
		Name:         name,
		usage:        name,
		origin:       OriginMember,
		parent:       v,
		member:       name,
		Dependencies: []*Variable{v},
	}
}

// Root returns the outermost parent of a member chain.
func (v *Variable) Root() *Variable {
	for v.parent != nil {
		v = v.parent
	}
	return v
}

// Describe returns the usage and type of v for error messages.
func (v *Variable) Describe() string {
	return fmt.Sprintf("%s %s (%s)", v.Usage(), typename.FullNameInCode(v.Type), v.origin)
}

// String implements fmt.Stringer.
func (v *Variable) String() string { return v.Usage() }

func (v *Variable) rename(usage string) { v.usage = usage }
