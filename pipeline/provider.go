package pipeline

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/dave/jennifer/jen"
	"github.com/google/uuid"

	"github.com/syssam/forge/compiler/gen"
	"github.com/syssam/forge/compiler/typename"
	"github.com/syssam/forge/service"
)

var (
	contextType   = reflect.TypeFor[*OperationContext]()
	loggerType    = reflect.TypeFor[*slog.Logger]()
	containerType = reflect.TypeFor[*service.Container]()
	uuidType      = reflect.TypeFor[uuid.UUID]()
	anyType       = reflect.TypeFor[any]()
)

// InstanceFrameProvider supplies services from the container to generated
// methods. A type with a single singleton registration becomes an injected
// field, resolved once when the pipeline is created. Anything else is looked
// up on every call.
type InstanceFrameProvider struct {
	Services *service.Container
}

// Find implements gen.VariableSource.
func (p *InstanceFrameProvider) Find(vars *gen.MethodVariables, t reflect.Type) (*gen.Variable, bool, error) {
	regs := p.Services.Registrations(t)
	if len(regs) == 0 {
		return nil, false, nil
	}
	if !typename.Exported(t) {
		return nil, false, gen.NewConfigError("Service", typename.Describe(t), "service type cannot be referenced from generated code")
	}
	if typ := vars.Type(); typ != nil && len(regs) == 1 && regs[0].Lifetime == service.Singleton {
		v, err := typ.InjectField(t, "", func() (any, error) { return p.Services.Resolve(t) })
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	}
	return newLookupFrame(t).v, true, nil
}

// contextSource exposes the members of the OperationContext argument and
// the operation input.
type contextSource struct {
	op    *Operation
	input *inputFrame
}

// Find implements gen.VariableSource.
func (s *contextSource) Find(vars *gen.MethodVariables, t reflect.Type) (*gen.Variable, bool, error) {
	var member string
	switch t {
	case loggerType:
		member = "Logger"
	case containerType:
		member = "Services"
	case uuidType:
		member = "ID"
	case s.op.Input:
		if s.input == nil {
			s.input = newInputFrame(t)
		}
		return s.input.v, true, nil
	default:
		return nil, false, nil
	}
	oc, err := vars.FindVariable(contextType)
	if err != nil {
		return nil, false, err
	}
	return oc.Member(member, t), true, nil
}

// inputFrame asserts the operation input to its static type.
type inputFrame struct {
	gen.FrameBase
	v  *gen.Variable
	oc *gen.Variable
}

func newInputFrame(t reflect.Type) *inputFrame {
	f := &inputFrame{v: gen.VariableFor(t)}
	f.Declare(f.v)
	adopt(f, f.v)
	return f
}

// Resolve implements gen.Frame.
func (f *inputFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	oc, err := vars.FindVariable(contextType)
	if err != nil {
		return nil, err
	}
	f.oc = oc
	return []*gen.Variable{oc}, nil
}

// Generate implements gen.Frame.
func (f *inputFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	g.Add(m.Assign(f.oc.Code().Dot("Input").Assert(m.TypeCode(f.v.Type)), f.v))
}

func (f *inputFrame) String() string {
	return "Input(" + typename.NameInCode(f.v.Type) + ")"
}

// lookupFrame resolves a service from the container on every call.
type lookupFrame struct {
	gen.FrameBase
	v        *gen.Variable
	raw      *gen.Variable
	services *gen.Variable
}

func newLookupFrame(t reflect.Type) *lookupFrame {
	v := gen.VariableFor(t)
	f := &lookupFrame{v: v, raw: gen.NewVariable(anyType, v.Name+"Service")}
	f.Declare(f.v, f.raw)
	adopt(f, f.v, f.raw)
	return f
}

// Resolve implements gen.Frame.
func (f *lookupFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	services, err := vars.FindVariable(containerType)
	if err != nil {
		return nil, err
	}
	f.services = services
	return []*gen.Variable{services}, nil
}

// Generate implements gen.Frame.
func (f *lookupFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	g.List(f.raw.Code(), jen.Err()).Op(":=").Add(f.services.Code()).Dot("ResolveKey").Call(jen.Lit(service.Key(f.v.Type)))
	m.FailIfErr(g)
	g.Add(f.v.Code()).Op(":=").Add(f.raw.Code()).Assert(m.TypeCode(f.v.Type))
}

func (f *lookupFrame) String() string {
	return "Lookup(" + typename.NameInCode(f.v.Type) + ")"
}

// adopt marks f as the creator of vars handed out by a source. The
// variables are new, so SetCreator cannot fail.
func adopt(f gen.Frame, vars ...*gen.Variable) {
	for _, v := range vars {
		_ = v.SetCreator(f)
	}
}

// validateFrame calls Validate on the input and fails with ErrValidation.
type validateFrame struct {
	gen.FrameBase
	input reflect.Type
	v     *gen.Variable
}

// Resolve implements gen.Frame.
func (f *validateFrame) Resolve(vars *gen.MethodVariables) ([]*gen.Variable, error) {
	v, err := vars.FindVariable(f.input)
	if err != nil {
		return nil, err
	}
	f.v = v
	return []*gen.Variable{v}, nil
}

// Generate implements gen.Frame.
func (f *validateFrame) Generate(m *gen.GeneratedMethod, g *jen.Group) {
	g.If(jen.Err().Op(":=").Add(f.v.Code()).Dot("Validate").Call(), jen.Err().Op("!=").Nil()).Block(
		m.Fail(m.FuncCode(ValidationFailed).Call(jen.Err())),
	)
}

func (f *validateFrame) String() string {
	return fmt.Sprintf("Validate(%s)", typename.NameInCode(f.input))
}
