package gen

import (
	"fmt"
	"go/token"
	"reflect"
	"strconv"
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"

	"github.com/syssam/forge/compiler/typename"
)

// InjectedField is a constructor parameter of a generated type. Its value
// is resolved once, when the type is instantiated.
type InjectedField struct {
	Variable *Variable
	Resolve  func() (any, error)
}

// Name returns the field name in generated code.
func (f *InjectedField) Name() string { return f.Variable.member }

// GeneratedType is a generated struct implementing a single-method contract.
type GeneratedType struct {
	// Name is the Go type name.
	Name string
	// Contract is the interface whose only method the type implements.
	Contract reflect.Type

	assembly *GeneratedAssembly
	method   *GeneratedMethod
	receiver *Variable
	fields   []*InjectedField
	refs     *references
	source   string
	factory  reflect.Value
}

type typeOptions struct {
	argNames []string
}

// TypeOption configures AddType.
type TypeOption func(*typeOptions)

// WithArgNames names the method arguments in order. Missing names fall back
// to the default name for the argument type.
func WithArgNames(names ...string) TypeOption {
	return func(o *typeOptions) {
		o.argNames = append(o.argNames, names...)
	}
}

func newType(a *GeneratedAssembly, name string, contract reflect.Type, opts ...TypeOption) (*GeneratedType, error) {
	if !token.IsIdentifier(name) || !token.IsExported(name) {
		return nil, NewConfigError("Type", name, "type name must be an exported Go identifier")
	}
	if contract == nil || contract.Kind() != reflect.Interface {
		return nil, NewConfigError("Contract", typename.Describe(contract), "contract must be an interface type")
	}
	if contract.NumMethod() != 1 {
		return nil, NewConfigError("Contract", typename.Describe(contract),
			fmt.Sprintf("contract must declare exactly one method, found %d", contract.NumMethod()))
	}
	cm := contract.Method(0)
	if !cm.IsExported() {
		return nil, NewConfigError("Contract", typename.Describe(contract), "contract method must be exported")
	}
	if !typename.Exported(cm.Type) {
		return nil, NewConfigError("Contract", typename.Describe(contract), "contract method uses types generated code cannot reference")
	}
	var o typeOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := &GeneratedMethod{Name: cm.Name, Variadic: cm.Type.IsVariadic(), refs: newReferences()}
	if err := m.setShape(cm.Type); err != nil {
		return nil, NewConfigError("Contract", typename.Describe(contract), err.Error())
	}
	taken := make(map[string]bool)
	for i := 0; i < cm.Type.NumIn(); i++ {
		at := cm.Type.In(i)
		argName := typename.DefaultArgName(at)
		if i < len(o.argNames) && o.argNames[i] != "" {
			if !token.IsIdentifier(o.argNames[i]) {
				return nil, NewConfigError("ArgNames", o.argNames[i], "argument name must be a Go identifier")
			}
			argName = o.argNames[i]
		}
		argName = unique(argName, taken)
		m.Args = append(m.Args, Argument(at, argName))
	}

	recv := unique(strings.ToLower(name[:1]), taken)
	t := &GeneratedType{
		Name:     name,
		Contract: contract,
		assembly: a,
		method:   m,
		receiver: &Variable{Name: recv, usage: recv, origin: OriginArgument},
		refs:     m.refs,
	}
	m.typ = t
	return t, nil
}

func (m *GeneratedMethod) setShape(ft reflect.Type) error {
	switch ft.NumOut() {
	case 0:
		m.Shape = ReturnNone
	case 1:
		out := ft.Out(0)
		switch {
		case typename.IsError(out):
			m.Shape, m.ReturnsError = ReturnNone, true
		case typename.IsAsync(out):
			m.Shape = ReturnTask
		default:
			m.Shape, m.Returns = ReturnValue, out
		}
	case 2:
		if !typename.IsError(ft.Out(1)) {
			return fmt.Errorf("second result must be error")
		}
		m.Shape, m.Returns, m.ReturnsError = ReturnValue, ft.Out(0), true
	default:
		return fmt.Errorf("contract method returns %d results", ft.NumOut())
	}
	return nil
}

func unique(name string, taken map[string]bool) string {
	base := name
	for i := 2; taken[name]; i++ {
		name = base + strconv.Itoa(i)
	}
	taken[name] = true
	return name
}

// Method returns the execution method.
func (t *GeneratedType) Method() *GeneratedMethod { return t.method }

// Fields returns the injected fields in declaration order.
func (t *GeneratedType) Fields() []*InjectedField { return t.fields }

// FactoryName returns the name of the generated constructor.
func (t *GeneratedType) FactoryName() string { return "New" + t.Name }

// FileName returns the name of the generated source file.
func (t *GeneratedType) FileName() string { return inflect.Underscore(t.Name) + ".go" }

// SourceCode returns the formatted source of the type. It is empty until the
// assembly has rendered.
func (t *GeneratedType) SourceCode() string { return t.source }

// Compiled reports whether the type has been bound to a compiled factory.
func (t *GeneratedType) Compiled() bool { return t.factory.IsValid() }

// InjectField adds a constructor-injected field of type ft and returns the
// variable frames use to read it. Asking twice for the same type and name
// returns the same variable.
func (t *GeneratedType) InjectField(ft reflect.Type, name string, resolve func() (any, error)) (*Variable, error) {
	if ft == nil || !typename.Exported(ft) {
		return nil, NewConfigError("InjectedField", typename.Describe(ft), "field type cannot be referenced from generated code")
	}
	if name == "" {
		name = typename.DefaultArgName(ft)
	}
	name = typename.SafeIdent(typename.LowerFirst(name))
	taken := map[string]bool{t.receiver.usage: true}
	for _, f := range t.fields {
		if f.Variable.Name == name && f.Variable.Type == ft {
			return f.Variable, nil
		}
		taken[f.Variable.member] = true
	}
	member := unique(name, taken)
	v := t.receiver.Member(member, ft)
	v.Name = name
	v.origin = OriginField
	t.fields = append(t.fields, &InjectedField{Variable: v, Resolve: resolve})
	return v, nil
}

// InjectValue injects value as a field of type ft.
func (t *GeneratedType) InjectValue(ft reflect.Type, name string, value any) (*Variable, error) {
	return t.InjectField(ft, name, func() (any, error) { return value, nil })
}

func (t *GeneratedType) contractMethod() reflect.Type {
	return t.Contract.Method(0).Type
}

// build renders the type into a new jennifer file. References are recorded
// on t.refs as a side effect.
func (t *GeneratedType) build(pkg, header string) (*jen.File, error) {
	t.refs = newReferences()
	t.method.refs = t.refs
	m := t.method
	recv := t.receiver.Usage()

	f := jen.NewFile(pkg)
	if header != "" {
		f.HeaderComment(header)
	}

	f.Commentf("%s implements %s.", t.Name, typename.NameInCode(t.Contract))
	f.Type().Id(t.Name).StructFunc(func(g *jen.Group) {
		for _, fld := range t.fields {
			g.Id(fld.Name()).Add(m.TypeCode(fld.Variable.Type))
		}
	})

	f.Commentf("%s returns the %s method of a new %s.", t.FactoryName(), m.Name, t.Name)
	f.Func().Id(t.FactoryName()).ParamsFunc(func(g *jen.Group) {
		for _, fld := range t.fields {
			g.Id(fld.Name()).Add(m.TypeCode(fld.Variable.Type))
		}
	}).Func().Add(t.refs.signature(t.contractMethod())).Block(
		jen.Id(recv).Op(":=").Op("&").Id(t.Name).ValuesFunc(func(g *jen.Group) {
			for _, fld := range t.fields {
				g.Id(fld.Name()).Op(":").Id(fld.Name())
			}
		}),
		jen.Return(jen.Func().Add(t.params()).Add(t.results()).BlockFunc(func(g *jen.Group) {
			call := jen.Id(recv).Dot(m.Name).CallFunc(func(g *jen.Group) {
				for i, a := range m.Args {
					if m.Variadic && i == len(m.Args)-1 {
						g.Add(a.Code()).Op("...")
						continue
					}
					g.Add(a.Code())
				}
			})
			if t.contractMethod().NumOut() == 0 {
				g.Add(call)
				return
			}
			g.Return(call)
		})),
	)

	var renderErr error
	f.Func().Params(jen.Id(recv).Op("*").Id(t.Name)).Id(m.Name).Add(t.params()).Add(t.results()).BlockFunc(func(g *jen.Group) {
		renderErr = m.renderBody(g)
	})
	return f, renderErr
}

func (t *GeneratedType) params() *jen.Statement {
	m := t.method
	return jen.ParamsFunc(func(g *jen.Group) {
		for i, a := range m.Args {
			if m.Variadic && i == len(m.Args)-1 {
				g.Add(a.Code()).Op("...").Add(m.TypeCode(a.Type.Elem()))
				continue
			}
			g.Add(a.Code()).Add(m.TypeCode(a.Type))
		}
	})
}

func (t *GeneratedType) results() *jen.Statement {
	ft := t.contractMethod()
	switch ft.NumOut() {
	case 0:
		return jen.Null()
	case 1:
		return t.method.TypeCode(ft.Out(0))
	}
	return jen.ParamsFunc(func(g *jen.Group) {
		for i := 0; i < ft.NumOut(); i++ {
			g.Add(t.method.TypeCode(ft.Out(i)))
		}
	})
}

// factoryOf checks that sym, looked up from the module, is the factory of t.
func (t *GeneratedType) factoryOf(sym any) (reflect.Value, error) {
	v := reflect.ValueOf(sym)
	if v.Kind() == reflect.Pointer && v.Elem().Kind() == reflect.Func {
		v = v.Elem()
	}
	if v.Kind() != reflect.Func {
		return reflect.Value{}, NewGenerationError("bind", t.Name, fmt.Sprintf("%s is %T, not a function", t.FactoryName(), sym), nil)
	}
	if v.Type().NumIn() != len(t.fields) || v.Type().NumOut() != 1 {
		return reflect.Value{}, NewGenerationError("bind", t.Name, fmt.Sprintf("%s has signature %s", t.FactoryName(), v.Type()), nil)
	}
	return v, nil
}

// CreateInstance resolves the injected field values and calls the compiled
// factory. The result is the execution function, whose type is the
// contract method signature.
func (t *GeneratedType) CreateInstance() (inst any, err error) {
	if !t.factory.IsValid() {
		return nil, NewGenerationError("activate", t.Name, "type has not been compiled", nil)
	}
	args := make([]reflect.Value, len(t.fields))
	for i, f := range t.fields {
		var v any
		if f.Resolve != nil {
			if v, err = f.Resolve(); err != nil {
				return nil, NewGenerationError("activate", t.Name, fmt.Sprintf("resolve field %s", f.Name()), err)
			}
		}
		if v == nil {
			args[i] = reflect.Zero(f.Variable.Type)
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(f.Variable.Type) {
			return nil, NewConfigError(f.Name(), rv.Type().String(),
				fmt.Sprintf("value is not assignable to %s", typename.NameInCode(f.Variable.Type)))
		}
		args[i] = rv
	}
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, NewGenerationError("activate", t.Name, fmt.Sprintf("factory panicked: %v", r), nil)
		}
	}()
	return t.factory.Call(args)[0].Interface(), nil
}

// Instance creates an instance of t typed as F, which is normally the
// contract method signature, e.g. func(context.Context, *Input) *task.Task.
func Instance[F any](t *GeneratedType) (F, error) {
	var zero F
	inst, err := t.CreateInstance()
	if err != nil {
		return zero, err
	}
	f, ok := inst.(F)
	if !ok {
		return zero, NewGenerationError("activate", t.Name, fmt.Sprintf("instance is %T, not %T", inst, zero), nil)
	}
	return f, nil
}
