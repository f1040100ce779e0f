package pipeline

import (
	"fmt"
	"maps"
	"net/http"
	"reflect"
	"strings"

	"github.com/syssam/forge/compiler/gen"
	"github.com/syssam/forge/compiler/typename"
)

// Operation describes one executable operation.
type Operation struct {
	// Name identifies the operation and names its generated type.
	Name string
	// Input is the type of the value the operation is executed with.
	Input reflect.Type
	// Method and Route expose the operation over HTTP. Both are empty for
	// operations that are not routed.
	Method string
	Route  string
	// Anonymous operations skip authorisation.
	Anonymous bool
	// Description is free text shown by tooling.
	Description string
	// Metadata is read by middleware, e.g. the permission an operation
	// requires.
	Metadata map[string]string
}

// NewOperation returns an operation executed with values of type input.
func NewOperation(name string, input reflect.Type) *Operation {
	return &Operation{Name: name, Input: input, Metadata: make(map[string]string)}
}

// OperationFor returns an operation executed with values of type T.
func OperationFor[T any](name string) *Operation {
	return NewOperation(name, reflect.TypeFor[T]())
}

// HTTP routes the operation at method and route, e.g. "POST" and
// "/orders/{id}".
func (o *Operation) HTTP(method, route string) *Operation {
	o.Method, o.Route = strings.ToUpper(method), route
	return o
}

// AllowAnonymous marks the operation as not requiring authorisation.
func (o *Operation) AllowAnonymous() *Operation {
	o.Anonymous = true
	return o
}

// Describe sets the description.
func (o *Operation) Describe(desc string) *Operation {
	o.Description = desc
	return o
}

// Meta sets a metadata entry.
func (o *Operation) Meta(key, value string) *Operation {
	if o.Metadata == nil {
		o.Metadata = make(map[string]string)
	}
	o.Metadata[key] = value
	return o
}

// TypeName returns the name of the operation's generated type.
func (o *Operation) TypeName() string { return typename.TypeName(o.Name, "Pipeline") }

// Routed reports whether the operation has an HTTP route.
func (o *Operation) Routed() bool { return o.Route != "" }

func (o *Operation) String() string {
	if o.Routed() {
		return fmt.Sprintf("%s (%s %s)", o.Name, o.Method, o.Route)
	}
	return o.Name
}

func (o *Operation) clone() *Operation {
	cp := *o
	cp.Metadata = maps.Clone(o.Metadata)
	return &cp
}

func (o *Operation) validate() error {
	switch {
	case o.Name == "":
		return gen.NewRegistrationError("operation", "", "name is required")
	case o.Input == nil:
		return gen.NewRegistrationError("operation", o.Name, "input type is required")
	case !typename.Exported(o.Input):
		return gen.NewRegistrationError("operation", o.Name,
			"input type "+typename.NameInCode(o.Input)+" cannot be referenced from generated code")
	case o.Routed() && o.Method == "":
		return gen.NewRegistrationError("operation", o.Name, "route "+o.Route+" has no HTTP method")
	case o.Route != "" && !strings.HasPrefix(o.Route, "/"):
		return gen.NewRegistrationError("operation", o.Name, "route must start with /")
	}
	switch o.Method {
	case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return gen.NewRegistrationError("operation", o.Name, "unsupported HTTP method "+o.Method)
	}
	return nil
}

// DataModel is the operation catalog. Operations keep their registration
// order.
type DataModel struct {
	ops     []*Operation
	byName  map[string]*Operation
	byInput map[reflect.Type]*Operation
	byRoute map[string]*Operation
}

// NewDataModel returns an empty catalog.
func NewDataModel() *DataModel {
	return &DataModel{
		byName:  make(map[string]*Operation),
		byInput: make(map[reflect.Type]*Operation),
		byRoute: make(map[string]*Operation),
	}
}

// Register adds op. Names, input types and method+route pairs must be
// unique.
func (m *DataModel) Register(op *Operation) error {
	if op == nil {
		return gen.NewRegistrationError("operation", "", "operation is nil")
	}
	if err := op.validate(); err != nil {
		return err
	}
	if _, dup := m.byName[op.Name]; dup {
		return gen.NewRegistrationError("operation", op.Name, "already registered")
	}
	if other, dup := m.byInput[op.Input]; dup {
		return gen.NewRegistrationError("operation", op.Name,
			"input type "+typename.NameInCode(op.Input)+" already used by "+other.Name)
	}
	key := op.Method + " " + op.Route
	if op.Routed() {
		if other, dup := m.byRoute[key]; dup {
			return gen.NewRegistrationError("route", key, "already used by "+other.Name)
		}
	}
	op = op.clone()
	m.ops = append(m.ops, op)
	m.byName[op.Name] = op
	m.byInput[op.Input] = op
	if op.Routed() {
		m.byRoute[key] = op
	}
	return nil
}

// Operations returns the operations in registration order.
func (m *DataModel) Operations() []*Operation {
	out := make([]*Operation, len(m.ops))
	copy(out, m.ops)
	return out
}

// Find returns the operation named name.
func (m *DataModel) Find(name string) (*Operation, bool) {
	op, ok := m.byName[name]
	return op, ok
}

// FindInput returns the operation executed with values of type t.
func (m *DataModel) FindInput(t reflect.Type) (*Operation, bool) {
	op, ok := m.byInput[t]
	return op, ok
}

// Len returns the number of operations.
func (m *DataModel) Len() int { return len(m.ops) }
