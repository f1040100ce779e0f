package gen

import (
	"reflect"
)

// VariableSource provides variables that no frame in the method creates,
// such as services looked up per call or members of a method argument.
type VariableSource interface {
	// Find returns a variable of type t, or false when the source does not
	// provide t. A returned variable may carry a creator frame, set with
	// Variable.SetCreator; that frame is placed at the top of the method,
	// ahead of its first consumer.
	Find(vars *MethodVariables, t reflect.Type) (*Variable, bool, error)
}

// VariableSourceFunc adapts a function to a VariableSource.
type VariableSourceFunc func(vars *MethodVariables, t reflect.Type) (*Variable, bool, error)

// Find implements VariableSource.
func (f VariableSourceFunc) Find(vars *MethodVariables, t reflect.Type) (*Variable, bool, error) {
	return f(vars, t)
}

// MethodVariables is the resolution context handed to Frame.Resolve. It sees
// the method arguments, injected fields, variables created by frames in the
// enclosing blocks and whatever the registered sources provide.
type MethodVariables struct {
	a     *arranger
	scope *scope
	frame Frame
}

// Method returns the method being arranged.
func (vs *MethodVariables) Method() *GeneratedMethod { return vs.a.m }

// Type returns the type that owns the method. It is nil for a method that
// was not created through a GeneratedType.
func (vs *MethodVariables) Type() *GeneratedType { return vs.a.m.typ }

// FindVariable returns the single variable of type t in scope. It fails when
// there is none or more than one.
func (vs *MethodVariables) FindVariable(t reflect.Type) (*Variable, error) {
	v, err := vs.TryFindVariable(t)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, vs.missing(t, "")
	}
	return v, nil
}

// FindVariableByName returns the variable of type t whose name is name.
// Sources are not consulted for named lookups.
func (vs *MethodVariables) FindVariableByName(t reflect.Type, name string) (*Variable, error) {
	candidates := vs.candidates(t, name)
	switch len(candidates) {
	case 0:
		return nil, vs.missing(t, name)
	case 1:
		return candidates[0], nil
	default:
		return nil, &AmbiguityError{Method: vs.a.m.FullName(), Type: t, Candidates: candidates}
	}
}

// TryFindVariable is like FindVariable but returns nil, nil when nothing
// provides t. Ambiguity is still an error.
func (vs *MethodVariables) TryFindVariable(t reflect.Type) (*Variable, error) {
	candidates := vs.candidates(t, "")
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
	default:
		return nil, &AmbiguityError{Method: vs.a.m.FullName(), Type: t, Candidates: candidates}
	}
	if vs.a.finding[t] {
		return nil, nil
	}
	vs.a.finding[t] = true
	defer delete(vs.a.finding, t)
	for _, src := range vs.a.sources {
		v, ok, err := src.Find(vs, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := vs.a.adopt(v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, nil
}

// Arguments returns the method arguments.
func (vs *MethodVariables) Arguments() []*Variable { return vs.a.m.Args }

func (vs *MethodVariables) candidates(t reflect.Type, name string) []*Variable {
	var out []*Variable
	for s := vs.scope; s != nil; s = s.parent {
		for _, v := range s.known {
			if v.Type != t || (name != "" && v.Name != name) {
				continue
			}
			if vs.frame != nil && v.creator == vs.frame {
				continue
			}
			out = append(out, v)
		}
	}
	return out
}

func (vs *MethodVariables) missing(t reflect.Type, name string) error {
	return &ResolutionError{
		Method: vs.a.m.FullName(),
		Frame:  FrameName(vs.frame),
		Type:   t,
		Name:   name,
	}
}
