package gen

import (
	"reflect"
	"sort"

	"github.com/dave/jennifer/jen"

	"github.com/syssam/forge/compiler/typename"
)

// Reference is a package the generated source depends on, together with the
// symbols it uses. In-memory strategies hand the symbols to their runtime;
// file-based strategies only need the path.
type Reference struct {
	PkgPath string
	PkgName string
	// Alias is the identifier the generated files use for the package. It
	// differs from PkgName only when that would collide with another import
	// or a generated identifier.
	Alias string
	// Symbols maps exported names to values: a typed nil pointer for types
	// and the function value for functions.
	Symbols map[string]reflect.Value

	guessed bool
}

// references collects packages while frames render.
type references struct {
	pkgs map[string]*Reference
}

func newReferences() *references {
	return &references{pkgs: make(map[string]*Reference)}
}

func (r *references) pkg(path, name string, guessed bool) *Reference {
	ref, ok := r.pkgs[path]
	if !ok {
		ref = &Reference{PkgPath: path, PkgName: name, Symbols: make(map[string]reflect.Value), guessed: guessed}
		r.pkgs[path] = ref
		return ref
	}
	if ref.guessed && !guessed {
		ref.PkgName, ref.guessed = name, false
	}
	return ref
}

func (r *references) addType(t reflect.Type) {
	ref := r.pkg(t.PkgPath(), typename.PackageName(t), false)
	ref.Symbols[t.Name()] = reflect.Zero(reflect.PointerTo(t))
}

func (r *references) funcCode(fn any) (*jen.Statement, error) {
	sym, err := typename.FuncSymbol(fn)
	if err != nil {
		return nil, err
	}
	ref := r.pkg(sym.PkgPath, sym.PkgName, true)
	ref.Symbols[sym.Name] = reflect.ValueOf(fn)
	return jen.Qual(sym.PkgPath, sym.Name), nil
}

func (r *references) typeCode(t reflect.Type) *jen.Statement {
	if t == nil {
		return jen.Any()
	}
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return jen.Id(t.Name())
		}
		r.addType(t)
		return jen.Qual(t.PkgPath(), t.Name())
	}
	switch t.Kind() {
	case reflect.Pointer:
		return jen.Op("*").Add(r.typeCode(t.Elem()))
	case reflect.Slice:
		return jen.Index().Add(r.typeCode(t.Elem()))
	case reflect.Array:
		return jen.Index(jen.Lit(t.Len())).Add(r.typeCode(t.Elem()))
	case reflect.Map:
		return jen.Map(r.typeCode(t.Key())).Add(r.typeCode(t.Elem()))
	case reflect.Chan:
		switch t.ChanDir() {
		case reflect.RecvDir:
			return jen.Op("<-").Chan().Add(r.typeCode(t.Elem()))
		case reflect.SendDir:
			return jen.Chan().Op("<-").Add(r.typeCode(t.Elem()))
		default:
			return jen.Chan().Add(r.typeCode(t.Elem()))
		}
	case reflect.Func:
		return jen.Func().Add(r.signature(t))
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return jen.Any()
		}
		return jen.InterfaceFunc(func(g *jen.Group) {
			for i := 0; i < t.NumMethod(); i++ {
				m := t.Method(i)
				g.Id(m.Name).Add(r.signature(m.Type))
			}
		})
	case reflect.Struct:
		return jen.StructFunc(func(g *jen.Group) {
			for i := 0; i < t.NumField(); i++ {
				f := t.Field(i)
				g.Id(f.Name).Add(r.typeCode(f.Type))
			}
		})
	default:
		return jen.Id(t.String())
	}
}

// signature renders the parameter and result lists of a func type.
func (r *references) signature(t reflect.Type) *jen.Statement {
	params := jen.ParamsFunc(func(g *jen.Group) {
		for i := 0; i < t.NumIn(); i++ {
			if t.IsVariadic() && i == t.NumIn()-1 {
				g.Op("...").Add(r.typeCode(t.In(i).Elem()))
				continue
			}
			g.Add(r.typeCode(t.In(i)))
		}
	})
	switch t.NumOut() {
	case 0:
		return params
	case 1:
		return params.Add(r.typeCode(t.Out(0)))
	}
	return params.ParamsFunc(func(g *jen.Group) {
		for i := 0; i < t.NumOut(); i++ {
			g.Add(r.typeCode(t.Out(i)))
		}
	})
}

// merge adds every package and symbol of o to r.
func (r *references) merge(o *references) {
	for _, ref := range o.pkgs {
		dst := r.pkg(ref.PkgPath, ref.PkgName, ref.guessed)
		for name, v := range ref.Symbols {
			dst.Symbols[name] = v
		}
	}
}

// sorted returns the references ordered by import path.
func (r *references) sorted() []*Reference {
	out := make([]*Reference, 0, len(r.pkgs))
	for _, ref := range r.pkgs {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PkgPath < out[j].PkgPath })
	return out
}
