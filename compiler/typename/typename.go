// Package typename derives the names generated code uses for Go types,
// values and functions.
//
// Everything here works from reflect data at build time. Nothing in this
// package is called while a generated pipeline serves a request.
package typename

import (
	"fmt"
	"go/token"
	"reflect"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/syssam/forge/task"
)

var (
	errorType  = reflect.TypeFor[error]()
	titleCaser = cases.Title(language.Und, cases.NoLower)
)

// builtinArgNames maps predeclared types to the variable names generated
// code uses for them. Predeclared names are never used as variables because
// they would shadow the type for the rest of the method.
var builtinArgNames = map[reflect.Kind]string{
	reflect.Bool:       "flag",
	reflect.Int:        "num",
	reflect.Int8:       "num",
	reflect.Int16:      "num",
	reflect.Int32:      "num",
	reflect.Int64:      "num",
	reflect.Uint:       "num",
	reflect.Uint8:      "num",
	reflect.Uint16:     "num",
	reflect.Uint32:     "num",
	reflect.Uint64:     "num",
	reflect.Uintptr:    "ptr",
	reflect.Float32:    "num",
	reflect.Float64:    "num",
	reflect.Complex64:  "num",
	reflect.Complex128: "num",
	reflect.String:     "str",
}

// NameInCode returns the spelling of t in generated source, qualified by
// package name (for example "*pipeline.OperationContext" or "map[string]int").
func NameInCode(t reflect.Type) string {
	return name(t, func(t reflect.Type) string { return PackageName(t) })
}

// FullNameInCode returns the spelling of t qualified by import path
// (for example "*github.com/syssam/forge/pipeline.OperationContext").
// It is unambiguous across packages and used for registry keys and errors.
func FullNameInCode(t reflect.Type) string {
	return name(t, func(t reflect.Type) string { return t.PkgPath() })
}

func name(t reflect.Type, qualifier func(reflect.Type) string) string {
	if t == nil {
		return "<nil>"
	}
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}
		return qualifier(t) + "." + t.Name()
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + name(t.Elem(), qualifier)
	case reflect.Slice:
		return "[]" + name(t.Elem(), qualifier)
	case reflect.Array:
		return "[" + strconv.Itoa(t.Len()) + "]" + name(t.Elem(), qualifier)
	case reflect.Map:
		return "map[" + name(t.Key(), qualifier) + "]" + name(t.Elem(), qualifier)
	case reflect.Chan:
		switch t.ChanDir() {
		case reflect.RecvDir:
			return "<-chan " + name(t.Elem(), qualifier)
		case reflect.SendDir:
			return "chan<- " + name(t.Elem(), qualifier)
		default:
			return "chan " + name(t.Elem(), qualifier)
		}
	case reflect.Func:
		return "func" + signature(t, qualifier)
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return "any"
		}
		return t.String()
	case reflect.Struct:
		if t.NumField() == 0 {
			return "struct{}"
		}
		fields := make([]string, t.NumField())
		for i := range fields {
			f := t.Field(i)
			fields[i] = f.Name + " " + name(f.Type, qualifier)
		}
		return "struct{ " + strings.Join(fields, "; ") + " }"
	default:
		return t.String()
	}
}

func signature(t reflect.Type, qualifier func(reflect.Type) string) string {
	in := make([]string, t.NumIn())
	for i := range in {
		if t.IsVariadic() && i == t.NumIn()-1 {
			in[i] = "..." + name(t.In(i).Elem(), qualifier)
			continue
		}
		in[i] = name(t.In(i), qualifier)
	}
	s := "(" + strings.Join(in, ", ") + ")"
	switch t.NumOut() {
	case 0:
		return s
	case 1:
		return s + " " + name(t.Out(0), qualifier)
	}
	out := make([]string, t.NumOut())
	for i := range out {
		out[i] = name(t.Out(i), qualifier)
	}
	return s + " (" + strings.Join(out, ", ") + ")"
}

// PackageName returns the declared package name of a named type. It is
// empty for predeclared and unnamed types.
func PackageName(t reflect.Type) string {
	if t == nil || t.PkgPath() == "" || t.Name() == "" {
		return ""
	}
	s := t.String()
	if i := strings.Index(s, "."); i > 0 {
		return s[:i]
	}
	return GuessPackageName(t.PkgPath())
}

// GuessPackageName derives a package name from an import path the way the
// go tool conventions usually work out: the last element, without a major
// version suffix, a ".vN" suffix or a "go-" prefix.
func GuessPackageName(path string) string {
	elems := strings.Split(strings.TrimSuffix(path, "/"), "/")
	last := elems[len(elems)-1]
	if len(elems) > 1 && isMajorVersion(last) {
		last = elems[len(elems)-2]
	}
	if i := strings.Index(last, ".v"); i > 0 {
		last = last[:i]
	}
	last = strings.TrimPrefix(last, "go-")
	last = strings.TrimSuffix(last, "-go")
	var b strings.Builder
	for _, r := range last {
		switch {
		case r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "pkg"
	}
	return strings.ToLower(b.String())
}

func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}

// DefaultArgName returns the variable name generated code uses for a value of
// type t when nothing more specific was asked for.
func DefaultArgName(t reflect.Type) string {
	if t == nil {
		return "value"
	}
	switch {
	case t == errorType:
		return "err"
	case t.Kind() == reflect.Interface && t.Name() == "Context" && t.PkgPath() == "context":
		return "ctx"
	case t.Kind() == reflect.Interface && t.Name() == "" && t.NumMethod() == 0:
		return "value"
	}
	if t.Name() != "" {
		if t.PkgPath() == "" {
			if n, ok := builtinArgNames[t.Kind()]; ok {
				return n
			}
		}
		return SafeIdent(inflect.CamelizeDownFirst(strings.Split(t.Name(), "[")[0]))
	}
	switch t.Kind() {
	case reflect.Pointer:
		return DefaultArgName(t.Elem())
	case reflect.Slice, reflect.Array:
		return SafeIdent(inflect.Pluralize(DefaultArgName(t.Elem())))
	case reflect.Map:
		return DefaultArgName(t.Elem()) + "ByKey"
	case reflect.Chan:
		return DefaultArgName(t.Elem()) + "Ch"
	case reflect.Func:
		return "fn"
	}
	return "value"
}

// ResultName returns the name for the value returned by a call to method.
// Predeclared results are named after the method, everything else after its
// type.
func ResultName(method string, t reflect.Type) string {
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if method != "" && base.PkgPath() == "" && base.Kind() != reflect.Struct {
		return SafeIdent(inflect.CamelizeDownFirst(method) + "Result")
	}
	return DefaultArgName(t)
}

// SafeIdent returns name unchanged unless it collides with a Go keyword, in
// which case it is prefixed with an underscore.
func SafeIdent(name string) string {
	if name == "" {
		return "_"
	}
	if token.Lookup(name).IsKeyword() {
		return "_" + name
	}
	return name
}

// TypeName returns a generated type name for an operation or contract name,
// such as "CreateUserPipeline" for "create_user".
func TypeName(s, suffix string) string {
	s = inflect.Camelize(strings.NewReplacer("-", "_", ".", "_", " ", "_", "/", "_").Replace(s))
	if s == "" {
		return suffix
	}
	s = titleCaser.String(s[:1]) + s[1:]
	if strings.HasSuffix(s, suffix) {
		return s
	}
	return s + suffix
}

// LowerFirst lower-cases the first rune of s. It is used for receiver and
// field names.
func LowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// IsError reports whether t is the predeclared error interface.
func IsError(t reflect.Type) bool { return t == errorType }

// IsContext reports whether t is context.Context.
func IsContext(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Interface && t.PkgPath() == "context" && t.Name() == "Context"
}

// Exported reports whether t and every named type it is built from can be
// referenced from another package.
func Exported(t reflect.Type) bool {
	ok := true
	Walk(t, func(n reflect.Type) {
		if !token.IsExported(strings.Split(n.Name(), "[")[0]) || strings.Contains(n.Name(), "[") {
			ok = false
		}
		if n.PkgPath() == "main" || strings.HasSuffix(n.PkgPath(), "_test") {
			ok = false
		}
	})
	return ok
}

// Walk calls visit for every named, package-level type that t is built from,
// including t itself.
func Walk(t reflect.Type, visit func(reflect.Type)) {
	walk(t, visit, map[reflect.Type]bool{})
}

func walk(t reflect.Type, visit func(reflect.Type), seen map[reflect.Type]bool) {
	if t == nil || seen[t] {
		return
	}
	seen[t] = true
	if t.Name() != "" {
		if t.PkgPath() != "" {
			visit(t)
		}
		return
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Chan:
		walk(t.Elem(), visit, seen)
	case reflect.Map:
		walk(t.Key(), visit, seen)
		walk(t.Elem(), visit, seen)
	case reflect.Func:
		for i := 0; i < t.NumIn(); i++ {
			walk(t.In(i), visit, seen)
		}
		for i := 0; i < t.NumOut(); i++ {
			walk(t.Out(i), visit, seen)
		}
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			walk(t.Field(i).Type, visit, seen)
		}
	}
}

// Describe is used in error messages: it prints FullNameInCode, falling back
// to "%v" for nil.
func Describe(t reflect.Type) string {
	if t == nil {
		return fmt.Sprint(nil)
	}
	return FullNameInCode(t)
}

var taskType = reflect.TypeFor[*task.Task]()

// IsAsync reports whether values of t complete asynchronously, which is the
// case for *task.Task.
func IsAsync(t reflect.Type) bool { return t == taskType }

// Symbol identifies a package-level function.
type Symbol struct {
	PkgPath string
	PkgName string
	Name    string
}

// FuncSymbol returns the package-level function fn refers to. Methods,
// closures and generic instantiations cannot be named from generated code
// and are rejected.
func FuncSymbol(fn any) (Symbol, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return Symbol{}, fmt.Errorf("typename: %T is not a function", fn)
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return Symbol{}, fmt.Errorf("typename: no symbol for %T", fn)
	}
	full := rf.Name()
	slash := strings.LastIndex(full, "/")
	dot := strings.Index(full[slash+1:], ".")
	if dot < 0 {
		return Symbol{}, fmt.Errorf("typename: unexpected symbol %q", full)
	}
	path, fname := full[:slash+1+dot], full[slash+1+dot+1:]
	if strings.ContainsAny(fname, ".()[]") || !token.IsExported(fname) || path == "main" {
		return Symbol{}, fmt.Errorf("typename: %q is not an exported package-level function", full)
	}
	return Symbol{PkgPath: path, PkgName: GuessPackageName(path), Name: fname}, nil
}
