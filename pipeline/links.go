package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// ErrLink is returned when a URL cannot be generated for an operation.
var ErrLink = errors.New("pipeline: cannot generate link")

// Link is a hypermedia reference to an operation.
type Link struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// placeholder is one {name} segment of a route. Index and Length cover the
// braces.
type placeholder struct {
	Name   string
	Index  int
	Length int
}

// placeholders returns the {name} and {name:pattern} segments of route in
// order.
func placeholders(route string) []placeholder {
	var out []placeholder
	for i := 0; i < len(route); i++ {
		if route[i] != '{' {
			continue
		}
		end := strings.IndexByte(route[i:], '}')
		if end < 0 {
			break
		}
		name, _, _ := strings.Cut(route[i+1:i+end], ":")
		out = append(out, placeholder{Name: name, Index: i, Length: end + 1})
		i += end
	}
	return out
}

// LinkGenerator builds the URLs of routed operations.
type LinkGenerator struct {
	model *DataModel
	base  string
}

// NewLinkGenerator returns a generator for the operations of model. URLs
// are prefixed with baseURL, which may be empty for relative URLs.
func NewLinkGenerator(model *DataModel, baseURL string) *LinkGenerator {
	return &LinkGenerator{model: model, base: strings.TrimSuffix(baseURL, "/")}
}

// URL returns the URL of the operation executed with input. Route
// placeholders are filled from the fields of input and the remaining
// non-zero fields are appended as query values.
func (g *LinkGenerator) URL(input any) (string, error) {
	op, ok := g.model.FindInput(reflect.TypeOf(input))
	if !ok {
		return "", fmt.Errorf("%w: no operation for input %T", ErrLink, input)
	}
	path, used, err := g.fill(op, input)
	if err != nil {
		return "", err
	}
	s := indirect(reflect.ValueOf(input))
	if s.Kind() != reflect.Struct {
		return path, nil
	}
	q := url.Values{}
	t := s.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || used[i] || s.Field(i).IsZero() {
			continue
		}
		key := fieldKey(sf)
		if key == "-" {
			continue
		}
		q.Set(key, fmt.Sprint(indirect(s.Field(i)).Interface()))
	}
	if len(q) == 0 {
		return path, nil
	}
	return path + "?" + q.Encode(), nil
}

// Fill returns the URL of op with its placeholders filled from the fields
// of v. v need not be op's input type; fields are matched by name or json
// tag, ignoring case.
func (g *LinkGenerator) Fill(op *Operation, v any) (string, error) {
	path, _, err := g.fill(op, v)
	return path, err
}

func (g *LinkGenerator) fill(op *Operation, v any) (string, map[int]bool, error) {
	if !op.Routed() {
		return "", nil, fmt.Errorf("%w: %s is not routed", ErrLink, op.Name)
	}
	phs := placeholders(op.Route)
	if len(phs) == 0 {
		return g.base + op.Route, nil, nil
	}
	s := indirect(reflect.ValueOf(v))
	if s.Kind() != reflect.Struct {
		return "", nil, fmt.Errorf("%w: %s needs route values, got %T", ErrLink, op.Name, v)
	}
	used := make(map[int]bool, len(phs))
	var b strings.Builder
	b.WriteString(g.base)
	at := 0
	for _, ph := range phs {
		b.WriteString(op.Route[at:ph.Index])
		at = ph.Index + ph.Length
		i, ok := fieldIndex(s.Type(), ph.Name)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s has no field for {%s}", ErrLink, s.Type(), ph.Name)
		}
		f := indirect(s.Field(i))
		if !f.IsValid() || f.IsZero() {
			return "", nil, fmt.Errorf("%w: {%s} of %s is empty", ErrLink, ph.Name, op.Name)
		}
		used[i] = true
		b.WriteString(url.PathEscape(fmt.Sprint(f.Interface())))
	}
	b.WriteString(op.Route[at:])
	return b.String(), used, nil
}

// FieldByKey returns the exported field of struct s whose name or json tag
// matches key, ignoring case.
func FieldByKey(s reflect.Value, key string) (reflect.Value, bool) {
	i, ok := fieldIndex(s.Type(), key)
	if !ok {
		return reflect.Value{}, false
	}
	return s.Field(i), true
}

func fieldIndex(t reflect.Type, key string) (int, bool) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if strings.EqualFold(fieldKey(sf), key) || strings.EqualFold(sf.Name, key) {
			return i, true
		}
	}
	return 0, false
}

// fieldKey is the json name of sf, or its Go name when untagged.
func fieldKey(sf reflect.StructField) string {
	if tag, _, _ := strings.Cut(sf.Tag.Get("json"), ","); tag != "" {
		return tag
	}
	return sf.Name
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
