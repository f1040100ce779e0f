package gen

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strconv"
	"time"

	"github.com/dave/jennifer/jen"
	"golang.org/x/tools/imports"
)

// GeneratedAssembly is a unit of compilation: every generated type of one
// configuration, compiled together.
type GeneratedAssembly struct {
	Rules *GenerationRules

	types  []*GeneratedType
	byName map[string]*GeneratedType
	refs   *references
	module Module
}

// NewAssembly returns an empty assembly. Nil rules mean the defaults.
func NewAssembly(rules *GenerationRules) *GeneratedAssembly {
	if rules == nil {
		rules = MustNewRules()
	}
	return &GeneratedAssembly{
		Rules:  rules,
		byName: make(map[string]*GeneratedType),
		refs:   newReferences(),
	}
}

// AddType declares a generated type implementing contract, which must be an
// interface type with exactly one method.
func (a *GeneratedAssembly) AddType(name string, contract reflect.Type, opts ...TypeOption) (*GeneratedType, error) {
	if _, dup := a.byName[name]; dup {
		return nil, NewRegistrationError("type", name, "already declared in assembly "+a.Rules.AssemblyName)
	}
	t, err := newType(a, name, contract, opts...)
	if err != nil {
		return nil, err
	}
	a.types = append(a.types, t)
	a.byName[name] = t
	return t, nil
}

// Types returns the types in declaration order.
func (a *GeneratedAssembly) Types() []*GeneratedType { return a.types }

// Type returns the type with the given name.
func (a *GeneratedAssembly) Type(name string) (*GeneratedType, bool) {
	t, ok := a.byName[name]
	return t, ok
}

// Module returns the compiled module, or nil before CompileAll succeeds.
func (a *GeneratedAssembly) Module() Module { return a.module }

// Arrange arranges the method of every type. All failures are reported.
func (a *GeneratedAssembly) Arrange() error {
	log := a.Rules.logger()
	var errs []error
	for _, t := range a.types {
		if err := t.method.Arrange(); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Debug("forge: method arranged",
			"type", t.Name,
			"frames", len(t.method.arranged),
			"async", t.method.async.String(),
		)
	}
	return errors.Join(errs...)
}

// Render arranges and renders every type into a formatted file declaring
// package pkg. Import names are assigned once for the whole assembly, after
// all types have rendered.
func (a *GeneratedAssembly) Render(pkg string) ([]SourceFile, error) {
	if err := a.Arrange(); err != nil {
		return nil, err
	}
	a.refs = newReferences()
	files := make([]*jen.File, len(a.types))
	var errs []error
	for i, t := range a.types {
		f, err := t.build(pkg, a.Rules.Header)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files[i] = f
		a.refs.merge(t.refs)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	refs := a.refs.sorted()
	a.assignAliases(refs)
	out := make([]SourceFile, 0, len(a.types))
	for i, t := range a.types {
		f := files[i]
		for _, ref := range refs {
			if ref.guessed || ref.Alias != ref.PkgName {
				f.ImportAlias(ref.PkgPath, ref.Alias)
			} else {
				f.ImportName(ref.PkgPath, ref.Alias)
			}
		}
		var buf bytes.Buffer
		if err := f.Render(&buf); err != nil {
			errs = append(errs, NewGenerationError("render", t.Name, "render file", err))
			continue
		}
		src, err := imports.Process(t.FileName(), buf.Bytes(), &imports.Options{
			FormatOnly: true,
			Comments:   true,
			TabIndent:  true,
			TabWidth:   8,
		})
		if err != nil {
			errs = append(errs, NewGenerationError("format", t.Name, "format "+t.FileName(), err))
			continue
		}
		t.source = string(src)
		out = append(out, SourceFile{Name: t.FileName(), TypeName: t.Name, Content: src})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// assignAliases gives every referenced package one identifier used across
// all files, avoiding generated identifiers and each other.
func (a *GeneratedAssembly) assignAliases(refs []*Reference) {
	taken := make(map[string]bool)
	for _, t := range a.types {
		taken[t.Name] = true
		taken[t.FactoryName()] = true
		taken[t.receiver.Usage()] = true
		for _, f := range t.fields {
			taken[f.Name()] = true
		}
		for _, name := range t.method.identifiers() {
			taken[name] = true
		}
	}
	for _, ref := range refs {
		name := ref.PkgName
		if name == "" {
			name = "pkg"
		}
		alias := name
		for i := 2; taken[alias] || jen.IsReservedWord(alias); i++ {
			alias = name + strconv.Itoa(i)
		}
		taken[alias] = true
		ref.Alias = alias
	}
}

// identifiers lists the local names declared by the method.
func (m *GeneratedMethod) identifiers() []string {
	names := []string{"err", "r", "ok"}
	for _, v := range m.Args {
		names = append(names, v.Usage())
	}
	var walk func(frames []Frame)
	walk = func(frames []Frame) {
		for _, f := range frames {
			for _, v := range f.Creates() {
				if v.parent == nil {
					names = append(names, v.Usage())
				}
			}
			walk(f.base().Body())
		}
	}
	walk(m.arranged)
	return names
}

// References returns the packages referenced by the last render, sorted by
// import path.
func (a *GeneratedAssembly) References() []Reference {
	refs := a.refs.sorted()
	out := make([]Reference, len(refs))
	for i, r := range refs {
		out[i] = *r
	}
	return out
}

// CompileAll arranges, renders and compiles every type with strategy, then
// binds each type to its compiled factory.
func (a *GeneratedAssembly) CompileAll(ctx context.Context, strategy CompileStrategy) error {
	if strategy == nil {
		return NewConfigError("Strategy", nil, "compile strategy is required")
	}
	log := a.Rules.logger()
	start := time.Now()

	pkg := a.Rules.PackageName
	if pn, ok := strategy.(PackageNamer); ok {
		pkg = pn.PackageName()
	}
	files, err := a.Render(pkg)
	if err != nil {
		return err
	}
	req := &CompileRequest{
		Assembly:    a.Rules.AssemblyName,
		PackageName: pkg,
		Files:       files,
		References:  a.References(),
		Rules:       a.Rules,
	}
	log.Debug("forge: compiling assembly",
		"assembly", req.Assembly,
		"strategy", strategy.Name(),
		"files", len(files),
		"references", len(req.References),
	)
	mod, err := strategy.Compile(ctx, req)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) && ce.Assembly == "" {
			ce.Assembly = req.Assembly
		}
		return err
	}

	// Types are bound only once every factory checks out.
	var errs []error
	factories := make([]reflect.Value, len(a.types))
	for i, t := range a.types {
		sym, err := mod.Lookup(t.FactoryName())
		if err != nil {
			errs = append(errs, NewGenerationError("bind", t.Name, "factory "+t.FactoryName()+" not found", err))
			continue
		}
		if factories[i], err = t.factoryOf(sym); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for i, t := range a.types {
		t.factory = factories[i]
	}
	a.module = mod
	log.Debug("forge: assembly compiled",
		"assembly", req.Assembly,
		"strategy", strategy.Name(),
		"types", len(a.types),
		"duration", time.Since(start),
	)
	return nil
}
