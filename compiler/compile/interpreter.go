package compile

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"reflect"
	"strconv"
	"testing/fstest"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/syssam/forge/compiler/gen"
)

// Interpreter compiles assemblies in memory with the yaegi interpreter.
// Generated code reaches application packages through the symbols recorded
// while rendering, so no GOPATH on disk or module setup is needed. The files
// of an assembly are served from an in-memory GOPATH and imported as one
// package.
type Interpreter struct {
	// Logger receives compile timings. Nil discards them.
	Logger *slog.Logger
	// Stdlib exposes the standard library symbols to generated code.
	// It is on by default.
	Stdlib bool
}

// NewInterpreter returns an interpreter strategy with the standard library
// available.
func NewInterpreter() *Interpreter {
	return &Interpreter{Stdlib: true}
}

// Name implements gen.CompileStrategy.
func (*Interpreter) Name() string { return "interpreter" }

// Compile implements gen.CompileStrategy.
func (s *Interpreter) Compile(ctx context.Context, req *gen.CompileRequest) (mod gen.Module, err error) {
	start := time.Now()
	i := interp.New(interp.Options{GoPath: sourceRoot, SourcecodeFilesystem: sources(req)})
	if s.Stdlib {
		if err := i.Use(stdlib.Symbols); err != nil {
			return nil, gen.NewCompileError(s.Name(), nil, fmt.Errorf("load stdlib symbols: %w", err))
		}
	}
	if err := i.Use(exports(req.References)); err != nil {
		return nil, gen.NewCompileError(s.Name(), nil, fmt.Errorf("load references: %w", err))
	}

	defer func() {
		if r := recover(); r != nil {
			mod = nil
			err = gen.NewCompileError(s.Name(), []gen.Diagnostic{{Message: fmt.Sprint(r)}}, nil)
		}
	}()
	var diags []gen.Diagnostic
	if _, err := i.EvalWithContext(ctx, "import "+strconv.Quote(importPath(req))); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		diags = parseDiagnostics(err.Error(), "")
		if len(diags) == 0 {
			diags = []gen.Diagnostic{{Message: err.Error()}}
		}
	}
	if len(diags) > 0 {
		return nil, gen.NewCompileError(s.Name(), diags, nil)
	}
	logger(s.Logger).Debug("forge: interpreted assembly",
		"assembly", req.Assembly,
		"files", len(req.Files),
		"duration", time.Since(start),
	)
	return &interpreted{i: i, pkg: req.PackageName}, nil
}

// sourceRoot is the GOPATH of the in-memory source tree.
const sourceRoot = "_forge"

// importPath is the path the assembly package is imported from.
func importPath(req *gen.CompileRequest) string {
	return "forge/" + req.PackageName
}

// sources lays the assembly files out as a single package under sourceRoot.
func sources(req *gen.CompileRequest) fs.FS {
	dir := path.Join(sourceRoot, "src", importPath(req))
	fsys := make(fstest.MapFS, len(req.Files))
	for _, f := range req.Files {
		fsys[path.Join(dir, f.Name)] = &fstest.MapFile{Data: f.Content}
	}
	return fsys
}

// exports converts references into the symbol table yaegi imports from.
// Keys are "<import path>/<package name>".
func exports(refs []gen.Reference) interp.Exports {
	out := make(interp.Exports, len(refs))
	for _, ref := range refs {
		syms := make(map[string]reflect.Value, len(ref.Symbols))
		for name, v := range ref.Symbols {
			syms[name] = v
		}
		out[ref.PkgPath+"/"+ref.PkgName] = syms
	}
	return out
}

type interpreted struct {
	i   *interp.Interpreter
	pkg string
}

// Lookup implements gen.Module.
func (m *interpreted) Lookup(name string) (any, error) {
	v, err := m.i.Eval(m.pkg + "." + name)
	if err != nil {
		return nil, err
	}
	if !v.IsValid() {
		return nil, fmt.Errorf("symbol %s.%s is not a value", m.pkg, name)
	}
	return v.Interface(), nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.New(slog.DiscardHandler)
}
