package gen

import "context"

// SourceFile is one rendered file of an assembly.
type SourceFile struct {
	Name     string // file name, e.g. "create_user_pipeline.go"
	TypeName string // the generated type the file declares
	Content  []byte
}

// CompileRequest is everything a strategy needs to compile an assembly.
type CompileRequest struct {
	Assembly    string
	PackageName string
	Files       []SourceFile
	// References lists the packages used by the files, sorted by path.
	References []Reference
	Rules      *GenerationRules
}

// Module is a compiled assembly.
type Module interface {
	// Lookup returns the package-level symbol name, typically a factory
	// function.
	Lookup(name string) (any, error)
}

// CompileStrategy turns rendered source into a loaded module. A failed
// compile returns a *CompileError with diagnostics.
type CompileStrategy interface {
	Name() string
	Compile(ctx context.Context, req *CompileRequest) (Module, error)
}

// PackageNamer is implemented by strategies that require a specific package
// clause, e.g. "main" for Go plugins.
type PackageNamer interface {
	PackageName() string
}

// StrategyFunc adapts a function to CompileStrategy.
type StrategyFunc func(ctx context.Context, req *CompileRequest) (Module, error)

// Name implements CompileStrategy.
func (StrategyFunc) Name() string { return "func" }

// Compile implements CompileStrategy.
func (f StrategyFunc) Compile(ctx context.Context, req *CompileRequest) (Module, error) {
	return f(ctx, req)
}

// Symbols is a Module backed by a map, used by strategies that build their
// symbol table up front and by tests.
type Symbols map[string]any

// Lookup implements Module.
func (s Symbols) Lookup(name string) (any, error) {
	v, ok := s[name]
	if !ok {
		return nil, NewGenerationError("bind", "", "symbol "+name+" not found", nil)
	}
	return v, nil
}
