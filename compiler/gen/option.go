package gen

import (
	"errors"
	"go/token"
	"log/slog"
)

const (
	// DefaultPackageName is the package generated files declare unless a
	// rule or the compile strategy says otherwise.
	DefaultPackageName = "pipelines"
	// DefaultAssemblyName names the assembly in logs and artifacts.
	DefaultAssemblyName = "forge"
	// DefaultHeader is the first line of every generated file.
	DefaultHeader = "Code generated by forge. DO NOT EDIT."
)

// GenerationRules holds the settings shared by every type of an assembly.
type GenerationRules struct {
	// PackageName is the package clause of generated files.
	PackageName string
	// AssemblyName identifies the assembly in logs, errors and artifacts.
	AssemblyName string
	// Header is rendered as a comment at the top of each file.
	Header string
	// Sources are consulted by every method after its own sources.
	Sources []VariableSource
	// Logger receives build-pass debug logs.
	Logger *slog.Logger
}

// Option configures generation rules.
type Option func(*GenerationRules) error

// WithPackageName sets the package clause of generated files.
func WithPackageName(name string) Option {
	return func(r *GenerationRules) error {
		if !token.IsIdentifier(name) {
			return NewConfigError("PackageName", name, "package name must be a Go identifier")
		}
		r.PackageName = name
		return nil
	}
}

// WithAssemblyName sets the assembly name.
func WithAssemblyName(name string) Option {
	return func(r *GenerationRules) error {
		if name == "" {
			return NewConfigError("AssemblyName", nil, "assembly name cannot be empty")
		}
		r.AssemblyName = name
		return nil
	}
}

// WithHeader sets the file header comment.
// An empty header disables it.
func WithHeader(header string) Option {
	return func(r *GenerationRules) error {
		r.Header = header
		return nil
	}
}

// WithVariableSources adds assembly-wide variable sources.
func WithVariableSources(sources ...VariableSource) Option {
	return func(r *GenerationRules) error {
		for _, s := range sources {
			if s == nil {
				return NewConfigError("VariableSources", nil, "variable source cannot be nil")
			}
		}
		r.Sources = append(r.Sources, sources...)
		return nil
	}
}

// WithLogger sets the build-pass logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *GenerationRules) error {
		if l == nil {
			return NewConfigError("Logger", nil, "logger cannot be nil")
		}
		r.Logger = l
		return nil
	}
}

// Apply applies options to the rules.
// It returns the first error encountered.
func (r *GenerationRules) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAll applies options and collects all errors.
// Returns a joined error if any options failed.
func (r *GenerationRules) ApplyAll(opts ...Option) error {
	var errs []error
	for _, opt := range opts {
		if err := opt(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRules creates rules with defaults and the given options applied.
func NewRules(opts ...Option) (*GenerationRules, error) {
	r := &GenerationRules{
		PackageName:  DefaultPackageName,
		AssemblyName: DefaultAssemblyName,
		Header:       DefaultHeader,
	}
	if err := r.Apply(opts...); err != nil {
		return nil, err
	}
	return r, nil
}

// MustNewRules is like NewRules but panics if any option fails.
func MustNewRules(opts ...Option) *GenerationRules {
	r, err := NewRules(opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *GenerationRules) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}
