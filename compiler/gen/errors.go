package gen

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/syssam/forge/compiler/typename"
)

// Sentinel errors for common failure cases.
var (
	// ErrResolution indicates a frame dependency that is missing or ambiguous.
	ErrResolution = errors.New("forge: variable resolution failed")
	// ErrCompilation indicates the compile strategy rejected the generated source.
	ErrCompilation = errors.New("forge: compilation failed")
	// ErrRegistration indicates conflicting or incomplete registrations.
	ErrRegistration = errors.New("forge: invalid registration")
	// ErrMissingConfig indicates a configuration error.
	ErrMissingConfig = errors.New("forge: missing configuration")
	// ErrGenerationFailed indicates a code generation failure.
	ErrGenerationFailed = errors.New("forge: code generation failed")
)

// ResolutionError is returned when a frame needs a variable that nothing in
// the method can provide.
type ResolutionError struct {
	Method  string       // owning type and method, e.g. "CreateUserPipeline.Execute"
	Frame   string       // the frame that asked
	Type    reflect.Type // the missing type
	Name    string       // set for named lookups
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("forge: resolution error")
	if e.Method != "" {
		b.WriteString(" in ")
		b.WriteString(e.Method)
	}
	if e.Frame != "" {
		b.WriteString(" for frame ")
		b.WriteString(e.Frame)
	}
	if e.Type != nil {
		b.WriteString(": no variable of type ")
		b.WriteString(typename.FullNameInCode(e.Type))
		if e.Name != "" {
			fmt.Fprintf(&b, " named %q", e.Name)
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches the sentinel error for ResolutionError.
func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolution
}

// NewResolutionError creates a new ResolutionError for a missing type.
func NewResolutionError(method, frame string, t reflect.Type, message string) *ResolutionError {
	return &ResolutionError{
		Method:  method,
		Frame:   frame,
		Type:    t,
		Message: message,
	}
}

// AmbiguityError is returned when an unnamed lookup matches more than one
// variable.
type AmbiguityError struct {
	Method     string
	Type       reflect.Type
	Candidates []*Variable
}

// Error implements the error interface.
func (e *AmbiguityError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Describe()
	}
	method := ""
	if e.Method != "" {
		method = " in " + e.Method
	}
	return fmt.Sprintf("forge: ambiguous variable%s: %d candidates of type %s: %s",
		method, len(e.Candidates), typename.FullNameInCode(e.Type), strings.Join(names, ", "))
}

// Is reports whether the target matches the sentinel error for AmbiguityError.
func (e *AmbiguityError) Is(target error) bool {
	return target == ErrResolution
}

// Diagnostic is a single compiler message pointing into generated source.
type Diagnostic struct {
	File    string
	Line    int
	Column  int
	Message string
}

// String formats the diagnostic as "file:line:col: message".
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.File)
	if d.Line > 0 {
		fmt.Fprintf(&b, ":%d", d.Line)
		if d.Column > 0 {
			fmt.Fprintf(&b, ":%d", d.Column)
		}
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

// CompileError carries every diagnostic a compile strategy reported.
type CompileError struct {
	Assembly    string
	Strategy    string
	Diagnostics []Diagnostic
	Cause       error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString("forge: compile error")
	if e.Assembly != "" {
		b.WriteString(" in assembly ")
		b.WriteString(e.Assembly)
	}
	if e.Strategy != "" {
		b.WriteString(" (")
		b.WriteString(e.Strategy)
		b.WriteString(")")
	}
	for _, d := range e.Diagnostics {
		b.WriteString("\n\t")
		b.WriteString(d.String())
	}
	if e.Cause != nil && len(e.Diagnostics) == 0 {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches the sentinel error for CompileError.
func (e *CompileError) Is(target error) bool {
	return target == ErrCompilation
}

// NewCompileError creates a new CompileError.
func NewCompileError(strategy string, diags []Diagnostic, cause error) *CompileError {
	return &CompileError{
		Strategy:    strategy,
		Diagnostics: diags,
		Cause:       cause,
	}
}

// RegistrationError represents a duplicate or incomplete registration.
type RegistrationError struct {
	Kind    string // "operation", "route", "handler", "type", ...
	Name    string
	Message string
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("forge: registration error for %s %q: %s", e.Kind, e.Name, e.Message)
	}
	return fmt.Sprintf("forge: registration error for %s: %s", e.Kind, e.Message)
}

// Is reports whether the target matches the sentinel error for RegistrationError.
func (e *RegistrationError) Is(target error) bool {
	return target == ErrRegistration
}

// NewRegistrationError creates a new RegistrationError.
func NewRegistrationError(kind, name, message string) *RegistrationError {
	return &RegistrationError{
		Kind:    kind,
		Name:    name,
		Message: message,
	}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Option  string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("forge: config error for %q (value: %v): %s", e.Option, e.Value, e.Message)
	}
	return fmt.Sprintf("forge: config error for %q: %s", e.Option, e.Message)
}

// Is reports whether the target matches the sentinel error for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrMissingConfig
}

// NewConfigError creates a new ConfigError.
func NewConfigError(option string, value any, message string) *ConfigError {
	return &ConfigError{
		Option:  option,
		Value:   value,
		Message: message,
	}
}

// GenerationError represents a code generation error.
type GenerationError struct {
	Phase   string // "arrange", "render", "bind", ...
	Type    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	var b strings.Builder
	b.WriteString("forge: generation error")
	if e.Phase != "" {
		b.WriteString(" in phase ")
		b.WriteString(e.Phase)
	}
	if e.Type != "" {
		b.WriteString(" (type: ")
		b.WriteString(e.Type)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches the sentinel error for GenerationError.
func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationFailed
}

// NewGenerationError creates a new GenerationError.
func NewGenerationError(phase, typeName, message string, cause error) *GenerationError {
	return &GenerationError{
		Phase:   phase,
		Type:    typeName,
		Message: message,
		Cause:   cause,
	}
}

// IsResolutionError reports whether the error is a ResolutionError or an
// AmbiguityError.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrResolution)
}

// IsAmbiguityError reports whether the error is an AmbiguityError.
func IsAmbiguityError(err error) bool {
	var ambErr *AmbiguityError
	return errors.As(err, &ambErr)
}

// IsCompileError reports whether the error is a CompileError.
func IsCompileError(err error) bool {
	var compileErr *CompileError
	return errors.As(err, &compileErr)
}

// IsRegistrationError reports whether the error is a RegistrationError.
func IsRegistrationError(err error) bool {
	var regErr *RegistrationError
	return errors.As(err, &regErr)
}

// IsConfigError reports whether the error is a ConfigError.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// IsGenerationError reports whether the error is a GenerationError.
func IsGenerationError(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr)
}
