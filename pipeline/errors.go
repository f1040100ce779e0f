package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/forge/pipeline/authz"
)

// Request execution errors. Test for them with errors.Is.
var (
	// ErrValidation is returned when an input fails its Validate method.
	ErrValidation = errors.New("pipeline: validation failed")
	// ErrForbidden is returned when the authorisation policy denies an
	// operation.
	ErrForbidden = errors.New("pipeline: forbidden")
	// ErrUnknownOperation is returned for an operation name or input type
	// that is not registered.
	ErrUnknownOperation = errors.New("pipeline: unknown operation")
	// ErrInvalidInput is returned when an input does not have the
	// operation's input type.
	ErrInvalidInput = errors.New("pipeline: invalid input")
)

// Validatable is implemented by inputs that check themselves. The
// validation middleware calls Validate before the handler.
type Validatable interface {
	Validate() error
}

// ValidationFailed wraps a Validate error in ErrValidation. Generated code
// calls it.
func ValidationFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// Authorize evaluates policy for the operation in oc. A denial is wrapped in
// ErrForbidden. Generated code calls it.
func Authorize(ctx context.Context, policy authz.Policy, oc *OperationContext) error {
	err := policy.Eval(ctx, &authz.Request{
		Operation: oc.Operation.Name,
		Input:     oc.Input,
		Metadata:  oc.Operation.Metadata,
	})
	if err == nil || errors.Is(err, authz.Allow) || errors.Is(err, authz.Skip) {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrForbidden, err)
}
