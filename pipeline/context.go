package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/syssam/forge/service"
)

// OperationContext is the per-request state handed to generated code and
// handlers.
type OperationContext struct {
	// Context is the request context.
	Context context.Context
	// ID identifies the request in logs.
	ID uuid.UUID
	// Operation is the operation being executed.
	Operation *Operation
	// Input is the value the operation is executed with. Its dynamic type
	// is always Operation.Input.
	Input any
	// Services is the container transient services are looked up in.
	Services *service.Container
	// Logger carries the operation name and request ID.
	Logger *slog.Logger
	// Items is scratch space shared by middleware and handlers of one
	// request.
	Items map[string]any
}

// NewOperationContext returns the context for one execution of op.
func NewOperationContext(ctx context.Context, op *Operation, input any, services *service.Container, logger *slog.Logger) *OperationContext {
	id := uuid.New()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OperationContext{
		Context:   ctx,
		ID:        id,
		Operation: op,
		Input:     input,
		Services:  services,
		Logger:    logger.With("operation", op.Name, "request_id", id.String()),
		Items:     make(map[string]any),
	}
}
