package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/syssam/forge/compiler/gen"
	"github.com/syssam/forge/compiler/typename"
	"github.com/syssam/forge/service"
	"github.com/syssam/forge/task"
)

// binding ties an operation to its compiled pipeline.
type binding struct {
	op    *Operation
	typ   *gen.GeneratedType
	async bool
	run   func(ctx context.Context, oc *OperationContext) (any, error)
}

func (b *binding) activate() error {
	if b.async {
		fn, err := gen.Instance[func(context.Context, *OperationContext) *task.Task](b.typ)
		if err != nil {
			return err
		}
		b.run = func(ctx context.Context, oc *OperationContext) (any, error) {
			return fn(ctx, oc).Await(ctx)
		}
		return nil
	}
	fn, err := gen.Instance[func(context.Context, *OperationContext) (any, error)](b.typ)
	if err != nil {
		return err
	}
	b.run = fn
	return nil
}

// Executor runs compiled operations. It is safe for concurrent use.
type Executor struct {
	name     string
	model    *DataModel
	services *service.Container
	logger   *slog.Logger
	metrics  *Metrics
	bindings map[string]*binding
}

// ApplicationName returns the name the executor was built with.
func (e *Executor) ApplicationName() string { return e.name }

// Operations returns the operations in registration order.
func (e *Executor) Operations() []*Operation { return e.model.Operations() }

// Operation returns the operation named name.
func (e *Executor) Operation(name string) (*Operation, bool) { return e.model.Find(name) }

// Links returns a generator for the URLs of the executor's operations.
func (e *Executor) Links(baseURL string) *LinkGenerator { return NewLinkGenerator(e.model, baseURL) }

// Services returns the container.
func (e *Executor) Services() *service.Container { return e.services }

// Source returns the generated source of the operation named name.
func (e *Executor) Source(name string) (string, bool) {
	b, ok := e.bindings[name]
	if !ok {
		return "", false
	}
	return b.typ.SourceCode(), true
}

// Execute runs the operation named name with input, whose type must be
// the operation's input type.
func (e *Executor) Execute(ctx context.Context, name string, input any) (any, error) {
	b, ok := e.bindings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	if input == nil || reflect.TypeOf(input) != b.op.Input {
		return nil, fmt.Errorf("%w: %s expects %s, got %T", ErrInvalidInput, name, typename.NameInCode(b.op.Input), input)
	}
	return e.run(ctx, b, input)
}

// ExecuteInput runs the operation whose input type is the type of input.
func (e *Executor) ExecuteInput(ctx context.Context, input any) (any, error) {
	op, ok := e.model.FindInput(reflect.TypeOf(input))
	if !ok {
		return nil, fmt.Errorf("%w: no operation for input %T", ErrUnknownOperation, input)
	}
	return e.run(ctx, e.bindings[op.Name], input)
}

func (e *Executor) run(ctx context.Context, b *binding, input any) (out any, err error) {
	oc := NewOperationContext(ctx, b.op, input, e.services, e.logger)
	start := time.Now()
	defer func() {
		d := time.Since(start)
		e.metrics.observeOperation(b.op.Name, err, d)
		if err == nil {
			oc.Logger.DebugContext(ctx, "operation completed", "duration", d)
			return
		}
		level := slog.LevelDebug
		if Outcome(err) == OutcomePanic {
			level = slog.LevelError
		}
		oc.Logger.Log(ctx, level, "operation failed", "outcome", Outcome(err), "error", err, "duration", d)
	}()
	if b.async {
		return b.run(ctx, oc)
	}
	return invoke(ctx, b, oc)
}

// invoke runs a synchronous pipeline, turning a panic into a
// *task.PanicError like asynchronous pipelines do.
func invoke(ctx context.Context, b *binding, oc *OperationContext) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &task.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return b.run(ctx, oc)
}
