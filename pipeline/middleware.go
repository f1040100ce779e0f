package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/syssam/forge/compiler/frames"
	"github.com/syssam/forge/compiler/gen"
	"github.com/syssam/forge/compiler/typename"
	"github.com/syssam/forge/pipeline/authz"
	"github.com/syssam/forge/service"
	"github.com/syssam/forge/task"
)

type (
	// Handler is the usual shape of an operation handler. Handle methods
	// may also take the operation input, services or the logger directly,
	// and may return a typed result.
	Handler interface {
		Handle(ctx context.Context, oc *OperationContext) (any, error)
	}

	// AsyncHandler handlers make the generated pipeline asynchronous.
	AsyncHandler interface {
		HandleAsync(ctx context.Context, oc *OperationContext) *task.Task
	}

	// Pipeline is the contract of generated synchronous pipelines.
	Pipeline interface {
		Execute(ctx context.Context, oc *OperationContext) (any, error)
	}

	// AsyncPipeline is the contract of generated asynchronous pipelines.
	AsyncPipeline interface {
		Execute(ctx context.Context, oc *OperationContext) *task.Task
	}
)

var (
	validatableType = reflect.TypeFor[Validatable]()
	policyType      = reflect.TypeFor[authz.Policy]()
	metricsType     = reflect.TypeFor[*Metrics]()

	resourceEventsType = reflect.TypeFor[*ResourceEvents]()
)

// Middleware contributes frames to the generated pipeline of every
// operation it matches. Middleware run in registration order, before the
// handler.
type Middleware interface {
	Name() string
	Matches(op *Operation) bool
	Build(bc *BuildContext) error
}

// BuildContext is what a middleware sees of the operation being built.
type BuildContext struct {
	// Operation is the operation being built.
	Operation *Operation
	// Type is the generated type of the operation.
	Type *gen.GeneratedType
	// Services is the application container.
	Services *service.Container
	// Config is the builder configuration.
	Config *Config

	frames   []gen.Frame
	outer    [][]gen.Frame
	wrappers []func(children ...gen.Frame) gen.Frame
	events   *ResourceEvents
}

// Method returns the execution method of the generated type.
func (bc *BuildContext) Method() *gen.GeneratedMethod { return bc.Type.Method() }

// AppendFrames adds frames after those already contributed.
func (bc *BuildContext) AppendFrames(frames ...gen.Frame) {
	bc.frames = append(bc.frames, frames...)
}

// WrapRemaining nests every frame contributed after this call, including
// the handler call, in the frame returned by wrap.
func (bc *BuildContext) WrapRemaining(wrap func(children ...gen.Frame) gen.Frame) {
	bc.outer = append(bc.outer, bc.frames)
	bc.wrappers = append(bc.wrappers, wrap)
	bc.frames = nil
}

// finish folds the wrapped segments into the top-level frame list.
func (bc *BuildContext) finish() []gen.Frame {
	out := bc.frames
	for i := len(bc.wrappers) - 1; i >= 0; i-- {
		out = append(bc.outer[i], bc.wrappers[i](out...))
	}
	bc.frames, bc.outer, bc.wrappers = nil, nil, nil
	return out
}

// MiddlewareFunc adapts a function matching every operation to Middleware.
type MiddlewareFunc func(bc *BuildContext) error

// Name implements Middleware.
func (MiddlewareFunc) Name() string { return "func" }

// Matches implements Middleware.
func (MiddlewareFunc) Matches(*Operation) bool { return true }

// Build implements Middleware.
func (f MiddlewareFunc) Build(bc *BuildContext) error { return f(bc) }

type loggingMiddleware struct {
	level slog.Level
}

// LoggingMiddleware logs the start of every operation on the request
// logger.
func LoggingMiddleware() Middleware {
	return &loggingMiddleware{level: slog.LevelDebug}
}

func (*loggingMiddleware) Name() string          { return "logging" }
func (*loggingMiddleware) Matches(*Operation) bool { return true }

func (l *loggingMiddleware) Build(bc *BuildContext) error {
	bc.AppendFrames(
		frames.Log(l.level, "executing operation").
			AttrValue("operation", bc.Operation.Name).
			AttrOf("request_id", uuidType),
	)
	return nil
}

type metricsMiddleware struct{}

// MetricsMiddleware counts started operations on the configured Metrics.
// Durations and outcomes are recorded by the Executor.
func MetricsMiddleware() Middleware { return metricsMiddleware{} }

func (metricsMiddleware) Name() string          { return "metrics" }
func (metricsMiddleware) Matches(*Operation) bool { return true }

func (metricsMiddleware) Build(bc *BuildContext) error {
	if bc.Config.Metrics == nil {
		return gen.NewConfigError("Metrics", nil, "metrics middleware requires WithMetrics")
	}
	v, err := bc.Type.InjectValue(metricsType, "metrics", bc.Config.Metrics)
	if err != nil {
		return err
	}
	name := strings.ReplaceAll(strconv.Quote(bc.Operation.Name), "%", "%%")
	bc.AppendFrames(frames.Code("%s.OperationStarted("+name+")", v))
	return nil
}

type authorizationMiddleware struct{}

// AuthorizationMiddleware evaluates the authz.Policy registered in the
// container before the handler runs. Anonymous operations are skipped.
func AuthorizationMiddleware() Middleware { return authorizationMiddleware{} }

func (authorizationMiddleware) Name() string { return "authorization" }

func (authorizationMiddleware) Matches(op *Operation) bool { return !op.Anonymous }

func (authorizationMiddleware) Build(bc *BuildContext) error {
	if !bc.Services.Has(policyType) {
		return gen.NewConfigError("Policy", bc.Operation.Name, "authorization requires an authz.Policy service")
	}
	bc.AppendFrames(frames.Func(Authorize))
	return nil
}

type validationMiddleware struct{}

// ValidationMiddleware calls Validate on inputs that implement
// Validatable.
func ValidationMiddleware() Middleware { return validationMiddleware{} }

func (validationMiddleware) Name() string { return "validation" }

func (validationMiddleware) Matches(op *Operation) bool {
	return op.Input.Implements(validatableType)
}

func (validationMiddleware) Build(bc *BuildContext) error {
	bc.AppendFrames(&validateFrame{input: bc.Operation.Input})
	return nil
}

type guardMiddleware struct{}

// GuardMiddleware logs a panic raised by anything after it and panics
// again. The Executor turns the panic into a *task.PanicError.
func GuardMiddleware() Middleware { return guardMiddleware{} }

func (guardMiddleware) Name() string          { return "guard" }
func (guardMiddleware) Matches(*Operation) bool { return true }

func (guardMiddleware) Build(bc *BuildContext) error {
	bc.WrapRemaining(func(children ...gen.Frame) gen.Frame {
		return frames.Guard(children...).Message("operation panicked")
	})
	return nil
}

// handlerCall describes how an operation's handler is reached.
type handlerCall struct {
	typ    reflect.Type
	value  any // nil when the handler is resolved from the container
	method string
	async  bool
}

// newHandlerCall inspects h, a handler value or a reflect.Type of a
// handler registered in the container.
func newHandlerCall(op *Operation, h any) (*handlerCall, error) {
	hc := &handlerCall{}
	if t, ok := h.(reflect.Type); ok {
		hc.typ = t
	} else {
		hc.typ, hc.value = reflect.TypeOf(h), h
	}
	if hc.typ == nil {
		return nil, gen.NewRegistrationError("handler", op.Name, "handler is nil")
	}
	if m, ok := hc.typ.MethodByName("HandleAsync"); ok {
		if m.Type.NumOut() != 1 || !typename.IsAsync(m.Type.Out(0)) {
			return nil, gen.NewRegistrationError("handler", op.Name, "HandleAsync must return *task.Task")
		}
		hc.method, hc.async = m.Name, true
		return hc, nil
	}
	if _, ok := hc.typ.MethodByName("Handle"); ok {
		hc.method = "Handle"
		return hc, nil
	}
	return nil, gen.NewRegistrationError("handler", op.Name,
		fmt.Sprintf("%s has no Handle or HandleAsync method", typename.NameInCode(hc.typ)))
}

// contract returns the interface the generated type implements.
func (hc *handlerCall) contract() reflect.Type {
	if hc.async {
		return reflect.TypeFor[AsyncPipeline]()
	}
	return reflect.TypeFor[Pipeline]()
}

// build appends the handler call and the return.
func (hc *handlerCall) build(bc *BuildContext) error {
	call := frames.Method(hc.typ, hc.method)
	if hc.value != nil {
		v, err := bc.Type.InjectValue(hc.typ, "handler", hc.value)
		if err != nil {
			return err
		}
		call.On(v)
	}
	if r := call.Result(); r != nil {
		bc.AppendFrames(call)
		if bc.events != nil && r.Type == resourceEventType {
			v, err := bc.Type.InjectValue(resourceEventsType, "events", bc.events)
			if err != nil {
				return err
			}
			bc.AppendFrames(frames.Method(resourceEventsType, "Complete").On(v).With(2, r))
		}
		bc.AppendFrames(frames.Return(r))
		return nil
	}
	bc.AppendFrames(call, frames.Return(nil))
	return nil
}
