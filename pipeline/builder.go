package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/syssam/forge/compiler/compile"
	"github.com/syssam/forge/compiler/gen"
	"github.com/syssam/forge/service"
)

// Builder collects operations, handlers and middleware and builds an
// Executor. Errors from the fluent calls are collected and reported by
// Build.
type Builder struct {
	opts       []Option
	model      *DataModel
	handlers   map[string]any
	middleware []Middleware
	services   *service.Container
	errs       []error
}

// NewBuilder returns a builder with opts applied at Build time.
func NewBuilder(opts ...Option) *Builder {
	return &Builder{
		opts:     opts,
		model:    NewDataModel(),
		handlers: make(map[string]any),
		services: service.New(),
	}
}

// SetApplicationName names the application and its generated assembly.
func (b *Builder) SetApplicationName(name string) *Builder {
	b.opts = append(b.opts, WithApplicationName(name))
	return b
}

// WithOperation registers operations.
func (b *Builder) WithOperation(ops ...*Operation) *Builder {
	for _, op := range ops {
		if err := b.model.Register(op); err != nil {
			b.errs = append(b.errs, err)
		}
	}
	return b
}

// WithHandler sets the handler of the operation named name. h is either
// the handler value, injected into the generated type, or the
// reflect.Type of a handler registered in the container.
func (b *Builder) WithHandler(name string, h any) *Builder {
	if _, dup := b.handlers[name]; dup {
		b.errs = append(b.errs, gen.NewRegistrationError("handler", name, "operation already has a handler"))
		return b
	}
	b.handlers[name] = h
	return b
}

// Use appends middleware. They run in the order given.
func (b *Builder) Use(mw ...Middleware) *Builder {
	for _, m := range mw {
		if m == nil {
			b.errs = append(b.errs, gen.NewConfigError("Middleware", nil, "middleware cannot be nil"))
			continue
		}
		b.middleware = append(b.middleware, m)
	}
	return b
}

// Compilation sets the compile strategy and generation options.
func (b *Builder) Compilation(s gen.CompileStrategy, opts ...gen.Option) *Builder {
	b.opts = append(b.opts, WithStrategy(s), WithGenerationOptions(opts...))
	return b
}

// Services runs fn against the container handlers and middleware resolve
// services from.
func (b *Builder) Services(fn func(*service.Container) error) *Builder {
	if err := fn(b.services); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Model returns the operation catalog.
func (b *Builder) Model() *DataModel { return b.model }

// Build generates a pipeline per operation, compiles them together and
// returns the executor. Every registration and generation problem is
// reported in one joined error.
func (b *Builder) Build(ctx context.Context) (*Executor, error) {
	cfg, err := NewConfig()
	if err != nil {
		return nil, err
	}
	errs := slices.Clone(b.errs)
	if err := cfg.ApplyAll(b.opts...); err != nil {
		errs = append(errs, err)
	}
	if cfg.ApplicationName == "" {
		errs = append(errs, gen.NewConfigError("ApplicationName", nil, "application name is required"))
	}
	for _, name := range slices.Sorted(maps.Keys(b.handlers)) {
		if _, ok := b.model.Find(name); !ok {
			errs = append(errs, gen.NewRegistrationError("handler", name, "no operation named "+name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	rules, err := gen.NewRules(append([]gen.Option{
		gen.WithAssemblyName(cfg.ApplicationName),
		gen.WithLogger(cfg.Logger),
		gen.WithVariableSources(&InstanceFrameProvider{Services: b.services}),
	}, cfg.GenOptions...)...)
	if err != nil {
		return nil, err
	}
	a := gen.NewAssembly(rules)
	var bindings []*binding
	for _, op := range b.model.Operations() {
		bd, err := b.buildOperation(a, cfg, op)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		bindings = append(bindings, bd)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	strategy := cfg.Strategy
	if strategy == nil {
		in := compile.NewInterpreter()
		in.Logger = cfg.Logger
		strategy = in
	}
	start := time.Now()
	err = a.CompileAll(ctx, strategy)
	cfg.Metrics.observeBuild(strategy.Name(), err, time.Since(start))
	if err != nil {
		return nil, err
	}

	exec := &Executor{
		name:     cfg.ApplicationName,
		model:    b.model,
		services: b.services,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		bindings: make(map[string]*binding, len(bindings)),
	}
	for _, bd := range bindings {
		if err := bd.activate(); err != nil {
			errs = append(errs, err)
			continue
		}
		exec.bindings[bd.op.Name] = bd
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, mw := range b.middleware {
		if eb, ok := mw.(executorBinder); ok {
			eb.bindExecutor(exec)
		}
	}
	cfg.Logger.Info("forge: application built",
		"application", cfg.ApplicationName,
		"operations", len(bindings),
		"strategy", strategy.Name(),
		"duration", time.Since(start),
	)
	return exec, nil
}

// buildOperation declares the generated type of op and lets every
// matching middleware contribute to it.
func (b *Builder) buildOperation(a *gen.GeneratedAssembly, cfg *Config, op *Operation) (*binding, error) {
	h, ok := b.handlers[op.Name]
	if !ok {
		return nil, gen.NewRegistrationError("handler", op.Name, "no handler registered")
	}
	hc, err := newHandlerCall(op, h)
	if err != nil {
		return nil, err
	}
	typ, err := a.AddType(op.TypeName(), hc.contract())
	if err != nil {
		return nil, err
	}
	typ.Method().AddSource(&contextSource{op: op})
	bc := &BuildContext{
		Operation: op,
		Type:      typ,
		Services:  b.services,
		Config:    cfg,
	}
	var errs []error
	for _, mw := range b.middleware {
		if !mw.Matches(op) {
			continue
		}
		if err := mw.Build(bc); err != nil {
			errs = append(errs, fmt.Errorf("pipeline: middleware %s on %s: %w", mw.Name(), op.Name, err))
		}
	}
	if err := hc.build(bc); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	typ.Method().Add(bc.finish()...)
	return &binding{op: op, typ: typ, async: hc.async}, nil
}
