// Package service is the registry pipelines look services up in. Each
// registration has a lifetime: singletons are created once and may be
// injected into generated types, transients are created on every lookup.
package service

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/syssam/forge/compiler/typename"
)

// ErrNotRegistered is returned when no registration exists for a type.
var ErrNotRegistered = errors.New("service: not registered")

// Lifetime is how long a resolved service lives.
type Lifetime int

const (
	// Singleton services are created once per container.
	Singleton Lifetime = iota
	// Transient services are created on every lookup.
	Transient
)

func (l Lifetime) String() string {
	if l == Transient {
		return "transient"
	}
	return "singleton"
}

// Factory creates a service. It may look up other services in c.
type Factory func(c *Container) (any, error)

// Registration describes one way of obtaining a service type.
type Registration struct {
	Type     reflect.Type
	Lifetime Lifetime

	factory Factory
	once    sync.Once
	value   any
	err     error
}

func (r *Registration) get(c *Container) (any, error) {
	if r.Lifetime == Transient {
		return r.factory(c)
	}
	r.once.Do(func() { r.value, r.err = r.factory(c) })
	return r.value, r.err
}

// Container holds registrations keyed by service type. It is safe for
// concurrent use.
type Container struct {
	mu   sync.RWMutex
	regs map[reflect.Type][]*Registration
	keys map[string]reflect.Type
}

// New returns an empty container.
func New() *Container {
	return &Container{
		regs: make(map[reflect.Type][]*Registration),
		keys: make(map[string]reflect.Type),
	}
}

// Key returns the string generated code uses to look t up.
func Key(t reflect.Type) string { return typename.FullNameInCode(t) }

// Register adds a registration for t.
func (c *Container) Register(t reflect.Type, lt Lifetime, f Factory) error {
	switch {
	case t == nil:
		return errors.New("service: register: nil type")
	case f == nil:
		return fmt.Errorf("service: register %s: nil factory", Key(t))
	case lt != Singleton && lt != Transient:
		return fmt.Errorf("service: register %s: unknown lifetime %d", Key(t), lt)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[t] = append(c.regs[t], &Registration{Type: t, Lifetime: lt, factory: f})
	c.keys[Key(t)] = t
	return nil
}

// RegisterInstance registers v as the singleton for t.
func (c *Container) RegisterInstance(t reflect.Type, v any) error {
	if t != nil && (v == nil || !reflect.TypeOf(v).AssignableTo(t)) {
		return fmt.Errorf("service: register %s: value of type %T is not assignable", Key(t), v)
	}
	return c.Register(t, Singleton, func(*Container) (any, error) { return v, nil })
}

// Registrations returns the registrations for t in registration order.
func (c *Container) Registrations(t reflect.Type) []*Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	regs := c.regs[t]
	out := make([]*Registration, len(regs))
	copy(out, regs)
	return out
}

// Has reports whether t has at least one registration.
func (c *Container) Has(t reflect.Type) bool {
	return len(c.Registrations(t)) > 0
}

// Resolve returns an instance of t. When t is registered more than once,
// the last registration wins.
func (c *Container) Resolve(t reflect.Type) (any, error) {
	regs := c.Registrations(t)
	if len(regs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, Key(t))
	}
	v, err := regs[len(regs)-1].get(c)
	if err != nil {
		return nil, fmt.Errorf("service: create %s: %w", Key(t), err)
	}
	return v, nil
}

// ResolveKey is Resolve for a type named by Key.
func (c *Container) ResolveKey(key string) (any, error) {
	c.mu.RLock()
	t, ok := c.keys[key]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	return c.Resolve(t)
}

// AddSingleton registers v as the singleton for T.
func AddSingleton[T any](c *Container, v T) error {
	return c.Register(reflect.TypeFor[T](), Singleton, func(*Container) (any, error) { return v, nil })
}

// AddSingletonFunc registers a lazily created singleton for T.
func AddSingletonFunc[T any](c *Container, fn func(*Container) (T, error)) error {
	return c.Register(reflect.TypeFor[T](), Singleton, adapt(fn))
}

// AddTransient registers fn to create a T on every lookup.
func AddTransient[T any](c *Container, fn func(*Container) (T, error)) error {
	return c.Register(reflect.TypeFor[T](), Transient, adapt(fn))
}

func adapt[T any](fn func(*Container) (T, error)) Factory {
	if fn == nil {
		return nil
	}
	return func(c *Container) (any, error) { return fn(c) }
}

// Get resolves a T.
func Get[T any](c *Container) (T, error) {
	var zero T
	v, err := c.Resolve(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("service: %s resolved to %T", Key(reflect.TypeFor[T]()), v)
	}
	return out, nil
}
