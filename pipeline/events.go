package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"
)

// ChangeType says what happened to the resource of a ResourceEvent.
type ChangeType string

const (
	Created ChangeType = "created"
	Updated ChangeType = "updated"
	Deleted ChangeType = "deleted"
)

var resourceEventType = reflect.TypeFor[*ResourceEvent]()

// ResourceEvent reports that a command created, updated or deleted a
// resource. Handlers return one with SelfQuery set to the input of the
// operation that reads the resource; ResourceEventMiddleware then fills
// Href and Data.
type ResourceEvent struct {
	// Object is always "event".
	Object string `json:"$object"`
	// EventID is "<resource>.<change>", e.g. "order.created".
	EventID        string         `json:"eventId"`
	ChangeType     ChangeType     `json:"changeType"`
	ResourceObject string         `json:"resourceObject"`
	Created        time.Time      `json:"created"`
	Href           string         `json:"href,omitempty"`
	Data           any            `json:"data,omitempty"`
	ChangedValues  map[string]any `json:"changedValues,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// CorrelationID ties the event to the request that raised it.
	CorrelationID string `json:"correlationId,omitempty"`
	// SelfQuery is the input of the operation that loads the resource.
	SelfQuery any `json:"-"`

	secure map[string]any
}

// NewResourceEvent returns an event for a change of kind change to the
// resource named resource.
func NewResourceEvent(change ChangeType, resource string, selfQuery any) *ResourceEvent {
	return &ResourceEvent{
		Object:         "event",
		EventID:        resource + "." + string(change),
		ChangeType:     change,
		ResourceObject: resource,
		Created:        time.Now().UTC(),
		SelfQuery:      selfQuery,
	}
}

// WithMetadata records a value that may be shown to clients and persisted.
func (e *ResourceEvent) WithMetadata(key string, value any) *ResourceEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// WithSecureData records a value that is never serialized.
func (e *ResourceEvent) WithSecureData(key string, value any) *ResourceEvent {
	if e.secure == nil {
		e.secure = make(map[string]any)
	}
	e.secure[key] = value
	return e
}

// SecureData returns the values recorded with WithSecureData.
func (e *ResourceEvent) SecureData() map[string]any { return e.secure }

// ResourceEvents completes the events returned by handlers. Generated
// pipelines call Complete after the handler; it is bound to the Executor
// once the application is built.
type ResourceEvents struct {
	baseURL string
	exec    atomic.Pointer[Executor]
}

// Complete fills the correlation ID and, when the event has a SelfQuery,
// its Href and Data. Data is not loaded for deletions. Href is left empty
// when the self query operation is not routed.
func (r *ResourceEvents) Complete(ctx context.Context, oc *OperationContext, ev *ResourceEvent) error {
	if ev == nil {
		return nil
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = oc.ID.String()
	}
	if ev.SelfQuery == nil {
		return nil
	}
	exec := r.exec.Load()
	if exec == nil {
		return errors.New("pipeline: resource events used before the executor was built")
	}
	op, ok := exec.model.FindInput(reflect.TypeOf(ev.SelfQuery))
	if !ok {
		return fmt.Errorf("%w: no operation for self query %T", ErrUnknownOperation, ev.SelfQuery)
	}
	if ev.Href == "" && op.Routed() {
		href, err := NewLinkGenerator(exec.model, r.baseURL).Fill(op, ev.SelfQuery)
		if err != nil {
			return err
		}
		ev.Href = href
	}
	if ev.ChangeType == Deleted || ev.Data != nil {
		return nil
	}
	data, err := exec.ExecuteInput(ctx, ev.SelfQuery)
	if err != nil {
		return fmt.Errorf("pipeline: load %s of %s: %w", ev.ResourceObject, ev.EventID, err)
	}
	ev.Data = data
	return nil
}

func (r *ResourceEvents) bindExecutor(e *Executor) { r.exec.Store(e) }

type resourceEventMiddleware struct {
	events *ResourceEvents
}

// ResourceEventMiddleware completes the *ResourceEvent returned by
// synchronous handlers. Hrefs are prefixed with baseURL.
func ResourceEventMiddleware(baseURL string) Middleware {
	return &resourceEventMiddleware{events: &ResourceEvents{baseURL: baseURL}}
}

func (*resourceEventMiddleware) Name() string          { return "resource-events" }
func (*resourceEventMiddleware) Matches(*Operation) bool { return true }

func (m *resourceEventMiddleware) Build(bc *BuildContext) error {
	bc.events = m.events
	return nil
}

func (m *resourceEventMiddleware) bindExecutor(e *Executor) { m.events.bindExecutor(e) }

// executorBinder is implemented by middleware that need the built
// Executor at run time.
type executorBinder interface {
	bindExecutor(e *Executor)
}
