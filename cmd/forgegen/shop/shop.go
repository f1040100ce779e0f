// Package shop is the sample order catalog built by forgegen.
package shop

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/syssam/forge/pipeline"
	"github.com/syssam/forge/pipeline/authz"
	"github.com/syssam/forge/service"
	"github.com/syssam/forge/task"
)

// DeletePermission is the role required to delete orders.
const DeletePermission = "orders:delete"

// ErrNotFound is returned for an unknown order id.
var ErrNotFound = errors.New("shop: order not found")

type (
	// Order is a placed order.
	Order struct {
		ID    string `json:"id"`
		Item  string `json:"item"`
		Qty   int    `json:"qty"`
		Owner string `json:"owner,omitempty"`
	}

	// CreateOrder places an order for the calling viewer.
	CreateOrder struct {
		Item string `json:"item"`
		Qty  int    `json:"qty"`
	}

	// GetOrder reads one order.
	GetOrder struct {
		ID string `json:"id"`
	}

	// ListOrders reads every order, optionally filtered by owner.
	ListOrders struct {
		Owner string `json:"owner"`
	}

	// UpdateOrder changes the quantity of an order.
	UpdateOrder struct {
		ID  string `json:"id"`
		Qty int    `json:"qty"`
	}

	// DeleteOrder removes an order.
	DeleteOrder struct {
		ID string `json:"id"`
	}
)

// Validate reports whether the order can be placed.
func (c *CreateOrder) Validate() error {
	switch {
	case strings.TrimSpace(c.Item) == "":
		return errors.New("item is required")
	case c.Qty <= 0:
		return fmt.Errorf("qty must be positive, got %d", c.Qty)
	}
	return nil
}

// Validate reports whether the quantity is usable.
func (u *UpdateOrder) Validate() error {
	if u.Qty <= 0 {
		return fmt.Errorf("qty must be positive, got %d", u.Qty)
	}
	return nil
}

// Store keeps orders in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	seq    int
	orders map[string]*Order
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{orders: make(map[string]*Order)}
}

// Put stores a new order and returns it.
func (s *Store) Put(item string, qty int, owner string) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	o := &Order{ID: "ord-" + strconv.Itoa(s.seq), Item: item, Qty: qty, Owner: owner}
	s.orders[o.ID] = o
	return o
}

// Get returns the order with id.
func (s *Store) Get(id string) (*Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// Update sets the quantity of the order with id and returns the order as
// it was before.
func (s *Store) Update(id string, qty int) (*Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	updated := *o
	updated.Qty = qty
	s.orders[id] = &updated
	return o, true
}

// Delete removes the order with id and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orders[id]
	delete(s.orders, id)
	return ok
}

// List returns the orders of owner, or all orders when owner is empty,
// sorted by id.
func (s *Store) List(owner string) []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		if owner == "" || o.Owner == owner {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b *Order) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// CreateOrderHandler places orders.
type CreateOrderHandler struct{}

func (CreateOrderHandler) Handle(ctx context.Context, in *CreateOrder, store *Store) (*Order, error) {
	var owner string
	if v := authz.ViewerFromContext(ctx); v != nil {
		owner = v.GetID()
	}
	return store.Put(in.Item, in.Qty, owner), nil
}

// GetOrderHandler reads orders asynchronously.
type GetOrderHandler struct{}

func (GetOrderHandler) HandleAsync(in *GetOrder, store *Store) *task.Task {
	return task.Run(func() (any, error) {
		o, ok := store.Get(in.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, in.ID)
		}
		return o, nil
	})
}

// ListOrdersHandler lists orders.
type ListOrdersHandler struct{}

func (ListOrdersHandler) Handle(in *ListOrders, store *Store) []*Order {
	return store.List(in.Owner)
}

// UpdateOrderHandler changes orders and reports the change as an event.
type UpdateOrderHandler struct{}

func (UpdateOrderHandler) Handle(in *UpdateOrder, store *Store) (*pipeline.ResourceEvent, error) {
	prev, ok := store.Update(in.ID, in.Qty)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, in.ID)
	}
	ev := pipeline.NewResourceEvent(pipeline.Updated, "order", &GetOrder{ID: in.ID})
	ev.ChangedValues = map[string]any{"qty": prev.Qty}
	return ev, nil
}

// DeleteOrderHandler removes orders.
type DeleteOrderHandler struct{}

func (DeleteOrderHandler) Handle(oc *pipeline.OperationContext, in *DeleteOrder, store *Store) error {
	if !store.Delete(in.ID) {
		return fmt.Errorf("%w: %s", ErrNotFound, in.ID)
	}
	oc.Logger.Info("order deleted", "order", in.ID)
	return nil
}

// Policy requires a viewer for every non-anonymous operation and the
// operation's permission where one is set.
func Policy() authz.Policy {
	return authz.Policy{authz.DenyIfNoViewer(), authz.HasPermission()}
}

// Register adds the shop operations, handlers and services to b. Order
// updates answer with an "order.updated" event linking to the order. Callers
// add MetricsMiddleware themselves when metrics are configured.
func Register(b *pipeline.Builder, store *Store) *pipeline.Builder {
	return b.
		WithOperation(
			pipeline.OperationFor[*CreateOrder]("CreateOrder").HTTP(http.MethodPost, "/orders").Describe("Place an order"),
			pipeline.OperationFor[*GetOrder]("GetOrder").HTTP(http.MethodGet, "/orders/{id}").AllowAnonymous(),
			pipeline.OperationFor[*ListOrders]("ListOrders").HTTP(http.MethodGet, "/orders").AllowAnonymous(),
			pipeline.OperationFor[*UpdateOrder]("UpdateOrder").HTTP(http.MethodPut, "/orders/{id}"),
			pipeline.OperationFor[*DeleteOrder]("DeleteOrder").HTTP(http.MethodDelete, "/orders/{id}").
				Meta(authz.PermissionKey, DeletePermission),
		).
		WithHandler("CreateOrder", CreateOrderHandler{}).
		WithHandler("GetOrder", GetOrderHandler{}).
		WithHandler("ListOrders", ListOrdersHandler{}).
		WithHandler("UpdateOrder", UpdateOrderHandler{}).
		WithHandler("DeleteOrder", DeleteOrderHandler{}).
		Services(func(c *service.Container) error {
			return errors.Join(
				service.AddSingleton(c, store),
				service.AddSingleton(c, Policy()),
			)
		}).
		Use(
			pipeline.LoggingMiddleware(),
			pipeline.AuthorizationMiddleware(),
			pipeline.ValidationMiddleware(),
			pipeline.ResourceEventMiddleware(""),
			pipeline.GuardMiddleware(),
		)
}

// Viewers attaches an authz.SimpleViewer built from the X-User and
// X-Roles (comma separated) request headers.
func Viewers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-User")
		if user == "" {
			next.ServeHTTP(w, r)
			return
		}
		viewer := &authz.SimpleViewer{UserID: user}
		for _, role := range strings.Split(r.Header.Get("X-Roles"), ",") {
			if role = strings.TrimSpace(role); role != "" {
				viewer.Roles = append(viewer.Roles, role)
			}
		}
		next.ServeHTTP(w, r.WithContext(authz.WithViewer(r.Context(), viewer)))
	})
}
