package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/forge/pipeline"
	"github.com/syssam/forge/pipeline/authz"
	"github.com/syssam/forge/service"
	"github.com/syssam/forge/task"
)

type CreateOrder struct {
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

func (c *CreateOrder) Validate() error {
	if c.Qty <= 0 {
		return errors.New("qty must be positive")
	}
	return nil
}

type GetOrder struct {
	ID      string `json:"id"`
	Verbose bool   `json:"verbose"`
}

type Order struct {
	ID   string `json:"id"`
	Item string `json:"item,omitempty"`
	Qty  int    `json:"qty,omitempty"`
	Note string `json:"note,omitempty"`
}

type Secret struct{}

type Ping struct{}

type OrderHandler struct{}

func (OrderHandler) Handle(in *CreateOrder) (*Order, error) {
	if in.Item == "boom" {
		panic("out of stock")
	}
	return &Order{ID: "ord-1", Item: in.Item, Qty: in.Qty}, nil
}

type GetOrderHandler struct{}

func (GetOrderHandler) Handle(in *GetOrder) (*Order, error) {
	o := &Order{ID: in.ID}
	if in.Verbose {
		o.Note = "verbose"
	}
	return o, nil
}

type SecretHandler struct{}

func (SecretHandler) Handle(*Secret) error { return nil }

type PingHandler struct{}

func (PingHandler) Handle(*Ping) error { return nil }

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	exec, err := pipeline.NewBuilder().
		SetApplicationName("orders").
		WithOperation(
			pipeline.OperationFor[*CreateOrder]("CreateOrder").HTTP("POST", "/orders").AllowAnonymous(),
			pipeline.OperationFor[*GetOrder]("GetOrder").HTTP("GET", "/orders/{id}").AllowAnonymous(),
			pipeline.OperationFor[*Secret]("Secret").HTTP("DELETE", "/secret"),
			pipeline.OperationFor[*Ping]("Ping").AllowAnonymous(),
		).
		WithHandler("CreateOrder", OrderHandler{}).
		WithHandler("GetOrder", GetOrderHandler{}).
		WithHandler("Secret", SecretHandler{}).
		WithHandler("Ping", PingHandler{}).
		Use(pipeline.AuthorizationMiddleware(), pipeline.ValidationMiddleware(), pipeline.GuardMiddleware()).
		Services(func(c *service.Container) error {
			return service.AddSingleton(c, authz.Policy{authz.AlwaysDenyRule()})
		}).
		Build(context.Background())
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(exec))
	t.Cleanup(srv.Close)
	return srv
}

func TestMount(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		want   string
	}{
		{name: "create", method: http.MethodPost, path: "/orders", body: `{"item":"book","qty":2}`, status: http.StatusOK, want: `{"id":"ord-1","item":"book","qty":2}`},
		{name: "validation", method: http.MethodPost, path: "/orders", body: `{"item":"book"}`, status: http.StatusUnprocessableEntity, want: "qty must be positive"},
		{name: "malformed body", method: http.MethodPost, path: "/orders", body: `{"item":`, status: http.StatusBadRequest, want: "cannot decode request"},
		{name: "panic", method: http.MethodPost, path: "/orders", body: `{"item":"boom","qty":1}`, status: http.StatusInternalServerError, want: "Internal Server Error"},
		{name: "url param", method: http.MethodGet, path: "/orders/ord-7", status: http.StatusOK, want: `{"id":"ord-7"}`},
		{name: "query value", method: http.MethodGet, path: "/orders/ord-7?verbose=true", status: http.StatusOK, want: `{"id":"ord-7","note":"verbose"}`},
		{name: "bad query value", method: http.MethodGet, path: "/orders/ord-7?verbose=maybe", status: http.StatusBadRequest, want: "verbose"},
		{name: "forbidden", method: http.MethodDelete, path: "/secret", status: http.StatusForbidden, want: "forbidden"},
		{name: "unrouted operation", method: http.MethodPost, path: "/ping", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.want == "" {
				return
			}
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			var raw json.RawMessage
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
			if strings.HasPrefix(tt.want, "{") {
				assert.JSONEq(t, tt.want, string(raw))
				return
			}
			assert.Contains(t, string(raw), tt.want)
		})
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", ErrDecode), http.StatusBadRequest},
		{pipeline.ErrInvalidInput, http.StatusBadRequest},
		{pipeline.ValidationFailed(errors.New("bad")), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: denied", pipeline.ErrForbidden), http.StatusForbidden},
		{pipeline.ErrUnknownOperation, http.StatusNotFound},
		{&task.PanicError{Value: pipeline.ErrForbidden}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestNoContent(t *testing.T) {
	exec, err := pipeline.NewBuilder().
		SetApplicationName("ping").
		WithOperation(pipeline.OperationFor[*Ping]("Ping").HTTP("POST", "/ping")).
		WithHandler("Ping", PingHandler{}).
		Build(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r := NewRouter(exec)
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
