// Package httpapi exposes the routed operations of a pipeline.Executor over
// HTTP with chi.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/syssam/forge/pipeline"
	"github.com/syssam/forge/task"
)

// ErrDecode is returned when a request cannot be decoded into the
// operation input.
var ErrDecode = errors.New("httpapi: cannot decode request")

// Mount registers every routed operation of exec on r.
func Mount(r chi.Router, exec *pipeline.Executor) {
	for _, op := range exec.Operations() {
		if !op.Routed() {
			continue
		}
		r.Method(op.Method, op.Route, Handler(exec, op))
	}
}

// NewRouter returns a chi router with the operations of exec mounted.
func NewRouter(exec *pipeline.Executor, mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mw...)
	Mount(r, exec)
	return r
}

// Handler executes op for every request. The input is decoded from the
// JSON body, then URL parameters and, for bodiless methods, query values
// are copied into fields of the same name.
func Handler(exec *pipeline.Executor, op *pipeline.Operation) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		input, err := decode(r, op.Input)
		if err != nil {
			writeError(w, err)
			return
		}
		out, err := exec.Execute(r.Context(), op.Name, input)
		if err != nil {
			writeError(w, err)
			return
		}
		if out == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		payload, err := json.Marshal(out)
		if err != nil {
			writeError(w, fmt.Errorf("httpapi: encode response: %w", err))
			return
		}
		writeJSON(w, payload, http.StatusOK)
	})
}

func decode(r *http.Request, t reflect.Type) (any, error) {
	ptr := t.Kind() == reflect.Pointer
	elem := t
	if ptr {
		elem = t.Elem()
	}
	v := reflect.New(elem)
	if r.Body != nil && r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(v.Interface()); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}
	if elem.Kind() == reflect.Struct {
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				if err := setField(v.Elem(), key, rctx.URLParams.Values[i]); err != nil {
					return nil, err
				}
			}
		}
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodDelete:
			for key, values := range r.URL.Query() {
				if err := setField(v.Elem(), key, values[0]); err != nil {
					return nil, err
				}
			}
		}
	}
	if ptr {
		return v.Interface(), nil
	}
	return v.Elem().Interface(), nil
}

// setField assigns raw to the exported field whose name or json tag
// matches key, ignoring case. Unknown keys are ignored.
func setField(s reflect.Value, key, raw string) error {
	f, ok := pipeline.FieldByKey(s, key)
	if !ok {
		return nil
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, f.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDecode, key, err)
		}
		f.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, f.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDecode, key, err)
		}
		f.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDecode, key, err)
		}
		f.SetBool(b)
	default:
		return fmt.Errorf("%w: %s: unsupported field type %s", ErrDecode, key, f.Type())
	}
	return nil
}

// Status maps an execution error to an HTTP status code.
func Status(err error) int {
	var pe *task.PanicError
	switch {
	case errors.As(err, &pe):
		return http.StatusInternalServerError
	case errors.Is(err, ErrDecode), errors.Is(err, pipeline.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pipeline.ErrUnknownOperation):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := Status(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	payload, _ := json.Marshal(errorBody{Error: msg})
	writeJSON(w, payload, status)
}

func writeJSON(w http.ResponseWriter, payload []byte, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
