// Package api exposes a session over HTTP for a browser UI. Responses use a
// {message, data} envelope; errors are {message, kind} with a status derived
// from the error kind, plus data when a partial result exists.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/AIAleph/mvp_ledger_mirror/internal/apperr"
	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
)

// Handler returns a payload to encode or an error.
type Handler func(ctx context.Context, r *http.Request) (any, error)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws so the first one runs outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Router wraps httprouter with the envelope codecs and a middleware stack.
type Router struct {
	hr  *httprouter.Router
	mws []Middleware
}

// NewRouter builds a router with recovery, correlation IDs and request logging.
func NewRouter(ids Generator) *Router {
	hr := &httprouter.Router{
		RedirectTrailingSlash:  true,
		RedirectFixedPath:      true,
		HandleMethodNotAllowed: true,
		HandleOPTIONS:          true,
		SaveMatchedRoutePath:   true,
		NotFound: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, errorResponse{Message: "endpoint not found"}, http.StatusNotFound)
		}),
		MethodNotAllowed: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, errorResponse{Message: "method not allowed"}, http.StatusMethodNotAllowed)
		}),
	}
	return &Router{
		hr:  hr,
		mws: []Middleware{middlewareRecoverer, middlewareCorrelationID(ids), middlewareLogging},
	}
}

func (r *Router) GET(path string, h Handler)  { r.endpoint(http.MethodGet, path, h) }
func (r *Router) POST(path string, h Handler) { r.endpoint(http.MethodPost, path, h) }
func (r *Router) PUT(path string, h Handler)  { r.endpoint(http.MethodPut, path, h) }

func (r *Router) endpoint(method, path string, h Handler) {
	r.hr.Handler(method, path, Chain(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		resp, err := h(req.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, successResponse{Message: messageOf(resp), Data: resp}, http.StatusOK)
	}), r.mws...))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.hr.ServeHTTP(w, req)
}

// Param reads a path parameter stored by httprouter.
func Param(ctx context.Context, name string) string {
	return httprouter.ParamsFromContext(ctx).ByName(name)
}

type errorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// dataError carries a payload that is still meaningful when the call failed.
type dataError struct {
	err  error
	data any
}

func (e *dataError) Error() string { return e.err.Error() }
func (e *dataError) Unwrap() error { return e.err }

// WithData attaches data to err so the error envelope includes it.
func WithData(err error, data any) error {
	if err == nil {
		return nil
	}
	return &dataError{err: err, data: data}
}

type successResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func messageOf(resp any) string {
	if m, ok := resp.(interface{ Message() string }); ok {
		return m.Message()
	}
	return "ok"
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.StatusCode(err)
	resp := errorResponse{Message: "internal server error"}
	var e *apperr.Error
	if errors.As(err, &e) {
		resp = errorResponse{Message: e.Msg(), Kind: e.Kind().String()}
	}
	var de *dataError
	if errors.As(err, &de) {
		resp.Data = de.data
	}
	writeJSON(w, resp, code)
}

func writeJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Logger().Error("response_encode_failed", "component", "api", "error", err.Error())
	}
}
