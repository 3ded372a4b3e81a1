package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
)

// Generator produces correlation IDs.
type Generator interface {
	Generate() string
}

// UUIDGenerator issues time-ordered UUIDv7 strings.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string { return uuid.Must(uuid.NewV7()).String() }

const (
	// HeaderCorrelationID is echoed on every response.
	HeaderCorrelationID = "X-Correlation-ID"
	// HeaderRequestID is accepted as an alternative inbound name.
	HeaderRequestID = "X-Request-ID"
)

type cidKey struct{}

// CorrelationID returns the request's correlation ID, if any.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(cidKey{}).(string)
	return v
}

func normalizeCID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.ContainsAny(v, "\r\n") {
		return ""
	}
	const maxLen = 128
	if len(v) > maxLen {
		v = v[:maxLen]
	}
	return v
}

func middlewareCorrelationID(ids Generator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cid := normalizeCID(r.Header.Get(HeaderCorrelationID))
			if cid == "" {
				cid = normalizeCID(r.Header.Get(HeaderRequestID))
			}
			if cid == "" && ids != nil {
				cid = ids.Generate()
			}
			if cid != "" {
				w.Header().Set(HeaderCorrelationID, cid)
				r = r.WithContext(context.WithValue(r.Context(), cidKey{}, cid))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func middlewareRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logging.Logger().Error("panic_recovered",
					"component", "api",
					"correlation_id", CorrelationID(r.Context()),
					"panic", rvr,
				)
				writeJSON(w, errorResponse{Message: "internal server error"}, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func middlewareLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := httprouter.ParamsFromContext(r.Context()).MatchedRoutePath()
		if route == "" {
			route = r.URL.Path
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logging.Logger().Info("http_request",
			"component", "api",
			"correlation_id", CorrelationID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", rec.bytes,
			"latency_ms", time.Since(start).Milliseconds(),
		)
	})
}
