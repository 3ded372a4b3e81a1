package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/AIAleph/mvp_ledger_mirror/internal/apperr"
	"github.com/AIAleph/mvp_ledger_mirror/internal/normalize"
	"github.com/AIAleph/mvp_ledger_mirror/internal/session"
)

// Session is the state and actions the HTTP surface drives. *session.Session
// implements it.
type Session interface {
	Snapshot() session.State
	ConnectWallet(ctx context.Context) (string, error)
	HandleChange(name, value string) error
	SendTransaction(ctx context.Context) (*session.SendResult, error)
	RefreshTransactions(ctx context.Context) error
}

const maxBodyBytes = 64 * 1024

// Options configures NewHandler.
type Options struct {
	// AllowedOrigins defaults to every origin.
	AllowedOrigins []string
	IDs            Generator
}

// NewHandler mounts every route behind CORS.
func NewHandler(s Session, opts Options) http.Handler {
	ids := opts.IDs
	if ids == nil {
		ids = UUIDGenerator{}
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := NewRouter(ids)
	h := &handlers{s: s}
	r.GET("/health", h.health)
	r.GET("/state", h.state)
	r.POST("/wallet/connect", h.connect)
	r.PUT("/form/:field", h.changeField)
	r.GET("/transactions", h.transactions)
	r.POST("/transactions", h.send)
	r.POST("/transactions/refresh", h.refresh)

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{HeaderCorrelationID},
	})
	return c.Handler(r)
}

// NewServer wraps NewHandler in an http.Server listening on addr.
func NewServer(addr string, s Session, opts Options) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(s, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type handlers struct {
	s Session
}

type message struct {
	text string
	body any
}

func (m message) Message() string { return m.text }

func (m message) MarshalJSON() ([]byte, error) { return json.Marshal(m.body) }

func (h *handlers) health(context.Context, *http.Request) (any, error) {
	return message{text: "server is running well", body: map[string]string{"status": "ok"}}, nil
}

func (h *handlers) state(context.Context, *http.Request) (any, error) {
	return h.s.Snapshot(), nil
}

func (h *handlers) connect(ctx context.Context, _ *http.Request) (any, error) {
	acct, err := h.s.ConnectWallet(ctx)
	if err != nil {
		return nil, err
	}
	return message{text: "wallet connected", body: map[string]string{"connectedAccount": acct}}, nil
}

type fieldValue struct {
	Value string `json:"value"`
}

func (h *handlers) changeField(ctx context.Context, r *http.Request) (any, error) {
	var in fieldValue
	if err := decodeBody(r, &in, false); err != nil {
		return nil, err
	}
	if err := h.s.HandleChange(Param(ctx, "field"), in.Value); err != nil {
		return nil, err
	}
	return h.s.Snapshot().FormData, nil
}

func (h *handlers) transactions(context.Context, *http.Request) (any, error) {
	txs := h.s.Snapshot().Transactions
	if txs == nil {
		txs = []normalize.DisplayTransaction{}
	}
	return txs, nil
}

// send applies any fields present in the body before sending the form.
func (h *handlers) send(ctx context.Context, r *http.Request) (any, error) {
	var in map[string]string
	if err := decodeBody(r, &in, true); err != nil {
		return nil, err
	}
	for _, name := range []string{session.FieldSendTo, session.FieldAmount, session.FieldKeyword, session.FieldMessage} {
		if v, ok := in[name]; ok {
			if err := h.s.HandleChange(name, v); err != nil {
				return nil, err
			}
		}
	}
	res, err := h.s.SendTransaction(ctx)
	if err != nil {
		// The transfer or the append may already be on chain.
		if res != nil {
			return nil, WithData(err, res)
		}
		return nil, err
	}
	return message{text: "transaction recorded", body: res}, nil
}

func (h *handlers) refresh(ctx context.Context, _ *http.Request) (any, error) {
	if err := h.s.RefreshTransactions(ctx); err != nil {
		return nil, err
	}
	return h.s.Snapshot().Transactions, nil
}

func decodeBody(r *http.Request, v any, optional bool) error {
	const op = "api.decode_body"
	if r.Body == nil {
		if optional {
			return nil
		}
		return apperr.Invalid(op, "request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return apperr.Invalid(op, "invalid JSON body: %v", err)
	}
	return nil
}
