package ch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
)

type capture struct {
	method string
	query  string
	body   string
	user   string
}

type fakeDoer struct {
	mu    sync.Mutex
	calls []capture
	resps []func() (*http.Response, error)
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := capture{method: req.Method, query: req.URL.Query().Get("query")}
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		c.body = string(b)
	}
	if req.URL.User != nil {
		c.user = req.URL.User.Username()
	}
	f.calls = append(f.calls, c)
	i := len(f.calls) - 1
	if i >= len(f.resps) {
		i = len(f.resps) - 1
	}
	return f.resps[i]()
}

func status(code int, body string) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{}}, nil
	}
}

func netErr() (*http.Response, error) { return nil, errors.New("connection refused") }

func newClient(t *testing.T, d *fakeDoer, attempts int) *Client {
	t.Helper()
	logging.DiscardLogging()
	c, err := New("http://default:pw@ch:8123/ledger", WithHTTPClient(d), WithRetry(attempts, 0))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNew_EmptyDSNIsNoop(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Enabled() {
		t.Fatal("empty DSN must disable the client")
	}
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Exec(ctx, "SELECT 1"); err != nil {
		t.Fatal(err)
	}
	if err := c.InsertJSONEachRow(ctx, "t", []any{map[string]int{"a": 1}}); err != nil {
		t.Fatal(err)
	}
	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client is not enabled")
	}
}

func TestNew_RejectsBadDSN(t *testing.T) {
	if _, err := New("tcp://ch:9000"); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
	if _, err := New("http://[::1"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInsertJSONEachRow(t *testing.T) {
	d := &fakeDoer{resps: []func() (*http.Response, error){status(200, "")}}
	c := newClient(t, d, 3)
	rows := []any{map[string]string{"a": "x"}, map[string]string{"a": "y"}}
	if err := c.InsertJSONEachRow(context.Background(), "ledger; DROP", rows); err != nil {
		t.Fatal(err)
	}
	if len(d.calls) != 1 {
		t.Fatalf("calls = %d", len(d.calls))
	}
	got := d.calls[0]
	if got.method != http.MethodPost || got.query != "INSERT INTO ledger__DROP FORMAT JSONEachRow" {
		t.Fatalf("request = %+v", got)
	}
	if got.body != "{\"a\":\"x\"}\n{\"a\":\"y\"}\n" {
		t.Fatalf("body = %q", got.body)
	}
	if got.user != "default" {
		t.Fatalf("credentials not forwarded: %+v", got)
	}
}

func TestInsertJSONEachRow_EmptyRowsSkipped(t *testing.T) {
	d := &fakeDoer{resps: []func() (*http.Response, error){status(200, "")}}
	if err := newClient(t, d, 1).InsertJSONEachRow(context.Background(), "t", nil); err != nil {
		t.Fatal(err)
	}
	if len(d.calls) != 0 {
		t.Fatal("no request expected")
	}
}

func TestInsertJSONEachRow_EncodeError(t *testing.T) {
	d := &fakeDoer{resps: []func() (*http.Response, error){status(200, "")}}
	err := newClient(t, d, 1).InsertJSONEachRow(context.Background(), "t", []any{func() {}})
	if err == nil || !strings.Contains(err.Error(), "encode row 0") {
		t.Fatalf("err = %v", err)
	}
}

func TestExecSendsStatementAsBody(t *testing.T) {
	d := &fakeDoer{resps: []func() (*http.Response, error){status(200, "")}}
	if err := newClient(t, d, 1).Exec(context.Background(), "CREATE TABLE x (a UInt8) ENGINE = Memory"); err != nil {
		t.Fatal(err)
	}
	if d.calls[0].query != "" || !strings.HasPrefix(d.calls[0].body, "CREATE TABLE x") {
		t.Fatalf("request = %+v", d.calls[0])
	}
}

func TestPing(t *testing.T) {
	d := &fakeDoer{resps: []func() (*http.Response, error){status(200, "1\n")}}
	if err := newClient(t, d, 1).Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.calls[0].method != http.MethodGet || d.calls[0].query != "SELECT 1" {
		t.Fatalf("request = %+v", d.calls[0])
	}
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	d := &fakeDoer{resps: []func() (*http.Response, error){netErr, status(503, "busy"), status(200, "")}}
	if err := newClient(t, d, 3).Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(d.calls) != 3 {
		t.Fatalf("calls = %d", len(d.calls))
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	d := &fakeDoer{resps: []func() (*http.Response, error){status(400, "Syntax error")}}
	err := newClient(t, d, 5).Exec(context.Background(), "bogus")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 400 || se.Op != "exec" {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "Syntax error") {
		t.Fatalf("body missing from %q", err.Error())
	}
	if len(d.calls) != 1 {
		t.Fatalf("calls = %d", len(d.calls))
	}
}

func TestRetriesExhausted(t *testing.T) {
	d := &fakeDoer{resps: []func() (*http.Response, error){status(429, "slow down")}}
	err := newClient(t, d, 2).Ping(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 429 {
		t.Fatalf("err = %v", err)
	}
	if len(d.calls) != 2 {
		t.Fatalf("calls = %d", len(d.calls))
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	d := &fakeDoer{resps: []func() (*http.Response, error){netErr}}
	c, _ := New("http://ch:8123/db", WithHTTPClient(d), WithRetry(5, time.Hour))
	logging.DiscardLogging()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if len(d.calls) != 1 {
		t.Fatalf("calls = %d", len(d.calls))
	}
}

func TestRetriable(t *testing.T) {
	if Retriable(&StatusError{Code: 404}) || !Retriable(&StatusError{Code: 500}) || !Retriable(errors.New("eof")) {
		t.Fatal("classification")
	}
	if Retriable(context.Canceled) {
		t.Fatal("cancellation is final")
	}
}

func TestSanitizeIdent(t *testing.T) {
	if got := SanitizeIdent("db.ledger_tx-1 `x`"); got != "db.ledger_tx_1__x_" {
		t.Fatalf("got %q", got)
	}
}
