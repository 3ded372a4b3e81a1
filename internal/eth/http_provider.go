package eth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpProvider is a minimal JSON-RPC client for Ethereum endpoints.
// Rate limiting is left to wrappers (RLProvider).
type httpProvider struct {
	endpoint    string
	providerLbl string
	hc          httpDoer
	maxRetries  int
	backoffBase time.Duration
	// readTimeout bounds retriable calls. Wallet calls are bounded by the
	// caller's ctx only, since they may wait on a user prompt.
	readTimeout time.Duration
	nextID      atomic.Int64
}

// DefaultReadTimeout bounds one retriable call including its retries.
const DefaultReadTimeout = 30 * time.Second

// NewHTTPProvider constructs a JSON-RPC provider using the given http.Client
// (or a default one if nil). The client should carry no Timeout: wallet
// approvals can take longer than any fixed deadline.
func NewHTTPProvider(endpoint string, client *http.Client) (Provider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("empty endpoint")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &httpProvider{
		endpoint:    endpoint,
		providerLbl: deriveProviderLabel(endpoint),
		hc:          client,
		maxRetries:  2,
		backoffBase: 100 * time.Millisecond,
		readTimeout: DefaultReadTimeout,
	}, nil
}

// Methods that prompt the user or move funds. A failed attempt may still
// have reached the signer, so these are sent exactly once.
var singleAttempt = map[string]bool{
	"eth_sendTransaction": true,
	"eth_requestAccounts": true,
}

func retriable(method string) bool { return !singleAttempt[method] }

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

// RPCError is a JSON-RPC error object returned with HTTP 200.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc %d: %s", e.Code, e.Message) }

// JSON-RPC and EIP-1193 error codes callers branch on.
const (
	CodeMethodNotFound = -32601
	CodeUserRejected   = 4001
	CodeUnauthorized   = 4100
)

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int64           `json:"id"`
}

func deriveProviderLabel(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if u, err := url.Parse(endpoint); err == nil {
		u.User = nil
		if u.Host != "" {
			return u.Host
		}
		if u.Scheme == "" {
			return endpoint
		}
		return u.String()
	}
	return endpoint
}

func (p *httpProvider) call(ctx context.Context, method string, params interface{}, out interface{}) (err error) {
	reqBody, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: p.nextID.Add(1)})
	start := time.Now()
	attempts := 1
	if retriable(method) {
		attempts += p.maxRetries
		if p.readTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.readTimeout)
			defer cancel()
		}
	}
	made := 0
	defer func() {
		if err == nil {
			return
		}
		if logger := logging.Logger(); logger != nil {
			logger.Warn("rpc_call_failed",
				"component", "eth.http_provider",
				"provider", p.providerLbl,
				"method", method,
				"attempts", made,
				"elapsed_ms", time.Since(start).Milliseconds(),
				"error", err.Error(),
			)
		}
	}()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		made++
		resp, doErr := p.hc.Do(req)
		if doErr != nil {
			lastErr = doErr
		} else {
			var rpcErr *RPCError
			func() {
				defer func() {
					_ = resp.Body.Close()
				}()
				if resp.StatusCode/100 != 2 {
					b, _ := io.ReadAll(resp.Body)
					lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, string(b))
					return
				}
				var rr rpcResponse
				if decErr := json.NewDecoder(resp.Body).Decode(&rr); decErr != nil {
					lastErr = decErr
					return
				}
				if rr.Error != nil {
					rpcErr = rr.Error
					return
				}
				lastErr = nil
				if out != nil {
					lastErr = json.Unmarshal(rr.Result, out)
				}
			}()
			// JSON-RPC errors arrive with HTTP 200 and are not retried.
			if rpcErr != nil {
				return rpcErr
			}
			if lastErr == nil {
				return nil
			}
			if sc := resp.StatusCode; sc != http.StatusTooManyRequests && sc < 500 {
				break
			}
		}
		if attempt < attempts-1 {
			d := p.backoffBase * (1 << attempt)
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return lastErr
}

// hexToUint64 parses an Ethereum hex quantity (e.g., "0x2a") into uint64.
func hexToUint64(s string) (uint64, error) {
	var v uint64
	if _, err := fmt.Sscanf(s, "0x%x", &v); err != nil {
		return 0, fmt.Errorf("invalid hex quantity: %q", s)
	}
	return v, nil
}

// ToHex renders n as an Ethereum hex quantity.
func ToHex(n uint64) string { return fmt.Sprintf("0x%x", n) }

// BigToHex renders v as an Ethereum hex quantity; nil and negative values are "0x0".
func BigToHex(v *big.Int) string {
	if v == nil || v.Sign() <= 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

func (p *httpProvider) BlockNumber(ctx context.Context) (uint64, error) {
	var res string
	if err := p.call(ctx, "eth_blockNumber", []interface{}{}, &res); err != nil {
		return 0, err
	}
	return hexToUint64(res)
}

func (p *httpProvider) Accounts(ctx context.Context) ([]string, error) {
	var res []string
	if err := p.call(ctx, "eth_accounts", []interface{}{}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *httpProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	var res []string
	if err := p.call(ctx, "eth_requestAccounts", []interface{}{}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *httpProvider) SendTransaction(ctx context.Context, tx TxRequest) (string, error) {
	var hash string
	if err := p.call(ctx, "eth_sendTransaction", []interface{}{tx}, &hash); err != nil {
		return "", err
	}
	if hash == "" {
		return "", errors.New("eth_sendTransaction returned empty hash")
	}
	return hash, nil
}

func (p *httpProvider) Call(ctx context.Context, msg CallMsg) (string, error) {
	var res string
	if err := p.call(ctx, "eth_call", []interface{}{msg, "latest"}, &res); err != nil {
		return "", err
	}
	return res, nil
}

type rpcReceipt struct {
	TxHash   string `json:"transactionHash"`
	BlockHex string `json:"blockNumber"`
	GasUsed  string `json:"gasUsed"`
	Status   string `json:"status"`
}

func (p *httpProvider) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var raw *rpcReceipt
	if err := p.call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	blk, err := hexToUint64(raw.BlockHex)
	if err != nil {
		return nil, fmt.Errorf("receipt %s blockNumber: %w", hash, err)
	}
	gasUsed, err := hexToUint64(raw.GasUsed)
	if err != nil {
		return nil, fmt.Errorf("receipt %s gasUsed: %w", hash, err)
	}
	statusVal := uint8(1)
	if raw.Status != "" {
		s, err := hexToUint64(raw.Status)
		if err != nil {
			return nil, fmt.Errorf("receipt %s status: %w", hash, err)
		}
		statusVal = uint8(s)
	}
	txHash := raw.TxHash
	if txHash == "" {
		txHash = hash
	}
	return &Receipt{TxHash: strings.ToLower(txHash), BlockNum: blk, GasUsed: gasUsed, Status: statusVal}, nil
}

// IsMethodNotFound reports whether err says the endpoint lacks the method.
func IsMethodNotFound(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == CodeMethodNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "-32601") || strings.Contains(msg, "method not found")
}

// IsUserRejected reports whether err is an EIP-1193 rejection (4001) or an
// unauthorized-account response (4100).
func IsUserRejected(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == CodeUserRejected || rpcErr.Code == CodeUnauthorized
}
