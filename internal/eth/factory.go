package eth

import (
	"net/http"
	"strings"
	"time"
)

// NewProvider constructs the JSON-RPC provider for endpoint and wraps it with a
// rate limiter. Validation lives in NewHTTPProvider (after trimming
// whitespace) so both constructors reject the same inputs. retries < 0 keeps
// the default; 0 means a single attempt.
func NewProvider(endpoint string, rateLimit int, retries int, backoff time.Duration) (Provider, error) {
	base, err := NewHTTPProvider(strings.TrimSpace(endpoint), &http.Client{})
	if err != nil {
		return nil, err
	}
	if hp, ok := base.(*httpProvider); ok {
		if retries >= 0 {
			hp.maxRetries = retries
		}
		if backoff > 0 {
			hp.backoffBase = backoff
		}
	}
	return WrapWithLimiter(base, NewLimiter(rateLimit)), nil
}
