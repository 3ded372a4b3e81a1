package eth

import (
	"context"

	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
)

// RLProvider gates every call of the wrapped Provider behind one shared
// Limiter, so reads, receipt polling and signing requests draw from the same
// budget.
type RLProvider struct {
	p Provider
	l Limiter
}

func WrapWithLimiter(p Provider, l Limiter) Provider { return RLProvider{p: p, l: l} }

// gated waits for a slot and then runs fn. A failed wait never reaches the
// endpoint.
func gated[T any](ctx context.Context, l Limiter, method string, fn func() (T, error)) (T, error) {
	if err := l.Wait(ctx); err != nil {
		var zero T
		logging.Logger().Debug("rpc_rate_limit_wait_aborted",
			"component", "eth.rate_limit",
			"method", method,
			"error", err.Error(),
		)
		return zero, err
	}
	return fn()
}

func (r RLProvider) BlockNumber(ctx context.Context) (uint64, error) {
	return gated(ctx, r.l, "eth_blockNumber", func() (uint64, error) { return r.p.BlockNumber(ctx) })
}

func (r RLProvider) Accounts(ctx context.Context) ([]string, error) {
	return gated(ctx, r.l, "eth_accounts", func() ([]string, error) { return r.p.Accounts(ctx) })
}

func (r RLProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	return gated(ctx, r.l, "eth_requestAccounts", func() ([]string, error) { return r.p.RequestAccounts(ctx) })
}

func (r RLProvider) SendTransaction(ctx context.Context, tx TxRequest) (string, error) {
	return gated(ctx, r.l, "eth_sendTransaction", func() (string, error) { return r.p.SendTransaction(ctx, tx) })
}

func (r RLProvider) Call(ctx context.Context, msg CallMsg) (string, error) {
	return gated(ctx, r.l, "eth_call", func() (string, error) { return r.p.Call(ctx, msg) })
}

func (r RLProvider) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	return gated(ctx, r.l, "eth_getTransactionReceipt", func() (*Receipt, error) { return r.p.TransactionReceipt(ctx, hash) })
}
