package eth

import (
	"context"
	"sync"
)

// fakeProvider implements Provider with overridable hooks; unset hooks return zero values.
type fakeProvider struct {
	mu              sync.Mutex
	accounts        func(ctx context.Context) ([]string, error)
	requestAccounts func(ctx context.Context) ([]string, error)
	send            func(ctx context.Context, tx TxRequest) (string, error)
	call            func(ctx context.Context, msg CallMsg) (string, error)
	receipt         func(ctx context.Context, hash string) (*Receipt, error)
	sent            []TxRequest
}

func (f *fakeProvider) BlockNumber(ctx context.Context) (uint64, error) { return 123, nil }

func (f *fakeProvider) Accounts(ctx context.Context) ([]string, error) {
	if f.accounts == nil {
		return nil, nil
	}
	return f.accounts(ctx)
}

func (f *fakeProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	if f.requestAccounts == nil {
		return nil, nil
	}
	return f.requestAccounts(ctx)
}

func (f *fakeProvider) SendTransaction(ctx context.Context, tx TxRequest) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	if f.send == nil {
		return "0xhash", nil
	}
	return f.send(ctx, tx)
}

func (f *fakeProvider) Call(ctx context.Context, msg CallMsg) (string, error) {
	if f.call == nil {
		return "0x", nil
	}
	return f.call(ctx, msg)
}

func (f *fakeProvider) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	if f.receipt == nil {
		return &Receipt{TxHash: hash, BlockNum: 1, Status: 1}, nil
	}
	return f.receipt(ctx, hash)
}
