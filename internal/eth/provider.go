package eth

import (
	"context"
)

// Provider defines the JSON-RPC surface the wallet and the ledger binding
// need. Any endpoint that manages accounts (a dev node, a signer proxy, a
// wallet bridge) satisfies it.
// Note: values travel as hex quantities; decode to big.Int at the edges.
type Provider interface {
	// BlockNumber returns the current head block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// Accounts lists accounts already exposed to the caller (eth_accounts).
	Accounts(ctx context.Context) ([]string, error)

	// RequestAccounts asks the account holder to expose accounts (eth_requestAccounts).
	RequestAccounts(ctx context.Context) ([]string, error)

	// SendTransaction submits tx for signing and broadcast and returns its hash.
	SendTransaction(ctx context.Context, tx TxRequest) (string, error)

	// Call executes a read-only message call at the latest block and returns
	// the raw hex return data.
	Call(ctx context.Context, msg CallMsg) (string, error)

	// TransactionReceipt returns nil with no error while hash is still pending.
	TransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
}

// TxRequest mirrors the eth_sendTransaction parameter object.
type TxRequest struct {
	From  string `json:"from"`
	To    string `json:"to,omitempty"`
	Gas   string `json:"gas,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// CallMsg mirrors the eth_call parameter object.
type CallMsg struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Data string `json:"data"`
}

// Receipt is the subset of a transaction receipt callers act on.
type Receipt struct {
	TxHash   string
	BlockNum uint64
	GasUsed  uint64
	Status   uint8 // 1 success, 0 reverted
}
