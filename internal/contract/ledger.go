// Package contract binds the deployed Transactions ledger contract over a
// JSON-RPC provider: reads go through eth_call, appends through
// eth_sendTransaction signed by the account-holding endpoint.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/AIAleph/mvp_ledger_mirror/internal/eth"
	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
)

// TransferRecord is one immutable entry of the remote ledger, in append order.
// Amount is an 18-decimal fixed-point integer; Timestamp is seconds since epoch.
type TransferRecord struct {
	Sender    string
	Receiver  string
	Amount    *big.Int
	Message   string
	Timestamp int64
	Keyword   string
}

// ErrNoContract is returned when a call yields empty data, which is what
// nodes answer for an address without code.
var ErrNoContract = errors.New("contract: empty return data (no contract at address?)")

// Ledger is the RPC binding of the ledger contract at a fixed address.
type Ledger struct {
	p       eth.Provider
	address string
	poll    time.Duration
}

// NewLedger binds the contract at address. receiptPoll <= 0 uses the eth default.
func NewLedger(p eth.Provider, address string, receiptPoll time.Duration) (*Ledger, error) {
	if p == nil {
		return nil, errors.New("contract: nil provider")
	}
	address = strings.TrimSpace(address)
	if !ValidAddress(address) {
		return nil, fmt.Errorf("contract: invalid address %q", address)
	}
	return &Ledger{p: p, address: strings.ToLower(address), poll: receiptPoll}, nil
}

// Address returns the lower-cased contract address.
func (l *Ledger) Address() string { return l.address }

func (l *Ledger) call(ctx context.Context, selector string) ([]byte, error) {
	out, err := l.p.Call(ctx, eth.CallMsg{To: l.address, Data: selector})
	if err != nil {
		return nil, err
	}
	data, err := decodeHex(out)
	if err != nil {
		return nil, fmt.Errorf("contract: invalid return data: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoContract
	}
	return data, nil
}

// GetAllTransactions returns the full ledger history in append order.
func (l *Ledger) GetAllTransactions(ctx context.Context) ([]TransferRecord, error) {
	data, err := l.call(ctx, selGetAllTransactions)
	if err != nil {
		return nil, fmt.Errorf("getAllTransactions: %w", err)
	}
	recs, err := decodeTransfers(data)
	if err != nil {
		return nil, fmt.Errorf("getAllTransactions: %w", err)
	}
	return recs, nil
}

// GetTransactionCount returns the number of records in the ledger.
func (l *Ledger) GetTransactionCount(ctx context.Context) (uint64, error) {
	data, err := l.call(ctx, selGetTransactionCount)
	if err != nil {
		return 0, fmt.Errorf("getTransactionCount: %w", err)
	}
	n, err := decodeUint256(data)
	if err != nil {
		return 0, fmt.Errorf("getTransactionCount: %w", err)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("getTransactionCount: count %s overflows uint64", n.String())
	}
	return n.Uint64(), nil
}

// AppendTransaction submits addToBlockchain signed by from. The returned
// handle resolves to the new total count once the append is mined.
func (l *Ledger) AppendTransaction(ctx context.Context, from, to string, amount *big.Int, message, keyword string) (*PendingAppend, error) {
	data, err := encodeAddToBlockchain(to, amount, message, keyword)
	if err != nil {
		return nil, fmt.Errorf("addToBlockchain: %w", err)
	}
	hash, err := l.p.SendTransaction(ctx, eth.TxRequest{From: from, To: l.address, Data: data})
	if err != nil {
		return nil, fmt.Errorf("addToBlockchain: %w", err)
	}
	logging.Logger().Info("ledger_append_submitted",
		"component", "contract.ledger",
		"contract", l.address,
		"tx_hash", hash,
		"from", from,
		"to", to,
	)
	return &PendingAppend{Hash: hash, ledger: l}, nil
}

// PendingAppend is a submitted, not yet confirmed, ledger append.
type PendingAppend struct {
	Hash   string
	ledger *Ledger
}

// Wait blocks until the append is mined and returns the ledger's new count.
// A reverted append is an error.
func (pa *PendingAppend) Wait(ctx context.Context) (uint64, error) {
	rec, err := eth.WaitMined(ctx, pa.ledger.p, pa.Hash, pa.ledger.poll)
	if err != nil {
		return 0, fmt.Errorf("addToBlockchain %s: %w", pa.Hash, err)
	}
	if rec.Status == 0 {
		return 0, fmt.Errorf("addToBlockchain %s: reverted in block %d", pa.Hash, rec.BlockNum)
	}
	logging.Logger().Info("ledger_append_confirmed",
		"component", "contract.ledger",
		"tx_hash", pa.Hash,
		"block_number", rec.BlockNum,
		"gas_used", rec.GasUsed,
	)
	return pa.ledger.GetTransactionCount(ctx)
}
