package eth

import (
	"context"
	"fmt"
	"time"

	"github.com/AIAleph/mvp_ledger_mirror/internal/apperr"
	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
)

// InstallHint is the message surfaced when no wallet endpoint is configured.
const InstallHint = "no wallet available: configure WALLET_URL or install a wallet provider"

// Wallet is the account-holding collaborator: it exposes accounts and signs
// and broadcasts native transfers. A nil *Wallet or one without a provider
// reports UnavailableBackend from every method.
type Wallet struct {
	p    Provider
	poll time.Duration
}

// NewWallet returns a Wallet over p. A nil p yields a wallet that is not
// available.
func NewWallet(p Provider, receiptPoll time.Duration) *Wallet {
	return &Wallet{p: p, poll: receiptPoll}
}

// Available reports whether a provider is wired.
func (w *Wallet) Available() bool { return w != nil && w.p != nil }

// Accounts returns accounts already exposed without prompting.
func (w *Wallet) Accounts(ctx context.Context) ([]string, error) {
	if !w.Available() {
		return nil, apperr.UnavailableMsg("wallet.accounts", InstallHint)
	}
	accts, err := w.p.Accounts(ctx)
	if err != nil {
		return nil, Classify("wallet.accounts", err)
	}
	return accts, nil
}

// RequestAccounts prompts for account access. Endpoints that do not know
// eth_requestAccounts (plain nodes) fall back to eth_accounts.
func (w *Wallet) RequestAccounts(ctx context.Context) ([]string, error) {
	if !w.Available() {
		return nil, apperr.UnavailableMsg("wallet.request_accounts", InstallHint)
	}
	accts, err := w.p.RequestAccounts(ctx)
	if IsMethodNotFound(err) {
		accts, err = w.p.Accounts(ctx)
	}
	if err != nil {
		return nil, Classify("wallet.request_accounts", err)
	}
	return accts, nil
}

// SendNativeTransfer sends value from one account to another and blocks until
// the network includes it.
func (w *Wallet) SendNativeTransfer(ctx context.Context, from, to, valueHex, gasHex string) (*Receipt, error) {
	if !w.Available() {
		return nil, apperr.UnavailableMsg("wallet.send_native_transfer", InstallHint)
	}
	hash, err := w.p.SendTransaction(ctx, TxRequest{From: from, To: to, Gas: gasHex, Value: valueHex})
	if err != nil {
		return nil, Classify("wallet.send_native_transfer", err)
	}
	logging.Logger().Info("native_transfer_sent", "component", "eth.wallet", "tx_hash", hash, "from", from, "to", to)
	rec, err := WaitMined(ctx, w.p, hash, w.poll)
	if err != nil {
		return nil, Classify("wallet.send_native_transfer", fmt.Errorf("wait %s: %w", hash, err))
	}
	if rec.Status == 0 {
		return nil, apperr.Unavailable("wallet.send_native_transfer", fmt.Errorf("transaction %s reverted", hash))
	}
	return rec, nil
}

// Classify maps a provider failure to UserRejected or UnavailableBackend.
func Classify(op string, err error) error {
	if IsUserRejected(err) {
		return apperr.Rejected(op, err)
	}
	return apperr.Unavailable(op, err)
}
