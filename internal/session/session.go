// Package session holds the UI-facing state of one wallet user: the connected
// account, the transfer form, the mirrored ledger and the loading flag. It
// performs no UI side effects; every failure is returned as an apperr error.
package session

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AIAleph/mvp_ledger_mirror/internal/apperr"
	"github.com/AIAleph/mvp_ledger_mirror/internal/contract"
	"github.com/AIAleph/mvp_ledger_mirror/internal/eth"
	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
	"github.com/AIAleph/mvp_ledger_mirror/internal/mirror"
	"github.com/AIAleph/mvp_ledger_mirror/internal/normalize"
)

// NativeTransferGas is the fixed gas limit of a plain value transfer (21000).
var NativeTransferGas = eth.ToHex(21000)

// Wallet is the account-holding collaborator. *eth.Wallet implements it.
type Wallet interface {
	Accounts(ctx context.Context) ([]string, error)
	RequestAccounts(ctx context.Context) ([]string, error)
	SendNativeTransfer(ctx context.Context, from, to, valueHex, gasHex string) (*eth.Receipt, error)
}

// Pending is a submitted ledger append.
type Pending interface {
	Wait(ctx context.Context) (uint64, error)
}

// Appender is the write side of the ledger.
type Appender interface {
	Append(ctx context.Context, from, to string, amount *big.Int, message, keyword string) (Pending, error)
}

type ledgerAppender struct{ l *contract.Ledger }

func (a ledgerAppender) Append(ctx context.Context, from, to string, amount *big.Int, message, keyword string) (Pending, error) {
	pa, err := a.l.AppendTransaction(ctx, from, to, amount, message, keyword)
	if err != nil {
		return nil, err
	}
	return pa, nil
}

// LedgerAppender adapts a contract binding. A nil binding yields a nil Appender.
func LedgerAppender(l *contract.Ledger) Appender {
	if l == nil {
		return nil
	}
	return ledgerAppender{l: l}
}

// Form field names accepted by HandleChange.
const (
	FieldSendTo  = "sendTo"
	FieldAmount  = "amount"
	FieldKeyword = "keyword"
	FieldMessage = "message"
)

// FormData is the pending transfer as typed by the user.
type FormData struct {
	SendTo  string `json:"sendTo"`
	Amount  string `json:"amount"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// State is the value the UI renders. TxCount is nil until a count is known.
type State struct {
	ConnectedAccount string                         `json:"connectedAccount"`
	FormData         FormData                       `json:"formData"`
	Transactions     []normalize.DisplayTransaction `json:"transactions"`
	IsLoading        bool                           `json:"isLoading"`
	TxCount          *uint64                        `json:"txCount"`
	RefreshedAt      *time.Time                     `json:"refreshedAt,omitempty"`
}

// SendResult describes a confirmed transfer and its ledger entry.
type SendResult struct {
	TransferHash string `json:"transferHash"`
	AppendHash   string `json:"appendHash,omitempty"`
	TxCount      uint64 `json:"txCount"`
}

// Session is safe for concurrent use. At most one SendTransaction runs at a time.
type Session struct {
	wallet Wallet
	ledger Appender
	mirror *mirror.Mirror

	mu      sync.Mutex
	account string
	form    FormData
	loading bool
	sending bool
}

// New wires a session. wallet and ledger may be nil; operations needing them
// then fail with UnavailableBackend.
func New(wallet Wallet, ledger Appender, m *mirror.Mirror) *Session {
	return &Session{wallet: wallet, ledger: ledger, mirror: m}
}

func (s *Session) walletOrErr(op string) (Wallet, error) {
	if s.wallet == nil {
		return nil, apperr.UnavailableMsg(op, eth.InstallHint)
	}
	return s.wallet, nil
}

// CheckIfWalletIsConnected picks up an account the wallet already exposes
// and loads the ledger for it.
func (s *Session) CheckIfWalletIsConnected(ctx context.Context) error {
	const op = "session.check_wallet"
	w, err := s.walletOrErr(op)
	if err != nil {
		return logFailure(op, err)
	}
	accts, err := w.Accounts(ctx)
	if err != nil {
		return logFailure(op, err)
	}
	if len(accts) == 0 {
		logging.Logger().Info("no_accounts_found", "component", "session")
		return nil
	}
	s.setAccount(accts[0])
	return s.mirror.Refresh(ctx)
}

// CheckIfTransactionsExist refreshes the cached ledger count.
func (s *Session) CheckIfTransactionsExist(ctx context.Context) error {
	return s.mirror.RefreshCount(ctx)
}

// Init runs both startup checks concurrently. Neither cancels the other; the
// first failure is returned.
func (s *Session) Init(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.CheckIfWalletIsConnected(ctx) })
	g.Go(func() error { return s.CheckIfTransactionsExist(ctx) })
	return g.Wait()
}

// ConnectWallet prompts for account access and connects the first account.
func (s *Session) ConnectWallet(ctx context.Context) (string, error) {
	const op = "session.connect_wallet"
	w, err := s.walletOrErr(op)
	if err != nil {
		return "", logFailure(op, err)
	}
	accts, err := w.RequestAccounts(ctx)
	if err != nil {
		return "", logFailure(op, err)
	}
	if len(accts) == 0 {
		return "", logFailure(op, apperr.UnavailableMsg(op, "wallet returned no accounts"))
	}
	s.setAccount(accts[0])
	logging.Logger().Info("wallet_connected", "component", "session", "account", accts[0])
	return accts[0], nil
}

// HandleChange sets one form field by name.
func (s *Session) HandleChange(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case FieldSendTo:
		s.form.SendTo = value
	case FieldAmount:
		s.form.Amount = value
	case FieldKeyword:
		s.form.Keyword = value
	case FieldMessage:
		s.form.Message = value
	default:
		return apperr.Invalid("session.handle_change", "unknown form field %q", name)
	}
	return nil
}

// SendTransaction sends the form amount to the form recipient, records the
// transfer in the ledger and refreshes the mirror once the entry is mined.
func (s *Session) SendTransaction(ctx context.Context) (*SendResult, error) {
	const op = "session.send_transaction"
	w, err := s.walletOrErr(op)
	if err != nil {
		return nil, logFailure(op, err)
	}
	if s.ledger == nil {
		return nil, logFailure(op, apperr.UnavailableMsg(op, "no ledger contract configured"))
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return nil, apperr.Invalid(op, "a transaction is already in progress")
	}
	from, form := s.account, s.form
	s.sending = true
	s.mu.Unlock()
	defer s.finishSend()

	if from == "" {
		return nil, apperr.Invalid(op, "no connected account")
	}
	to := strings.TrimSpace(form.SendTo)
	if !contract.ValidAddress(to) {
		return nil, apperr.Invalid(op, "recipient %q is not an address", form.SendTo)
	}
	amount, err := normalize.ParseAmount(form.Amount)
	if err != nil {
		return nil, err
	}

	rec, err := w.SendNativeTransfer(ctx, from, to, eth.BigToHex(amount), NativeTransferGas)
	if err != nil {
		return nil, logFailure(op, err)
	}
	res := &SendResult{TransferHash: rec.TxHash}

	pending, err := s.ledger.Append(ctx, from, to, amount, form.Message, form.Keyword)
	if err != nil {
		return res, logFailure(op, eth.Classify(op, err))
	}
	if pa, ok := pending.(*contract.PendingAppend); ok {
		res.AppendHash = pa.Hash
	}
	s.setLoading(true)
	logging.Logger().Info("ledger_append_pending", "component", "session", "tx_hash", res.AppendHash)

	n, err := pending.Wait(ctx)
	s.setLoading(false)
	if err != nil {
		return res, logFailure(op, apperr.Unavailable(op, err))
	}
	res.TxCount = n
	logging.Logger().Info("ledger_append_done", "component", "session", "tx_hash", res.AppendHash, "tx_count", n)
	return res, s.mirror.RecordAppended(ctx, n)
}

func (s *Session) finishSend() {
	s.mu.Lock()
	s.sending, s.loading = false, false
	s.mu.Unlock()
}

// RefreshTransactions reloads the mirrored ledger.
func (s *Session) RefreshTransactions(ctx context.Context) error {
	return s.mirror.Refresh(ctx)
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	st := State{ConnectedAccount: s.account, FormData: s.form, IsLoading: s.loading}
	s.mu.Unlock()
	st.Transactions = s.mirror.Transactions()
	if n, ok := s.mirror.CachedCount(); ok {
		st.TxCount = &n
	}
	if at := s.mirror.LastRefresh(); !at.IsZero() {
		st.RefreshedAt = &at
	}
	return st
}

func (s *Session) setAccount(a string) {
	s.mu.Lock()
	s.account = a
	s.mu.Unlock()
}

func (s *Session) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func logFailure(op string, err error) error {
	logging.Logger().Warn("session_operation_failed",
		"component", "session",
		"op", op,
		"kind", apperr.KindOf(err).String(),
		"error", err.Error(),
	)
	return err
}
