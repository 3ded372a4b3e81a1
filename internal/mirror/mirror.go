// Package mirror keeps a local, display-ready read model of the remote
// append-only ledger and a persisted copy of its record count.
//
// The list and the cached count are refreshed independently. When another
// writer appends between a count refresh and a list refresh the two can
// briefly disagree; the remote ledger is the only source of truth.
package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AIAleph/mvp_ledger_mirror/internal/apperr"
	"github.com/AIAleph/mvp_ledger_mirror/internal/contract"
	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
	"github.com/AIAleph/mvp_ledger_mirror/internal/normalize"
)

// Ledger is the read side of the remote ledger.
type Ledger interface {
	GetAllTransactions(ctx context.Context) ([]contract.TransferRecord, error)
	GetTransactionCount(ctx context.Context) (uint64, error)
}

// CountStore persists the last observed count.
type CountStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Store(ctx context.Context, n uint64) error
}

var errNoLedger = errors.New("no ledger handle configured")

// Mirror is safe for concurrent use. Readers always see a complete list.
type Mirror struct {
	ledger Ledger
	counts CountStore
	format normalize.Formatter

	mu         sync.RWMutex
	txs        []normalize.DisplayTransaction
	count      uint64
	countKnown bool
	refreshed  time.Time
}

// New builds a Mirror and reads the persisted count once. A nil ledger is
// allowed; every remote operation then fails with UnavailableBackend. A nil
// counts store keeps the count in memory only.
func New(ctx context.Context, ledger Ledger, counts CountStore, format normalize.Formatter) *Mirror {
	m := &Mirror{
		ledger: ledger,
		counts: counts,
		format: format,
		txs:    []normalize.DisplayTransaction{},
	}
	if counts != nil {
		n, ok, err := counts.Load(ctx)
		if err != nil {
			logging.Logger().Warn("count_cache_load_failed", "component", "mirror", "error", err.Error())
		}
		m.count, m.countKnown = n, ok
	}
	return m
}

// Refresh replaces the in-memory list with the projection of the full remote
// history. On failure the previous list is kept.
func (m *Mirror) Refresh(ctx context.Context) error {
	const op = "mirror.refresh"
	if m.ledger == nil {
		return m.fail(op, errNoLedger)
	}
	start := time.Now()
	recs, err := m.ledger.GetAllTransactions(ctx)
	if err != nil {
		return m.fail(op, err)
	}
	txs := m.format.ProjectAll(recs)
	now := time.Now()
	m.mu.Lock()
	m.txs = txs
	m.refreshed = now
	m.mu.Unlock()
	logging.Logger().Info("mirror_refreshed",
		"component", "mirror",
		"records", len(txs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// RefreshCount reads the remote count and persists it. On failure the cached
// count is left unchanged.
func (m *Mirror) RefreshCount(ctx context.Context) error {
	const op = "mirror.refresh_count"
	if m.ledger == nil {
		return m.fail(op, errNoLedger)
	}
	n, err := m.ledger.GetTransactionCount(ctx)
	if err != nil {
		return m.fail(op, err)
	}
	return m.storeCount(ctx, op, n)
}

// RecordAppended stores the count reported after a confirmed append and then
// refreshes the list so it includes the new record.
func (m *Mirror) RecordAppended(ctx context.Context, newCount uint64) error {
	if err := m.storeCount(ctx, "mirror.record_appended", newCount); err != nil {
		return err
	}
	return m.Refresh(ctx)
}

func (m *Mirror) storeCount(ctx context.Context, op string, n uint64) error {
	if m.counts != nil {
		if err := m.counts.Store(ctx, n); err != nil {
			return m.fail(op, err)
		}
	}
	m.mu.Lock()
	m.count, m.countKnown = n, true
	m.mu.Unlock()
	return nil
}

func (m *Mirror) fail(op string, err error) error {
	logging.Logger().Warn("mirror_operation_failed", "component", "mirror", "op", op, "error", err.Error())
	return apperr.Unavailable(op, err)
}

// Transactions returns a copy of the current list in ledger order.
func (m *Mirror) Transactions() []normalize.DisplayTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]normalize.DisplayTransaction, len(m.txs))
	copy(out, m.txs)
	return out
}

// CachedCount returns the last known remote count and whether one is known.
func (m *Mirror) CachedCount() (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count, m.countKnown
}

// LastRefresh returns when the list was last replaced; zero if never.
func (m *Mirror) LastRefresh() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshed
}
