package mirror

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/AIAleph/mvp_ledger_mirror/internal/apperr"
	"github.com/AIAleph/mvp_ledger_mirror/internal/contract"
	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
	"github.com/AIAleph/mvp_ledger_mirror/internal/normalize"
	"github.com/AIAleph/mvp_ledger_mirror/internal/store"
)

type fakeLedger struct {
	mu      sync.Mutex
	recs    []contract.TransferRecord
	count   uint64
	listErr error
	cntErr  error
	lists   int
}

func (f *fakeLedger) GetAllTransactions(context.Context) ([]contract.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]contract.TransferRecord(nil), f.recs...), nil
}

func (f *fakeLedger) GetTransactionCount(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cntErr != nil {
		return 0, f.cntErr
	}
	return f.count, nil
}

func (f *fakeLedger) append(rec contract.TransferRecord) {
	f.mu.Lock()
	f.recs = append(f.recs, rec)
	f.count = uint64(len(f.recs))
	f.mu.Unlock()
}

var utc = normalize.Formatter{Location: time.UTC}

func rec(msg string, ts int64) contract.TransferRecord {
	return contract.TransferRecord{Sender: "0xA", Receiver: "0xB", Amount: big.NewInt(ts), Message: msg, Timestamp: ts, Keyword: "k"}
}

func newMirror(t *testing.T, l Ledger, kv store.KV) *Mirror {
	t.Helper()
	logging.DiscardLogging()
	return New(context.Background(), l, store.NewCountCache(kv), utc)
}

func TestRefresh_MirrorsRemoteOrder(t *testing.T) {
	fl := &fakeLedger{}
	for i, msg := range []string{"c", "a", "b", "a"} {
		fl.append(rec(msg, int64(1700000000+i)))
	}
	m := newMirror(t, fl, store.NewMemory())
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := m.Transactions()
	want := utc.ProjectAll(fl.recs)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v\nwant %+v", got, want)
	}
	if m.LastRefresh().IsZero() {
		t.Fatal("LastRefresh should be set")
	}
}

func TestRefresh_EmptyLedger(t *testing.T) {
	m := newMirror(t, &fakeLedger{}, store.NewMemory())
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := m.Transactions()
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %#v", got)
	}
}

func TestRefresh_Idempotent(t *testing.T) {
	fl := &fakeLedger{}
	fl.append(rec("x", 1))
	fl.append(rec("y", 2))
	m := newMirror(t, fl, store.NewMemory())
	_ = m.Refresh(context.Background())
	first := m.Transactions()
	_ = m.Refresh(context.Background())
	if !reflect.DeepEqual(first, m.Transactions()) {
		t.Fatal("second refresh changed the list")
	}
}

func TestRefresh_FailureKeepsPriorList(t *testing.T) {
	fl := &fakeLedger{}
	fl.append(rec("kept", 1))
	m := newMirror(t, fl, store.NewMemory())
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	fl.listErr = errors.New("connection reset")
	err := m.Refresh(context.Background())
	if !errors.Is(err, apperr.ErrUnavailableBackend) {
		t.Fatalf("expected UnavailableBackend, got %v", err)
	}
	got := m.Transactions()
	if len(got) != 1 || got[0].Message != "kept" {
		t.Fatalf("prior list not preserved: %+v", got)
	}
}

func TestOperations_WithoutLedger(t *testing.T) {
	m := newMirror(t, nil, store.NewMemory())
	ctx := context.Background()
	for name, err := range map[string]error{
		"refresh":         m.Refresh(ctx),
		"refresh_count":   m.RefreshCount(ctx),
		"record_appended": m.RecordAppended(ctx, 3),
	} {
		if !errors.Is(err, apperr.ErrUnavailableBackend) {
			t.Fatalf("%s: expected UnavailableBackend, got %v", name, err)
		}
	}
}

func TestTransactions_ReturnsCopy(t *testing.T) {
	fl := &fakeLedger{}
	fl.append(rec("orig", 1))
	m := newMirror(t, fl, store.NewMemory())
	_ = m.Refresh(context.Background())
	got := m.Transactions()
	got[0].Message = "mutated"
	if m.Transactions()[0].Message != "orig" {
		t.Fatal("callers must not be able to mutate the mirror")
	}
}

func TestNew_ReadsPersistedCountOnce(t *testing.T) {
	kv := store.NewMemory()
	_ = kv.Set(context.Background(), store.CountKey, "5")
	m := newMirror(t, &fakeLedger{}, kv)
	if n, ok := m.CachedCount(); !ok || n != 5 {
		t.Fatalf("n=%d ok=%v", n, ok)
	}
	// later external writes are not re-read
	_ = kv.Set(context.Background(), store.CountKey, "9")
	if n, _ := m.CachedCount(); n != 5 {
		t.Fatalf("count re-read from store: %d", n)
	}
	empty := newMirror(t, &fakeLedger{}, store.NewMemory())
	if _, ok := empty.CachedCount(); ok {
		t.Fatal("no count should be known on a fresh store")
	}
}

func TestRefreshCount_PersistsAndOverwrites(t *testing.T) {
	kv := store.NewMemory()
	fl := &fakeLedger{count: 3}
	m := newMirror(t, fl, kv)
	if err := m.RefreshCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	if raw, _, _ := kv.Get(context.Background(), store.CountKey); raw != "3" {
		t.Fatalf("persisted %q", raw)
	}
	fl.count = 4
	_ = m.RefreshCount(context.Background())
	if n, _ := m.CachedCount(); n != 4 {
		t.Fatalf("count = %d", n)
	}
}

func TestRefreshCount_FailureLeavesCache(t *testing.T) {
	kv := store.NewMemory()
	_ = kv.Set(context.Background(), store.CountKey, "2")
	fl := &fakeLedger{cntErr: errors.New("timeout")}
	m := newMirror(t, fl, kv)
	if err := m.RefreshCount(context.Background()); !errors.Is(err, apperr.ErrUnavailableBackend) {
		t.Fatalf("expected UnavailableBackend, got %v", err)
	}
	if raw, _, _ := kv.Get(context.Background(), store.CountKey); raw != "2" {
		t.Fatalf("cache overwritten on failure: %q", raw)
	}
	if n, ok := m.CachedCount(); !ok || n != 2 {
		t.Fatalf("n=%d ok=%v", n, ok)
	}
}

func TestRecordAppended_UpdatesCacheAndList(t *testing.T) {
	kv := store.NewMemory()
	fl := &fakeLedger{}
	m := newMirror(t, fl, kv)
	fl.append(rec("new", 10))
	if err := m.RecordAppended(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if raw, _, _ := kv.Get(context.Background(), store.CountKey); raw != "1" {
		t.Fatalf("persisted %q", raw)
	}
	if got := m.Transactions(); len(got) != 1 || got[0].Message != "new" {
		t.Fatalf("list not refreshed: %+v", got)
	}
	// no intervening append: refreshCount agrees with recordAppended
	if err := m.RefreshCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.CachedCount(); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestRecordAppended_RefreshFailureStillStoresCount(t *testing.T) {
	kv := store.NewMemory()
	fl := &fakeLedger{listErr: errors.New("down")}
	m := newMirror(t, fl, kv)
	if err := m.RecordAppended(context.Background(), 8); !errors.Is(err, apperr.ErrUnavailableBackend) {
		t.Fatalf("expected UnavailableBackend, got %v", err)
	}
	if n, ok := m.CachedCount(); !ok || n != 8 {
		t.Fatalf("n=%d ok=%v", n, ok)
	}
}

type failingCounts struct{}

func (failingCounts) Load(context.Context) (uint64, bool, error) {
	return 0, false, errors.New("corrupt")
}
func (failingCounts) Store(context.Context, uint64) error { return errors.New("read-only") }

func TestCountStoreFailures(t *testing.T) {
	logging.DiscardLogging()
	m := New(context.Background(), &fakeLedger{count: 1}, failingCounts{}, utc)
	if _, ok := m.CachedCount(); ok {
		t.Fatal("failed load must not report a known count")
	}
	if err := m.RefreshCount(context.Background()); !errors.Is(err, apperr.ErrUnavailableBackend) {
		t.Fatalf("expected UnavailableBackend, got %v", err)
	}
	if _, ok := m.CachedCount(); ok {
		t.Fatal("count must stay unknown when persisting fails")
	}
}

func TestNilCountStoreKeepsCountInMemory(t *testing.T) {
	logging.DiscardLogging()
	m := New(context.Background(), &fakeLedger{count: 6}, nil, utc)
	if err := m.RefreshCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n, ok := m.CachedCount(); !ok || n != 6 {
		t.Fatalf("n=%d ok=%v", n, ok)
	}
}

func TestConcurrentReadersSeeWholeLists(t *testing.T) {
	fl := &fakeLedger{}
	m := newMirror(t, fl, store.NewMemory())
	ctx := context.Background()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			fl.append(rec("r", int64(i)))
			_ = m.Refresh(ctx)
		}
		close(stop)
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				txs := m.Transactions()
				for i, tx := range txs {
					if tx.Message != "r" || tx.Amount.Sign() < 0 || (i > 0 && txs[i-1].Amount.GreaterThan(tx.Amount)) {
						t.Errorf("inconsistent snapshot at %d: %+v", i, tx)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	if got := len(m.Transactions()); got != 50 {
		t.Fatalf("final list len = %d", got)
	}
}
