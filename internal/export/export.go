// Package export writes ledger snapshots to ClickHouse for offline analysis.
// Each snapshot is tagged with a fresh ID so repeated exports never collide.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AIAleph/mvp_ledger_mirror/internal/normalize"
	"github.com/AIAleph/mvp_ledger_mirror/pkg/ch"
)

// Sink is the ClickHouse surface used here. *ch.Client implements it.
type Sink interface {
	Enabled() bool
	Exec(ctx context.Context, stmt string) error
	InsertJSONEachRow(ctx context.Context, table string, rows []any) error
}

// Row is one exported ledger entry.
type Row struct {
	SnapshotID string `json:"snapshot_id"`
	ExportedAt string `json:"exported_at"`
	Contract   string `json:"contract"`
	Position   int    `json:"position"`
	Sender     string `json:"sender"`
	Receiver   string `json:"receiver"`
	Amount     string `json:"amount"`
	Message    string `json:"message"`
	Keyword    string `json:"keyword"`
	Timestamp  string `json:"timestamp"`
}

// Exporter appends snapshots to one table.
type Exporter struct {
	sink  Sink
	table string
	now   func() time.Time
	newID func() string
}

// New returns an Exporter writing to table.
func New(sink Sink, table string) *Exporter {
	return &Exporter{
		sink:  sink,
		table: ch.SanitizeIdent(table),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Enabled reports whether exports reach a real sink.
func (e *Exporter) Enabled() bool { return e != nil && e.sink != nil && e.sink.Enabled() }

// EnsureTable creates the target table when missing.
func (e *Exporter) EnsureTable(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	snapshot_id UUID,
	exported_at DateTime64(3, 'UTC'),
	contract String,
	position UInt32,
	sender String,
	receiver String,
	amount Decimal(38, 18),
	message String,
	keyword String,
	timestamp String
) ENGINE = MergeTree ORDER BY (contract, snapshot_id, position)`, e.table)
	return e.sink.Exec(ctx, stmt)
}

// Rows builds the rows of one snapshot, preserving ledger order.
func (e *Exporter) Rows(contract string, txs []normalize.DisplayTransaction) []Row {
	id := e.newID()
	at := e.now().UTC().Format("2006-01-02 15:04:05.000")
	rows := make([]Row, len(txs))
	for i, tx := range txs {
		rows[i] = Row{
			SnapshotID: id,
			ExportedAt: at,
			Contract:   contract,
			Position:   i,
			Sender:     tx.AddressFrom,
			Receiver:   tx.SendTo,
			Amount:     tx.Amount.String(),
			Message:    tx.Message,
			Keyword:    tx.Keyword,
			Timestamp:  tx.Timestamp,
		}
	}
	return rows
}

// Export writes one snapshot and returns the number of rows written.
func (e *Exporter) Export(ctx context.Context, contract string, txs []normalize.DisplayTransaction) (int, error) {
	if !e.Enabled() || len(txs) == 0 {
		return 0, nil
	}
	rows := e.Rows(contract, txs)
	if err := e.sink.InsertJSONEachRow(ctx, e.table, normalize.AsAny(rows)); err != nil {
		return 0, fmt.Errorf("export %s: %w", e.table, err)
	}
	return len(rows), nil
}
