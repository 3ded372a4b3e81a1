// Package normalize projects raw ledger records into the read-only shape the
// UI renders. Projection is pure: no I/O, no clock, no dropped records.
package normalize

import (
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AIAleph/mvp_ledger_mirror/internal/apperr"
	"github.com/AIAleph/mvp_ledger_mirror/internal/contract"
)

// AmountDecimals is the fixed-point scale of ledger amounts.
const AmountDecimals = 18

// DefaultLayout renders like an en-US toLocaleString date-time.
const DefaultLayout = "1/2/2006, 3:04:05 PM"

// DisplayTransaction is the UI projection of a contract.TransferRecord.
type DisplayTransaction struct {
	SendTo      string          `json:"sendTo"`
	AddressFrom string          `json:"addressFrom"`
	Timestamp   string          `json:"timestamp"`
	Message     string          `json:"message"`
	Keyword     string          `json:"keyword"`
	Amount      decimal.Decimal `json:"amount"`
}

// MarshalJSON renders amount as a bare JSON number with every digit kept,
// e.g. 0.01 rather than "0.01". Decoding accepts either form.
func (d DisplayTransaction) MarshalJSON() ([]byte, error) {
	type plain DisplayTransaction
	return json.Marshal(struct {
		plain
		Amount json.Number `json:"amount"`
	}{plain: plain(d), Amount: json.Number(d.Amount.String())})
}

// Formatter renders ledger timestamps in a fixed location and layout.
// The zero value formats in time.Local with DefaultLayout.
type Formatter struct {
	Location *time.Location
	Layout   string
}

// NewFormatter resolves tz ("" or "Local" for the host zone) and layout
// ("" for DefaultLayout).
func NewFormatter(tz, layout string) (Formatter, error) {
	f := Formatter{Layout: layout}
	tz = strings.TrimSpace(tz)
	if tz != "" && tz != "Local" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Formatter{}, err
		}
		f.Location = loc
	}
	return f, nil
}

// FormatTimestamp renders epoch seconds.
func (f Formatter) FormatTimestamp(sec int64) string {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	layout := f.Layout
	if layout == "" {
		layout = DefaultLayout
	}
	return time.Unix(sec, 0).In(loc).Format(layout)
}

// Amount converts a fixed-point integer to its exact decimal value.
func Amount(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -AmountDecimals)
}

// Project maps one record.
func (f Formatter) Project(rec contract.TransferRecord) DisplayTransaction {
	return DisplayTransaction{
		SendTo:      rec.Receiver,
		AddressFrom: rec.Sender,
		Timestamp:   f.FormatTimestamp(rec.Timestamp),
		Message:     rec.Message,
		Keyword:     rec.Keyword,
		Amount:      Amount(rec.Amount),
	}
}

// ProjectAll maps records in order. The result is never nil.
func (f Formatter) ProjectAll(recs []contract.TransferRecord) []DisplayTransaction {
	out := make([]DisplayTransaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, f.Project(rec))
	}
	return out
}

// ParseAmount converts a user-entered decimal amount (e.g. "0.01") into its
// fixed-point integer, rejecting negatives and sub-wei precision.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, apperr.Invalid("normalize.parse_amount", "amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, apperr.Invalid("normalize.parse_amount", "amount %q is not a number", s)
	}
	if d.IsNegative() {
		return nil, apperr.Invalid("normalize.parse_amount", "amount %q is negative", s)
	}
	scaled := d.Shift(AmountDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, apperr.Invalid("normalize.parse_amount", "amount %q has more than %d decimals", s, AmountDecimals)
	}
	return scaled.BigInt(), nil
}

// AsAny converts a typed slice into []any for generic encoders.
func AsAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}
