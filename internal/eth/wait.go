package eth

import (
	"context"
	"time"
)

const defaultReceiptPoll = time.Second

// WaitMined polls for the receipt of hash until it is available or ctx ends.
// Transient lookup errors are retried on the next tick; only ctx ends the wait.
func WaitMined(ctx context.Context, p Provider, hash string, poll time.Duration) (*Receipt, error) {
	if poll <= 0 {
		poll = defaultReceiptPoll
	}
	t := time.NewTicker(poll)
	defer t.Stop()
	var lastErr error
	for {
		rec, err := p.TransactionReceipt(ctx, hash)
		if err == nil && rec != nil {
			return rec, nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
