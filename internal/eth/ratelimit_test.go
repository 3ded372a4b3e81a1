package eth

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestNewLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(0)
	if _, ok := l.(nopLimiter); !ok {
		t.Fatalf("expected nopLimiter, got %T", l)
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNewLimiter_RateAndBurst(t *testing.T) {
	rl, ok := NewLimiter(4).(*rate.Limiter)
	if !ok {
		t.Fatalf("expected *rate.Limiter, got %T", NewLimiter(4))
	}
	if rl.Limit() != 4 || rl.Burst() != 4 {
		t.Fatalf("limit=%v burst=%d", rl.Limit(), rl.Burst())
	}
}

func TestLimiter_Cancel(t *testing.T) {
	l := NewLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatalf("expected error on canceled context")
	}
}

func TestLimiter_BurstThenThrottle(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first call inside burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("second call should not fit before the deadline")
	}
}

func TestLimiter_WaitsForSlot(t *testing.T) {
	l := NewLimiter(100)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("waited too long: %v", elapsed)
	}
}
