package progress

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// TestTickerStopsCallbacks verifies no callback runs after Stop returns.
func TestTickerStopsCallbacks(t *testing.T) {
	var calls atomic.Int32
	ticker := StartTicker(context.Background(), 5*time.Millisecond, func(time.Time) {
		calls.Add(1)
	})

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticker never fired")
		}
		time.Sleep(time.Millisecond)
	}

	ticker.Stop()
	ticker.Stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != after {
		t.Fatalf("calls after stop = %d, want %d", got, after)
	}
}

// TestTickerEndsWithContext verifies parent cancellation ends the task.
func TestTickerEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ticker := StartTicker(ctx, time.Hour, func(time.Time) {})
	cancel()

	select {
	case <-ticker.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not exit after context cancel")
	}
	ticker.Stop()
}
