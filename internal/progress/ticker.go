package progress

import (
	"context"
	"sync"
	"time"
)

// Ticker runs fn once per interval until its context ends or Stop is called.
// After Stop returns, fn is never invoked again.
type Ticker struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartTicker launches the periodic task. A non-positive interval defaults to
// one second.
func StartTicker(ctx context.Context, interval time.Duration, fn func(now time.Time)) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Ticker{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-tick.C:
				// ctx may have ended while waiting on the tick.
				if ctx.Err() != nil {
					return
				}
				fn(now)
			}
		}
	}()
	return t
}

// Stop cancels the task and waits for the goroutine to exit. It must not be
// called from inside fn.
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the task has exited.
func (t *Ticker) Done() <-chan struct{} {
	return t.done
}
