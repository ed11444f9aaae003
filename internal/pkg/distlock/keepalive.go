package distlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/conversion-sync/internal/pkg/logger"
)

// Extender is implemented by locks whose ownership expires unless refreshed.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Keepalive extends lock to ttl on every tick of every until stop is called. Locks
// that do not expire (PG advisory locks) get a no-op stop. The returned stop
// blocks until the refresher goroutine has exited.
func Keepalive(ctx context.Context, lock DistLock, ttl, every time.Duration) (stop func()) {
	ext, ok := lock.(Extender)
	if !ok || ttl <= 0 {
		return func() {}
	}
	if every <= 0 || every >= ttl {
		every = ttl / 3
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := ext.Extend(ctx, ttl)
				switch {
				case err == nil:
				case errors.Is(err, ErrNotHeld):
					logger.Error("distlock: lock lost before the holder finished", "error", err)
					return
				case ctx.Err() != nil:
					return
				default:
					logger.Warn("distlock: extending lock failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
