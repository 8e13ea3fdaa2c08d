package rtcnego

import (
	"context"
	"runtime"
	"time"
)

// Delay blocks for at least d. A non-positive d only yields the processor.
// It returns ctx.Err() if ctx is done before d elapses.
func Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		runtime.Gosched()
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
