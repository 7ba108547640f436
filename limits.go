package pdf

import (
	"context"
	"time"
)

// parseTimer tracks how long a rebuild scan has been running (it is
// started when the scan begins), so the rebuild-scan path (the one
// operation whose cost scales with document size rather than object
// count) can be told to give up even without an explicit context
// deadline.
type parseTimer struct {
	start   time.Time
	maxScan time.Duration
}

func newParseTimer(maxScan time.Duration) *parseTimer {
	return &parseTimer{start: monotonicNow(), maxScan: maxScan}
}

func (t *parseTimer) expired() bool {
	if t == nil || t.maxScan <= 0 {
		return false
	}
	return monotonicNow().Sub(t.start) > t.maxScan
}

// monotonicNow is split out so tests can substitute a fake clock
// without touching call sites; production code always uses time.Now.
var monotonicNow = time.Now

// contextChecker centralizes the "should we keep going" decision a
// long-running scan makes between chunks: an explicit context
// cancellation always wins, then falls back to a wall-clock ceiling.
type contextChecker struct {
	ctx   context.Context
	timer *parseTimer
}

func newContextChecker(ctx context.Context, timer *parseTimer) *contextChecker {
	if ctx == nil {
		ctx = context.Background()
	}
	return &contextChecker{ctx: ctx, timer: timer}
}

// check returns a non-nil error, suitable for wrapping with
// handlerErrorf, the first time the checker decides the caller should
// stop.
func (c *contextChecker) check() error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if c.timer.expired() {
		return context.DeadlineExceeded
	}
	return nil
}
