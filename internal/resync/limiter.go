// Package resync provides the bandwidth limiter backing array.set_options'
// process_max_bandwidth_mb_sec tunable (§6), used to throttle the
// background resync/rebuild process that repopulates a newly added or
// replaced slot.
package resync

import (
	"context"

	"golang.org/x/time/rate"
)

// DefaultWindowSizeKB is the default chunk size used when metering
// resync I/O against the bandwidth limiter.
const DefaultWindowSizeKB = 512

// Limiter throttles background resync throughput to a configured
// megabytes-per-second ceiling.
type Limiter struct {
	lim       *rate.Limiter
	windowKB  int
	mbPerSec  float64
}

// NewLimiter returns a Limiter allowing mbPerSec megabytes per second,
// bursting up to one window. A mbPerSec of zero disables throttling.
func NewLimiter(mbPerSec float64, windowSizeKB int) *Limiter {
	if windowSizeKB <= 0 {
		windowSizeKB = DefaultWindowSizeKB
	}
	if mbPerSec <= 0 {
		return &Limiter{lim: nil, windowKB: windowSizeKB}
	}
	bytesPerSec := mbPerSec * 1024 * 1024
	burst := windowSizeKB * 1024
	return &Limiter{
		lim:      rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		windowKB: windowSizeKB,
		mbPerSec: mbPerSec,
	}
}

// Wait blocks until n bytes of resync I/O may proceed, or ctx is done.
// A disabled Limiter (zero bandwidth configured) never blocks.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l.lim == nil {
		return nil
	}
	return l.lim.WaitN(ctx, n)
}

// SetRate reconfigures the limiter's throughput ceiling, applied by
// array.set_options without requiring the resync process to restart.
func (l *Limiter) SetRate(mbPerSec float64, windowSizeKB int) {
	if windowSizeKB <= 0 {
		windowSizeKB = l.windowKB
	}
	l.windowKB = windowSizeKB
	l.mbPerSec = mbPerSec

	if mbPerSec <= 0 {
		l.lim = nil
		return
	}
	bytesPerSec := mbPerSec * 1024 * 1024
	burst := windowSizeKB * 1024
	if l.lim == nil {
		l.lim = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
		return
	}
	l.lim.SetLimit(rate.Limit(bytesPerSec))
	l.lim.SetBurst(burst)
}

// WindowSizeKB reports the currently configured window size.
func (l *Limiter) WindowSizeKB() int {
	return l.windowKB
}

// MBPerSec reports the currently configured throughput ceiling; zero
// means throttling is disabled.
func (l *Limiter) MBPerSec() float64 {
	return l.mbPerSec
}
