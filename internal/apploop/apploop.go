// Package apploop implements the single "application thread" the
// concurrency model requires all control-plane transitions to run on
// (§5): create/assemble/configure/deconfigure/add/remove/grow/delete
// execute exclusively here. Worker threads post closures rather than
// calling into the lifecycle engine directly.
package apploop

import (
	"context"

	"gopkg.in/tomb.v2"

	"github.com/lattice-storage/go-raid/internal/logging"
)

// Dispatcher drains a buffered channel of closures on a single
// goroutine, supervised by a tomb.Tomb so callers can wait for a clean
// shutdown.
type Dispatcher struct {
	t      tomb.Tomb
	work   chan func()
	logger *logging.Logger
}

// NewDispatcher creates a Dispatcher with the given work-queue depth.
func NewDispatcher(queueDepth int, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		work:   make(chan func(), queueDepth),
		logger: logger.Named("apploop"),
	}
}

// Start launches the application-thread goroutine.
func (d *Dispatcher) Start() {
	d.t.Go(func() error {
		d.logger.Debug("application thread starting")
		for {
			select {
			case <-d.t.Dying():
				d.logger.Debug("application thread stopping")
				return nil
			case fn := <-d.work:
				if fn != nil {
					fn()
				}
			}
		}
	})
}

// Post enqueues fn to run on the application thread. Used both by
// worker-thread-triggered control operations (§5 "posted as a message to
// the application thread") and by continuation callbacks resuming a
// suspended state machine (§5 "Suspension points").
func (d *Dispatcher) Post(fn func()) {
	select {
	case d.work <- fn:
	case <-d.t.Dying():
	}
}

// PostAndWait enqueues fn and blocks until it has run, or returns
// ctx's error if ctx is cancelled first.
func (d *Dispatcher) PostAndWait(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	d.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the application thread to exit and waits for it.
func (d *Dispatcher) Stop() error {
	d.t.Kill(nil)
	return d.t.Wait()
}
