// Package shutdown turns an operator interrupt into cancellation of the
// crawl context.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"

	"vkharvest/pkg/logger"
)

// ErrInterrupted is the cancellation cause after an interrupt or Trigger
var ErrInterrupted = errors.New("shutdown requested")

// Coordinator relays the first os.Interrupt into context cancellation.
// Later interrupts are ignored; the crawl loop still drains.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	sigCh  chan os.Signal
	stop   chan struct{}
	logger logger.Logger

	once     sync.Once
	stopOnce sync.Once
}

// New starts listening for os.Interrupt. Call Stop to release the handler.
func New(parent context.Context, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	ctx, cancel := context.WithCancelCause(parent)
	c := &Coordinator{
		ctx:    ctx,
		cancel: cancel,
		sigCh:  make(chan os.Signal, 1),
		stop:   make(chan struct{}),
		logger: log.WithField("component", "shutdown"),
	}
	signal.Notify(c.sigCh, os.Interrupt)
	go c.relay()
	return c
}

func (c *Coordinator) relay() {
	for {
		select {
		case sig := <-c.sigCh:
			if c.Triggered() {
				c.logger.Warn("interrupt received again, still draining")
				continue
			}
			c.logger.InfoWithFields("interrupt received, finishing current step", map[string]interface{}{
				"signal": sig.String(),
			})
			c.Trigger()
		case <-c.stop:
			return
		}
	}
}

// Context is cancelled once shutdown is requested
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Trigger requests shutdown as if an interrupt had arrived
func (c *Coordinator) Trigger() {
	c.once.Do(func() {
		c.cancel(ErrInterrupted)
	})
}

// Triggered reports whether shutdown was requested
func (c *Coordinator) Triggered() bool {
	return errors.Is(context.Cause(c.ctx), ErrInterrupted)
}

// Stop unregisters the signal handler. The context is left as is.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		signal.Stop(c.sigCh)
		close(c.stop)
	})
}
