package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

// Coordinator runs registered cleanup callbacks exactly once, in
// registration order, when Close is first called.
type Coordinator struct {
	mu      sync.Mutex
	closers []func(reason string) error
	closed  bool
	reason  string
	done    chan struct{}
	log     *slog.Logger
}

func New(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{done: make(chan struct{}), log: log}
}

// OnClose registers fn. Callbacks registered after Close are run immediately.
func (c *Coordinator) OnClose(fn func(reason string) error) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		reason := c.reason
		c.mu.Unlock()
		if err := fn(reason); err != nil {
			c.log.Warn("late close callback failed", "error", err)
		}
		return
	}
	c.closers = append(c.closers, fn)
	c.mu.Unlock()
}

// Close runs every callback once. Subsequent calls return nil.
func (c *Coordinator) Close(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.reason = reason
	fns := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(reason); err != nil {
			c.log.Warn("close callback failed", "reason", reason, "error", err)
			errs = append(errs, err)
		}
	}
	close(c.done)
	return errors.Join(errs...)
}

// Done is closed after the callbacks of the first Close have returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Closed reports whether Close has been called.
func (c *Coordinator) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// NotifyContext returns a context cancelled on the first of sigs. The
// coordinator is closed with the signal name as reason before cancellation.
func (c *Coordinator) NotifyContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			c.log.Info("received signal", "signal", sig.String())
			_ = c.Close(sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
