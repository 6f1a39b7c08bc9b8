package process

import (
	"context"
	"log/slog"
	"os"
	"syscall"

	"github.com/loykin/bootloader/internal/metrics"
)

// Watcher keeps one worker alive on behalf of a watcher generation.
type Watcher struct {
	Service string
	// Spawn starts a fresh worker.
	Spawn func() (*Spawned, error)
	// AutoRestart respawns the worker whenever it exits without a stop
	// request. There is no backoff and no crash-loop limit.
	AutoRestart bool
	Logger      *slog.Logger
	// OnExit runs after every worker exit, before any respawn.
	OnExit func(err error)
}

// Run spawns the worker and blocks until it exits for good. Signals received
// on sigs are forwarded to the worker and end the restart loop; ctx
// cancellation forwards SIGTERM.
func (w *Watcher) Run(ctx context.Context, sigs <-chan os.Signal) error {
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}
	stopping := false
	for {
		sp, err := w.Spawn()
		if err != nil {
			return err
		}
		log.Info("worker started", "service", w.Service, "pid", sp.PID())

		ctxDone := ctx.Done()
	wait:
		for {
			select {
			case <-sp.Done():
				break wait
			case sig := <-sigs:
				stopping = true
				log.Info("forwarding signal to worker", "service", w.Service, "signal", sig.String(), "pid", sp.PID())
				if s, ok := sig.(syscall.Signal); ok {
					_ = signalPID(sp.PID(), s)
				} else {
					_ = sp.Cmd.Process.Signal(sig)
				}
			case <-ctxDone:
				stopping = true
				ctxDone = nil
				_ = signalPID(sp.PID(), syscall.SIGTERM)
			}
		}

		err = sp.Wait()
		if w.OnExit != nil {
			w.OnExit(err)
		}
		if stopping || !w.AutoRestart {
			log.Info("worker exited", "service", w.Service, "error", err)
			return err
		}
		metrics.IncRestart(w.Service)
		log.Warn("worker exited, restarting", "service", w.Service, "error", err)
	}
}
