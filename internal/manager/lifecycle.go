package manager

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/bootloader/internal/metrics"
	"github.com/loykin/bootloader/internal/options"
	"github.com/loykin/bootloader/internal/process"
	"github.com/loykin/bootloader/internal/registry"
	"github.com/spf13/cobra"
)

const settlePoll = 10 * time.Millisecond

// Start, Stop, Restart, Debug, RestartDebug and Status run one lifecycle
// command against the named service with the current options.

func (s *Supervisor) Start(ctx context.Context, name string) error {
	return s.named(ctx, name, options.CmdStart)
}

func (s *Supervisor) Stop(ctx context.Context, name string) error {
	return s.named(ctx, name, options.CmdStop)
}

func (s *Supervisor) Restart(ctx context.Context, name string) error {
	return s.named(ctx, name, options.CmdRestart)
}

func (s *Supervisor) Debug(ctx context.Context, name string) error {
	return s.named(ctx, name, options.CmdDebug)
}

func (s *Supervisor) RestartDebug(ctx context.Context, name string) error {
	return s.named(ctx, name, options.CmdRestartDebug)
}

func (s *Supervisor) Status(ctx context.Context, name string) error {
	return s.named(ctx, name, options.CmdStatus)
}

// Manual prints the usage text.
func (s *Supervisor) Manual() error { return s.manual(s.Command()) }

func (s *Supervisor) named(ctx context.Context, name string, cmd options.Command) error {
	svc, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.cli.Command = cmd
	return s.apply(ctx, svc, cmd)
}

func (s *Supervisor) manual(c *cobra.Command) error {
	c.SetOut(s.stdout)
	return c.Usage()
}

func (s *Supervisor) say(format string, args ...any) {
	_, _ = fmt.Fprintf(s.stdout, format+"\n", args...)
}

// State is the observed liveness of svc.
func (s *Supervisor) State(svc Service) registry.State { return s.reg.State(s.Target(svc)) }

func (s *Supervisor) start(ctx context.Context, svc Service) error {
	t := s.Target(svc)
	if svc.DebugOnly {
		s.say("%s is debug only. Run 'debug' or 'restart-debug'.", t.Title)
		return nil
	}
	if st := s.reg.State(t); st != registry.Stopped {
		s.say("%s is already running.\nRun 'stop', 'restart', or 'restart-debug'.", t.Title)
		return nil
	}
	if err := s.validatePaths(svc); err != nil {
		return opErr("start", svc.Name, err)
	}
	sp, err := s.spawner().SpawnDetached(ctx, t)
	if err != nil {
		return opErr("start", svc.Name, err)
	}
	metrics.IncStart(svc.Name)
	s.say("%s has been started (pid %d).", t.Title, sp.PID())
	return nil
}

func (s *Supervisor) stop(ctx context.Context, svc Service) error {
	t := s.Target(svc)
	out, err := s.escalator().Stop(ctx, t, s.cli.Signal())
	metrics.IncStop(svc.Name, out.String())
	if err != nil {
		return opErr("stop", svc.Name, err)
	}
	switch out {
	case process.NotRunning:
		s.say("%s is not running.", t.Title)
	case process.ClearedStale:
		s.say("Cleared stale pid for %s.", t.Title)
	case process.Stopped:
		s.say("%s has been stopped.", t.Title)
	case process.StoppedForcefully:
		s.say("%s has been stopped forcefully.", t.Title)
	}
	return nil
}

// awaitStopped polls until svc is stopped without zombies.
func (s *Supervisor) awaitStopped(ctx context.Context, svc Service) error {
	t := s.Target(svc)
	timeout := s.opts.StopTimeout
	if timeout <= 0 {
		timeout = process.DefaultStopTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		if s.reg.State(t) == registry.Stopped {
			return nil
		}
		if time.Now().After(deadline) {
			return opErr("restart", svc.Name, ErrStopTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settlePoll):
		}
	}
}

// restart stops svc even when it is debug only; start then reports the skip.
func (s *Supervisor) restart(ctx context.Context, svc Service) error {
	if err := s.stop(ctx, svc); err != nil {
		return err
	}
	if err := s.awaitStopped(ctx, svc); err != nil {
		return err
	}
	return s.start(ctx, svc)
}

func (s *Supervisor) restartDebug(ctx context.Context, svc Service) error {
	if err := s.stop(ctx, svc); err != nil {
		return err
	}
	if err := s.awaitStopped(ctx, svc); err != nil {
		return err
	}
	return s.debug(ctx, svc)
}

// debug runs svc in the foreground: a Hooked watcher attached to the console,
// or the worker itself when PushDebug is set. Interrupts are forwarded to
// the watcher until it exits.
func (s *Supervisor) debug(ctx context.Context, svc Service) error {
	t := s.Target(svc)
	if s.reg.State(t) != registry.Stopped {
		s.say("%s is already running.\nRun 'stop', 'restart', or 'restart-debug'.", t.Title)
		return nil
	}
	if err := s.validatePaths(svc); err != nil {
		return opErr("debug", svc.Name, err)
	}
	if svc.PushDebug {
		metrics.IncStart(svc.Name)
		return s.runWorker(ctx, svc, true)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	sp, err := s.spawner().SpawnHooked(t, svc.CaptureInput)
	if err != nil {
		return opErr("debug", svc.Name, err)
	}
	metrics.IncStart(svc.Name)
	ctxDone := ctx.Done()
	for {
		select {
		case <-sp.Done():
			if err := sp.Wait(); err != nil {
				return opErr("debug", svc.Name, err)
			}
			return nil
		case sig := <-sigs:
			s.log.Debug("forwarding signal to debug watcher", "service", svc.Name, "signal", sig.String())
			_ = sp.Cmd.Process.Signal(sig)
		case <-ctxDone:
			ctxDone = nil
			_ = sp.Cmd.Process.Signal(syscall.SIGTERM)
		}
	}
}
