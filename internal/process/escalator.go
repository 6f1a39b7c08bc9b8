package process

import (
	"context"
	"log/slog"
	"syscall"
	"time"

	"github.com/loykin/bootloader/internal/metrics"
	"github.com/loykin/bootloader/internal/registry"
)

// Outcome is the result of a stop request.
type Outcome int

const (
	NotRunning Outcome = iota
	ClearedStale
	Stopped
	StoppedForcefully
)

func (o Outcome) String() string {
	switch o {
	case ClearedStale:
		return "cleared_stale"
	case Stopped:
		return "stopped"
	case StoppedForcefully:
		return "stopped_forcefully"
	default:
		return "not_running"
	}
}

const (
	DefaultStopPoll    = 10 * time.Millisecond
	DefaultStopTimeout = 3000 * time.Millisecond
)

// Escalator stops a service: the graceful signal first, then a forced
// signal to each candidate's process group once Timeout has passed.
type Escalator struct {
	Registry *registry.Registry
	Poll     time.Duration
	Timeout  time.Duration
	Force    syscall.Signal
	Logger   *slog.Logger
	// Signal delivers graceful signals; Kill delivers the forced one.
	Signal func(pid int, sig syscall.Signal) error
	Kill   func(pid int, sig syscall.Signal) error
}

func (e *Escalator) defaults() {
	if e.Registry == nil {
		e.Registry = registry.New(nil)
	}
	if e.Poll <= 0 {
		e.Poll = DefaultStopPoll
	}
	if e.Timeout <= 0 {
		e.Timeout = DefaultStopTimeout
	}
	if e.Force == 0 {
		e.Force = syscall.SIGKILL
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Signal == nil {
		e.Signal = signalPID
	}
	if e.Kill == nil {
		e.Kill = signalGroup
	}
}

// Candidates returns the recorded pid (when the pid file parses) followed by
// every title match found while no valid pid file exists.
func (e *Escalator) Candidates(t registry.Target) (pids []int, hasPIDFile bool, zombies int) {
	e.defaults()
	seen := map[int]bool{}
	if pid, err := e.Registry.ReadPID(t.PIDFile); err == nil {
		hasPIDFile = true
		pids = append(pids, pid)
		seen[pid] = true
	}
	found := e.Registry.ZombiePIDs(t)
	if len(found) > 0 {
		metrics.IncZombies(t.Name)
		e.Logger.Debug("zombies found", "service", t.Name, "detector", e.Registry.ZombieDetector(t).Describe(), "pids", found)
	}
	for _, pid := range found {
		if !seen[pid] {
			pids = append(pids, pid)
			seen[pid] = true
		}
	}
	return pids, hasPIDFile, len(found)
}

// plausible reports whether pid may belong to t: it answers to t, or its
// title could not be read.
func (e *Escalator) plausible(t registry.Target, pid int) bool {
	return e.Registry.Detail(pid) == "" || e.Registry.Holds(t, pid)
}

// Stop runs the escalation for t with sig as the graceful signal.
func (e *Escalator) Stop(ctx context.Context, t registry.Target, sig syscall.Signal) (Outcome, error) {
	e.defaults()
	candidates, hasPIDFile, zombies := e.Candidates(t)
	d := e.Registry.Detector(t)
	running, _ := d.Alive()
	e.Logger.Debug("stop requested", "service", t.Name, "detector", d.Describe(), "running", running, "candidates", candidates)

	if !running && zombies == 0 {
		if hasPIDFile {
			if err := registry.Remove(t.PIDFile); err != nil {
				return NotRunning, err
			}
			e.Logger.Debug("cleared stale pid file", "service", t.Name, "path", t.PIDFile)
			return ClearedStale, nil
		}
		return NotRunning, nil
	}

	var targets []int
	for _, pid := range candidates {
		if e.plausible(t, pid) {
			targets = append(targets, pid)
		}
	}
	begin := time.Now()
	for _, pid := range targets {
		e.Logger.Debug("sending stop signal", "service", t.Name, "pid", pid, "signal", sig.String())
		if err := e.Signal(pid, sig); err != nil {
			e.Logger.Warn("stop signal failed", "service", t.Name, "pid", pid, "error", err)
		}
	}

	if e.waitStopped(ctx, t, targets) {
		metrics.ObserveStop(t.Name, time.Since(begin))
		return Stopped, nil
	}
	for _, pid := range targets {
		if !e.plausible(t, pid) {
			continue
		}
		e.Logger.Warn("service did not stop in time, forcing", "service", t.Name, "pid", pid, "signal", e.Force.String())
		if err := e.Kill(pid, e.Force); err != nil {
			e.Logger.Warn("forced signal failed", "service", t.Name, "pid", pid, "error", err)
		}
	}
	if err := registry.Remove(t.PIDFile); err != nil {
		return StoppedForcefully, err
	}
	return StoppedForcefully, nil
}

// waitStopped polls until t reports stopped and no target still carries
// the title, or Timeout elapses.
func (e *Escalator) waitStopped(ctx context.Context, t registry.Target, targets []int) bool {
	stopped := func() bool {
		if !e.Registry.IsStopped(t) {
			return false
		}
		for _, pid := range targets {
			if e.Registry.Holds(t, pid) {
				return false
			}
		}
		return true
	}
	deadline := time.Now().Add(e.Timeout)
	for {
		if stopped() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(e.Poll):
		}
	}
}
