package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/loykin/bootloader/internal/detector"
	"github.com/loykin/bootloader/internal/generation"
	"github.com/loykin/bootloader/internal/naming"
	"github.com/loykin/bootloader/internal/options"
	"github.com/loykin/bootloader/internal/registry"
)

var (
	ErrPIDFileTimeout = errors.New("pid file did not appear in time")
	ErrExitedEarly    = errors.New("process exited before recording its pid")
)

const (
	DefaultPIDFileTimeout = 10 * time.Second
	pidFilePoll           = 25 * time.Millisecond
)

// Spawner re-executes the current program as another generation. Every
// hop carries the title as argv[0] and the full option vector.
type Spawner struct {
	Executable  string
	ForwardArgs []string
	Options     options.Options
	Env         []string
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
	Timeout     time.Duration
	Logger      *slog.Logger
}

func (s *Spawner) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Spawner) executable() (string, error) {
	if s.Executable != "" {
		return s.Executable, nil
	}
	return os.Executable()
}

// Args is the argument vector (without argv[0]) for service as gen.
func (s *Spawner) Args(service string, gen generation.Generation) []string {
	o := s.Options
	o.Service = service
	o.Group = ""
	o.Generation = gen
	args := append([]string(nil), s.ForwardArgs...)
	args = append(args, o.Args()...)
	return append(args, gen.Markers()...)
}

// Command prepares, without starting, the gen instance of t.
func (s *Spawner) Command(t registry.Target, gen generation.Generation) (*exec.Cmd, error) {
	exe, err := s.executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	title := t.Title
	if title == "" {
		title = exe
	}
	cmd := &exec.Cmd{
		Path: exe,
		Args: append([]string{title}, s.Args(t.Name, gen)...),
		Env:  s.Env,
	}
	return cmd, nil
}

// Spawned is a started child whose exit is observed in the background.
type Spawned struct {
	Cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func watch(cmd *exec.Cmd) *Spawned {
	sp := &Spawned{Cmd: cmd, done: make(chan struct{})}
	go func() {
		sp.err = cmd.Wait()
		close(sp.done)
	}()
	return sp
}

func (sp *Spawned) PID() int { return sp.Cmd.Process.Pid }

// Done is closed when the child exits.
func (sp *Spawned) Done() <-chan struct{} { return sp.done }

// Wait blocks until the child exits and returns its exit error.
func (sp *Spawned) Wait() error {
	<-sp.done
	return sp.err
}

// SpawnDetached starts the Detached watcher for t in a new session with its
// stdio on /dev/null and returns once the watcher has recorded its own pid.
func (s *Spawner) SpawnDetached(ctx context.Context, t registry.Target) (*Spawned, error) {
	cmd, err := s.Command(t, generation.Detached)
	if err != nil {
		return nil, err
	}
	cmd.SysProcAttr = sessionAttrs()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", t.Name, err)
	}
	sp := watch(cmd)
	s.logger().Debug("spawned detached watcher", "service", t.Name, "pid", sp.PID())
	if err := s.WaitForPIDFile(ctx, t.PIDFile, sp.PID(), sp.Done()); err != nil {
		if errors.Is(err, ErrPIDFileTimeout) || ctx.Err() != nil {
			_ = signalGroup(sp.PID(), syscall.SIGKILL)
		}
		return sp, fmt.Errorf("start %s: %w", t.Name, err)
	}
	return sp, nil
}

// SpawnHooked starts the Hooked watcher for t in the foreground with the
// console attached. Stdin is forwarded only when captureInput is set.
func (s *Spawner) SpawnHooked(t registry.Target, captureInput bool) (*Spawned, error) {
	cmd, err := s.Command(t, generation.Hooked)
	if err != nil {
		return nil, err
	}
	cmd.SysProcAttr = groupAttrs()
	cmd.Stdout = orDefault(s.Stdout, os.Stdout)
	cmd.Stderr = orDefault(s.Stderr, os.Stderr)
	if captureInput {
		in := s.Stdin
		if in == nil {
			in = os.Stdin
		}
		// a plain reader makes exec copy through a pipe, so a child outside
		// the terminal's foreground group never reads the tty directly
		cmd.Stdin = struct{ io.Reader }{in}
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", t.Name, err)
	}
	s.logger().Debug("spawned hooked watcher", "service", t.Name, "pid", cmd.Process.Pid)
	return watch(cmd), nil
}

// SpawnWorker starts the Bootstrapped worker for t in the caller's process
// group with the given stdio.
func (s *Spawner) SpawnWorker(t registry.Target, stdin io.Reader, stdout, stderr io.Writer) (*Spawned, error) {
	cmd, err := s.Command(t, generation.Bootstrapped)
	if err != nil {
		return nil, err
	}
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker %s: %w", t.Name, err)
	}
	return watch(cmd), nil
}

func orDefault(w io.Writer, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}

// WaitForPIDFile blocks until path records pid. It watches the directory
// with fsnotify and polls as a fallback. exited aborts the wait early.
func (s *Spawner) WaitForPIDFile(ctx context.Context, path string, pid int, exited <-chan struct{}) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultPIDFileTimeout
	}
	recorded := func() bool {
		got, err := detector.ReadPIDFile(path)
		return err == nil && got == pid
	}
	if recorded() {
		return nil
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	dir := filepath.Dir(path)
	if err := naming.EnsureDir(dir, "pid file"); err != nil {
		return err
	}
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer func() { _ = w.Close() }()
		if err := w.Add(dir); err == nil {
			events, errs = w.Events, w.Errors
		} else {
			s.logger().Debug("pid directory watch unavailable, polling", "dir", dir, "error", err)
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pidFilePoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s after %s", ErrPIDFileTimeout, path, timeout)
		case <-exited:
			if recorded() {
				return nil
			}
			return ErrExitedEarly
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(path) && recorded() {
				return nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		case <-tick.C:
			if recorded() {
				return nil
			}
		}
	}
}
