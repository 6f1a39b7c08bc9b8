package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/bootloader/internal/config"
	"github.com/loykin/bootloader/internal/options"
	"github.com/loykin/bootloader/internal/process"
	"github.com/loykin/bootloader/internal/registry"
	"github.com/loykin/bootloader/internal/shutdown"
)

// Host is what a Handle needs from the supervisor that created it.
type Host interface {
	Options() options.Options
	Resolve(service, pattern string) string
	PIDFile(service string) string
	Console() (stdout, stderr io.Writer)
	Logger() *slog.Logger
}

const taskGrace = 5 * time.Second

// Handle is passed to a service's Execute callback. It carries the worker
// configuration, the output sinks and the shutdown hook registry.
type Handle struct {
	name       string
	host       Host
	coord      *shutdown.Coordinator
	config     map[string]any
	configFile string
	stdout     io.Writer
	stderr     io.Writer
	log        *slog.Logger
	lease      *registry.Lease
	tasks      sync.WaitGroup
}

// New builds the handle for service name. When ownsPID is set the current
// process records itself in the service pid file, under its own argv[0] as
// alias, and removes it on Close.
func New(name string, host Host, ownsPID bool) (*Handle, error) {
	stdout, stderr := host.Console()
	log := host.Logger().With("service", name)
	h := &Handle{
		name:   name,
		host:   host,
		coord:  shutdown.New(log),
		stdout: stdout,
		stderr: stderr,
		log:    log,
	}
	if ownsPID {
		lease, err := registry.New(nil).ClaimAs(host.PIDFile(name), os.Getpid(), os.Args[0])
		if err != nil {
			return nil, err
		}
		h.lease = lease
		h.coord.OnClose(func(string) error { return lease.Release() })
	}
	h.loadConfig()
	return h, nil
}

func (h *Handle) loadConfig() {
	opts := h.host.Options()
	cfg := map[string]any{}
	if opts.Config != "" {
		path := h.host.Resolve(h.name, opts.Config)
		loaded, err := config.LoadWorker(path)
		switch {
		case errors.Is(err, config.ErrNotFound):
			fmt.Fprintf(h.stderr, "Missing config file at %s using blank config.\n", path)
		case err != nil:
			fmt.Fprintf(h.stderr, "Unable to read config file %s: %v\n", path, err)
		default:
			cfg = loaded
			h.configFile = path
		}
	}
	if _, ok := cfg["debug"]; !ok {
		cfg["debug"] = opts.Command.IsDebug()
	}
	h.config = cfg
}

func (h *Handle) Name() string { return h.name }

// Config is the decoded worker configuration. It always holds "debug".
func (h *Handle) Config() map[string]any { return h.config }

// ConfigFile is the resolved path the configuration was read from, if any.
func (h *Handle) ConfigFile() string { return h.configFile }

// Debug reports the "debug" configuration flag.
func (h *Handle) Debug() bool {
	v, _ := h.config["debug"].(bool)
	return v
}

// Options are the command-line options this generation was started with.
func (h *Handle) Options() options.Options { return h.host.Options() }

func (h *Handle) Stdout() io.Writer { return h.stdout }

func (h *Handle) Stderr() io.Writer { return h.stderr }

func (h *Handle) Logger() *slog.Logger { return h.log }

// Done is closed once the shutdown hooks have run.
func (h *Handle) Done() <-chan struct{} { return h.coord.Done() }

// Listen returns a context cancelled on SIGINT, SIGTERM or SIGHUP. The
// shutdown hooks run, with the signal name as reason, before cancellation.
func (h *Handle) Listen(parent context.Context) (context.Context, context.CancelFunc) {
	return h.coord.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

// OnClose registers fn to run, in registration order, when the handle closes.
// fn receives the terminating signal name or reason.
func (h *Handle) OnClose(fn func(reason string) error) { h.coord.OnClose(fn) }

// Close runs the shutdown hooks once and waits briefly for tasks to exit.
func (h *Handle) Close(reason string) error {
	err := h.coord.Close(reason)
	done := make(chan struct{})
	go func() {
		h.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(taskGrace):
		h.log.Warn("tasks still running after close", "grace", taskGrace)
	}
	return err
}

// TaskOptions tunes a helper subprocess started with Task.
type TaskOptions struct {
	Dir string
	Env []string
	// KillSignal replaces the closing signal when the handle closes.
	KillSignal syscall.Signal
	OnExit     func(err error)
}

// Task starts a helper subprocess whose output goes to the handle's sinks.
// It is signalled when the handle closes.
func (h *Handle) Task(ctx context.Context, command string, opts TaskOptions) (*exec.Cmd, error) {
	cmd := process.ShellCommand(ctx, command)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr
	// cancellation asks politely; WaitDelay bounds the wait before SIGKILL
	cmd.Cancel = func() error {
		sig := opts.KillSignal
		if sig == 0 {
			sig = syscall.SIGTERM
		}
		return cmd.Process.Signal(sig)
	}
	cmd.WaitDelay = taskGrace
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("task %q: %w", command, err)
	}
	h.tasks.Add(1)
	exited := make(chan struct{})
	go func() {
		defer h.tasks.Done()
		err := cmd.Wait()
		close(exited)
		fmt.Fprintf(h.stdout, "Task '%s' CLOSED!\n", strings.TrimSpace(command))
		if opts.OnExit != nil {
			opts.OnExit(err)
		}
	}()
	h.OnClose(func(reason string) error {
		select {
		case <-exited:
			return nil
		default:
		}
		sig := opts.KillSignal
		if sig == 0 {
			parsed, err := options.ParseSignal(reason)
			if err != nil {
				parsed = syscall.SIGTERM
			}
			sig = parsed
		}
		if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	})
	return cmd, nil
}
