package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/bootloader/internal/bootstrap"
	"github.com/loykin/bootloader/internal/detector"
	"github.com/loykin/bootloader/internal/env"
	"github.com/loykin/bootloader/internal/generation"
	"github.com/loykin/bootloader/internal/logger"
	"github.com/loykin/bootloader/internal/metrics"
	"github.com/loykin/bootloader/internal/naming"
	"github.com/loykin/bootloader/internal/options"
	"github.com/loykin/bootloader/internal/process"
	"github.com/loykin/bootloader/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ExecuteFunc is the worker body of a service. It runs in the Bootstrapped
// generation and should return once ctx is cancelled.
type ExecuteFunc func(ctx context.Context, h *bootstrap.Handle) error

// Service is a host-declared unit of work. It is never mutated after New.
type Service struct {
	Name  string
	Group string
	// DebugOnly services are only started by debug and restart-debug.
	DebugOnly bool
	// CaptureInput forwards the operator's stdin to the debug worker.
	CaptureInput bool
	// AutoRestart respawns the worker on every exit that was not requested.
	AutoRestart bool
	// PushDebug runs Execute inside the invoking process on debug.
	PushDebug bool
	Execute   ExecuteFunc
}

// Options configures a Supervisor. Path and title fields are templates
// expanded per service; empty fields take the naming defaults.
type Options struct {
	Services []Service
	// Execute declares a single service named "daemon" when Services is empty.
	Execute ExecuteFunc
	// Flags are host options parsed, forwarded across re-exec and usable
	// as %name% placeholders.
	Flags []options.Flag

	Title         string
	PIDFile       string
	Stdout        string
	Stderr        string
	SupervisorLog string
	MetricsFile   string

	// UseLogging captures worker output into the stdout/stderr files. Default on.
	UseLogging     *bool
	AppendLogs     bool
	StartupMessage string
	FlushInterval  time.Duration
	LogMaxSize     int64
	LogMaxFiles    int

	StopTimeout  time.Duration
	SpawnTimeout time.Duration

	// EnvVar receives the --target value in every child (APP_ENV by default).
	EnvVar string
	Env    []string

	ForwardArgs []string
	Executable  string

	Console io.Writer
	Errors  io.Writer
	Input   io.Reader
	Logger  *slog.Logger
	// Table overrides the OS process table.
	Table detector.ProcTable
}

// Supervisor dispatches lifecycle commands and runs the generation an OS
// process was started as.
type Supervisor struct {
	opts     Options
	services []Service
	reg      *registry.Registry
	stdout   io.Writer
	stderr   io.Writer
	stdin    io.Reader
	log      *slog.Logger
	cli      options.Options
}

func New(opts Options) (*Supervisor, error) {
	services := opts.Services
	if len(services) == 0 && opts.Execute != nil {
		services = []Service{{Name: naming.DefaultService, Execute: opts.Execute}}
	}
	if len(services) == 0 {
		return nil, ErrNoServices
	}
	seen := make(map[string]bool, len(services))
	for _, svc := range services {
		name := strings.TrimSpace(svc.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrUnknownService)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate service %q", name)
		}
		seen[name] = true
		if svc.Execute == nil {
			return nil, &OpError{Op: "declare", Service: name, Err: ErrNoExecute}
		}
	}

	s := &Supervisor{
		opts:     opts,
		services: append([]Service(nil), services...),
		reg:      registry.New(opts.Table),
		stdout:   opts.Console,
		stderr:   opts.Errors,
		stdin:    opts.Input,
		log:      opts.Logger,
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	if s.stdin == nil {
		s.stdin = os.Stdin
	}
	if s.log == nil {
		s.log = logger.New(s.stderr, slog.LevelWarn)
	}

	// defaults, and an early check of the host flags
	fs := pflag.NewFlagSet("defaults", pflag.ContinueOnError)
	b, err := options.Bind(fs, opts.Flags)
	if err != nil {
		return nil, err
	}
	if s.cli, err = b.Options(nil); err != nil {
		return nil, err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	return s, nil
}

// Run parses args (without the program name) and executes them.
func (s *Supervisor) Run(ctx context.Context, args []string) error {
	if args == nil {
		// cobra falls back to os.Args on nil
		args = []string{}
	}
	cmd := s.Command()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// Command returns the cobra command that parses the option schema and
// dispatches to the current generation.
func (s *Supervisor) Command() *cobra.Command {
	var names []string
	for _, c := range options.Commands {
		names = append(names, string(c))
	}
	cmd := &cobra.Command{
		Use:                filepath.Base(os.Args[0]) + " [command]",
		Short:              "Manage the lifecycle of the declared services",
		Long:               "Commands: " + strings.Join(names, ", ") + ". The default command is start.",
		Args:               cobra.MaximumNArgs(1),
		ValidArgs:          names,
		SilenceUsage:       true,
		SilenceErrors:      true,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	}
	cmd.SetOut(s.stdout)
	cmd.SetErr(s.stderr)
	b, bindErr := options.Bind(cmd.Flags(), s.opts.Flags)
	cmd.RunE = func(c *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		o, err := b.Options(args)
		if err != nil {
			return err
		}
		s.cli = o
		return s.dispatch(c.Context(), c)
	}
	return cmd
}

func (s *Supervisor) dispatch(ctx context.Context, c *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	switch s.cli.Generation {
	case generation.Detached, generation.Hooked:
		svc, err := s.lookup(s.cli.Service)
		if err != nil {
			return err
		}
		return s.runWatcher(ctx, svc, s.cli.Generation)
	case generation.Bootstrapped:
		svc, err := s.lookup(s.cli.Service)
		if err != nil {
			return err
		}
		return s.runWorker(ctx, svc, false)
	}

	if s.cli.Command == options.CmdManual {
		return s.manual(c)
	}
	svcs, err := s.selected()
	if err != nil {
		return err
	}
	for _, svc := range svcs {
		if err := s.apply(ctx, svc, s.cli.Command); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) apply(ctx context.Context, svc Service, cmd options.Command) error {
	switch cmd {
	case options.CmdStart:
		return s.start(ctx, svc)
	case options.CmdStop:
		return s.stop(ctx, svc)
	case options.CmdRestart:
		return s.restart(ctx, svc)
	case options.CmdDebug:
		return s.debug(ctx, svc)
	case options.CmdRestartDebug:
		return s.restartDebug(ctx, svc)
	case options.CmdStatus:
		return s.status(svc)
	}
	return fmt.Errorf("%w %q", ErrUnknownCommand, cmd)
}

// selected applies the --service and --group filters in declaration order.
func (s *Supervisor) selected() ([]Service, error) {
	if s.cli.Service != "" {
		svc, err := s.lookup(s.cli.Service)
		if err != nil {
			return nil, err
		}
		return []Service{svc}, nil
	}
	if s.cli.Group == "" {
		return s.services, nil
	}
	var out []Service
	for _, svc := range s.services {
		if svc.Group == s.cli.Group {
			out = append(out, svc)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no service in group %q", ErrUnknownService, s.cli.Group)
	}
	return out, nil
}

func (s *Supervisor) lookup(name string) (Service, error) {
	if name == "" && len(s.services) == 1 {
		return s.services[0], nil
	}
	for _, svc := range s.services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return Service{}, fmt.Errorf("%w %q", ErrUnknownService, name)
}

// Services returns the declared services in declaration order.
func (s *Supervisor) Services() []Service { return append([]Service(nil), s.services...) }

func (s *Supervisor) resolver(svc Service) naming.Resolver {
	return naming.Resolver{Service: svc.Name, Group: svc.Group, Options: s.cli.Values()}
}

func (s *Supervisor) path(svc Service, pattern, def string) string {
	if pattern == "" {
		pattern = def
	}
	p := s.resolver(svc).Resolve(pattern)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Target is the on-disk and process-table identity of svc.
func (s *Supervisor) Target(svc Service) registry.Target {
	title := s.opts.Title
	if title == "" {
		title = naming.DefaultTitle
	}
	return registry.Target{
		Name:    svc.Name,
		Group:   svc.Group,
		Title:   s.resolver(svc).Resolve(title),
		PIDFile: s.path(svc, s.opts.PIDFile, naming.DefaultPIDFile),
	}
}

func (s *Supervisor) useLogging() bool { return s.opts.UseLogging == nil || *s.opts.UseLogging }

// validatePaths creates the pid and log directories of svc, failing when a
// path segment is a regular file.
func (s *Supervisor) validatePaths(svc Service) error {
	t := s.Target(svc)
	if err := naming.EnsureDir(filepath.Dir(t.PIDFile), "pid file"); err != nil {
		return err
	}
	if !s.useLogging() {
		return nil
	}
	for reason, p := range map[string]string{
		"stdout log file": s.path(svc, s.opts.Stdout, naming.DefaultStdout),
		"stderr log file": s.path(svc, s.opts.Stderr, naming.DefaultStderr),
	} {
		if err := naming.EnsureDir(filepath.Dir(p), reason); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) childEnv() []string {
	e := env.New().FromOS()
	for k, v := range env.Parse(s.opts.Env) {
		e.Set(k, v)
	}
	return e.Target(s.opts.EnvVar, s.cli.Target).Merge(nil)
}

func (s *Supervisor) spawner() *process.Spawner {
	return &process.Spawner{
		Executable:  s.opts.Executable,
		ForwardArgs: s.opts.ForwardArgs,
		Options:     s.cli,
		Env:         s.childEnv(),
		Stdin:       s.stdin,
		Stdout:      s.stdout,
		Stderr:      s.stderr,
		Timeout:     s.opts.SpawnTimeout,
		Logger:      s.log,
	}
}

func (s *Supervisor) escalator() *process.Escalator {
	return &process.Escalator{Registry: s.reg, Timeout: s.opts.StopTimeout, Logger: s.log}
}

func (s *Supervisor) writeMetrics(svc Service) {
	if s.opts.MetricsFile == "" {
		return
	}
	path := s.path(svc, s.opts.MetricsFile, "")
	if err := metrics.WriteTextfile(path, prometheus.DefaultGatherer); err != nil {
		s.log.Warn("metrics textfile not written", "path", path, "error", err)
	}
}

// bootstrap.Host

func (s *Supervisor) Options() options.Options { return s.cli }

func (s *Supervisor) Resolve(service, pattern string) string {
	svc, err := s.lookup(service)
	if err != nil {
		svc = Service{Name: service}
	}
	return s.resolver(svc).Resolve(pattern)
}

func (s *Supervisor) PIDFile(service string) string {
	svc, err := s.lookup(service)
	if err != nil {
		svc = Service{Name: service}
	}
	return s.Target(svc).PIDFile
}

func (s *Supervisor) Console() (io.Writer, io.Writer) { return s.stdout, s.stderr }

func (s *Supervisor) Logger() *slog.Logger { return s.log }
