package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/bootloader/internal/bootstrap"
	"github.com/loykin/bootloader/internal/generation"
	"github.com/loykin/bootloader/internal/logger"
	"github.com/loykin/bootloader/internal/metrics"
	"github.com/loykin/bootloader/internal/naming"
	"github.com/loykin/bootloader/internal/process"
)

// watcherLogger writes watcher diagnostics to the supervisor log file when
// logging is enabled.
func (s *Supervisor) watcherLogger(svc Service, gen generation.Generation) (*slog.Logger, func(), error) {
	if !s.useLogging() {
		return s.log.With("generation", gen.String()), func() {}, nil
	}
	w, err := logger.FileConfig{Path: s.path(svc, s.opts.SupervisorLog, naming.DefaultSupervisorLog)}.Open()
	if err != nil {
		return nil, nil, err
	}
	h := logger.NewColorTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	return slog.New(h).With("generation", gen.String(), "pid", os.Getpid()), func() { _ = w.Close() }, nil
}

// runWatcher is the body of the Detached and Hooked generations. It owns the
// pid file, spawns the worker and keeps it alive until a stop request.
func (s *Supervisor) runWatcher(ctx context.Context, svc Service, gen generation.Generation) error {
	t := s.Target(svc)
	log, closeLog, err := s.watcherLogger(svc, gen)
	if err != nil {
		return opErr("watch", svc.Name, err)
	}
	defer closeLog()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	lease, err := s.reg.Claim(t.PIDFile, os.Getpid())
	if err != nil {
		log.Error("unable to record pid", "path", t.PIDFile, "error", err)
		return opErr("watch", svc.Name, err)
	}
	defer func() {
		if err := lease.Release(); err != nil {
			log.Warn("pid file not released", "path", t.PIDFile, "error", err)
		}
	}()
	metrics.SetUp(svc.Name, true)
	defer metrics.SetUp(svc.Name, false)

	var (
		stdin          io.Reader
		stdout, stderr = s.stdout, s.stderr
		capture        *logger.Manager
	)
	if gen == generation.Hooked && svc.CaptureInput {
		stdin = s.stdin
	}
	if gen == generation.Detached && s.useLogging() {
		capture, err = logger.NewManager(logger.Config{
			Service:        svc.Name,
			StdoutPath:     s.path(svc, s.opts.Stdout, naming.DefaultStdout),
			StderrPath:     s.path(svc, s.opts.Stderr, naming.DefaultStderr),
			Append:         s.opts.AppendLogs,
			StartupMessage: s.opts.StartupMessage,
			Interval:       s.opts.FlushInterval,
			MaxSize:        s.opts.LogMaxSize,
			MaxFiles:       s.opts.LogMaxFiles,
			Logger:         log,
		})
		if err != nil {
			return opErr("watch", svc.Name, err)
		}
		if err := capture.Start(ctx); err != nil {
			return opErr("watch", svc.Name, err)
		}
		defer func() {
			if err := capture.Stop(); err != nil {
				log.Warn("log flush on exit failed", "error", err)
			}
		}()
	}

	var outW, errW *logger.LineWriter
	sp := s.spawner()
	sp.Logger = log
	w := &process.Watcher{
		Service:     svc.Name,
		AutoRestart: svc.AutoRestart,
		Logger:      log,
		Spawn: func() (*process.Spawned, error) {
			if capture == nil {
				return sp.SpawnWorker(t, stdin, stdout, stderr)
			}
			outW, errW = capture.Writer(logger.Stdout), capture.Writer(logger.Stderr)
			return sp.SpawnWorker(t, stdin, outW, errW)
		},
		OnExit: func(error) {
			if outW != nil {
				outW.Flush()
				errW.Flush()
			}
			s.writeMetrics(svc)
		},
	}
	log.Info("watching service", "title", t.Title, "auto_restart", svc.AutoRestart)
	if err := w.Run(ctx, sigs); err != nil {
		log.Error("worker exited with error", "error", err)
		return opErr("watch", svc.Name, err)
	}
	return nil
}

// runWorker is the Bootstrapped generation: it hands a Handle to Execute and
// runs the shutdown hooks once Execute returns or a signal arrives. An inline
// worker has no watcher above it and holds the pid file itself.
func (s *Supervisor) runWorker(ctx context.Context, svc Service, inline bool) error {
	h, err := bootstrap.New(svc.Name, s, inline)
	if err != nil {
		return opErr("bootstrap", svc.Name, err)
	}
	ctx, cancel := h.Listen(ctx)
	defer cancel()

	runErr := svc.Execute(ctx, h)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	reason := "exit"
	if err := ctx.Err(); err != nil {
		reason = err.Error()
	}
	closeErr := h.Close(reason)
	return opErr("execute", svc.Name, errors.Join(runErr, closeErr))
}
