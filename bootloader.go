package bootloader

import (
	"context"
	"fmt"
	"os"

	"github.com/loykin/bootloader/internal/bootstrap"
	"github.com/loykin/bootloader/internal/manager"
	"github.com/loykin/bootloader/internal/metrics"
	"github.com/loykin/bootloader/internal/options"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Re-export core types for host applications.
// These are aliases so conversions are zero-cost.

type Service = manager.Service

type Options = manager.Options

type ExecuteFunc = manager.ExecuteFunc

type Handle = bootstrap.Handle

type TaskOptions = bootstrap.TaskOptions

type Flag = options.Flag

type OpError = manager.OpError

var (
	ErrNoServices         = manager.ErrNoServices
	ErrUnknownService     = manager.ErrUnknownService
	ErrUnknownCommand     = manager.ErrUnknownCommand
	ErrInvalidSignal      = manager.ErrInvalidSignal
	ErrPathIsFile         = manager.ErrPathIsFile
	ErrPIDFileTimeout     = manager.ErrPIDFileTimeout
	ErrExitedEarly        = manager.ErrExitedEarly
	ErrGenerationConflict = manager.ErrGenerationConflict
)

// Supervisor is a thin facade over internal/manager.Supervisor.
type Supervisor struct{ inner *manager.Supervisor }

func New(opts Options) (*Supervisor, error) {
	s, err := manager.New(opts)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: s}, nil
}

func (s *Supervisor) Run(ctx context.Context, args []string) error { return s.inner.Run(ctx, args) }
func (s *Supervisor) Command() *cobra.Command                      { return s.inner.Command() }
func (s *Supervisor) Services() []Service                          { return s.inner.Services() }
func (s *Supervisor) StatusLine(svc Service) string                { return s.inner.StatusLine(svc) }

// Run builds a supervisor from opts and executes args.
func Run(ctx context.Context, opts Options, args []string) error {
	s, err := New(opts)
	if err != nil {
		return err
	}
	return s.Run(ctx, args)
}

// Main runs the process command line and exits 1 on error.
func Main(opts Options) {
	if err := Run(context.Background(), opts, os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RegisterMetrics registers the supervisor collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
