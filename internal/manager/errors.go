package manager

import (
	"errors"
	"fmt"

	"github.com/loykin/bootloader/internal/generation"
	"github.com/loykin/bootloader/internal/naming"
	"github.com/loykin/bootloader/internal/options"
	"github.com/loykin/bootloader/internal/process"
)

var (
	ErrNoServices     = errors.New("no services declared")
	ErrUnknownService = errors.New("unknown service")
	ErrNoExecute      = errors.New("service has no execute callback")
	ErrStopTimeout    = errors.New("service did not reach stopped in time")

	ErrUnknownCommand     = options.ErrUnknownCommand
	ErrInvalidSignal      = options.ErrInvalidSignal
	ErrPathIsFile         = naming.ErrPathIsFile
	ErrPIDFileTimeout     = process.ErrPIDFileTimeout
	ErrExitedEarly        = process.ErrExitedEarly
	ErrGenerationConflict = generation.ErrConflict
)

// OpError records the lifecycle operation and service a failure belongs to.
type OpError struct {
	Op      string
	Service string
	Err     error
}

func (e *OpError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Service, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op, service string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Service: service, Err: err}
}
