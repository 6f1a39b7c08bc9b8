package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loykin/bootloader"
	"github.com/loykin/bootloader/internal/config"
	"github.com/loykin/bootloader/internal/env"
	"github.com/spf13/pflag"
)

const defaultFile = "bootloader.toml"

func main() {
	path := servicesFile(os.Args[1:])
	fc, err := config.LoadFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load %s: %v\n", path, err)
		os.Exit(1)
	}
	opts, err := buildOptions(fc, path)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	bootloader.Main(opts)
}

// servicesFile finds --file/-f ahead of the supervisor's own parsing, which
// needs the declared services first.
func servicesFile(args []string) string {
	fs := pflag.NewFlagSet("bootloader", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)
	file := fs.StringP("file", "f", defaultFile, "")
	_ = fs.Parse(args)
	if abs, err := filepath.Abs(*file); err == nil {
		return abs
	}
	return *file
}

// buildOptions maps the services file onto supervisor options. Each service
// runs its command line as a task of the worker handle.
func buildOptions(fc *config.FileConfig, path string) (bootloader.Options, error) {
	global, err := fc.GlobalEnv()
	if err != nil {
		return bootloader.Options{}, err
	}
	opts := bootloader.Options{
		Flags:          []bootloader.Flag{{Name: "file", Alias: "f", Default: path, Usage: "services file (TOML)"}},
		Title:          fc.Title,
		PIDFile:        fc.PIDFile,
		Stdout:         fc.Stdout,
		Stderr:         fc.Stderr,
		SupervisorLog:  fc.SupervisorLog,
		MetricsFile:    fc.MetricsFile,
		UseLogging:     fc.UseLogging,
		AppendLogs:     fc.AppendLogs,
		StartupMessage: fc.StartupMessage,
		FlushInterval:  fc.FlushInterval,
		LogMaxSize:     fc.LogMaxSize,
		LogMaxFiles:    fc.LogMaxFiles,
		StopTimeout:    fc.StopTimeout,
		EnvVar:         fc.EnvVar,
		Env:            global,
	}
	for _, sc := range fc.Services {
		opts.Services = append(opts.Services, bootloader.Service{
			Name:         sc.Name,
			Group:        sc.Group,
			DebugOnly:    sc.DebugOnly,
			CaptureInput: sc.CaptureInput,
			AutoRestart:  sc.AutoRestart,
			PushDebug:    sc.PushDebug,
			Execute:      commandExecute(sc),
		})
	}
	return opts, nil
}

func commandExecute(sc config.ServiceConfig) bootloader.ExecuteFunc {
	return func(ctx context.Context, h *bootloader.Handle) error {
		var envs []string
		if len(sc.Env) > 0 {
			envs = env.New().FromOS().Merge(sc.Env)
		}
		exited := make(chan error, 1)
		_, err := h.Task(ctx, sc.Command, bootloader.TaskOptions{
			Dir:    sc.WorkDir,
			Env:    envs,
			OnExit: func(err error) { exited <- err },
		})
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-exited:
			var ee interface{ ExitCode() int }
			if errors.As(err, &ee) {
				h.Logger().Warn("command exited", "code", ee.ExitCode())
			}
			return err
		}
	}
}
