package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/bootloader/internal/bootstrap"
	"github.com/loykin/bootloader/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The test binary doubles as the host executable: children re-executed by
// the supervisor find these variables and run the helper supervisor.
const (
	e2eEnv   = "BOOTLOADER_E2E_DIR"
	e2eToken = "BOOTLOADER_E2E_TOKEN"
)

func TestMain(m *testing.M) {
	if dir := os.Getenv(e2eEnv); dir != "" {
		s, err := New(helperOptions(dir, os.Getenv(e2eToken)))
		if err == nil {
			err = s.Run(context.Background(), os.Args[1:])
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperOptions(dir, token string) Options {
	return Options{
		Services: []Service{{
			Name: "api",
			Execute: func(ctx context.Context, h *bootstrap.Handle) error {
				fmt.Fprintln(h.Stdout(), "api up")
				<-ctx.Done()
				fmt.Fprintln(h.Stdout(), "api down")
				return nil
			},
		}},
		Title:         "bootloader-e2e-%service%-" + token,
		PIDFile:       filepath.Join(dir, "run", "process-%service%.pid"),
		Stdout:        filepath.Join(dir, "logs", "stdout-%service%.log"),
		Stderr:        filepath.Join(dir, "logs", "stderr-%service%.log"),
		SupervisorLog: filepath.Join(dir, "logs", "bootloader-%service%.log"),
		FlushInterval: 20 * time.Millisecond,
		Env:           []string{e2eEnv + "=" + dir, e2eToken + "=" + token},
	}
}

func e2eSupervisor(t *testing.T) (*Supervisor, *syncBuffer) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix sessions and signals")
	}
	if testing.Short() {
		t.Skip("spawns real processes")
	}
	exe, err := os.Executable()
	require.NoError(t, err)
	dir := t.TempDir()
	opts := helperOptions(dir, fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano()))
	opts.Executable = exe
	out := &syncBuffer{}
	opts.Console = out
	opts.Errors = out
	opts.Logger = quiet()
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		// never leave a detached watcher behind
		_ = s.Run(context.Background(), []string{"stop"})
	})
	return s, out
}

func readPID(t *testing.T, s *Supervisor) int {
	t.Helper()
	pid, err := registry.New(nil).ReadPID(s.Target(s.Services()[0]).PIDFile)
	require.NoError(t, err)
	return pid
}

func TestStartStatusRestartStop(t *testing.T) {
	s, out := e2eSupervisor(t)
	ctx := context.Background()
	svc := s.Services()[0]
	tg := s.Target(svc)

	require.NoError(t, s.Run(ctx, []string{"start"}))
	assert.Contains(t, out.String(), tg.Title+" has been started")
	assert.Equal(t, registry.Running, s.State(svc))
	first := readPID(t, s)

	require.NoError(t, s.Run(ctx, []string{"start"}))
	assert.Contains(t, out.String(), tg.Title+" is already running.")
	assert.Equal(t, first, readPID(t, s), "second start spawns nothing")

	require.NoError(t, s.Run(ctx, []string{"status"}))
	assert.Contains(t, out.String(), tg.Title+" is running")

	require.NoError(t, s.Run(ctx, []string{"restart"}))
	second := readPID(t, s)
	assert.NotEqual(t, first, second)

	require.NoError(t, s.Run(ctx, []string{"stop"}))
	assert.Contains(t, out.String(), tg.Title+" has been stopped.")
	assert.Equal(t, registry.Stopped, s.State(svc))

	logPath := s.path(svc, s.opts.Stdout, "")
	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "======= Start up ")
	assert.Contains(t, string(b), "api up")
	assert.Contains(t, string(b), "api down")
}

func TestZombieRecovery(t *testing.T) {
	s, out := e2eSupervisor(t)
	ctx := context.Background()
	svc := s.Services()[0]
	tg := s.Target(svc)

	require.NoError(t, s.Run(ctx, []string{"start"}))
	require.Eventually(t, func() bool {
		found, _ := s.reg.Table.Find(tg.Title)
		return len(found) == 2 // watcher and worker
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(tg.PIDFile))
	require.NoError(t, s.Run(ctx, []string{"status"}))
	assert.Contains(t, out.String(), tg.Title+" is stopped with zombies")

	require.NoError(t, s.Run(ctx, []string{"stop"}))
	require.Eventually(t, func() bool {
		found, _ := s.reg.Table.Find(tg.Title)
		return len(found) == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, registry.Stopped, s.State(svc))
}

func TestDebugForwardsCancellation(t *testing.T) {
	s, out := e2eSupervisor(t)
	tg := s.Target(s.Services()[0])
	reg := registry.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, []string{"debug"}) }()

	require.Eventually(t, func() bool { return reg.State(tg) == registry.Running }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "api up\n") }, 5*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("debug did not return after cancellation")
	}
	assert.Contains(t, out.String(), "api down\n")
	assert.Equal(t, registry.Stopped, reg.State(tg))
}
