package process

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/loykin/bootloader/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type procs map[int]string

func (p procs) Title(pid int) (string, error) { return p[pid], nil }
func (p procs) Find(title string) ([]int, error) {
	var out []int
	for pid, v := range p {
		if v == title {
			out = append(out, pid)
		}
	}
	return out, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testTarget(t *testing.T) registry.Target {
	return registry.Target{
		Name:    "api",
		Title:   "bootloader-api",
		PIDFile: filepath.Join(t.TempDir(), "process-api.pid"),
	}
}

func writePID(t *testing.T, path string, pid int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644))
}

type sent struct {
	pid int
	sig syscall.Signal
}

func TestStopNotRunning(t *testing.T) {
	e := &Escalator{Registry: registry.New(procs{}), Logger: quiet()}
	out, err := e.Stop(context.Background(), testTarget(t), syscall.SIGINT)
	require.NoError(t, err)
	assert.Equal(t, NotRunning, out)
}

func TestStopClearsStalePID(t *testing.T) {
	tg := testTarget(t)
	writePID(t, tg.PIDFile, 55)
	var calls []sent
	e := &Escalator{
		Registry: registry.New(procs{55: "unrelated"}),
		Logger:   quiet(),
		Signal:   func(pid int, sig syscall.Signal) error { calls = append(calls, sent{pid, sig}); return nil },
	}
	out, err := e.Stop(context.Background(), tg, syscall.SIGINT)
	require.NoError(t, err)
	assert.Equal(t, ClearedStale, out)
	assert.Empty(t, calls, "unrelated process must not be signalled")
	_, err = os.Stat(tg.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestStopGraceful(t *testing.T) {
	tg := testTarget(t)
	writePID(t, tg.PIDFile, 10)
	table := procs{10: tg.Title}
	var calls []sent
	e := &Escalator{
		Registry: registry.New(table),
		Logger:   quiet(),
		Signal: func(pid int, sig syscall.Signal) error {
			calls = append(calls, sent{pid, sig})
			// the watcher exits and releases its pid file
			delete(table, pid)
			_ = os.Remove(tg.PIDFile)
			return nil
		},
		Kill: func(int, syscall.Signal) error { t.Fatal("no forced kill expected"); return nil },
	}
	out, err := e.Stop(context.Background(), tg, syscall.SIGTERM)
	require.NoError(t, err)
	assert.Equal(t, Stopped, out)
	assert.Equal(t, []sent{{10, syscall.SIGTERM}}, calls)
}

func TestStopSignalsAliasHolder(t *testing.T) {
	tg := testTarget(t)
	_, err := registry.New(nil).ClaimAs(tg.PIDFile, 30, "/usr/bin/app")
	require.NoError(t, err)
	table := procs{30: "/usr/bin/app"}
	var calls []sent
	e := &Escalator{
		Registry: registry.New(table),
		Logger:   quiet(),
		Signal: func(pid int, sig syscall.Signal) error {
			calls = append(calls, sent{pid, sig})
			delete(table, pid)
			_ = os.Remove(tg.PIDFile)
			return nil
		},
		Kill: func(int, syscall.Signal) error { t.Fatal("no forced kill expected"); return nil },
	}
	out, err := e.Stop(context.Background(), tg, syscall.SIGINT)
	require.NoError(t, err)
	assert.Equal(t, Stopped, out)
	assert.Equal(t, []sent{{30, syscall.SIGINT}}, calls)
}

func TestStopEscalatesAndRemovesPIDFile(t *testing.T) {
	tg := testTarget(t)
	writePID(t, tg.PIDFile, 10)
	var killed []sent
	e := &Escalator{
		Registry: registry.New(procs{10: tg.Title}),
		Logger:   quiet(),
		Poll:     time.Millisecond,
		Timeout:  30 * time.Millisecond,
		Signal:   func(int, syscall.Signal) error { return nil },
		Kill:     func(pid int, sig syscall.Signal) error { killed = append(killed, sent{pid, sig}); return nil },
	}
	out, err := e.Stop(context.Background(), tg, syscall.SIGINT)
	require.NoError(t, err)
	assert.Equal(t, StoppedForcefully, out)
	assert.Equal(t, []sent{{10, syscall.SIGKILL}}, killed)
	_, err = os.Stat(tg.PIDFile)
	assert.True(t, os.IsNotExist(err), "pid file removed regardless of confirmation")
}

func TestStopFindsZombiesByTitle(t *testing.T) {
	tg := testTarget(t)
	table := procs{21: tg.Title, 22: tg.Title, 23: "other"}
	var calls []int
	e := &Escalator{
		Registry: registry.New(table),
		Logger:   quiet(),
		Signal: func(pid int, _ syscall.Signal) error {
			calls = append(calls, pid)
			delete(table, pid)
			return nil
		},
	}
	out, err := e.Stop(context.Background(), tg, syscall.SIGINT)
	require.NoError(t, err)
	assert.Equal(t, Stopped, out)
	assert.ElementsMatch(t, []int{21, 22}, calls)
}

func TestStopRealProcessGraceful(t *testing.T) {
	requireUnix(t)
	tg := testTarget(t)
	tg.Title = "bootloader-escalator-" + strconv.Itoa(os.Getpid())
	sp := startHelper(t, tg.Title, "sleep")
	writePID(t, tg.PIDFile, sp.PID())

	e := &Escalator{Logger: quiet()}
	out, err := e.Stop(context.Background(), tg, syscall.SIGINT)
	require.NoError(t, err)
	assert.Equal(t, Stopped, out)
	select {
	case <-sp.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("helper still running")
	}
}

func TestStopRealProcessForced(t *testing.T) {
	requireUnix(t)
	tg := testTarget(t)
	tg.Title = "bootloader-stubborn-" + strconv.Itoa(os.Getpid())
	sp := startHelper(t, tg.Title, "stubborn")
	writePID(t, tg.PIDFile, sp.PID())

	e := &Escalator{Logger: quiet(), Timeout: 200 * time.Millisecond}
	out, err := e.Stop(context.Background(), tg, syscall.SIGINT)
	require.NoError(t, err)
	assert.Equal(t, StoppedForcefully, out)
	select {
	case <-sp.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("helper survived SIGKILL")
	}
	_, err = os.Stat(tg.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "stopped_forcefully", StoppedForcefully.String())
	assert.Equal(t, "cleared_stale", ClearedStale.String())
	assert.Equal(t, "not_running", NotRunning.String())
}
