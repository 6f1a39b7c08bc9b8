package process

import (
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/loykin/bootloader/internal/detector"
	"github.com/stretchr/testify/require"
)

const helperEnv = "BOOTLOADER_PROCESS_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "sleep":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "stubborn":
		signal.Ignore(syscall.SIGINT, syscall.SIGTERM)
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "pidfile":
		// records its own pid like a watcher would
		_ = os.WriteFile(os.Getenv("BOOTLOADER_PID_FILE"), []byte(strconv.Itoa(os.Getpid())), 0o644)
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case "exit":
		os.Exit(3)
	}
	os.Exit(m.Run())
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require Unix process groups and signals")
	}
}

// startHelper re-executes the test binary in its own process group with
// argv[0] = title and waits until the title is visible.
func startHelper(t *testing.T, title, mode string) *Spawned {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	cmd := &exec.Cmd{
		Path:        exe,
		Args:        []string{title},
		Env:         append(os.Environ(), helperEnv+"="+mode),
		SysProcAttr: groupAttrs(),
	}
	require.NoError(t, cmd.Start())
	sp := watch(cmd)
	t.Cleanup(func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-sp.Done()
	})
	require.Eventually(t, func() bool {
		got, _ := detector.SystemTable{}.Title(cmd.Process.Pid)
		return got == title
	}, 3*time.Second, 10*time.Millisecond)
	return sp
}
