package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectors are package-level, so every test shares one registry
var reg = prometheus.NewRegistry()

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncStart("api")
	IncStart("api")
	IncStop("api", "stopped")
	ObserveStop("api", 40*time.Millisecond)
	IncZombies("api")
	SetUp("api", true)
	IncRestart("api")
	AddFlushed("api", "stdout", 12)
	IncFlushFailure("api", "stderr")
	IncRotation("api", "stdout")

	assert.Equal(t, 2.0, testutil.ToFloat64(serviceStarts.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(serviceStops.WithLabelValues("api", "stopped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(serviceUp.WithLabelValues("api")))
	assert.Equal(t, 12.0, testutil.ToFloat64(logFlushed.WithLabelValues("api", "stdout")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"bootloader_service_starts_total",
		"bootloader_service_stops_total",
		"bootloader_service_stop_duration_seconds",
		"bootloader_service_zombies_detected_total",
		"bootloader_service_up",
		"bootloader_worker_restarts_total",
		"bootloader_log_flushed_bytes_total",
		"bootloader_log_flush_failures_total",
		"bootloader_log_rotations_total",
	} {
		assert.True(t, names[n], "missing %s", n)
	}
}

func TestWriteTextfile(t *testing.T) {
	require.NoError(t, Register(reg))
	IncStart("textfile")

	path := filepath.Join(t.TempDir(), "metrics", "bootloader.prom")
	require.NoError(t, WriteTextfile(path, reg))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `bootloader_service_starts_total{service="textfile"}`))

	assert.NoError(t, WriteTextfile("", reg))
}
