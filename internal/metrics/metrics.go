package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bootloader",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of services spawned by start, restart or debug.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bootloader",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stop attempts by outcome.",
		}, []string{"service", "outcome"},
	)
	stopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bootloader",
			Subsystem: "service",
			Name:      "stop_duration_seconds",
			Help:      "Time from the graceful signal until the service reported stopped.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5},
		}, []string{"service"},
	)
	zombies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bootloader",
			Subsystem: "service",
			Name:      "zombies_detected_total",
			Help:      "Number of times a titled process was found without a valid pid file.",
		}, []string{"service"},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bootloader",
			Subsystem: "service",
			Name:      "up",
			Help:      "1 when the last status check saw the service running.",
		}, []string{"service"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bootloader",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of worker respawns performed by a watcher.",
		}, []string{"service"},
	)
	logFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bootloader",
			Subsystem: "log",
			Name:      "flushed_bytes_total",
			Help:      "Bytes appended to log files.",
		}, []string{"service", "stream"},
	)
	logFlushFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bootloader",
			Subsystem: "log",
			Name:      "flush_failures_total",
			Help:      "Failed appends; the content is retried on the next tick.",
		}, []string{"service", "stream"},
	)
	logRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bootloader",
			Subsystem: "log",
			Name:      "rotations_total",
			Help:      "Number of log file rotations.",
		}, []string{"service", "stream"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, stopDuration, zombies, serviceUp, workerRestarts, logFlushed, logFlushFailures, logRotations}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// WriteTextfile writes the gathered metrics to path in the text exposition
// format, for pickup by a node_exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return prometheus.WriteToTextfile(path, g)
}

// Helpers below no-op until Register has succeeded.

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncStop(service, outcome string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service, outcome).Inc()
	}
}

func ObserveStop(service string, d time.Duration) {
	if regOK.Load() {
		stopDuration.WithLabelValues(service).Observe(d.Seconds())
	}
}

func IncZombies(service string) {
	if regOK.Load() {
		zombies.WithLabelValues(service).Inc()
	}
}

func SetUp(service string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1
		}
		serviceUp.WithLabelValues(service).Set(v)
	}
}

func IncRestart(service string) {
	if regOK.Load() {
		workerRestarts.WithLabelValues(service).Inc()
	}
}

func AddFlushed(service, stream string, n int) {
	if regOK.Load() {
		logFlushed.WithLabelValues(service, stream).Add(float64(n))
	}
}

func IncFlushFailure(service, stream string) {
	if regOK.Load() {
		logFlushFailures.WithLabelValues(service, stream).Inc()
	}
}

func IncRotation(service, stream string) {
	if regOK.Load() {
		logRotations.WithLabelValues(service, stream).Inc()
	}
}
