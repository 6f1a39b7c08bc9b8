package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/bootloader/internal/metrics"
	"github.com/loykin/bootloader/internal/naming"
	"vawter.tech/stopper"
)

// Stream selects one of the two captured output streams.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

const (
	DefaultInterval = 500 * time.Millisecond
	maxLineSize     = 1 << 20
)

// Config configures output capture for one service.
type Config struct {
	Service    string
	StdoutPath string
	StderrPath string
	// Append keeps existing content; otherwise the files are truncated on Start.
	Append bool
	// StartupMessage is written to both files on Start. Empty means a
	// timestamped default banner.
	StartupMessage string
	Interval       time.Duration
	// MaxSize in bytes and MaxFiles backups; rotation is off unless both are positive.
	MaxSize  int64
	MaxFiles int
	Logger   *slog.Logger
}

// Manager buffers captured lines in memory and appends them to the stream
// files on a fixed tick. Failed appends are retried on the next tick.
type Manager struct {
	cfg     Config
	paths   [2]string
	mu      sync.Mutex
	pending [2][]byte
	flushMu sync.Mutex
	sctx    *stopper.Context
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{cfg: cfg, paths: [2]string{cfg.StdoutPath, cfg.StderrPath}}
	for s, p := range m.paths {
		if p == "" {
			return nil, fmt.Errorf("%s log path is empty", Stream(s))
		}
		if err := naming.EnsureDir(filepath.Dir(p), Stream(s).String()+" log file"); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Path returns the file backing s.
func (m *Manager) Path(s Stream) string { return m.paths[s] }

// Start writes the startup banner and launches the flush loop.
func (m *Manager) Start(ctx context.Context) error {
	banner := m.cfg.StartupMessage
	if banner == "" {
		banner = "======= Start up " + time.Now().Format(time.RFC1123) + " ======="
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if m.cfg.Append {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	for _, p := range m.paths {
		f, err := os.OpenFile(p, flag, 0o644)
		if err != nil {
			return err
		}
		_, werr := f.WriteString(banner + "\n")
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return err
		}
	}

	m.sctx = stopper.WithContext(ctx)
	m.sctx.Go(func(sctx *stopper.Context) error {
		t := time.NewTicker(m.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-sctx.Done():
				return nil
			case <-t.C:
				_ = m.Flush()
			}
		}
	})
	return nil
}

// Append queues line (a trailing newline is added) for s.
func (m *Manager) Append(s Stream, line string) {
	m.mu.Lock()
	m.pending[s] = append(m.pending[s], line...)
	m.pending[s] = append(m.pending[s], '\n')
	m.mu.Unlock()
}

// Pending returns the number of bytes queued for s.
func (m *Manager) Pending(s Stream) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[s])
}

// Flush appends every queued byte to its file and rotates when needed.
func (m *Manager) Flush() error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()
	return errors.Join(m.flush(Stdout), m.flush(Stderr))
}

func (m *Manager) flush(s Stream) error {
	m.mu.Lock()
	buf := m.pending[s]
	m.pending[s] = nil
	m.mu.Unlock()
	if len(buf) == 0 {
		return nil
	}

	n, err := appendFile(m.paths[s], buf)
	if n > 0 {
		metrics.AddFlushed(m.cfg.Service, s.String(), n)
	}
	if err != nil {
		m.mu.Lock()
		m.pending[s] = append(buf[n:len(buf):len(buf)], m.pending[s]...)
		m.mu.Unlock()
		metrics.IncFlushFailure(m.cfg.Service, s.String())
		m.cfg.Logger.Warn("log flush failed, retrying next tick",
			"service", m.cfg.Service, "stream", s.String(), "path", m.paths[s], "error", err)
		return err
	}

	if m.cfg.MaxSize > 0 && m.cfg.MaxFiles > 0 {
		fi, err := os.Stat(m.paths[s])
		if err == nil && fi.Size() > m.cfg.MaxSize {
			if err := rotate(m.paths[s], m.cfg.MaxFiles); err != nil {
				m.cfg.Logger.Warn("log rotation failed",
					"service", m.cfg.Service, "stream", s.String(), "path", m.paths[s], "error", err)
				return err
			}
			metrics.IncRotation(m.cfg.Service, s.String())
		}
	}
	return nil
}

func appendFile(path string, b []byte) (int, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	n, werr := f.Write(b)
	return n, errors.Join(werr, f.Close())
}

// rotate shifts path.i to path.i+1 for i = n-1..1, moves path to path.1 and
// recreates an empty path. Whatever sat at path.n is overwritten.
func rotate(path string, n int) error {
	for i := n - 1; i >= 1; i-- {
		src := path + "." + strconv.Itoa(i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, path+"."+strconv.Itoa(i+1)); err != nil {
			return err
		}
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Stop ends the flush loop and flushes what is left.
func (m *Manager) Stop() error {
	if m.sctx != nil {
		m.sctx.Stop(m.cfg.Interval)
		_ = m.sctx.Wait()
	}
	return m.Flush()
}

// Writer returns an io.Writer that splits its input into lines for s.
func (m *Manager) Writer(s Stream) *LineWriter {
	return &LineWriter{m: m, s: s}
}

// LineWriter queues complete lines; a trailing partial line waits for
// more input or Flush.
type LineWriter struct {
	m   *Manager
	s   Stream
	mu  sync.Mutex
	buf []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.m.Append(w.s, string(bytes.TrimSuffix(w.buf[:i], []byte{'\r'})))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineSize {
		w.m.Append(w.s, string(w.buf))
		w.buf = nil
	}
	return len(p), nil
}

// Flush queues any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.m.Append(w.s, string(w.buf))
		w.buf = nil
	}
}
