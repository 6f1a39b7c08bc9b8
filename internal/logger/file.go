package logger

import (
	"io"
	"path/filepath"

	"github.com/loykin/bootloader/internal/naming"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation for the supervisor diagnostic log.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// FileConfig describes the supervisor's own diagnostic log file.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Open returns a size-rotated writer for c.Path, or nil when Path is empty.
func (c FileConfig) Open() (io.WriteCloser, error) {
	if c.Path == "" {
		return nil, nil
	}
	if err := naming.EnsureDir(filepath.Dir(c.Path), "supervisor log file"); err != nil {
		return nil, err
	}
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
