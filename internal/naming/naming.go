package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Placeholders substituted when a service or group is not declared.
const (
	DefaultService = "daemon"
	DefaultGroup   = "ungrouped"
)

// Default templates for every path or title derived from a service name.
const (
	DefaultTitle         = "bootloader-%service%"
	DefaultPIDFile       = "run/process-%service%.pid"
	DefaultStdout        = "logs/stdout-%service%.log"
	DefaultStderr        = "logs/stderr-%service%.log"
	DefaultSupervisorLog = "logs/bootloader-%service%.log"
)

// ErrPathIsFile is returned when a directory that must exist on a
// pid or log path is a plain file.
var ErrPathIsFile = errors.New("path component is a file and must be a directory")

// Resolver expands %service%, %group% and %<option>% placeholders.
// Options holds the current value of every CLI option by name.
type Resolver struct {
	Service string
	Group   string
	Options map[string]string
}

// Resolve returns pattern with all known placeholders replaced.
// Unknown placeholders are left untouched.
func (r Resolver) Resolve(pattern string) string {
	service := r.Service
	if service == "" {
		service = DefaultService
	}
	group := r.Group
	if group == "" {
		group = DefaultGroup
	}
	out := strings.ReplaceAll(pattern, "%service%", service)
	out = strings.ReplaceAll(out, "%group%", group)
	if len(r.Options) == 0 || !strings.Contains(out, "%") {
		return out
	}
	// Deterministic order so that an option value containing another
	// placeholder expands the same way on every run.
	keys := make([]string, 0, len(r.Options))
	for k := range r.Options {
		if k == "service" || k == "group" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = strings.ReplaceAll(out, "%"+k+"%", r.Options[k])
	}
	return out
}

// EnsureDir walks every segment of dir, creating the missing ones.
// It fails with ErrPathIsFile when a segment exists as a regular file;
// callers treat that as fatal. reason names the path for the error message.
func EnsureDir(dir, reason string) error {
	if dir == "" || dir == "." {
		return nil
	}
	clean := filepath.Clean(dir)
	var segments []string
	for p := clean; ; p = filepath.Dir(p) {
		segments = append(segments, p)
		parent := filepath.Dir(p)
		if parent == p || parent == "." {
			break
		}
	}
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if filepath.Base(seg) == ".." {
			continue
		}
		info, err := os.Stat(seg)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("validation path %q for %s: %w", seg, reason, ErrPathIsFile)
			}
			continue
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("validation path %q for %s: %w", seg, reason, err)
		}
		if err := os.Mkdir(seg, 0o750); err != nil && !os.IsExist(err) {
			return fmt.Errorf("create %q for %s: %w", seg, reason, err)
		}
	}
	return nil
}
