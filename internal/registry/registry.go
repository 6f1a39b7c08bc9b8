package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/renameio/v2"
	"github.com/loykin/bootloader/internal/detector"
	"github.com/loykin/bootloader/internal/naming"
)

// Target identifies one service on disk and in the process table.
type Target struct {
	Name    string
	Group   string
	Title   string
	PIDFile string
}

// State is the liveness of a service as observed from outside.
type State int

const (
	Stopped State = iota
	Running
	StoppedWithZombies
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case StoppedWithZombies:
		return "stopped with zombies"
	default:
		return "stopped"
	}
}

// Registry answers liveness questions from pid files and the process table.
type Registry struct {
	Table detector.ProcTable
}

func New(table detector.ProcTable) *Registry {
	if table == nil {
		table = detector.SystemTable{}
	}
	return &Registry{Table: table}
}

// ReadPID returns the pid recorded in path.
func (r *Registry) ReadPID(path string) (int, error) { return detector.ReadPIDFile(path) }

// PidDetail is the title of the pid recorded for t, "" when unknown.
func (r *Registry) PidDetail(t Target) string {
	pid, err := r.ReadPID(t.PIDFile)
	if err != nil {
		return ""
	}
	return r.Detail(pid)
}

// Detail is the title of pid, "" on any lookup error.
func (r *Registry) Detail(pid int) string {
	title, err := r.Table.Title(pid)
	if err != nil {
		return ""
	}
	return title
}

// Detector is the liveness strategy for t.
func (r *Registry) Detector(t Target) detector.Detector {
	return detector.PIDFileDetector{PIDFile: t.PIDFile, Title: t.Title, Table: r.Table}
}

// ZombieDetector finds leftover processes carrying t's title.
func (r *Registry) ZombieDetector(t Target) detector.TitleDetector {
	return detector.TitleDetector{Title: t.Title, Table: r.Table}
}

// IsStopped is false only when the pid file names a process carrying t's
// title or the alias recorded with it.
func (r *Registry) IsStopped(t Target) bool {
	alive, _ := r.Detector(t).Alive()
	return !alive
}

// Holds reports whether pid currently answers to t.
func (r *Registry) Holds(t Target, pid int) bool {
	title := r.Detail(pid)
	if title == "" {
		return false
	}
	if title == t.Title {
		return true
	}
	recorded, alias, err := detector.ReadPIDRecord(t.PIDFile)
	return err == nil && recorded == pid && alias == title
}

// ZombiePIDs lists processes carrying t's title while no valid pid file exists.
func (r *Registry) ZombiePIDs(t Target) []int {
	if !r.IsStopped(t) {
		return nil
	}
	pids, _ := r.ZombieDetector(t).PIDs()
	return pids
}

func (r *Registry) HasZombies(t Target) bool { return len(r.ZombiePIDs(t)) > 0 }

func (r *Registry) State(t Target) State {
	if !r.IsStopped(t) {
		return Running
	}
	if r.HasZombies(t) {
		return StoppedWithZombies
	}
	return Stopped
}

// Lease is a claimed pid file.
type Lease struct {
	Path  string
	PID   int
	Alias string
}

// Claim atomically records pid in path, creating missing directories.
func (r *Registry) Claim(path string, pid int) (*Lease, error) {
	return r.ClaimAs(path, pid, "")
}

// ClaimAs is Claim for a holder whose title is alias rather than the
// service title, such as a worker running inline in the foreground.
func (r *Registry) ClaimAs(path string, pid int, alias string) (*Lease, error) {
	if err := naming.EnsureDir(filepath.Dir(path), "pid file"); err != nil {
		return nil, err
	}
	body := strconv.Itoa(pid) + "\n"
	if alias != "" {
		body += alias + "\n"
	}
	if err := renameio.WriteFile(path, []byte(body), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file %s: %w", path, err)
	}
	return &Lease{Path: path, PID: pid, Alias: alias}, nil
}

// Release removes the pid file if it still records the lease's pid.
func (l *Lease) Release() error {
	if l == nil {
		return nil
	}
	pid, err := detector.ReadPIDFile(l.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != l.PID {
		return nil
	}
	return Remove(l.Path)
}

// Remove deletes path, ignoring a missing file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
