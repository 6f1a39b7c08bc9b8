package detector

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReadPIDFile returns the pid recorded on the first line of path.
func ReadPIDFile(path string) (int, error) {
	pid, _, err := ReadPIDRecord(path)
	return pid, err
}

// ReadPIDRecord returns the pid on the first line of path and the optional
// alias on the second: the title the holder answers to when it could not be
// started under the service title.
func ReadPIDRecord(path string) (pid int, alias string, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, "", err
	}
	line, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, "", fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, "", fmt.Errorf("invalid pid in %s: %d", path, pid)
	}
	alias, _, _ = strings.Cut(rest, "\n")
	return pid, strings.TrimSpace(alias), nil
}

// PIDFileDetector treats a service as alive when its pid file names a
// process whose title equals Title, or the alias recorded next to the pid.
// Table errors count as no match.
type PIDFileDetector struct {
	PIDFile string
	Title   string
	Table   ProcTable
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, alias, err := ReadPIDRecord(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	title, err := d.table().Title(pid)
	if err != nil || title == "" {
		return false, nil
	}
	return title == d.Title || title == alias, nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile + "@" + d.Title }

func (d PIDFileDetector) table() ProcTable {
	if d.Table == nil {
		return SystemTable{}
	}
	return d.Table
}

// TitleDetector scans the process table for any process carrying Title.
type TitleDetector struct {
	Title string
	Table ProcTable
}

func (d TitleDetector) Alive() (bool, error) {
	pids, err := d.PIDs()
	return len(pids) > 0, err
}

// PIDs lists matching processes. Scan failures yield an empty result.
func (d TitleDetector) PIDs() ([]int, error) {
	t := d.Table
	if t == nil {
		t = SystemTable{}
	}
	pids, err := t.Find(d.Title)
	if err != nil {
		return nil, nil
	}
	return pids, nil
}

func (d TitleDetector) Describe() string { return "title:" + d.Title }
