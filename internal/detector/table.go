package detector

import (
	"os"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// SystemTable reads the live OS process table through gopsutil.
type SystemTable struct {
	// Self is excluded from Find results; zero means the current process.
	Self int
}

func (SystemTable) Title(pid int) (string, error) {
	if pid <= 0 {
		return "", nil
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	args, err := p.CmdlineSlice()
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return "", nil
	}
	return args[0], nil
}

func (t SystemTable) Find(title string) ([]int, error) {
	if title == "" {
		return nil, nil
	}
	self := t.Self
	if self == 0 {
		self = os.Getpid()
	}
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		args, err := p.CmdlineSlice()
		if err != nil || len(args) == 0 {
			continue
		}
		if args[0] == title {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids, nil
}
