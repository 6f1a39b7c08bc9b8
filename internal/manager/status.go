package manager

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/loykin/bootloader/internal/detector"
	"github.com/loykin/bootloader/internal/registry"
)

type statusStyles struct {
	running lipgloss.Style
	stopped lipgloss.Style
	zombies lipgloss.Style
	muted   lipgloss.Style
}

func (s *Supervisor) styles() statusStyles {
	r := lipgloss.NewRenderer(s.stdout)
	return statusStyles{
		running: r.NewStyle().Foreground(lipgloss.Color("42")),  // green
		stopped: r.NewStyle().Foreground(lipgloss.Color("196")), // red
		zombies: r.NewStyle().Foreground(lipgloss.Color("214")), // orange
		muted:   r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// StatusLine renders the state of svc, e.g. "bootloader-api is running (pid 42, up 3m12s)".
func (s *Supervisor) StatusLine(svc Service) string {
	t := s.Target(svc)
	st := s.styles()
	switch s.reg.State(t) {
	case registry.Running:
		line := t.Title + " is " + st.running.Render("running")
		if pid, err := s.reg.ReadPID(t.PIDFile); err == nil {
			line += " " + st.muted.Render(detail(pid, detector.Uptime(pid)))
		}
		return line
	case registry.StoppedWithZombies:
		n := len(s.reg.ZombiePIDs(t))
		return t.Title + " is " + st.zombies.Render("stopped with zombies") + " " + st.muted.Render(fmt.Sprintf("(%d found)", n))
	default:
		return t.Title + " is " + st.stopped.Render("stopped")
	}
}

func detail(pid int, up time.Duration) string {
	if up <= 0 {
		return fmt.Sprintf("(pid %d)", pid)
	}
	return fmt.Sprintf("(pid %d, up %s)", pid, up)
}

func (s *Supervisor) status(svc Service) error {
	s.say("%s", s.StatusLine(svc))
	return nil
}
