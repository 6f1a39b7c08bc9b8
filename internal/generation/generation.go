package generation

import (
	"errors"
	"fmt"
)

// Generation identifies which re-exec stage an OS process instance represents.
type Generation int

const (
	// Control is the operator's own invocation; it dispatches CLI commands.
	Control Generation = iota
	// Detached is the background watcher. It owns the pid file and log capture.
	Detached
	// Hooked is the foreground watcher used by debug.
	Hooked
	// Bootstrapped invokes the host's execute callback.
	Bootstrapped
)

// Marker flag names. They are never shown to operators.
const (
	MarkerDetached     = "isDetached"
	MarkerHooked       = "isHooked"
	MarkerBootstrapped = "isBootStrapped"
)

// ErrConflict is returned when more than one marker is set.
var ErrConflict = errors.New("conflicting generation markers")

func (g Generation) String() string {
	switch g {
	case Control:
		return "control"
	case Detached:
		return "detached"
	case Hooked:
		return "hooked"
	case Bootstrapped:
		return "bootstrapped"
	default:
		return fmt.Sprintf("generation(%d)", int(g))
	}
}

// Markers returns the argv flags that encode g for a child process.
func (g Generation) Markers() []string {
	switch g {
	case Detached:
		return []string{"--" + MarkerDetached}
	case Hooked:
		return []string{"--" + MarkerHooked}
	case Bootstrapped:
		return []string{"--" + MarkerBootstrapped}
	default:
		return nil
	}
}

// OwnsPID reports whether instances of g write and release the pid file.
func (g Generation) OwnsPID() bool { return g == Detached || g == Hooked }

// Decode maps the decoded marker flags to exactly one Generation.
func Decode(detached, hooked, bootstrapped bool) (Generation, error) {
	n := 0
	g := Control
	if detached {
		n++
		g = Detached
	}
	if hooked {
		n++
		g = Hooked
	}
	if bootstrapped {
		n++
		g = Bootstrapped
	}
	if n > 1 {
		return Control, fmt.Errorf("%w: detached=%t hooked=%t bootstrapped=%t", ErrConflict, detached, hooked, bootstrapped)
	}
	return g, nil
}
