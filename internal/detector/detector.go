package detector

// Detector is a strategy that determines if a service is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the service is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// ProcTable is the view of the OS process table the detectors rely on.
// A title is the first element of a process's command line.
type ProcTable interface {
	Title(pid int) (string, error)
	Find(title string) ([]int, error)
}
