package process

import (
	"context"
	"os/exec"
	"strings"
)

const shellMeta = "|&;<>*?`$\"'(){}[]~"

// ShellCommand builds an *exec.Cmd for a command line. A shell is only
// involved when the line asks for one ("sh -c ...") or uses shell syntax.
func ShellCommand(ctx context.Context, line string) *exec.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/true")
	}
	if script, ok := explicitShell(line); ok {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", script)
	}
	if strings.ContainsAny(line, shellMeta) {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", line)
	}
	parts := strings.Fields(line)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

// explicitShell returns the script of "sh -c <script>" style lines with one
// pair of surrounding quotes removed.
func explicitShell(line string) (string, bool) {
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		after, ok := strings.CutPrefix(line, p)
		if !ok {
			continue
		}
		if n := len(after); n >= 2 && (after[0] == '\'' || after[0] == '"') && after[n-1] == after[0] {
			after = after[1 : n-1]
		}
		return after, true
	}
	return "", false
}
