package process

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellCommandExplicitShellNoDoubleWrap(t *testing.T) {
	cmd := ShellCommand(context.Background(), "sh -c 'echo hi'")
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi"}, cmd.Args)
}

func TestShellCommandMetacharTriggersShell(t *testing.T) {
	cmd := ShellCommand(context.Background(), "echo a | wc -c")
	assert.Equal(t, "/bin/sh", cmd.Args[0])
	assert.Equal(t, "echo a | wc -c", cmd.Args[2])
}

func TestShellCommandPlain(t *testing.T) {
	cmd := ShellCommand(context.Background(), "  sleep   1 ")
	assert.Equal(t, []string{"sleep", "1"}, cmd.Args)
}

func TestShellCommandEmpty(t *testing.T) {
	cmd := ShellCommand(context.Background(), "")
	assert.True(t, strings.HasSuffix(cmd.Path, "true"))
}

func TestShellCommandRuns(t *testing.T) {
	requireUnix(t)
	out, err := ShellCommand(context.Background(), "sh -c \"printf '%s' ok\"").Output()
	assert.NoError(t, err)
	assert.Equal(t, "ok", string(out))
}
