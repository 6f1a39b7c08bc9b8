package naming

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveServiceTemplate(t *testing.T) {
	r := Resolver{Service: "worker"}
	assert.Equal(t, "logs/out-worker.log", r.Resolve("logs/out-%service%.log"))
}

func TestResolveDefaults(t *testing.T) {
	r := Resolver{}
	assert.Equal(t, "run/process-daemon.pid", r.Resolve(DefaultPIDFile))
	assert.Equal(t, "logs/ungrouped/x.log", r.Resolve("logs/%group%/x.log"))
}

func TestResolveOptions(t *testing.T) {
	r := Resolver{
		Service: "api",
		Group:   "web",
		Options: map[string]string{
			"target":  "staging",
			"service": "ignored",
			"command": "start",
		},
	}
	got := r.Resolve("/etc/%group%/%service%.%target%.toml")
	assert.Equal(t, "/etc/web/api.staging.toml", got)
	// unknown placeholders survive
	assert.Equal(t, "%nope%-api", r.Resolve("%nope%-%service%"))
}

func TestEnsureDirCreatesSegments(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, EnsureDir(target, "pid file"))
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	// idempotent
	require.NoError(t, EnsureDir(target, "pid file"))
}

func TestEnsureDirRejectsFileSegment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "run")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	err := EnsureDir(filepath.Join(file, "sub"), "pid file")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPathIsFile))
}

func TestEnsureDirEmpty(t *testing.T) {
	assert.NoError(t, EnsureDir("", "x"))
	assert.NoError(t, EnsureDir(".", "x"))
}
