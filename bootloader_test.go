package bootloader

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeErrors(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, errors.Is(err, ErrNoServices))

	err = Run(context.Background(), Options{Execute: func(context.Context, *Handle) error { return nil }}, []string{"bogus"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestFacadeStatus(t *testing.T) {
	var out bytes.Buffer
	s, err := New(Options{
		Services: []Service{{Name: "api", Group: "web", Execute: func(ctx context.Context, _ *Handle) error { <-ctx.Done(); return nil }}},
		PIDFile:  filepath.Join(t.TempDir(), "%service%.pid"),
		Console:  &out,
	})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), []string{"status", "--group", "web"}))
	assert.Equal(t, "bootloader-api is stopped\n", out.String())
	assert.Len(t, s.Services(), 1)
}
