package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(&Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewCreatesSchema(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Ping())
}
