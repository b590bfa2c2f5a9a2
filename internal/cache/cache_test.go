package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := New(Config{Capacity: 10})
	require.NoError(t, c.Set("k", map[string]string{"a": "b"}, time.Minute))

	var out map[string]string
	found, err := c.Get("k", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "b", out["a"])
}

func TestGetMissing(t *testing.T) {
	c := New(Config{Capacity: 10})
	var out string
	found, err := c.Get("missing", &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestExpiry(t *testing.T) {
	c := New(Config{Capacity: 10})
	require.NoError(t, c.Set("k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var out string
	found, err := c.Get("k", &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestDelete(t *testing.T) {
	c := New(Config{Capacity: 10})
	require.NoError(t, c.Set("k", "v", 0))
	c.Delete("k")

	var out string
	found, _ := c.Get("k", &out)
	require.False(t, found)
}

func TestCapacityEviction(t *testing.T) {
	c := New(Config{Capacity: 2})
	require.NoError(t, c.Set("a", "1", 0))
	require.NoError(t, c.Set("b", "2", 0))
	require.NoError(t, c.Set("c", "3", 0))

	require.LessOrEqual(t, c.Len(), 2)
}

func TestSweepRemovesExpired(t *testing.T) {
	c := New(Config{Capacity: 10})
	require.NoError(t, c.Set("k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	c.Sweep()
	require.Equal(t, 0, c.Len())
}
