package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(3, time.Minute)
	require.True(t, l.Allow("k"))
	require.True(t, l.Allow("k"))
	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))
}

func TestAllowPerKeyIndependent(t *testing.T) {
	l := New(1, time.Minute)
	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
	require.False(t, l.Allow("a"))
}

func TestAllowZeroLimitDisabled(t *testing.T) {
	l := New(0, time.Minute)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("k"))
	}
}

func TestAllowWindowResets(t *testing.T) {
	l := New(1, 10*time.Millisecond)
	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, l.Allow("k"))
}
