package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBalancerPicksTrueMinimum(t *testing.T) {
	b := NewLoadBalancer(3)

	// Picks on equal loads go to handlers 0, 1, 2 in turn, leaving loads [1, 1, 1].
	require.Equal(t, 0, b.Pick())
	require.Equal(t, 1, b.Pick())
	require.Equal(t, 2, b.Pick())
	require.Equal(t, 0, b.Pick()) // all three tie at load 1; handler 0 comes first

	// Now loads are [2, 1, 1]. The minimum is handler 1 or 2, not handler 0.
	picked := b.Pick()
	require.NotEqual(t, 0, picked, "must not re-pick the already-heavier handler once a smaller load exists later in the scan")
}

func TestLoadBalancerRelease(t *testing.T) {
	b := NewLoadBalancer(2)
	b.Pick() // handler 0 -> load 1
	b.Pick() // handler 1 -> load 1
	b.Release(0)
	require.Equal(t, 0, b.Load(0))
	require.Equal(t, 0, b.Pick(), "releasing handler 0 makes it the minimum again")
}
