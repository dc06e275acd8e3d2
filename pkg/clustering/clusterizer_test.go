package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/similarity"
)

func newTestClusterizer() *Clusterizer {
	return NewClusterizer(similarity.NewScorer(nil, 0))
}

func TestFindClusters(t *testing.T) {
	c := newTestClusterizer()

	t.Run("similar messages share a group", func(t *testing.T) {
		groups := c.FindClusters([]string{
			"connection refused by host alpha",
			"connection refused by host alpha",
			"null pointer dereference in worker",
		}, 0.9)
		require.Len(t, groups, 2)
		assert.Equal(t, []int{0, 1}, groups[0])
		assert.Equal(t, []int{2}, groups[1])
	})

	t.Run("group keys are dense and in creation order", func(t *testing.T) {
		groups := c.FindClusters([]string{"alpha one", "beta two", "gamma three"}, 0.99)
		require.Len(t, groups, 3)
		for g := 0; g < 3; g++ {
			assert.Equal(t, []int{g}, groups[g])
		}
	})

	t.Run("empty messages cluster together", func(t *testing.T) {
		groups := c.FindClusters([]string{"", "some error text here", ""}, 0.9)
		require.Len(t, groups, 2)
		assert.Equal(t, []int{0, 2}, groups[0])
	})

	t.Run("deterministic across runs", func(t *testing.T) {
		messages := []string{
			"error reading file config",
			"error reading file settings",
			"timeout waiting for response",
		}
		first := c.FindClusters(messages, 0.7)
		second := c.FindClusters(messages, 0.7)
		assert.Equal(t, first, second)
	})

	t.Run("no messages", func(t *testing.T) {
		assert.Empty(t, c.FindClusters(nil, 0.9))
	})
}

func TestClusterHash(t *testing.T) {
	t.Run("stable for equal input", func(t *testing.T) {
		messages := []string{
			"connection refused by host",
			"connection refused by host again",
		}
		assert.Equal(t, ClusterHash(messages), ClusterHash(messages))
	})

	t.Run("shared bigrams drive the hash", func(t *testing.T) {
		// Both groups share exactly the bigrams of "connection refused by".
		a := ClusterHash([]string{"connection refused by host", "connection refused by peer"})
		b := ClusterHash([]string{"connection refused by node", "connection refused by socket"})
		assert.Equal(t, a, b)
	})

	t.Run("different content hashes differently", func(t *testing.T) {
		a := ClusterHash([]string{"connection refused by host"})
		b := ClusterHash([]string{"null pointer in worker loop"})
		assert.NotEqual(t, a, b)
	})

	t.Run("no shared bigrams collapses to the empty hash", func(t *testing.T) {
		a := ClusterHash([]string{"alpha beta", "gamma delta"})
		b := ClusterHash([]string{"one two", "three four"})
		assert.Equal(t, a, b)
	})

	t.Run("fits the ten-to-sixteenth id space", func(t *testing.T) {
		h := ClusterHash([]string{"connection refused by host"})
		assert.GreaterOrEqual(t, h, int64(0))
		assert.Less(t, h, int64(1e16))
	})
}
