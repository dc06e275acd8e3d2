// Package clustering groups log messages into equivalence classes by
// similarity and derives stable content hashes for the resulting clusters.
package clustering

import (
	"crypto/sha1"
	"math/big"
	"sort"
	"strings"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/similarity"
)

// Clusterizer performs greedy single-link grouping of messages.
type Clusterizer struct {
	scorer *similarity.Scorer
}

// NewClusterizer creates a clusterizer backed by the given scorer.
func NewClusterizer(scorer *similarity.Scorer) *Clusterizer {
	return &Clusterizer{scorer: scorer}
}

// FindClusters partitions messages into groups under the similarity threshold.
// Messages are visited in input order; each joins the first existing group
// whose first member is at least threshold-similar, otherwise it starts a new
// group. Group keys are dense, assigned in creation order, so iterating keys
// 0..len-1 reproduces the grouping deterministically.
func (c *Clusterizer) FindClusters(messages []string, threshold float64) map[int][]int {
	groups := make(map[int][]int)
	var order []int
	for i, message := range messages {
		joined := false
		for _, g := range order {
			first := messages[groups[g][0]]
			score := c.scorer.Score(message, first)
			if !score.BothEmpty && score.Similarity >= threshold {
				groups[g] = append(groups[g], i)
				joined = true
				break
			}
			// Two empty messages cluster together.
			if score.BothEmpty {
				groups[g] = append(groups[g], i)
				joined = true
				break
			}
		}
		if !joined {
			g := len(order)
			groups[g] = []int{i}
			order = append(order, g)
		}
	}
	return groups
}

// hashMembersBound caps how many group members contribute to the hash.
const hashMembersBound = 100

// ClusterHash computes the stable 64-bit content hash of a group of messages:
// the binary bigram-presence matrix over up to 100 members is AND-reduced,
// the surviving bigrams are joined in vocabulary order, and the SHA1 of that
// string is taken mod 10^16. A group with no shared bigrams hashes the empty
// string; that collision class is accepted behavior.
func ClusterHash(messages []string) int64 {
	if len(messages) > hashMembersBound {
		messages = messages[:hashMembersBound]
	}
	var shared map[string]struct{}
	for i, message := range messages {
		bigrams := messageBigrams(message)
		if i == 0 {
			shared = bigrams
			continue
		}
		for b := range shared {
			if _, ok := bigrams[b]; !ok {
				delete(shared, b)
			}
		}
	}
	vocabulary := make([]string, 0, len(shared))
	for b := range shared {
		vocabulary = append(vocabulary, b)
	}
	sort.Strings(vocabulary)

	// The SHA1 digest interpreted as a big integer, mod 10^16.
	sum := sha1.Sum([]byte(strings.Join(vocabulary, " ")))
	n := new(big.Int).SetBytes(sum[:])
	mod := new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
	return n.Mod(n, mod).Int64()
}

func messageBigrams(message string) map[string]struct{} {
	tokens := strings.Fields(message)
	bigrams := make(map[string]struct{})
	for i := 0; i+1 < len(tokens); i++ {
		bigrams[tokens[i]+" "+tokens[i+1]] = struct{}{}
	}
	return bigrams
}
