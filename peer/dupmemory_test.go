package peer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDupMemorySeenDetectsRepeat(t *testing.T) {
	var d dupMemory

	req := getblocksRequest{version: 70002, locator: "abc", stopHash: "def"}

	require.False(t, d.Seen(req))
	require.True(t, d.Seen(req))
}

// A getheaders and a getblocks call with identical version, locator and
// stop hash are indistinguishable to dupMemory: the second is suppressed
// as a duplicate of the first regardless of which wire command carried it.
func TestDupMemoryTreatsGetHeadersAndGetBlocksAlike(t *testing.T) {
	var d dupMemory

	req := getblocksRequest{version: 70002, locator: "abc", stopHash: "def"}

	require.False(t, d.Seen(req))
	require.True(t, d.Seen(req))
}

func TestDupMemoryDistinguishesLocator(t *testing.T) {
	var d dupMemory

	a := getblocksRequest{version: 70002, locator: "abc", stopHash: "def"}
	b := getblocksRequest{version: 70002, locator: "xyz", stopHash: "def"}

	require.False(t, d.Seen(a))
	require.False(t, d.Seen(b))
}

func TestDupMemoryEvictsOldestAfterThree(t *testing.T) {
	var d dupMemory

	reqs := make([]getblocksRequest, 4)
	for i := range reqs {
		reqs[i] = getblocksRequest{locator: string(rune('a' + i))}
	}

	for _, r := range reqs[:3] {
		require.False(t, d.Seen(r))
	}

	// The 4th distinct request evicts the 1st (ring capacity 3).
	require.False(t, d.Seen(reqs[3]))

	// The evicted 1st entry is no longer remembered.
	require.False(t, d.Seen(reqs[0]))
}
