package hashutil

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChooseRandomlyFromIndicesIsDeterministic(t *testing.T) {
	indices := []int{0, 1, 2, 3, 4}
	const seed = uint64(0x8762_4875_6548_6346)

	first := ChooseRandomlyFromIndices(seed, indices, 3)
	second := ChooseRandomlyFromIndices(seed, indices, 3)

	require.Equal(t, first, second)
	require.Len(t, first, 3)
}

func TestChooseRandomlyFromIndicesNoDuplicates(t *testing.T) {
	indices := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	picked := ChooseRandomlyFromIndices(0xdeadbeef, indices, 10)

	require.Len(t, picked, 10)
	seen := map[int]bool{}
	for _, p := range picked {
		require.False(t, seen[p], "duplicate pick %d", p)
		seen[p] = true
	}

	sorted := append([]int(nil), picked...)
	sort.Ints(sorted)
	require.Equal(t, indices, sorted)
}

func TestChooseRandomlyFromIndicesCapsAtPoolSize(t *testing.T) {
	picked := ChooseRandomlyFromIndices(1, []int{0, 1}, 5)
	require.Len(t, picked, 2)
}

func TestChooseRandomlyFromIndicesEmptyPool(t *testing.T) {
	require.Nil(t, ChooseRandomlyFromIndices(1, nil, 3))
	require.Nil(t, ChooseRandomlyFromIndices(1, []int{1, 2}, 0))
}

func TestStableHashDeterministic(t *testing.T) {
	require.Equal(t, StableHash([]byte("abc")), StableHash([]byte("abc")))
	require.NotEqual(t, StableHash([]byte("abc")), StableHash([]byte("abd")))
}
