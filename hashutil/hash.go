// Package hashutil pins the one stable 64-bit hash every participant must
// agree on and the deterministic sampling procedure built on top of it:
// choosing committers after a DKG finalizes and choosing which members to
// move during rebalancing.
package hashutil

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// StableHash is the pinned non-cryptographic 64-bit hash used everywhere
// last_output is produced or consumed. (CommitResults are bucketed by plain
// struct equality, not through this hash.) It must never change across a
// deployment: every node and the controller compute it the same way, or
// committer election silently diverges.
func StableHash(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// StableHashUint64 re-hashes a 64-bit seed, the iteration step used by
// ChooseRandomlyFromIndices.
func StableHashUint64(seed uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	return xxhash.Sum64(buf[:])
}

// ChooseRandomlyFromIndices deterministically samples up to k elements
// without replacement from indices, seeded by seed. Every participant that
// runs this with the same (seed, indices, k) gets the same result, which is
// the whole point: committer election and group-rebalancing member
// selection must be reproducible by every node independently, not just by
// whichever one ran first.
//
// The algorithm: repeatedly re-hash the running seed, reduce it modulo
// (maxIndex+1), then linearly probe upward (wrapping) until the candidate is
// still in the pool. That candidate is appended to the result and removed
// from the pool. Stops after k picks or once the pool is empty.
func ChooseRandomlyFromIndices(seed uint64, indices []int, k int) []int {
	if k <= 0 || len(indices) == 0 {
		return nil
	}

	pool := make(map[int]bool, len(indices))
	maxIdx := indices[0]
	for _, idx := range indices {
		pool[idx] = true
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	bound := uint64(maxIdx + 1)
	result := make([]int, 0, k)
	hash := seed

	for len(result) < k && len(pool) > 0 {
		hash = StableHashUint64(hash)
		candidate := int(hash % bound)
		for !pool[candidate] {
			candidate = (candidate + 1) % int(bound)
		}
		result = append(result, candidate)
		delete(pool, candidate)
	}

	return result
}
