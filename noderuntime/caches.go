// Package noderuntime implements the per-participant event loops: a block
// listener, the DKG grouping/execution listeners, the BLS task listener and
// the signature-aggregation listener, each reading and writing one of three
// fine-grained caches. This mirrors drand's core/dkg state_machine.go
// cooperative-loop style, generalized from a single push-driven DKG state
// machine into an independently polling listener set.
package noderuntime

import (
	"sync"

	"github.com/randcast/coordinator/types"
)

// BlockCache is block_cache: writer is the BlockListener,
// every other listener only reads it.
type BlockCache struct {
	mu     sync.RWMutex
	height uint64
}

// Get returns the last block height observed by the BlockListener.
func (b *BlockCache) Get() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.height
}

// Set is called only by the BlockListener.
func (b *BlockCache) Set(height uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.height = height
}

// GroupCache is group_cache: written by the grouping/DKG
// listeners, read by everything else. It also implements
// committer.GroupLookup so a node's own Committer can validate inbound
// partial signatures against this same cached view.
type GroupCache struct {
	mu    sync.RWMutex
	group *types.Group
}

// CurrentGroup returns a defensive copy of the cached group, or false if
// the node has never observed a group.
func (g *GroupCache) CurrentGroup() (*types.Group, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.group == nil {
		return nil, false
	}
	return g.group.Clone(), true
}

// Set replaces the cached group view.
func (g *GroupCache) Set(group *types.Group) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.group = group
}
