// Package controller implements the authoritative state machine: node and
// group lifecycle, DKG commitment tallying, the randomness task queue, and
// the reward/slashing ledger. Every mutator runs under a single coarse
// lock, a single logical serializer rather than fine-grained locking per
// entity.
package controller

import (
	"sync"

	"github.com/drand/kyber/pairing"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/common/log"
	"github.com/randcast/coordinator/coordinator"
	"github.com/randcast/coordinator/metrics"
	"github.com/randcast/coordinator/params"
	"github.com/randcast/coordinator/types"
)

// Controller is the single authoritative replica: it does not persist
// across restarts and does not coordinate with other controller replicas.
type Controller struct {
	mu sync.Mutex
	l  log.Logger

	suite pairing.Suite

	blockHeight uint64
	lastOutput  uint64
	epoch       uint64

	nodes   map[string]*types.Node
	rewards map[string]int64

	groups         map[uint64]*types.Group
	nextGroupIndex uint64
	lastGroupIndex uint64

	coordinators map[uint64]*coordinator.Coordinator
	dkgTasks     map[uint64]*types.DKGTask

	signatureCount  uint64
	pendingTasks    map[uint64]*types.SignatureTask
	verifiableRewards map[uint64]*types.SignatureReward
}

// New creates an empty Controller at block height 0 with no groups or
// nodes registered.
func New(l log.Logger) *Controller {
	return &Controller{
		l:                 l.Named("controller"),
		suite:             blscrypto.Suite(),
		nodes:             make(map[string]*types.Node),
		rewards:           make(map[string]int64),
		groups:            make(map[uint64]*types.Group),
		nextGroupIndex:    1,
		coordinators:      make(map[uint64]*coordinator.Coordinator),
		dkgTasks:          make(map[uint64]*types.DKGTask),
		pendingTasks:      make(map[uint64]*types.SignatureTask),
		verifiableRewards: make(map[uint64]*types.SignatureReward),
	}
}

// Mine advances the block height by n and forwards the new height to every
// live Coordinator.
func (c *Controller) Mine(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockHeight += n
	for _, co := range c.coordinators {
		co.Tick(c.blockHeight)
	}
	return c.blockHeight
}

// BlockHeight is the controller's current view of chain height.
func (c *Controller) BlockHeight() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockHeight
}

// Coordinator returns the live DKG bulletin board for a group, addressed by
// group index plus (group_index, epoch) metadata on each call.
func (c *Controller) Coordinator(groupIndex uint64) (*coordinator.Coordinator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	co, ok := c.coordinators[groupIndex]
	if !ok {
		return nil, errors.ErrCoordinatorNotExisted
	}
	return co, nil
}
