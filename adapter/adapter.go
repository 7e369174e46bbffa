// Package adapter implements the optional cross-chain group relay and
// shared-randomness surface: a twin of the
// controller that carries no node registry or DKG of its own, installed
// with one already-finalized group and then kept in sync with the chain
// that actually runs the DKG through a relay/confirm state machine.
//
// It plays the same role a mock demo chain's adapter contract plays
// relative to its controller contract; the locking and method-per-file
// layout follow controller/controller.go.
package adapter

import (
	"sync"

	"github.com/drand/kyber/pairing"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/config"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/common/log"
	"github.com/randcast/coordinator/types"
)

// Adapter is the relay-side counterpart to Controller. It does not persist
// across restarts and does not coordinate with other adapter replicas, the
// same two non-goals that apply to Controller.
type Adapter struct {
	mu sync.Mutex
	l  log.Logger

	suite pairing.Suite
	cfg   *config.Config

	blockHeight uint64
	epoch       uint64
	lastOutput  uint64

	adminAddress string

	groups         map[uint64]*types.Group
	lastGroupIndex uint64

	rewards map[string]int64

	signatureCount uint64
	pendingTasks   map[uint64]*types.SignatureTask

	relayCache             map[uint64]*RelayCache
	relayConfirmationTasks map[uint64]*RelayConfirmationTask
	relayConfirmationCount uint64
}

// New creates an empty Adapter with no installed group, at block height 0.
func New(l log.Logger, opts ...config.Option) *Adapter {
	cfg := config.New(opts...)
	return &Adapter{
		l:                      l.Named("adapter"),
		suite:                  blscrypto.Suite(),
		cfg:                    cfg,
		adminAddress:           cfg.AdminAddress,
		groups:                 make(map[uint64]*types.Group),
		rewards:                make(map[string]int64),
		pendingTasks:           make(map[uint64]*types.SignatureTask),
		relayCache:             make(map[uint64]*RelayCache),
		relayConfirmationTasks: make(map[uint64]*RelayConfirmationTask),
	}
}

// Mine advances the adapter's view of chain height by n. The adapter runs no coordinators of its own,
// so there is nothing else to tick.
func (a *Adapter) Mine(n uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blockHeight += n
	return a.blockHeight
}

// BlockHeight is the adapter's current view of chain height.
func (a *Adapter) BlockHeight() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blockHeight
}

// Claim redeems up to tokenRequested of id's accumulated reward balance,
// capped at whatever is actually owed.
func (a *Adapter) Claim(id string, tokenRequested int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	balance, ok := a.rewards[id]
	if !ok {
		return 0, errors.ErrRewardRecordNotExisted
	}
	amount := tokenRequested
	if balance < amount {
		amount = balance
	}
	a.rewards[id] = balance - amount
	return amount, nil
}
