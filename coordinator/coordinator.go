// Package coordinator implements the per-group, per-epoch DKG bulletin
// board: a phase-timed clock plus three append-once buckets (shares,
// responses, justifications) keyed by participant. One instance exists per
// (group_index, epoch); the controller owns its lifetime, creating it in
// emit_group_event and dropping it in check_dkg_state once every phase
// window has elapsed.
//
// It is a bulletin board that participants publish to and poll, rather
// than a push-driven board-plus-phaser combination: every phase transition
// is something the node runtime polls for itself, so there is no internal
// goroutine driving phase changes here.
package coordinator

import (
	"fmt"
	"sync"

	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/common/log"
)

// Phase is the Coordinator's DKG clock state.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseShares
	PhaseResponses
	PhaseJustifications
	PhaseEnded
)

// Participant is one registered identity on the bulletin board.
type Participant struct {
	Address           string
	IdentityPublicKey []byte
}

// Coordinator is one (group_index, epoch)'s DKG bulletin board.
type Coordinator struct {
	mu sync.RWMutex
	l  log.Logger

	groupIndex    uint64
	epoch         uint64
	threshold     int
	phaseDuration uint64

	started      bool
	startBlock   uint64
	currentBlock uint64

	order        []string // registration order, defines padded array order
	participants map[string]Participant

	shares         map[string][]byte
	responses      map[string][]byte
	justifications map[string][]byte
}

// New creates a not-yet-started coordinator for (groupIndex, epoch).
func New(l log.Logger, groupIndex, epoch uint64, threshold int, phaseDuration uint64) *Coordinator {
	return &Coordinator{
		l:              l.Named("coordinator"),
		groupIndex:     groupIndex,
		epoch:          epoch,
		threshold:      threshold,
		phaseDuration:  phaseDuration,
		participants:   make(map[string]Participant),
		shares:         make(map[string][]byte),
		responses:      make(map[string][]byte),
		justifications: make(map[string][]byte),
	}
}

// GroupIndex and Epoch identify this instance.
func (c *Coordinator) GroupIndex() uint64 { return c.groupIndex }
func (c *Coordinator) Epoch() uint64      { return c.epoch }

// Start is one-shot: the first call records the starting block and
// registers the ordered participant list; subsequent calls fail.
func (c *Coordinator) Start(currentBlock uint64, members []Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.ErrAlreadyStarted
	}
	c.started = true
	c.startBlock = currentBlock
	c.currentBlock = currentBlock
	for _, m := range members {
		c.order = append(c.order, m.Address)
		c.participants[m.Address] = m
	}
	c.l.Infow("dkg bulletin board started", "group", c.groupIndex, "epoch", c.epoch, "block", currentBlock, "n", len(members))
	return nil
}

// Tick records the controller's latest block height, forwarded to every
// live coordinator each time the controller's block height advances.
func (c *Coordinator) Tick(currentBlock uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentBlock = currentBlock
}

// Phase reports the current phase given the last block height observed via
// Tick or Start.
func (c *Coordinator) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phaseLocked()
}

func (c *Coordinator) phaseLocked() Phase {
	if !c.started {
		return PhaseNotStarted
	}
	elapsed := c.currentBlock - c.startBlock
	switch {
	case elapsed < c.phaseDuration:
		return PhaseShares
	case elapsed < 2*c.phaseDuration:
		return PhaseResponses
	case elapsed < 3*c.phaseDuration:
		return PhaseJustifications
	default:
		return PhaseEnded
	}
}

// Publish appends payload to the bucket matching the current phase.
// Publishing twice in the same phase, publishing before registration, or
// publishing once the board has ended are all rejected.
func (c *Coordinator) Publish(caller string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.participants[caller]; !ok {
		return errors.ErrNotRegistered
	}

	switch c.phaseLocked() {
	case PhaseShares:
		if _, exists := c.shares[caller]; exists {
			return errors.ErrSharesExisted
		}
		c.shares[caller] = payload
	case PhaseResponses:
		if _, exists := c.responses[caller]; exists {
			return errors.ErrResponsesExisted
		}
		c.responses[caller] = payload
	case PhaseJustifications:
		if _, exists := c.justifications[caller]; exists {
			return errors.ErrJustificationsExisted
		}
		c.justifications[caller] = payload
	case PhaseEnded:
		return errors.ErrDKGEnded
	default:
		return fmt.Errorf("dkg has not started yet")
	}
	return nil
}

// GetShares, GetResponses and GetJustifications return arrays padded to
// participant count, in registration order; a zero-length slice marks a
// participant that has not published for that phase yet.
func (c *Coordinator) GetShares() [][]byte         { return c.padded(c.shares) }
func (c *Coordinator) GetResponses() [][]byte      { return c.padded(c.responses) }
func (c *Coordinator) GetJustifications() [][]byte { return c.padded(c.justifications) }

func (c *Coordinator) padded(bucket map[string][]byte) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([][]byte, len(c.order))
	for i, addr := range c.order {
		if v, ok := bucket[addr]; ok {
			out[i] = v
		} else {
			out[i] = []byte{}
		}
	}
	return out
}

// GetParticipants returns the registered identity addresses in registration
// order.
func (c *Coordinator) GetParticipants() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// GetBLSKeys returns the threshold and every participant's identity public
// key, in registration order.
func (c *Coordinator) GetBLSKeys() (int, [][]byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([][]byte, len(c.order))
	for i, addr := range c.order {
		keys[i] = c.participants[addr].IdentityPublicKey
	}
	return c.threshold, keys
}
