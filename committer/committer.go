// Package committer implements the narrow peer-to-peer surface committers
// use to exchange partial signatures. It is owned by the node runtime: each node runs one Committer serving requests from its
// peers, backed by that node's own cached view of group state rather than
// a direct connection to the Controller.
package committer

import (
	"sync"

	"github.com/drand/kyber/pairing"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/common/log"
	"github.com/randcast/coordinator/types"
)

// TaskType tags which polymorphic task a partial signature belongs to:
// today only signature tasks are implemented, but group-relay confirmation
// shares the same wire shape.
type TaskType int

const (
	TaskTypeSignature TaskType = iota
	TaskTypeGroupRelay
	TaskTypeGroupRelayConfirmation
)

// SignatureResultCache accumulates partial signatures for one signature
// index until enough arrive to aggregate.
type SignatureResultCache struct {
	TaskType   TaskType
	GroupIndex uint64
	Threshold  int
	Message    string
	Partials   map[string][]byte // sender id -> partial signature
}

// GroupLookup is the node runtime's local group_cache, seen from the
// committer's side: just enough to validate an inbound partial signature
// without reaching back to the Controller.
type GroupLookup interface {
	CurrentGroup() (*types.Group, bool)
}

// Committer serves commit_partial_signature for one node.
type Committer struct {
	mu     sync.Mutex
	l      log.Logger
	suite  pairing.Suite
	groups GroupLookup

	results map[uint64]*SignatureResultCache
}

// New creates a Committer backed by groups, the node's local group_cache.
func New(l log.Logger, suite pairing.Suite, groups GroupLookup) *Committer {
	return &Committer{
		l:       l.Named("committer"),
		suite:   suite,
		groups:  groups,
		results: make(map[uint64]*SignatureResultCache),
	}
}

// CommitPartialSignature validates and records one peer's partial
// signature. It partial-verifies the signature against the sender's
// cached partial public key before ever touching the result cache.
func (c *Committer) CommitPartialSignature(taskType TaskType, message string, signatureIndex uint64, senderID string, partialSignature []byte) error {
	group, ok := c.groups.CurrentGroup()
	if !ok || !group.Ready {
		return errors.ErrGroupNotReady
	}
	member, ok := group.Members[senderID]
	if !ok {
		return errors.ErrMemberNotExisted
	}

	partialKey, err := blscrypto.UnmarshalG2Point(c.suite, member.PartialPublicKey)
	if err != nil {
		return err
	}
	if err := blscrypto.VerifyPartialAgainstKey(c.suite, partialKey, []byte(message), partialSignature); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cache, ok := c.results[signatureIndex]
	if !ok {
		cache = &SignatureResultCache{
			TaskType:   taskType,
			GroupIndex: group.Index,
			Threshold:  group.Threshold,
			Message:    message,
			Partials:   make(map[string][]byte),
		}
		c.results[signatureIndex] = cache
	}
	cache.Partials[senderID] = append([]byte(nil), partialSignature...)
	return nil
}

// Ready reports whether enough partial signatures have accumulated to
// aggregate, returning a defensive snapshot of the cache.
func (c *Committer) Ready(signatureIndex uint64) (*SignatureResultCache, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache, ok := c.results[signatureIndex]
	if !ok || len(cache.Partials) < cache.Threshold {
		return nil, false
	}
	cp := *cache
	cp.Partials = make(map[string][]byte, len(cache.Partials))
	for addr, sig := range cache.Partials {
		cp.Partials[addr] = append([]byte(nil), sig...)
	}
	return &cp, true
}

// Drop removes a signature index's cache entry once it has been fulfilled
// or superseded.
func (c *Committer) Drop(signatureIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, signatureIndex)
}
