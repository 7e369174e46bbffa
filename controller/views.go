package controller

import (
	"sort"

	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/types"
)

// GetGroup returns a defensive copy of a group, or ErrGroupNotExisted.
func (c *Controller) GetGroup(index uint64) (*types.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[index]
	if !ok {
		return nil, errors.ErrGroupNotExisted
	}
	return g.Clone(), nil
}

// GetNode returns a defensive copy of a node, or ErrNodeNotExisted.
func (c *Controller) GetNode(id string) (*types.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return nil, errors.ErrNodeNotExisted
	}
	return n.Clone(), nil
}

// GetLastOutput returns the most recent randomness output, the seed for
// every deterministic selection.
func (c *Controller) GetLastOutput() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOutput
}

// ValidGroupIndices returns the indices of every ready group, ascending.
func (c *Controller) ValidGroupIndices() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint64
	for idx, g := range c.groups {
		if g.Ready {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PendingSignatureTasks returns every SignatureTask awaiting fulfillment,
// ordered by index.
func (c *Controller) PendingSignatureTasks() []*types.SignatureTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.SignatureTask, 0, len(c.pendingTasks))
	for _, t := range c.pendingTasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// GetSignatureTaskCompletionState reports whether signature task i has been
// issued and is no longer pending.
func (c *Controller) GetSignatureTaskCompletionState(i uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= c.signatureCount {
		return false
	}
	_, pending := c.pendingTasks[i]
	return !pending
}

// EmitDKGTask returns the most recently emitted DKG task for a group, if
// any - the node runtime's StartingGroupingListener polling surface.
func (c *Controller) EmitDKGTask(groupIndex uint64) (*types.DKGTask, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.dkgTasks[groupIndex]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// EmitSignatureTask returns a signature task by index, for the node
// runtime's BLSTaskListener polling surface.
func (c *Controller) EmitSignatureTask(index uint64) (*types.SignatureTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.pendingTasks[index]
	if !ok {
		return nil, errors.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// Claim debits at most the caller's accrued reward balance.
func (c *Controller) Claim(id string, amount int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[id]; !ok {
		return 0, errors.ErrNodeNotExisted
	}
	balance := c.rewards[id]
	if amount > balance {
		amount = balance
	}
	c.rewards[id] = balance - amount
	return amount, nil
}
