package controller

import (
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/coordinator"
	"github.com/randcast/coordinator/hashutil"
	"github.com/randcast/coordinator/metrics"
	"github.com/randcast/coordinator/params"
	"github.com/randcast/coordinator/types"
)

// NodeRegister registers a new node at full stake and joins it to a group.
func (c *Controller) NodeRegister(id string, idPubKey []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.nodes[id]; exists {
		return errors.ErrNodeExisted
	}
	c.nodes[id] = &types.Node{
		Address:     id,
		IDPublicKey: append([]byte(nil), idPubKey...),
		Active:      true,
		Staking:     params.NodeStakingAmount,
	}
	c.rewards[id] = 0
	c.nodeJoin(id)
	metrics.NodesRegistered.Inc()
	metrics.NodesActive.Inc()
	return nil
}

// NodeActivate reactivates a previously quit/frozen node once its pending
// window has elapsed.
func (c *Controller) NodeActivate(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return errors.ErrNodeNotExisted
	}
	if n.Active {
		return errors.ErrNodeActivated
	}
	if n.PendingUntilBlock > c.blockHeight {
		return errors.ErrNodeNotAvailable
	}
	n.Active = true
	n.Staking = params.NodeStakingAmount
	n.PendingUntilBlock = 0
	c.nodeJoin(id)
	metrics.NodesActive.Inc()
	return nil
}

// NodeQuit removes a node from its group and marks it pending for
// PENDING_BLOCK_AFTER_QUIT blocks. Forbidden while the node is the
// committer of a still-live verifiable reward.
func (c *Controller) NodeQuit(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return errors.ErrNodeNotExisted
	}
	if !n.Active {
		return errors.ErrNodeNotExisted
	}
	c.checkVerifiableRewardsExpirationLocked()
	for _, r := range c.verifiableRewards {
		if r.CommitterID == id {
			return errors.ErrVerifiableRewardAsCommitter
		}
	}
	c.removeFromGroup(id)
	n.Active = false
	n.PendingUntilBlock = c.blockHeight + params.PendingBlockAfterQuit
	metrics.NodesActive.Dec()
	return nil
}

// nodeJoin finds (or creates) a group for id and adds it, rebalancing the
// rest of the groups if the placement decision calls for it.
func (c *Controller) nodeJoin(id string) {
	group, needRebalance := c.findAvailableGroup()
	c.addToGroup(group, id)
	if needRebalance {
		for _, other := range c.groups {
			if other.Index == group.Index {
				continue
			}
			c.rebalanceGroup(group, other)
		}
	}
}

// findAvailableGroup implements the node_join placement rule.
func (c *Controller) findAvailableGroup() (*types.Group, bool) {
	if len(c.groups) == 0 {
		return c.newGroup(), false
	}

	var min *types.Group
	readyCount := 0
	allReady := true
	for _, g := range c.groups {
		if min == nil || g.Size() < min.Size() {
			min = g
		}
		if g.Ready {
			readyCount++
		} else {
			allReady = false
		}
	}

	if (readyCount < params.ExpectedGroupSize || min.Size() == params.GroupMaxCapacity) && allReady {
		return c.newGroup(), true
	}
	return min, false
}

func (c *Controller) newGroup() *types.Group {
	g := types.NewGroup(c.nextGroupIndex)
	c.groups[g.Index] = g
	c.nextGroupIndex++
	metrics.GroupsTotal.Inc()
	return g
}

// addToGroup assigns a 0-based member index, the same index space the
// DKG/coordinator layer underneath uses, so no translation is needed at
// the boundary.
func (c *Controller) addToGroup(g *types.Group, id string) {
	g.Members[id] = &types.Member{Index: g.Size()}
	g.RecomputeThreshold()
	if g.Size() >= 3 {
		c.emitGroupEvent(g)
	}
}

// removeFromGroup drops id from its current group, if any, re-indexes the
// remaining members and attempts to keep the group viable.
func (c *Controller) removeFromGroup(id string) {
	for _, g := range c.groups {
		if _, ok := g.Members[id]; !ok {
			continue
		}
		delete(g.Members, id)
		delete(g.CommitCache, id)
		c.reindexMembers(g)
		g.RecomputeThreshold()

		if g.Size() == 0 {
			return
		}
		if g.Size() >= g.Threshold {
			c.emitGroupEvent(g)
			return
		}

		needRebalance := true
		for _, other := range c.groups {
			if other.Index == g.Index {
				continue
			}
			if c.rebalanceGroup(other, g) {
				needRebalance = false
				break
			}
		}
		if needRebalance {
			c.evacuateGroup(g)
		}
		return
	}
}

// reindexMembers recomputes 0-based member indices after a removal, keeping
// registration order stable.
func (c *Controller) reindexMembers(g *types.Group) {
	addrs := g.MemberAddresses()
	for i, addr := range addrs {
		g.Members[addr].Index = i
	}
}

// evacuateGroup re-joins every remaining member of g through
// find_available_group, coalescing the resulting group events, and empties
// g (the freeze_node "evacuate remaining members" step).
func (c *Controller) evacuateGroup(g *types.Group) {
	addrs := g.MemberAddresses()
	for _, addr := range addrs {
		delete(g.Members, addr)
	}
	g.CommitCache = make(map[string]*types.CommitCache)
	g.Committers = nil
	g.Ready = false
	g.RecomputeThreshold()
	for _, addr := range addrs {
		c.nodeJoin(addr)
	}
}

// emitGroupEvent bumps the group (and global) epoch, clears the previous
// DKG round's bookkeeping, and starts a fresh Coordinator. The group is not
// ready again until the new round finalizes.
func (c *Controller) emitGroupEvent(g *types.Group) {
	c.epoch++
	g.Epoch++
	g.CommitCache = make(map[string]*types.CommitCache)
	g.Committers = nil
	g.Ready = false

	co := coordinator.New(c.l, g.Index, g.Epoch, g.Threshold, params.DefaultDKGPhaseDuration)
	addrs := g.MemberAddresses()
	members := make([]coordinator.Participant, len(addrs))
	memberIndexes := make(map[string]int, len(addrs))
	for i, addr := range addrs {
		members[i] = coordinator.Participant{Address: addr, IdentityPublicKey: c.nodes[addr].IDPublicKey}
		memberIndexes[addr] = g.Members[addr].Index
	}
	if err := co.Start(c.blockHeight, members); err != nil {
		c.l.Warnw("starting coordinator", "group", g.Index, "epoch", g.Epoch, "err", err)
	}
	c.coordinators[g.Index] = co
	metrics.DKGRoundsStarted.Inc()

	c.dkgTasks[g.Index] = &types.DKGTask{
		GroupIndex:            g.Index,
		Epoch:                 g.Epoch,
		Size:                  g.Size(),
		Threshold:             g.Threshold,
		MemberIndexes:         memberIndexes,
		AssignmentBlockHeight: c.blockHeight,
		CoordinatorAddress:    coordinatorAddress(g.Index, g.Epoch),
	}
}

func coordinatorAddress(groupIndex, epoch uint64) string {
	return "coordinator://" + itoa(groupIndex) + "/" + itoa(epoch)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// rebalanceGroup moves members from the larger of (a, b) to the smaller,
// chosen deterministically, then re-emits group events on both. Returns
// false without mutating either group if the
// move would drop the donor below its own threshold.
func (c *Controller) rebalanceGroup(a, b *types.Group) bool {
	if a.Size() < b.Size() {
		a, b = b, a
	}
	target := (a.Size() + b.Size()) / 2
	moveCount := a.Size() - target
	if moveCount <= 0 {
		return false
	}
	if a.Size()-moveCount < a.Threshold {
		return false
	}

	addrs := a.MemberAddresses()
	indices := make([]int, len(addrs))
	byIndex := make(map[int]string, len(addrs))
	for i, addr := range addrs {
		idx := a.Members[addr].Index
		indices[i] = idx
		byIndex[idx] = addr
	}

	chosen := hashutil.ChooseRandomlyFromIndices(c.lastOutput, indices, moveCount)
	for _, idx := range chosen {
		addr := byIndex[idx]
		delete(a.Members, addr)
		delete(a.CommitCache, addr)
		b.Members[addr] = &types.Member{}
	}
	c.reindexMembers(a)
	c.reindexMembers(b)
	a.RecomputeThreshold()
	b.RecomputeThreshold()

	c.emitGroupEvent(a)
	c.emitGroupEvent(b)
	return true
}

// freezeNode removes a node from its group and extends its pending window,
// evacuating/rebalancing the group it leaves behind.
func (c *Controller) freezeNode(id string) {
	n, ok := c.nodes[id]
	if !ok {
		return
	}
	c.removeFromGroup(id)
	wasActive := n.Active
	n.Active = false
	n.PendingUntilBlock = c.blockHeight + params.PendingBlockAfterQuit
	if wasActive {
		metrics.NodesActive.Dec()
	}
}

// slashNode reduces a node's stake and freezes it once the stake drops
// below the required minimum. reason
// labels the metrics.NodesSlashed counter so an operator can tell DKG
// disqualification apart from a challenge-time committer penalty.
func (c *Controller) slashNode(id string, amount int64, reason string) {
	n, ok := c.nodes[id]
	if !ok {
		return
	}
	n.Staking -= amount
	metrics.NodesSlashed.WithLabelValues(reason).Inc()
	if n.Staking < params.NodeStakingAmount || n.PendingUntilBlock > 0 {
		c.freezeNode(id)
	}
}
