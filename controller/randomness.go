package controller

import (
	"sort"
	"strconv"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/hashutil"
	"github.com/randcast/coordinator/metrics"
	"github.com/randcast/coordinator/params"
	"github.com/randcast/coordinator/types"
)

// RequestRandomness enqueues a SignatureTask against the next ready group in
// round-robin order.
func (c *Controller) RequestRandomness(msg string) (*types.SignatureTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ready := c.readyGroupIndicesLocked()
	if len(ready) == 0 {
		return nil, errors.ErrNoValidGroup
	}

	groupIndex := ready[0]
	for _, idx := range ready {
		if idx > c.lastGroupIndex {
			groupIndex = idx
			break
		}
	}

	fullMsg := msg + strconv.FormatUint(c.blockHeight, 10) + strconv.FormatUint(c.lastOutput, 10)
	task := &types.SignatureTask{
		Index:                 c.signatureCount,
		Message:               fullMsg,
		GroupIndex:            groupIndex,
		AssignmentBlockHeight: c.blockHeight,
	}
	c.pendingTasks[task.Index] = task
	c.signatureCount++
	c.lastGroupIndex = groupIndex
	metrics.PendingSignatureTasks.Set(float64(len(c.pendingTasks)))

	cp := *task
	return &cp, nil
}

func (c *Controller) readyGroupIndicesLocked() []uint64 {
	var out []uint64
	for idx, g := range c.groups {
		if g.Ready {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FulfillRandomness verifies and settles an aggregated threshold signature
// for a pending task.
func (c *Controller) FulfillRandomness(id string, groupIndex uint64, signatureIndex uint64, sig []byte, partials map[string][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.pendingTasks[signatureIndex]
	if !ok {
		return errors.ErrTaskNotFound
	}
	if c.blockHeight-task.AssignmentBlockHeight < params.SignatureTaskExclusiveWindow && groupIndex != task.GroupIndex {
		return errors.ErrTaskStillExclusive
	}

	g, ok := c.groups[groupIndex]
	if !ok {
		return errors.ErrGroupNotExisted
	}
	if !isCommitter(g, id) {
		return errors.ErrNotFromCommitter
	}

	groupPubKey, err := blscrypto.UnmarshalG2Point(c.suite, g.PublicKey)
	if err != nil {
		return err
	}
	if err := blscrypto.VerifyAggregate(c.suite, groupPubKey, task.Message, sig); err != nil {
		return err
	}

	// Membership-only check: each contributor must be a group member so
	// rewards and the later challenge window have a valid address to credit
	// and verify against. The partial signatures themselves are not verified
	// here — only the aggregate checked above — so a tampered partial can
	// still pass fulfillment and be caught individually by
	// ChallengeVerifiableReward.
	for addr := range partials {
		if _, ok := g.Members[addr]; !ok {
			return errors.ErrMemberNotExisted
		}
	}

	c.rewards[id] += params.CommitterRewardPerSignature
	metrics.RewardsCredited.WithLabelValues("committer").Add(float64(params.CommitterRewardPerSignature))
	for addr := range partials {
		c.rewards[addr] += params.RewardPerSignature
		metrics.RewardsCredited.WithLabelValues("contributor").Add(float64(params.RewardPerSignature))
	}
	c.lastOutput = hashutil.StableHash(sig)

	delete(c.pendingTasks, signatureIndex)
	metrics.PendingSignatureTasks.Set(float64(len(c.pendingTasks)))
	metrics.SignatureTasksFulfilled.Inc()
	c.verifiableRewards[signatureIndex] = &types.SignatureReward{
		Expirable:         types.Expirable{ExpiresAtBlock: c.blockHeight + params.SignatureRewardsValidationWindow},
		Task:              *task,
		CommitterID:       id,
		Group:             snapshotGroup(g),
		PartialSignatures: copyPartials(partials),
	}
	return nil
}

func isCommitter(g *types.Group, id string) bool {
	for _, c := range g.Committers {
		if c == id {
			return true
		}
	}
	return false
}

func snapshotGroup(g *types.Group) types.GroupSnapshot {
	members := make(map[string]*types.Member, len(g.Members))
	for addr, m := range g.Members {
		cp := *m
		cp.PartialPublicKey = append([]byte(nil), m.PartialPublicKey...)
		members[addr] = &cp
	}
	return types.GroupSnapshot{
		Epoch:     g.Epoch,
		PublicKey: append([]byte(nil), g.PublicKey...),
		Members:   members,
		Threshold: g.Threshold,
	}
}

func copyPartials(partials map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(partials))
	for addr, sig := range partials {
		out[addr] = append([]byte(nil), sig...)
	}
	return out
}

// ChallengeVerifiableReward re-verifies every partial signature behind a
// fulfilled task. The first failure slashes the committer and rewards the
// challenger; if every partial still verifies it returns the status-signal
// error ErrSignatureRewardVerifiedSuccessfully, an error used here as a
// successful-outcome signal.
func (c *Controller) ChallengeVerifiableReward(challenger string, signatureIndex uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reward, ok := c.verifiableRewards[signatureIndex]
	if !ok {
		return errors.ErrVerifiableRewardNotFound
	}

	addrs := make([]string, 0, len(reward.PartialSignatures))
	for addr := range reward.PartialSignatures {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		m, ok := reward.Group.Members[addr]
		if !ok {
			continue
		}
		partialKey, err := blscrypto.UnmarshalG2Point(c.suite, m.PartialPublicKey)
		if err != nil {
			continue
		}
		if err := blscrypto.VerifyPartialAgainstKey(c.suite, partialKey, []byte(reward.Task.Message), reward.PartialSignatures[addr]); err != nil {
			c.slashNode(reward.CommitterID, params.CommitterPenaltyPerSignature, "committer_penalty")
			c.rewards[challenger] += params.ChallengeRewardPerSignature
			metrics.RewardsCredited.WithLabelValues("challenge").Add(float64(params.ChallengeRewardPerSignature))
			metrics.ChallengeOutcomes.WithLabelValues("slashed").Inc()
			delete(c.verifiableRewards, signatureIndex)
			return nil
		}
	}

	metrics.ChallengeOutcomes.WithLabelValues("verified").Inc()
	return errors.ErrSignatureRewardVerifiedSuccessfully
}

// CheckVerifiableRewardsExpiration drops every verifiable reward whose
// challenge window has passed.
func (c *Controller) CheckVerifiableRewardsExpiration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkVerifiableRewardsExpirationLocked()
}

func (c *Controller) checkVerifiableRewardsExpirationLocked() {
	for idx, r := range c.verifiableRewards {
		if r.Expired(c.blockHeight) {
			delete(c.verifiableRewards, idx)
		}
	}
}
