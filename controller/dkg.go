package controller

import (
	"sort"
	"strings"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/coordinator"
	"github.com/randcast/coordinator/hashutil"
	"github.com/randcast/coordinator/metrics"
	"github.com/randcast/coordinator/params"
	"github.com/randcast/coordinator/types"
)

// CommitDKG records one member's DKG outcome for (groupIndex, epoch) and,
// once a strict majority of identical commitments reaches the group's
// threshold, finalizes the group.
func (c *Controller) CommitDKG(id string, groupIndex, epoch uint64, publicKey, partialPublicKey []byte, disqualified []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[groupIndex]
	if !ok {
		return errors.ErrGroupNotExisted
	}
	if g.Epoch != epoch {
		return errors.ErrGroupEpochObsolete
	}
	if _, ok := g.Members[id]; !ok {
		return errors.ErrMemberNotExisted
	}
	if _, exists := g.CommitCache[id]; exists {
		return errors.ErrCommitCacheExisted
	}

	if _, err := blscrypto.UnmarshalG2Point(c.suite, publicKey); err != nil {
		return err
	}
	if _, err := blscrypto.UnmarshalG2Point(c.suite, partialPublicKey); err != nil {
		return err
	}

	result := types.CommitResult{
		GroupEpoch:   epoch,
		PublicKey:    string(publicKey),
		Disqualified: canonicalAddresses(disqualified),
	}
	g.CommitCache[id] = &types.CommitCache{
		Result:           result,
		PartialPublicKey: append([]byte(nil), partialPublicKey...),
	}

	if g.Ready {
		// Post-finalization: the commit only updates this member's own
		// partial public key, it never re-finalizes.
		if m, ok := g.Members[id]; ok {
			m.PartialPublicKey = append([]byte(nil), partialPublicKey...)
		}
		return nil
	}

	c.tryFinalizeDKG(g)
	return nil
}

// tryFinalizeDKG applies the strictly-majority-identical-commitment rule.
// It is a no-op unless a unique majority class exists and its size reaches
// the group's threshold.
func (c *Controller) tryFinalizeDKG(g *types.Group) {
	classAddrs, hasMajority := strictMajorityClass(g.CommitCache)
	if !hasMajority || len(classAddrs) < g.Threshold {
		return
	}

	winner := g.CommitCache[classAddrs[0]].Result
	disqualified := splitAddresses(winner.Disqualified)
	disqualifiedSet := make(map[string]bool, len(disqualified))
	for _, addr := range disqualified {
		disqualifiedSet[addr] = true
	}

	qualified := make([]string, 0, len(classAddrs))
	for _, addr := range classAddrs {
		if !disqualifiedSet[addr] {
			qualified = append(qualified, addr)
		}
	}

	for _, addr := range disqualified {
		delete(g.Members, addr)
	}
	for _, addr := range qualified {
		if m, ok := g.Members[addr]; ok {
			m.PartialPublicKey = append([]byte(nil), g.CommitCache[addr].PartialPublicKey...)
		}
	}

	g.PublicKey = []byte(winner.PublicKey)
	g.Ready = true
	g.RecomputeThreshold()
	if !g.Ready {
		return
	}

	indices := make([]int, 0, len(qualified))
	byIndex := make(map[int]string, len(qualified))
	for _, addr := range qualified {
		idx := g.Members[addr].Index
		indices = append(indices, idx)
		byIndex[idx] = addr
	}
	k := params.DefaultCommitteesSize
	if g.Threshold > k {
		k = g.Threshold
	}
	chosen := hashutil.ChooseRandomlyFromIndices(c.lastOutput, indices, k)
	committers := make([]string, 0, len(chosen))
	for _, idx := range chosen {
		committers = append(committers, byIndex[idx])
	}
	g.Committers = committers
	metrics.DKGRoundsFinalized.Inc()
	metrics.GroupsReady.Set(float64(len(c.readyGroupIndicesLocked())))

	for _, addr := range disqualified {
		c.slashNode(addr, params.DisqualifiedNodePenalty, "dkg_disqualified")
	}
}

// CheckDKGState lets anyone sweep a group whose coordinator has exhausted
// every phase window without reaching finality.
func (c *Controller) CheckDKGState(caller string, groupIndex uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[groupIndex]
	if !ok {
		return errors.ErrGroupNotExisted
	}
	co, ok := c.coordinators[groupIndex]
	if !ok {
		return errors.ErrCoordinatorNotExisted
	}
	if co.Phase() != coordinator.PhaseEnded {
		return errors.ErrCoordinatorNotEnded
	}

	allMembers := g.MemberAddresses()
	classAddrs, hasMajority := strictMajorityClass(g.CommitCache)
	if hasMajority && 2*len(classAddrs) <= len(allMembers) {
		// A class can be the largest among those who bothered to commit and
		// still not be a majority of the group once non-committers are
		// counted (e.g. 2 of 5 committing identically).
		hasMajority = false
	}

	if !hasMajority {
		for _, addr := range allMembers {
			c.slashNode(addr, params.DisqualifiedNodePenalty, "dkg_timeout")
		}
		g.Members = make(map[string]*types.Member)
		g.CommitCache = make(map[string]*types.CommitCache)
		g.Committers = nil
		g.Ready = false
		g.RecomputeThreshold()
		metrics.DKGRoundsSwept.WithLabelValues("wiped").Inc()
	} else {
		keep := make(map[string]bool, len(classAddrs))
		for _, addr := range classAddrs {
			keep[addr] = true
		}
		for _, addr := range allMembers {
			if keep[addr] {
				continue
			}
			delete(g.Members, addr)
			delete(g.CommitCache, addr)
			c.slashNode(addr, params.DisqualifiedNodePenalty, "dkg_timeout")
		}
		c.reindexMembers(g)
		g.RecomputeThreshold()
		metrics.DKGRoundsSwept.WithLabelValues("majority_kept").Inc()
	}

	c.rewards[caller] += params.CoordinatorStateTriggerReward
	metrics.RewardsCredited.WithLabelValues("coordinator_trigger").Add(float64(params.CoordinatorStateTriggerReward))
	delete(c.coordinators, groupIndex)
	delete(c.dkgTasks, groupIndex)
	return nil
}

// strictMajorityClass buckets commit caches by structural CommitResult
// equality and returns the unique class whose size is strictly greater than
// every other class's size.
func strictMajorityClass(cache map[string]*types.CommitCache) ([]string, bool) {
	classes := make(map[types.CommitResult][]string)
	for addr, cc := range cache {
		classes[cc.Result] = append(classes[cc.Result], addr)
	}

	var best []string
	tie := false
	for _, addrs := range classes {
		switch {
		case best == nil || len(addrs) > len(best):
			best = addrs
			tie = false
		case len(addrs) == len(best):
			tie = true
		}
	}
	if best == nil || tie {
		return nil, false
	}
	sort.Strings(best)
	return best, true
}

func canonicalAddresses(addrs []string) string {
	sorted := append([]string(nil), addrs...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func splitAddresses(canonical string) []string {
	if canonical == "" {
		return nil
	}
	return strings.Split(canonical, ",")
}
