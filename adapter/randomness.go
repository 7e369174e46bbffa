package adapter

import (
	"sort"
	"strconv"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/hashutil"
	"github.com/randcast/coordinator/params"
	"github.com/randcast/coordinator/types"
)

// RequestRandomness enqueues a SignatureTask against the next valid
// (state == available) group in round-robin order. Unlike Controller.RequestRandomness, a group
// currently suspended for an outstanding relay confirmation is skipped.
func (a *Adapter) RequestRandomness(msg string) (*types.SignatureTask, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	valid := a.validGroupIndicesLocked()
	if len(valid) == 0 {
		return nil, errors.ErrNoValidGroup
	}

	groupIndex := valid[0]
	for _, idx := range valid {
		if idx > a.lastGroupIndex {
			groupIndex = idx
			break
		}
	}

	fullMsg := msg + strconv.FormatUint(a.blockHeight, 10) + strconv.FormatUint(a.lastOutput, 10)
	task := &types.SignatureTask{
		Index:                 a.signatureCount,
		Message:               fullMsg,
		GroupIndex:            groupIndex,
		AssignmentBlockHeight: a.blockHeight,
	}
	a.pendingTasks[task.Index] = task
	a.signatureCount++
	a.lastGroupIndex = groupIndex

	cp := *task
	return &cp, nil
}

func (a *Adapter) validGroupIndicesLocked() []uint64 {
	var out []uint64
	for idx, g := range a.groups {
		if g.Ready {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FulfillRandomness verifies an aggregated threshold signature for a
// pending task and immediately credits rewards — the adapter carries no
// verifiable-reward challenge window, unlike Controller.FulfillRandomness.
func (a *Adapter) FulfillRandomness(id string, groupIndex, signatureIndex uint64, sig []byte, partials map[string][]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	task, ok := a.pendingTasks[signatureIndex]
	if !ok {
		return errors.ErrTaskNotFound
	}
	if a.blockHeight-task.AssignmentBlockHeight < params.SignatureTaskExclusiveWindow && groupIndex != task.GroupIndex {
		return errors.ErrTaskStillExclusive
	}

	g, ok := a.groups[groupIndex]
	if !ok {
		return errors.ErrGroupNotExisted
	}
	if !isCommitter(g, id) {
		return errors.ErrNotFromCommitter
	}

	groupPubKey, err := blscrypto.UnmarshalG2Point(a.suite, g.PublicKey)
	if err != nil {
		return err
	}
	if err := blscrypto.VerifyAggregate(a.suite, groupPubKey, task.Message, sig); err != nil {
		return err
	}

	for addr, partialSig := range partials {
		m, ok := g.Members[addr]
		if !ok {
			return errors.ErrMemberNotExisted
		}
		partialKey, err := blscrypto.UnmarshalG2Point(a.suite, m.PartialPublicKey)
		if err != nil {
			return err
		}
		if err := blscrypto.VerifyPartialAgainstKey(a.suite, partialKey, []byte(task.Message), partialSig); err != nil {
			return err
		}
	}

	members := make([]string, 0, len(partials))
	for addr := range partials {
		members = append(members, addr)
	}
	a.rewardRandomness(id, members)

	a.lastOutput = hashutil.StableHash(sig)
	delete(a.pendingTasks, signatureIndex)
	return nil
}

// rewardRandomness credits the committer and every contributing member,
// the adapter's single reward step shared by FulfillRandomness and
// ConfirmRelay.
func (a *Adapter) rewardRandomness(committer string, members []string) {
	a.rewards[committer] += params.CommitterRewardPerSignature
	for _, addr := range members {
		a.rewards[addr] += params.RewardPerSignature
	}
}

func isCommitter(g *types.Group, id string) bool {
	for _, c := range g.Committers {
		if c == id {
			return true
		}
	}
	return false
}
