package adapter

import "github.com/randcast/coordinator/types"

// GetLastOutput returns the stable hash of the most recently fulfilled
// signature (0 before the first fulfillment), used to seed the next
// request_randomness message.
func (a *Adapter) GetLastOutput() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastOutput
}

// GetGroup returns a defensive copy of a group, or nil if index is unknown.
func (a *Adapter) GetGroup(index uint64) *types.Group {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.groups[index].Clone()
}

// GetGroupRelayCache returns the group currently cached against a relay
// fulfillment's task index, or nil if no relay is outstanding for it.
func (a *Adapter) GetGroupRelayCache(taskIndex uint64) *types.Group {
	a.mu.Lock()
	defer a.mu.Unlock()
	cache, ok := a.relayCache[taskIndex]
	if !ok {
		return nil
	}
	return cache.Group.Clone()
}

// GetSignatureTaskCompletionState reports whether a signature task index has
// ever been issued and is no longer pending.
func (a *Adapter) GetSignatureTaskCompletionState(index uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index >= a.signatureCount {
		return false
	}
	_, pending := a.pendingTasks[index]
	return !pending
}

// GetGroupRelayConfirmationTaskState reports a relay confirmation task's
// current lifecycle state.
func (a *Adapter) GetGroupRelayConfirmationTaskState(taskIndex uint64) RelayConfirmationState {
	a.mu.Lock()
	defer a.mu.Unlock()

	if taskIndex >= a.relayConfirmationCount {
		return RelayConfirmationNotExisted
	}
	task, ok := a.relayConfirmationTasks[taskIndex]
	if !ok {
		return RelayConfirmationNotExisted
	}
	currentGroup, ok := a.groups[task.RelayedGroupIndex]
	if !ok {
		return RelayConfirmationNotExisted
	}

	withinWindow := a.blockHeight-task.AssignmentBlockHeight <= a.cfg.RelayConfirmationWindow
	stillRelevant := task.RelayedGroupEpoch > currentGroup.Epoch
	if withinWindow && stillRelevant {
		return RelayConfirmationAvailable
	}
	return RelayConfirmationInvalid
}

// ValidGroupIndices returns every group index whose state allows it to
// service request_randomness, i.e. not currently suspended for an
// outstanding relay confirmation.
func (a *Adapter) ValidGroupIndices() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validGroupIndicesLocked()
}

// PendingSignatureTasks returns a defensive copy of every task still
// awaiting fulfillment.
func (a *Adapter) PendingSignatureTasks() []*types.SignatureTask {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*types.SignatureTask, 0, len(a.pendingTasks))
	for _, t := range a.pendingTasks {
		cp := *t
		out = append(out, &cp)
	}
	return out
}
