package adapter

import (
	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/types"
)

// SetInitialGroup installs the one already-finalized group the adapter
// starts from. Only the configured admin identity may call it, and only
// once.
func (a *Adapter) SetInitialGroup(id string, groupBytes []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id != a.adminAddress {
		return errors.ErrAuthenticationFailed
	}
	if len(a.groups) != 0 {
		return errors.ErrInitialGroupExisted
	}

	g, err := decodeGroup(groupBytes)
	if err != nil {
		return err
	}
	a.groups[g.Index] = g
	return nil
}

// FulfillRelay accepts a relayer group's claim that a newer epoch of
// relayedGroup exists on the origin chain, signed by that relayer group's
// aggregate key over the raw group bytes. It suspends the local copy of
// the relayed group and opens a confirmation task for the relayed group's
// own committers to accept or refute.
func (a *Adapter) FulfillRelay(id string, relayerGroupIndex, taskIndex uint64, signature, groupAsBytes []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.relayCache[taskIndex]; exists {
		return errors.ErrRelayFulfillmentRepeated
	}

	relayerGroup, ok := a.groups[relayerGroupIndex]
	if !ok {
		return errors.ErrGroupNotExisted
	}
	if !isCommitter(relayerGroup, id) {
		return errors.ErrNotFromCommitter
	}

	relayerPubKey, err := blscrypto.UnmarshalG2Point(a.suite, relayerGroup.PublicKey)
	if err != nil {
		return err
	}

	relayedGroup, err := decodeGroup(groupAsBytes)
	if err != nil {
		return err
	}

	currentRelayedGroup, ok := a.groups[relayedGroup.Index]
	if !ok {
		return errors.ErrGroupNotExisted
	}
	if relayedGroup.Epoch <= currentRelayedGroup.Epoch {
		return errors.ErrRelayGroupDataObsolete
	}

	if err := blscrypto.VerifyAggregate(a.suite, relayerPubKey, string(groupAsBytes), signature); err != nil {
		return err
	}

	currentRelayedGroup.Ready = false

	confirmationIndex := a.relayConfirmationCount
	a.relayConfirmationCount++

	a.relayConfirmationTasks[confirmationIndex] = &RelayConfirmationTask{
		Expirable:             types.Expirable{ExpiresAtBlock: a.blockHeight + a.cfg.RelayConfirmationWindow},
		Index:                 confirmationIndex,
		RelayCacheIndex:       taskIndex,
		RelayedGroupIndex:     relayedGroup.Index,
		RelayedGroupEpoch:     relayedGroup.Epoch,
		RelayerGroupIndex:     relayerGroupIndex,
		AssignmentBlockHeight: a.blockHeight,
	}
	a.relayCache[taskIndex] = &RelayCache{
		RelayerCommitter:      id,
		Group:                 relayedGroup,
		ConfirmationTaskIndex: confirmationIndex,
	}
	return nil
}

// CancelInvalidRelayConfirmationTask drops a confirmation task once its
// validation window has elapsed without the relayed group's own
// committers confirming or refuting it, reopening the suspended group.
func (a *Adapter) CancelInvalidRelayConfirmationTask(taskIndex uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	task, ok := a.relayConfirmationTasks[taskIndex]
	if !ok {
		return errors.ErrRelayTaskNotFound
	}

	currentGroup, ok := a.groups[task.RelayedGroupIndex]
	if !ok {
		return errors.ErrGroupNotExisted
	}

	withinWindow := a.blockHeight-task.AssignmentBlockHeight <= a.cfg.RelayConfirmationWindow
	stillRelevant := task.RelayedGroupEpoch > currentGroup.Epoch
	if withinWindow && stillRelevant {
		return errors.ErrRelayConfirmationTaskStillAvailable
	}

	currentGroup.Ready = true
	delete(a.relayCache, task.RelayCacheIndex)
	delete(a.relayConfirmationTasks, taskIndex)
	return nil
}

// ConfirmRelay lets the relayed group's own committer vouch for (or refute)
// the cached relay, signed with that group's current aggregate key over the
// confirmation payload. On a successful
// confirmation the relayed group replaces its local copy, the relayer
// committer and the new group's members are rewarded, and the global epoch
// advances; on a refutation the suspended group simply reopens.
func (a *Adapter) ConfirmRelay(taskIndex uint64, groupRelayConfirmationAsBytes, signature []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	task, ok := a.relayConfirmationTasks[taskIndex]
	if !ok {
		return errors.ErrRelayTaskNotFound
	}
	cache, ok := a.relayCache[task.RelayCacheIndex]
	if !ok {
		return errors.ErrRelayTaskNotFound
	}

	currentGroup, ok := a.groups[task.RelayedGroupIndex]
	if !ok {
		return errors.ErrGroupNotExisted
	}

	groupPubKey, err := blscrypto.UnmarshalG2Point(a.suite, currentGroup.PublicKey)
	if err != nil {
		return err
	}
	if err := blscrypto.VerifyAggregate(a.suite, groupPubKey, string(groupRelayConfirmationAsBytes), signature); err != nil {
		return err
	}

	confirmation, err := decodeConfirmation(groupRelayConfirmationAsBytes)
	if err != nil {
		return err
	}
	if !groupsEqual(confirmation.Group, cache.Group) {
		return errors.ErrRelayGroupDataInconsistency
	}

	if confirmation.Success {
		if confirmation.Group.Epoch <= currentGroup.Epoch {
			delete(a.relayCache, task.RelayCacheIndex)
			delete(a.relayConfirmationTasks, taskIndex)
			return errors.ErrRelayGroupDataObsolete
		}
		a.rewardRandomness(cache.RelayerCommitter, currentGroup.MemberAddresses())
		a.groups[confirmation.Group.Index] = confirmation.Group
		a.epoch++
	} else {
		currentGroup.Ready = true
	}

	delete(a.relayCache, task.RelayCacheIndex)
	delete(a.relayConfirmationTasks, taskIndex)
	return nil
}
