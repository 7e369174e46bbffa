package adapter

import (
	"testing"

	"github.com/drand/kyber"
	"github.com/stretchr/testify/require"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/common/log"
	"github.com/randcast/coordinator/params"
	"github.com/randcast/coordinator/types"
)

// dkgNode mirrors controller_test.go's own helper: one simulated
// participant's local state across a Joint-Feldman round.
type dkgNode struct {
	priv kyber.Scalar
	pub  kyber.Point
	p    *blscrypto.Participant
}

// buildGroup runs a full DKG across addrs directly (without a controller or
// coordinator in front of it, since the adapter only ever receives already-
// finalized groups) and returns a ready *types.Group plus every member's
// finalized share.
func buildGroup(t *testing.T, addrs []string, index, epoch uint64) (*types.Group, map[string]*blscrypto.Result, int) {
	t.Helper()
	suite := blscrypto.Suite()
	threshold := len(addrs) - 1

	nodes := make(map[string]*dkgNode, len(addrs))
	pubKeys := make([]kyber.Point, len(addrs))
	indexToAddr := make(map[int]string, len(addrs))
	for i, addr := range addrs {
		kp, err := blscrypto.GenerateKeyPair(suite)
		require.NoError(t, err)
		nodes[addr] = &dkgNode{priv: kp.Private, pub: kp.Public}
		pubKeys[i] = kp.Public
		indexToAddr[i] = addr
	}
	for _, n := range nodes {
		p, err := blscrypto.NewParticipant(suite, n.priv, pubKeys, threshold)
		require.NoError(t, err)
		n.p = p
	}

	dealsByRecipient := make(map[string][]string)
	for _, n := range nodes {
		ds, err := n.p.Deals()
		require.NoError(t, err)
		for idx, d := range ds {
			to := indexToAddr[idx]
			dealsByRecipient[to] = append(dealsByRecipient[to], string(d))
		}
	}
	respsByRecipient := make(map[string][][]byte)
	for recipient, payloads := range dealsByRecipient {
		n := nodes[recipient]
		for _, payload := range payloads {
			resp, err := n.p.ProcessDeal([]byte(payload))
			require.NoError(t, err)
			for addr := range nodes {
				if addr == recipient {
					continue
				}
				respsByRecipient[addr] = append(respsByRecipient[addr], resp)
			}
		}
	}
	for addr, resps := range respsByRecipient {
		n := nodes[addr]
		for _, r := range resps {
			justif, err := n.p.ProcessResponse(r)
			require.NoError(t, err)
			require.Nil(t, justif)
		}
	}

	results := make(map[string]*blscrypto.Result, len(nodes))
	members := make(map[string]*types.Member, len(addrs))
	var groupPubKeyBytes []byte
	for i, addr := range addrs {
		n := nodes[addr]
		require.True(t, n.p.Certified())
		res, err := n.p.DistKeyShare()
		require.NoError(t, err)
		results[addr] = res
		pkBytes, err := blscrypto.MarshalPoint(res.GroupPublicKey)
		require.NoError(t, err)
		ppkBytes, err := blscrypto.MarshalPoint(res.OwnPartialPublic)
		require.NoError(t, err)
		if i == 0 {
			groupPubKeyBytes = pkBytes
		}
		members[addr] = &types.Member{Index: i, PartialPublicKey: ppkBytes}
	}

	g := &types.Group{
		Index:       index,
		Epoch:       epoch,
		Capacity:    params.GroupMaxCapacity,
		Threshold:   threshold,
		Ready:       true,
		PublicKey:   groupPubKeyBytes,
		Members:     members,
		Committers:  append([]string(nil), addrs...),
		CommitCache: make(map[string]*types.CommitCache),
	}
	return g, results, threshold
}

// aggregateSign recovers a threshold signature over msg from the first
// `threshold` signers in addrs.
func aggregateSign(t *testing.T, results map[string]*blscrypto.Result, addrs []string, threshold int, msg string) []byte {
	t.Helper()
	suite := blscrypto.Suite()
	var partialSigs [][]byte
	for _, addr := range addrs[:threshold] {
		sig, err := blscrypto.SignPartial(suite, results[addr].OwnPriShare, []byte(msg))
		require.NoError(t, err)
		partialSigs = append(partialSigs, sig)
	}
	commitments := results[addrs[0]].Commitments
	aggSig, err := blscrypto.AggregateAndVerify(suite, commitments, msg, partialSigs, threshold, len(addrs))
	require.NoError(t, err)
	return aggSig
}

func TestSetInitialGroupAdminOnly(t *testing.T) {
	a := New(log.DefaultLogger())
	group, _, _ := buildGroup(t, []string{"0x0", "0x1", "0x2", "0x3"}, 1, 1)
	groupBytes, err := encodeGroup(group)
	require.NoError(t, err)

	require.ErrorIs(t, a.SetInitialGroup("0xsomeone", groupBytes), errors.ErrAuthenticationFailed)
	require.NoError(t, a.SetInitialGroup(params.DefaultAdminAddress, groupBytes))
	require.ErrorIs(t, a.SetInitialGroup(params.DefaultAdminAddress, groupBytes), errors.ErrInitialGroupExisted)
}

func TestRequestAndFulfillRandomness(t *testing.T) {
	a := New(log.DefaultLogger())
	addrs := []string{"0x0", "0x1", "0x2", "0x3"}
	group, results, threshold := buildGroup(t, addrs, 1, 1)
	groupBytes, err := encodeGroup(group)
	require.NoError(t, err)
	require.NoError(t, a.SetInitialGroup(params.DefaultAdminAddress, groupBytes))

	task, err := a.RequestRandomness("some-randomness-request")
	require.NoError(t, err)
	require.EqualValues(t, 1, task.GroupIndex)

	committer := group.Committers[0]
	partials := make(map[string][]byte, threshold)
	for _, addr := range addrs[:threshold] {
		sig, err := blscrypto.SignPartial(blscrypto.Suite(), results[addr].OwnPriShare, []byte(task.Message))
		require.NoError(t, err)
		partials[addr] = sig
	}
	aggSig := aggregateSign(t, results, addrs, threshold, task.Message)

	require.NoError(t, a.FulfillRandomness(committer, 1, task.Index, aggSig, partials))
	require.True(t, a.GetSignatureTaskCompletionState(task.Index))
	require.NotZero(t, a.GetLastOutput())
	require.Empty(t, a.PendingSignatureTasks())

	// The committer ("0x0") also contributed a partial, so it earns both
	// the committer reward and the per-signature contributor reward.
	amount, err := a.Claim(committer, 10_000)
	require.NoError(t, err)
	require.EqualValues(t, params.CommitterRewardPerSignature+params.RewardPerSignature, amount)
}

func TestFulfillRelayAndConfirmRelaySuccess(t *testing.T) {
	a := New(log.DefaultLogger())

	relayerAddrs := []string{"0xr0", "0xr1", "0xr2"}
	relayerGroup, relayerResults, relayerThreshold := buildGroup(t, relayerAddrs, 5, 1)

	relayedAddrsV1 := []string{"0xa0", "0xa1", "0xa2"}
	relayedV1, relayedV1Results, relayedV1Threshold := buildGroup(t, relayedAddrsV1, 20, 1)

	a.groups[relayerGroup.Index] = relayerGroup
	a.groups[relayedV1.Index] = relayedV1

	relayedV2, _, _ := buildGroup(t, relayedAddrsV1, 20, 2)
	groupBytes, err := encodeGroup(relayedV2)
	require.NoError(t, err)

	relaySig := aggregateSign(t, relayerResults, relayerAddrs, relayerThreshold, string(groupBytes))

	relayerCommitter := relayerGroup.Committers[0]
	require.NoError(t, a.FulfillRelay(relayerCommitter, relayerGroup.Index, 100, relaySig, groupBytes))

	require.False(t, a.GetGroup(20).Ready)
	require.Equal(t, RelayConfirmationAvailable, a.GetGroupRelayConfirmationTaskState(0))
	cached := a.GetGroupRelayCache(100)
	require.NotNil(t, cached)
	require.EqualValues(t, 2, cached.Epoch)

	confirmation := &GroupRelayConfirmation{Group: relayedV2, Success: true}
	confirmationBytes, err := encodeConfirmation(confirmation)
	require.NoError(t, err)
	confirmSig := aggregateSign(t, relayedV1Results, relayedAddrsV1, relayedV1Threshold, string(confirmationBytes))

	require.NoError(t, a.ConfirmRelay(0, confirmationBytes, confirmSig))

	updated := a.GetGroup(20)
	require.EqualValues(t, 2, updated.Epoch)
	require.True(t, updated.Ready)
	require.Equal(t, RelayConfirmationNotExisted, a.GetGroupRelayConfirmationTaskState(0))

	balance, err := a.Claim(relayerCommitter, 10_000)
	require.NoError(t, err)
	require.EqualValues(t, params.CommitterRewardPerSignature, balance)
}

func TestCancelInvalidRelayConfirmationTask(t *testing.T) {
	a := New(log.DefaultLogger())

	relayerAddrs := []string{"0xr0", "0xr1", "0xr2"}
	relayerGroup, relayerResults, relayerThreshold := buildGroup(t, relayerAddrs, 5, 1)
	relayedV1, _, _ := buildGroup(t, []string{"0xa0", "0xa1", "0xa2"}, 20, 1)

	a.groups[relayerGroup.Index] = relayerGroup
	a.groups[relayedV1.Index] = relayedV1

	relayedV2, _, _ := buildGroup(t, []string{"0xa0", "0xa1", "0xa2"}, 20, 2)
	groupBytes, err := encodeGroup(relayedV2)
	require.NoError(t, err)
	relaySig := aggregateSign(t, relayerResults, relayerAddrs, relayerThreshold, string(groupBytes))

	require.NoError(t, a.FulfillRelay(relayerGroup.Committers[0], relayerGroup.Index, 100, relaySig, groupBytes))
	require.ErrorIs(t, a.CancelInvalidRelayConfirmationTask(0), errors.ErrRelayConfirmationTaskStillAvailable)

	a.Mine(params.RelayConfirmationValidationWindow + 1)
	require.NoError(t, a.CancelInvalidRelayConfirmationTask(0))
	require.True(t, a.GetGroup(20).Ready)
	require.Equal(t, RelayConfirmationNotExisted, a.GetGroupRelayConfirmationTaskState(0))
}
