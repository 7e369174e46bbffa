package controller

import (
	"crypto/rand"
	"testing"

	"github.com/drand/kyber"
	"github.com/stretchr/testify/require"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/common/log"
	"github.com/randcast/coordinator/params"
)

// dkgNode is one simulated participant's local state across a
// Joint-Feldman round, driven directly against its peers the way the
// reference dkg+tbls example in the retrieval pack does, without routing
// through a Coordinator instance (the bulletin board's publish/fetch
// mechanics are covered separately by coordinator_test.go).
type dkgNode struct {
	addr string
	priv kyber.Scalar
	pub  kyber.Point
	p    *blscrypto.Participant
}

// registerFiveNodeGroup registers 5 nodes (forming and finalizing group 1's
// membership), then builds each node's DKG participant from the resulting
// DKGTask's member-index assignment.
func registerFiveNodeGroup(t *testing.T, ctrl *Controller) (addrs []string, nodes map[string]*dkgNode, indexToAddr map[int]string, threshold int, epoch uint64) {
	t.Helper()
	suite := blscrypto.Suite()
	addrs = []string{"0x0", "0x1", "0x2", "0x3", "0x4"}
	nodes = make(map[string]*dkgNode, len(addrs))

	for _, addr := range addrs {
		kp, err := blscrypto.GenerateKeyPair(suite)
		require.NoError(t, err)
		nodes[addr] = &dkgNode{addr: addr, priv: kp.Private, pub: kp.Public}
		pubBytes, err := blscrypto.MarshalPoint(kp.Public)
		require.NoError(t, err)
		require.NoError(t, ctrl.NodeRegister(addr, pubBytes))
	}

	group, err := ctrl.GetGroup(1)
	require.NoError(t, err)
	require.Equal(t, 5, group.Size())

	task, ok := ctrl.EmitDKGTask(1)
	require.True(t, ok)
	require.Equal(t, group.Epoch, task.Epoch)

	pubKeys := make([]kyber.Point, len(addrs))
	indexToAddr = make(map[int]string, len(addrs))
	for addr, idx := range task.MemberIndexes {
		pubKeys[idx] = nodes[addr].pub
		indexToAddr[idx] = addr
	}
	for _, n := range nodes {
		p, err := blscrypto.NewParticipant(suite, n.priv, pubKeys, task.Threshold)
		require.NoError(t, err)
		n.p = p
	}

	return addrs, nodes, indexToAddr, task.Threshold, group.Epoch
}

// runJointFeldman drives deals/responses directly node-to-node and returns
// every node's finalized DistKeyShare result.
func runJointFeldman(t *testing.T, nodes map[string]*dkgNode, indexToAddr map[int]string) map[string]*blscrypto.Result {
	t.Helper()

	dealsByRecipient := make(map[string][]string) // recipient addr -> raw deal bytes (as string, reused as []byte below)
	for _, n := range nodes {
		ds, err := n.p.Deals()
		require.NoError(t, err)
		for idx, d := range ds {
			to := indexToAddr[idx]
			dealsByRecipient[to] = append(dealsByRecipient[to], string(d))
		}
	}

	var respsByRecipient = make(map[string][][]byte)
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

	out := make(map[string]*blscrypto.Result, len(nodes))
	for addr, n := range nodes {
		require.True(t, n.p.Certified())
		res, err := n.p.DistKeyShare()
		require.NoError(t, err)
		out[addr] = res
	}
	return out
}

func TestHappyDKGAndRandomnessFulfillment(t *testing.T) {
	ctrl := New(log.DefaultLogger())
	suite := blscrypto.Suite()

	addrs, nodes, indexToAddr, threshold, epoch := registerFiveNodeGroup(t, ctrl)
	require.Equal(t, 4, threshold)

	results := runJointFeldman(t, nodes, indexToAddr)

	var groupPubKeyBytes []byte
	for i, addr := range addrs {
		res := results[addr]
		pkBytes, err := blscrypto.MarshalPoint(res.GroupPublicKey)
		require.NoError(t, err)
		ppkBytes, err := blscrypto.MarshalPoint(res.OwnPartialPublic)
		require.NoError(t, err)
		if i == 0 {
			groupPubKeyBytes = pkBytes
		}
		require.NoError(t, ctrl.CommitDKG(addr, 1, epoch, pkBytes, ppkBytes, nil))
	}

	group, err := ctrl.GetGroup(1)
	require.NoError(t, err)
	require.True(t, group.Ready)
	require.Equal(t, groupPubKeyBytes, group.PublicKey)
	require.Len(t, group.Committers, 4)
	for _, m := range group.Members {
		require.NotEmpty(t, m.PartialPublicKey)
	}

	sigTask, err := ctrl.RequestRandomness("ujehwsndfgljkhrlkg")
	require.NoError(t, err)
	require.Equal(t, uint64(1), sigTask.GroupIndex)

	committer := group.Committers[0]
	signers := addrs[:threshold]
	var partialSigs [][]byte
	partials := make(map[string][]byte, threshold)
	for _, addr := range signers {
		sig, err := blscrypto.SignPartial(suite, results[addr].OwnPriShare, []byte(sigTask.Message))
		require.NoError(t, err)
		partialSigs = append(partialSigs, sig)
		partials[addr] = sig
	}

	commitments := results[addrs[0]].Commitments
	aggSig, err := blscrypto.AggregateAndVerify(suite, commitments, sigTask.Message, partialSigs, threshold, len(addrs))
	require.NoError(t, err)

	require.NoError(t, ctrl.FulfillRandomness(committer, 1, sigTask.Index, aggSig, partials))

	require.NotEqual(t, uint64(0), ctrl.GetLastOutput())
	require.True(t, ctrl.GetSignatureTaskCompletionState(sigTask.Index))
	require.Empty(t, ctrl.PendingSignatureTasks())

	require.ErrorIs(t, ctrl.ChallengeVerifiableReward("challenger", sigTask.Index), errors.ErrSignatureRewardVerifiedSuccessfully)
}

// TestFulfillAcceptsTamperedPartialThenChallengeCatchesIt exercises the
// case where the aggregate signature still verifies (it was built from the
// real partials) but one contributor's partial in the fulfillment payload
// is a random 96-byte blob. FulfillRandomness only checks the aggregate and
// group membership, so it accepts the task; the per-partial check lives
// exclusively in ChallengeVerifiableReward, which must then catch the
// tampered entry, slash the committer and reward the challenger.
func TestFulfillAcceptsTamperedPartialThenChallengeCatchesIt(t *testing.T) {
	ctrl := New(log.DefaultLogger())
	suite := blscrypto.Suite()

	addrs, nodes, indexToAddr, threshold, epoch := registerFiveNodeGroup(t, ctrl)
	results := runJointFeldman(t, nodes, indexToAddr)

	for _, addr := range addrs {
		res := results[addr]
		pkBytes, err := blscrypto.MarshalPoint(res.GroupPublicKey)
		require.NoError(t, err)
		ppkBytes, err := blscrypto.MarshalPoint(res.OwnPartialPublic)
		require.NoError(t, err)
		require.NoError(t, ctrl.CommitDKG(addr, 1, epoch, pkBytes, ppkBytes, nil))
	}

	group, err := ctrl.GetGroup(1)
	require.NoError(t, err)
	require.True(t, group.Ready)

	sigTask, err := ctrl.RequestRandomness("tamperedpartialmessage")
	require.NoError(t, err)

	committer := group.Committers[0]
	signers := addrs[:threshold]
	var partialSigs [][]byte
	partials := make(map[string][]byte, threshold)
	for _, addr := range signers {
		sig, err := blscrypto.SignPartial(suite, results[addr].OwnPriShare, []byte(sigTask.Message))
		require.NoError(t, err)
		partialSigs = append(partialSigs, sig)
		partials[addr] = sig
	}

	commitments := results[addrs[0]].Commitments
	aggSig, err := blscrypto.AggregateAndVerify(suite, commitments, sigTask.Message, partialSigs, threshold, len(addrs))
	require.NoError(t, err)

	tamperedAddr := signers[0]
	tampered := make([]byte, 96)
	_, err = rand.Read(tampered)
	require.NoError(t, err)
	partials[tamperedAddr] = tampered

	require.NoError(t, ctrl.FulfillRandomness(committer, 1, sigTask.Index, aggSig, partials))
	require.True(t, ctrl.GetSignatureTaskCompletionState(sigTask.Index))

	require.NoError(t, ctrl.ChallengeVerifiableReward("challenger", sigTask.Index))

	committerNode, err := ctrl.GetNode(committer)
	require.NoError(t, err)
	require.EqualValues(t, 49000, committerNode.Staking)
}

// TestNodeQuitGatedByLiveRewardThenAllowedAfterExpiration covers spec §8
// scenario 6: a node that is the committer of a still-live verifiable
// reward cannot quit, but can once the reward's challenge window expires.
func TestNodeQuitGatedByLiveRewardThenAllowedAfterExpiration(t *testing.T) {
	ctrl := New(log.DefaultLogger())
	suite := blscrypto.Suite()

	addrs, nodes, indexToAddr, threshold, epoch := registerFiveNodeGroup(t, ctrl)
	results := runJointFeldman(t, nodes, indexToAddr)

	for _, addr := range addrs {
		res := results[addr]
		pkBytes, err := blscrypto.MarshalPoint(res.GroupPublicKey)
		require.NoError(t, err)
		ppkBytes, err := blscrypto.MarshalPoint(res.OwnPartialPublic)
		require.NoError(t, err)
		require.NoError(t, ctrl.CommitDKG(addr, 1, epoch, pkBytes, ppkBytes, nil))
	}

	group, err := ctrl.GetGroup(1)
	require.NoError(t, err)
	require.True(t, group.Ready)

	sigTask, err := ctrl.RequestRandomness("quitgatingmessage")
	require.NoError(t, err)

	committer := group.Committers[0]
	signers := addrs[:threshold]
	var partialSigs [][]byte
	partials := make(map[string][]byte, threshold)
	for _, addr := range signers {
		sig, err := blscrypto.SignPartial(suite, results[addr].OwnPriShare, []byte(sigTask.Message))
		require.NoError(t, err)
		partialSigs = append(partialSigs, sig)
		partials[addr] = sig
	}
	commitments := results[addrs[0]].Commitments
	aggSig, err := blscrypto.AggregateAndVerify(suite, commitments, sigTask.Message, partialSigs, threshold, len(addrs))
	require.NoError(t, err)
	require.NoError(t, ctrl.FulfillRandomness(committer, 1, sigTask.Index, aggSig, partials))

	require.ErrorIs(t, ctrl.NodeQuit(committer), errors.ErrVerifiableRewardAsCommitter)

	ctrl.Mine(params.SignatureRewardsValidationWindow + 1)

	require.NoError(t, ctrl.NodeQuit(committer))
	n, err := ctrl.GetNode(committer)
	require.NoError(t, err)
	require.False(t, n.Active)
}

func TestNodeQuitAndActivateRoundTrip(t *testing.T) {
	ctrl := New(log.DefaultLogger())
	suite := blscrypto.Suite()
	kp, err := blscrypto.GenerateKeyPair(suite)
	require.NoError(t, err)
	pubBytes, err := blscrypto.MarshalPoint(kp.Public)
	require.NoError(t, err)

	require.NoError(t, ctrl.NodeRegister("0x0", pubBytes))
	require.NoError(t, ctrl.NodeQuit("0x0"))

	n, err := ctrl.GetNode("0x0")
	require.NoError(t, err)
	require.False(t, n.Active)

	require.ErrorIs(t, ctrl.NodeActivate("0x0"), errors.ErrNodeNotAvailable)

	ctrl.Mine(200)
	require.NoError(t, ctrl.NodeActivate("0x0"))

	n, err = ctrl.GetNode("0x0")
	require.NoError(t, err)
	require.True(t, n.Active)
	require.EqualValues(t, 50000, n.Staking)
}

func TestCheckDKGStateWipesGroupWithoutMajority(t *testing.T) {
	ctrl := New(log.DefaultLogger())
	suite := blscrypto.Suite()

	addrs := []string{"0x0", "0x1", "0x2", "0x3", "0x4"}
	for _, addr := range addrs {
		kp, err := blscrypto.GenerateKeyPair(suite)
		require.NoError(t, err)
		pubBytes, err := blscrypto.MarshalPoint(kp.Public)
		require.NoError(t, err)
		require.NoError(t, ctrl.NodeRegister(addr, pubBytes))
	}

	group, err := ctrl.GetGroup(1)
	require.NoError(t, err)

	kp1, err := blscrypto.GenerateKeyPair(suite)
	require.NoError(t, err)
	pk1, err := blscrypto.MarshalPoint(kp1.Public)
	require.NoError(t, err)
	ppk1, err := blscrypto.MarshalPoint(kp1.Public)
	require.NoError(t, err)

	require.NoError(t, ctrl.CommitDKG(addrs[0], 1, group.Epoch, pk1, ppk1, nil))
	require.NoError(t, ctrl.CommitDKG(addrs[1], 1, group.Epoch, pk1, ppk1, nil))

	ctrl.Mine(200)

	require.NoError(t, ctrl.CheckDKGState("caller", 1))

	group, err = ctrl.GetGroup(1)
	require.NoError(t, err)
	require.False(t, group.Ready)
	require.Equal(t, 0, group.Size())
}
