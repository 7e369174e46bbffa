package blscrypto

import (
	"testing"

	"github.com/drand/kyber"
	"github.com/stretchr/testify/require"
)

// TestDKGAndThresholdSignRoundTrip drives a full 5-node Joint-Feldman DKG to
// completion and then checks that a threshold of partial signatures
// reconstructs into a signature that verifies against the resulting group
// public key — the same round trip commit_dkg and fulfill_randomness rely
// on, exercised here at the crypto layer alone.
func TestDKGAndThresholdSignRoundTrip(t *testing.T) {
	suite := Suite()
	const n = 5
	const threshold = 3

	keys := make([]*KeyPair, n)
	pubKeys := make([]kyber.Point, n)
	for i := 0; i < n; i++ {
		kp, err := GenerateKeyPair(suite)
		require.NoError(t, err)
		keys[i] = kp
		pubKeys[i] = kp.Public
	}

	participants := make([]*Participant, n)
	for i := 0; i < n; i++ {
		p, err := NewParticipant(suite, keys[i].Private, pubKeys, threshold)
		require.NoError(t, err)
		participants[i] = p
	}

	type sentResponse struct {
		from int
		resp []byte
	}
	var responses []sentResponse
	for _, p := range participants {
		deals, err := p.Deals()
		require.NoError(t, err)
		for to, dealBytes := range deals {
			resp, err := participants[to].ProcessDeal(dealBytes)
			require.NoError(t, err)
			responses = append(responses, sentResponse{from: to, resp: resp})
		}
	}

	// A participant already recorded its own responses while processing
	// the deals, so it only processes the ones its peers produced.
	for i, p := range participants {
		for _, r := range responses {
			if r.from == i {
				continue
			}
			_, err := p.ProcessResponse(r.resp)
			require.NoError(t, err)
		}
	}

	for _, p := range participants {
		require.True(t, p.Certified())
	}

	results := make([]*Result, n)
	for i, p := range participants {
		res, err := p.DistKeyShare()
		require.NoError(t, err)
		results[i] = res
	}

	msg := "ujehwsndfgljkhrlkg"
	sigs := make([][]byte, 0, threshold)
	for i := 0; i < threshold; i++ {
		s, err := SignPartial(suite, results[i].OwnPriShare, []byte(msg))
		require.NoError(t, err)
		require.NoError(t, VerifyPartial(suite, results[i].Commitments, []byte(msg), s))
		sigs = append(sigs, s)
	}

	sig, err := AggregateAndVerify(suite, results[0].Commitments, msg, sigs, threshold, n)
	require.NoError(t, err)
	require.NoError(t, VerifyAggregate(suite, results[0].GroupPublicKey, msg, sig))
}

func TestUnmarshalG2PointRejectsGarbage(t *testing.T) {
	suite := Suite()
	_, err := UnmarshalG2Point(suite, []byte("not a curve point"))
	require.Error(t, err)
}
