package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/common/log"
)

func newTestCoordinator(t *testing.T) (*Coordinator, []Participant) {
	t.Helper()
	members := []Participant{
		{Address: "addr-0", IdentityPublicKey: []byte("pk-0")},
		{Address: "addr-1", IdentityPublicKey: []byte("pk-1")},
		{Address: "addr-2", IdentityPublicKey: []byte("pk-2")},
	}
	c := New(log.DefaultLogger(), 1, 0, 3, 10)
	require.NoError(t, c.Start(100, members))
	return c, members
}

func TestStartTwiceFails(t *testing.T) {
	c, members := newTestCoordinator(t)
	require.ErrorIs(t, c.Start(100, members), errors.ErrAlreadyStarted)
}

func TestPhaseAdvancesWithBlockHeight(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.Equal(t, PhaseShares, c.Phase())

	c.Tick(109)
	require.Equal(t, PhaseShares, c.Phase())

	c.Tick(110)
	require.Equal(t, PhaseResponses, c.Phase())

	c.Tick(120)
	require.Equal(t, PhaseJustifications, c.Phase())

	c.Tick(130)
	require.Equal(t, PhaseEnded, c.Phase())
}

func TestPublishRejectsUnregisteredCaller(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.ErrorIs(t, c.Publish("stranger", []byte("x")), errors.ErrNotRegistered)
}

func TestPublishRejectsDuplicateInSamePhase(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.NoError(t, c.Publish("addr-0", []byte("deal")))
	require.ErrorIs(t, c.Publish("addr-0", []byte("deal-again")), errors.ErrSharesExisted)
}

func TestPublishRejectsAfterEnded(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.Tick(200)
	require.ErrorIs(t, c.Publish("addr-0", []byte("too-late")), errors.ErrDKGEnded)
}

func TestGetSharesPadsToParticipantCountInOrder(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.NoError(t, c.Publish("addr-1", []byte("deal-1")))

	shares := c.GetShares()
	require.Len(t, shares, 3)
	require.Empty(t, shares[0])
	require.Equal(t, []byte("deal-1"), shares[1])
	require.Empty(t, shares[2])
}

func TestGetBLSKeysReturnsThresholdAndOrderedKeys(t *testing.T) {
	c, _ := newTestCoordinator(t)
	threshold, keys := c.GetBLSKeys()
	require.Equal(t, 3, threshold)
	require.Equal(t, [][]byte{[]byte("pk-0"), []byte("pk-1"), []byte("pk-2")}, keys)
}

func TestGetParticipantsReturnsRegistrationOrder(t *testing.T) {
	c, _ := newTestCoordinator(t)
	require.Equal(t, []string{"addr-0", "addr-1", "addr-2"}, c.GetParticipants())
}
