package adapter

import (
	"bytes"
	"encoding/gob"

	"github.com/randcast/coordinator/types"
)

// RelayConfirmationState mirrors the three-valued task lookup views.rs
// exposes for a group relay confirmation task index: a caller can ask about
// an index that was never issued, one still inside its validation window,
// or one that has aged out and is only waiting on a cancel.
type RelayConfirmationState int

const (
	RelayConfirmationNotExisted RelayConfirmationState = iota
	RelayConfirmationAvailable
	RelayConfirmationInvalid
)

// RelayCache is what fulfill_relay stashes while its confirmation task is
// outstanding: the relayed group as the relayer committer posted it, and
// which committer vouched for it.
type RelayCache struct {
	RelayerCommitter      string
	Group                 *types.Group
	ConfirmationTaskIndex uint64
}

// RelayConfirmationTask is the work item the relayed group's own committers
// pick up to confirm or refute a relayed group fulfillment. It shares its
// expiry bookkeeping with types.SignatureReward: both are "valid until
// block X" records the controller/adapter boundary drops once stale.
type RelayConfirmationTask struct {
	types.Expirable
	Index                 uint64
	RelayCacheIndex       uint64
	RelayedGroupIndex     uint64
	RelayedGroupEpoch     uint64
	RelayerGroupIndex     uint64
	AssignmentBlockHeight uint64
}

// GroupRelayConfirmation is the payload the relayed group's committer signs
// and posts back through confirm_relay: the group data it is vouching for,
// plus whether it accepts or refutes the relayer's copy.
type GroupRelayConfirmation struct {
	Group   *types.Group
	Success bool
}

func encodeGroup(g *types.Group) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGroup(b []byte) (*types.Group, error) {
	var g types.Group
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

func encodeConfirmation(c *GroupRelayConfirmation) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeConfirmation(b []byte) (*GroupRelayConfirmation, error) {
	var c GroupRelayConfirmation
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// groupsEqual reports whether two groups carry the same DKG-relevant state,
// the check confirm_relay runs against its cached copy before accepting a
// confirmation.
func groupsEqual(a, b *types.Group) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Index != b.Index || a.Epoch != b.Epoch || a.Threshold != b.Threshold {
		return false
	}
	if !bytes.Equal(a.PublicKey, b.PublicKey) {
		return false
	}
	if len(a.Members) != len(b.Members) {
		return false
	}
	for addr, m := range a.Members {
		other, ok := b.Members[addr]
		if !ok || other.Index != m.Index || !bytes.Equal(other.PartialPublicKey, m.PartialPublicKey) {
			return false
		}
	}
	return true
}
