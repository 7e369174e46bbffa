// Package errors collects the sentinel errors shared by the controller, the
// coordinator, the committer RPC surface and the adapter. Callers compare
// against these with errors.Is; nothing here carries payload, the taxonomy
// is deliberately flat.
package errors

import "errors"

// Precondition errors: the caller asked for something the current state
// cannot satisfy.
var (
	ErrNodeExisted              = errors.New("node already registered")
	ErrNodeNotExisted           = errors.New("node does not exist")
	ErrNodeActivated            = errors.New("node is already active")
	ErrNodeNotAvailable         = errors.New("node is still pending, not yet available for activation")
	ErrGroupNotExisted          = errors.New("group does not exist")
	ErrGroupNotActivated        = errors.New("group is not ready")
	ErrCoordinatorNotExisted    = errors.New("coordinator does not exist for this group epoch")
	ErrCoordinatorNotEnded      = errors.New("coordinator has not finished its phases yet")
	ErrTaskNotFound             = errors.New("signature task not found")
	ErrTaskStillExclusive       = errors.New("task is still within its exclusive window for the assigned group")
	ErrNoTaskAvailable          = errors.New("no task available")
	ErrParticipantNotExisted    = errors.New("participant not registered with the coordinator")
	ErrCommitCacheExisted       = errors.New("member already committed for this group epoch")
	ErrNoValidGroup             = errors.New("no ready group available to service randomness requests")
	ErrRewardRecordNotExisted   = errors.New("reward record does not exist")
	ErrVerifiableRewardNotFound = errors.New("verifiable signature reward not found")
	ErrVerifiableRewardAsCommitter = errors.New(
		"node cannot quit while it is the committer of a still-live verifiable reward")
	ErrInitialGroupExisted = errors.New("adapter initial group already installed")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrMemberNotExisted     = errors.New("sender is not a member of the target group")
	ErrGroupNotReady        = errors.New("target group is not ready to receive partial signatures")
	ErrNotFromCommitter     = errors.New("sender is not one of the target group's committers")

	ErrRelayFulfillmentRepeated           = errors.New("a relay fulfillment already exists for this task index")
	ErrRelayTaskNotFound                  = errors.New("relay confirmation task not found")
	ErrRelayConfirmationTaskStillAvailable = errors.New(
		"relay confirmation task is still within its validation window")
	ErrRelayGroupDataInconsistency = errors.New("confirmed group data does not match the cached relay")
)

// Epoch / obsolescence errors: the caller is acting on data that has been
// superseded by a newer epoch.
var (
	ErrGroupEpochObsolete      = errors.New("group epoch obsolete, group has moved on")
	ErrGroupIndexObsolete      = errors.New("group index obsolete")
	ErrCoordinatorEpochObsolete = errors.New("coordinator epoch obsolete")
	ErrRelayGroupDataObsolete  = errors.New("relay group data obsolete")
)

// Cryptographic errors.
var (
	ErrPublicKeyBadFormat = errors.New("public key bytes do not decode to a valid curve point")
	ErrBLSVerifyFailed    = errors.New("BLS signature verification failed")
)

// Coordinator bulletin-board errors (§4.2).
var (
	ErrAlreadyStarted        = errors.New("coordinator already started")
	ErrNotRegistered         = errors.New("caller is not a registered participant")
	ErrDKGEnded              = errors.New("DKG has ended for this group epoch")
	ErrSharesExisted         = errors.New("shares already published for this participant")
	ErrResponsesExisted      = errors.New("responses already published for this participant")
	ErrJustificationsExisted = errors.New("justifications already published for this participant")
)

// Status signals. These compose control flow as errors (so callers that only
// check `err != nil` still branch correctly) but are not failures.
var (
	// ErrSignatureRewardVerifiedSuccessfully is returned by
	// challenge_verifiable_reward when every partial signature in the reward
	// verifies: the challenge found nothing to slash.
	ErrSignatureRewardVerifiedSuccessfully = errors.New("signature reward verified successfully, nothing to challenge")
)

// IsStatusSignal reports whether err is one of the non-failure status
// signals that a node runtime listener should treat as a normal outcome
// rather than aborting its current iteration.
func IsStatusSignal(err error) bool {
	return errors.Is(err, ErrSignatureRewardVerifiedSuccessfully) || errors.Is(err, ErrNoTaskAvailable)
}
