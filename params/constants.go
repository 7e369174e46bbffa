// Package params holds the wire-visible constants every participant -
// controller, coordinator and every node - must agree on. Divergence here
// is a cross-participant correctness hazard, not just a tuning knob, so
// these are fixed constants rather than per-node config.
package params

const (
	NodeStakingAmount        = 50000
	RewardPerSignature       = 50
	DisqualifiedNodePenalty  = 1000
	CoordinatorStateTriggerReward = 100
	CommitterRewardPerSignature  = 100
	CommitterPenaltyPerSignature = 1000
	ChallengeRewardPerSignature  = 300

	DefaultMinimumThreshold = 3
	DefaultCommitteesSize   = 3
	DefaultDKGPhaseDuration = 30
	GroupMaxCapacity        = 10
	ExpectedGroupSize       = 5

	PendingBlockAfterQuit = 100

	SignatureTaskExclusiveWindow        = 10
	SignatureRewardsValidationWindow    = 50
	RelayConfirmationValidationWindow   = 30
	DefaultDKGTimeoutDuration           = 40
)

// DefaultAdminAddress is the identity allowed to call Adapter.SetInitialGroup
// absent an explicit config.WithAdminAddress override, matching the
// hardcoded admin sentinel a mock deployment's adapter contract uses.
const DefaultAdminAddress = "0xadmin"
