package types

// Expirable is embedded by any record that lives until a block height and is
// then dropped: verifiable signature rewards and adapter relay confirmation
// tasks are both "pending until block X" records and share this one check.
type Expirable struct {
	ExpiresAtBlock uint64
}

// Expired reports whether the record's expiration has passed at
// currentBlock.
func (e Expirable) Expired(currentBlock uint64) bool {
	return currentBlock >= e.ExpiresAtBlock
}

// SignatureTask is a pending randomness request.
type SignatureTask struct {
	Index                 uint64
	Message               string
	GroupIndex            uint64
	AssignmentBlockHeight uint64
}

// DKGTask is what the controller emits to tell nodes a group has a fresh
// DKG round to run.
type DKGTask struct {
	GroupIndex            uint64
	Epoch                 uint64
	Size                  int
	Threshold             int
	MemberIndexes         map[string]int // address -> 0-based member index
	AssignmentBlockHeight uint64
	CoordinatorAddress    string
}

// GroupSnapshot is a frozen view of a group's DKG-relevant state at the
// moment a SignatureTask was fulfilled. Rewards keep this snapshot rather
// than a live pointer to the group so a later reward challenge can still
// re-verify partial signatures even if the live group has since
// rebalanced, had members slashed, or moved to a new epoch.
type GroupSnapshot struct {
	Epoch       uint64
	PublicKey   []byte
	Members     map[string]*Member
	Threshold   int
	Commitments [][]byte // per-member commitment points, in member-index order
}

// SignatureReward is a fulfilled SignatureTask awaiting its challenge
// window.
type SignatureReward struct {
	Expirable
	Task              SignatureTask
	CommitterID       string
	Group             GroupSnapshot
	PartialSignatures map[string][]byte // contributor address -> partial signature
}
