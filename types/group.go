package types

import "github.com/randcast/coordinator/params"

// Member is one participant's standing within a Group.
//
// Index is 0-based, matching kyber's node indices directly: the same value
// assigned in controller/membership.go's addToGroup is used unchanged by
// the DKG/coordinator layer underneath.
type Member struct {
	Index            int
	PartialPublicKey []byte
}

// CommitResult is the tuple every member commits after running the DKG.
// Equality is structural over all three fields, which is how commit caches
// are bucketed into majority-identical-commitment classes.
type CommitResult struct {
	GroupEpoch   uint64
	PublicKey    string // hex/binary-comparable form of the proposed group public key
	Disqualified string // canonical (sorted, joined) form of the disqualified address list
}

// CommitCache is one member's commit_dkg submission.
type CommitCache struct {
	Result           CommitResult
	PartialPublicKey []byte
}

// Group is a set of threshold-signing participants at a given epoch.
//
// Invariants:
//   threshold == max(params.DefaultMinimumThreshold, ceil(size/2)+1)
//   ready => PublicKey != nil && len(Committers) == max(3, Threshold)
//   ready && size < 3 => ready is forced back to false
type Group struct {
	Index       uint64
	Epoch       uint64
	Capacity    int
	Threshold   int
	Ready       bool
	PublicKey   []byte
	Members     map[string]*Member // keyed by node address
	Committers  []string           // ordered node addresses
	CommitCache map[string]*CommitCache
}

// NewGroup creates an empty group at epoch 0 with default capacity.
func NewGroup(index uint64) *Group {
	return &Group{
		Index:       index,
		Capacity:    params.GroupMaxCapacity,
		Threshold:   params.DefaultMinimumThreshold,
		Members:     make(map[string]*Member),
		CommitCache: make(map[string]*CommitCache),
	}
}

// Size is the number of current members.
func (g *Group) Size() int {
	return len(g.Members)
}

// RecomputeThreshold applies the group's threshold formula and enforces
// the "ready forced false below 3 members" invariant.
func (g *Group) RecomputeThreshold() {
	size := g.Size()
	ceilHalf := (size + 1) / 2
	g.Threshold = params.DefaultMinimumThreshold
	if ceilHalf+1 > g.Threshold {
		g.Threshold = ceilHalf + 1
	}
	if g.Ready && size < 3 {
		g.Ready = false
	}
}

// MemberAddresses returns the group's member addresses in a stable order
// (ascending by Member.Index), used wherever a deterministic participant
// ordering is required (coordinator registration, committer iteration).
func (g *Group) MemberAddresses() []string {
	out := make([]string, 0, len(g.Members))
	for addr := range g.Members {
		out = append(out, addr)
	}
	sortByIndex(out, g.Members)
	return out
}

func sortByIndex(addrs []string, members map[string]*Member) {
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0 && members[addrs[j-1]].Index > members[addrs[j]].Index; j-- {
			addrs[j-1], addrs[j] = addrs[j], addrs[j-1]
		}
	}
}

// Clone returns a deep-enough defensive copy for handing to callers outside
// the controller's lock.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	cp := &Group{
		Index:     g.Index,
		Epoch:     g.Epoch,
		Capacity:  g.Capacity,
		Threshold: g.Threshold,
		Ready:     g.Ready,
		PublicKey: append([]byte(nil), g.PublicKey...),
	}
	cp.Members = make(map[string]*Member, len(g.Members))
	for addr, m := range g.Members {
		mCopy := *m
		mCopy.PartialPublicKey = append([]byte(nil), m.PartialPublicKey...)
		cp.Members[addr] = &mCopy
	}
	cp.Committers = append([]string(nil), g.Committers...)
	cp.CommitCache = make(map[string]*CommitCache, len(g.CommitCache))
	for addr, c := range g.CommitCache {
		cCopy := *c
		cCopy.PartialPublicKey = append([]byte(nil), c.PartialPublicKey...)
		cp.CommitCache[addr] = &cCopy
	}
	return cp
}
