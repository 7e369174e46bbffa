package noderuntime

import (
	"context"
	"sync"
	"time"

	"github.com/drand/kyber"
	"github.com/drand/kyber/pairing"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/committer"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/common/log"
	"github.com/randcast/coordinator/coordinator"
	"github.com/randcast/coordinator/metrics"
	"github.com/randcast/coordinator/types"
)

// pollInterval is how often every listener re-checks its cache/Controller
// view. clockwork.Clock makes this swappable for a clockwork.FakeClock in
// tests, the same pattern drand uses to make its own Phaser deterministic
// under test.
const pollInterval = time.Second

// Controller is the subset of controller.Controller a node runtime
// actually calls. It is declared here, not imported as a concrete type, so
// Runtime can be driven against a fake in tests the way drand's own
// core/dkg machinery is driven against a fake Board.
type Controller interface {
	Mine(n uint64) uint64
	BlockHeight() uint64
	GetGroup(index uint64) (*types.Group, error)
	Coordinator(groupIndex uint64) (*coordinator.Coordinator, error)
	EmitDKGTask(groupIndex uint64) (*types.DKGTask, bool)
	CommitDKG(id string, groupIndex, epoch uint64, publicKey, partialPublicKey []byte, disqualified []string) error
	CheckDKGState(caller string, groupIndex uint64) error
	PendingSignatureTasks() []*types.SignatureTask
	FulfillRandomness(id string, groupIndex, signatureIndex uint64, sig []byte, partials map[string][]byte) error
	GetSignatureTaskCompletionState(i uint64) bool
}

// PeerCommitter is how a runtime pushes a partial signature to one peer's
// Committer. In this module every node runs in the same process, so peers
// are wired in directly (SetPeers); a networked deployment would satisfy
// this interface with an RPC client instead, without the listeners above it
// changing at all.
type PeerCommitter interface {
	CommitPartialSignature(taskType committer.TaskType, message string, signatureIndex uint64, senderID string, partialSignature []byte) error
}

// Runtime is one node's local process: its identity, its three caches, its
// own Committer server, and the cooperating listeners that poll the
// Controller and the group's Coordinator to drive a DKG round and, later,
// signature tasks to completion.
type Runtime struct {
	id    string
	priv  kyber.Scalar
	pub   kyber.Point
	suite pairing.Suite

	ctrl      Controller
	l         log.Logger
	clock     clockwork.Clock
	committer *committer.Committer

	blockCache *BlockCache
	groupCache *GroupCache

	peersMu sync.RWMutex
	peers   map[string]PeerCommitter

	monitor *metrics.ThresholdMonitor

	dkgMu       sync.Mutex
	lastDKGTask map[uint64]uint64 // group index -> epoch already started/finished

	shareMu    sync.RWMutex
	dkgResults map[uint64]*dkgResult // group index -> this node's finalized share for that epoch

	sigMu    sync.Mutex
	sigTasks map[uint64]bool // signature task index -> already being serviced
}

type dkgResult struct {
	epoch  uint64
	result *blscrypto.Result
}

// New creates a node runtime. id is this node's registered address and
// priv/pub its identity keypair (the same keypair passed to
// controller.NodeRegister).
func New(l log.Logger, suite pairing.Suite, ctrl Controller, id string, priv kyber.Scalar, pub kyber.Point) *Runtime {
	r := &Runtime{
		id:          id,
		priv:        priv,
		pub:         pub,
		suite:       suite,
		ctrl:        ctrl,
		l:           l.Named("noderuntime").With("node", id),
		clock:       clockwork.NewRealClock(),
		blockCache:  &BlockCache{},
		groupCache:  &GroupCache{},
		peers:       make(map[string]PeerCommitter),
		lastDKGTask: make(map[uint64]uint64),
		dkgResults:  make(map[uint64]*dkgResult),
		sigTasks:    make(map[uint64]bool),
	}
	r.committer = committer.New(l, suite, r.groupCache)
	return r
}

// SetClock overrides the polling clock, for deterministic tests.
func (r *Runtime) SetClock(clock clockwork.Clock) { r.clock = clock }

// SetThresholdMonitor wires a metrics.ThresholdMonitor that tracks how many
// distinct committers this node fails to push partial signatures to; wire
// it once the node knows its group's threshold. Left nil, broadcastPartial
// simply skips reporting, which is what every test that doesn't care about
// delivery-failure metrics gets by default.
func (r *Runtime) SetThresholdMonitor(m *metrics.ThresholdMonitor) { r.monitor = m }

// SetPeers wires this node's view of its fellow committers, keyed by
// address. Re-set whenever group membership changes.
func (r *Runtime) SetPeers(peers map[string]PeerCommitter) {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	r.peers = peers
}

func (r *Runtime) peer(addr string) (PeerCommitter, bool) {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	p, ok := r.peers[addr]
	return p, ok
}

// Committer exposes this node's own partial-signature server, so it can be
// registered as a peer of every other node's runtime.
func (r *Runtime) Committer() *committer.Committer { return r.committer }

// requestID returns a fresh correlation id on every call; logStatusOrWarn
// attaches a new one to each line it logs.
func requestID() string { return uuid.NewString() }

// Start launches every listener as a cooperating goroutine and blocks until
// ctx is cancelled. Each listener polls at pollInterval and
// exits promptly when ctx is done.
func (r *Runtime) Start(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []func(context.Context){
		r.blockListener,
		r.startingGroupingListener,
		r.endGroupingPoller,
		r.blsTaskListener,
		r.signatureAggregationListener,
	}
	wg.Add(len(loops))
	for _, loop := range loops {
		loop := loop
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}
	wg.Wait()
}

// blockListener is the writer of block_cache: it is the only
// listener allowed to call BlockCache.Set. It drives the chain forward by
// polling Controller's Mine(1) each tick.
func (r *Runtime) blockListener(ctx context.Context) {
	for {
		r.blockCache.Set(r.ctrl.Mine(1))
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(pollInterval):
		}
	}
}

// logStatusOrWarn treats the status-signal sentinel errors as
// a normal outcome worth a debug line, anything else as a warning.
func logStatusOrWarn(l log.Logger, msg string, err error) {
	if err == nil {
		return
	}
	if errors.IsStatusSignal(err) {
		l.Debugw(msg, "reqid", requestID(), "status", err)
		return
	}
	l.Warnw(msg, "reqid", requestID(), "err", err)
}
