// Package metrics exposes the small fixed set of prometheus collectors that
// observe the controller and node runtime from the outside: how many nodes
// and groups exist, how many signature tasks are in flight, and how often
// slashing/challenge outcomes occur. Observability is carried regardless of
// which functional pieces (persistence, multi-controller consensus) are in
// scope for a given build.
//
// A package-level prometheus Registry, a Start() that serves /metrics over
// HTTP, and collectors registered once via a guarded bindMetrics().
package metrics

import (
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randcast/coordinator/common/log"
)

// Registry is the registry every collector below is bound to. A second
// registry is never needed in this module: every participant here
// (controller, coordinator, node runtime) lives in one process tree, with
// no separate "group" vs "http" vs "client" surface to keep apart.
var Registry = prometheus.NewRegistry()

var (
	// NodesRegistered is the current count of registered nodes, active or
	// pending.
	NodesRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "randcast_nodes_registered",
		Help: "Number of nodes currently registered with the controller.",
	})
	// NodesActive is the subset of registered nodes with active=true.
	NodesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "randcast_nodes_active",
		Help: "Number of registered nodes that are currently active.",
	})
	// GroupsTotal is the number of groups the controller has ever created
	// (groups are never destroyed, only emptied).
	GroupsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "randcast_groups_total",
		Help: "Number of groups the controller has created.",
	})
	// GroupsReady is the number of groups with ready=true, i.e. the
	// valid_group_indices view.
	GroupsReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "randcast_groups_ready",
		Help: "Number of groups with a finalized DKG (ready=true).",
	})
	// PendingSignatureTasks is the current size of the randomness task
	// queue.
	PendingSignatureTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "randcast_pending_signature_tasks",
		Help: "Number of signature tasks awaiting fulfillment.",
	})
	// DKGRoundsStarted counts every emit_group_event: a new Coordinator
	// created for a group epoch.
	DKGRoundsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "randcast_dkg_rounds_started_total",
		Help: "Number of DKG rounds (group epochs) started.",
	})
	// DKGRoundsFinalized counts every commit_dkg call that transitions a
	// group to ready=true.
	DKGRoundsFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "randcast_dkg_rounds_finalized_total",
		Help: "Number of DKG rounds that reached a majority commitment and finalized.",
	})
	// DKGRoundsSwept counts check_dkg_state sweeps of a timed-out round,
	// labeled by whether a majority class survived.
	DKGRoundsSwept = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randcast_dkg_rounds_swept_total",
		Help: "Number of DKG rounds swept by check_dkg_state, by outcome.",
	}, []string{"outcome"}) // "majority_kept" | "wiped"
	// NodesSlashed counts slash_node calls, labeled by the reason
	// (disqualified from DKG, committer penalty on a challenge).
	NodesSlashed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randcast_nodes_slashed_total",
		Help: "Number of slashing events, by reason.",
	}, []string{"reason"}) // "dkg_disqualified" | "committer_penalty" | "dkg_timeout"
	// ChallengeOutcomes counts challenge_verifiable_reward calls, labeled
	// by whether the challenge found a bad partial or the reward verified
	// cleanly.
	ChallengeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randcast_challenge_outcomes_total",
		Help: "Number of challenge_verifiable_reward calls, by outcome.",
	}, []string{"outcome"}) // "slashed" | "verified"
	// SignatureTasksFulfilled counts successful fulfill_randomness calls.
	SignatureTasksFulfilled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "randcast_signature_tasks_fulfilled_total",
		Help: "Number of signature tasks successfully fulfilled.",
	})
	// RewardsCredited sums reward amounts credited, labeled by kind, so an
	// operator can see where the ledger's outflow is going without reading
	// controller internals.
	RewardsCredited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "randcast_rewards_credited_total",
		Help: "Sum of reward amounts credited, by kind.",
	}, []string{"kind"}) // "committer" | "contributor" | "coordinator_trigger" | "challenge"
)

var bindOnce sync.Once

func bindMetrics() {
	bindOnce.Do(func() {
		collectorList := []prometheus.Collector{
			NodesRegistered,
			NodesActive,
			GroupsTotal,
			GroupsReady,
			PendingSignatureTasks,
			DKGRoundsStarted,
			DKGRoundsFinalized,
			DKGRoundsSwept,
			NodesSlashed,
			ChallengeOutcomes,
			SignatureTasksFulfilled,
			RewardsCredited,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		}
		for _, c := range collectorList {
			Registry.MustRegister(c)
		}
	})
}

// Start binds every collector (once, idempotently) and serves /metrics on
// addr, returning the listener so the caller can Close it on shutdown.
func Start(l log.Logger, addr string) net.Listener {
	bindMetrics()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		l.Warnw("metrics: listen failed", "addr", addr, "err", err)
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))
	srv := &http.Server{Handler: mux}
	go func() {
		l.Infow("metrics: serving", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil {
			l.Debugw("metrics: server stopped", "err", err)
		}
	}()
	return ln
}
