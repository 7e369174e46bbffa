package noderuntime

import (
	"context"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/committer"
	"github.com/randcast/coordinator/params"
	"github.com/randcast/coordinator/types"
)

// blsTaskListener is the BLSTaskListener: for every pending
// signature task available to this node's group (its own group's tasks, or
// any other group's once the exclusive window has passed), sign a partial
// signature with the node's cached DKG share and fan it out to every
// committer (including itself, so a node that is also a committer doesn't
// need a loopback RPC).
func (r *Runtime) blsTaskListener(ctx context.Context) {
	for {
		r.signPendingTasks()
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(pollInterval):
		}
	}
}

func (r *Runtime) signPendingTasks() {
	group, ok := r.groupCache.CurrentGroup()
	if !ok || !group.Ready {
		return
	}
	result, ok := r.dkgResultFor(group.Index, group.Epoch)
	if !ok {
		return
	}

	currentBlock := r.blockCache.Get()
	for _, task := range r.ctrl.PendingSignatureTasks() {
		if !taskAvailableTo(task, group.Index, currentBlock) {
			continue
		}
		if !r.claimSigTask(task.Index) {
			continue
		}
		sig, err := blscrypto.SignPartial(r.suite, result.OwnPriShare, []byte(task.Message))
		if err != nil {
			r.l.Warnw("bls task: signing partial", "task", task.Index, "err", err)
			continue
		}
		r.broadcastPartial(group, task.Index, task.Message, sig)
	}
}

func (r *Runtime) claimSigTask(index uint64) bool {
	r.sigMu.Lock()
	defer r.sigMu.Unlock()
	if r.sigTasks[index] {
		return false
	}
	r.sigTasks[index] = true
	return true
}

func (r *Runtime) broadcastPartial(group *types.Group, signatureIndex uint64, message string, sig []byte) {
	for _, addr := range group.Committers {
		if addr == r.id {
			logStatusOrWarn(r.l, "bls task: self-committing partial", r.committer.CommitPartialSignature(committer.TaskTypeSignature, message, signatureIndex, r.id, sig))
			continue
		}
		peer, ok := r.peer(addr)
		if !ok {
			continue
		}
		err := peer.CommitPartialSignature(committer.TaskTypeSignature, message, signatureIndex, r.id, sig)
		logStatusOrWarn(r.l, "bls task: pushing partial to committer", err)
		if err != nil && r.monitor != nil {
			r.monitor.ReportFailure(addr)
		}
	}
}

// signatureAggregationListener is the SignatureAggregationListener: once this node's own Committer has accumulated threshold partial
// signatures for a task, recover the aggregate and submit it.
func (r *Runtime) signatureAggregationListener(ctx context.Context) {
	for {
		r.tryAggregatePending()
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(pollInterval):
		}
	}
}

func (r *Runtime) tryAggregatePending() {
	group, ok := r.groupCache.CurrentGroup()
	if !ok || !isCommitter(group, r.id) {
		return
	}
	result, ok := r.dkgResultFor(group.Index, group.Epoch)
	if !ok {
		return
	}

	currentBlock := r.blockCache.Get()
	for _, task := range r.ctrl.PendingSignatureTasks() {
		if !taskAvailableTo(task, group.Index, currentBlock) {
			continue
		}
		cache, ready := r.committer.Ready(task.Index)
		if !ready {
			continue
		}

		partialSigs := make([][]byte, 0, len(cache.Partials))
		for _, sig := range cache.Partials {
			partialSigs = append(partialSigs, sig)
		}
		aggSig, err := blscrypto.AggregateAndVerify(r.suite, result.Commitments, cache.Message, partialSigs, cache.Threshold, group.Size())
		if err != nil {
			r.l.Warnw("signature aggregation: recovering threshold signature", "task", task.Index, "err", err)
			continue
		}

		err = r.ctrl.FulfillRandomness(r.id, group.Index, task.Index, aggSig, cache.Partials)
		logStatusOrWarn(r.l, "signature aggregation: fulfilling randomness", err)
		if err == nil {
			r.committer.Drop(task.Index)
		}
	}
}

// taskAvailableTo implements check_and_get_available_tasks's per-task filter:
// a group may act on a task assigned to it outright, or on any other
// group's task once the exclusive window has elapsed (the cross-group
// fallback window).
func taskAvailableTo(task *types.SignatureTask, ownGroup uint64, currentBlock uint64) bool {
	if task.GroupIndex == ownGroup {
		return true
	}
	return currentBlock > task.AssignmentBlockHeight+params.SignatureTaskExclusiveWindow
}

func isCommitter(group *types.Group, id string) bool {
	for _, addr := range group.Committers {
		if addr == id {
			return true
		}
	}
	return false
}
