package noderuntime

import (
	"context"
	"fmt"

	"github.com/drand/kyber"
	"github.com/hashicorp/go-multierror"

	"github.com/randcast/coordinator/blscrypto"
	"github.com/randcast/coordinator/common/errors"
	"github.com/randcast/coordinator/coordinator"
	"github.com/randcast/coordinator/params"
	"github.com/randcast/coordinator/types"
)

// startingGroupingListener polls EmitDKGTask for the group in this node's
// group_cache and kicks off a DKG round the first time it sees a task for a
// (group, epoch) it has not already started.
//
// Only the cached group is polled: while group_cache is empty nothing is
// polled, and groups other than the cached one are never discovered here.
func (r *Runtime) startingGroupingListener(ctx context.Context) {
	for {
		if g, ok := r.groupCache.CurrentGroup(); ok {
			r.maybeStartDKG(g.Index)
		}
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(pollInterval):
		}
	}
}

func (r *Runtime) maybeStartDKG(groupIndex uint64) {
	task, ok := r.ctrl.EmitDKGTask(groupIndex)
	if !ok {
		return
	}
	if _, isMember := task.MemberIndexes[r.id]; !isMember {
		return
	}
	if !r.claimDKGTask(task.GroupIndex, task.Epoch) {
		return
	}
	go r.runDKG(task)
}

// claimDKGTask reports whether this is the first time this runtime has seen
// (groupIndex, epoch), atomically marking it claimed if so.
func (r *Runtime) claimDKGTask(groupIndex, epoch uint64) bool {
	r.dkgMu.Lock()
	defer r.dkgMu.Unlock()
	if r.lastDKGTask[groupIndex] >= epoch {
		return false
	}
	r.lastDKGTask[groupIndex] = epoch
	return true
}

// runDKG drives one Joint-Feldman round against the group's Coordinator
// bulletin board: publish a deal bundle once shares opens, process peers'
// deals once they arrive and publish responses, process peers' responses
// and publish any resulting justifications, then finalize and commit.
func (r *Runtime) runDKG(task *types.DKGTask) {
	ctx := context.Background()
	l := r.l.With("group", task.GroupIndex, "epoch", task.Epoch)

	co, err := r.ctrl.Coordinator(task.GroupIndex)
	if err != nil {
		l.Warnw("dkg: coordinator unavailable", "err", err)
		return
	}

	myIndex, ok := task.MemberIndexes[r.id]
	if !ok {
		return
	}

	threshold, pubKeyBytes := co.GetBLSKeys()
	pubKeys := make([]kyber.Point, len(pubKeyBytes))
	for i, b := range pubKeyBytes {
		p, err := blscrypto.UnmarshalG2Point(r.suite, b)
		if err != nil {
			l.Warnw("dkg: decoding peer identity key", "index", i, "err", err)
			return
		}
		pubKeys[i] = p
	}

	participant, err := blscrypto.NewParticipant(r.suite, r.priv, pubKeys, threshold)
	if err != nil {
		l.Warnw("dkg: starting participant", "err", err)
		return
	}

	if err := r.waitForPhase(ctx, task, co, coordinator.PhaseShares); err != nil {
		l.Warnw("dkg: waiting for shares phase", "err", err)
		return
	}
	deals, err := participant.Deals()
	if err != nil {
		l.Warnw("dkg: generating deals", "err", err)
		return
	}
	dealBundle, err := blscrypto.EncodeDealBundle(deals)
	if err != nil {
		l.Warnw("dkg: encoding deal bundle", "err", err)
		return
	}
	if err := co.Publish(r.id, dealBundle); err != nil {
		l.Warnw("dkg: publishing deals", "err", err)
		return
	}

	if err := r.waitForPhase(ctx, task, co, coordinator.PhaseResponses); err != nil {
		l.Warnw("dkg: waiting for responses phase", "err", err)
		return
	}
	var responses [][]byte
	var dealErrs *multierror.Error
	for i, blob := range co.GetShares() {
		if i == myIndex || len(blob) == 0 {
			continue
		}
		bundle, err := blscrypto.DecodeDealBundle(blob)
		if err != nil {
			dealErrs = multierror.Append(dealErrs, fmt.Errorf("decoding deal bundle from %d: %w", i, err))
			continue
		}
		dealBytes, ok := bundle[myIndex]
		if !ok {
			continue
		}
		resp, err := participant.ProcessDeal(dealBytes)
		if err != nil {
			dealErrs = multierror.Append(dealErrs, fmt.Errorf("processing deal from %d: %w", i, err))
			continue
		}
		responses = append(responses, resp)
	}
	if dealErrs.ErrorOrNil() != nil {
		l.Warnw("dkg: some deals were rejected", "err", dealErrs)
	}
	if len(responses) > 0 {
		bundle, err := blscrypto.EncodeBlobs(responses)
		if err != nil {
			l.Warnw("dkg: encoding responses", "err", err)
			return
		}
		if err := co.Publish(r.id, bundle); err != nil {
			l.Warnw("dkg: publishing responses", "err", err)
			return
		}
	}

	if err := r.waitForPhase(ctx, task, co, coordinator.PhaseJustifications); err != nil {
		l.Warnw("dkg: waiting for justifications phase", "err", err)
		return
	}
	var justifications [][]byte
	var responseErrs *multierror.Error
	for i, blob := range co.GetResponses() {
		if i == myIndex || len(blob) == 0 {
			continue
		}
		responses, err := blscrypto.DecodeBlobs(blob)
		if err != nil {
			responseErrs = multierror.Append(responseErrs, fmt.Errorf("decoding responses from %d: %w", i, err))
			continue
		}
		for _, respBytes := range responses {
			justif, err := participant.ProcessResponse(respBytes)
			if err != nil {
				responseErrs = multierror.Append(responseErrs, fmt.Errorf("processing response from %d: %w", i, err))
				continue
			}
			if justif != nil {
				justifications = append(justifications, justif)
			}
		}
	}
	if responseErrs.ErrorOrNil() != nil {
		l.Warnw("dkg: some responses were rejected", "err", responseErrs)
	}
	if len(justifications) > 0 {
		bundle, err := blscrypto.EncodeBlobs(justifications)
		if err != nil {
			l.Warnw("dkg: encoding justifications", "err", err)
			return
		}
		if err := co.Publish(r.id, bundle); err != nil {
			l.Warnw("dkg: publishing justifications", "err", err)
			return
		}
	}

	if err := r.waitForPhase(ctx, task, co, coordinator.PhaseEnded); err != nil {
		l.Warnw("dkg: waiting for dkg to end", "err", err)
		return
	}
	var justifErrs *multierror.Error
	for i, blob := range co.GetJustifications() {
		if i == myIndex || len(blob) == 0 {
			continue
		}
		blobs, err := blscrypto.DecodeBlobs(blob)
		if err != nil {
			justifErrs = multierror.Append(justifErrs, fmt.Errorf("decoding justifications from %d: %w", i, err))
			continue
		}
		for _, jb := range blobs {
			if err := participant.ProcessJustification(jb); err != nil {
				justifErrs = multierror.Append(justifErrs, fmt.Errorf("processing justification from %d: %w", i, err))
			}
		}
	}
	if justifErrs.ErrorOrNil() != nil {
		l.Warnw("dkg: some justifications were rejected", "err", justifErrs)
	}

	if !participant.Certified() {
		l.Warnw("dkg: not certified, abandoning round")
		return
	}
	result, err := participant.DistKeyShare()
	if err != nil {
		l.Warnw("dkg: finalizing dist key share", "err", err)
		return
	}

	addrs := co.GetParticipants()
	qual := make(map[int]bool, len(participant.QUAL()))
	for _, idx := range participant.QUAL() {
		qual[idx] = true
	}
	var disqualified []string
	for i, addr := range addrs {
		if !qual[i] {
			disqualified = append(disqualified, addr)
		}
	}

	pkBytes, err := blscrypto.MarshalPoint(result.GroupPublicKey)
	if err != nil {
		l.Warnw("dkg: marshaling group public key", "err", err)
		return
	}
	ppkBytes, err := blscrypto.MarshalPoint(result.OwnPartialPublic)
	if err != nil {
		l.Warnw("dkg: marshaling partial public key", "err", err)
		return
	}

	r.storeDKGResult(task.GroupIndex, task.Epoch, result)

	if err := r.ctrl.CommitDKG(r.id, task.GroupIndex, task.Epoch, pkBytes, ppkBytes, disqualified); err != nil {
		l.Warnw("dkg: committing result", "err", err)
	}
}

func (r *Runtime) storeDKGResult(groupIndex, epoch uint64, result *blscrypto.Result) {
	r.shareMu.Lock()
	defer r.shareMu.Unlock()
	r.dkgResults[groupIndex] = &dkgResult{epoch: epoch, result: result}
}

func (r *Runtime) dkgResultFor(groupIndex, epoch uint64) (*blscrypto.Result, bool) {
	r.shareMu.RLock()
	defer r.shareMu.RUnlock()
	cached, ok := r.dkgResults[groupIndex]
	if !ok || cached.epoch != epoch {
		return nil, false
	}
	return cached.result, true
}

// waitForPhase blocks until the coordinator reaches (or has passed) target,
// re-checking on every tick that task's epoch is still current: a
// rebalance or a slashing pass can retire a group's coordinator mid-round,
// and there is no point publishing into a bulletin board nobody is reading
// anymore.
func (r *Runtime) waitForPhase(ctx context.Context, task *types.DKGTask, co *coordinator.Coordinator, target coordinator.Phase) error {
	for {
		g, err := r.ctrl.GetGroup(task.GroupIndex)
		if err != nil {
			return err
		}
		if g.Epoch != task.Epoch {
			return errors.ErrGroupEpochObsolete
		}
		if co.Phase() >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(pollInterval):
		}
	}
}

// endGroupingPoller is the EndGroupingListener: once a DKG
// round's timeout window elapses without the group reaching Ready, any
// node may sweep it via check_dkg_state. Successful finalization instead
// refreshes group_cache so downstream listeners pick up the new committee.
func (r *Runtime) endGroupingPoller(ctx context.Context) {
	for {
		r.pollEndGrouping()
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(pollInterval):
		}
	}
}

func (r *Runtime) pollEndGrouping() {
	g, ok := r.groupCache.CurrentGroup()
	if !ok {
		return
	}
	fresh, err := r.ctrl.GetGroup(g.Index)
	if err != nil {
		return
	}
	r.groupCache.Set(fresh)
	if fresh.Ready {
		return
	}

	co, err := r.ctrl.Coordinator(g.Index)
	if err != nil {
		return
	}
	if co.Phase() != coordinator.PhaseEnded {
		return
	}
	if r.blockCache.Get() < r.dkgDeadline(g.Index) {
		return
	}
	logStatusOrWarn(r.l, "dkg: sweeping timed-out round", r.ctrl.CheckDKGState(r.id, g.Index))
}

// dkgDeadline is the block height past which a round with an ended
// coordinator is considered timed out: the coordinator's own three phase windows
// already cover the common case, this is only a backstop for a round that
// ended without any class reaching majority.
func (r *Runtime) dkgDeadline(groupIndex uint64) uint64 {
	task, ok := r.ctrl.EmitDKGTask(groupIndex)
	if !ok {
		return 0
	}
	return task.AssignmentBlockHeight + params.DefaultDKGTimeoutDuration
}
