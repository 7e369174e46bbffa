package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/randcast/coordinator/common/log"
)

// ThresholdMonitor watches, per group, how many distinct peers a node's
// BLSTaskListener has failed to push a partial signature to within a fixed
// period; the failure set is cleared at the end of each period. Crossing the group's own threshold is the signal that a
// SignatureAggregationListener may not be able to collect enough partials
// to aggregate before the task's deadline, worth a loud log line well
// before that actually happens.
type ThresholdMonitor struct {
	lock             sync.RWMutex
	log              log.Logger
	groupIndex       uint64
	threshold        int
	failedDeliveries map[string]bool
	ctx              context.Context
	cancel           func()
	period           time.Duration
}

// NewThresholdMonitor creates a monitor for one group, alarming once
// distinct delivery failures in a period reach threshold.
func NewThresholdMonitor(l log.Logger, groupIndex uint64, threshold int) *ThresholdMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ThresholdMonitor{
		log:              l.Named("threshold-monitor"),
		groupIndex:       groupIndex,
		threshold:        threshold,
		failedDeliveries: make(map[string]bool),
		ctx:              ctx,
		cancel:           cancel,
		period:           time.Minute,
	}
}

// Start launches the periodic check-and-reset loop.
func (t *ThresholdMonitor) Start() {
	t.log.Infow("starting threshold monitor", "group", t.groupIndex)
	go func() {
		ticker := time.NewTicker(t.period)
		defer ticker.Stop()
		for {
			select {
			case <-t.ctx.Done():
				t.log.Infow("stopping threshold monitor", "group", t.groupIndex)
				return
			case <-ticker.C:
				t.checkAndReset()
			}
		}
	}()
}

func (t *ThresholdMonitor) checkAndReset() {
	t.lock.Lock()
	defer t.lock.Unlock()

	var failing []string
	for addr := range t.failedDeliveries {
		failing = append(failing, addr)
	}

	switch {
	case len(failing) >= t.threshold:
		t.log.Errorw("partial signature delivery failures crossed group threshold",
			"group", t.groupIndex, "threshold", t.threshold, "failures", len(failing),
			"peers", strings.Join(failing, ","))
	case len(failing) >= t.threshold/2:
		t.log.Warnw("partial signature delivery failures crossed half of group threshold",
			"group", t.groupIndex, "threshold", t.threshold, "failures", len(failing),
			"peers", strings.Join(failing, ","))
	}

	t.failedDeliveries = make(map[string]bool)
}

// Stop ends the monitor's background loop.
func (t *ThresholdMonitor) Stop() {
	t.cancel()
}

// ReportFailure records one failed partial-signature push to peer addr.
func (t *ThresholdMonitor) ReportFailure(addr string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.failedDeliveries[addr] = true
}

// UpdateThreshold re-points the monitor at a group's new threshold, called
// after a rebalance or DKG re-finalization changes it.
func (t *ThresholdMonitor) UpdateThreshold(newThreshold int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.threshold = newThreshold
}
