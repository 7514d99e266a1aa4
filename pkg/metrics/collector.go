package metrics

import (
	"time"

	"github.com/cuemby/cairnq/pkg/queue"
)

// Collector periodically samples gauge-shaped state off a *queue.Queue
// (visibility index depth, vacant slot count, suspension flags, per-op
// outcome counts, empty polls) that the operation layer itself cannot
// export to Prometheus without importing it. Per-request histograms
// (OperationDuration, APIRequestsTotal, APIRequestDuration) are
// observed inline by pkg/api as requests complete, and
// SyncBarrierDuration is observed inline by the Syncer's onFlush hook
// (wired from cmd/cairnq); this collector only handles state that has
// to be sampled rather than pushed.
type Collector struct {
	q      *queue.Queue
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for q.
func NewCollector(q *queue.Queue) *Collector {
	return &Collector{
		q:      q,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 5 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	VisibilityIndexDepth.Set(float64(c.q.VisibilityDepth()))
	VacantSlotsDepth.Set(float64(c.q.VacantDepth()))
	c.collectSuspension()
}

func (c *Collector) collectSuspension() {
	susp := c.q.Suspension()
	ops := []queue.Op{queue.OpPush, queue.OpPoll, queue.OpUpdate, queue.OpDelete}

	for _, op := range ops {
		suspended := 0.0
		if susp.IsSuspended(op) {
			suspended = 1.0
		}
		SuspendedOps.WithLabelValues(op.String()).Set(suspended)

		snap := susp.Snapshot(op)
		OperationsTotal.WithLabelValues(op.String(), "successful").Set(float64(snap.Successful))
		OperationsTotal.WithLabelValues(op.String(), "suspended").Set(float64(snap.Suspended))
		OperationsTotal.WithLabelValues(op.String(), "missing").Set(float64(snap.Missing))
	}
	EmptyPollsTotal.Set(float64(susp.EmptyPollCount()))
}
