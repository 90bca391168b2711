package queue

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/austindbirch/sol_hook/internal/logging"
	"github.com/austindbirch/sol_hook/internal/metrics"
)

// Maintenance reclaims expired leases and refreshes the depth gauges
type Maintenance struct {
	queue  *Queue
	logger *logging.Logger
}

func NewMaintenance(q *Queue, logger *logging.Logger) *Maintenance {
	if logger == nil {
		logger = logging.New("solhook-queue")
	}
	return &Maintenance{queue: q, logger: logger}
}

// Tick runs one reclaim and stats pass
func (m *Maintenance) Tick(ctx context.Context) {
	n, err := m.queue.Reclaim(ctx)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("lease reclaim failed")
	} else if n > 0 {
		metrics.RecordLeasesReclaimed(n)
		m.logger.WithContext(ctx).WithField("reclaimed", n).Warn("reclaimed expired leases")
	}

	st, err := m.queue.Stats(ctx)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("queue stats failed")
		return
	}
	metrics.UpdateQueueDepth(st.Ready, st.InFlight)
}

// Schedule registers Tick on c. Overlapping runs are skipped.
func (m *Maintenance) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		m.Tick(ctx)
	}))
	return c.AddJob(spec, job)
}
