package sync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Poller triggers periodic full-scope sync runs. Runs never overlap: the
// next tick is not consumed until the previous run finishes.
type Poller struct {
	logger      *zap.Logger
	coordinator *Coordinator
	interval    time.Duration
	limitPerRun int
	stopCh      chan struct{}
}

// NewPoller constructs a periodic sync trigger for all active accounts.
func NewPoller(logger *zap.Logger, coordinator *Coordinator, interval time.Duration, limitPerRun int) *Poller {
	return &Poller{
		logger:      logger,
		coordinator: coordinator,
		interval:    interval,
		limitPerRun: limitPerRun,
		stopCh:      make(chan struct{}),
	}
}

// Start runs an immediate sync pass, then one per interval until the context
// is canceled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("sync.poller_started",
		zap.Duration("interval", p.interval),
		zap.Int("limit_per_run", p.limitPerRun))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.runOnce(ctx)

		select {
		case <-ticker.C:
			continue
		case <-p.stopCh:
			p.logger.Info("sync.poller_stopped (manual stop)")
			return
		case <-ctx.Done():
			p.logger.Info("sync.poller_stopped (context canceled)")
			return
		}
	}
}

// Stop signals the poller to halt gracefully.
func (p *Poller) Stop() {
	close(p.stopCh)
}

func (p *Poller) runOnce(ctx context.Context) {
	report, err := p.coordinator.RunSync(ctx, Scope{}, p.limitPerRun)
	if err != nil {
		p.logger.Error("sync.scheduled_run_failed", zap.Error(err))
		return
	}
	if len(report.Failures) > 0 {
		p.logger.Warn("sync.scheduled_run_partial",
			zap.Int("processed", report.Processed),
			zap.Int("failures", len(report.Failures)))
	}
}
