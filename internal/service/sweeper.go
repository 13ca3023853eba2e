package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/carpoolhub/platform/internal/infra"
	"github.com/carpoolhub/platform/internal/ledger"
	"github.com/carpoolhub/platform/internal/repository"
	"github.com/google/uuid"
)

// SweepConfig bounds a reconciliation sweep.
type SweepConfig struct {
	StaleAfter  time.Duration
	BatchSize   int
	MaxAttempts int
}

// SweepReport counts what a sweep looked at.
type SweepReport struct {
	Payouts       int
	Recharges     int
	Events        int
	Audited       int
	AuditFailures int
}

// Sweeper brings stuck records to a terminal status: stale payouts and
// recharges are read back from the provider, stored events that failed are
// applied again, and the wallets touched are audited.
type Sweeper struct {
	pool       repository.Pool
	payouts    *PayoutService
	recharges  *RechargeService
	reconciler *Reconciler
	auditor    *ledger.Auditor
	cfg        SweepConfig
	metrics    *infra.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewSweeper creates a new reconciliation sweeper.
func NewSweeper(
	pool repository.Pool,
	repos repository.Repositories,
	payouts *PayoutService,
	recharges *RechargeService,
	reconciler *Reconciler,
	cfg SweepConfig,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		pool:       pool,
		payouts:    payouts,
		recharges:  recharges,
		reconciler: reconciler,
		auditor:    ledger.NewAuditor(repos),
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.logger.Info("reconciliation sweeper started", "interval", interval, "stale_after", s.cfg.StaleAfter)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			report := s.SweepOnce(ctx)
			if report.Payouts+report.Recharges+report.Events > 0 {
				s.logger.Info("sweep complete",
					"payouts", report.Payouts,
					"recharges", report.Recharges,
					"events", report.Events,
					"audit_failures", report.AuditFailures,
				)
			}
		}
	}
}

// SweepOnce runs one pass. Failures of one part are logged and do not stop
// the others.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepReport {
	var report SweepReport
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	touched := map[uuid.UUID]struct{}{}

	users, err := s.payouts.SweepStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("payout sweep failed", "error", err)
	}
	report.Payouts = len(users)
	for _, id := range users {
		touched[id] = struct{}{}
	}

	users, err = s.recharges.SweepStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("recharge sweep failed", "error", err)
	}
	report.Recharges = len(users)
	for _, id := range users {
		touched[id] = struct{}{}
	}

	n, err := s.reconciler.RetryStored(ctx, cutoff, s.cfg.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("event retry failed", "error", err)
	}
	report.Events = n

	for userID := range touched {
		results, err := s.auditor.AuditUser(ctx, s.pool, userID)
		if err != nil {
			s.logger.Error("audit failed", "user_id", userID, "error", err)
			continue
		}
		for _, res := range results {
			report.Audited++
			if res.AllPassed {
				continue
			}
			report.AuditFailures++
			s.metrics.SweepItem("audit", "failed")
			for _, inv := range res.Invariants {
				if !inv.Passed {
					s.logger.Error("ledger invariant violated",
						"account_id", res.AccountID,
						"invariant", inv.Name,
						"detail", inv.Detail,
					)
				}
			}
		}
	}
	return report
}
