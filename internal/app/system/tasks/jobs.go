package tasks

import (
	"context"
	"time"

	"github.com/dalemusser/stratavault/internal/app/system/lifecycle"
	"go.uber.org/zap"
)

// Job names.
const (
	TrashSweepJobName     = "trash-retention-sweep"
	GrantReaperJobName    = "dangling-grant-reaper"
	QuotaReconcileJobName = "quota-reconcile"
)

// TrashSweeper purges trash older than a retention period.
type TrashSweeper interface {
	SweepExpired(ctx context.Context, retention time.Duration) (lifecycle.PurgeResult, error)
}

// GrantReaper deletes grants whose item is gone.
type GrantReaper interface {
	ReapDangling(ctx context.Context) (int64, error)
}

// QuotaReconciler recomputes stored usage from file sizes.
type QuotaReconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
}

// TrashSweepJob purges trashed items once they are older than retention.
func TrashSweepJob(s TrashSweeper, retention, interval time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     TrashSweepJobName,
		Interval: interval,
		Run: func(ctx context.Context) error {
			res, err := s.SweepExpired(ctx, retention)
			if err != nil {
				return err
			}
			if res.Items > 0 {
				logger.Info("trash retention sweep",
					zap.Int64("items", res.Items),
					zap.Int64("files", res.Files),
					zap.Int64("released_bytes", res.ReleasedBytes))
			}
			return nil
		},
	}
}

// GrantReaperJob removes grants left behind by items that no longer exist.
func GrantReaperJob(g GrantReaper, interval time.Duration) Job {
	return Job{
		Name:     GrantReaperJobName,
		Interval: interval,
		Delay:    time.Minute,
		Run: func(ctx context.Context) error {
			_, err := g.ReapDangling(ctx)
			return err
		},
	}
}

// QuotaReconcileJob corrects stored usage that drifted from the sum of file
// sizes, for example after a release failed mid-purge.
func QuotaReconcileJob(q QuotaReconciler, interval time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     QuotaReconcileJobName,
		Interval: interval,
		Delay:    5 * time.Minute,
		Run: func(ctx context.Context) error {
			fixed, err := q.ReconcileAll(ctx)
			if err != nil {
				return err
			}
			if fixed > 0 {
				logger.Info("quota usage reconciled", zap.Int("accounts", fixed))
			}
			return nil
		},
	}
}
