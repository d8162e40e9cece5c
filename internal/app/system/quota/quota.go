// Package quota is the ledger that admits or rejects byte reservations
// against an account's storage quota.
//
// Reserve and Release are single conditional updates on the account record,
// so the ledger needs no in-process locking and is correct across instances.
package quota

import (
	"context"
	"errors"
	"math"
	"strings"

	accountstore "github.com/dalemusser/stratavault/internal/app/store/accounts"
	"github.com/dalemusser/stratavault/internal/app/store/file"
	"github.com/dalemusser/stratavault/internal/app/system/metrics"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dustin/go-humanize"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Ledger tracks storage usage per account.
type Ledger struct {
	accounts *accountstore.Store
	files    *file.Store
	metrics  *metrics.Metrics
	log      *zap.Logger

	// beforeAdjust runs between reading usage and writing the correction.
	beforeAdjust func()
}

// New creates a Ledger over db.
func New(db *mongo.Database, m *metrics.Metrics, log *zap.Logger) *Ledger {
	return &Ledger{
		accounts: accountstore.New(db),
		files:    file.New(db),
		metrics:  m,
		log:      log,
	}
}

// Usage is a snapshot of an account's storage.
type Usage struct {
	QuotaBytes     int64   `json:"quota_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	PercentUsed    float64 `json:"percent_used"`
	QuotaHuman     string  `json:"quota_human"`
	UsedHuman      string  `json:"used_human"`
}

// UsageOf summarizes a loaded account without touching the database.
func UsageOf(a *models.Account) Usage {
	avail := a.StorageQuotaBytes - a.StorageUsedBytes
	if avail < 0 {
		avail = 0
	}
	var pct float64
	if a.StorageQuotaBytes > 0 {
		pct = float64(a.StorageUsedBytes) / float64(a.StorageQuotaBytes) * 100
	}
	return Usage{
		QuotaBytes:     a.StorageQuotaBytes,
		UsedBytes:      a.StorageUsedBytes,
		AvailableBytes: avail,
		PercentUsed:    pct,
		QuotaHuman:     humanize.IBytes(uint64(a.StorageQuotaBytes)),
		UsedHuman:      humanize.IBytes(uint64(a.StorageUsedBytes)),
	}
}

// Reserve claims bytes against the account's quota. It fails with
// QuotaExceeded when used+bytes would pass the quota, and nothing changes.
func (l *Ledger) Reserve(ctx context.Context, accountID primitive.ObjectID, bytes int64) error {
	if bytes < 0 {
		return apperr.Invalid("reservation must not be negative")
	}
	ok, err := l.accounts.Reserve(ctx, accountID, bytes)
	if err != nil {
		l.metrics.Reservation("error")
		return apperr.Internal(err, "reserve quota")
	}
	if ok {
		l.metrics.Reservation("ok")
		return nil
	}

	// Distinguish a full quota from a missing or disabled account.
	a, err := l.accounts.GetByID(ctx, accountID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		l.metrics.Reservation("not_found")
		return apperr.NotFound("account not found")
	}
	if err != nil {
		l.metrics.Reservation("error")
		return apperr.Internal(err, "load account")
	}
	if !a.IsActive() {
		l.metrics.Reservation("forbidden")
		return apperr.Forbidden("account is disabled")
	}
	l.metrics.Reservation("exceeded")
	l.log.Info("quota exceeded",
		zap.String("account_id", accountID.Hex()),
		zap.Int64("requested", bytes),
		zap.Int64("used", a.StorageUsedBytes),
		zap.Int64("quota", a.StorageQuotaBytes))
	return apperr.New(apperr.KindQuotaExceeded, "storage quota exceeded: %s requested, %s available",
		humanize.IBytes(uint64(bytes)), humanize.IBytes(uint64(UsageOf(a).AvailableBytes)))
}

// Release returns bytes to the account. Usage never drops below zero.
func (l *Ledger) Release(ctx context.Context, accountID primitive.ObjectID, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	if err := l.accounts.Release(ctx, accountID, bytes); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperr.NotFound("account not found")
		}
		return apperr.Internal(err, "release quota")
	}
	l.metrics.Released(bytes)
	return nil
}

// Usage reports the account's current quota and usage.
func (l *Ledger) Usage(ctx context.Context, accountID primitive.ObjectID) (Usage, error) {
	a, err := l.accounts.GetByID(ctx, accountID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Usage{}, apperr.NotFound("account not found")
	}
	if err != nil {
		return Usage{}, apperr.Internal(err, "load account")
	}
	return UsageOf(a), nil
}

// SetQuota changes an account's quota.
func (l *Ledger) SetQuota(ctx context.Context, accountID primitive.ObjectID, bytes int64) error {
	if bytes < 0 {
		return apperr.Invalid("quota must not be negative")
	}
	err := l.accounts.SetQuota(ctx, accountID, bytes)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.NotFound("account not found")
	}
	if err != nil {
		return apperr.Internal(err, "set quota")
	}
	l.log.Info("quota changed",
		zap.String("account_id", accountID.Hex()),
		zap.String("quota", humanize.IBytes(uint64(bytes))))
	return nil
}

// reconcileAttempts bounds how often Reconcile retries when usage keeps
// moving under it.
const reconcileAttempts = 5

// Reconcile recomputes the account's usage from the sizes of the files it
// owns and moves the cached counter to match. Returns the previous and new
// values. The correction is applied as a delta guarded on the value it was
// computed from, so reservations and releases that land meanwhile are kept.
// Bytes reserved for an upload that has no record yet count as drift.
func (l *Ledger) Reconcile(ctx context.Context, accountID primitive.ObjectID) (before, after int64, err error) {
	for attempt := 0; attempt < reconcileAttempts; attempt++ {
		a, err := l.accounts.GetByID(ctx, accountID)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, 0, apperr.NotFound("account not found")
		}
		if err != nil {
			return 0, 0, apperr.Internal(err, "load account")
		}
		total, err := l.files.SumSizeByOwner(ctx, accountID)
		if err != nil {
			return 0, 0, apperr.Internal(err, "sum file sizes")
		}
		observed := a.StorageUsedBytes
		if total == observed {
			return total, total, nil
		}
		if l.beforeAdjust != nil {
			l.beforeAdjust()
		}
		ok, err := l.accounts.AdjustUsed(ctx, accountID, observed, total-observed)
		if err != nil {
			return 0, 0, apperr.Internal(err, "store usage")
		}
		if !ok {
			continue
		}
		l.log.Warn("quota usage drift corrected",
			zap.String("account_id", accountID.Hex()),
			zap.Int64("cached", observed),
			zap.Int64("actual", total))
		return observed, total, nil
	}
	return 0, 0, apperr.Conflict("usage kept changing during reconcile; try again")
}

// ReconcileAll reconciles every account and returns how many were corrected.
func (l *Ledger) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := l.accounts.ListIDs(ctx)
	if err != nil {
		return 0, apperr.Internal(err, "list accounts")
	}
	fixed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fixed, err
		}
		before, after, err := l.Reconcile(ctx, id)
		if err != nil {
			l.log.Warn("reconcile failed", zap.String("account_id", id.Hex()), zap.Error(err))
			continue
		}
		if before != after {
			fixed++
		}
	}
	return fixed, nil
}

// ParseSize reads a size such as "5GB", "512 MiB" or "1048576".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, apperr.Invalid("size is required")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, apperr.Invalid("invalid size %q", s)
	}
	if n > math.MaxInt64 {
		return 0, apperr.Invalid("size %q is too large", s)
	}
	return int64(n), nil
}
