// Package migrate upgrades stored data written by earlier releases.
//
// Migrations run from EnsureSchema on every start and must be idempotent:
// each one selects only records still in the old shape.
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/dalemusser/stratavault/internal/app/store/file"
	sharestore "github.com/dalemusser/stratavault/internal/app/store/shares"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const legacyBatch = 200

// RunAll applies every migration in order.
func RunAll(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	n, err := LegacyShares(ctx, db, logger)
	if err != nil {
		return fmt.Errorf("migrate legacy shares: %w", err)
	}
	if n > 0 {
		logger.Info("migrated legacy file shares", zap.Int("files", n))
	}
	return nil
}

// LegacyShares moves the shared_with entries older file records embed into
// share_grants and removes them from the file. An existing grant for the
// same grantee is left as it is. Returns the number of files migrated.
func LegacyShares(ctx context.Context, db *mongo.Database, logger *zap.Logger) (int, error) {
	files := file.New(db)
	grants := sharestore.New(db)

	migrated := 0
	for {
		batch, err := files.ListWithLegacyShares(ctx, legacyBatch)
		if err != nil {
			return migrated, err
		}
		if len(batch) == 0 {
			return migrated, nil
		}
		for _, f := range batch {
			if err := ctx.Err(); err != nil {
				return migrated, err
			}
			for _, ls := range f.LegacyShares {
				if ls.AccountID.IsZero() || ls.AccountID == f.OwnerID {
					continue
				}
				perm := ls.Permission
				if !perm.Valid() {
					perm = models.PermissionRead
				}
				existing, err := grants.FindLive(ctx, ls.AccountID, []primitive.ObjectID{f.ID}, time.Now())
				if err != nil {
					return migrated, err
				}
				if len(existing) > 0 {
					continue
				}
				if _, err := grants.Upsert(ctx, sharestore.UpsertInput{
					ItemID:     f.ID,
					ItemType:   models.ItemTypeFile,
					OwnerID:    f.OwnerID,
					GranteeID:  ls.AccountID,
					Permission: perm,
					SharedAt:   ls.SharedAt,
				}); err != nil {
					return migrated, err
				}
			}
			if err := files.ClearLegacyShares(ctx, f.ID); err != nil {
				return migrated, err
			}
			logger.Debug("legacy shares migrated",
				zap.String("file_id", f.ID.Hex()),
				zap.Int("entries", len(f.LegacyShares)))
			migrated++
		}
	}
}
