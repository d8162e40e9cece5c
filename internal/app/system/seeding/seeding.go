// Package seeding creates the initial data a fresh deployment needs.
package seeding

import (
	"context"
	"errors"

	accountstore "github.com/dalemusser/stratavault/internal/app/store/accounts"
	"github.com/dalemusser/stratavault/internal/app/system/normalize"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dustin/go-humanize"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Options controls what gets seeded.
type Options struct {
	AdminEmail string // no admin is seeded when empty
	AdminName  string
	AdminQuota int64
}

// SeedAll seeds default data if not already present.
func SeedAll(ctx context.Context, db *mongo.Database, opts Options, logger *zap.Logger) error {
	return seedAdmin(ctx, db, opts, logger)
}

// seedAdmin creates the configured admin account. An existing account with
// that email is promoted to admin but otherwise left untouched.
func seedAdmin(ctx context.Context, db *mongo.Database, opts Options, logger *zap.Logger) error {
	email := normalize.Email(opts.AdminEmail)
	if email == "" {
		return nil
	}
	store := accountstore.New(db)

	existing, err := store.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role == models.RoleAdmin {
			return nil
		}
		if err := store.SetRole(ctx, existing.ID, models.RoleAdmin); err != nil {
			logger.Error("failed to promote seed admin", zap.String("email", email), zap.Error(err))
			return err
		}
		logger.Info("promoted existing account to admin", zap.String("email", email))
		return nil
	case !errors.Is(err, mongo.ErrNoDocuments):
		logger.Error("failed to look up seed admin", zap.String("email", email), zap.Error(err))
		return err
	}

	a, err := store.Create(ctx, accountstore.CreateInput{
		Email:      email,
		FullName:   opts.AdminName,
		Role:       models.RoleAdmin,
		QuotaBytes: opts.AdminQuota,
	})
	if err != nil {
		if errors.Is(err, accountstore.ErrDuplicateEmail) {
			// Another instance seeded it first.
			return nil
		}
		logger.Error("failed to seed admin", zap.String("email", email), zap.Error(err))
		return err
	}
	logger.Info("seeded admin account",
		zap.String("email", email),
		zap.String("account_id", a.ID.Hex()),
		zap.String("quota", humanize.IBytes(uint64(a.StorageQuotaBytes))))
	return nil
}
