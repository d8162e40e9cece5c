package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/stratavault/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// CreateAccount inserts an active user account with the given quota.
func CreateAccount(t *testing.T, db *mongo.Database, name string, quotaBytes int64) models.Account {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	a := models.Account{
		ID:                primitive.NewObjectID(),
		Email:             strings.ToLower(name) + "@example.com",
		FullName:          name,
		Role:              models.RoleUser,
		Status:            models.StatusActive,
		StorageQuotaBytes: quotaBytes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.Collection("accounts").InsertOne(ctx, a); err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a
}
