// internal/app/store/accounts/accountstore.go
package accountstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/stratavault/internal/app/system/normalize"
	"github.com/dalemusser/stratavault/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the accounts collection.
const CollectionName = "accounts"

var (
	// ErrDuplicateEmail is returned when an account with the email already exists.
	ErrDuplicateEmail = errors.New("an account with this email already exists")
	errBadRole        = errors.New("invalid role")
	errBadStatus      = errors.New(`status must be "active"|"disabled"`)
	errBadQuota       = errors.New("quota must not be negative")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// CreateInput holds the fields for a new account.
type CreateInput struct {
	Email      string
	FullName   string
	Role       string
	QuotaBytes int64
}

// Create inserts a new active account with zero usage.
func (s *Store) Create(ctx context.Context, input CreateInput) (models.Account, error) {
	role := normalize.Role(input.Role)
	if role == "" {
		role = models.RoleUser
	}
	if !models.IsValidRole(role) {
		return models.Account{}, errBadRole
	}
	if input.QuotaBytes < 0 {
		return models.Account{}, errBadQuota
	}

	now := time.Now()
	a := models.Account{
		ID:                primitive.NewObjectID(),
		Email:             normalize.Email(input.Email),
		FullName:          normalize.Name(input.FullName),
		Role:              role,
		Status:            models.StatusActive,
		StorageQuotaBytes: input.QuotaBytes,
		StorageUsedBytes:  0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := s.c.InsertOne(ctx, a); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Account{}, ErrDuplicateEmail
		}
		return models.Account{}, err
	}
	return a, nil
}

// GetByID loads an account. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	var a models.Account
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByEmail loads an account by its lowercase email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	if err := s.c.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByIDs loads multiple accounts.
func (s *Store) GetByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.Account
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns accounts sorted by email.
func (s *Store) List(ctx context.Context, limit, page int64) ([]models.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "email", Value: 1}})
	if limit > 0 {
		if page <= 0 {
			page = 1
		}
		opts.SetLimit(limit).SetSkip((page - 1) * limit)
	}
	cur, err := s.c.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.Account
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListIDs returns the ids of every account.
func (s *Store) ListIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cur.Err()
}

// Reserve adds bytes to the account's usage if, and only if, the result stays
// within quota and the account is active. The check and the increment are one
// conditional update, so concurrent reservations cannot overshoot.
// Returns false when the condition did not match.
func (s *Store) Reserve(ctx context.Context, id primitive.ObjectID, bytes int64) (bool, error) {
	filter := bson.M{
		"_id":    id,
		"status": models.StatusActive,
		"$expr": bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{"$storage_used_bytes", bytes}},
			"$storage_quota_bytes",
		}},
	}
	res, err := s.c.UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{"storage_used_bytes": bytes},
		"$set": bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// Release subtracts bytes from usage, clamping at zero.
// Returns mongo.ErrNoDocuments if the account does not exist.
func (s *Store) Release(ctx context.Context, id primitive.ObjectID, bytes int64) error {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"storage_used_bytes": bson.M{"$max": bson.A{
				0,
				bson.M{"$subtract": bson.A{"$storage_used_bytes", bytes}},
			}},
			"updated_at": time.Now(),
		}}},
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, pipeline)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (s *Store) setFields(ctx context.Context, id primitive.ObjectID, set bson.M) error {
	set["updated_at"] = time.Now()
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SetQuota replaces the account's quota. Usage is left untouched even when it
// now exceeds the quota; further reservations simply fail.
func (s *Store) SetQuota(ctx context.Context, id primitive.ObjectID, bytes int64) error {
	if bytes < 0 {
		return errBadQuota
	}
	return s.setFields(ctx, id, bson.M{"storage_quota_bytes": bytes})
}

// AdjustUsed adds delta to the usage counter only while it still equals
// observed. Reserve and Release applied since observed was read make it
// return false without writing.
func (s *Store) AdjustUsed(ctx context.Context, id primitive.ObjectID, observed, delta int64) (bool, error) {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id, "storage_used_bytes": observed}, bson.M{
		"$inc": bson.M{"storage_used_bytes": delta},
		"$set": bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// SetStatus enables or disables an account.
func (s *Store) SetStatus(ctx context.Context, id primitive.ObjectID, status string) error {
	status = normalize.Status(status)
	if !models.IsValidStatus(status) {
		return errBadStatus
	}
	return s.setFields(ctx, id, bson.M{"status": status})
}

// SetRole changes the account's role.
func (s *Store) SetRole(ctx context.Context, id primitive.ObjectID, role string) error {
	role = normalize.Role(role)
	if !models.IsValidRole(role) {
		return errBadRole
	}
	return s.setFields(ctx, id, bson.M{"role": role})
}

// Count returns the number of accounts matching filter.
func (s *Store) Count(ctx context.Context, filter bson.M) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	return s.c.CountDocuments(ctx, filter)
}
