// internal/app/store/shares/sharestore.go
package sharestore

import (
	"context"
	"time"

	"github.com/dalemusser/stratavault/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName holds one grant per (item, grantee).
const CollectionName = "share_grants"

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// UpsertInput describes a grant to create or replace.
type UpsertInput struct {
	ItemID     primitive.ObjectID
	ItemType   models.ItemType
	OwnerID    primitive.ObjectID
	GranteeID  primitive.ObjectID
	Permission models.Permission
	ExpiresAt  *time.Time
	SharedAt   time.Time // zero means now; only used when the grant is new
}

// Upsert creates the grant for (item, grantee) or updates its permission in
// place. The unique index on (item_id, grantee_id) makes concurrent grants
// converge on one record.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (*models.ShareGrant, error) {
	now := time.Now()
	sharedAt := in.SharedAt
	if sharedAt.IsZero() {
		sharedAt = now
	}
	set := bson.M{
		"item_type":  in.ItemType,
		"owner_id":   in.OwnerID,
		"permission": in.Permission,
		"active":     true,
		"updated_at": now,
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"_id": primitive.NewObjectID(), "shared_at": sharedAt},
	}
	if in.ExpiresAt != nil {
		set["expires_at"] = *in.ExpiresAt
	} else {
		update["$unset"] = bson.M{"expires_at": ""}
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var g models.ShareGrant
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"item_id": in.ItemID, "grantee_id": in.GranteeID},
		update, opts).Decode(&g)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetByID loads a grant.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.ShareGrant, error) {
	var g models.ShareGrant
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListByItem returns all grants on an item, oldest first.
func (s *Store) ListByItem(ctx context.Context, itemID primitive.ObjectID) ([]models.ShareGrant, error) {
	return s.find(ctx, bson.M{"item_id": itemID}, options.Find().SetSort(bson.D{{Key: "shared_at", Value: 1}}))
}

func liveFilter(now time.Time) bson.M {
	return bson.M{
		"active": true,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gt": now}},
		},
	}
}

// ListLiveForGrantee returns the grantee's active, unexpired grants, newest
// first. An empty itemType returns both kinds.
func (s *Store) ListLiveForGrantee(ctx context.Context, granteeID primitive.ObjectID, itemType models.ItemType, now time.Time) ([]models.ShareGrant, error) {
	filter := liveFilter(now)
	filter["grantee_id"] = granteeID
	if itemType.Valid() {
		filter["item_type"] = itemType
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "shared_at", Value: -1}}))
}

// FindLive returns the grantee's live grants on any of itemIDs.
func (s *Store) FindLive(ctx context.Context, granteeID primitive.ObjectID, itemIDs []primitive.ObjectID, now time.Time) ([]models.ShareGrant, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	filter := liveFilter(now)
	filter["grantee_id"] = granteeID
	filter["item_id"] = bson.M{"$in": itemIDs}
	return s.find(ctx, filter)
}

// UpdatePermission changes a grant's tier.
func (s *Store) UpdatePermission(ctx context.Context, id primitive.ObjectID, perm models.Permission) (*models.ShareGrant, error) {
	var g models.ShareGrant
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"permission": perm, "updated_at": time.Now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&g)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Delete removes a grant. Returns mongo.ErrNoDocuments if it did not exist.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DeleteByItems removes every grant on itemIDs.
func (s *Store) DeleteByItems(ctx context.Context, itemIDs []primitive.ObjectID) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	res, err := s.c.DeleteMany(ctx, bson.M{"item_id": bson.M{"$in": itemIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DistinctItemIDs returns every item id that has at least one grant.
func (s *Store) DistinctItemIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	vals, err := s.c.Distinct(ctx, "item_id", bson.M{})
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(vals))
	for _, v := range vals {
		if id, ok := v.(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.ShareGrant, error) {
	cur, err := s.c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.ShareGrant
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
