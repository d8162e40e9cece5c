// Package folder provides storage for folders in the items collection.
package folder

import (
	"context"
	"time"

	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/store/storeutil"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store provides access to folder records.
type Store struct {
	c *mongo.Collection
}

// New creates a new folder store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection(items.CollectionName),
	}
}

// CreateInput contains the input for creating a folder.
type CreateInput struct {
	Name        string
	ParentID    *primitive.ObjectID
	Color       string
	OwnerID     primitive.ObjectID
	CreatedByID primitive.ObjectID
}

// Create creates a new folder. A duplicate active sibling fails with a
// duplicate key error from the sibling index, and a missing or trashed
// parent with items.ErrParentInactive.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.Folder, error) {
	if input.ParentID != nil {
		if err := items.ClaimParent(ctx, s.c, *input.ParentID); err != nil {
			return nil, err
		}
	}
	now := time.Now()
	folder := models.Folder{
		Item: models.Item{
			ID:          primitive.NewObjectID(),
			Type:        models.ItemTypeFolder,
			OwnerID:     input.OwnerID,
			CreatedByID: input.CreatedByID,
			Name:        input.Name,
			NameCI:      text.Fold(input.Name),
			ParentID:    input.ParentID,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Color: input.Color,
	}

	if _, err := s.c.InsertOne(ctx, folder); err != nil {
		return nil, err
	}

	return &folder, nil
}

// GetByID retrieves a folder by ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID, vis storeutil.Visibility) (*models.Folder, error) {
	var folder models.Folder
	filter := storeutil.VisibilityFilter(bson.M{"_id": id, "type": models.ItemTypeFolder}, vis)
	if err := s.c.FindOne(ctx, filter).Decode(&folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

// SetColor updates a folder's color label.
func (s *Store) SetColor(ctx context.Context, id primitive.ObjectID, color string) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "type": models.ItemTypeFolder, "is_deleted": false},
		bson.M{"$set": bson.M{"color": color, "updated_at": time.Now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Delete hard-deletes an active folder that has no active children. Returns
// false if the folder is gone, trashed or not empty.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{"parent_id": id, "is_deleted": false}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id, "type": models.ItemTypeFolder, "is_deleted": false})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

// GetAncestors returns all ancestors of a folder, ordered from root to
// immediate parent. Trashed ancestors are included; the chain is structural.
func (s *Store) GetAncestors(ctx context.Context, id primitive.ObjectID) ([]models.Folder, error) {
	folder, err := s.GetByID(ctx, id, storeutil.Any)
	if err != nil {
		return nil, err
	}

	var ancestors []models.Folder
	seen := map[primitive.ObjectID]bool{folder.ID: true}

	currentParentID := folder.ParentID
	for currentParentID != nil {
		if seen[*currentParentID] {
			break
		}
		parent, err := s.GetByID(ctx, *currentParentID, storeutil.Any)
		if err != nil {
			return nil, err
		}
		seen[parent.ID] = true
		ancestors = append([]models.Folder{*parent}, ancestors...)
		currentParentID = parent.ParentID
	}

	return ancestors, nil
}

// GetPath returns the full chain of a folder (ancestors + the folder itself).
func (s *Store) GetPath(ctx context.Context, id primitive.ObjectID) ([]models.Folder, error) {
	folder, err := s.GetByID(ctx, id, storeutil.Any)
	if err != nil {
		return nil, err
	}

	ancestors, err := s.GetAncestors(ctx, id)
	if err != nil {
		return nil, err
	}

	return append(ancestors, *folder), nil
}
