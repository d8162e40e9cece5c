// Package file provides storage for file metadata in the items collection.
package file

import (
	"context"
	"strings"
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

// Store provides access to file records.
type Store struct {
	c *mongo.Collection
}

// New creates a new file store.
func New(db *mongo.Database) *Store {
	return &Store{
		c: db.Collection(items.CollectionName),
	}
}

// CreateInput contains the input for creating a file.
type CreateInput struct {
	ParentID    *primitive.ObjectID
	Name        string
	ContentKey  string
	Size        int64
	ContentType string
	OwnerID     primitive.ObjectID
	CreatedByID primitive.ObjectID
}

// Create creates a new file record. The parent, if any, must be an active
// folder (items.ErrParentInactive); run it in a transaction to keep that
// check atomic with the insert.
func (s *Store) Create(ctx context.Context, input CreateInput) (*models.File, error) {
	if input.ParentID != nil {
		if err := items.ClaimParent(ctx, s.c, *input.ParentID); err != nil {
			return nil, err
		}
	}
	now := time.Now()
	file := models.File{
		Item: models.Item{
			ID:          primitive.NewObjectID(),
			Type:        models.ItemTypeFile,
			OwnerID:     input.OwnerID,
			CreatedByID: input.CreatedByID,
			Name:        input.Name,
			NameCI:      text.Fold(input.Name),
			ParentID:    input.ParentID,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		ContentKey:  input.ContentKey,
		Size:        input.Size,
		ContentType: input.ContentType,
	}

	if _, err := s.c.InsertOne(ctx, file); err != nil {
		return nil, err
	}

	return &file, nil
}

// GetByID retrieves a file by ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID, vis storeutil.Visibility) (*models.File, error) {
	var file models.File
	filter := storeutil.VisibilityFilter(bson.M{"_id": id, "type": models.ItemTypeFile}, vis)
	if err := s.c.FindOne(ctx, filter).Decode(&file); err != nil {
		return nil, err
	}
	return &file, nil
}

// IncrementDownloads bumps the download counter of an active file.
func (s *Store) IncrementDownloads(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "type": models.ItemTypeFile, "is_deleted": false},
		bson.M{"$inc": bson.M{"download_count": 1}})
	return err
}

// SetPublicLink sets or, with a nil token, clears the file's public link.
func (s *Store) SetPublicLink(ctx context.Context, id primitive.ObjectID, token *string) error {
	update := bson.M{"$set": bson.M{"updated_at": time.Now()}}
	if token == nil {
		update["$unset"] = bson.M{"public_link_token": ""}
	} else {
		update["$set"].(bson.M)["public_link_token"] = *token
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id, "type": models.ItemTypeFile, "is_deleted": false}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// GetByPublicLink finds the active file published under token.
func (s *Store) GetByPublicLink(ctx context.Context, token string) (*models.File, error) {
	var file models.File
	filter := storeutil.VisibilityFilter(bson.M{"type": models.ItemTypeFile, "public_link_token": token}, storeutil.Active)
	if err := s.c.FindOne(ctx, filter).Decode(&file); err != nil {
		return nil, err
	}
	return &file, nil
}

// SumSizeByOwner totals the size of every file the owner holds, trashed
// files included since they still occupy storage.
func (s *Store) SumSizeByOwner(ctx context.Context, ownerID primitive.ObjectID) (int64, error) {
	cur, err := s.c.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"owner_id": ownerID, "type": models.ItemTypeFile}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$size"}}}},
	})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)
	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// ListWithLegacyShares returns files that still embed shared_with entries.
func (s *Store) ListWithLegacyShares(ctx context.Context, limit int64) ([]models.File, error) {
	filter := bson.M{"type": models.ItemTypeFile, "shared_with.0": bson.M{"$exists": true}}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var files []models.File
	if err := cur.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// ClearLegacyShares drops the embedded shared_with array.
func (s *Store) ClearLegacyShares(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$unset": bson.M{"shared_with": ""}})
	return err
}

// FileTypeCategory returns a category string for a content type.
func FileTypeCategory(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	case contentType == "application/pdf":
		return "pdf"
	case strings.Contains(contentType, "spreadsheet") || strings.Contains(contentType, "excel"):
		return "spreadsheet"
	case strings.Contains(contentType, "document") || strings.Contains(contentType, "word"):
		return "document"
	case strings.Contains(contentType, "presentation") || strings.Contains(contentType, "powerpoint"):
		return "presentation"
	case strings.Contains(contentType, "zip") || strings.Contains(contentType, "compressed") || strings.Contains(contentType, "archive"):
		return "archive"
	default:
		return "file"
	}
}
