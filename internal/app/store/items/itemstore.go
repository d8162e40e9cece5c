// Package items provides the queries that treat files and folders alike:
// mixed listings, subtree walks and lifecycle transitions.
package items

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/dalemusser/stratavault/internal/app/store/storeutil"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName holds files and folders, discriminated by "type".
const CollectionName = "items"

// ErrParentInactive is returned when a new item's parent folder is missing
// or in trash.
var ErrParentInactive = errors.New("parent folder is missing or in trash")

// ClaimParent touches parentID if it is an active folder and fails with
// ErrParentInactive otherwise. Run in the same transaction as a child insert
// or move, the write conflicts with a concurrent trash of the parent, so a
// child never lands under a trashed folder.
func ClaimParent(ctx context.Context, c *mongo.Collection, parentID primitive.ObjectID) error {
	res, err := c.UpdateOne(ctx,
		bson.M{"_id": parentID, "type": models.ItemTypeFolder, "is_deleted": false},
		bson.M{"$set": bson.M{"updated_at": time.Now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrParentInactive
	}
	return nil
}

// Record decodes either kind of item. Type-specific fields are zero for the
// other kind.
type Record struct {
	models.Item `bson:",inline"`

	// file
	ContentKey      string  `bson:"content_key,omitempty" json:"-"`
	Size            int64   `bson:"size,omitempty" json:"size,omitempty"`
	ContentType     string  `bson:"content_type,omitempty" json:"content_type,omitempty"`
	DownloadCount   int64   `bson:"download_count,omitempty" json:"download_count,omitempty"`
	PublicLinkToken *string `bson:"public_link_token,omitempty" json:"-"`

	// folder
	Color string `bson:"color,omitempty" json:"color,omitempty"`
}

// IsFolder reports whether the record is a folder.
func (r *Record) IsFolder() bool { return r.Type == models.ItemTypeFolder }

// File converts the record to a file model.
func (r *Record) File() *models.File {
	return &models.File{
		Item:            r.Item,
		ContentKey:      r.ContentKey,
		Size:            r.Size,
		ContentType:     r.ContentType,
		DownloadCount:   r.DownloadCount,
		PublicLinkToken: r.PublicLinkToken,
	}
}

// Folder converts the record to a folder model.
func (r *Record) Folder() *models.Folder {
	return &models.Folder{Item: r.Item, Color: r.Color}
}

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// Get loads one item of either type.
func (s *Store) Get(ctx context.Context, id primitive.ObjectID, vis storeutil.Visibility) (*Record, error) {
	var r Record
	filter := storeutil.VisibilityFilter(bson.M{"_id": id}, vis)
	if err := s.c.FindOne(ctx, filter).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetMany loads the given ids, in no particular order.
func (s *Store) GetMany(ctx context.Context, ids []primitive.ObjectID, vis storeutil.Visibility) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	filter := storeutil.VisibilityFilter(bson.M{"_id": bson.M{"$in": ids}}, vis)
	return s.find(ctx, filter)
}

// ListOptions narrows and orders a listing. A zero Limit returns everything.
type ListOptions struct {
	Type       models.ItemType // empty = both
	Search     string
	Sort       string // name, created_at, updated_at, size, type
	Order      string // asc, desc
	Visibility storeutil.Visibility
	Limit      int64
	Page       int64 // 1-based
}

func sortField(key string) string {
	switch key {
	case "created_at", "date":
		return "created_at"
	case "updated_at":
		return "updated_at"
	case "size":
		return "size"
	case "type":
		return "type"
	default:
		return "name_ci"
	}
}

func applyListOptions(filter bson.M, opts ListOptions) (bson.M, *options.FindOptions) {
	if opts.Type.Valid() {
		filter["type"] = opts.Type
	}
	if opts.Search != "" {
		filter["name_ci"] = bson.M{"$regex": regexp.QuoteMeta(text.Fold(opts.Search))}
	}
	filter = storeutil.VisibilityFilter(filter, opts.Visibility)

	order := storeutil.SortOrder(opts.Order)
	field := sortField(opts.Sort)
	sort := bson.D{{Key: field, Value: order}}
	if field != "name_ci" {
		sort = append(sort, bson.E{Key: "name_ci", Value: 1})
	}
	sort = append(sort, bson.E{Key: "_id", Value: 1})
	findOpts := options.Find()
	if opts.Limit > 0 {
		findOpts = storeutil.Paginate(opts.Limit, opts.Page)
	}
	return filter, findOpts.SetSort(sort)
}

// ListChildren returns the direct children of parentID.
func (s *Store) ListChildren(ctx context.Context, parentID primitive.ObjectID, opts ListOptions) ([]Record, error) {
	filter, findOpts := applyListOptions(bson.M{"parent_id": parentID}, opts)
	return s.find(ctx, filter, findOpts)
}

// ListRoot returns the owner's root-level items.
func (s *Store) ListRoot(ctx context.Context, ownerID primitive.ObjectID, opts ListOptions) ([]Record, error) {
	filter, findOpts := applyListOptions(bson.M{"owner_id": ownerID, "parent_id": nil}, opts)
	return s.find(ctx, filter, findOpts)
}

// ListTrashRoots returns the owner's items that were trashed directly, most
// recent first.
func (s *Store) ListTrashRoots(ctx context.Context, ownerID primitive.ObjectID, opts ListOptions) ([]Record, error) {
	opts.Visibility = storeutil.Trashed
	filter := bson.M{
		"owner_id": ownerID,
		"$expr":    bson.M{"$eq": bson.A{"$trashed_via", "$_id"}},
	}
	if opts.Sort == "" {
		opts.Sort = "deleted_at"
		opts.Order = "desc"
	}
	filter, findOpts := applyListOptions(filter, opts)
	if opts.Sort == "deleted_at" {
		findOpts.SetSort(bson.D{{Key: "deleted_at", Value: storeutil.SortOrder(opts.Order)}, {Key: "_id", Value: 1}})
	}
	return s.find(ctx, filter, findOpts)
}

// ListTrashed returns every trashed item of the owner, roots and cascaded.
func (s *Store) ListTrashed(ctx context.Context, ownerID primitive.ObjectID) ([]Record, error) {
	filter := storeutil.VisibilityFilter(bson.M{"owner_id": ownerID}, storeutil.Trashed)
	return s.find(ctx, filter)
}

// ListExpiredTrashRoots returns trash roots of any owner deleted before cutoff.
func (s *Store) ListExpiredTrashRoots(ctx context.Context, cutoff time.Time, limit int64) ([]Record, error) {
	filter := storeutil.VisibilityFilter(bson.M{
		"deleted_at": bson.M{"$lt": cutoff},
		"$expr":      bson.M{"$eq": bson.A{"$trashed_via", "$_id"}},
	}, storeutil.Trashed)
	opts := options.Find().SetSort(bson.D{{Key: "deleted_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return s.find(ctx, filter, opts)
}

// ClaimParent is ClaimParent on the items collection.
func (s *Store) ClaimParent(ctx context.Context, parentID primitive.ObjectID) error {
	return ClaimParent(ctx, s.c, parentID)
}

// NameTaken reports whether an active sibling of the given type already uses
// name under parentID (nil for the owner's root).
func (s *Store) NameTaken(ctx context.Context, ownerID primitive.ObjectID, parentID *primitive.ObjectID, typ models.ItemType, name string) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{
		"owner_id":   ownerID,
		"parent_id":  parentID,
		"type":       typ,
		"name_ci":    text.Fold(name),
		"is_deleted": false,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Subtree returns rootID and every item beneath it, in any state, ordered
// breadth-first (parents before their children). The walk is iterative so
// depth is bounded only by the data.
func (s *Store) Subtree(ctx context.Context, rootID primitive.ObjectID) ([]Record, error) {
	root, err := s.Get(ctx, rootID, storeutil.Any)
	if err != nil {
		return nil, err
	}
	out := []Record{*root}
	if !root.IsFolder() {
		return out, nil
	}

	seen := map[primitive.ObjectID]bool{root.ID: true}
	frontier := []primitive.ObjectID{root.ID}
	for len(frontier) > 0 {
		level, err := s.find(ctx,
			storeutil.VisibilityFilter(bson.M{"parent_id": bson.M{"$in": frontier}}, storeutil.Any),
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, r := range level {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
			if r.IsFolder() {
				frontier = append(frontier, r.ID)
			}
		}
	}
	return out, nil
}

// MarkTrashed moves the still-active ids into trash, recording via as the
// item whose transition hid them. Already-trashed ids are left alone, so a
// repeated call changes nothing.
func (s *Store) MarkTrashed(ctx context.Context, ids []primitive.ObjectID, actorID, via primitive.ObjectID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.c.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "is_deleted": false},
		bson.M{"$set": bson.M{
			"is_deleted":    true,
			"deleted_at":    at,
			"deleted_by_id": actorID,
			"trashed_via":   via,
		}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

var clearTrash = bson.M{
	"$set":   bson.M{"is_deleted": false},
	"$unset": bson.M{"deleted_at": "", "deleted_by_id": "", "trashed_via": ""},
}

// RestoreRoot restores a trashed item, optionally re-attaching it to a new
// parent. Returns false if the item was not in trash.
func (s *Store) RestoreRoot(ctx context.Context, id primitive.ObjectID, reattach bool, parentID *primitive.ObjectID) (bool, error) {
	update := bson.M{
		"$set":   bson.M{"is_deleted": false},
		"$unset": clearTrash["$unset"],
	}
	if reattach {
		update["$set"].(bson.M)["parent_id"] = parentID
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id, "is_deleted": true}, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// RestoreVia restores every trashed item in ids that was hidden by via.
func (s *Store) RestoreVia(ctx context.Context, ids []primitive.ObjectID, via primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.c.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "is_deleted": true, "trashed_via": via},
		clearTrash)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// DeleteTrashed removes one trashed record. Returns false if it was already
// gone or is active again, which lets concurrent purges agree on who freed
// the bytes and keeps a purge from touching a restored item.
func (s *Store) DeleteTrashed(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id, "is_deleted": true})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

// Rename changes an item's display name.
func (s *Store) Rename(ctx context.Context, id primitive.ObjectID, name string) error {
	return s.update(ctx, bson.M{"_id": id, "is_deleted": false}, bson.M{
		"name":    name,
		"name_ci": text.Fold(name),
	})
}

// Move re-parents an active item. A nil parentID moves it to the root;
// otherwise the new parent must be an active folder.
func (s *Store) Move(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error {
	if parentID != nil {
		if err := ClaimParent(ctx, s.c, *parentID); err != nil {
			return err
		}
	}
	return s.update(ctx, bson.M{"_id": id, "is_deleted": false}, bson.M{"parent_id": parentID})
}

func (s *Store) update(ctx context.Context, filter, set bson.M) error {
	set["updated_at"] = time.Now()
	res, err := s.c.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// Exists reports which of ids still have a record, in any state.
func (s *Store) Exists(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]bool, error) {
	found := make(map[primitive.ObjectID]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		found[row.ID] = true
	}
	return found, cur.Err()
}

func (s *Store) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]Record, error) {
	cur, err := s.c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
