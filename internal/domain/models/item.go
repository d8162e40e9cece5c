package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ItemType discriminates records in the items collection.
type ItemType string

const (
	ItemTypeFile   ItemType = "file"
	ItemTypeFolder ItemType = "folder"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t == ItemTypeFile || t == ItemTypeFolder
}

// PathSeparator joins folder names in a computed path.
const PathSeparator = "/"

// Item holds the fields shared by files and folders. Both live in the same
// collection and embed Item inline.
type Item struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Type        ItemType            `bson:"type" json:"type"`
	OwnerID     primitive.ObjectID  `bson:"owner_id" json:"owner_id"`
	CreatedByID primitive.ObjectID  `bson:"created_by_id" json:"created_by_id"`
	Name        string              `bson:"name" json:"name"`
	NameCI      string              `bson:"name_ci" json:"-"`              // folded for sorting/uniqueness
	ParentID    *primitive.ObjectID `bson:"parent_id" json:"parent_id"`    // nil = root
	CreatedAt   time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `bson:"updated_at" json:"updated_at"`

	// Lifecycle
	IsDeleted   bool                `bson:"is_deleted" json:"is_deleted"`
	DeletedAt   *time.Time          `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	DeletedByID *primitive.ObjectID `bson:"deleted_by_id,omitempty" json:"deleted_by_id,omitempty"`
	// TrashedVia is the id of the item whose trash transition hid this one.
	// Equal to ID when the item itself was trashed.
	TrashedVia *primitive.ObjectID `bson:"trashed_via,omitempty" json:"-"`
}

// IsInRoot returns true if the item is at the root level.
func (i *Item) IsInRoot() bool {
	return i.ParentID == nil
}
