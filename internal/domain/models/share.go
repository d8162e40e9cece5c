package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Permission is a share tier. Tiers are ordered read < write < admin.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// Rank orders permissions; unknown values rank 0 and satisfy nothing.
func (p Permission) Rank() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether p is a known tier.
func (p Permission) Valid() bool {
	return p.Rank() > 0
}

// AtLeast reports whether p meets the required tier.
func (p Permission) AtLeast(required Permission) bool {
	return p.Valid() && p.Rank() >= required.Rank()
}

// ShareGrant gives one account a permission tier on one item. Unique per
// (ItemID, GranteeID). A grant is a weak reference: the item may disappear
// underneath it.
type ShareGrant struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ItemID     primitive.ObjectID `bson:"item_id" json:"item_id"`
	ItemType   ItemType           `bson:"item_type" json:"item_type"`
	OwnerID    primitive.ObjectID `bson:"owner_id" json:"owner_id"`
	GranteeID  primitive.ObjectID `bson:"grantee_id" json:"grantee_id"`
	Permission Permission         `bson:"permission" json:"permission"`
	Active     bool               `bson:"active" json:"active"`
	SharedAt   time.Time          `bson:"shared_at" json:"shared_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
	ExpiresAt  *time.Time         `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// IsLive reports whether the grant is active and unexpired at now.
func (g *ShareGrant) IsLive(now time.Time) bool {
	if !g.Active {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
