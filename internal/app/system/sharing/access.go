package sharing

import (
	"github.com/dalemusser/stratavault/internal/app/store/file"
	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Access is what one account may do with one item.
type Access struct {
	Owner bool
	// Level is the effective tier. Owners get admin; no access is "".
	Level models.Permission
	// GrantID and ViaItemID identify the grant that applies, when the caller
	// is not the owner. ViaItemID differs from the item for inherited access.
	GrantID   *primitive.ObjectID
	ViaItemID *primitive.ObjectID
}

// None reports whether the account has no access at all.
func (a Access) None() bool {
	return !a.Owner && !a.Level.Valid()
}

// Allows reports whether the access meets the required tier.
func (a Access) Allows(required models.Permission) bool {
	return a.Owner || a.Level.AtLeast(required)
}

// CanManageShares reports whether the account may grant, change and revoke
// shares: owners and admin-tier grantees.
func (a Access) CanManageShares() bool {
	return a.Allows(models.PermissionAdmin)
}

// Entry is an item as seen by a particular account.
type Entry struct {
	items.Record
	Permission models.Permission `json:"permission"`
	Owned      bool              `json:"owned"`
	CanShare   bool              `json:"can_share"`
	// Category groups files by content type for icons and filters.
	Category string `json:"category,omitempty"`
}

func newEntry(r items.Record, a Access) Entry {
	e := Entry{Record: r, Permission: a.Level, Owned: a.Owner, CanShare: a.CanManageShares()}
	if r.Type == models.ItemTypeFile {
		e.Category = file.FileTypeCategory(r.ContentType)
	}
	return e
}
