// Package events delivers best-effort live-update hints to connected clients.
//
// Events tell a client that a scope changed so it can refetch; they are not
// a durable log and are never replayed. A scope is either a folder
// ("folder:<id>") or an account's root listing ("root:<accountId>").
package events

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Event names.
const (
	FolderCreated = "folder.created"
	FileCreated   = "file.created"
	ItemRenamed   = "item.renamed"
	ItemMoved     = "item.moved"
	ItemTrashed   = "item.trashed"
	ItemRestored  = "item.restored"
	ItemPurged    = "item.purged"
	ItemDeleted   = "item.deleted"
	ShareChanged  = "share.changed"
)

// Event is the envelope sent to subscribers.
type Event struct {
	Scope   string    `json:"scope"`
	Name    string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher emits events. Implementations must not block the caller on slow
// consumers and must not fail the operation that emitted the event.
type Publisher interface {
	Publish(ctx context.Context, scope, name string, payload any)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) {}

// FolderScope is the scope for changes inside a folder.
func FolderScope(id primitive.ObjectID) string {
	return "folder:" + id.Hex()
}

// RootScope is the scope for changes at an account's root.
func RootScope(ownerID primitive.ObjectID) string {
	return "root:" + ownerID.Hex()
}

// ParentScope picks the scope an item's listing lives in.
func ParentScope(ownerID primitive.ObjectID, parentID *primitive.ObjectID) string {
	if parentID == nil {
		return RootScope(ownerID)
	}
	return FolderScope(*parentID)
}
