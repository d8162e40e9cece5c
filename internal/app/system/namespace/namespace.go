// Package namespace manages the folder tree: creating folders, listing,
// renaming, moving and path resolution.
//
// Paths are never stored. A folder's path is computed on demand from the
// parent chain, so renames and moves touch exactly one record.
package namespace

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/stratavault/internal/app/store/folder"
	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/store/storeutil"
	"github.com/dalemusser/stratavault/internal/app/system/events"
	"github.com/dalemusser/stratavault/internal/app/system/inputval"
	"github.com/dalemusser/stratavault/internal/app/system/names"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/app/system/txn"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Manager implements the namespace operations.
type Manager struct {
	db      *mongo.Database
	items   *items.Store
	folders *folder.Store
	access  *sharing.Resolver
	events  events.Publisher
	log     *zap.Logger
}

// New creates a Manager. pub may be nil.
func New(db *mongo.Database, access *sharing.Resolver, pub events.Publisher, log *zap.Logger) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{
		db:      db,
		items:   items.New(db),
		folders: folder.New(db),
		access:  access,
		events:  pub,
		log:     log,
	}
}

// CreateFolderInput describes a new folder. A nil ParentID creates it at the
// actor's root.
type CreateFolderInput struct {
	Name     string
	ParentID *primitive.ObjectID
	Color    string
}

// CreateFolder creates a folder. Inside another folder the actor needs write
// access, and the new folder belongs to the parent's owner.
func (m *Manager) CreateFolder(ctx context.Context, actorID primitive.ObjectID, in CreateFolderInput) (*models.Folder, error) {
	name, err := names.Validate(in.Name)
	if err != nil {
		return nil, err
	}
	if in.Color != "" && !inputval.IsValidColor(in.Color) {
		return nil, apperr.Invalid("color must be a hex value like #4a90d9")
	}

	ownerID := actorID
	parentPath := ""
	if in.ParentID != nil {
		parent, _, err := m.access.Require(ctx, actorID, *in.ParentID, models.PermissionWrite)
		if err != nil {
			return nil, err
		}
		if !parent.IsFolder() {
			return nil, apperr.NotFound("folder not found")
		}
		ownerID = parent.OwnerID
		if parentPath, _, err = m.Path(ctx, actorID, parent.ID); err != nil {
			return nil, err
		}
	}

	var f *models.Folder
	err = txn.Run(ctx, m.db, m.log, func(ctx context.Context) error {
		var err error
		f, err = m.folders.Create(ctx, folder.CreateInput{
			Name:        name,
			ParentID:    in.ParentID,
			Color:       in.Color,
			OwnerID:     ownerID,
			CreatedByID: actorID,
		})
		return err
	})
	switch {
	case storeutil.IsDuplicateKey(err):
		return nil, apperr.Conflict("a folder named %q already exists here", name)
	case errors.Is(err, items.ErrParentInactive):
		return nil, apperr.NotFound("folder not found")
	case err != nil:
		return nil, apperr.Internal(err, "create folder")
	}
	f.Path = parentPath + models.PathSeparator + f.Name

	m.log.Info("folder created",
		zap.String("folder_id", f.ID.Hex()),
		zap.String("owner_id", ownerID.Hex()),
		zap.String("actor_id", actorID.Hex()))
	m.events.Publish(ctx, events.ParentScope(ownerID, in.ParentID), events.FolderCreated, map[string]any{
		"id": f.ID.Hex(), "name": f.Name,
	})
	return f, nil
}

// Get returns one active item as seen by the actor.
func (m *Manager) Get(ctx context.Context, actorID, itemID primitive.ObjectID) (*sharing.Entry, error) {
	rec, acc, err := m.access.Require(ctx, actorID, itemID, models.PermissionRead)
	if err != nil {
		return nil, err
	}
	e := sharing.EntryFor(*rec, acc)
	return &e, nil
}

// ListChildren lists the active items directly under parentID, or the
// actor's own root when parentID is nil.
func (m *Manager) ListChildren(ctx context.Context, actorID primitive.ObjectID, parentID *primitive.ObjectID, opts items.ListOptions) ([]sharing.Entry, error) {
	opts.Visibility = storeutil.Active
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, apperr.Invalid("type must be file or folder")
	}

	if parentID == nil {
		recs, err := m.items.ListRoot(ctx, actorID, opts)
		if err != nil {
			return nil, apperr.Internal(err, "list root")
		}
		owner := sharing.Access{Owner: true, Level: models.PermissionAdmin}
		out := make([]sharing.Entry, 0, len(recs))
		for _, r := range recs {
			out = append(out, sharing.EntryFor(r, owner))
		}
		return out, nil
	}

	parent, acc, err := m.access.Require(ctx, actorID, *parentID, models.PermissionRead)
	if err != nil {
		return nil, err
	}
	if !parent.IsFolder() {
		return nil, apperr.NotFound("folder not found")
	}
	recs, err := m.items.ListChildren(ctx, *parentID, opts)
	if err != nil {
		return nil, apperr.Internal(err, "list children")
	}
	out := make([]sharing.Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, sharing.EntryFor(r, acc))
	}
	return out, nil
}

// Rename changes an item's name. Nothing else is touched.
func (m *Manager) Rename(ctx context.Context, actorID, itemID primitive.ObjectID, newName string) (*items.Record, error) {
	name, err := names.Validate(newName)
	if err != nil {
		return nil, err
	}
	rec, _, err := m.access.Require(ctx, actorID, itemID, models.PermissionWrite)
	if err != nil {
		return nil, err
	}
	if rec.Name == name {
		return rec, nil
	}

	if err := m.items.Rename(ctx, itemID, name); err != nil {
		switch {
		case storeutil.IsDuplicateKey(err):
			return nil, apperr.Conflict("a %s named %q already exists here", rec.Type, name)
		case errors.Is(err, mongo.ErrNoDocuments):
			return nil, apperr.NotFound("item not found")
		}
		return nil, apperr.Internal(err, "rename item")
	}

	m.log.Info("item renamed",
		zap.String("item_id", itemID.Hex()),
		zap.String("actor_id", actorID.Hex()))
	m.events.Publish(ctx, events.ParentScope(rec.OwnerID, rec.ParentID), events.ItemRenamed, map[string]any{
		"id": itemID.Hex(), "name": name,
	})
	return m.reload(ctx, itemID)
}

// Move re-parents an item within its owner's tree. A nil newParentID moves it
// to the root. Only the owner may move, and a folder cannot move beneath
// itself.
func (m *Manager) Move(ctx context.Context, actorID, itemID primitive.ObjectID, newParentID *primitive.ObjectID) (*items.Record, error) {
	rec, err := m.access.RequireOwner(ctx, actorID, itemID, storeutil.Active)
	if err != nil {
		return nil, err
	}
	if sameParent(rec.ParentID, newParentID) {
		return rec, nil
	}

	if newParentID != nil {
		if *newParentID == itemID {
			return nil, apperr.Invalid("cannot move an item into itself")
		}
		target, err := m.folders.GetByID(ctx, *newParentID, storeutil.Active)
		if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && target.OwnerID != rec.OwnerID) {
			return nil, apperr.NotFound("destination folder not found")
		}
		if err != nil {
			return nil, apperr.Internal(err, "load destination")
		}
		if rec.IsFolder() {
			ancestors, err := m.folders.GetAncestors(ctx, target.ID)
			if err != nil {
				return nil, apperr.Internal(err, "load destination path")
			}
			for _, a := range ancestors {
				if a.ID == itemID {
					return nil, apperr.Invalid("cannot move a folder into its own subfolder")
				}
			}
		}
	}

	err = txn.Run(ctx, m.db, m.log, func(ctx context.Context) error {
		return m.items.Move(ctx, itemID, newParentID)
	})
	if err != nil {
		switch {
		case storeutil.IsDuplicateKey(err):
			return nil, apperr.Conflict("a %s named %q already exists there", rec.Type, rec.Name)
		case errors.Is(err, items.ErrParentInactive):
			return nil, apperr.NotFound("destination folder not found")
		case errors.Is(err, mongo.ErrNoDocuments):
			return nil, apperr.NotFound("item not found")
		}
		return nil, apperr.Internal(err, "move item")
	}

	m.log.Info("item moved",
		zap.String("item_id", itemID.Hex()),
		zap.String("actor_id", actorID.Hex()))
	payload := map[string]any{"id": itemID.Hex()}
	m.events.Publish(ctx, events.ParentScope(rec.OwnerID, rec.ParentID), events.ItemMoved, payload)
	m.events.Publish(ctx, events.ParentScope(rec.OwnerID, newParentID), events.ItemMoved, payload)
	return m.reload(ctx, itemID)
}

func sameParent(a, b *primitive.ObjectID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Path returns the slash-joined path of a folder and the folders along it,
// root first. Grantees see the path from the folder they were granted.
func (m *Manager) Path(ctx context.Context, actorID, folderID primitive.ObjectID) (string, []models.Folder, error) {
	rec, acc, err := m.access.Require(ctx, actorID, folderID, models.PermissionRead)
	if err != nil {
		return "", nil, err
	}
	if !rec.IsFolder() {
		return "", nil, apperr.NotFound("folder not found")
	}
	chain, err := m.folders.GetPath(ctx, folderID)
	if err != nil {
		return "", nil, apperr.Internal(err, "load path")
	}
	if !acc.Owner && acc.ViaItemID != nil {
		for i, f := range chain {
			if f.ID == *acc.ViaItemID {
				chain = chain[i:]
				break
			}
		}
	}
	return JoinPath(chain), chain, nil
}

// JoinPath renders a folder chain as "/a/b/c".
func JoinPath(chain []models.Folder) string {
	parts := make([]string, len(chain))
	for i, f := range chain {
		parts[i] = f.Name
	}
	return models.PathSeparator + strings.Join(parts, models.PathSeparator)
}

// DeleteFolder hard-deletes an empty folder. Folders with active children
// must go through trash instead.
func (m *Manager) DeleteFolder(ctx context.Context, actorID, folderID primitive.ObjectID) error {
	rec, err := m.access.RequireOwner(ctx, actorID, folderID, storeutil.Active)
	if err != nil {
		return err
	}
	if !rec.IsFolder() {
		return apperr.NotFound("folder not found")
	}
	var deleted bool
	err = txn.Run(ctx, m.db, m.log, func(ctx context.Context) error {
		var err error
		deleted, err = m.folders.Delete(ctx, folderID)
		return err
	})
	if err != nil {
		return apperr.Internal(err, "delete folder")
	}
	if !deleted {
		return apperr.NotEmpty("folder is not empty")
	}
	if _, err := m.access.DeleteForItems(ctx, []primitive.ObjectID{folderID}); err != nil {
		m.log.Warn("failed to remove grants of deleted folder",
			zap.String("folder_id", folderID.Hex()), zap.Error(err))
	}

	m.log.Info("folder deleted",
		zap.String("folder_id", folderID.Hex()),
		zap.String("actor_id", actorID.Hex()))
	m.events.Publish(ctx, events.ParentScope(rec.OwnerID, rec.ParentID), events.ItemDeleted, map[string]any{
		"id": folderID.Hex(),
	})
	return nil
}

// SetColor changes a folder's color label. An empty color clears it.
func (m *Manager) SetColor(ctx context.Context, actorID, folderID primitive.ObjectID, color string) (*items.Record, error) {
	if color != "" && !inputval.IsValidColor(color) {
		return nil, apperr.Invalid("color must be a hex value like #4a90d9")
	}
	rec, _, err := m.access.Require(ctx, actorID, folderID, models.PermissionWrite)
	if err != nil {
		return nil, err
	}
	if !rec.IsFolder() {
		return nil, apperr.NotFound("folder not found")
	}
	if err := m.folders.SetColor(ctx, folderID, color); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("folder not found")
		}
		return nil, apperr.Internal(err, "set color")
	}
	return m.reload(ctx, folderID)
}

func (m *Manager) reload(ctx context.Context, id primitive.ObjectID) (*items.Record, error) {
	rec, err := m.items.Get(ctx, id, storeutil.Active)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("item not found")
		}
		return nil, apperr.Internal(err, "reload item")
	}
	return rec, nil
}
