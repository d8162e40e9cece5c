// Package sharing resolves who may do what with an item and manages share
// grants.
//
// Access comes from ownership or from a grant on the item or its nearest
// granted ancestor folder. Permission tiers are ordered read < write < admin;
// admin-tier grantees may manage the item's shares, lower tiers may not.
package sharing

import (
	"context"
	"errors"
	"time"

	accountstore "github.com/dalemusser/stratavault/internal/app/store/accounts"
	"github.com/dalemusser/stratavault/internal/app/store/file"
	"github.com/dalemusser/stratavault/internal/app/store/folder"
	"github.com/dalemusser/stratavault/internal/app/store/items"
	sharestore "github.com/dalemusser/stratavault/internal/app/store/shares"
	"github.com/dalemusser/stratavault/internal/app/store/storeutil"
	"github.com/dalemusser/stratavault/internal/app/system/events"
	"github.com/dalemusser/stratavault/internal/app/system/metrics"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Notice describes a new or changed share for the grantee's notification.
type Notice struct {
	GranteeEmail string
	GranteeName  string
	SharedBy     string
	ItemName     string
	ItemType     models.ItemType
	Permission   models.Permission
}

// Notifier tells a grantee about a share. Delivery is best-effort.
type Notifier interface {
	ShareGranted(ctx context.Context, n Notice) error
}

const notifyTimeout = 30 * time.Second

// Resolver answers access questions and manages grants.
type Resolver struct {
	items    *items.Store
	folders  *folder.Store
	files    *file.Store
	grants   *sharestore.Store
	accounts *accountstore.Store
	notifier Notifier
	events   events.Publisher
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// New creates a Resolver. notifier and pub may be nil.
func New(db *mongo.Database, notifier Notifier, pub events.Publisher, m *metrics.Metrics, log *zap.Logger) *Resolver {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Resolver{
		items:    items.New(db),
		folders:  folder.New(db),
		files:    file.New(db),
		grants:   sharestore.New(db),
		accounts: accountstore.New(db),
		notifier: notifier,
		events:   pub,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Effective computes accountID's access to rec.
func (s *Resolver) Effective(ctx context.Context, accountID primitive.ObjectID, rec *items.Record) (Access, error) {
	if rec.OwnerID == accountID {
		return Access{Owner: true, Level: models.PermissionAdmin}, nil
	}

	// Self first, then ancestors nearest-first.
	chain := []primitive.ObjectID{rec.ID}
	if rec.ParentID != nil {
		path, err := s.folders.GetPath(ctx, *rec.ParentID)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return Access{}, apperr.Internal(err, "load ancestors")
		}
		for i := len(path) - 1; i >= 0; i-- {
			chain = append(chain, path[i].ID)
		}
	}

	grants, err := s.grants.FindLive(ctx, accountID, chain, s.now())
	if err != nil {
		return Access{}, apperr.Internal(err, "load grants")
	}
	if len(grants) == 0 {
		return Access{}, nil
	}
	byItem := make(map[primitive.ObjectID]models.ShareGrant, len(grants))
	for _, g := range grants {
		byItem[g.ItemID] = g
	}
	for _, id := range chain {
		if g, ok := byItem[id]; ok {
			gid, via := g.ID, g.ItemID
			return Access{Level: g.Permission, GrantID: &gid, ViaItemID: &via}, nil
		}
	}
	return Access{}, nil
}

// Require loads the active item and checks accountID holds at least level on
// it. Callers with no access at all get NotFound so item ids do not leak;
// callers with too little get Forbidden.
func (s *Resolver) Require(ctx context.Context, accountID, itemID primitive.ObjectID, level models.Permission) (*items.Record, Access, error) {
	rec, err := s.items.Get(ctx, itemID, storeutil.Active)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, Access{}, apperr.NotFound("item not found")
	}
	if err != nil {
		return nil, Access{}, apperr.Internal(err, "load item")
	}
	acc, err := s.Check(ctx, accountID, rec, level)
	if err != nil {
		return nil, Access{}, err
	}
	return rec, acc, nil
}

// Check is Require for an item already loaded.
func (s *Resolver) Check(ctx context.Context, accountID primitive.ObjectID, rec *items.Record, level models.Permission) (Access, error) {
	acc, err := s.Effective(ctx, accountID, rec)
	if err != nil {
		return Access{}, err
	}
	if acc.None() {
		return acc, apperr.NotFound("item not found")
	}
	if !acc.Allows(level) {
		return acc, apperr.Forbidden("%s access required", level)
	}
	return acc, nil
}

// RequireOwner loads the item in any lifecycle state and checks accountID
// owns it. Trash, restore, purge and move are owner-only.
func (s *Resolver) RequireOwner(ctx context.Context, accountID, itemID primitive.ObjectID, vis storeutil.Visibility) (*items.Record, error) {
	rec, err := s.items.Get(ctx, itemID, vis)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("item not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load item")
	}
	if rec.OwnerID == accountID {
		return rec, nil
	}
	if rec.IsDeleted {
		return nil, apperr.NotFound("item not found")
	}
	acc, err := s.Effective(ctx, accountID, rec)
	if err != nil {
		return nil, err
	}
	if acc.None() {
		return nil, apperr.NotFound("item not found")
	}
	return nil, apperr.Forbidden("only the owner can do this")
}

// GrantInput describes a share to create or update.
type GrantInput struct {
	ItemID     primitive.ObjectID
	ItemType   models.ItemType // optional; must match the item when set
	GranteeID  primitive.ObjectID
	Permission models.Permission
	ExpiresAt  *time.Time
}

// Grant shares an item. Re-granting to the same account updates the
// permission in place.
func (s *Resolver) Grant(ctx context.Context, actorID primitive.ObjectID, in GrantInput) (*models.ShareGrant, error) {
	if !in.Permission.Valid() {
		return nil, apperr.Invalid("permission must be read, write or admin")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, apperr.Invalid("expiry must be in the future")
	}

	rec, _, err := s.Require(ctx, actorID, in.ItemID, models.PermissionAdmin)
	if err != nil {
		return nil, err
	}
	if in.ItemType != "" && in.ItemType != rec.Type {
		return nil, apperr.NotFound("%s not found", in.ItemType)
	}
	if in.GranteeID == rec.OwnerID {
		return nil, apperr.Invalid("cannot share an item with its owner")
	}
	grantee, err := s.accounts.GetByID(ctx, in.GranteeID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("grantee not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load grantee")
	}
	if !grantee.IsActive() {
		return nil, apperr.Invalid("grantee account is disabled")
	}

	g, err := s.grants.Upsert(ctx, sharestore.UpsertInput{
		ItemID:     rec.ID,
		ItemType:   rec.Type,
		OwnerID:    rec.OwnerID,
		GranteeID:  grantee.ID,
		Permission: in.Permission,
		ExpiresAt:  in.ExpiresAt,
	})
	if err != nil {
		return nil, apperr.Internal(err, "store grant")
	}

	s.log.Info("item shared",
		zap.String("item_id", rec.ID.Hex()),
		zap.String("actor_id", actorID.Hex()),
		zap.String("grantee_id", grantee.ID.Hex()),
		zap.String("permission", string(in.Permission)))

	s.events.Publish(ctx, events.RootScope(grantee.ID), events.ShareChanged, map[string]any{
		"item_id": rec.ID.Hex(), "permission": in.Permission,
	})
	s.notify(actorID, grantee, rec, in.Permission)
	return g, nil
}

// notify sends the share email in the background. Failures are logged only.
func (s *Resolver) notify(actorID primitive.ObjectID, grantee *models.Account, rec *items.Record, perm models.Permission) {
	if s.notifier == nil || grantee.Email == "" {
		return
	}
	n := Notice{
		GranteeEmail: grantee.Email,
		GranteeName:  grantee.FullName,
		ItemName:     rec.Name,
		ItemType:     rec.Type,
		Permission:   perm,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if actor, err := s.accounts.GetByID(ctx, actorID); err == nil {
			n.SharedBy = actor.FullName
			if n.SharedBy == "" {
				n.SharedBy = actor.Email
			}
		}
		if err := s.notifier.ShareGranted(ctx, n); err != nil {
			s.log.Warn("share notification failed",
				zap.String("item_id", rec.ID.Hex()),
				zap.String("grantee_id", grantee.ID.Hex()),
				zap.Error(err))
		}
	}()
}

// GrantView is a grant with the grantee's display fields.
type GrantView struct {
	models.ShareGrant
	GranteeEmail string `json:"grantee_email"`
	GranteeName  string `json:"grantee_name"`
	Expired      bool   `json:"expired"`
}

// ListGrants returns every grant on an item. Owners and admin-tier grantees
// only.
func (s *Resolver) ListGrants(ctx context.Context, actorID, itemID primitive.ObjectID) ([]GrantView, error) {
	if _, _, err := s.Require(ctx, actorID, itemID, models.PermissionAdmin); err != nil {
		return nil, err
	}
	grants, err := s.grants.ListByItem(ctx, itemID)
	if err != nil {
		return nil, apperr.Internal(err, "list grants")
	}
	ids := make([]primitive.ObjectID, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.GranteeID)
	}
	accts, err := s.accounts.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err, "load grantees")
	}
	byID := make(map[primitive.ObjectID]models.Account, len(accts))
	for _, a := range accts {
		byID[a.ID] = a
	}
	now := s.now()
	out := make([]GrantView, 0, len(grants))
	for _, g := range grants {
		a := byID[g.GranteeID]
		out = append(out, GrantView{ShareGrant: g, GranteeEmail: a.Email, GranteeName: a.FullName, Expired: !g.IsLive(now)})
	}
	return out, nil
}

// loadManagedGrant fetches a grant and checks actorID may manage its item.
func (s *Resolver) loadManagedGrant(ctx context.Context, actorID, grantID primitive.ObjectID, allowSelf bool) (*models.ShareGrant, error) {
	g, err := s.grants.GetByID(ctx, grantID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("share not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load share")
	}
	if allowSelf && g.GranteeID == actorID {
		return g, nil
	}
	if _, _, err := s.Require(ctx, actorID, g.ItemID, models.PermissionAdmin); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("share not found")
		}
		return nil, err
	}
	return g, nil
}

// UpdatePermission changes a grant's tier.
func (s *Resolver) UpdatePermission(ctx context.Context, actorID, grantID primitive.ObjectID, perm models.Permission) (*models.ShareGrant, error) {
	if !perm.Valid() {
		return nil, apperr.Invalid("permission must be read, write or admin")
	}
	if _, err := s.loadManagedGrant(ctx, actorID, grantID, false); err != nil {
		return nil, err
	}
	g, err := s.grants.UpdatePermission(ctx, grantID, perm)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("share not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "update share")
	}
	s.events.Publish(ctx, events.RootScope(g.GranteeID), events.ShareChanged, map[string]any{
		"item_id": g.ItemID.Hex(), "permission": perm,
	})
	return g, nil
}

// Revoke deletes a grant and returns it. Grantees may also remove their
// own grant.
func (s *Resolver) Revoke(ctx context.Context, actorID, grantID primitive.ObjectID) (*models.ShareGrant, error) {
	g, err := s.loadManagedGrant(ctx, actorID, grantID, true)
	if err != nil {
		return nil, err
	}
	if err := s.grants.Delete(ctx, grantID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return g, nil
		}
		return nil, apperr.Internal(err, "delete share")
	}
	s.log.Info("share revoked",
		zap.String("grant_id", grantID.Hex()),
		zap.String("item_id", g.ItemID.Hex()),
		zap.String("actor_id", actorID.Hex()))
	s.events.Publish(ctx, events.RootScope(g.GranteeID), events.ShareChanged, map[string]any{
		"item_id": g.ItemID.Hex(), "revoked": true,
	})
	return g, nil
}

// SharedItem is an item reached through a grant.
type SharedItem struct {
	Entry
	GrantID   primitive.ObjectID `json:"grant_id"`
	SharedAt  time.Time          `json:"shared_at"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

// ListGrantedToMe returns the items shared with accountID. Grants whose item
// was purged or is in trash are skipped silently; the reaper removes the
// former eventually.
func (s *Resolver) ListGrantedToMe(ctx context.Context, accountID primitive.ObjectID, itemType models.ItemType) ([]SharedItem, error) {
	grants, err := s.grants.ListLiveForGrantee(ctx, accountID, itemType, s.now())
	if err != nil {
		return nil, apperr.Internal(err, "list grants")
	}
	ids := make([]primitive.ObjectID, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.ItemID)
	}
	recs, err := s.items.GetMany(ctx, ids, storeutil.Active)
	if err != nil {
		return nil, apperr.Internal(err, "load shared items")
	}
	byID := make(map[primitive.ObjectID]items.Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}

	out := make([]SharedItem, 0, len(grants))
	for _, g := range grants {
		r, ok := byID[g.ItemID]
		if !ok || r.Type != g.ItemType {
			continue
		}
		out = append(out, SharedItem{
			Entry:     newEntry(r, Access{Level: g.Permission}),
			GrantID:   g.ID,
			SharedAt:  g.SharedAt,
			ExpiresAt: g.ExpiresAt,
		})
	}
	return out, nil
}

// BrowseSharedFolder lists the direct active children of a folder the
// account can read through a grant. Every child carries the folder's
// effective permission; the children's own grants are not consulted.
func (s *Resolver) BrowseSharedFolder(ctx context.Context, accountID, folderID primitive.ObjectID, opts items.ListOptions) ([]Entry, error) {
	rec, acc, err := s.Require(ctx, accountID, folderID, models.PermissionRead)
	if err != nil {
		return nil, err
	}
	if !rec.IsFolder() {
		return nil, apperr.NotFound("folder not found")
	}
	opts.Visibility = storeutil.Active
	children, err := s.items.ListChildren(ctx, folderID, opts)
	if err != nil {
		return nil, apperr.Internal(err, "list children")
	}
	out := make([]Entry, 0, len(children))
	for _, c := range children {
		out = append(out, newEntry(c, acc))
	}
	return out, nil
}

// EntryFor wraps rec with acc for responses.
func EntryFor(rec items.Record, acc Access) Entry {
	return newEntry(rec, acc)
}

// DeleteForItems removes all grants on itemIDs. Purge calls this so grants
// never outlive their item.
func (s *Resolver) DeleteForItems(ctx context.Context, itemIDs []primitive.ObjectID) (int64, error) {
	n, err := s.grants.DeleteByItems(ctx, itemIDs)
	if err != nil {
		return 0, apperr.Internal(err, "delete grants")
	}
	return n, nil
}

const reapBatch = 500

// ReapDangling deletes grants whose item no longer exists in any state.
func (s *Resolver) ReapDangling(ctx context.Context) (int64, error) {
	ids, err := s.grants.DistinctItemIDs(ctx)
	if err != nil {
		return 0, apperr.Internal(err, "list granted items")
	}
	var total int64
	for start := 0; start < len(ids); start += reapBatch {
		end := start + reapBatch
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		exists, err := s.items.Exists(ctx, batch)
		if err != nil {
			return total, apperr.Internal(err, "check items")
		}
		var missing []primitive.ObjectID
		for _, id := range batch {
			if !exists[id] {
				missing = append(missing, id)
			}
		}
		n, err := s.grants.DeleteByItems(ctx, missing)
		if err != nil {
			return total, apperr.Internal(err, "delete grants")
		}
		total += n
	}
	if total > 0 {
		s.log.Info("dangling grants reaped", zap.Int64("count", total))
	}
	s.metrics.Reaped(total)
	return total, nil
}

// CreatePublicLink publishes a file for anonymous download and returns its
// token. An existing link is returned unchanged.
func (s *Resolver) CreatePublicLink(ctx context.Context, actorID, fileID primitive.ObjectID) (string, error) {
	rec, err := s.RequireOwner(ctx, actorID, fileID, storeutil.Active)
	if err != nil {
		return "", err
	}
	if rec.IsFolder() {
		return "", apperr.Invalid("only files can have public links")
	}
	if rec.PublicLinkToken != nil && *rec.PublicLinkToken != "" {
		return *rec.PublicLinkToken, nil
	}
	token := uuid.NewString()
	if err := s.files.SetPublicLink(ctx, fileID, &token); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", apperr.NotFound("file not found")
		}
		return "", apperr.Internal(err, "store public link")
	}
	return token, nil
}

// RevokePublicLink removes a file's public link.
func (s *Resolver) RevokePublicLink(ctx context.Context, actorID, fileID primitive.ObjectID) error {
	rec, err := s.RequireOwner(ctx, actorID, fileID, storeutil.Active)
	if err != nil {
		return err
	}
	if rec.IsFolder() {
		return apperr.Invalid("only files can have public links")
	}
	if err := s.files.SetPublicLink(ctx, fileID, nil); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.Internal(err, "clear public link")
	}
	return nil
}

// ResolvePublicLink returns the active file published under token.
func (s *Resolver) ResolvePublicLink(ctx context.Context, token string) (*models.File, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, apperr.NotFound("link not found")
	}
	f, err := s.files.GetByPublicLink(ctx, token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("link not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "resolve link")
	}
	return f, nil
}
