// Package lifecycle moves items between active, trashed and purged.
//
// Trash hides a whole subtree at once: every still-active node is marked with
// the id of the item the user trashed (trashed_via). Restore brings back that
// item and exactly the nodes it hid; nodes trashed on their own earlier stay
// in trash. Purge removes bytes and records for a trashed subtree and hands
// the freed bytes back to the quota ledger in one release. It never deletes
// an active record; a subtree that still holds one is refused until the
// cascade is completed.
//
// Every record transition filters on the current state, so re-running an
// interrupted cascade converges instead of double-applying.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/store/storeutil"
	"github.com/dalemusser/stratavault/internal/app/system/events"
	"github.com/dalemusser/stratavault/internal/app/system/metrics"
	"github.com/dalemusser/stratavault/internal/app/system/quota"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/app/system/txn"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ContentDeleter removes stored bytes by content key.
type ContentDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Engine runs lifecycle transitions.
type Engine struct {
	db      *mongo.Database
	items   *items.Store
	access  *sharing.Resolver
	ledger  *quota.Ledger
	content ContentDeleter
	events  events.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// New creates an Engine. pub and m may be nil.
func New(db *mongo.Database, access *sharing.Resolver, ledger *quota.Ledger, content ContentDeleter, pub events.Publisher, m *metrics.Metrics, log *zap.Logger) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		db:      db,
		items:   items.New(db),
		access:  access,
		ledger:  ledger,
		content: content,
		events:  pub,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// PurgeResult summarizes a purge.
type PurgeResult struct {
	Items         int64 `json:"items"`
	Files         int64 `json:"files"`
	ReleasedBytes int64 `json:"released_bytes"`
	// Skipped counts trashed roots left in place because active items
	// remain beneath them.
	Skipped int64 `json:"skipped,omitempty"`
}

func (r *PurgeResult) add(o PurgeResult) {
	r.Items += o.Items
	r.Files += o.Files
	r.ReleasedBytes += o.ReleasedBytes
	r.Skipped += o.Skipped
}

// Trash moves an item and everything beneath it to trash. Trashing an item
// that is already in trash completes its cascade: any node beneath it that is
// still active joins the same trash operation.
func (e *Engine) Trash(ctx context.Context, actorID, itemID primitive.ObjectID) (*items.Record, error) {
	rec, err := e.access.RequireOwner(ctx, actorID, itemID, storeutil.Any)
	if err != nil {
		return nil, err
	}
	via := itemID
	if rec.IsDeleted && rec.TrashedVia != nil {
		via = *rec.TrashedVia
	}
	at := e.now().UTC()

	var n int64
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		n = 0
		nodes, err := e.items.Subtree(ctx, itemID)
		if err != nil {
			return err
		}
		for group, ids := range trashGroups(nodes, via) {
			m, err := e.items.MarkTrashed(ctx, ids, actorID, group, at)
			if err != nil {
				return err
			}
			n += m
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Internal(err, "trash items")
	}

	if rec.IsDeleted {
		if n > 0 {
			e.metrics.Lifecycle("trash", n)
			e.log.Info("trash cascade completed",
				zap.String("item_id", itemID.Hex()),
				zap.String("actor_id", actorID.Hex()),
				zap.Int64("items", n))
		}
		return e.get(ctx, itemID, storeutil.Any)
	}

	e.metrics.Lifecycle("trash", n)
	e.log.Info("item trashed",
		zap.String("item_id", itemID.Hex()),
		zap.String("actor_id", actorID.Hex()),
		zap.Int64("items", n))
	payload := map[string]any{"id": itemID.Hex(), "items": n}
	e.events.Publish(ctx, events.ParentScope(rec.OwnerID, rec.ParentID), events.ItemTrashed, payload)
	if rec.IsFolder() {
		e.events.Publish(ctx, events.FolderScope(itemID), events.ItemTrashed, payload)
	}
	return e.get(ctx, itemID, storeutil.Any)
}

// Restore brings a trashed item back along with every node the same trash
// operation hid. If the item's parent is gone or still in trash, the item is
// re-attached at the owner's root.
func (e *Engine) Restore(ctx context.Context, actorID, itemID primitive.ObjectID) (*items.Record, error) {
	rec, err := e.access.RequireOwner(ctx, actorID, itemID, storeutil.Any)
	if err != nil {
		return nil, err
	}
	if !rec.IsDeleted {
		return nil, apperr.Invalid("item is not in trash")
	}

	via := rec.ID
	if rec.TrashedVia != nil {
		via = *rec.TrashedVia
	}

	nodes, err := e.items.Subtree(ctx, itemID)
	if err != nil {
		return nil, apperr.Internal(err, "walk subtree")
	}
	descendants := restoreSet(nodes, via)[1:]

	var restored int64
	reattach := false
	err = txn.Run(ctx, e.db, e.log, func(ctx context.Context) error {
		reattach = false
		if !rec.IsInRoot() {
			err := e.items.ClaimParent(ctx, *rec.ParentID)
			switch {
			case errors.Is(err, items.ErrParentInactive):
				reattach = true
			case err != nil:
				return err
			}
		}
		ok, err := e.items.RestoreRoot(ctx, itemID, reattach, nil)
		if err != nil {
			return err
		}
		if !ok {
			// Someone else restored or purged it first.
			return mongo.ErrNoDocuments
		}
		n, err := e.items.RestoreVia(ctx, descendants, via)
		restored = n + 1
		return err
	})
	switch {
	case storeutil.IsDuplicateKey(err):
		return nil, apperr.Conflict("a %s named %q already exists there", rec.Type, rec.Name)
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, apperr.NotFound("item not found in trash")
	case err != nil:
		return nil, apperr.Internal(err, "restore items")
	}

	parentID := rec.ParentID
	if reattach {
		parentID = nil
	}
	e.metrics.Lifecycle("restore", restored)
	e.log.Info("item restored",
		zap.String("item_id", itemID.Hex()),
		zap.String("actor_id", actorID.Hex()),
		zap.Int64("items", restored),
		zap.Bool("reattached", reattach))
	e.events.Publish(ctx, events.ParentScope(rec.OwnerID, parentID), events.ItemRestored, map[string]any{
		"id": itemID.Hex(), "items": restored,
	})
	return e.get(ctx, itemID, storeutil.Active)
}

// Purge permanently removes a trashed item and its whole subtree.
func (e *Engine) Purge(ctx context.Context, actorID, itemID primitive.ObjectID) (PurgeResult, error) {
	rec, err := e.access.RequireOwner(ctx, actorID, itemID, storeutil.Any)
	if err != nil {
		return PurgeResult{}, err
	}
	if !rec.IsDeleted {
		return PurgeResult{}, apperr.Invalid("only items in trash can be purged")
	}
	res, err := e.purgeTree(ctx, itemID)
	if err != nil {
		return res, err
	}
	e.log.Info("item purged",
		zap.String("item_id", itemID.Hex()),
		zap.String("actor_id", actorID.Hex()),
		zap.Int64("items", res.Items),
		zap.Int64("released_bytes", res.ReleasedBytes))
	e.events.Publish(ctx, events.RootScope(rec.OwnerID), events.ItemPurged, map[string]any{
		"id": itemID.Hex(), "items": res.Items,
	})
	return res, nil
}

// EmptyTrash purges everything the actor has in trash.
func (e *Engine) EmptyTrash(ctx context.Context, actorID primitive.ObjectID) (PurgeResult, error) {
	var total PurgeResult

	skipped := make(map[primitive.ObjectID]bool)

	roots, err := e.items.ListTrashRoots(ctx, actorID, items.ListOptions{})
	if err != nil {
		return total, apperr.Internal(err, "list trash")
	}
	if err := e.purgeAll(ctx, roots, &total, skipped); err != nil {
		return total, err
	}

	// Anything left was hidden by a root purged above or orphaned by an
	// interrupted run.
	rest, err := e.items.ListTrashed(ctx, actorID)
	if err != nil {
		return total, apperr.Internal(err, "list trash")
	}
	if err := e.purgeAll(ctx, rest, &total, skipped); err != nil {
		return total, err
	}
	total.Skipped = int64(len(skipped))

	e.log.Info("trash emptied",
		zap.String("account_id", actorID.Hex()),
		zap.Int64("items", total.Items),
		zap.Int64("released_bytes", total.ReleasedBytes))
	if total.Items > 0 {
		e.events.Publish(ctx, events.RootScope(actorID), events.ItemPurged, map[string]any{"items": total.Items})
	}
	return total, nil
}

// ListTrash returns the items the actor trashed directly, newest first.
// Nodes hidden along with a trashed folder are not listed separately.
func (e *Engine) ListTrash(ctx context.Context, actorID primitive.ObjectID, opts items.ListOptions) ([]items.Record, error) {
	recs, err := e.items.ListTrashRoots(ctx, actorID, opts)
	if err != nil {
		return nil, apperr.Internal(err, "list trash")
	}
	return recs, nil
}

const sweepBatch = 100

// SweepExpired purges trash roots older than retention across all accounts.
func (e *Engine) SweepExpired(ctx context.Context, retention time.Duration) (PurgeResult, error) {
	var total PurgeResult
	if retention <= 0 {
		return total, nil
	}
	cutoff := e.now().Add(-retention)
	skipped := make(map[primitive.ObjectID]bool)

	for {
		// Skipped roots stay listed, so ask for enough to see past them.
		roots, err := e.items.ListExpiredTrashRoots(ctx, cutoff, sweepBatch+int64(len(skipped)))
		if err != nil {
			return total, apperr.Internal(err, "list expired trash")
		}
		fresh := roots[:0]
		for _, r := range roots {
			if !skipped[r.ID] {
				fresh = append(fresh, r)
			}
		}
		if len(fresh) == 0 {
			break
		}
		if err := e.purgeAll(ctx, fresh, &total, skipped); err != nil {
			return total, err
		}
		if len(fresh) < sweepBatch {
			break
		}
	}
	total.Skipped = int64(len(skipped))

	if total.Items > 0 || total.Skipped > 0 {
		e.log.Info("expired trash purged",
			zap.Int64("items", total.Items),
			zap.Int64("released_bytes", total.ReleasedBytes),
			zap.Int64("skipped", total.Skipped))
	}
	return total, nil
}

// purgeAll purges each record's subtree into total. Subtrees that still hold
// active items are recorded in skipped and left alone.
func (e *Engine) purgeAll(ctx context.Context, recs []items.Record, total *PurgeResult, skipped map[primitive.ObjectID]bool) error {
	for _, r := range recs {
		if skipped[r.ID] {
			continue
		}
		res, err := e.purgeTree(ctx, r.ID)
		total.add(res)
		if errors.Is(err, apperr.ErrConflict) {
			skipped[r.ID] = true
			e.log.Warn("trashed item still holds active items, not purged",
				zap.String("item_id", r.ID.Hex()), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// purgeTree deletes rootID's subtree leaves first. Only trashed records are
// deleted, and a subtree with an active node is refused with Conflict.
// Bytes are released only for records this call actually deleted, so
// concurrent purges of the same tree release each file once.
func (e *Engine) purgeTree(ctx context.Context, rootID primitive.ObjectID) (PurgeResult, error) {
	var res PurgeResult

	nodes, err := e.items.Subtree(ctx, rootID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return res, nil
	}
	if err != nil {
		return res, apperr.Internal(err, "walk subtree")
	}
	if active := countActive(nodes); active > 0 {
		return res, apperr.Conflict("%d active items remain inside; trash it again to include them", active)
	}

	freed := make(map[primitive.ObjectID]int64)
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		deleted, err := e.items.DeleteTrashed(ctx, n.ID)
		if err != nil {
			e.release(ctx, freed)
			return res, apperr.Internal(err, "delete item")
		}
		if !deleted {
			continue
		}
		res.Items++
		if n.IsFolder() {
			continue
		}
		if n.ContentKey != "" && e.content != nil {
			if err := e.content.Delete(ctx, n.ContentKey); err != nil {
				e.log.Warn("failed to delete content",
					zap.String("item_id", n.ID.Hex()),
					zap.String("content_key", n.ContentKey),
					zap.Error(err))
			}
		}
		res.Files++
		res.ReleasedBytes += n.Size
		freed[n.OwnerID] += n.Size
	}

	e.release(ctx, freed)
	if _, err := e.access.DeleteForItems(ctx, idsOf(nodes)); err != nil {
		e.log.Warn("failed to remove grants of purged items",
			zap.String("item_id", rootID.Hex()), zap.Error(err))
	}
	e.metrics.Lifecycle("purge", res.Items)
	return res, nil
}

// release returns freed bytes to each owner. A failure leaves usage high
// until the next reconcile run.
func (e *Engine) release(ctx context.Context, freed map[primitive.ObjectID]int64) {
	for owner, bytes := range freed {
		if bytes <= 0 {
			continue
		}
		if err := e.ledger.Release(ctx, owner, bytes); err != nil {
			e.log.Error("failed to release purged bytes",
				zap.String("account_id", owner.Hex()),
				zap.Int64("bytes", bytes),
				zap.Error(err))
		}
	}
}

func (e *Engine) get(ctx context.Context, id primitive.ObjectID, vis storeutil.Visibility) (*items.Record, error) {
	rec, err := e.items.Get(ctx, id, vis)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("item not found")
		}
		return nil, apperr.Internal(err, "reload item")
	}
	return rec, nil
}

// trashGroups groups the active nodes of a subtree by the trash operation
// that should hide them: via for nodes reached through active folders, or
// the operation that hid their nearest trashed ancestor. nodes must be
// ordered parents first, as Subtree returns them.
func trashGroups(nodes []items.Record, via primitive.ObjectID) map[primitive.ObjectID][]primitive.ObjectID {
	groups := make(map[primitive.ObjectID][]primitive.ObjectID)
	groupOf := make(map[primitive.ObjectID]primitive.ObjectID, len(nodes))
	for i, n := range nodes {
		g := via
		if i > 0 {
			if n.ParentID == nil {
				continue
			}
			pg, ok := groupOf[*n.ParentID]
			if !ok {
				continue
			}
			g = pg
			if n.IsDeleted {
				g = n.ID
				if n.TrashedVia != nil {
					g = *n.TrashedVia
				}
			}
		}
		groupOf[n.ID] = g
		if !n.IsDeleted {
			groups[g] = append(groups[g], n.ID)
		}
	}
	return groups
}

// restoreSet picks the ids a restore of nodes[0] applies to: the root, then
// every node whose parent was picked and that is either active or was hidden
// by via. Subtrees trashed on their own stay in trash. nodes must be ordered
// parents first.
func restoreSet(nodes []items.Record, via primitive.ObjectID) []primitive.ObjectID {
	if len(nodes) == 0 {
		return nil
	}
	picked := map[primitive.ObjectID]bool{nodes[0].ID: true}
	ids := []primitive.ObjectID{nodes[0].ID}
	for _, n := range nodes[1:] {
		if n.ParentID == nil || !picked[*n.ParentID] {
			continue
		}
		if n.IsDeleted && (n.TrashedVia == nil || *n.TrashedVia != via) {
			continue
		}
		picked[n.ID] = true
		ids = append(ids, n.ID)
	}
	return ids
}

func countActive(nodes []items.Record) int {
	n := 0
	for _, r := range nodes {
		if !r.IsDeleted {
			n++
		}
	}
	return n
}

func idsOf(recs []items.Record) []primitive.ObjectID {
	ids := make([]primitive.ObjectID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
