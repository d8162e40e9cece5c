package sharing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/stratavault/internal/app/store/file"
	"github.com/dalemusser/stratavault/internal/app/store/folder"
	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/store/storeutil"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dalemusser/stratavault/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
	done    chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{done: make(chan struct{}, 8)}
}

func (r *recordingNotifier) ShareGranted(_ context.Context, n Notice) error {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

// fixture is Alice's tree Docs/{Team/{plan.txt}, a.txt} plus Bob and Carol.
type fixture struct {
	db         *mongo.Database
	alice      models.Account
	bob        models.Account
	carol      models.Account
	docs, team *models.Folder
	plan, a    *models.File
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	f := fixture{db: db}
	f.alice = testutil.CreateAccount(t, db, "Alice", 1000)
	f.bob = testutil.CreateAccount(t, db, "Bob", 1000)
	f.carol = testutil.CreateAccount(t, db, "Carol", 1000)

	folders := folder.New(db)
	files := file.New(db)
	f.docs, _ = folders.Create(ctx, folder.CreateInput{Name: "Docs", OwnerID: f.alice.ID, CreatedByID: f.alice.ID})
	f.team, _ = folders.Create(ctx, folder.CreateInput{Name: "Team", ParentID: &f.docs.ID, OwnerID: f.alice.ID, CreatedByID: f.alice.ID})
	f.plan, _ = files.Create(ctx, file.CreateInput{Name: "plan.txt", ParentID: &f.team.ID, ContentKey: "k/plan", Size: 5, OwnerID: f.alice.ID, CreatedByID: f.alice.ID})
	f.a, _ = files.Create(ctx, file.CreateInput{Name: "a.txt", ParentID: &f.docs.ID, ContentKey: "k/a", Size: 5, OwnerID: f.alice.ID, CreatedByID: f.alice.ID})
	return f
}

func TestEffective_Inheritance(t *testing.T) {
	f := setup(t)
	s := New(f.db, nil, nil, nil, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	rec, _ := s.items.Get(ctx, f.plan.ID, storeutil.Active)

	acc, err := s.Effective(ctx, f.alice.ID, rec)
	if err != nil || !acc.Owner {
		t.Fatalf("owner access = %+v, %v", acc, err)
	}
	acc, _ = s.Effective(ctx, f.bob.ID, rec)
	if !acc.None() {
		t.Errorf("stranger access = %+v, want none", acc)
	}

	if _, err := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, GranteeID: f.bob.ID, Permission: models.PermissionRead}); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	acc, _ = s.Effective(ctx, f.bob.ID, rec)
	if acc.Level != models.PermissionRead || acc.ViaItemID == nil || *acc.ViaItemID != f.docs.ID {
		t.Errorf("inherited access = %+v, want read via Docs", acc)
	}

	// The nearest grant wins, even when it is lower.
	s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, GranteeID: f.bob.ID, Permission: models.PermissionAdmin})
	s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.team.ID, GranteeID: f.bob.ID, Permission: models.PermissionWrite})
	acc, _ = s.Effective(ctx, f.bob.ID, rec)
	if acc.Level != models.PermissionWrite || *acc.ViaItemID != f.team.ID {
		t.Errorf("nearest access = %+v, want write via Team", acc)
	}
}

func TestEffective_ExpiredGrant(t *testing.T) {
	f := setup(t)
	s := New(f.db, nil, nil, nil, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	exp := time.Now().Add(time.Hour)
	if _, err := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.a.ID, GranteeID: f.bob.ID, Permission: models.PermissionRead, ExpiresAt: &exp}); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if _, _, err := s.Require(ctx, f.bob.ID, f.a.ID, models.PermissionRead); err != nil {
		t.Errorf("Require() before expiry error = %v", err)
	}

	s.now = func() time.Time { return exp.Add(time.Second) }
	if _, _, err := s.Require(ctx, f.bob.ID, f.a.ID, models.PermissionRead); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Require() after expiry error = %v, want NotFound", err)
	}

	past := time.Now().Add(-time.Hour)
	s.now = time.Now
	if _, err := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.a.ID, GranteeID: f.bob.ID, Permission: models.PermissionRead, ExpiresAt: &past}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Grant() with past expiry error = %v, want Invalid", err)
	}
}

func TestRequire_Tiers(t *testing.T) {
	f := setup(t)
	s := New(f.db, nil, nil, nil, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, GranteeID: f.bob.ID, Permission: models.PermissionRead})

	if _, _, err := s.Require(ctx, f.bob.ID, f.a.ID, models.PermissionRead); err != nil {
		t.Errorf("read Require() error = %v", err)
	}
	if _, _, err := s.Require(ctx, f.bob.ID, f.a.ID, models.PermissionWrite); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("write Require() error = %v, want Forbidden", err)
	}
	if _, _, err := s.Require(ctx, f.carol.ID, f.a.ID, models.PermissionRead); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stranger Require() error = %v, want NotFound", err)
	}
	if _, err := s.RequireOwner(ctx, f.bob.ID, f.a.ID, storeutil.Active); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("grantee RequireOwner() error = %v, want Forbidden", err)
	}
}

func TestGrant_Management(t *testing.T) {
	f := setup(t)
	s := New(f.db, nil, nil, nil, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	readGrant, _ := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, GranteeID: f.bob.ID, Permission: models.PermissionRead})

	// A read grantee can browse but not manage shares.
	entries, err := s.BrowseSharedFolder(ctx, f.bob.ID, f.docs.ID, items.ListOptions{})
	if err != nil {
		t.Fatalf("BrowseSharedFolder() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Permission != models.PermissionRead || entries[0].Owned {
		t.Errorf("browse = %+v", entries)
	}
	if _, err := s.Grant(ctx, f.bob.ID, GrantInput{ItemID: f.docs.ID, GranteeID: f.carol.ID, Permission: models.PermissionRead}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("read grantee Grant() error = %v, want Forbidden", err)
	}
	if _, err := s.ListGrants(ctx, f.bob.ID, f.docs.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("read grantee ListGrants() error = %v, want Forbidden", err)
	}

	// An admin grantee can.
	s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, GranteeID: f.bob.ID, Permission: models.PermissionAdmin})
	carolGrant, err := s.Grant(ctx, f.bob.ID, GrantInput{ItemID: f.team.ID, GranteeID: f.carol.ID, Permission: models.PermissionRead})
	if err != nil {
		t.Fatalf("admin grantee Grant() error = %v", err)
	}
	if carolGrant.OwnerID != f.alice.ID {
		t.Errorf("grant OwnerID = %v, want Alice", carolGrant.OwnerID)
	}
	views, err := s.ListGrants(ctx, f.bob.ID, f.team.ID)
	if err != nil || len(views) != 1 || views[0].GranteeEmail != f.carol.Email {
		t.Errorf("ListGrants() = %+v, %v", views, err)
	}
	if _, err := s.UpdatePermission(ctx, f.bob.ID, carolGrant.ID, models.PermissionWrite); err != nil {
		t.Errorf("UpdatePermission() error = %v", err)
	}

	// Carol may drop her own grant; she may not touch Bob's.
	if _, err := s.Revoke(ctx, f.carol.ID, readGrant.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Revoke() of someone else's grant error = %v, want NotFound", err)
	}
	if _, err := s.Revoke(ctx, f.carol.ID, carolGrant.ID); err != nil {
		t.Errorf("self Revoke() error = %v", err)
	}

	// Owner and invalid inputs.
	if _, err := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, GranteeID: f.alice.ID, Permission: models.PermissionRead}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Grant() to owner error = %v, want Invalid", err)
	}
	if _, err := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, GranteeID: f.carol.ID, Permission: "owner"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Grant() bad permission error = %v, want Invalid", err)
	}
	if _, err := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, GranteeID: primitive.NewObjectID(), Permission: models.PermissionRead}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Grant() unknown grantee error = %v, want NotFound", err)
	}
	if _, err := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, ItemType: models.ItemTypeFile, GranteeID: f.carol.ID, Permission: models.PermissionRead}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Grant() type mismatch error = %v, want NotFound", err)
	}
}

func TestGrant_Notifies(t *testing.T) {
	f := setup(t)
	n := newRecordingNotifier()
	s := New(f.db, n, nil, nil, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.a.ID, GranteeID: f.bob.ID, Permission: models.PermissionWrite}); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	select {
	case <-n.done:
	case <-time.After(5 * time.Second):
		t.Fatal("notifier was not called")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	got := n.notices[0]
	if got.GranteeEmail != f.bob.Email || got.SharedBy != "Alice" || got.ItemName != "a.txt" || got.Permission != models.PermissionWrite {
		t.Errorf("notice = %+v", got)
	}
}

func TestListGrantedToMe(t *testing.T) {
	f := setup(t)
	s := New(f.db, nil, nil, nil, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.docs.ID, GranteeID: f.bob.ID, Permission: models.PermissionRead})
	s.Grant(ctx, f.alice.ID, GrantInput{ItemID: f.plan.ID, GranteeID: f.bob.ID, Permission: models.PermissionWrite})

	all, err := s.ListGrantedToMe(ctx, f.bob.ID, "")
	if err != nil {
		t.Fatalf("ListGrantedToMe() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListGrantedToMe() = %d, want 2", len(all))
	}
	filesOnly, _ := s.ListGrantedToMe(ctx, f.bob.ID, models.ItemTypeFile)
	if len(filesOnly) != 1 || filesOnly[0].ID != f.plan.ID || filesOnly[0].Permission != models.PermissionWrite {
		t.Errorf("file grants = %+v", filesOnly)
	}

	// Trashed items drop out of the listing.
	s.items.MarkTrashed(ctx, []primitive.ObjectID{f.plan.ID}, f.alice.ID, f.plan.ID, time.Now())
	all, _ = s.ListGrantedToMe(ctx, f.bob.ID, "")
	if len(all) != 1 {
		t.Errorf("ListGrantedToMe() after trash = %d, want 1", len(all))
	}
}

func TestReapDangling(t *testing.T) {
	f := setup(t)
	s := New(f.db, nil, nil, nil, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for _, id := range []primitive.ObjectID{f.a.ID, f.plan.ID} {
		if _, err := s.Grant(ctx, f.alice.ID, GrantInput{ItemID: id, GranteeID: f.bob.ID, Permission: models.PermissionRead}); err != nil {
			t.Fatalf("Grant() error = %v", err)
		}
	}
	if _, err := s.items.MarkTrashed(ctx, []primitive.ObjectID{f.a.ID}, f.alice.ID, f.a.ID, time.Now()); err != nil {
		t.Fatalf("MarkTrashed() error = %v", err)
	}
	if ok, err := s.items.DeleteTrashed(ctx, f.a.ID); err != nil || !ok {
		t.Fatalf("DeleteTrashed() = %v, %v", ok, err)
	}

	n, err := s.ReapDangling(ctx)
	if err != nil {
		t.Fatalf("ReapDangling() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ReapDangling() = %d, want 1", n)
	}
	n, _ = s.ReapDangling(ctx)
	if n != 0 {
		t.Errorf("second ReapDangling() = %d, want 0", n)
	}
}

func TestPublicLinks(t *testing.T) {
	f := setup(t)
	s := New(f.db, nil, nil, nil, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	token, err := s.CreatePublicLink(ctx, f.alice.ID, f.a.ID)
	if err != nil {
		t.Fatalf("CreatePublicLink() error = %v", err)
	}
	again, _ := s.CreatePublicLink(ctx, f.alice.ID, f.a.ID)
	if again != token {
		t.Error("CreatePublicLink() should return the existing token")
	}

	got, err := s.ResolvePublicLink(ctx, token)
	if err != nil || got.ID != f.a.ID {
		t.Fatalf("ResolvePublicLink() = %v, %v", got, err)
	}
	if _, err := s.ResolvePublicLink(ctx, "not-a-token"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ResolvePublicLink(garbage) error = %v, want NotFound", err)
	}

	if _, err := s.CreatePublicLink(ctx, f.alice.ID, f.docs.ID); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("CreatePublicLink(folder) error = %v, want Invalid", err)
	}
	if _, err := s.CreatePublicLink(ctx, f.bob.ID, f.a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("CreatePublicLink() by stranger error = %v, want NotFound", err)
	}

	if err := s.RevokePublicLink(ctx, f.alice.ID, f.a.ID); err != nil {
		t.Fatalf("RevokePublicLink() error = %v", err)
	}
	if _, err := s.ResolvePublicLink(ctx, token); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ResolvePublicLink() after revoke error = %v, want NotFound", err)
	}
}

func TestAccess(t *testing.T) {
	if !(Access{}).None() {
		t.Error("zero Access should be None")
	}
	owner := Access{Owner: true, Level: models.PermissionAdmin}
	if !owner.CanManageShares() || !owner.Allows(models.PermissionWrite) {
		t.Error("owner should be allowed everything")
	}
	write := Access{Level: models.PermissionWrite}
	if write.CanManageShares() || !write.Allows(models.PermissionRead) || write.Allows(models.PermissionAdmin) {
		t.Errorf("write access checks wrong: %+v", write)
	}
}

func TestEntryFor_Category(t *testing.T) {
	owner := Access{Owner: true, Level: models.PermissionAdmin}
	tests := []struct {
		name string
		rec  items.Record
		want string
	}{
		{"image", items.Record{Item: models.Item{Type: models.ItemTypeFile}, ContentType: "image/png"}, "image"},
		{"pdf", items.Record{Item: models.Item{Type: models.ItemTypeFile}, ContentType: "application/pdf"}, "pdf"},
		{"unknown", items.Record{Item: models.Item{Type: models.ItemTypeFile}, ContentType: "application/octet-stream"}, "file"},
		{"folder", items.Record{Item: models.Item{Type: models.ItemTypeFolder}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EntryFor(tt.rec, owner).Category; got != tt.want {
				t.Errorf("Category = %q, want %q", got, tt.want)
			}
		})
	}
}
