package namespace

import (
	"errors"
	"testing"

	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dalemusser/stratavault/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func newManager(db *mongo.Database) (*Manager, *sharing.Resolver) {
	log := zap.NewNop()
	access := sharing.New(db, nil, nil, nil, log)
	return New(db, access, nil, log), access
}

func TestCreateFolder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m, _ := newManager(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	bob := testutil.CreateAccount(t, db, "Bob", 1000)

	docs, err := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "  Docs  "})
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if docs.Name != "Docs" || docs.OwnerID != alice.ID || docs.ParentID != nil {
		t.Errorf("unexpected folder %+v", docs)
	}

	if _, err := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "docs"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("case-insensitive duplicate error = %v, want Conflict", err)
	}

	// Same name, different owner or parent.
	if _, err := m.CreateFolder(ctx, bob.ID, CreateFolderInput{Name: "Docs"}); err != nil {
		t.Errorf("other owner CreateFolder() error = %v", err)
	}
	if docs.Path != "/Docs" {
		t.Errorf("Path = %q, want /Docs", docs.Path)
	}
	nested, err := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Docs", ParentID: &docs.ID})
	if err != nil {
		t.Fatalf("nested CreateFolder() error = %v", err)
	}
	if nested.Path != "/Docs/Docs" {
		t.Errorf("nested Path = %q, want /Docs/Docs", nested.Path)
	}

	for _, bad := range []string{"", "a/b", ".", ".."} {
		if _, err := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: bad}); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("CreateFolder(%q) error = %v, want Invalid", bad, err)
		}
	}
	if _, err := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "x", Color: "red"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("bad color error = %v, want Invalid", err)
	}

	// Bob cannot see into Alice's folder.
	if _, err := m.CreateFolder(ctx, bob.ID, CreateFolderInput{Name: "x", ParentID: &docs.ID}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign parent error = %v, want NotFound", err)
	}
}

func TestCreateFolder_SharedParent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m, access := newManager(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	bob := testutil.CreateAccount(t, db, "Bob", 1000)
	docs, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Docs"})

	access.Grant(ctx, alice.ID, sharing.GrantInput{ItemID: docs.ID, GranteeID: bob.ID, Permission: models.PermissionRead})
	if _, err := m.CreateFolder(ctx, bob.ID, CreateFolderInput{Name: "x", ParentID: &docs.ID}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("read grantee CreateFolder() error = %v, want Forbidden", err)
	}

	access.Grant(ctx, alice.ID, sharing.GrantInput{ItemID: docs.ID, GranteeID: bob.ID, Permission: models.PermissionWrite})
	f, err := m.CreateFolder(ctx, bob.ID, CreateFolderInput{Name: "x", ParentID: &docs.ID})
	if err != nil {
		t.Fatalf("write grantee CreateFolder() error = %v", err)
	}
	if f.OwnerID != alice.ID || f.CreatedByID != bob.ID {
		t.Errorf("owner = %v creator = %v, want folder owned by Alice and created by Bob", f.OwnerID, f.CreatedByID)
	}
}

func TestListChildren(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m, _ := newManager(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	docs, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Docs"})
	m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "B", ParentID: &docs.ID})
	m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "a", ParentID: &docs.ID})

	root, err := m.ListChildren(ctx, alice.ID, nil, items.ListOptions{})
	if err != nil {
		t.Fatalf("ListChildren(root) error = %v", err)
	}
	if len(root) != 1 || !root[0].Owned || root[0].Permission != models.PermissionAdmin {
		t.Errorf("root listing = %+v", root)
	}

	children, err := m.ListChildren(ctx, alice.ID, &docs.ID, items.ListOptions{})
	if err != nil {
		t.Fatalf("ListChildren() error = %v", err)
	}
	if len(children) != 2 || children[0].Name != "a" || children[1].Name != "B" {
		t.Errorf("children should sort case-insensitively, got %d", len(children))
	}

	if _, err := m.ListChildren(ctx, alice.ID, &docs.ID, items.ListOptions{Type: "bogus"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("bad type filter error = %v, want Invalid", err)
	}
	missing := primitive.NewObjectID()
	if _, err := m.ListChildren(ctx, alice.ID, &missing, items.ListOptions{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing parent error = %v, want NotFound", err)
	}
}

func TestRename(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m, _ := newManager(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	docs, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Docs"})
	m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Music"})
	sub, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Sub", ParentID: &docs.ID})

	rec, err := m.Rename(ctx, alice.ID, docs.ID, "Papers")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if rec.Name != "Papers" {
		t.Errorf("Name = %q, want Papers", rec.Name)
	}
	if _, err := m.Rename(ctx, alice.ID, docs.ID, "MUSIC"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Rename() onto sibling error = %v, want Conflict", err)
	}

	// Descendant paths follow the rename.
	path, _, err := m.Path(ctx, alice.ID, sub.ID)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if path != "/Papers/Sub" {
		t.Errorf("Path() = %q, want /Papers/Sub", path)
	}
}

func TestMove(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m, _ := newManager(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	bob := testutil.CreateAccount(t, db, "Bob", 1000)
	a, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "A"})
	b, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "B", ParentID: &a.ID})
	c, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "C"})
	bobs, _ := m.CreateFolder(ctx, bob.ID, CreateFolderInput{Name: "Bobs"})

	if _, err := m.Move(ctx, alice.ID, a.ID, &b.ID); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Move() into descendant error = %v, want Invalid", err)
	}
	if _, err := m.Move(ctx, alice.ID, a.ID, &a.ID); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Move() into self error = %v, want Invalid", err)
	}
	if _, err := m.Move(ctx, alice.ID, b.ID, &bobs.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Move() into other owner's folder error = %v, want NotFound", err)
	}
	if _, err := m.Move(ctx, bob.ID, b.ID, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Move() by stranger error = %v, want NotFound", err)
	}

	rec, err := m.Move(ctx, alice.ID, b.ID, &c.ID)
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if rec.ParentID == nil || *rec.ParentID != c.ID {
		t.Errorf("ParentID = %v, want %v", rec.ParentID, c.ID)
	}

	m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "B"})
	if _, err := m.Move(ctx, alice.ID, b.ID, nil); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Move() onto root sibling error = %v, want Conflict", err)
	}
}

func TestPath_Grantee(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m, access := newManager(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	bob := testutil.CreateAccount(t, db, "Bob", 1000)
	top, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Private"})
	shared, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Team", ParentID: &top.ID})
	leaf, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Q3", ParentID: &shared.ID})

	access.Grant(ctx, alice.ID, sharing.GrantInput{ItemID: shared.ID, GranteeID: bob.ID, Permission: models.PermissionRead})

	path, chain, err := m.Path(ctx, bob.ID, leaf.ID)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	if path != "/Team/Q3" || len(chain) != 2 {
		t.Errorf("grantee Path() = %q, want /Team/Q3", path)
	}
	path, _, _ = m.Path(ctx, alice.ID, leaf.ID)
	if path != "/Private/Team/Q3" {
		t.Errorf("owner Path() = %q", path)
	}
}

func TestDeleteFolder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m, _ := newManager(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	docs, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Docs"})
	sub, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Sub", ParentID: &docs.ID})

	if err := m.DeleteFolder(ctx, alice.ID, docs.ID); !errors.Is(err, apperr.ErrNotEmpty) {
		t.Errorf("DeleteFolder() non-empty error = %v, want NotEmpty", err)
	}
	if err := m.DeleteFolder(ctx, alice.ID, sub.ID); err != nil {
		t.Fatalf("DeleteFolder() error = %v", err)
	}
	if err := m.DeleteFolder(ctx, alice.ID, docs.ID); err != nil {
		t.Errorf("DeleteFolder() after emptying error = %v", err)
	}
	if _, err := m.Get(ctx, alice.ID, docs.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get() deleted folder error = %v, want NotFound", err)
	}
}

func TestSetColor(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m, _ := newManager(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	docs, _ := m.CreateFolder(ctx, alice.ID, CreateFolderInput{Name: "Docs"})

	rec, err := m.SetColor(ctx, alice.ID, docs.ID, "#4a90d9")
	if err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	if rec.Color != "#4a90d9" {
		t.Errorf("Color = %q", rec.Color)
	}
	if _, err := m.SetColor(ctx, alice.ID, docs.ID, "blue"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("SetColor(blue) error = %v, want Invalid", err)
	}
}

func TestJoinPath(t *testing.T) {
	if got := JoinPath(nil); got != "/" {
		t.Errorf("JoinPath(nil) = %q, want /", got)
	}
	chain := []models.Folder{{Item: models.Item{Name: "a"}}, {Item: models.Item{Name: "b"}}}
	if got := JoinPath(chain); got != "/a/b" {
		t.Errorf("JoinPath() = %q, want /a/b", got)
	}
}
