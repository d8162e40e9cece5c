package folder

import (
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/store/storeutil"
	"github.com/dalemusser/stratavault/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestNew(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	if store == nil {
		t.Fatal("New() returned nil")
	}
}

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	input := CreateInput{
		Name:        "Test Folder",
		Color:       "#4a90d9",
		OwnerID:     owner,
		CreatedByID: owner,
	}

	folder, err := store.Create(ctx, input)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if folder.ID.IsZero() {
		t.Error("ID should not be zero")
	}
	if folder.Name != input.Name {
		t.Errorf("Name = %v, want %v", folder.Name, input.Name)
	}
	if folder.NameCI != "test folder" {
		t.Errorf("NameCI = %q, want %q", folder.NameCI, "test folder")
	}
	if folder.ParentID != nil {
		t.Error("ParentID should be nil for root folder")
	}
	if folder.IsDeleted {
		t.Error("new folder should not be deleted")
	}
}

func TestStore_Create_DuplicateSibling(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	if _, err := store.Create(ctx, CreateInput{Name: "Docs", OwnerID: owner, CreatedByID: owner}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err := store.Create(ctx, CreateInput{Name: "DOCS", OwnerID: owner, CreatedByID: owner})
	if !storeutil.IsDuplicateKey(err) {
		t.Errorf("duplicate sibling: got %v, want duplicate key error", err)
	}

	// Another owner may use the same name.
	other := primitive.NewObjectID()
	if _, err := store.Create(ctx, CreateInput{Name: "Docs", OwnerID: other, CreatedByID: other}); err != nil {
		t.Errorf("Create() for other owner error = %v", err)
	}
}

func TestStore_Create_TrashedSiblingDoesNotConflict(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	itemStore := items.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	first, _ := store.Create(ctx, CreateInput{Name: "Docs", OwnerID: owner, CreatedByID: owner})
	if _, err := itemStore.MarkTrashed(ctx, []primitive.ObjectID{first.ID}, owner, first.ID, time.Now()); err != nil {
		t.Fatalf("MarkTrashed() error = %v", err)
	}

	if _, err := store.Create(ctx, CreateInput{Name: "Docs", OwnerID: owner, CreatedByID: owner}); err != nil {
		t.Errorf("Create() beside trashed sibling error = %v", err)
	}
}

func TestStore_GetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	itemStore := items.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	created, _ := store.Create(ctx, CreateInput{Name: "Test", OwnerID: owner, CreatedByID: owner})

	folder, err := store.GetByID(ctx, created.ID, storeutil.Active)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if folder.Name != "Test" {
		t.Errorf("Name = %v, want Test", folder.Name)
	}

	_, err = store.GetByID(ctx, primitive.NewObjectID(), storeutil.Active)
	if err != mongo.ErrNoDocuments {
		t.Errorf("GetByID() non-existent error = %v, want ErrNoDocuments", err)
	}

	itemStore.MarkTrashed(ctx, []primitive.ObjectID{created.ID}, owner, created.ID, time.Now())
	if _, err := store.GetByID(ctx, created.ID, storeutil.Active); err != mongo.ErrNoDocuments {
		t.Errorf("GetByID(Active) on trashed folder error = %v, want ErrNoDocuments", err)
	}
	if _, err := store.GetByID(ctx, created.ID, storeutil.Trashed); err != nil {
		t.Errorf("GetByID(Trashed) error = %v", err)
	}
}

func TestStore_SetColor(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	created, _ := store.Create(ctx, CreateInput{Name: "Test", OwnerID: owner, CreatedByID: owner})

	if err := store.SetColor(ctx, created.ID, "#ff0000"); err != nil {
		t.Fatalf("SetColor() error = %v", err)
	}
	folder, _ := store.GetByID(ctx, created.ID, storeutil.Active)
	if folder.Color != "#ff0000" {
		t.Errorf("Color = %q, want #ff0000", folder.Color)
	}

	if err := store.SetColor(ctx, primitive.NewObjectID(), "#ff0000"); !errors.Is(err, mongo.ErrNoDocuments) {
		t.Errorf("SetColor() non-existent error = %v, want ErrNoDocuments", err)
	}
}

func TestStore_Delete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	created, err := store.Create(ctx, CreateInput{Name: "Test", OwnerID: owner, CreatedByID: owner})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	child, err := store.Create(ctx, CreateInput{Name: "Child", ParentID: &created.ID, OwnerID: owner, CreatedByID: owner})
	if err != nil {
		t.Fatalf("Create() child error = %v", err)
	}

	deleted, err := store.Delete(ctx, created.ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted {
		t.Error("Delete() should refuse a folder with an active child")
	}

	if deleted, _ := store.Delete(ctx, child.ID); !deleted {
		t.Fatal("Delete() should remove the empty child")
	}
	if deleted, _ := store.Delete(ctx, created.ID); !deleted {
		t.Error("Delete() should remove the now-empty folder")
	}
	if _, err := store.GetByID(ctx, created.ID, storeutil.Any); err != mongo.ErrNoDocuments {
		t.Error("folder should be deleted")
	}
	if deleted, _ := store.Delete(ctx, created.ID); deleted {
		t.Error("Delete() should report false for a missing folder")
	}
}

func TestStore_Create_ParentMustBeActive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	parent, err := store.Create(ctx, CreateInput{Name: "Parent", OwnerID: owner, CreatedByID: owner})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := items.New(db).MarkTrashed(ctx, []primitive.ObjectID{parent.ID}, owner, parent.ID, time.Now()); err != nil {
		t.Fatalf("MarkTrashed() error = %v", err)
	}

	_, err = store.Create(ctx, CreateInput{Name: "Late", ParentID: &parent.ID, OwnerID: owner, CreatedByID: owner})
	if !errors.Is(err, items.ErrParentInactive) {
		t.Errorf("Create() under trashed parent error = %v, want ErrParentInactive", err)
	}
	missing := primitive.NewObjectID()
	_, err = store.Create(ctx, CreateInput{Name: "Orphan", ParentID: &missing, OwnerID: owner, CreatedByID: owner})
	if !errors.Is(err, items.ErrParentInactive) {
		t.Errorf("Create() under missing parent error = %v, want ErrParentInactive", err)
	}
}

func TestStore_GetAncestors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	root, _ := store.Create(ctx, CreateInput{Name: "Root", OwnerID: owner, CreatedByID: owner})
	level1, _ := store.Create(ctx, CreateInput{Name: "Level1", ParentID: &root.ID, OwnerID: owner, CreatedByID: owner})
	level2, _ := store.Create(ctx, CreateInput{Name: "Level2", ParentID: &level1.ID, OwnerID: owner, CreatedByID: owner})

	ancestors, err := store.GetAncestors(ctx, level2.ID)
	if err != nil {
		t.Fatalf("GetAncestors() error = %v", err)
	}
	if len(ancestors) != 2 {
		t.Fatalf("len(ancestors) = %d, want 2", len(ancestors))
	}
	if ancestors[0].Name != "Root" || ancestors[1].Name != "Level1" {
		t.Errorf("ancestors = [%s %s], want [Root Level1]", ancestors[0].Name, ancestors[1].Name)
	}

	ancestors, err = store.GetAncestors(ctx, root.ID)
	if err != nil {
		t.Fatalf("GetAncestors() root error = %v", err)
	}
	if len(ancestors) != 0 {
		t.Errorf("root should have no ancestors, got %d", len(ancestors))
	}
}

func TestStore_GetPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	owner := primitive.NewObjectID()
	root, _ := store.Create(ctx, CreateInput{Name: "Root", OwnerID: owner, CreatedByID: owner})
	child, _ := store.Create(ctx, CreateInput{Name: "Child", ParentID: &root.ID, OwnerID: owner, CreatedByID: owner})

	path, err := store.GetPath(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetPath() error = %v", err)
	}
	if len(path) != 2 {
		t.Fatalf("len(path) = %d, want 2", len(path))
	}
	if path[0].ID != root.ID || path[1].ID != child.ID {
		t.Error("path should be root then child")
	}
}
