package shares

import (
	"net/http"
	"testing"

	accountstore "github.com/dalemusser/stratavault/internal/app/store/accounts"
	"github.com/dalemusser/stratavault/internal/app/store/audit"
	"github.com/dalemusser/stratavault/internal/app/system/auditlog"
	"github.com/dalemusser/stratavault/internal/app/system/namespace"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dalemusser/stratavault/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func newRouter(db *mongo.Database) (http.Handler, *namespace.Manager) {
	log := zap.NewNop()
	access := sharing.New(db, nil, nil, nil, log)
	trail := auditlog.New(audit.New(db), log, auditlog.Config{Sharing: auditlog.DB})
	h := NewHandler(access, accountstore.New(db), trail, log)
	r := chi.NewRouter()
	r.Route("/items", func(r chi.Router) { MountItems(r, h) })
	r.Mount("/shares", Routes(h))
	MountShared(r, h)
	return r, namespace.New(db, access, nil, log)
}

func serve(h http.Handler, r *http.Request) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestReadGrant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h, ns := newRouter(db)
	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	bob := testutil.CreateAccount(t, db, "Bob", 1000)
	carol := testutil.CreateAccount(t, db, "Carol", 1000)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	team, err := ns.CreateFolder(ctx, alice.ID, namespace.CreateFolderInput{Name: "Team"})
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if _, err := ns.CreateFolder(ctx, alice.ID, namespace.CreateFolderInput{Name: "Q3", ParentID: &team.ID}); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	body := map[string]string{"grantee_email": " BOB@example.com ", "permission": "Read"}
	rec := serve(h, testutil.NewJSONRequest(http.MethodPost, "/items/"+team.ID.Hex()+"/shares", body, alice))
	rec.AssertStatus(t, http.StatusCreated)
	var g models.ShareGrant
	rec.DecodeJSON(t, &g)
	if g.GranteeID != bob.ID || g.Permission != models.PermissionRead {
		t.Errorf("grant = %+v", g)
	}

	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, "/shared-with-me", bob))
	rec.AssertStatus(t, http.StatusOK)
	var shared SharedList
	rec.DecodeJSON(t, &shared)
	if len(shared.Items) != 1 || shared.Items[0].ID != team.ID {
		t.Fatalf("shared-with-me = %+v", shared.Items)
	}

	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, "/shared/"+team.ID.Hex()+"/children", bob))
	rec.AssertStatus(t, http.StatusOK)
	var children EntryList
	rec.DecodeJSON(t, &children)
	if len(children.Items) != 1 || children.Items[0].Name != "Q3" || children.Items[0].Permission != models.PermissionRead {
		t.Errorf("children = %+v", children.Items)
	}

	// Read grantees cannot manage shares.
	body = map[string]string{"grantee_id": carol.ID.Hex(), "permission": "read"}
	rec = serve(h, testutil.NewJSONRequest(http.MethodPost, "/items/"+team.ID.Hex()+"/shares", body, bob))
	rec.AssertStatus(t, http.StatusForbidden)
	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, "/items/"+team.ID.Hex()+"/shares", bob))
	rec.AssertStatus(t, http.StatusForbidden)
	rec = serve(h, testutil.NewJSONRequest(http.MethodPatch, "/shares/"+g.ID.Hex(), map[string]string{"permission": "admin"}, bob))
	rec.AssertStatus(t, http.StatusForbidden)

	// Strangers see nothing.
	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, "/shared/"+team.ID.Hex()+"/children", carol))
	rec.AssertStatus(t, http.StatusNotFound)

	// The grantee may leave the share.
	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodDelete, "/shares/"+g.ID.Hex(), bob))
	rec.AssertStatus(t, http.StatusNoContent)
	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, "/shared/"+team.ID.Hex()+"/children", bob))
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestManageGrants(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h, ns := newRouter(db)
	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	bob := testutil.CreateAccount(t, db, "Bob", 1000)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	docs, err := ns.CreateFolder(ctx, alice.ID, namespace.CreateFolderInput{Name: "Docs"})
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"unknown email", map[string]string{"grantee_email": "nobody@example.com", "permission": "read"}, http.StatusNotFound},
		{"no grantee", map[string]string{"permission": "read"}, http.StatusBadRequest},
		{"bad grantee id", map[string]string{"grantee_id": "zz", "permission": "read"}, http.StatusBadRequest},
		{"bad permission", map[string]string{"grantee_id": bob.ID.Hex(), "permission": "owner"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, testutil.NewJSONRequest(http.MethodPost, "/items/"+docs.ID.Hex()+"/shares", tt.body, alice))
			rec.AssertStatus(t, tt.status)
		})
	}

	var g models.ShareGrant
	body := map[string]string{"grantee_id": bob.ID.Hex(), "permission": "write"}
	serve(h, testutil.NewJSONRequest(http.MethodPost, "/items/"+docs.ID.Hex()+"/shares", body, alice)).DecodeJSON(t, &g)

	rec := serve(h, testutil.NewJSONRequest(http.MethodPatch, "/shares/"+g.ID.Hex(), map[string]string{"permission": "admin"}, alice))
	rec.AssertStatus(t, http.StatusOK)
	rec.DecodeJSON(t, &g)
	if g.Permission != models.PermissionAdmin {
		t.Errorf("Permission = %q, want admin", g.Permission)
	}

	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, "/items/"+docs.ID.Hex()+"/shares", alice))
	rec.AssertStatus(t, http.StatusOK)
	var list GrantList
	rec.DecodeJSON(t, &list)
	if len(list.Grants) != 1 || list.Grants[0].GranteeEmail != "bob@example.com" {
		t.Errorf("grants = %+v", list.Grants)
	}

	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodDelete, "/shares/"+g.ID.Hex(), alice))
	rec.AssertStatus(t, http.StatusNoContent)

	events, err := audit.New(db).Query(ctx, audit.QueryFilter{ItemID: &docs.ID})
	if err != nil {
		t.Fatalf("audit Query() error = %v", err)
	}
	want := []string{audit.EventShareRevoked, audit.EventShareUpdated, audit.EventShareGranted}
	if len(events) != len(want) {
		t.Fatalf("audit events = %d, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.EventType != want[i] || e.ActorID == nil || *e.ActorID != alice.ID {
			t.Errorf("event %d = %s by %v, want %s by alice", i, e.EventType, e.ActorID, want[i])
		}
	}
}

func TestGrant_EmailLookupNeedsManageAccess(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h, ns := newRouter(db)
	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	bob := testutil.CreateAccount(t, db, "Bob", 1000)
	carol := testutil.CreateAccount(t, db, "Carol", 1000)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	docs, err := ns.CreateFolder(ctx, alice.ID, namespace.CreateFolderInput{Name: "Docs"})
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	read := map[string]string{"grantee_id": bob.ID.Hex(), "permission": "read"}
	serve(h, testutil.NewJSONRequest(http.MethodPost, "/items/"+docs.ID.Hex()+"/shares", read, alice)).AssertStatus(t, http.StatusCreated)

	url := "/items/" + docs.ID.Hex() + "/shares"
	tests := []struct {
		name   string
		actor  models.Account
		status int
	}{
		{"read grantee", bob, http.StatusForbidden},
		{"stranger", carol, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			known := serve(h, testutil.NewJSONRequest(http.MethodPost, url, map[string]string{"grantee_email": "alice@example.com", "permission": "read"}, tt.actor))
			unknown := serve(h, testutil.NewJSONRequest(http.MethodPost, url, map[string]string{"grantee_email": "nobody@example.com", "permission": "read"}, tt.actor))
			known.AssertStatus(t, tt.status)
			unknown.AssertStatus(t, tt.status)
			if known.Body.String() != unknown.Body.String() {
				t.Errorf("responses differ by email: %q vs %q", known.Body.String(), unknown.Body.String())
			}
		})
	}
}
