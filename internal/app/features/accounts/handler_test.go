package accounts

import (
	"context"
	"net/http"
	"testing"
	"time"

	accountstore "github.com/dalemusser/stratavault/internal/app/store/accounts"
	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/quota"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dalemusser/stratavault/internal/testutil"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func newHandler(db *mongo.Database) *Handler {
	return NewHandler(db, quota.New(db, nil, zap.NewNop()), 1<<20, nil, zap.NewNop())
}

func serve(h http.Handler, r *http.Request) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestMe(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := MeRoutes(newHandler(db), nil, nil)
	alice := testutil.CreateAccount(t, db, "Alice", 2048)

	rec := serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, "/", alice))
	rec.AssertStatus(t, http.StatusOK)
	var got AccountResponse
	rec.DecodeJSON(t, &got)
	if got.ID != alice.ID || got.Usage.QuotaBytes != 2048 {
		t.Errorf("me = %+v", got)
	}

	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, "/usage", alice))
	rec.AssertStatus(t, http.StatusOK)
	var u quota.Usage
	rec.DecodeJSON(t, &u)
	if u.AvailableBytes != 2048 || u.UsedBytes != 0 {
		t.Errorf("usage = %+v", u)
	}
}

func TestMeToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	jwtv := identity.NewJWTVerifier("0123456789abcdef0123456789abcdef", "stratavault")
	alice := testutil.CreateAccount(t, db, "Alice", 2048)

	rec := serve(MeRoutes(newHandler(db), nil, nil), testutil.NewAuthenticatedRequest(http.MethodPost, "/token", alice))
	rec.AssertStatus(t, http.StatusNotFound)

	h := MeRoutes(newHandler(db), nil, &Tokens{Signer: jwtv, TTL: 10 * time.Minute})
	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodPost, "/token", alice))
	rec.AssertStatus(t, http.StatusCreated)
	var got TokenResponse
	rec.DecodeJSON(t, &got)
	if got.ExpiresAt.Before(time.Now().Add(9 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about 10m from now", got.ExpiresAt)
	}
	id, err := jwtv.Verify(context.Background(), got.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id != alice.ID {
		t.Errorf("token subject = %v, want %v", id, alice.ID)
	}
}

func TestAdminCreate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := AdminRoutes(newHandler(db), nil)
	admin := testutil.CreateAccount(t, db, "Root", 0)

	rec := serve(h, testutil.NewJSONRequest(http.MethodPost, "/", map[string]string{
		"email": " Carol@Example.com ", "full_name": "Carol",
	}, admin))
	rec.AssertStatus(t, http.StatusCreated)
	var got AccountResponse
	rec.DecodeJSON(t, &got)
	if got.Email != "carol@example.com" || got.Role != models.RoleUser || got.StorageQuotaBytes != 1<<20 {
		t.Errorf("created = %+v", got.Account)
	}

	rec = serve(h, testutil.NewJSONRequest(http.MethodPost, "/", map[string]string{
		"email": "dave@example.com", "quota": "5 MiB", "role": "admin",
	}, admin))
	rec.AssertStatus(t, http.StatusCreated)
	rec.DecodeJSON(t, &got)
	if got.StorageQuotaBytes != 5<<20 || got.Role != models.RoleAdmin {
		t.Errorf("created = %+v", got.Account)
	}

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"duplicate email", map[string]string{"email": "carol@example.com"}, http.StatusConflict},
		{"missing email", map[string]string{"full_name": "Nobody"}, http.StatusBadRequest},
		{"bad email", map[string]string{"email": "not-an-email"}, http.StatusBadRequest},
		{"bad role", map[string]string{"email": "e@example.com", "role": "owner"}, http.StatusBadRequest},
		{"bad quota", map[string]string{"email": "f@example.com", "quota": "plenty"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, testutil.NewJSONRequest(http.MethodPost, "/", tt.body, admin))
			rec.AssertStatus(t, tt.want)
		})
	}

	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, "/?limit=2", admin))
	rec.AssertStatus(t, http.StatusOK)
	var list ListResponse
	rec.DecodeJSON(t, &list)
	if list.Total != 3 || len(list.Accounts) != 2 {
		t.Errorf("list total=%d len=%d, want 3 and 2", list.Total, len(list.Accounts))
	}
}

func TestAdminUpdate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := AdminRoutes(newHandler(db), nil)
	admin := testutil.CreateAccount(t, db, "Root", 0)
	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	base := "/" + alice.ID.Hex()

	rec := serve(h, testutil.NewJSONRequest(http.MethodPut, base+"/quota", map[string]string{"quota": "2KiB"}, admin))
	rec.AssertStatus(t, http.StatusOK)
	var u quota.Usage
	rec.DecodeJSON(t, &u)
	if u.QuotaBytes != 2048 {
		t.Errorf("QuotaBytes = %d, want 2048", u.QuotaBytes)
	}
	rec = serve(h, testutil.NewJSONRequest(http.MethodPut, base+"/quota", map[string]int64{"quota_bytes": 10}, admin))
	rec.AssertStatus(t, http.StatusOK)
	rec = serve(h, testutil.NewJSONRequest(http.MethodPut, base+"/quota", map[string]int64{"quota_bytes": -1}, admin))
	rec.AssertStatus(t, http.StatusBadRequest)

	rec = serve(h, testutil.NewJSONRequest(http.MethodPut, base+"/status", map[string]string{"status": "Disabled"}, admin))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"status":"disabled"`)
	rec = serve(h, testutil.NewJSONRequest(http.MethodPut, base+"/status", map[string]string{"status": "gone"}, admin))
	rec.AssertStatus(t, http.StatusBadRequest)

	rec = serve(h, testutil.NewJSONRequest(http.MethodPut, base+"/role", map[string]string{"role": "admin"}, admin))
	rec.AssertStatus(t, http.StatusOK)
	rec = serve(h, testutil.NewJSONRequest(http.MethodPut, "/"+admin.ID.Hex()+"/role", map[string]string{"role": "user"}, admin))
	rec.AssertStatus(t, http.StatusForbidden)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	got, err := accountstore.New(db).GetByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StorageQuotaBytes != 10 || got.Status != models.StatusDisabled || got.Role != models.RoleAdmin {
		t.Errorf("account = %+v", got)
	}

	missing := "/" + "000000000000000000000000"
	rec = serve(h, testutil.NewAuthenticatedRequest(http.MethodGet, missing, admin))
	rec.AssertStatus(t, http.StatusNotFound)
	rec = serve(h, testutil.NewJSONRequest(http.MethodPut, missing+"/status", map[string]string{"status": "active"}, admin))
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestAdminReconcile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	h := AdminRoutes(newHandler(db), nil)
	admin := testutil.CreateAccount(t, db, "Root", 0)
	alice := testutil.CreateAccount(t, db, "Alice", 1000)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	if ok, err := accountstore.New(db).AdjustUsed(ctx, alice.ID, 0, 700); err != nil || !ok {
		t.Fatalf("AdjustUsed: %v, %v", ok, err)
	}

	rec := serve(h, testutil.NewAuthenticatedRequest(http.MethodPost, "/"+alice.ID.Hex()+"/reconcile", admin))
	rec.AssertStatus(t, http.StatusOK)
	var got ReconcileResponse
	rec.DecodeJSON(t, &got)
	if got.Before != 700 || got.After != 0 || !got.Corrected {
		t.Errorf("reconcile = %+v", got)
	}
}
