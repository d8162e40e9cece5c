package files

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dalemusser/stratavault/internal/app/system/namespace"
	"github.com/dalemusser/stratavault/internal/app/system/placement"
	"github.com/dalemusser/stratavault/internal/app/system/quota"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dalemusser/stratavault/internal/testutil"
	"github.com/dalemusser/waffle/pantry/storage"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type memContent struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memContent) Put(_ context.Context, path string, r io.Reader, _ *storage.PutOptions) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[path] = b
	return nil
}

func (m *memContent) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memContent) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, path)
	return nil
}

type env struct {
	api    http.Handler
	public http.Handler
	access *sharing.Resolver
	ns     *namespace.Manager
}

func newEnv(db *mongo.Database) env {
	log := zap.NewNop()
	access := sharing.New(db, nil, nil, nil, log)
	ns := namespace.New(db, access, nil, log)
	ledger := quota.New(db, nil, log)
	content := &memContent{objs: map[string][]byte{}}
	policy := placement.Policy{MaxSize: 1 << 20, BlockedExtensions: []string{"exe"}}
	svc := placement.New(db, content, access, ledger, policy, nil, nil, log)
	h := NewHandler(svc, ns, access, "https://vault.example.com/", nil, log)
	return env{api: Routes(h), public: PublicRoutes(h), access: access, ns: ns}
}

func serve(h http.Handler, r *http.Request) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func uploadRequest(target, body, contentType string, a models.Account) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return testutil.WithAccount(r, a)
}

func TestUploadAndDownload(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := newEnv(db)
	alice := testutil.CreateAccount(t, db, "Alice", 1000)

	rec := serve(e.api, uploadRequest("/?name=notes.txt", "hello world", "text/plain", alice))
	rec.AssertStatus(t, http.StatusCreated)
	var f FileResponse
	rec.DecodeJSON(t, &f)
	if f.Name != "notes.txt" || f.Size != 11 || f.Category != "text" || f.SizeHuman != "11 B" {
		t.Errorf("upload response = %+v", f)
	}

	rec = serve(e.api, testutil.NewAuthenticatedRequest(http.MethodGet, "/"+f.ID.Hex()+"/content", alice))
	rec.AssertStatus(t, http.StatusOK)
	if rec.Body.String() != "hello world" {
		t.Errorf("content = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "inline") {
		t.Errorf("Content-Disposition = %q, want inline", got)
	}

	rec = serve(e.api, testutil.NewAuthenticatedRequest(http.MethodGet, "/"+f.ID.Hex()+"/content?download=1", alice))
	if got := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", got)
	}

	rec = serve(e.api, testutil.NewAuthenticatedRequest(http.MethodGet, "/"+f.ID.Hex(), alice))
	rec.AssertStatus(t, http.StatusOK)
	rec.DecodeJSON(t, &f)
	if f.DownloadCount != 2 {
		t.Errorf("DownloadCount = %d, want 2", f.DownloadCount)
	}
}

func TestUploadErrors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := newEnv(db)
	alice := testutil.CreateAccount(t, db, "Alice", 10)

	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"over quota", "/?name=big.txt", "more than ten bytes", http.StatusInsufficientStorage},
		{"blocked extension", "/?name=setup.exe", "MZ", http.StatusUnsupportedMediaType},
		{"missing name", "/", "abc", http.StatusBadRequest},
		{"empty body", "/?name=empty.txt", "", http.StatusBadRequest},
		{"bad folder", "/?name=a.txt&folder_id=nope", "abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e.api, uploadRequest(tt.target, tt.body, "text/plain", alice))
			rec.AssertStatus(t, tt.status)
		})
	}
}

func TestUploadFilenameHeader(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := newEnv(db)
	alice := testutil.CreateAccount(t, db, "Alice", 1000)

	r := uploadRequest("/", "data", "", alice)
	r.Header.Set(FilenameHeader, "Q3%20plan.txt")
	rec := serve(e.api, r)
	rec.AssertStatus(t, http.StatusCreated)
	rec.AssertContains(t, `"name":"Q3 plan.txt"`)
}

func TestUpdateFile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := newEnv(db)
	alice := testutil.CreateAccount(t, db, "Alice", 1000)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	docs, err := e.ns.CreateFolder(ctx, alice.ID, namespace.CreateFolderInput{Name: "Docs"})
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	var f FileResponse
	serve(e.api, uploadRequest("/?name=a.txt", "abc", "text/plain", alice)).DecodeJSON(t, &f)

	body := map[string]string{"name": "b.txt", "parent_id": docs.ID.Hex()}
	rec := serve(e.api, testutil.NewJSONRequest(http.MethodPatch, "/"+f.ID.Hex(), body, alice))
	rec.AssertStatus(t, http.StatusOK)
	rec.DecodeJSON(t, &f)
	if f.Name != "b.txt" || f.ParentID == nil || *f.ParentID != docs.ID {
		t.Errorf("after update = %+v", f)
	}

	// Folders are not files.
	rec = serve(e.api, testutil.NewAuthenticatedRequest(http.MethodGet, "/"+docs.ID.Hex(), alice))
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestPublicLink(t *testing.T) {
	db := testutil.SetupTestDB(t)
	e := newEnv(db)
	alice := testutil.CreateAccount(t, db, "Alice", 1000)
	bob := testutil.CreateAccount(t, db, "Bob", 1000)

	var f FileResponse
	serve(e.api, uploadRequest("/?name=flyer.txt", "open house", "text/plain", alice)).DecodeJSON(t, &f)

	rec := serve(e.api, testutil.NewAuthenticatedRequest(http.MethodPost, "/"+f.ID.Hex()+"/public-link", bob))
	rec.AssertStatus(t, http.StatusNotFound)

	rec = serve(e.api, testutil.NewAuthenticatedRequest(http.MethodPost, "/"+f.ID.Hex()+"/public-link", alice))
	rec.AssertStatus(t, http.StatusOK)
	var link PublicLinkResponse
	rec.DecodeJSON(t, &link)
	if link.URL != "https://vault.example.com/public/"+link.Token {
		t.Errorf("URL = %q", link.URL)
	}

	rec = serve(e.api, testutil.NewAuthenticatedRequest(http.MethodGet, "/"+f.ID.Hex(), alice))
	rec.DecodeJSON(t, &f)
	if f.PublicURL != link.URL {
		t.Errorf("PublicURL = %q, want %q", f.PublicURL, link.URL)
	}

	rec = serve(e.public, httptest.NewRequest(http.MethodGet, "/"+link.Token, nil))
	rec.AssertStatus(t, http.StatusOK)
	if rec.Body.String() != "open house" {
		t.Errorf("public body = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "attachment") {
		t.Errorf("public Content-Disposition = %q, want attachment", got)
	}

	rec = serve(e.api, testutil.NewAuthenticatedRequest(http.MethodDelete, "/"+f.ID.Hex()+"/public-link", alice))
	rec.AssertStatus(t, http.StatusNoContent)
	rec = serve(e.public, httptest.NewRequest(http.MethodGet, "/"+link.Token, nil))
	rec.AssertStatus(t, http.StatusNotFound)
}
