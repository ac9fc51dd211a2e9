package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shtable/stbsync/internal/credential"
	"github.com/shtable/stbsync/internal/digestauth"
	"github.com/shtable/stbsync/internal/localstore"
	"github.com/shtable/stbsync/internal/reconcile"
	"github.com/shtable/stbsync/internal/sharedtable"
	"github.com/shtable/stbsync/internal/store"
)

const testAdminSecret = "test-admin-secret"

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	st := store.NewMemStore()
	digest := digestauth.NewServer("shtable", func(username string) (string, bool) {
		if username == "alice" || username == "bob" {
			return "s3cret", true
		}
		return "", false
	})
	srv := NewServer(
		map[string]*Table{"people": {Store: st, Format: reconcile.FormatSTBCSV}},
		digest,
		&AdminAuth{Secret: testAdminSecret},
		nil,
	)
	return httptest.NewServer(srv.Routes()), srv
}

func newTestClient(t *testing.T, baseURL, username string) *sharedtable.SharedTable {
	t.Helper()
	doc := localstore.New(localstore.Repository{
		URL:         baseURL + "/tables/people",
		Realm:       "shtable",
		Username:    username,
		PasswordRef: "s3cret",
	}, "stbcsv")
	return sharedtable.New(doc, credential.Static{}, nil)
}

// TestE1Bootstrap mirrors spec.md §8 scenario E1: client A pushes a header
// and three rows; client B starts empty, pulls, and sees identical rows.
func TestE1Bootstrap(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	a := newTestClient(t, ts.URL, "alice")
	a.Doc.Rows[0] = &localstore.SyncedRow{ID: 0, Version: 1, Data: "Name,Age"}
	for _, data := range []string{"Bob,10", "Carol,20", "Dave,30"} {
		a.Doc.NewRows = append(a.Doc.NewRows, &localstore.PendingRow{Data: data})
	}
	if err := a.Push(ctx); err != nil {
		t.Fatalf("bootstrap push: %v", err)
	}
	if len(a.Doc.NewRows) != 0 {
		t.Fatalf("pending rows not drained: %v", a.Doc.NewRows)
	}

	b := newTestClient(t, ts.URL, "bob")
	changes, conflicts, err := b.Pull(ctx)
	if err != nil {
		t.Fatalf("b pull: %v", err)
	}
	if changes != 4 || conflicts != 0 {
		t.Fatalf("b pull: changes=%d conflicts=%d, want 4,0", changes, conflicts)
	}
	if len(b.Doc.Rows) != 4 {
		t.Fatalf("b rows = %d, want 4", len(b.Doc.Rows))
	}
	for id, want := range map[int64]string{0: "Name,Age", 1: "Bob,10", 2: "Carol,20", 3: "Dave,30"} {
		if got := b.Doc.Rows[id].Data; got != want {
			t.Fatalf("b row %d = %q, want %q", id, got, want)
		}
	}
}

// TestE3Conflict mirrors spec.md §8 scenario E3: two clients modify the same
// row from the same pulled_version; whichever pushes second sees the
// conflict_count and the row in conflict_rows on its next pull.
func TestE3Conflict(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	setup := newTestClient(t, ts.URL, "alice")
	setup.Doc.Rows[0] = &localstore.SyncedRow{ID: 0, Version: 1, Data: "Name,Age"}
	if err := setup.Push(ctx); err != nil {
		t.Fatalf("seed header: %v", err)
	}
	setup.Doc.NewRows = append(setup.Doc.NewRows, &localstore.PendingRow{Data: "Ivan,14"})
	if err := setup.Push(ctx); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	a := newTestClient(t, ts.URL, "alice")
	if _, _, err := a.Pull(ctx); err != nil {
		t.Fatalf("a pull: %v", err)
	}
	b := newTestClient(t, ts.URL, "bob")
	if _, _, err := b.Pull(ctx); err != nil {
		t.Fatalf("b pull: %v", err)
	}

	a.Doc.Rows[1].Data = "Ivan,14"
	a.Doc.Rows[1].Modified = true
	b.Doc.Rows[1].Data = "Ivan,15"
	b.Doc.Rows[1].Modified = true

	if err := b.Push(ctx); err != nil {
		t.Fatalf("b push: %v", err)
	}
	if b.Doc.Rows[1].Version != 2 {
		t.Fatalf("b's row version = %d, want 2", b.Doc.Rows[1].Version)
	}

	if err := a.Push(ctx); err != nil {
		t.Fatalf("a push: %v", err)
	}
	if !a.Doc.Rows[1].Modified {
		t.Fatalf("a's row should still be marked modified after a lost conflict")
	}

	if _, _, err := a.Pull(ctx); err != nil {
		t.Fatalf("a pull after conflict: %v", err)
	}
	cr, ok := a.Doc.ConflictRows[1]
	if !ok {
		t.Fatalf("a has no conflict row for id 1")
	}
	if cr.Version != 2 || cr.Data != "Ivan,15" {
		t.Fatalf("conflict row = %+v, want version=2 data=Ivan,15", cr)
	}
}

func TestAddColumnAdminEndpointRequiresToken(t *testing.T) {
	ts, srv := newTestServer(t)
	defer ts.Close()
	_ = srv

	client := ts.Client()
	resp, err := client.Post(ts.URL+"/admin/tables/people/add-column", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 401 {
		t.Fatalf("status = %d, want 401 without a bearer token", resp.StatusCode)
	}
}

// TestAddColumnAdminEndpointAppliesColumn mirrors spec.md §8 scenario E5,
// driven through the admin HTTP endpoint rather than coltool directly.
func TestAddColumnAdminEndpointAppliesColumn(t *testing.T) {
	ts, srv := newTestServer(t)
	defer ts.Close()
	ctx := context.Background()

	st := srv.Tables["people"].Store
	if err := st.Insert(ctx, 0, 1, 1, "alice", "Name,Age"); err != nil {
		t.Fatal(err)
	}
	if err := st.Insert(ctx, 1, 1, 1, "alice", "Bob,10"); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/admin/tables/people/add-column",
		strings.NewReader(`{"after":"Name","new":"Email"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	header, err := st.FetchHeader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if header.Data != "Name,Email,Age" {
		t.Fatalf("header = %q, want Name,Email,Age", header.Data)
	}
	row, err := st.Read(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if row.Data != "Bob,,10" {
		t.Fatalf("row 1 = %q, want Bob,,10", row.Data)
	}

	// Idempotent: re-applying is a no-op.
	req2, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/tables/people/add-column",
		strings.NewReader(`{"after":"Name","new":"Email"}`))
	req2.Header.Set("Authorization", "Bearer "+adminToken(t))
	req2.Header.Set("Content-Type", "application/json")
	resp2, err := ts.Client().Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("idempotent re-apply status = %d, want 200", resp2.StatusCode)
	}
	header2, err := st.FetchHeader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if header2.Data != "Name,Email,Age" {
		t.Fatalf("header after no-op re-apply = %q, want unchanged", header2.Data)
	}
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin@example.com"})
	s, err := tok.SignedString([]byte(testAdminSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}
