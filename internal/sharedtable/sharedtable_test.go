package sharedtable

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shtable/stbsync/internal/localstore"
)

func newTestTable(t *testing.T, handler http.HandlerFunc) (*SharedTable, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	doc := localstore.New(localstore.Repository{URL: srv.URL}, "stbcsv")
	st := &SharedTable{Doc: doc, Client: srv.Client()}
	return st, srv
}

func xmlResponse(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, body)
}

func TestPullFastForwardAndNewRow(t *testing.T) {
	st, _ := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		xmlResponse(w, `<response><version>3</version><rows>
			<row id="0" version="1">name,qty</row>
			<row id="2" version="2">gadget,7</row>
		</rows></response>`)
	})
	st.Doc.Rows[2] = &localstore.SyncedRow{ID: 2, Version: 1, Data: "gadget,1"}

	changes, conflicts, err := st.Pull(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if changes != 2 || conflicts != 0 {
		t.Fatalf("changes=%d conflicts=%d, want 2/0", changes, conflicts)
	}
	if st.Doc.PulledVersion != 3 {
		t.Fatalf("pulled version = %d, want 3", st.Doc.PulledVersion)
	}
	if st.Doc.Rows[0].Data != "name,qty" || st.Doc.Rows[2].Data != "gadget,7" || st.Doc.Rows[2].Version != 2 {
		t.Fatalf("rows = %+v", st.Doc.Rows)
	}
}

func TestPullModifiedRowBecomesConflict(t *testing.T) {
	st, _ := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		xmlResponse(w, `<response><version>2</version><rows>
			<row id="3" version="2">widget,9</row>
		</rows></response>`)
	})
	st.Doc.Rows[3] = &localstore.SyncedRow{ID: 3, Version: 1, Data: "widget,3", Modified: true}

	changes, conflicts, err := st.Pull(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if changes != 1 || conflicts != 1 {
		t.Fatalf("changes=%d conflicts=%d, want 1/1", changes, conflicts)
	}
	if st.Doc.Rows[3].Data != "widget,3" || !st.Doc.Rows[3].Modified {
		t.Fatalf("local modified row should be untouched: %+v", st.Doc.Rows[3])
	}
	cr, ok := st.Doc.ConflictRows[3]
	if !ok || cr.Version != 2 || cr.Data != "widget,9" {
		t.Fatalf("conflict row = %+v", cr)
	}
}

func TestPullExistingConflictUpdatedOnFurtherServerChange(t *testing.T) {
	st, _ := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		xmlResponse(w, `<response><version>3</version><rows>
			<row id="3" version="3">widget,11</row>
		</rows></response>`)
	})
	st.Doc.Rows[3] = &localstore.SyncedRow{ID: 3, Version: 1, Data: "widget,3", Modified: true}
	st.Doc.ConflictRows[3] = &localstore.ConflictRow{ID: 3, Version: 2, Data: "widget,9"}

	changes, conflicts, err := st.Pull(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if changes != 1 || conflicts != 1 {
		t.Fatalf("changes=%d conflicts=%d, want 1/1", changes, conflicts)
	}
	if st.Doc.ConflictRows[3].Version != 3 || st.Doc.ConflictRows[3].Data != "widget,11" {
		t.Fatalf("conflict row not replaced: %+v", st.Doc.ConflictRows[3])
	}
}

func TestPullHeaderMismatchIsFormatError(t *testing.T) {
	st, _ := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		xmlResponse(w, `<response><version>1</version><rows>
			<row id="0" version="1">name,qty,price</row>
		</rows></response>`)
	})
	st.Doc.Rows[0] = &localstore.SyncedRow{ID: 0, Version: 1, Data: "name,qty"}

	_, _, err := st.Pull(t.Context())
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FormatError", err)
	}
}

func TestPullHeaderAboveVersionOneIsProtocolBreak(t *testing.T) {
	st, _ := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		xmlResponse(w, `<response><version>1</version><rows>
			<row id="0" version="2">name,qty</row>
		</rows></response>`)
	})

	_, _, err := st.Pull(t.Context())
	if !errors.Is(err, ErrProtocolBreak) {
		t.Fatalf("err = %v, want ErrProtocolBreak", err)
	}
	if len(st.Doc.Rows) != 0 {
		t.Fatalf("local state mutated despite protocol break: %+v", st.Doc.Rows)
	}
}

func TestPushNoOpWhenNothingToSubmit(t *testing.T) {
	called := false
	st, _ := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	if err := st.Push(t.Context()); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("push should skip the round trip when there is nothing to submit")
	}
}

func TestPushAppliesAcceptanceAndCursorAdvance(t *testing.T) {
	st, _ := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		xmlResponse(w, `<response><result>OK</result><version>4</version><conflict_count>0</conflict_count>
			<modified_rows><row id="1"/></modified_rows>
			<new_rows><row id="5"/></new_rows>
		</response>`)
	})
	st.Doc.PulledVersion = 3
	st.Doc.Rows[1] = &localstore.SyncedRow{ID: 1, Version: 2, Data: "widget,4", Modified: true}
	st.Doc.NewRows = append(st.Doc.NewRows, &localstore.PendingRow{Data: "gadget,1"})

	if err := st.Push(t.Context()); err != nil {
		t.Fatal(err)
	}
	if st.Doc.Rows[1].Modified || st.Doc.Rows[1].Version != 3 {
		t.Fatalf("row 1 = %+v, want modified=false version=3", st.Doc.Rows[1])
	}
	if st.Doc.Rows[5] == nil || st.Doc.Rows[5].Data != "gadget,1" || st.Doc.Rows[5].Version != 1 {
		t.Fatalf("new row not attached: %+v", st.Doc.Rows[5])
	}
	if len(st.Doc.NewRows) != 0 {
		t.Fatalf("pending container not drained: %+v", st.Doc.NewRows)
	}
	if st.Doc.PulledVersion != 4 {
		t.Fatalf("cursor advance optimisation did not fire: pulled_version=%d", st.Doc.PulledVersion)
	}
}

func TestPushConservationViolationIsProtocolBreak(t *testing.T) {
	st, _ := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		xmlResponse(w, `<response><result>OK</result><version>2</version><conflict_count>0</conflict_count></response>`)
	})
	st.Doc.Rows[1] = &localstore.SyncedRow{ID: 1, Version: 1, Data: "x", Modified: true}

	err := st.Push(t.Context())
	if !errors.Is(err, ErrProtocolBreak) {
		t.Fatalf("err = %v, want ErrProtocolBreak", err)
	}
}

func TestPushFormatConflictReturnsFormatError(t *testing.T) {
	st, _ := newTestTable(t, func(w http.ResponseWriter, r *http.Request) {
		xmlResponse(w, `<response><result>FORMAT_CONFLICT</result><version>1</version><conflict_count>0</conflict_count></response>`)
	})
	st.Doc.Rows[0] = &localstore.SyncedRow{ID: 0, Version: 1, Data: "name,qty,price"}

	err := st.Push(t.Context())
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FormatError", err)
	}
}
