package localstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsEmptyDocument(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "missing.xml"), Repository{URL: "http://x"}, "stbcsv")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Rows) != 0 || len(doc.ConflictRows) != 0 || len(doc.NewRows) != 0 {
		t.Fatalf("expected empty containers, got %+v", doc)
	}
	if doc.Repository.URL != "http://x" {
		t.Fatalf("repository not carried through: %+v", doc.Repository)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.xml")
	doc := New(Repository{URL: "http://srv/t", Realm: "shared-table", Username: "alice", PasswordRef: "env:ALICE_PW"}, "stbcsv")
	doc.PulledVersion = 7
	doc.Rows[0] = &SyncedRow{ID: 0, Version: 1, Data: "name,qty"}
	doc.Rows[1] = &SyncedRow{ID: 1, Version: 3, Data: "widget,2", Modified: true}
	doc.ConflictRows[1] = &ConflictRow{ID: 1, Version: 4, Data: "widget,9"}
	doc.NewRows = append(doc.NewRows, &PendingRow{Data: "gadget,5"})

	if err := doc.Save(path); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path, Repository{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.PulledVersion != 7 {
		t.Fatalf("pulled version = %d, want 7", reloaded.PulledVersion)
	}
	if reloaded.Repository.Username != "alice" || reloaded.Repository.PasswordRef != "env:ALICE_PW" {
		t.Fatalf("repository not round-tripped: %+v", reloaded.Repository)
	}
	if len(reloaded.Rows) != 2 || reloaded.Rows[1].Data != "widget,2" || !reloaded.Rows[1].Modified {
		t.Fatalf("rows not round-tripped: %+v", reloaded.Rows)
	}
	if len(reloaded.ConflictRows) != 1 || reloaded.ConflictRows[1].Version != 4 {
		t.Fatalf("conflict rows not round-tripped: %+v", reloaded.ConflictRows)
	}
	if len(reloaded.NewRows) != 1 || reloaded.NewRows[0].Data != "gadget,5" {
		t.Fatalf("new rows not round-tripped: %+v", reloaded.NewRows)
	}
}

func TestSaveRetainsOnePriorBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.xml")
	doc := New(Repository{}, "stbcsv")
	doc.Rows[0] = &SyncedRow{ID: 0, Version: 1, Data: "v1"}
	if err := doc.Save(path); err != nil {
		t.Fatal(err)
	}

	doc.Rows[0].Data = "v2"
	if err := doc.Save(path); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Fatalf("expected a .bak file: %v", err)
	}
	current, err := Load(path, Repository{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if current.Rows[0].Data != "v2" {
		t.Fatalf("current store should hold the latest write, got %q", current.Rows[0].Data)
	}
	backup, err := Load(path+".bak", Repository{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if backup.Rows[0].Data != "v1" {
		t.Fatalf("backup should hold the previous write, got %q", backup.Rows[0].Data)
	}
}
