// Package localstore is the client-side persistent document: repository
// coordinates plus the three row containers a SharedTable reconciles
// against (synced rows, conflict rows, pending-new rows). It is the XML
// analogue of a local config file, saved with the same temp-then-rename
// atomicity the teacher's config packages use for their JSON documents.
package localstore

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

// SyncedRow is a row already known to both client and server.
type SyncedRow struct {
	ID       int64  `xml:"id,attr"`
	Version  int64  `xml:"version,attr"`
	Modified bool   `xml:"modified,attr,omitempty"`
	Data     string `xml:",chardata"`
}

// ConflictRow is the server's version of a row the client also modified
// locally; it sits alongside (not replacing) the synced row until resolved.
type ConflictRow struct {
	ID      int64  `xml:"id,attr"`
	Version int64  `xml:"version,attr"`
	Data    string `xml:",chardata"`
}

// PendingRow is a row created locally and not yet pushed to the server.
type PendingRow struct {
	Data string `xml:",chardata"`
}

// Repository holds the connection coordinates for the table this document
// mirrors. PasswordRef is the reference a credential.Provider resolves:
// credential.Env reads an "env:NAME" reference from the environment, while
// credential.Static (the CLI default) uses it as the literal password.
type Repository struct {
	URL         string `xml:"url"`
	Realm       string `xml:"realm"`
	Username    string `xml:"username"`
	PasswordRef string `xml:"password"`
}

// document is the on-disk XML shape.
type document struct {
	XMLName       xml.Name      `xml:"shared_table"`
	Repository    Repository    `xml:"repository"`
	Format        string        `xml:"format"`
	PulledVersion int64         `xml:"pulled_version"`
	Rows          []SyncedRow   `xml:"rows>row"`
	ConflictRows  []ConflictRow `xml:"conflict_rows>row"`
	NewRows       []PendingRow  `xml:"new_rows>row"`
}

// Document is the loaded, in-memory form of the local store: the
// coordinates plus the three row containers, indexed by id for the merge
// engine's classification pass.
type Document struct {
	Repository    Repository
	Format        string
	PulledVersion int64
	Rows          map[int64]*SyncedRow
	ConflictRows  map[int64]*ConflictRow
	NewRows       []*PendingRow
}

// New returns an empty document for a freshly created local store, per
// spec.md §4.3 ("the three containers are auto-created if missing").
func New(repo Repository, format string) *Document {
	return &Document{
		Repository:   repo,
		Format:       format,
		Rows:         make(map[int64]*SyncedRow),
		ConflictRows: make(map[int64]*ConflictRow),
	}
}

// Load reads a local store document from path. A missing file is not an
// error: it returns a fresh, empty document so first-run tooling can create
// one on first save.
func Load(path string, repo Repository, format string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(repo, format), nil
		}
		return nil, fmt.Errorf("localstore: load %s: %w", path, err)
	}

	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("localstore: parse %s: %w", path, err)
	}

	out := &Document{
		Repository:    doc.Repository,
		Format:        doc.Format,
		PulledVersion: doc.PulledVersion,
		Rows:          make(map[int64]*SyncedRow, len(doc.Rows)),
		ConflictRows:  make(map[int64]*ConflictRow, len(doc.ConflictRows)),
	}
	for i := range doc.Rows {
		r := doc.Rows[i]
		out.Rows[r.ID] = &r
	}
	for i := range doc.ConflictRows {
		c := doc.ConflictRows[i]
		out.ConflictRows[c.ID] = &c
	}
	for i := range doc.NewRows {
		n := doc.NewRows[i]
		out.NewRows = append(out.NewRows, &n)
	}
	return out, nil
}

// Save writes the document to path atomically: a temp file is created in
// the same directory, written, and renamed over the target. The previous
// version, if any, is preserved once as path+".bak" rather than discarded,
// per spec.md §4.3 "preserving one prior version as a backup".
func (d *Document) Save(path string) error {
	doc := document{
		Repository:    d.Repository,
		Format:        d.Format,
		PulledVersion: d.PulledVersion,
	}
	for _, id := range sortedRowIDs(d.Rows) {
		doc.Rows = append(doc.Rows, *d.Rows[id])
	}
	for _, id := range sortedConflictIDs(d.ConflictRows) {
		doc.ConflictRows = append(doc.ConflictRows, *d.ConflictRows[id])
	}
	for _, n := range d.NewRows {
		doc.NewRows = append(doc.NewRows, *n)
	}

	data, err := xml.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("localstore: marshal: %w", err)
	}
	data = append([]byte(xml.Header), data...)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("localstore: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("localstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("localstore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localstore: close temp: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("localstore: backup previous version: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("localstore: rename into place: %w", err)
	}
	return nil
}

func sortedRowIDs(m map[int64]*SyncedRow) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sortInt64s(ids)
	return ids
}

func sortedConflictIDs(m map[int64]*ConflictRow) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sortInt64s(ids)
	return ids
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
