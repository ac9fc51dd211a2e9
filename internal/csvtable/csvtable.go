// Package csvtable is the CSV façade over a localstore.Document: it exposes
// the synced-plus-pending rows as an id-ordered CSV stream for reading, and
// a positional writer that diffs each written row back against what was
// read, matching the legacy reader-then-writer contract of the original
// client library (see Design Notes: "Positional CSV writer semantics").
package csvtable

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/shtable/stbsync/internal/localstore"
)

// Conflict is a handle to one unresolved conflict, positioned at the row
// index it occupies in the last Reader() snapshot.
type Conflict struct {
	index    int
	synced   *localstore.SyncedRow
	conflict *localstore.ConflictRow
	resolved bool
}

// Index is the 0-based position (within the reader snapshot) of the row in
// conflict.
func (c *Conflict) Index() int { return c.index }

// Row returns the conflict's server-side fields, parsed as CSV.
func (c *Conflict) Row() ([]string, error) { return SplitLine(c.conflict.Data) }

// Resolve marks the conflict as resolved: the next Writer() call advances
// the underlying synced row's version to the conflict's version and drops
// the conflict entry, so the caller's next write is treated as the
// resolving edit.
func (c *Conflict) Resolve() { c.resolved = true }

// Disresolve undoes a pending Resolve call made before Writer() was called.
func (c *Conflict) Disresolve() { c.resolved = false }

// Table is a CSV read/write adapter over one localstore.Document.
type Table struct {
	Doc    *localstore.Document
	Format string

	rows      []*localstore.SyncedRow
	newRows   []*localstore.PendingRow
	conflicts []*Conflict

	snapshotTaken bool // set by Reader, cleared by Writer
}

// New wraps doc for CSV access in the given format ("stbcsv", "csv", or
// "other"); only "stbcsv" gets the id=0 header-row special case.
func New(doc *localstore.Document, format string) *Table {
	return &Table{Doc: doc, Format: format}
}

// Reader snapshots the current row ordering — synced rows by ascending id,
// then pending-new rows in insertion order — and returns a csv.Reader over
// their data. It must be called before Writer.
func (t *Table) Reader() (*csv.Reader, error) {
	ids := sortedRowIDs(t.Doc.Rows)

	var lines []string
	t.rows = nil
	t.conflicts = nil
	for idx, id := range ids {
		row := t.Doc.Rows[id]
		t.rows = append(t.rows, row)
		lines = append(lines, row.Data)
		if cr, ok := t.Doc.ConflictRows[id]; ok {
			t.conflicts = append(t.conflicts, &Conflict{index: idx, synced: row, conflict: cr})
		}
	}

	t.newRows = nil
	for _, n := range t.Doc.NewRows {
		t.newRows = append(t.newRows, n)
		lines = append(lines, n.Data)
	}

	t.snapshotTaken = true
	return csv.NewReader(strings.NewReader(strings.Join(lines, "\n"))), nil
}

// GetConflicts returns the unresolved conflicts noted by the last Reader
// call.
func (t *Table) GetConflicts() []*Conflict {
	if t.rows == nil {
		panic("csvtable: GetConflicts called before Reader")
	}
	return t.conflicts
}

// Writer applies any Resolve()d conflicts to the local store, then returns
// a Writer that consumes rows positionally against the Reader snapshot.
// Reader must have been called first, and Writer may not be called twice
// without an intervening Reader call.
func (t *Table) Writer() (*Writer, error) {
	if !t.snapshotTaken {
		return nil, fmt.Errorf("csvtable: Reader must be called before Writer")
	}
	t.snapshotTaken = false

	var remaining []*Conflict
	for _, c := range t.conflicts {
		if c.resolved {
			c.synced.Version = c.conflict.Version
			delete(t.Doc.ConflictRows, c.synced.ID)
		} else {
			remaining = append(remaining, c)
		}
	}
	t.conflicts = remaining

	w := &Writer{t: t}
	return w, nil
}

// Writer consumes rows positionally, matching each against the row at the
// same position in the last Reader() snapshot.
type Writer struct {
	t            *Table
	overallIndex int
	rowIndex     int
	newRowIndex  int
}

// Write submits one row's fields. The k-th call is compared against the
// k-th row from the last Reader() snapshot: existing rows are marked
// modified on a text change, rows past the snapshot become pending-new
// rows, and (stbcsv only) the very first write into an otherwise-empty
// store creates the header row at id 0.
func (w *Writer) Write(fields []string) error {
	line, err := JoinLine(fields)
	if err != nil {
		return err
	}
	t := w.t

	switch {
	case w.rowIndex < len(t.rows):
		row := t.rows[w.rowIndex]
		if row.Data != line {
			row.Data = line
			row.Modified = true
		}
		w.rowIndex++

	case w.newRowIndex < len(t.newRows):
		t.newRows[w.newRowIndex].Data = line
		w.newRowIndex++

	case w.overallIndex == 0 && t.Format == "stbcsv" && t.Doc.Rows[0] == nil:
		header := &localstore.SyncedRow{ID: 0, Version: 1, Data: line}
		t.Doc.Rows[0] = header
		t.rows = append(t.rows, header)
		w.rowIndex++

	default:
		pending := &localstore.PendingRow{Data: line}
		t.Doc.NewRows = append(t.Doc.NewRows, pending)
		t.newRows = append(t.newRows, pending)
		w.newRowIndex++
	}

	w.overallIndex++
	return nil
}

// SplitLine parses one CSV line (no trailing newline) into fields.
func SplitLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	fields, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("csvtable: parse row: %w", err)
	}
	return fields, nil
}

// JoinLine formats fields as one CSV line with no trailing newline.
func JoinLine(fields []string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return "", fmt.Errorf("csvtable: format row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("csvtable: format row: %w", err)
	}
	return strings.TrimRight(buf.String(), "\r\n"), nil
}

func sortedRowIDs(m map[int64]*localstore.SyncedRow) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
