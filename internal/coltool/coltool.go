// Package coltool implements the column-addition utility of spec.md §4.7:
// inserting a new CSV column, by name, immediately after an existing one,
// across every row of a table — once against a client's local store, once
// (in a single transaction) against the server's repository store.
//
// Grounded on original_source/client/table_csv.py's add_column(), adapted
// from its hand-rolled split/join helpers to csvtable's encoding/csv-backed
// SplitLine/JoinLine.
package coltool

import (
	"context"
	"fmt"

	"github.com/shtable/stbsync/internal/csvtable"
	"github.com/shtable/stbsync/internal/localstore"
	"github.com/shtable/stbsync/internal/store"
)

// AddColumnLocal inserts colNew immediately after colAfter in every row of
// doc, including pending-new and conflict rows. It is idempotent: if
// colNew already sits at the target position, it returns nil without
// changing anything. It must be called before Reader() is used on the same
// document's csvtable.Table.
func AddColumnLocal(doc *localstore.Document, colAfter, colNew string) error {
	if len(doc.Rows) == 0 {
		return fmt.Errorf("coltool: local store has no header row to anchor the new column to")
	}
	header, ok := doc.Rows[0]
	if !ok {
		return fmt.Errorf("coltool: local store has no header row (id 0)")
	}

	headerFields, err := csvtable.SplitLine(header.Data)
	if err != nil {
		return fmt.Errorf("coltool: parse header: %w", err)
	}
	pos, err := columnPosition(headerFields, colAfter)
	if err != nil {
		return err
	}
	if pos < len(headerFields) && headerFields[pos] == colNew {
		return nil // already applied
	}

	if err := insertAt(header, pos, colNew); err != nil {
		return err
	}
	for id, row := range doc.Rows {
		if id == 0 {
			continue
		}
		if err := insertAt(row, pos, ""); err != nil {
			return err
		}
	}
	for _, cr := range doc.ConflictRows {
		if err := insertAtConflict(cr, pos); err != nil {
			return err
		}
	}
	for _, n := range doc.NewRows {
		if err := insertAtPending(n, pos); err != nil {
			return err
		}
	}
	return nil
}

// AddColumnServer performs the server-side equivalent inside one
// transaction: it scans every row of the table, inserts an empty cell (or,
// for the header row, colNew) at the position implied by colAfter, and
// rewrites each row with its version, tver, and user unchanged.
func AddColumnServer(ctx context.Context, st store.Store, colAfter, colNew string) error {
	return st.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		header, err := tx.FetchHeader(ctx)
		if err != nil {
			return err
		}
		if header == nil {
			return fmt.Errorf("coltool: table has no header row")
		}
		headerFields, err := csvtable.SplitLine(header.Data)
		if err != nil {
			return fmt.Errorf("coltool: parse header: %w", err)
		}
		pos, err := columnPosition(headerFields, colAfter)
		if err != nil {
			return err
		}
		if pos < len(headerFields) && headerFields[pos] == colNew {
			return nil // already applied
		}

		maxID, err := tx.MaxID(ctx)
		if err != nil {
			return err
		}
		for id := int64(0); id <= maxID; id++ {
			row, err := tx.Read(ctx, id)
			if err != nil {
				return err
			}
			if row == nil {
				continue
			}
			value := ""
			if id == 0 {
				value = colNew
			}
			newData, err := insertCell(row.Data, pos, value)
			if err != nil {
				return err
			}
			matched, err := tx.UpdateIf(ctx, row.ID, row.Version, row.Version, row.TVer, row.User, newData)
			if err != nil {
				return err
			}
			if !matched {
				return fmt.Errorf("coltool: row %d changed underneath the column-add transaction", id)
			}
		}
		return nil
	})
}

func columnPosition(headerFields []string, colAfter string) (int, error) {
	for i, f := range headerFields {
		if f == colAfter {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("coltool: column %q not found in header", colAfter)
}

func insertCell(line string, pos int, value string) (string, error) {
	fields, err := csvtable.SplitLine(line)
	if err != nil {
		return "", fmt.Errorf("coltool: parse row: %w", err)
	}
	fields = insertField(fields, pos, value)
	return csvtable.JoinLine(fields)
}

func insertField(fields []string, pos int, value string) []string {
	if pos >= len(fields) {
		return append(fields, value)
	}
	out := make([]string, 0, len(fields)+1)
	out = append(out, fields[:pos]...)
	out = append(out, value)
	out = append(out, fields[pos:]...)
	return out
}

func insertAt(row *localstore.SyncedRow, pos int, value string) error {
	newData, err := insertCell(row.Data, pos, value)
	if err != nil {
		return err
	}
	row.Data = newData
	return nil
}

func insertAtConflict(row *localstore.ConflictRow, pos int) error {
	newData, err := insertCell(row.Data, pos, "")
	if err != nil {
		return err
	}
	row.Data = newData
	return nil
}

func insertAtPending(row *localstore.PendingRow, pos int) error {
	newData, err := insertCell(row.Data, pos, "")
	if err != nil {
		return err
	}
	row.Data = newData
	return nil
}
