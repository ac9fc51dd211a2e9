// Package reconcile is the server reconciliation engine: it translates
// pull/push requests into store.Store operations, maintains table-version
// monotonicity, detects header format conflicts, and produces the results
// the transport layer serializes onto the wire.
//
// This package implements both of spec.md's Open Question redesigns
// (documented in DESIGN.md): a FORMAT_CONFLICT aborts the whole push batch
// (rollback) instead of committing prior successful modifications, and
// scan_since only force-includes the id=0 header row for stbcsv tables.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/shtable/stbsync/internal/store"
	"github.com/shtable/stbsync/internal/wire"
)

// Format selects header-row handling. Only stbcsv treats id=0 specially.
type Format string

const (
	FormatSTBCSV Format = "stbcsv"
	FormatCSV    Format = "csv"
	FormatOther  Format = "other"
)

// ModRow is a client-submitted modification to an existing row.
type ModRow struct {
	ID      int64
	Version int64
	Data    string
}

// PullResult is the server's answer to a pull request.
type PullResult struct {
	Version int64
	Rows    []store.Row
}

// PushResult is the server's answer to a push request.
type PushResult struct {
	Result        wire.Result
	Version       int64
	ConflictCount int
	ModifiedIDs   []int64 // arbitrary order, per spec.md §4.2 step 5
	NewIDs        []int64 // submission order, per spec.md §4.2 step 5
}

// ErrInvalidRow is returned when a client submits a structurally invalid
// modification (header row at a version other than 1, or a general row with
// version < 1). The caller's transaction is rolled back; this is "any other
// failure" in the §4.2 request state machine, not a parsed-XML BadRequest.
var ErrInvalidRow = errors.New("reconcile: invalid row submission")

// errFormatConflictAbort signals the transaction closure to roll back after
// a header mismatch; PushHandler translates it into a normal
// FORMAT_CONFLICT result rather than propagating it as a Go error.
var errFormatConflictAbort = errors.New("reconcile: header format conflict")

// PullHandler implements spec.md §4.2's pull handler.
func PullHandler(ctx context.Context, st store.Store, pulledVersion int64, format Format) (PullResult, error) {
	cur, err := st.CurrentTableVersion(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("reconcile: pull: %w", err)
	}
	rows, err := st.ScanSince(ctx, pulledVersion, format == FormatSTBCSV)
	if err != nil {
		return PullResult{}, fmt.Errorf("reconcile: pull: %w", err)
	}
	return PullResult{Version: cur, Rows: rows}, nil
}

// PushHandler implements spec.md §4.2's push handler inside a single
// transaction obtained from st.WithTx.
func PushHandler(ctx context.Context, st store.Store, user string, mods []ModRow, news []string, format Format) (PushResult, error) {
	var result PushResult

	txErr := st.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		cur, err := tx.CurrentTableVersion(ctx)
		if err != nil {
			return err
		}
		tver := cur + 1

		var modIDs, newIDs []int64
		conflictCount := 0

		for _, m := range mods {
			if m.ID == 0 && format == FormatSTBCSV {
				if m.Version != 1 {
					return fmt.Errorf("%w: header must be submitted at version 1", ErrInvalidRow)
				}
				existing, err := tx.FetchHeader(ctx)
				if err != nil {
					return err
				}
				switch {
				case existing == nil:
					if err := tx.Insert(ctx, 0, 1, tver, user, m.Data); err != nil {
						return err
					}
				case existing.Data == m.Data:
					// no-op: client's header matches what is already stored.
				default:
					result = PushResult{Result: wire.ResultFormatConflict, Version: cur}
					return errFormatConflictAbort
				}
				continue
			}

			if m.Version < 1 {
				return fmt.Errorf("%w: row %d submitted with version %d", ErrInvalidRow, m.ID, m.Version)
			}
			matched, err := tx.UpdateIf(ctx, m.ID, m.Version-1, m.Version, tver, user, m.Data)
			if err != nil {
				return err
			}
			if matched {
				modIDs = append(modIDs, m.ID)
			} else {
				conflictCount++
			}
		}

		maxID, err := tx.MaxID(ctx)
		if err != nil {
			return err
		}
		nextID := maxID + 1
		for _, data := range news {
			if err := tx.Insert(ctx, nextID, 1, tver, user, data); err != nil {
				return err
			}
			newIDs = append(newIDs, nextID)
			nextID++
		}

		if len(modIDs) == 0 && len(newIDs) == 0 {
			tver--
		}

		result = PushResult{
			Result:        wire.ResultOK,
			Version:       tver,
			ConflictCount: conflictCount,
			ModifiedIDs:   modIDs,
			NewIDs:        newIDs,
		}
		return nil
	})

	if txErr != nil {
		if errors.Is(txErr, errFormatConflictAbort) {
			return result, nil
		}
		return PushResult{}, fmt.Errorf("reconcile: push: %w", txErr)
	}
	return result, nil
}
