// Package sharedtable is the client merge engine: it drives pull/push
// round trips against one repository table and reconciles the results into
// a localstore.Document in place. A SharedTable instance is single-threaded
// and not safe for concurrent use, matching the cooperative-per-handle
// scheduling model the reference client assumes.
package sharedtable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/shtable/stbsync/internal/credential"
	"github.com/shtable/stbsync/internal/digestauth"
	"github.com/shtable/stbsync/internal/localstore"
	"github.com/shtable/stbsync/internal/logging"
	"github.com/shtable/stbsync/internal/wire"
)

// SyncError is a recoverable failure: a network error, an empty or
// malformed response, or a non-OK push result.
type SyncError struct{ Message string }

func (e *SyncError) Error() string { return e.Message }

// FormatError is a SyncError specific to stbcsv header disagreement: either
// the server rejected a push with FORMAT_CONFLICT, or a pulled header
// row's data disagrees with the locally stored header.
type FormatError struct{ SyncError }

// Unwrap lets errors.As match a *FormatError as a *SyncError.
func (e *FormatError) Unwrap() error { return &e.SyncError }

func newFormatError(format string, args ...any) *FormatError {
	return &FormatError{SyncError{Message: fmt.Sprintf(format, args...)}}
}

func newSyncError(format string, args ...any) *SyncError {
	return &SyncError{Message: fmt.Sprintf(format, args...)}
}

// ErrProtocolBreak marks a fatal programmer-error class invariant
// violation (a header pulled above version 1, duplicate ids in one
// response, a push whose accounting doesn't conserve). Detecting it aborts
// the operation before any further local-store mutation.
var ErrProtocolBreak = errors.New("sharedtable: server response violates a protocol invariant")

// SharedTable reconciles one localstore.Document against its repository.
type SharedTable struct {
	Doc    *localstore.Document
	Client *http.Client
	Log    logging.Logger
}

// New builds a SharedTable for doc. Its HTTP client answers the server's
// Digest challenge with the document's username and the password cred
// resolves from the document's password reference; the realm is taken from
// the challenge, not from the document.
func New(doc *localstore.Document, cred credential.Provider, log logging.Logger) *SharedTable {
	if log == nil {
		log = logging.Nop{}
	}
	transport := &digestauth.ClientTransport{
		Username:    doc.Repository.Username,
		PasswordRef: doc.Repository.PasswordRef,
		Provider:    cred,
	}
	return &SharedTable{
		Doc:    doc,
		Client: &http.Client{Transport: transport},
		Log:    log,
	}
}

func (t *SharedTable) do(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Doc.Repository.URL, bytes.NewReader(body))
	if err != nil {
		return nil, newSyncError("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, newSyncError("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newSyncError("reading response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newSyncError("server returned status %d", resp.StatusCode)
	}
	if len(respBody) == 0 {
		return nil, newSyncError("empty response body")
	}
	return respBody, nil
}

// Pull fetches rows newer than Doc.PulledVersion and classifies each
// against the local containers per the pull merge table. It returns the
// number of rows that changed local state and how many of those are new or
// updated conflicts.
func (t *SharedTable) Pull(ctx context.Context) (countChanges, countConflicts int, err error) {
	pv := t.Doc.PulledVersion
	body, err := wire.Encode(&wire.Request{Type: wire.TypePull, PulledVersion: &pv})
	if err != nil {
		return 0, 0, newSyncError("encode pull request: %v", err)
	}

	respBody, err := t.do(ctx, body)
	if err != nil {
		return 0, 0, err
	}
	resp, err := wire.DecodePullResponse(respBody)
	if err != nil {
		return 0, 0, newSyncError("decode pull response: %v", err)
	}

	if err := validatePullRows(resp.Rows, t.Doc.Format); err != nil {
		return 0, 0, err
	}

	for _, row := range resp.Rows {
		if cr, ok := t.Doc.ConflictRows[row.ID]; ok {
			if cr.Version != row.Version {
				cr.Version = row.Version
				cr.Data = row.Data
				countChanges++
				countConflicts++
			}
			continue
		}

		if sr, ok := t.Doc.Rows[row.ID]; ok {
			if row.ID == 0 && t.Doc.Format == "stbcsv" && sr.Data != row.Data {
				return countChanges, countConflicts, newFormatError("local header %q disagrees with server header %q", sr.Data, row.Data)
			}
			switch {
			case sr.Version == row.Version:
				// already known, nothing to do
			case !sr.Modified:
				sr.Version = row.Version
				sr.Data = row.Data
				countChanges++
			default:
				t.Doc.ConflictRows[row.ID] = &localstore.ConflictRow{ID: row.ID, Version: row.Version, Data: row.Data}
				countChanges++
				countConflicts++
			}
			continue
		}

		t.Doc.Rows[row.ID] = &localstore.SyncedRow{ID: row.ID, Version: row.Version, Data: row.Data}
		countChanges++
	}

	t.Doc.PulledVersion = resp.Version
	t.Log.Debug("pull complete", "changes", countChanges, "conflicts", countConflicts, "version", resp.Version)
	return countChanges, countConflicts, nil
}

func validatePullRows(rows []wire.Row, format string) error {
	seen := make(map[int64]bool, len(rows))
	for _, r := range rows {
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate row id %d in pull response", ErrProtocolBreak, r.ID)
		}
		seen[r.ID] = true
		if r.ID == 0 && format == "stbcsv" && r.Version > 1 {
			return fmt.Errorf("%w: header pulled at version %d, want 1", ErrProtocolBreak, r.Version)
		}
	}
	return nil
}

// submittedMod is one row submitted in a push's <rows>, tracked so the
// response can be matched back to the local row it came from.
type submittedMod struct {
	id         int64
	newVersion int64
	isHeader   bool
}

// Push builds a push request from modified synced rows and pending-new
// rows, submits it, and reconciles the response back into the document.
// If there is nothing to submit, Push is a no-op and skips the round trip.
func (t *SharedTable) Push(ctx context.Context) error {
	var req wire.Request
	req.Type = wire.TypePush

	var mods []submittedMod
	for _, id := range sortedRowIDs(t.Doc.Rows) {
		row := t.Doc.Rows[id]
		switch {
		case id == 0 && t.Doc.Format == "stbcsv":
			req.Rows = append(req.Rows, wire.Row{ID: 0, Version: 1, Data: row.Data})
			mods = append(mods, submittedMod{id: 0, newVersion: 1, isHeader: true})
		case row.Modified:
			newVersion := row.Version + 1
			req.Rows = append(req.Rows, wire.Row{ID: id, Version: newVersion, Data: row.Data})
			mods = append(mods, submittedMod{id: id, newVersion: newVersion})
		}
	}
	for _, n := range t.Doc.NewRows {
		req.NewRows = append(req.NewRows, wire.Row{Data: n.Data})
	}

	if len(req.Rows) == 0 && len(req.NewRows) == 0 {
		return nil
	}

	body, err := wire.Encode(&req)
	if err != nil {
		return newSyncError("encode push request: %v", err)
	}
	respBody, err := t.do(ctx, body)
	if err != nil {
		return err
	}
	resp, err := wire.DecodePushResponse(respBody)
	if err != nil {
		return newSyncError("decode push response: %v", err)
	}

	if resp.Result == wire.ResultFormatConflict {
		return newFormatError("server rejected push: header format conflict")
	}
	if resp.Result != wire.ResultOK {
		return newSyncError("unexpected push result %q", resp.Result)
	}
	if err := validatePushResponse(resp); err != nil {
		return err
	}

	modVersionByID := make(map[int64]int64, len(mods))
	for _, m := range mods {
		if !m.isHeader {
			modVersionByID[m.id] = m.newVersion
		}
	}

	for _, idrow := range resp.ModifiedRows {
		row, ok := t.Doc.Rows[idrow.ID]
		if !ok {
			return fmt.Errorf("%w: server acknowledged modified row %d not tracked locally", ErrProtocolBreak, idrow.ID)
		}
		newVersion, ok := modVersionByID[idrow.ID]
		if !ok {
			return fmt.Errorf("%w: server acknowledged row %d that was not submitted as modified", ErrProtocolBreak, idrow.ID)
		}
		row.Modified = false
		row.Version = newVersion
	}

	if len(resp.NewRows) > len(t.Doc.NewRows) {
		return fmt.Errorf("%w: server acknowledged more new rows than were submitted", ErrProtocolBreak)
	}
	for i, idrow := range resp.NewRows {
		pending := t.Doc.NewRows[i]
		t.Doc.Rows[idrow.ID] = &localstore.SyncedRow{ID: idrow.ID, Version: 1, Data: pending.Data}
	}
	t.Doc.NewRows = t.Doc.NewRows[len(resp.NewRows):]

	submittedNonHeader := 0
	for _, m := range mods {
		if !m.isHeader {
			submittedNonHeader++
		}
	}
	submitted := submittedNonHeader + len(req.NewRows)
	accepted := len(resp.ModifiedRows) + len(resp.NewRows)
	if submitted != accepted+resp.ConflictCount {
		return fmt.Errorf("%w: submitted=%d accepted=%d conflicts=%d", ErrProtocolBreak, submitted, accepted, resp.ConflictCount)
	}

	if accepted > 0 && resp.Version == t.Doc.PulledVersion+1 {
		t.Doc.PulledVersion = resp.Version
	}

	t.Log.Debug("push complete", "accepted", accepted, "conflicts", resp.ConflictCount, "version", resp.Version)
	return nil
}

func validatePushResponse(resp *wire.PushResponse) error {
	seen := make(map[int64]bool, len(resp.ModifiedRows)+len(resp.NewRows))
	for _, r := range resp.ModifiedRows {
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate id %d in push response", ErrProtocolBreak, r.ID)
		}
		seen[r.ID] = true
	}
	for _, r := range resp.NewRows {
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate id %d in push response", ErrProtocolBreak, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

func sortedRowIDs(m map[int64]*localstore.SyncedRow) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
