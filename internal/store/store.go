// Package store defines the repository store contract: a durable keyed
// table of (id -> row) with version/tver bookkeeping, plus a Postgres-backed
// implementation. Rows are never deleted.
package store

import "context"

// Row is one stored row: id, per-row version, the table-version at which it
// was last written, the last writer, and the opaque text payload.
type Row struct {
	ID      int64
	Version int64
	TVer    int64
	User    string
	Data    string
}

// Store is the interface the server reconciliation engine consumes. It is
// the only seam between reconcile and the concrete database backend.
type Store interface {
	// CurrentTableVersion returns max(tver) across all rows, or 0 if empty.
	CurrentTableVersion(ctx context.Context) (int64, error)

	// ScanSince returns every row with tver > cursor, ordered ascending by
	// id. When includeHeader is true the id=0 row is included unconditionally
	// (format-conditional per the stbcsv header-verification use case).
	ScanSince(ctx context.Context, cursor int64, includeHeader bool) ([]Row, error)

	// Read returns the row at id, or nil if absent.
	Read(ctx context.Context, id int64) (*Row, error)

	// FetchHeader returns the id=0 row, or nil if absent.
	FetchHeader(ctx context.Context) (*Row, error)

	// UpdateIf performs a conditional update: it matches iff a row exists at
	// id with version == expectedPrevVersion, and if so rewrites it to
	// (newVersion, tver, user, data). Returns whether it matched.
	UpdateIf(ctx context.Context, id, expectedPrevVersion, newVersion, tver int64, user, data string) (bool, error)

	// Insert creates a new row with exactly the id it is given; it never
	// chooses an id. reconcile assigns MaxID()+1 onward per batch itself so
	// that a batch of N new rows gets contiguous ids.
	Insert(ctx context.Context, id int64, version, tver int64, user, data string) error

	// MaxID returns the highest assigned id, or -1 if the table is empty.
	MaxID(ctx context.Context) (int64, error)

	// WithTx runs fn inside a single serializable transaction scoped to one
	// push request, per the design's "at most one max(tver) read plus N
	// conditional updates plus M inserts" atomicity requirement. fn's Store
	// argument is transaction-scoped; the transaction commits iff fn returns
	// nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
