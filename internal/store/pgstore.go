package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shtable/stbsync/internal/logging"
)

// PoolConfig sizes a pgxpool.Pool. The serve command fills every field from
// its --pg-* flags; short-lived commands such as createtable use
// DefaultPoolConfig.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolConfig is a conservative sizing for short-lived CLI commands
// (e.g. createtable) that open one pool, do one statement, and exit; the
// long-running serve command sizes its own pool from --pg-* flags instead.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          4,
		MinConns:          1,
		MaxConnLifetime:   10 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// OpenPool parses url, applies cfg, and verifies connectivity with a ping.
func OpenPool(ctx context.Context, url string, cfg PoolConfig, log logging.Logger) (*pgxpool.Pool, error) {
	if log == nil {
		log = logging.Nop{}
	}
	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pool: %w", err)
	}
	log.Info("postgres connection pool created", "max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)
	return pool, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting PGStore and
// its transaction-scoped sibling share every query method.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// pgconnCommandTag mirrors pgconn.CommandTag's RowsAffected method so this
// package does not need to import pgconn directly for the Exec signature.
type pgconnCommandTag interface {
	RowsAffected() int64
}

// poolAdapter and txAdapter satisfy querier with the real pgx return types
// (pgconn.CommandTag implements pgconnCommandTag structurally).
type poolAdapter struct{ pool *pgxpool.Pool }

func (p poolAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	return tag, err
}
func (p poolAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}
func (p poolAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

type txAdapter struct{ tx pgx.Tx }

func (t txAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	return tag, err
}
func (t txAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}
func (t txAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

// PGStore implements Store against one Postgres table named Table, with
// columns (id, version, tver, "user", data) and an index on tver, created by
// the server bootstrap CLI.
type PGStore struct {
	q     querier
	pool  *pgxpool.Pool // non-nil only for the top-level (non-transactional) store
	Table string
}

// NewPGStore wraps an already-open pool for table name.
func NewPGStore(pool *pgxpool.Pool, table string) *PGStore {
	return &PGStore{q: poolAdapter{pool}, pool: pool, Table: table}
}

func (s *PGStore) CurrentTableVersion(ctx context.Context) (int64, error) {
	var v int64
	q := fmt.Sprintf(`SELECT COALESCE(MAX(tver), 0) FROM %s`, s.Table)
	if err := s.q.QueryRow(ctx, q).Scan(&v); err != nil {
		return 0, fmt.Errorf("current table version: %w", err)
	}
	return v, nil
}

func (s *PGStore) ScanSince(ctx context.Context, cursor int64, includeHeader bool) ([]Row, error) {
	q := fmt.Sprintf(`SELECT id, version, tver, "user", data FROM %s WHERE tver > $1`, s.Table)
	args := []any{cursor}
	if includeHeader {
		q += ` OR id = 0`
	}
	q += ` ORDER BY id`

	rows, err := s.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scan since %d: %w", cursor, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Version, &r.TVer, &r.User, &r.Data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) Read(ctx context.Context, id int64) (*Row, error) {
	q := fmt.Sprintf(`SELECT id, version, tver, "user", data FROM %s WHERE id = $1`, s.Table)
	var r Row
	err := s.q.QueryRow(ctx, q, id).Scan(&r.ID, &r.Version, &r.TVer, &r.User, &r.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read row %d: %w", id, err)
	}
	return &r, nil
}

func (s *PGStore) FetchHeader(ctx context.Context) (*Row, error) {
	return s.Read(ctx, 0)
}

func (s *PGStore) UpdateIf(ctx context.Context, id, expectedPrevVersion, newVersion, tver int64, user, data string) (bool, error) {
	q := fmt.Sprintf(`UPDATE %s SET version = $1, tver = $2, "user" = $3, data = $4 WHERE id = $5 AND version = $6`, s.Table)
	tag, err := s.q.Exec(ctx, q, newVersion, tver, user, data, id, expectedPrevVersion)
	if err != nil {
		return false, fmt.Errorf("update row %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Insert(ctx context.Context, id int64, version, tver int64, user, data string) error {
	q := fmt.Sprintf(`INSERT INTO %s (id, version, tver, "user", data) VALUES ($1, $2, $3, $4, $5)`, s.Table)
	_, err := s.q.Exec(ctx, q, id, version, tver, user, data)
	if err != nil {
		return fmt.Errorf("insert row %d: %w", id, err)
	}
	return nil
}

func (s *PGStore) MaxID(ctx context.Context) (int64, error) {
	var v *int64
	q := fmt.Sprintf(`SELECT MAX(id) FROM %s`, s.Table)
	if err := s.q.QueryRow(ctx, q).Scan(&v); err != nil {
		return 0, fmt.Errorf("max id: %w", err)
	}
	if v == nil {
		return -1, nil
	}
	return *v, nil
}

// WithTx runs fn inside one Serializable transaction, matching the design's
// assumption that the store provides serialisable semantics for a push
// request's reads and writes.
func (s *PGStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		return errors.New("store: WithTx called on a transaction-scoped store")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	txStore := &PGStore{q: txAdapter{tx}, Table: s.Table}
	if err := fn(ctx, txStore); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateTable creates the relational table and its tver index for a fresh
// shared table. It takes no table type: the type only influences header-row
// handling at the reconcile layer.
func CreateTable(ctx context.Context, pool *pgxpool.Pool, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY,
		version INTEGER NOT NULL,
		tver INTEGER NOT NULL,
		"user" TEXT NOT NULL,
		data TEXT NOT NULL
	)`, table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tver_idx ON %s (tver)`, table, table)
	if _, err := pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("create index on %s: %w", table, err)
	}
	return nil
}
