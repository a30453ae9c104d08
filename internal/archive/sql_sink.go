package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Dialect selects placeholder style and column types for a SQL sink.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const defaultPostgresDSN = "postgres://localhost/workspacestore?sslmode=disable"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the opener used by the SQL sinks and returns a
// restore func. Tests use it to inject stub drivers.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

// SQLSink keeps documents in a snapshots table keyed by (lineage, version).
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLiteSink opens (or creates) the database file at path.
func NewSQLiteSink(ctx context.Context, path string) (*SQLSink, error) {
	if path == "" {
		path = "workspacestore.db"
	}
	return openSQLSink(ctx, DialectSQLite, "sqlite", path)
}

// NewPostgresSink connects to dsn through pgx.
func NewPostgresSink(ctx context.Context, dsn string) (*SQLSink, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	return openSQLSink(ctx, DialectPostgres, "pgx", dsn)
}

func openSQLSink(ctx context.Context, dialect Dialect, driverName, dsn string) (*SQLSink, error) {
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *SQLSink) DB() *sql.DB { return s.db }

// Dialect reports the SQL flavour in use.
func (s *SQLSink) Dialect() Dialect { return s.dialect }

func (s *SQLSink) ensureTable(ctx context.Context) error {
	payloadType := "BLOB"
	if s.dialect == DialectPostgres {
		payloadType = "JSONB"
	}
	ddl := `CREATE TABLE IF NOT EXISTS snapshots (
		lineage TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at TEXT NOT NULL,
		payload ` + payloadType + ` NOT NULL,
		PRIMARY KEY (lineage, version)
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure snapshots table: %w", err)
	}
	return nil
}

// bind rewrites ? placeholders to $n for postgres.
func (s *SQLSink) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save inserts doc in a single transaction. A document already stored under
// the same lineage and version is ErrExists.
func (s *SQLSink) Save(ctx context.Context, doc *Document) (err error) {
	raw, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var one int
	err = tx.QueryRowContext(ctx, s.bind(`SELECT 1 FROM snapshots WHERE lineage = ? AND version = ?`),
		doc.Lineage.String(), int64(doc.Version)).Scan(&one)
	switch {
	case err == nil:
		return fmt.Errorf("save %s: %w", doc.Ref(), ErrExists)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup %s: %w", doc.Ref(), err)
	}
	if _, err := tx.ExecContext(ctx, s.bind(`INSERT INTO snapshots (lineage, version, created_at, payload) VALUES (?, ?, ?, ?)`),
		doc.Lineage.String(), int64(doc.Version), doc.CreatedAt.UTC().Format(time.RFC3339Nano), string(raw)); err != nil {
		return fmt.Errorf("insert %s: %w", doc.Ref(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Load returns the document stored under ref, or ErrNotFound.
func (s *SQLSink) Load(ctx context.Context, ref Ref) (*Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT payload FROM snapshots WHERE lineage = ? AND version = ?`),
		ref.Lineage.String(), int64(ref.Version)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	return unmarshalDocument(raw)
}

// List returns the stored refs ordered by lineage then version. uuid.Nil
// lists every lineage.
func (s *SQLSink) List(ctx context.Context, lineage uuid.UUID) ([]Ref, error) {
	query := `SELECT lineage, version FROM snapshots`
	var args []any
	if lineage != uuid.Nil {
		query += ` WHERE lineage = ?`
		args = append(args, lineage.String())
	}
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var refs []Ref
	for rows.Next() {
		var (
			rawLineage string
			version    int64
		)
		if err := rows.Scan(&rawLineage, &version); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(rawLineage)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		refs = append(refs, Ref{Lineage: id, Version: uint64(version)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRefs(refs)
	return refs, nil
}

// Close closes the underlying database handle.
func (s *SQLSink) Close() error { return s.db.Close() }
