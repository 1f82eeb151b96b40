package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ EntryReader = (*Store)(nil)
	_ EntryWriter = (*Store)(nil)
	_ KV          = (*Store)(nil)
)

// Dialect selects the SQL flavour a Store speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store persists cache entries in a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	var err error
	switch dialect {
	case DialectSQLite:
		err = s.migrate()
	case DialectPostgres:
		err = migratePostgres(db)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// currentSchemaVersion is bumped whenever the SQLite schema changes.
// Postgres schema changes go into migrations/ instead.
const currentSchemaVersion = 1

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: cache_entries
	}
	if len(migrations) != currentSchemaVersion {
		return fmt.Errorf("have %d migrations for schema version %d", len(migrations), currentSchemaVersion)
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the initial schema (v0 → v1).
func (s *Store) migrateV1() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS cache_entries (
		id         TEXT PRIMARY KEY,
		namespace  TEXT NOT NULL,
		owner      TEXT NOT NULL,
		repo       TEXT NOT NULL,
		value      TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cache_entries_key ON cache_entries(namespace, owner, repo);
	`)
	return err
}

// ---------------------------------------------------------------------------
// Entries
// ---------------------------------------------------------------------------

const upsertEntry = `
	INSERT INTO cache_entries (id, namespace, owner, repo, value, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(namespace, owner, repo) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

// Get returns the value stored under k, or ok=false if there is none.
func (s *Store) Get(ctx context.Context, k EntryKey) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT value FROM cache_entries WHERE namespace = ? AND owner = ? AND repo = ?`),
		k.Namespace, k.Owner, k.Repo,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s %s/%s: %w", k.Namespace, k.Owner, k.Repo, err)
	}
	return value, true, nil
}

// Put inserts or replaces a single entry.
func (s *Store) Put(ctx context.Context, k EntryKey, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, s.rebind(upsertEntry),
		uuid.New().String(), k.Namespace, k.Owner, k.Repo, value, now, now,
	)
	if err != nil {
		return fmt.Errorf("put %s %s/%s: %w", k.Namespace, k.Owner, k.Repo, err)
	}
	return nil
}

// PutAll writes all entries in one transaction.
func (s *Store) PutAll(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	q := s.rebind(upsertEntry)
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, q,
			uuid.New().String(), e.Namespace, e.Owner, e.Repo, e.Value, now, now,
		); err != nil {
			return fmt.Errorf("put %s %s/%s: %w", e.Namespace, e.Owner, e.Repo, err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
