package store

import (
	"database/sql"
	"fmt"
)

// Open opens the database for dialect and prepares its schema. For SQLite
// source is a file path, for Postgres a DSN. The caller closes the returned
// *sql.DB.
func Open(dialect Dialect, source string) (*Store, *sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		db, err = OpenSQLite(source)
	case DialectPostgres:
		db, err = OpenPostgres(source)
	default:
		return nil, nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	s, err := New(db, dialect)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}
