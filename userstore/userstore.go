// Package userstore is the authoritative user store: a SQLite table with a
// unique username column, accessed through a connection pool.
package userstore

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/jcalabro/gloomtier"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT    NOT NULL UNIQUE,
	email    TEXT
);
`

// Store implements gloomtier.AuthoritativeStore on SQLite. It is safe for
// concurrent use.
type Store struct {
	pool *pool
}

// Open opens the database described by cfg. Call Initialize before use.
func Open(cfg PoolConfig) (*Store, error) {
	p, err := openPool(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

// Initialize creates the users table if it does not exist.
func (s *Store) Initialize(ctx context.Context) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("userstore: creating schema: %w", err)
	}
	log.Debugf("Users table ready")
	return nil
}

// Exists reports whether username is present.
func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.put(conn)

	var found bool
	err = sqlitex.Execute(conn, "SELECT 1 FROM users WHERE username = ?", &sqlitex.ExecOptions{
		Args: []any{username},
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("userstore: query %q: %w", username, err)
	}
	return found, nil
}

// Insert adds username with its metadata. It returns an error wrapping
// gloomtier.ErrConflict when username is already present; the existing row
// is left untouched.
func (s *Store) Insert(ctx context.Context, username string, meta gloomtier.Metadata) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	var email any
	if meta.Email != nil {
		email = *meta.Email
	}
	err = sqlitex.Execute(conn,
		"INSERT INTO users (username, email) VALUES (?, ?) ON CONFLICT (username) DO NOTHING",
		&sqlitex.ExecOptions{Args: []any{username, email}})
	if err != nil {
		return fmt.Errorf("userstore: insert %q: %w", username, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("userstore: insert %q: %w", username, gloomtier.ErrConflict)
	}
	return nil
}

// Get returns the record for username, or false if it is not present.
func (s *Store) Get(ctx context.Context, username string) (gloomtier.Record, bool, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return gloomtier.Record{}, false, err
	}
	defer s.pool.put(conn)

	var (
		rec   gloomtier.Record
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT username, email FROM users WHERE username = ?", &sqlitex.ExecOptions{
		Args: []any{username},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			rec.Username = stmt.ColumnText(0)
			if !stmt.ColumnIsNull(1) {
				email := stmt.ColumnText(1)
				rec.Email = &email
			}
			return nil
		},
	})
	if err != nil {
		return gloomtier.Record{}, false, fmt.Errorf("userstore: get %q: %w", username, err)
	}
	return rec, found, nil
}

// Count returns the number of users.
func (s *Store) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.put(conn)

	var n int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM users", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("userstore: count: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.close()
}
