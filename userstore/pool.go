package userstore

import (
	"context"
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// PoolConfig holds the parameters for opening a SQLite connection pool.
// Path is required; all other fields have sensible defaults.
type PoolConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. The file is created if it does not
	// exist.
	Path string

	// PoolSize is the number of connections in the pool. If zero or
	// negative, defaults to max(runtime.NumCPU(), 4). SQLite serializes
	// writes regardless of pool size; extra connections help concurrent
	// Exists lookups.
	PoolSize int

	// OnConnect is called once per connection after the standard pragmas
	// are applied.
	OnConnect func(conn *sqlite.Conn) error
}

// pool is a fixed-size pool of SQLite connections with WAL pragmas applied.
// It is safe for concurrent use; individual connections are not.
type pool struct {
	inner *sqlitex.Pool
	path  string
}

// openPool creates a new connection pool. All connections are initialized
// lazily on first take.
func openPool(cfg PoolConfig) (*pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("userstore: Path is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("userstore: opening %s: %w", cfg.Path, err)
	}

	log.Infof("SQLite pool opened at %s (pool size %d)", cfg.Path, poolSize)

	return &pool{inner: inner, path: cfg.Path}, nil
}

// take borrows a connection from the pool. Blocks until a connection is
// available or ctx is cancelled. The caller must put it back.
func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("userstore: take: %w", err)
	}
	return conn, nil
}

// put returns a connection to the pool. Safe to call with nil.
func (p *pool) put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// close closes all connections in the pool. Blocks until all borrowed
// connections are returned.
func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		log.Errorf("SQLite pool close error for %s: %v", p.path, err)
		return fmt.Errorf("userstore: closing %s: %w", p.path, err)
	}
	log.Infof("SQLite pool closed at %s", p.path)
	return nil
}

// prepareConnection applies the standard pragmas and then calls the optional
// OnConnect callback. This runs once per connection in the pool, on first use.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("userstore: %s: %w", pragma, err)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("userstore: OnConnect: %w", err)
		}
	}

	return nil
}
