// Package sqlite persists throughput samples, rollups and stream SRIs in a
// SQLite database through modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/eugener/sinksocket/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Samples arrive in batches from one recorder, so writes go through a single
// connection while stats queries share a small reader pool.
const pragmas = "_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=foreign_keys(1)"

// Store implements storage.Store on SQLite.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens dsn (a file path or ":memory:"), applies pending migrations and
// returns a ready Store.
func New(dsn string) (*Store, error) {
	source := sourceName(dsn)

	write, err := openPool(source, 1)
	if err != nil {
		return nil, fmt.Errorf("open write pool: %w", err)
	}
	read, err := openPool(source, max(4, runtime.NumCPU()))
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}

	s := &Store{write: write, read: read}
	if err := s.migrate(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// sourceName builds the driver DSN. An in-memory database needs a shared
// cache or each pool would see its own empty schema.
func sourceName(dsn string) string {
	if dsn == ":memory:" {
		return "file::memory:?mode=memory&cache=shared&" + pragmas
	}
	return "file:" + dsn + "?" + pragmas
}

func openPool(source string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", source)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	return db, nil
}

func (s *Store) migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, s.write, sub)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Ping checks both pools.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.write.PingContext(ctx); err != nil {
		return fmt.Errorf("write pool: %w", err)
	}
	if err := s.read.PingContext(ctx); err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	return nil
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
