// Package sqlite provides the SQLite backends for the escrow store and the funds ledger.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
)

//go:embed migrations/store/*.sql migrations/ledger/*.sql
var migrationFS embed.FS

const (
	storeMigrations  = "migrations/store"
	ledgerMigrations = "migrations/ledger"
	migrationsTable  = "schema_migrations"
	busyTimeoutMs    = 5000

	// ledgerSchema is the name the ledger file is attached under by NewMarketDB.
	ledgerSchema = "ledger"
)

// DB wraps a SQLite connection pool whose schema has been migrated.
type DB struct {
	conn       *sql.DB
	path       string
	ledgerPath string
}

// NewDB opens the store database at path, creating the parent directory and
// applying pending migrations. An existing file is copied to path+".bak" first.
func NewDB(path string) (*DB, error) {
	return open(path, storeMigrations, "wal")
}

// NewLedgerDB opens a standalone funds ledger database at path. Movements on
// it commit independently of any store transaction.
func NewLedgerDB(path string) (*DB, error) {
	return open(path, ledgerMigrations, "wal")
}

// NewMarketDB opens the store at storePath with the ledger at ledgerPath attached
// to every connection, so one transaction covers store writes and fund movements.
// Both files are migrated first and use a rollback journal: SQLite commits across
// attached files atomically only outside WAL mode.
func NewMarketDB(storePath, ledgerPath string) (*DB, error) {
	for _, m := range []struct{ path, dir string }{
		{ledgerPath, ledgerMigrations},
		{storePath, storeMigrations},
	} {
		db, err := open(m.path, m.dir, "delete")
		if err != nil {
			return nil, err
		}
		if err := db.Close(); err != nil {
			return nil, fmt.Errorf("failed to close migrated database: %w", err)
		}
	}

	attach := fmt.Sprintf("ATTACH DATABASE %s AS %s", quote(filepath.ToSlash(ledgerPath)), ledgerSchema)
	conn, err := driver.Open(dsn(storePath, "delete"), func(c *sqlite3.Conn) error {
		return c.Exec(attach)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Debug(log.CatStore, "market database opened", "path", storePath, "ledger", ledgerPath)
	return &DB{conn: conn, path: storePath, ledgerPath: ledgerPath}, nil
}

func dsn(path, journal string) string {
	return fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(%s)",
		filepath.ToSlash(path), busyTimeoutMs, journal,
	)
}

// quote renders s as an SQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func open(path, migrations, journal string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := backup(path, path+".bak"); err != nil {
			return nil, fmt.Errorf("failed to back up database: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dsn(path, journal))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateUp(conn, migrations); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Debug(log.CatStore, "database opened", "path", path, "migrations", migrations)
	return &DB{conn: conn, path: path}, nil
}

// migrateUp applies every pending migration under dir. The migrate instance is
// not closed because that would close conn.
func migrateUp(conn *sql.DB, dir string) error {
	src, err := iofs.New(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	defer func() { _ = src.Close() }()

	drv, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func backup(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Connection returns the underlying connection pool.
func (db *DB) Connection() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// LedgerPath returns the attached ledger file, or "" when none is attached.
func (db *DB) LedgerPath() string {
	return db.ledgerPath
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Store returns a repository.Store over this database. feeBps seeds the
// treasury until the first fee update is saved.
func (db *DB) Store(feeBps types.BasisPoints) *Store {
	return NewStore(db.conn, feeBps)
}

// Ledger returns a funds ledger over this database. The database must have
// been opened with NewLedgerDB or NewMarketDB.
func (db *DB) Ledger() *Ledger {
	return NewLedger(db.conn)
}
