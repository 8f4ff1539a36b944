package sqlite

import (
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewDB_CreatesDirectory verifies that NewDB creates the parent directory if missing.
func TestNewDB_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "escrow.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err, "NewDB should succeed even with nested non-existent directories")
	defer db.Close()

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err, "Directory should exist after NewDB")
	require.True(t, info.IsDir())

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), info.Mode().Perm(), "Directory should have 0700 permissions")
	}
}

// TestNewDB_RunsMigrations verifies that every store table exists after NewDB.
func TestNewDB_RunsMigrations(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"assets", "directory", "admins", "listings", "escrows", "treasury", "events", "escrow_archive", "schema_migrations"} {
		var name string
		err := db.conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "%s table should exist after migrations", table)
	}

	// The ledger tables belong to the ledger database only.
	var n int
	err = db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='balances'").Scan(&n)
	require.NoError(t, err)
	require.Zero(t, n)
}

// TestNewDB_MigrationVersion verifies the recorded version matches the newest embedded migration.
func TestNewDB_MigrationVersion(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	defer db.Close()

	entries, err := fs.ReadDir(migrationFS, storeMigrations)
	require.NoError(t, err)
	require.Len(t, entries, 8, "each migration has an up and a down file")

	var (
		version int
		dirty   bool
	)
	err = db.conn.QueryRow("SELECT version, dirty FROM schema_migrations").Scan(&version, &dirty)
	require.NoError(t, err)
	require.Equal(t, 4, version)
	require.False(t, dirty)
}

// TestNewLedgerDB_RunsMigrations verifies the ledger schema is applied to its own file.
func TestNewLedgerDB_RunsMigrations(t *testing.T) {
	db, err := NewLedgerDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"balances", "custody", "movements"} {
		var name string
		err := db.conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "%s table should exist after migrations", table)
	}
}

// TestNewDB_PreMigrationBackup verifies that a .bak file is created when the database already exists.
func TestNewDB_PreMigrationBackup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "escrow.db")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	_, err = db1.conn.Exec(
		"INSERT INTO assets (id, owner, status, locked, minted_at) VALUES (?, ?, ?, ?, ?)",
		1, "alice", "pending", 0, 1000,
	)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	info, err := os.Stat(dbPath + ".bak")
	require.NoError(t, err, "Backup file should exist after second NewDB")
	require.False(t, info.IsDir())
	require.Greater(t, info.Size(), int64(0))

	// Reopening does not re-run migrations or lose rows.
	var owner string
	require.NoError(t, db2.conn.QueryRow("SELECT owner FROM assets WHERE id = 1").Scan(&owner))
	require.Equal(t, "alice", owner)
}

// TestNewDB_Pragmas verifies WAL mode, foreign keys and the busy timeout.
func TestNewDB_Pragmas(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	defer db.Close()

	var journalMode string
	require.NoError(t, db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, db.conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)

	var busyTimeout int
	require.NoError(t, db.conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.Equal(t, busyTimeoutMs, busyTimeout)
}

// TestNewDB_ForeignKeysEnforced verifies a listing cannot reference a missing asset.
func TestNewDB_ForeignKeysEnforced(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.conn.Exec(
		"INSERT INTO listings (asset_id, seller, price, active, created_at) VALUES (?, ?, ?, ?, ?)",
		42, "alice", "10", 1, 1000,
	)
	require.Error(t, err)
}

// TestNewDB_LockConsistencyCheck verifies the schema rejects a locked flag that disagrees with the status.
func TestNewDB_LockConsistencyCheck(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.conn.Exec(
		"INSERT INTO assets (id, owner, status, locked, minted_at) VALUES (?, ?, ?, ?, ?)",
		1, "alice", "verified", 1, 1000,
	)
	require.Error(t, err)
}

// TestDB_Close verifies that the connection closes cleanly.
func TestDB_Close(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.Error(t, db.conn.Ping(), "Ping should fail after Close")
}

// TestDB_Connection verifies that Connection returns the underlying *sql.DB.
func TestDB_Connection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "escrow.db")
	db, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	conn := db.Connection()
	require.IsType(t, (*sql.DB)(nil), conn)
	require.NoError(t, conn.Ping())
	require.Equal(t, dbPath, db.Path())
}

// TestNewDB_MultipleCalls verifies that opening the same database twice is safe.
func TestNewDB_MultipleCalls(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "escrow.db")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db1.Close()

	db2, err := NewDB(dbPath)
	require.NoError(t, err, "Second NewDB should succeed (WAL mode allows concurrent access)")
	defer db2.Close()

	var count1, count2 int
	require.NoError(t, db1.conn.QueryRow("SELECT COUNT(*) FROM events").Scan(&count1))
	require.NoError(t, db2.conn.QueryRow("SELECT COUNT(*) FROM events").Scan(&count2))
	require.Equal(t, count1, count2)
}

// TestNewDB_InvalidPath verifies that NewDB fails when the parent cannot be created.
func TestNewDB_InvalidPath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := NewDB(filepath.Join(blocker, "escrow.db"))
	require.Error(t, err, "NewDB should fail when a path component is a regular file")
}
