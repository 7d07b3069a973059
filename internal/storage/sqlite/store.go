// Package sqlite implements the storage interfaces on an embedded SQLite
// database (modernc.org/sqlite, CGO-free). One store file exists per scope.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"net/url"
	"os"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mnemon-dev/mnemon/internal/storage"
)

// Ensure *Store satisfies the full contract at compile time.
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using SQLite.
type Store struct {
	db  *sql.DB
	dsn string
}

// New creates a SQLite store with WAL self-healing. If the initial open
// fails due to stale WAL files (left behind by a crashed process), the
// stale -shm/-wal files are removed and the open is retried once.
// Corrupt or unreadable files surface as storage.ErrStoreUnavailable.
func New(dsn string) (*Store, error) {
	store, err := open(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}

	removeStaleWAL(dbPath)

	store, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: failed after WAL recovery: %v (original: %v)",
			storage.ErrStoreUnavailable, retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// open opens a SQLite database, configures WAL mode, and creates the schema.
func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent
	// invocations. WAL mode lets concurrent readers proceed without ever
	// observing a half-written row.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing immediately when another process holds the
	// write lock.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, dsn: dsn}, nil
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so the next
// invocation opens the database without stale WAL state.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}

	return s.db.Close()
}

// Snapshot writes a consistent point-in-time copy of the store to path
// using VACUUM INTO, which handles WAL mode correctly.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: snapshot path is required", storage.ErrInvalidInput)
	}

	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sqlite: failed to clear snapshot target: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO %s", quoteSQLString(path))); err != nil {
		return fmt.Errorf("sqlite: snapshot failed: %w", err)
	}

	return verifyIntegrity(path)
}

// Restore atomically replaces all rows from a snapshot file. The snapshot
// is verified, the live connection is checkpointed and closed, the file is
// copied into place, and the store is reopened.
func (s *Store) Restore(ctx context.Context, path string) error {
	if err := verifyIntegrity(path); err != nil {
		return fmt.Errorf("sqlite: snapshot verification failed: %w", err)
	}

	dbPath := dbPathFromDSN(s.dsn)
	if dbPath == "" {
		return fmt.Errorf("%w: cannot restore an in-memory store", storage.ErrInvalidInput)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint before restore failed (non-fatal): %v", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: failed to close store before restore: %w", err)
	}

	if err := copyFile(path, dbPath); err != nil {
		return fmt.Errorf("sqlite: failed to copy snapshot into place: %w", err)
	}
	removeStaleWAL(dbPath)

	reopened, err := open(s.dsn)
	if err != nil {
		return fmt.Errorf("%w: reopen after restore failed: %v", storage.ErrStoreUnavailable, err)
	}
	s.db = reopened.db

	return nil
}

// verifyIntegrity opens a database read-only and runs integrity_check.
func verifyIntegrity(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// copyFile copies src over dst and fsyncs the result.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// GetMeta returns the value stored under key, or storage.ErrNotFound.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: GetMeta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a key/value row.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("sqlite: SetMeta %q: %w", key, err)
	}
	return nil
}

// serializeVector encodes a float32 vector as a little-endian BLOB.
func serializeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector decodes a little-endian BLOB into a float32 vector.
func deserializeVector(data []byte, dim int) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) != 4*dim {
		return nil, fmt.Errorf("embedding blob is %d bytes, want %d for dimension %d", len(data), 4*dim, dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// quoteSQLString single-quotes a string literal for statements that cannot
// take bound parameters (VACUUM INTO).
func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. Handles
// bare paths and file: URIs. Returns "" for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused
// by stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}
