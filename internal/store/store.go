// Package store provides the SQLite storage layer for extracted codes.
//
// All persisted state lives in a single SQLite database file:
// - Accepted verification codes with extraction provenance
// - Hashes of already-processed messages (dedup across restarts)
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codepal/codepal/internal/otp"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.codepal/codepal.db"

// DefaultFreshWindow is how long a stored code stays eligible for
// autofill. OTPs expire server-side in minutes; offering stale codes is
// worse than offering none.
const DefaultFreshWindow = 5 * time.Minute

// DefaultRetention is how long codes and processed-message hashes are
// kept before Prune removes them.
const DefaultRetention = 7 * 24 * time.Hour

// Code is one persisted extraction result.
type Code struct {
	ID         int64
	Code       string
	Confidence float64
	Method     otp.Method
	Language   otp.Language
	Source     string // where the message was seen (domain, app)
	Reasoning  string
	Context    string // redacted snippet around the code, for review
	CreatedAt  time.Time
}

// Stats holds observability counters about the store.
type Stats struct {
	CodeCount      int64
	FreshCount     int64
	ProcessedCount int64
	DBSizeBytes    int64
}

// Config holds configuration for NewStore.
type Config struct {
	DBPath      string
	FreshWindow time.Duration
	Retention   time.Duration
}

// Store defines the persistence interface.
type Store interface {
	// Codes
	SaveCode(ctx context.Context, c *Code) (int64, error)
	LatestFresh(ctx context.Context) (*Code, error)
	ListCodes(ctx context.Context, limit int) ([]*Code, error)

	// Message dedup
	MarkProcessed(ctx context.Context, hash string) error
	WasProcessed(ctx context.Context, hash string) (bool, error)

	// Maintenance
	Prune(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db          *sql.DB
	dbPath      string
	freshWindow time.Duration
	retention   time.Duration
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg Config) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	if cfg.FreshWindow <= 0 {
		cfg.FreshWindow = DefaultFreshWindow
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:          db,
		dbPath:      cfg.DBPath,
		freshWindow: cfg.FreshWindow,
		retention:   cfg.Retention,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS codes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL,
			confidence REAL NOT NULL,
			method TEXT NOT NULL,
			language TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_codes_created_at ON codes(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS processed_messages (
			hash TEXT PRIMARY KEY,
			processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

// SaveCode persists an accepted extraction result.
func (s *SQLiteStore) SaveCode(ctx context.Context, c *Code) (int64, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO codes (code, confidence, method, language, source, reasoning, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Code, c.Confidence, string(c.Method), string(c.Language), c.Source, c.Reasoning, c.Context, c.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("inserting code: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}
	c.ID = id
	return id, nil
}

// LatestFresh returns the most recent code inside the freshness window,
// or (nil, nil) when nothing fresh exists. Stale codes are never
// returned here; they only leave the database via Prune.
func (s *SQLiteStore) LatestFresh(ctx context.Context) (*Code, error) {
	cutoff := time.Now().UTC().Add(-s.freshWindow)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, confidence, method, language, source, reasoning, context, created_at
		 FROM codes WHERE created_at > ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		cutoff)
	c, err := scanCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest code: %w", err)
	}
	return c, nil
}

// ListCodes returns the most recent codes regardless of freshness,
// newest first.
func (s *SQLiteStore) ListCodes(ctx context.Context, limit int) ([]*Code, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, confidence, method, language, source, reasoning, context, created_at
		 FROM codes ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying codes: %w", err)
	}
	defer rows.Close()

	var out []*Code
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning code: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCode(row rowScanner) (*Code, error) {
	var c Code
	var method, language string
	if err := row.Scan(&c.ID, &c.Code, &c.Confidence, &method, &language, &c.Source, &c.Reasoning, &c.Context, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Method = otp.Method(method)
	c.Language = otp.Language(language)
	return &c, nil
}

// MarkProcessed records a message hash. Re-marking is a no-op.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (hash, processed_at) VALUES (?, ?)
		 ON CONFLICT(hash) DO NOTHING`,
		hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking processed: %w", err)
	}
	return nil
}

// WasProcessed reports whether a message hash was seen before.
func (s *SQLiteStore) WasProcessed(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_messages WHERE hash = ?`, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying processed: %w", err)
	}
	return true, nil
}

// Prune deletes codes and processed-message hashes older than the
// retention period and returns how many rows were removed.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)

	var total int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM codes WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning codes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, `DELETE FROM processed_messages WHERE processed_at < ?`, cutoff)
	if err != nil {
		return total, fmt.Errorf("pruning processed messages: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}

// Stats returns row counts and the database file size.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM codes`).Scan(&st.CodeCount); err != nil {
		return nil, fmt.Errorf("counting codes: %w", err)
	}
	cutoff := time.Now().UTC().Add(-s.freshWindow)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM codes WHERE created_at > ?`, cutoff).Scan(&st.FreshCount); err != nil {
		return nil, fmt.Errorf("counting fresh codes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_messages`).Scan(&st.ProcessedCount); err != nil {
		return nil, fmt.Errorf("counting processed messages: %w", err)
	}

	if s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}
	return st, nil
}

// Vacuum runs VACUUM on the database. Manual only, never automatic.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
