// Package storage provides SQLite-backed persistence for the swap
// repository, the event store, and chain cursors.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the single-writer SQLite handle shared by the swap repository,
// event store, and cursor table.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance, creating the database file and
// running the schema if needed.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "relayer.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // sqlite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection, for health checks.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Ping reports whether the store is reachable, for health reporting.
func (s *Storage) Ping() error {
	return s.db.Ping()
}

func (s *Storage) initSchema() error {
	schema := `
	-- Swap sessions: the authoritative, atomic map of cross-chain swaps.
	CREATE TABLE IF NOT EXISTS swaps (
		swap_id TEXT PRIMARY KEY,
		initiator TEXT NOT NULL,
		receiver TEXT NOT NULL,

		evm_contract_id TEXT,
		move_contract_id TEXT,

		hashlock TEXT NOT NULL,
		preimage TEXT,

		amount TEXT NOT NULL,
		token_source TEXT,
		token_target TEXT,

		timelock_unix_seconds INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,

		status TEXT NOT NULL,

		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		error_messages TEXT NOT NULL DEFAULT '[]',

		source_tx_hash TEXT,
		target_tx_hash TEXT,
		refund_tx_hash TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_swaps_hashlock ON swaps(hashlock);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_swaps_evm_contract ON swaps(evm_contract_id) WHERE evm_contract_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_swaps_move_contract ON swaps(move_contract_id) WHERE move_contract_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_swaps_status ON swaps(status);
	CREATE INDEX IF NOT EXISTS idx_swaps_expires_at ON swaps(status, expires_at);

	-- Processed events: the idempotency index chain observers dedup against.
	CREATE TABLE IF NOT EXISTS processed_events (
		chain TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		log_index INTEGER NOT NULL,

		payload TEXT NOT NULL,
		observed_at INTEGER NOT NULL,
		processed_at INTEGER NOT NULL,
		result TEXT NOT NULL,

		PRIMARY KEY (chain, contract_id, event_type, tx_hash, log_index)
	);

	-- Event error log: distinct from processed_events so record_error never
	-- contends with the dedup fast path.
	CREATE TABLE IF NOT EXISTS processed_event_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chain TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		error_message TEXT NOT NULL,
		occurred_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_event_errors_contract ON processed_event_errors(chain, contract_id);

	-- Chain cursors: one row per observer source ("evm", "move").
	CREATE TABLE IF NOT EXISTS chain_cursors (
		source TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations applies ALTER TABLE statements for databases created by
// earlier schema versions. Errors are ignored since columns may already
// exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		"ALTER TABLE swaps ADD COLUMN refund_tx_hash TEXT",
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
