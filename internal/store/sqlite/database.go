package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under the home directory.
	DefaultDBFileName = "courier.db"
	// DefaultWALCheckpointInterval controls periodic WAL truncation.
	DefaultWALCheckpointInterval = 24 * time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS recipients (
  id                       INTEGER PRIMARY KEY AUTOINCREMENT,
  username                 TEXT UNIQUE,
  group_id                 TEXT UNIQUE,
  supports_message_retries INTEGER NOT NULL DEFAULT 0,
  created_at               INTEGER NOT NULL,
  CHECK ((username IS NULL) <> (group_id IS NULL))
);
`,
	`
CREATE TABLE IF NOT EXISTS threads (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  recipient_id INTEGER NOT NULL UNIQUE REFERENCES recipients(id) ON DELETE CASCADE,
  created_at   INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS messages (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  thread_id     INTEGER NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
  sender_id     INTEGER NOT NULL REFERENCES recipients(id),
  sender_device INTEGER NOT NULL,
  sent_ts       INTEGER NOT NULL,
  server_ts     INTEGER NOT NULL DEFAULT 0,
  received_ts   INTEGER NOT NULL,
  server_guid   TEXT NOT NULL DEFAULT '',
  kind          TEXT NOT NULL CHECK(kind IN ('text','bad_decrypt','invalid_version','legacy','duplicate','unsupported','decryption_error')),
  body          TEXT NOT NULL DEFAULT '',
  UNIQUE (sender_id, sender_device, sent_ts, kind)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_thread_time
ON messages (thread_id, sent_ts, id);
`,
	`
CREATE TABLE IF NOT EXISTS pending_retry_receipts (
  sender_id     INTEGER NOT NULL REFERENCES recipients(id) ON DELETE CASCADE,
  sender_device INTEGER NOT NULL,
  sent_ts       INTEGER NOT NULL,
  received_ts   INTEGER NOT NULL,
  thread_id     INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (sender_id, sender_device, sent_ts)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_pending_retry_received
ON pending_retry_receipts (received_ts);
`,
	`
CREATE TABLE IF NOT EXISTS sent_messages (
  recipient_id INTEGER NOT NULL REFERENCES recipients(id) ON DELETE CASCADE,
  sent_ts      INTEGER NOT NULL,
  content_hint INTEGER NOT NULL DEFAULT 0,
  body         TEXT NOT NULL,
  PRIMARY KEY (recipient_id, sent_ts)
);
`,
}

// Store is a thin wrapper around a SQLite connection holding message
// history, recipients, threads and pending retry receipts.
type Store struct {
	db *sql.DB

	walCheckpointInterval time.Duration
	walCheckpointStop     chan struct{}
	walCheckpointWG       sync.WaitGroup
	closeOnce             sync.Once
}

// Open opens (or creates) courier.db under the given directory and runs migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{
		db:                    db,
		walCheckpointInterval: DefaultWALCheckpointInterval,
		walCheckpointStop:     make(chan struct{}),
	}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.startWALCheckpointLoop()

	return store, nil
}

// Close stops the checkpoint loop and closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		if s.walCheckpointStop != nil {
			close(s.walCheckpointStop)
			s.walCheckpointWG.Wait()
		}
		closeErr = s.db.Close()
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("wal checkpoint truncate: %w", err)
	}
	return nil
}

func (s *Store) startWALCheckpointLoop() {
	interval := s.walCheckpointInterval
	if interval <= 0 || s.walCheckpointStop == nil {
		return
	}

	s.walCheckpointWG.Add(1)
	go func() {
		defer s.walCheckpointWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.checkpointWAL()
			case <-s.walCheckpointStop:
				return
			}
		}
	}()
}

func nowUnixMilli() int64 { return time.Now().UnixMilli() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
