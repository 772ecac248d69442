package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db}, nil
}

// runMigrations applies incremental schema changes added after the initial
// schema. Each step is idempotent and safe to run on every open.
func runMigrations(db *sql.DB) error {
	// v1: memories remember which dimension-named collection holds their vector.
	hasCollection, err := columnExists(db, "memories", "embedding_collection")
	if err != nil {
		return fmt.Errorf("check embedding_collection column: %w", err)
	}
	if !hasCollection {
		if _, err := db.Exec(`ALTER TABLE memories ADD COLUMN embedding_collection TEXT`); err != nil {
			return fmt.Errorf("run migration v1: %w", err)
		}
	}

	// v2: failed vector deletes are queued for the consistency sweep.
	if err := runTombstoneMigration(db); err != nil {
		return err
	}

	// v3: the sweep stamps failed reindex attempts so they rotate to the back.
	hasAttempt, err := columnExists(db, "memories", "index_attempted_at")
	if err != nil {
		return fmt.Errorf("check index_attempted_at column: %w", err)
	}
	if !hasAttempt {
		if _, err := db.Exec(`ALTER TABLE memories ADD COLUMN index_attempted_at INTEGER`); err != nil {
			return fmt.Errorf("run migration v3: %w", err)
		}
	}

	return nil
}

func runTombstoneMigration(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vector_tombstones (
			embedding_id TEXT NOT NULL,
			collection TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (embedding_id, collection)
		)
	`)
	if err != nil {
		return fmt.Errorf("create vector_tombstones table: %w", err)
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  character_name TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  ended_at INTEGER,
  is_active INTEGER NOT NULL DEFAULT 1,
  message_count INTEGER NOT NULL DEFAULT 0,
  total_tokens INTEGER NOT NULL DEFAULT 0,
  last_message_at INTEGER NOT NULL,
  final_summary TEXT,
  wm_summary TEXT,
  wm_key_topics TEXT,
  wm_emotional_state TEXT,
  wm_unresolved_questions TEXT,
  wm_last_updated_at_message INTEGER,
  wm_updated_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_sessions_scope ON sessions(user_id, character_name, is_active);
CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(user_id, character_name, ended_at);

CREATE TABLE IF NOT EXISTS messages (
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  token_count INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  PRIMARY KEY (session_id, seq),
  FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS memories (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  character_name TEXT NOT NULL,
  memory_type TEXT NOT NULL,
  content TEXT NOT NULL CHECK (content <> ''),
  content_hash TEXT NOT NULL,
  importance REAL NOT NULL CHECK (importance >= 0.0 AND importance <= 1.0),
  access_count INTEGER NOT NULL DEFAULT 0,
  last_accessed INTEGER,
  source_session_id TEXT,
  embedding_id TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(user_id, character_name, importance);
CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(user_id, character_name, content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_embedding ON memories(embedding_id);

CREATE TABLE IF NOT EXISTS entities (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  character_key TEXT NOT NULL DEFAULT '',
  entity_type TEXT NOT NULL,
  name TEXT NOT NULL,
  relationship TEXT,
  details TEXT,
  first_mentioned INTEGER NOT NULL,
  last_mentioned INTEGER NOT NULL,
  mention_count INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_identity ON entities(user_id, character_key, name);

CREATE TABLE IF NOT EXISTS embedding_cache (
  content_hash TEXT PRIMARY KEY,
  embedding BLOB NOT NULL,
  dimension INTEGER NOT NULL,
  model TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

// MemoryCount returns the total number of memories in the database.
func (db *DB) MemoryCount() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}

// columnExists checks if a column exists in a table. It properly closes the
// rows cursor before returning, avoiding deadlocks with MaxOpenConns(1).
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE name = ?", table),
		column,
	)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}
