// Package sqlite implements the store contracts on an embedded SQLite
// database (modernc.org/sqlite, pure Go). The database runs with WAL
// journaling and synchronous=NORMAL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/flocklabs/flock/internal/store"
)

// DBFileName is the single database file under the node's data dir.
const DBFileName = "flock.db"

// Open opens (creating if needed) the node database under dataDir.
func Open(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, DBFileName)
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent executors.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewStores returns all sub-stores backed by one SQLite database.
// Call Migrate before first use; it is idempotent.
func NewStores(dataDir string) (*store.Stores, error) {
	db, err := Open(dataDir)
	if err != nil {
		return nil, err
	}
	s := &store.Stores{
		Homes:           &homeStore{db: db},
		Transitions:     &transitionStore{db: db},
		Audit:           &auditStore{db: db},
		Tasks:           &taskStore{db: db},
		Channels:        &channelStore{db: db},
		ChannelMessages: &channelMessageStore{db: db},
		AgentLoop:       &agentLoopStore{db: db},
		Bridges:         &bridgeStore{db: db},
	}
	s.Migrate = func(ctx context.Context) error { return migrate(ctx, db) }
	s.Close = db.Close
	return s, nil
}

// migrate is the idempotent DDL bootstrap.
func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS homes (
			home_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			lease_expires_at TIMESTAMP,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (agent_id, node_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_homes_node ON homes (node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_homes_state ON homes (state)`,
		`CREATE TABLE IF NOT EXISTS home_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			home_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT,
			triggered_by TEXT,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_home ON home_transitions (home_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			home_id TEXT,
			agent_id TEXT NOT NULL,
			action TEXT NOT NULL,
			level TEXT NOT NULL,
			detail TEXT,
			result TEXT,
			duration_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_entries (agent_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries (timestamp)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			context_id TEXT,
			from_agent_id TEXT NOT NULL,
			to_agent_id TEXT NOT NULL,
			state TEXT NOT NULL,
			message_type TEXT,
			summary TEXT,
			payload TEXT,
			response_text TEXT,
			response_payload TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_to_agent ON tasks (to_agent_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			name TEXT NOT NULL COLLATE NOCASE UNIQUE,
			topic TEXT,
			created_by TEXT NOT NULL,
			members TEXT NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			archive_ready_members TEXT,
			archiving_started_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channel_messages (
			channel_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			PRIMARY KEY (channel_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_loop_states (
			agent_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			last_tick_at TIMESTAMP,
			awakened_at TIMESTAMP,
			slept_at TIMESTAMP,
			sleep_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS bridges (
			bridge_id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			external_channel_id TEXT NOT NULL,
			webhook_url TEXT,
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bridges_channel ON bridges (channel_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
