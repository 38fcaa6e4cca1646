package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/claudestation/claudestation/internal/tokenize"
)

// currentSchemaVersion is the schema this binary expects. Migrations are
// forward-only (§6).
const currentSchemaVersion = 2

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_meta (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	system_prompt  TEXT NOT NULL DEFAULT '',
	default_model  TEXT NOT NULL DEFAULT '',
	settings_json  TEXT NOT NULL DEFAULT '{}',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	filename       TEXT NOT NULL,
	extracted_text TEXT NOT NULL,
	token_count    INTEGER NOT NULL DEFAULT 0,
	file_type      TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_project_created ON documents(project_id, created_at);

CREATE TABLE IF NOT EXISTS conversations (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title          TEXT NOT NULL DEFAULT '',
	model_override TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	is_archived    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project_id);

CREATE TABLE IF NOT EXISTS messages (
	id                    TEXT PRIMARY KEY,
	conversation_id       TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role                  TEXT NOT NULL,
	content               TEXT NOT NULL,
	thinking              TEXT NOT NULL DEFAULT '',
	attachments_json      TEXT NOT NULL DEFAULT '[]',
	model_used            TEXT NOT NULL DEFAULT '',
	input_tokens          INTEGER,
	output_tokens         INTEGER,
	cache_read_tokens     INTEGER,
	cache_creation_tokens INTEGER,
	cost_usd              REAL,
	created_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at, id);

CREATE TABLE IF NOT EXISTS api_keys (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	provider    TEXT NOT NULL,
	key_ref     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
`

// schemaV2 adds the rolling-summary columns to conversations.
const schemaV2 = `
ALTER TABLE conversations ADD COLUMN rolling_summary TEXT NOT NULL DEFAULT '';
ALTER TABLE conversations ADD COLUMN last_compressed_msg_id TEXT NOT NULL DEFAULT '';
ALTER TABLE conversations ADD COLUMN summary_token_count INTEGER NOT NULL DEFAULT 0;
`

// Migrate detects the schema version and brings the database up to
// currentSchemaVersion under a single transaction. Idempotent: migrating an
// already-current database is a no-op (§8).
func Migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	version, err := readVersion(tx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version == 0 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_meta (id, version) VALUES (1, 1)`); err != nil {
			return fmt.Errorf("seed schema_meta: %w", err)
		}
		version = 1
	}

	if version < 2 {
		if err := applyV2(tx); err != nil {
			return fmt.Errorf("apply schema v2: %w", err)
		}
		version = 2
	}

	if _, err := tx.Exec(`UPDATE schema_meta SET version = ? WHERE id = 1`, currentSchemaVersion); err != nil {
		return fmt.Errorf("update schema_meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	slog.Info("store migration complete", "version", currentSchemaVersion)
	return nil
}

func readVersion(tx *sql.Tx) (int, error) {
	var exists int
	err := tx.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_meta'`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = tx.QueryRow(`SELECT version FROM schema_meta WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

// applyV2 adds the summary columns and backfills summary_token_count by
// tokenising any existing (pre-v2) summary text. A fresh database has no
// conversations yet, so the backfill loop is typically a no-op; it exists
// for databases created by an earlier binary version.
func applyV2(tx *sql.Tx) error {
	cols, err := tx.Query(`PRAGMA table_info(conversations)`)
	if err != nil {
		return err
	}
	hasSummary := false
	for cols.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := cols.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			cols.Close()
			return err
		}
		if name == "rolling_summary" {
			hasSummary = true
		}
	}
	cols.Close()

	if !hasSummary {
		if _, err := tx.Exec(schemaV2); err != nil {
			return err
		}
	}

	rows, err := tx.Query(`SELECT id, rolling_summary FROM conversations WHERE rolling_summary != '' AND summary_token_count = 0`)
	if err != nil {
		return err
	}
	type backfill struct {
		id      string
		summary string
	}
	var pending []backfill
	for rows.Next() {
		var b backfill
		if err := rows.Scan(&b.id, &b.summary); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, b)
	}
	rows.Close()

	for _, b := range pending {
		tokens := tokenize.Count(b.summary)
		if _, err := tx.Exec(`UPDATE conversations SET summary_token_count = ? WHERE id = ?`, tokens, b.id); err != nil {
			return err
		}
	}
	return nil
}
