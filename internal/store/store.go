package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding all durable ClaudeStation state.
// A single *sql.DB is safe for concurrent use; WAL mode lets AppendMessage
// writers and the background Compressor's UpdateSummary writers interleave
// without blocking foreground reads (§4.1, §4.6).
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, applies
// pragmas for WAL concurrency, and runs pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- projects ---------------------------------------------------------

// CreateProject inserts a new project, assigning it an ID and timestamps.
func (s *Store) CreateProject(p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("marshal project settings: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO projects (id, name, system_prompt, default_model, settings_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SystemPrompt, p.DefaultModel, string(settings), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(
		`SELECT id, name, system_prompt, default_model, settings_json, created_at, updated_at
		 FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query(
		`SELECT id, name, system_prompt, default_model, settings_json, created_at, updated_at
		 FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject overwrites a project's mutable fields.
func (s *Store) UpdateProject(p *Project) error {
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("marshal project settings: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(
		`UPDATE projects SET name = ?, system_prompt = ?, default_model = ?, settings_json = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.SystemPrompt, p.DefaultModel, string(settings), p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return checkRowsAffected(res)
}

// DeleteProject removes a project and, via ON DELETE CASCADE, every
// document, conversation, message and api_key rooted under it.
func (s *Store) DeleteProject(id string) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return checkRowsAffected(res)
}

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var settingsJSON string
	if err := row.Scan(&p.ID, &p.Name, &p.SystemPrompt, &p.DefaultModel, &settingsJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &p.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal project settings: %w", err)
	}
	return &p, nil
}

// --- documents ----------------------------------------------------------

// CreateDocument inserts a document under a project. Ordering by CreatedAt
// determines the document's position in Layer 1 — callers insert documents
// in the order they should be rendered.
func (s *Store) CreateDocument(d *Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(
		`INSERT INTO documents (id, project_id, filename, extracted_text, token_count, file_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Filename, d.ExtractedText, d.TokenCount, d.FileType, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListDocuments returns a project's documents ordered by insertion —
// the same order ContextBuilder renders them in Layer 1.
func (s *Store) ListDocuments(projectID string) ([]*Document, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, filename, extracted_text, token_count, file_type, created_at
		 FROM documents WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Filename, &d.ExtractedText, &d.TokenCount, &d.FileType, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// DeleteDocument removes a document. Callers are responsible for emitting
// EventCacheInvalidated since Layer 1's byte sequence has changed.
func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return checkRowsAffected(res)
}

// --- conversations --------------------------------------------------------

// CreateConversation inserts a new conversation under a project.
func (s *Store) CreateConversation(c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.db.Exec(
		`INSERT INTO conversations (id, project_id, title, model_override, created_at, updated_at, is_archived,
		                            rolling_summary, last_compressed_msg_id, summary_token_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0, '', '', 0)`,
		c.ID, c.ProjectID, c.Title, c.ModelOverride, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation fetches a conversation by ID.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, title, model_override, created_at, updated_at, is_archived,
		        rolling_summary, last_compressed_msg_id, summary_token_count
		 FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// ListConversations returns a project's non-archived conversations first,
// most recently updated first.
func (s *Store) ListConversations(projectID string) ([]*Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, title, model_override, created_at, updated_at, is_archived,
		        rolling_summary, last_compressed_msg_id, summary_token_count
		 FROM conversations WHERE project_id = ? ORDER BY is_archived, updated_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ArchiveConversation marks a conversation archived without deleting it.
func (s *Store) ArchiveConversation(id string) error {
	res, err := s.db.Exec(`UPDATE conversations SET is_archived = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	return checkRowsAffected(res)
}

// DeleteConversation removes a conversation and its messages (cascade).
func (s *Store) DeleteConversation(id string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return checkRowsAffected(res)
}

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var isArchived int
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.ModelOverride, &c.CreatedAt, &c.UpdatedAt, &isArchived,
		&c.RollingSummary, &c.LastCompressedMsgID, &c.SummaryTokenCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.IsArchived = isArchived != 0
	return &c, nil
}

// --- messages -------------------------------------------------------------

// AppendMessage atomically inserts a message. Messages are append-only:
// ordering is by (created_at, id), never rewritten once inserted (§4.1).
func (s *Store) AppendMessage(m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()

	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, thinking, attachments_json, model_used,
		                        input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConvID, m.Role, m.Content, m.Thinking, string(attachments), m.ModelUsed,
		nullableInt(m.Usage.InputTokens), nullableInt(m.Usage.OutputTokens),
		nullableInt(m.Usage.CacheReadTokens), nullableInt(m.Usage.CacheCreationTokens),
		m.CostUSD, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if _, err := s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.ConvID); err != nil {
		slog.Warn("failed to bump conversation updated_at", "conversation_id", m.ConvID, "error", err)
	}
	return nil
}

// GetMessages returns every message of a conversation in append order.
func (s *Store) GetMessages(conversationID string) ([]*Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, thinking, attachments_json, model_used,
		        input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// BackfillUsage is the one permitted post-insert mutation on a message row:
// the provider's usage/cost figures arrive only once the stream completes,
// after the row has already been appended for display (§4.5).
func (s *Store) BackfillUsage(messageID string, usage Usage, costUSD float64) error {
	res, err := s.db.Exec(
		`UPDATE messages SET input_tokens = ?, output_tokens = ?, cache_read_tokens = ?,
		                      cache_creation_tokens = ?, cost_usd = ? WHERE id = ?`,
		usage.InputTokens, usage.OutputTokens, usage.CacheReadTokens, usage.CacheCreationTokens, costUSD, messageID,
	)
	if err != nil {
		return fmt.Errorf("backfill usage: %w", err)
	}
	return checkRowsAffected(res)
}

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var attachmentsJSON string
	var inputTokens, outputTokens, cacheRead, cacheCreate sql.NullInt64
	var costUSD sql.NullFloat64

	if err := row.Scan(&m.ID, &m.ConvID, &m.Role, &m.Content, &m.Thinking, &attachmentsJSON, &m.ModelUsed,
		&inputTokens, &outputTokens, &cacheRead, &cacheCreate, &costUSD, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if err := json.Unmarshal([]byte(attachmentsJSON), &m.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	m.Usage = Usage{
		InputTokens:         int(inputTokens.Int64),
		OutputTokens:        int(outputTokens.Int64),
		CacheReadTokens:     int(cacheRead.Int64),
		CacheCreationTokens: int(cacheCreate.Int64),
	}
	if costUSD.Valid {
		v := costUSD.Float64
		m.CostUSD = &v
	}
	return &m, nil
}

// --- rolling summary --------------------------------------------------------

// UpdateSummary atomically replaces a conversation's rolling summary,
// cutoff message, and summary token count. cutoffMessageID must name a real
// message of this conversation, strictly newer (by created_at, id) than the
// conversation's current last_compressed_msg_id — otherwise the write is
// rejected with ErrStaleCutoff, guarding against a Compressor run that
// raced a newer compression already committed for this conversation
// (§4.1, §7).
func (s *Store) UpdateSummary(conversationID, summary, cutoffMessageID string, tokenCount int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin update summary: %w", err)
	}
	defer tx.Rollback()

	var currentCutoffID string
	err = tx.QueryRow(`SELECT last_compressed_msg_id FROM conversations WHERE id = ?`, conversationID).Scan(&currentCutoffID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read current cutoff: %w", err)
	}

	var cutoffCreatedAt time.Time
	err = tx.QueryRow(`SELECT created_at FROM messages WHERE id = ? AND conversation_id = ?`, cutoffMessageID, conversationID).Scan(&cutoffCreatedAt)
	if err == sql.ErrNoRows {
		return ErrStaleCutoff
	}
	if err != nil {
		return fmt.Errorf("read cutoff message: %w", err)
	}

	if currentCutoffID != "" {
		var currentCreatedAt time.Time
		err = tx.QueryRow(`SELECT created_at FROM messages WHERE id = ?`, currentCutoffID).Scan(&currentCreatedAt)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read current cutoff message: %w", err)
		}
		if err == nil && (cutoffCreatedAt.Before(currentCreatedAt) ||
			(cutoffCreatedAt.Equal(currentCreatedAt) && cutoffMessageID <= currentCutoffID)) {
			return ErrStaleCutoff
		}
	}

	_, err = tx.Exec(
		`UPDATE conversations SET rolling_summary = ?, last_compressed_msg_id = ?, summary_token_count = ?, updated_at = ?
		 WHERE id = ?`,
		summary, cutoffMessageID, tokenCount, time.Now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return tx.Commit()
}

// ResetSummary atomically clears a conversation's rolling summary, returning
// it to full-history rendering until the next compression cycle runs.
func (s *Store) ResetSummary(conversationID string) error {
	res, err := s.db.Exec(
		`UPDATE conversations SET rolling_summary = '', last_compressed_msg_id = '', summary_token_count = 0, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("reset summary: %w", err)
	}
	return checkRowsAffected(res)
}

// --- api keys ---------------------------------------------------------------

// SaveAPIKeyRef records that a project uses a named credential reference
// for a provider. The actual secret material is never stored here —
// credential storage is outside this package.
func (s *Store) SaveAPIKeyRef(projectID, provider, keyRef string) error {
	_, err := s.db.Exec(
		`INSERT INTO api_keys (id, project_id, provider, key_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), projectID, provider, keyRef, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save api key ref: %w", err)
	}
	return nil
}

// --- helpers ----------------------------------------------------------------

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableInt(v int) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}
