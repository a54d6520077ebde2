package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	agent_id TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	last_message_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL DEFAULT '',
	tool_call_id TEXT NOT NULL DEFAULT '',
	tool_calls TEXT,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	metadata TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
CREATE TABLE IF NOT EXISTS pending_actions (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	tool TEXT NOT NULL,
	arguments TEXT,
	description TEXT NOT NULL DEFAULT '',
	delivery_channel TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	result TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_pending_actions_status ON pending_actions(status);
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
`

// SQLiteStore persists the agent core's state in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) SaveConversation(ctx context.Context, c *Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, agent_id, summary, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			agent_id = excluded.agent_id,
			summary = excluded.summary,
			last_message_at = excluded.last_message_at`,
		c.ID, c.Title, c.AgentID, c.Summary, c.LastMessageAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, agent_id, summary, last_message_at, created_at
		FROM conversations WHERE id = ?`, id)
	var c Conversation
	var lastMessageAt sql.NullTime
	err := row.Scan(&c.ID, &c.Title, &c.AgentID, &c.Summary, &lastMessageAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	if lastMessageAt.Valid {
		c.LastMessageAt = lastMessageAt.Time
	}
	return &c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, agent_id, summary, last_message_at, created_at
		FROM conversations ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var c Conversation
		var lastMessageAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.Title, &c.AgentID, &c.Summary, &lastMessageAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if lastMessageAt.Valid {
			c.LastMessageAt = lastMessageAt.Time
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("set summary %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	metadata, err := encodeJSON(m.Metadata)
	if err != nil {
		return fmt.Errorf("append message %s: %w", m.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, tool_name, tool_call_id, tool_calls, tokens_used, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.ToolName, m.ToolCallID,
		nullableString(string(m.ToolCalls)), m.TokensUsed, metadata, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, tool_name, tool_call_id, tool_calls, tokens_used, metadata, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var toolCalls, metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ToolName,
			&m.ToolCallID, &toolCalls, &m.TokensUsed, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			m.ToolCalls = []byte(toolCalls.String)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata %s: %w", m.ID, err)
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SavePendingAction(ctx context.Context, a *PendingAction) error {
	args, err := encodeJSON(a.Arguments)
	if err != nil {
		return fmt.Errorf("save pending action %s: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (id, conversation_id, tool, arguments, description, delivery_channel, status, result, created_at, expires_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ConversationID, a.Tool, args, a.Description, a.DeliveryChannel, a.Status, a.Result,
		a.CreatedAt, a.ExpiresAt, nullableTime(a.ResolvedAt))
	if err != nil {
		return fmt.Errorf("save pending action %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPendingAction(ctx context.Context, id string) (*PendingAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, tool, arguments, description, delivery_channel, status, result, created_at, expires_at, resolved_at
		FROM pending_actions WHERE id = ?`, id)
	a, err := scanPendingAction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending action %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) UpdatePendingAction(ctx context.Context, a *PendingAction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET status = ?, result = ?, resolved_at = ? WHERE id = ?`,
		a.Status, a.Result, nullableTime(a.ResolvedAt), a.ID)
	if err != nil {
		return fmt.Errorf("update pending action %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListPendingActions(ctx context.Context, status string) ([]*PendingAction, error) {
	query := `SELECT id, conversation_id, tool, arguments, description, delivery_channel, status, result, created_at, expires_at, resolved_at
		FROM pending_actions`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	defer rows.Close()

	var out []*PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan pending action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, m *Memory) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, category, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			category = excluded.category,
			confidence = excluded.confidence`,
		m.ID, m.Content, m.Category, m.Confidence, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("save memory %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) RecallMemories(ctx context.Context, limit int) ([]*Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, category, confidence, created_at
		FROM memories ORDER BY confidence DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recall memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.Content, &m.Category, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func scanPendingAction(scan func(dest ...interface{}) error) (*PendingAction, error) {
	var a PendingAction
	var args sql.NullString
	var resolvedAt sql.NullTime
	err := scan(&a.ID, &a.ConversationID, &a.Tool, &args, &a.Description,
		&a.DeliveryChannel, &a.Status, &a.Result, &a.CreatedAt, &a.ExpiresAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if args.Valid && args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &a.Arguments); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
	}
	if resolvedAt.Valid {
		a.ResolvedAt = resolvedAt.Time
	}
	return &a, nil
}

func encodeJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
