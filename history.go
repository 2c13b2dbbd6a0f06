package main

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Interaction is one question/answer pair of a chat session.
type Interaction struct {
	SessionID string
	Query     string
	Response  string
	Language  string
	Timestamp time.Time
}

type HistoryStore interface {
	// Recent returns up to limit of the latest interactions, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]Interaction, error)
	Append(ctx context.Context, in Interaction) error
	Clear(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

type memoryHistory struct {
	mu       sync.Mutex
	sessions map[string][]Interaction
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{sessions: make(map[string][]Interaction)}
}

func (h *memoryHistory) Recent(_ context.Context, sessionID string, limit int) ([]Interaction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	all := h.sessions[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return slices.Clone(all), nil
}

func (h *memoryHistory) Append(_ context.Context, in Interaction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[in.SessionID] = append(h.sessions[in.SessionID], in)
	return nil
}

func (h *memoryHistory) Clear(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
	return nil
}

func (h *memoryHistory) Ping(context.Context) error { return nil }

// sqlHistory keeps interactions in the chat_history table.
type sqlHistory struct {
	db      *sql.DB
	dialect sqlDialect
}

func newSQLHistory(db *sql.DB, d sqlDialect) *sqlHistory {
	return &sqlHistory{db: db, dialect: d}
}

func (h *sqlHistory) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chat_history (
		id %s,
		session_id TEXT NOT NULL,
		query TEXT NOT NULL,
		response TEXT NOT NULL,
		language TEXT NOT NULL,
		timestamp TEXT NOT NULL
	)`, h.dialect.autoID)
	if _, err := h.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate chat_history: %w", err)
	}
	return nil
}

func (h *sqlHistory) Recent(ctx context.Context, sessionID string, limit int) ([]Interaction, error) {
	query := fmt.Sprintf(`SELECT session_id, query, response, language, timestamp
		FROM chat_history WHERE session_id = %s ORDER BY id DESC LIMIT %s`,
		h.dialect.bind(1), h.dialect.bind(2))
	rows, err := h.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		var ts string
		if err := rows.Scan(&in.SessionID, &in.Query, &in.Response, &in.Language, &ts); err != nil {
			return nil, fmt.Errorf("scan chat history: %w", err)
		}
		in.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}
	// newest first from the query; callers want chronological order
	slices.Reverse(out)
	return out, nil
}

func (h *sqlHistory) Append(ctx context.Context, in Interaction) error {
	stmt := fmt.Sprintf(`INSERT INTO chat_history (session_id, query, response, language, timestamp)
		VALUES (%s, %s, %s, %s, %s)`,
		h.dialect.bind(1), h.dialect.bind(2), h.dialect.bind(3), h.dialect.bind(4), h.dialect.bind(5))
	_, err := h.db.ExecContext(ctx, stmt, in.SessionID, in.Query, in.Response, in.Language,
		in.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store interaction: %w", err)
	}
	return nil
}

func (h *sqlHistory) Clear(ctx context.Context, sessionID string) error {
	stmt := fmt.Sprintf("DELETE FROM chat_history WHERE session_id = %s", h.dialect.bind(1))
	if _, err := h.db.ExecContext(ctx, stmt, sessionID); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}

func (h *sqlHistory) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}
