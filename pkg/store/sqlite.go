// Package store provides the reference session.Store implementation
// (§6 "Persisted state layout"), backed by SQLite. It is the minimum
// persistence glue the core needs to run as a process rather than only
// as a library (SPEC_FULL §1); the core itself depends only on the
// session.Store interface.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/goose-run/agentcore/pkg/session"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    working_dir TEXT NOT NULL,
    mode VARCHAR(32) NOT NULL,
    provider_binding VARCHAR(255),
    metadata TEXT NOT NULL DEFAULT '{}',
    extensions TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS session_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(255) NOT NULL,
    sequence_num INTEGER NOT NULL,
    message_json TEXT NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, sequence_num);
`

// SQLiteStore implements session.Store on top of database/sql with the
// mattn/go-sqlite3 driver. One row in sessions per Session, one row in
// session_messages per Message, ordered by an explicit sequence number
// rather than relying on rowid ordering surviving ReplaceConversation.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if needed) and opens a SQLite database at path,
// initializing the schema. path may be ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type sessionRow struct {
	WorkingDir      string
	Mode            string
	ProviderBinding string
	Metadata        string
	Extensions      string
	CreatedAt       time.Time
}

// Load reconstructs a Session (and its full conversation) from the
// database, or returns (nil, nil) if id has no persisted record —
// callers (the Agent Manager) treat that as "create fresh" rather than
// an error (§6 SessionStore.Load).
func (s *SQLiteStore) Load(ctx context.Context, id string) (*session.Session, error) {
	var row sessionRow
	err := s.db.QueryRowContext(ctx,
		`SELECT working_dir, mode, provider_binding, metadata, extensions, created_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&row.WorkingDir, &row.Mode, &row.ProviderBinding, &row.Metadata, &row.Extensions, &row.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %q: %w", id, err)
	}

	sess := session.New(row.WorkingDir, session.ExecutionMode(row.Mode))
	sess.ID = id
	sess.CreatedAt = row.CreatedAt
	sess.ProviderBinding = row.ProviderBinding

	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("store: load %q: unmarshal metadata: %w", id, err)
		}
	}
	var extensions []session.ExtensionDescriptor
	if row.Extensions != "" {
		if err := json.Unmarshal([]byte(row.Extensions), &extensions); err != nil {
			return nil, fmt.Errorf("store: load %q: unmarshal extensions: %w", id, err)
		}
	}
	sess.EnabledExtensions = extensions

	msgs, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.ReplaceConversation(msgs)
	return sess, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, sessionID string) ([]session.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_json FROM session_messages WHERE session_id = ? ORDER BY sequence_num ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: load %q: query messages: %w", sessionID, err)
	}
	defer rows.Close()

	var out []session.Message
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: load %q: scan message: %w", sessionID, err)
		}
		var m session.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("store: load %q: unmarshal message: %w", sessionID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ensureSessionRow upserts the parent sessions row so AppendMessage can
// be called against a session id that hasn't been explicitly persisted
// yet (mirrors the teacher's GetOrCreateSessionMetadata pattern).
func (s *SQLiteStore) ensureSessionRow(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, working_dir, mode, provider_binding, metadata, extensions, created_at, updated_at)
		VALUES (?, '', '', '', '{}', '[]', ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, now, now)
	if err != nil {
		return fmt.Errorf("store: ensure session %q: %w", id, err)
	}
	return nil
}

// AppendMessage persists one message, assigning it the next sequence
// number for its session.
func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, m session.Message) error {
	if err := s.ensureSessionRow(ctx, id); err != nil {
		return err
	}

	var nextSeq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_messages WHERE session_id = ?`, id,
	).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("store: append message %q: next sequence: %w", id, err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: append message %q: marshal: %w", id, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO session_messages (session_id, sequence_num, message_json) VALUES (?, ?, ?)`,
		id, nextSeq, string(data),
	); err != nil {
		return fmt.Errorf("store: append message %q: %w", id, err)
	}
	return s.touch(ctx, id)
}

// ReplaceConversation atomically swaps a session's persisted messages,
// used after compaction (§4.4 HistoryReplaced).
func (s *SQLiteStore) ReplaceConversation(ctx context.Context, id string, msgs []session.Message) error {
	if err := s.ensureSessionRow(ctx, id); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace conversation %q: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("store: replace conversation %q: clear: %w", id, err)
	}
	for i, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("store: replace conversation %q: marshal message %d: %w", id, i, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_messages (session_id, sequence_num, message_json) VALUES (?, ?, ?)`,
			id, i+1, string(data),
		); err != nil {
			return fmt.Errorf("store: replace conversation %q: insert message %d: %w", id, i, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("store: replace conversation %q: touch: %w", id, err)
	}
	return tx.Commit()
}

// UpdateMetadata merges into (overwriting keys present in) the
// session's persisted metadata.
func (s *SQLiteStore) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	if err := s.ensureSessionRow(ctx, id); err != nil {
		return err
	}

	var current string
	if err := s.db.QueryRowContext(ctx, `SELECT metadata FROM sessions WHERE id = ?`, id).Scan(&current); err != nil {
		return fmt.Errorf("store: update metadata %q: %w", id, err)
	}
	merged := map[string]any{}
	if current != "" {
		if err := json.Unmarshal([]byte(current), &merged); err != nil {
			return fmt.Errorf("store: update metadata %q: unmarshal: %w", id, err)
		}
	}
	for k, v := range metadata {
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("store: update metadata %q: marshal: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("store: update metadata %q: %w", id, err)
	}
	return nil
}

// Delete removes a session and its messages. The messages are deleted
// explicitly: the connection does not enable SQLite foreign-key
// enforcement, so the schema's ON DELETE CASCADE does not fire.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete %q: messages: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

var _ session.Store = (*SQLiteStore)(nil)
