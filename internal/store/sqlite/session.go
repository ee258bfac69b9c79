// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/safebill/assistant/internal/store"
	sberr "github.com/safebill/assistant/pkg/errors"
)

// Compile-time interface check.
var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore backed by SQLite.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore opens (or creates) a SQLite database at dbPath and
// initialises the sessions and messages tables.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, store.ErrDatabase(err, "opening sqlite db %s", dbPath)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, store.ErrDatabase(err, "pinging sqlite db %s", dbPath)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, store.ErrDatabase(err, "migrating sqlite db %s", dbPath)
	}

	return &SessionStore{db: db}, nil
}

// Messages are ordered by seq, never by created_at: two halves of a turn
// routinely share a timestamp.
func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	session_id  TEXT NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func (s *SessionStore) CreateSession(ctx context.Context, session *store.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = session.CreatedAt
	}

	const q = `INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		session.ID,
		session.UserID,
		session.Title,
		formatTime(session.CreatedAt),
		formatTime(updated),
	)
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
		return store.ErrSessionExists(session.ID)
	}
	if err != nil {
		return store.ErrDatabase(err, "creating session %s", session.ID)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	const q = `SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound(id)
	}
	if err != nil {
		return nil, store.ErrDatabase(err, "getting session %s", id)
	}
	return sess, nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, session *store.Session) error {
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		session.Title, formatTime(updated), session.ID)
	if err != nil {
		return store.ErrDatabase(err, "updating session %s", session.ID)
	}
	return requireRow(result, session.ID)
}

func (s *SessionStore) ListSessions(ctx context.Context, userID string, opts store.ListOpts) ([]*store.Session, error) {
	const q = `SELECT id, user_id, title, created_at, updated_at
FROM sessions WHERE user_id = ? ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, userID, opts.EffectiveLimit(), opts.Offset)
	if err != nil {
		return nil, store.ErrDatabase(err, "listing sessions for user %s", userID)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, store.ErrDatabase(err, "scanning session row")
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, store.ErrDatabase(err, "listing sessions for user %s", userID)
	}
	return sessions, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return store.ErrDatabase(err, "deleting session %s", id)
	}
	return requireRow(result, id)
}

func (s *SessionStore) AppendMessage(ctx context.Context, sessionID string, msg *store.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.ErrDatabase(err, "beginning append to session %s", sessionID)
	}
	defer func() { _ = tx.Rollback() }()

	at := formatTime(msg.CreatedAt)
	result, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = MAX(updated_at, ?) WHERE id = ?`, at, sessionID)
	if err != nil {
		return store.ErrDatabase(err, "touching session %s", sessionID)
	}
	if err := requireRow(result, sessionID); err != nil {
		return err
	}

	const q = `INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q, msg.ID, sessionID, string(msg.Role), msg.Content, at)
	if isConstraint(err, sqlite3.ErrConstraintUnique) {
		return sberr.New(sberr.CodeStoreSessionUpdateConflict, "message "+msg.ID+" already exists", sberr.FieldSessionID(sessionID))
	}
	if err != nil {
		return store.ErrDatabase(err, "appending message %s to session %s", msg.ID, sessionID)
	}

	if err := tx.Commit(); err != nil {
		return store.ErrDatabase(err, "committing append to session %s", sessionID)
	}
	return nil
}

func (s *SessionStore) GetMessages(ctx context.Context, sessionID string) ([]*store.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	const q = `SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, store.ErrDatabase(err, "getting messages for session %s", sessionID)
	}
	defer func() { _ = rows.Close() }()

	msgs := []*store.Message{}
	for rows.Next() {
		var msg store.Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, store.ErrDatabase(err, "scanning message row")
		}
		msg.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, store.ErrDatabase(err, "getting messages for session %s", sessionID)
	}
	return msgs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*store.Session, error) {
	var sess store.Session
	var createdAt, updatedAt string
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return store.ErrDatabase(err, "checking rows affected for session %s", id)
	}
	if rows == 0 {
		return store.ErrSessionNotFound(id)
	}
	return nil
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == code
}

// timeLayout has fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
