package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"benchchat/internal/domain"
	"benchchat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	appendMu sync.Mutex // Mutex for message appends to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, last_activity_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_idle ON sessions(last_activity_at) WHERE status = 'Active';

	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		is_error INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		command TEXT NOT NULL DEFAULT '',
		command_result TEXT NOT NULL DEFAULT '',
		execution_ms INTEGER NOT NULL DEFAULT 0,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		command TEXT NOT NULL,
		outcome TEXT NOT NULL,
		result_or_error TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id, ts);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		provider TEXT NOT NULL,
		ollama_url TEXT NOT NULL,
		ollama_model TEXT NOT NULL,
		openai_api_key TEXT NOT NULL,
		openai_model TEXT NOT NULL,
		safe_mode INTEGER NOT NULL,
		confirm_destructive INTEGER NOT NULL,
		log_commands INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession creates a new active session for a user.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID, title string) (*domain.Session, error) {
	now := time.Now()
	sess := &domain.Session{
		ID:             newID("sess"),
		UserID:         userID,
		Title:          title,
		Status:         domain.SessionActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	query := `
	INSERT INTO sessions (session_id, user_id, title, status, message_count, started_at, last_activity_at)
	VALUES (?, ?, ?, ?, 0, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.Title, string(sess.Status),
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, title, status, message_count,
		       started_at, last_activity_at, ended_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// ListSessions returns a user's sessions, most recent activity first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `
		SELECT session_id, user_id, title, status, message_count,
		       started_at, last_activity_at, ended_at
		FROM sessions WHERE user_id = ?
		ORDER BY last_activity_at DESC, session_id
		LIMIT 50`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CloseSession marks a session Closed and stamps its end time.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string) error {
	query := `UPDATE sessions SET status = ?, ended_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, string(domain.SessionClosed), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetIdleSessions returns active sessions with no activity within ttl.
func (s *SQLiteStore) GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.Session, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT session_id, user_id, title, status, message_count,
		       started_at, last_activity_at, ended_at
		FROM sessions WHERE status = 'Active' AND last_activity_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer closeRows(rows, "idle sessions")

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idle session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle sessions: %w", err)
	}
	return sessions, nil
}

// AppendMessage appends a message and assigns the next ordering index inside
// a single transaction, so concurrent appends to one session can never
// interleave or duplicate indices. Appends are serialized under a mutex;
// SQLITE_BUSY conflicts from other writers are retried with exponential
// backoff as a backstop.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) (int64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var seq int64
	var err error
	for i := 0; i < maxRetries; i++ {
		seq, err = s.appendMessageOnce(ctx, msg)
		if err == nil {
			return seq, nil
		}
		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("AppendMessage hit SQLITE_BUSY, retrying",
				"session_id", msg.SessionID, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
			continue
		}
		return 0, err
	}
	return 0, err
}

func (s *SQLiteStore) appendMessageOnce(ctx context.Context, msg *domain.Message) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM sessions WHERE session_id = ?`, msg.SessionID).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup session: %w", err)
	}
	if status != string(domain.SessionActive) {
		return 0, ErrSessionClosed
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, msg.SessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next ordering index: %w", err)
	}

	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (message_id, session_id, role, content, is_error, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content,
		boolToInt(msg.IsError), seq, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, last_activity_at = ?
		WHERE session_id = ?`,
		now.Unix(), msg.SessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append tx: %w", err)
	}

	msg.Seq = seq
	return seq, nil
}

// GetHistory returns all messages of a session in append order.
func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	query := `
		SELECT message_id, session_id, role, content, is_error, seq, created_at,
		       command, command_result, execution_ms
		FROM messages WHERE session_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer closeRows(rows, "history")

	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return messages, nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	query := `
		SELECT message_id, session_id, role, content, is_error, seq, created_at,
		       command, command_result, execution_ms
		FROM messages WHERE message_id = ?`

	row := s.db.QueryRowContext(ctx, query, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	return msg, nil
}

// UpdateMessageExecution writes execution bookkeeping onto a message.
func (s *SQLiteStore) UpdateMessageExecution(ctx context.Context, messageID, command, result string, isError bool, durationMs int64) error {
	query := `
		UPDATE messages SET command = ?, command_result = ?, is_error = ?, execution_ms = ?
		WHERE message_id = ?`
	res, err := s.db.ExecContext(ctx, query, command, result, boolToInt(isError), durationMs, messageID)
	if err != nil {
		return fmt.Errorf("update message execution: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateMessageExecution affected 0 rows", "message_id", messageID)
	}
	return nil
}

// AppendAudit persists one execution audit record.
func (s *SQLiteStore) AppendAudit(ctx context.Context, rec *domain.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	query := `
		INSERT INTO audit_log (ts, session_id, message_id, command, outcome, result_or_error)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		rec.Timestamp.Unix(), rec.SessionID, rec.MessageID,
		rec.Command, string(rec.Outcome), rec.ResultOrError,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ListAudit returns a session's audit records in chronological order.
func (s *SQLiteStore) ListAudit(ctx context.Context, sessionID string) ([]*domain.AuditRecord, error) {
	query := `
		SELECT id, ts, session_id, message_id, command, outcome, result_or_error
		FROM audit_log WHERE session_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer closeRows(rows, "audit log")

	var records []*domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var ts int64
		var outcome string
		if err := rows.Scan(&rec.ID, &ts, &rec.SessionID, &rec.MessageID,
			&rec.Command, &outcome, &rec.ResultOrError); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		rec.Timestamp = time.Unix(ts, 0)
		rec.Outcome = domain.AuditOutcome(outcome)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return records, nil
}

// GetSettings retrieves persisted settings.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*domain.Settings, error) {
	query := `
		SELECT provider, ollama_url, ollama_model, openai_api_key, openai_model,
		       safe_mode, confirm_destructive, log_commands
		FROM settings WHERE id = 1`

	row := s.db.QueryRowContext(ctx, query)

	var st domain.Settings
	var safeMode, confirmDestructive, logCommands int
	err := row.Scan(&st.Provider, &st.OllamaURL, &st.OllamaModel,
		&st.OpenAIAPIKey, &st.OpenAIModel,
		&safeMode, &confirmDestructive, &logCommands)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan settings row: %w", err)
	}

	st.SafeMode = safeMode != 0
	st.ConfirmDestructive = confirmDestructive != 0
	st.LogCommands = logCommands != 0
	return &st, nil
}

// SaveSettings persists settings, replacing any previous value.
func (s *SQLiteStore) SaveSettings(ctx context.Context, st *domain.Settings) error {
	query := `
		INSERT INTO settings (id, provider, ollama_url, ollama_model, openai_api_key,
			openai_model, safe_mode, confirm_destructive, log_commands, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			ollama_url = excluded.ollama_url,
			ollama_model = excluded.ollama_model,
			openai_api_key = excluded.openai_api_key,
			openai_model = excluded.openai_model,
			safe_mode = excluded.safe_mode,
			confirm_destructive = excluded.confirm_destructive,
			log_commands = excluded.log_commands,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		st.Provider, st.OllamaURL, st.OllamaModel, st.OpenAIAPIKey, st.OpenAIModel,
		boolToInt(st.SafeMode), boolToInt(st.ConfirmDestructive), boolToInt(st.LogCommands),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var status string
	var startedAt, lastActivity int64
	var endedAt sql.NullInt64

	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &status, &sess.MessageCount,
		&startedAt, &lastActivity, &endedAt)
	if err != nil {
		return nil, err
	}

	sess.Status = domain.SessionStatus(status)
	sess.StartedAt = time.Unix(startedAt, 0)
	sess.LastActivityAt = time.Unix(lastActivity, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var role string
	var isError int
	var createdAt int64

	err := row.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &isError,
		&msg.Seq, &createdAt, &msg.Command, &msg.CommandResult, &msg.ExecutionMs)
	if err != nil {
		return nil, err
	}

	msg.Role = domain.Role(role)
	msg.IsError = isError != 0
	msg.CreatedAt = time.Unix(createdAt, 0)
	return &msg, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "what", what, "error", err)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
