// Package store persists calls, their sessions and the booking tool calls made during them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var ErrNotFound = errors.New("store: not found")

// Call statuses.
const (
	CallNew    = "new"
	CallActive = "active"
	CallEnded  = "ended"
	CallFailed = "failed"
)

type Call struct {
	ID           string `db:"id"`
	CallerID     string `db:"caller_id"`
	BusinessID   string `db:"business_id"`
	BusinessName string `db:"business_name"`
	Room         string `db:"room"`
	Status       string `db:"status"`
	CreatedAt    int64  `db:"created_at"`
}

type Session struct {
	ID        string         `db:"id"`
	CallID    string         `db:"call_id"`
	UserID    string         `db:"user_id"`
	Type      string         `db:"type"`
	Status    string         `db:"status"`
	Token     sql.NullString `db:"token"`
	CreatedAt int64          `db:"created_at"`
}

// ToolInvocation is one check_availability or book_appointment call and what was spoken back.
type ToolInvocation struct {
	ID        string `db:"id"`
	CallID    string `db:"call_id"`
	Tool      string `db:"tool"`
	Arguments string `db:"arguments"`
	Output    string `db:"output"`
	Outcome   string `db:"outcome"`
	CreatedAt int64  `db:"created_at"`
}

// NewCall describes an incoming call; BusinessID identifies whose calendar is booked.
// ID is generated when empty; rooms created outside the backend pass their room name.
type NewCall struct {
	ID           string
	CallerID     string
	BusinessID   string
	BusinessName string
}

type Store struct {
	DB *sqlx.DB
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			caller_id TEXT NOT NULL,
			business_id TEXT NOT NULL DEFAULT '',
			business_name TEXT NOT NULL DEFAULT '',
			room TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			token TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tool_invocations (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			arguments TEXT NOT NULL DEFAULT '',
			output TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tool_invocations_call ON tool_invocations(call_id, created_at);`,
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateCall creates a call row and an initial session for the caller. The call id doubles as the
// room name. Returns callID and sessionID.
func (s *Store) CreateCall(ctx context.Context, nc NewCall) (string, string, error) {
	if nc.CallerID == "" {
		return "", "", errors.New("caller_id required")
	}
	callID := nc.ID
	if callID == "" {
		callID = uuid.NewString()
	}
	sessionID := uuid.NewString()
	now := time.Now().Unix()

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	call := Call{
		ID: callID, CallerID: nc.CallerID, BusinessID: nc.BusinessID, BusinessName: nc.BusinessName,
		Room: callID, Status: CallNew, CreatedAt: now,
	}
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO calls(id, caller_id, business_id, business_name, room, status, created_at)
		VALUES(:id, :caller_id, :business_id, :business_name, :room, :status, :created_at)`, call); err != nil {
		return "", "", fmt.Errorf("insert call: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions(id, call_id, user_id, type, status, created_at) VALUES(?,?,?,?,?,?)`,
		sessionID, callID, nc.CallerID, "caller", "new", now); err != nil {
		return "", "", fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("commit: %w", err)
	}
	return callID, sessionID, nil
}

func (s *Store) GetCall(ctx context.Context, callID string) (Call, error) {
	var c Call
	err := s.DB.GetContext(ctx, &c, `SELECT * FROM calls WHERE id = ?`, callID)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	if err != nil {
		return Call{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (s *Store) CreateSession(ctx context.Context, callID, userID, typ, status string) (string, error) {
	id := uuid.NewString()
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO sessions(id, call_id, user_id, type, status, created_at) VALUES(?,?,?,?,?,?)`,
		id, callID, userID, typ, status, time.Now().Unix()); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	return s.updateOne(ctx, "session", sessionID, `UPDATE sessions SET status = ? WHERE id = ?`, status, sessionID)
}

// UpdateSessionToken stores a token (e.g., LiveKit access token) for the session.
func (s *Store) UpdateSessionToken(ctx context.Context, sessionID, token string) error {
	return s.updateOne(ctx, "session", sessionID, `UPDATE sessions SET token = ? WHERE id = ?`, token, sessionID)
}

// GetSessionToken retrieves the stored token for a session.
func (s *Store) GetSessionToken(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.Token.String, nil
}

func (s *Store) UpdateCallStatus(ctx context.Context, callID, status string) error {
	return s.updateOne(ctx, "call", callID, `UPDATE calls SET status = ? WHERE id = ?`, status, callID)
}

// GetSession looks a session up by id. LiveKit participant identities are session ids.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	err := s.DB.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Store) RecordToolInvocation(ctx context.Context, inv ToolInvocation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt == 0 {
		inv.CreatedAt = time.Now().Unix()
	}
	_, err := s.DB.NamedExecContext(ctx, `INSERT INTO tool_invocations(id, call_id, tool, arguments, output, outcome, created_at)
		VALUES(:id, :call_id, :tool, :arguments, :output, :outcome, :created_at)`, inv)
	if err != nil {
		return fmt.Errorf("insert tool invocation: %w", err)
	}
	return nil
}

// ListToolInvocations returns the calls made during callID, oldest first.
func (s *Store) ListToolInvocations(ctx context.Context, callID string) ([]ToolInvocation, error) {
	var out []ToolInvocation
	if err := s.DB.SelectContext(ctx, &out,
		`SELECT * FROM tool_invocations WHERE call_id = ? ORDER BY created_at, rowid`, callID); err != nil {
		return nil, fmt.Errorf("list tool invocations: %w", err)
	}
	return out, nil
}

func (s *Store) updateOne(ctx context.Context, what, id, q string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
