package routing

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists session metadata so a sender keeps one agent
// conversation across polls and restarts.
type Store struct {
	db *sql.DB
}

// Session maps a sender identity to an agent conversation.
type Session struct {
	AccountID  string
	Peer       string // bare sender address
	Scope      string // "dm" or "group"
	SessionKey string
	AgentID    string
	CreatedAt  time.Time
	LastActive time.Time
}

// DefaultStorePath returns the default session database path.
func DefaultStorePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "moltbot-email", "sessions.db")
}

// OpenStore opens or creates the session database.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultStorePath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			account_id TEXT NOT NULL,
			peer TEXT NOT NULL,
			scope TEXT NOT NULL,
			session_key TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_active TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (account_id, peer, scope)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_key ON sessions(session_key);

		CREATE TABLE IF NOT EXISTS thread_sessions (
			thread_id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// GetSession returns the stored session for a sender, or nil.
func (s *Store) GetSession(accountID, peer, scope string) (*Session, error) {
	sess := &Session{AccountID: accountID, Peer: peer, Scope: scope}
	err := s.db.QueryRow(
		`SELECT session_key, agent_id, created_at, last_active
		 FROM sessions WHERE account_id = ? AND peer = ? AND scope = ?`,
		accountID, peer, scope,
	).Scan(&sess.SessionKey, &sess.AgentID, &sess.CreatedAt, &sess.LastActive)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// PutSession inserts or replaces a sender's session.
func (s *Store) PutSession(sess *Session) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sessions
		 (account_id, peer, scope, session_key, agent_id, created_at, last_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.AccountID, sess.Peer, sess.Scope, sess.SessionKey, sess.AgentID, now, now,
	)
	return err
}

// Touch updates a session's last-active time.
func (s *Store) Touch(sessionKey string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET last_active = ? WHERE session_key = ?`,
		time.Now(), sessionKey,
	)
	return err
}

// LinkThread associates a mail thread with a session.
func (s *Store) LinkThread(threadID, sessionKey string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO thread_sessions (thread_id, session_key, created_at) VALUES (?, ?, ?)`,
		threadID, sessionKey, time.Now(),
	)
	return err
}

// GetThreadSession returns the session key linked to a mail thread, or
// empty string.
func (s *Store) GetThreadSession(threadID string) (string, error) {
	var key string
	err := s.db.QueryRow(
		`SELECT session_key FROM thread_sessions WHERE thread_id = ?`,
		threadID,
	).Scan(&key)

	if err == sql.ErrNoRows {
		return "", nil
	}
	return key, err
}

// SessionCount reports how many sessions the store holds.
func (s *Store) SessionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count)
	return count, err
}
