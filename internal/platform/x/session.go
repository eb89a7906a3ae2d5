package x

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Session holds the tokens of one logged-in X session. Sessions are persisted
// to disk so a restart can reuse a live login instead of burning a fresh
// credential-based one.
type Session struct {
	Username  string    `json:"username"`
	AuthToken string    `json:"auth_token"`
	CSRFToken string    `json:"csrf_token"`
	CreatedAt time.Time `json:"created_at"`
}

func sessionPath(dir, username string) string {
	return filepath.Join(dir, fmt.Sprintf("x-session-%s.json", username))
}

// LoadSession reads a saved session for the given username.
// Parameters:
//   - dir: session directory.
//   - username: credential username the session belongs to.
//
// Returns:
//   - *Session: saved session.
//   - error: non-nil when no usable session exists.
func LoadSession(dir, username string) (*Session, error) {
	data, err := os.ReadFile(sessionPath(dir, username))
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse saved session: %w", err)
	}
	if s.AuthToken == "" {
		return nil, fmt.Errorf("saved session for %s has no token", username)
	}
	return &s, nil
}

// Save persists the session to disk.
// Parameters:
//   - dir: session directory, created if missing.
//
// Returns:
//   - error: non-nil if the write fails.
func (s *Session) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(sessionPath(dir, s.Username), data, 0600)
}
