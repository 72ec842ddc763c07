package fluxe

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenStore is the single persisted cell holding the bearer token.
// Load returns "" with a nil error when no token is stored.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryTokenStore creates a store seeded with token (may be "").
func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

func (s *MemoryTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryTokenStore) Save(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	return s.Save("")
}

// sessionDir returns the directory for persisting the session token.
func sessionDir(override string) string {
	if override != "" {
		return override
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".go-fluxe")
}

// savedSession holds the serialized token for persistence.
type savedSession struct {
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// FileTokenStore persists the token as JSON under a directory.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

// NewFileTokenStore creates a store writing to <dir>/session.json.
// An empty dir selects ~/.go-fluxe.
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{path: filepath.Join(sessionDir(dir), "session.json")}
}

// Path returns the session file location.
func (s *FileTokenStore) Path() string { return s.path }

func (s *FileTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var saved savedSession
	if err := json.Unmarshal(data, &saved); err != nil {
		return "", fmt.Errorf("decode session %s: %w", s.path, err)
	}
	return saved.AccessToken, nil
}

func (s *FileTokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(savedSession{AccessToken: token, SavedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write session %s: %w", s.path, err)
	}
	slog.Debug("session saved", slog.String("path", s.path))
	return nil
}

func (s *FileTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session %s: %w", s.path, err)
	}
	return nil
}

// TokenExpiry returns the exp claim of a JWT bearer token without verifying
// its signature. ok is false for opaque tokens or tokens without exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	_, exp, ok = tokenLifetime(token)
	return exp, ok
}

// tokenLifetime returns the iat and exp claims of a JWT. issued is zero when
// the token carries no iat.
func tokenLifetime(token string) (issued, exp time.Time, ok bool) {
	if token == "" {
		return time.Time{}, time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, time.Time{}, false
	}
	if claims.IssuedAt != nil {
		issued = claims.IssuedAt.Time
	}
	return issued, claims.ExpiresAt.Time, true
}

// tokenPrefix returns a short prefix of token safe for logs.
func tokenPrefix(token string) string {
	return token[:min(8, len(token))]
}
