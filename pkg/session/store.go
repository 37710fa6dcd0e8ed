// Package session holds the authenticated identity and client preferences.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/verdantlabs/canopy/pkg/models"
)

// Store is the single source of truth for the authenticated session.
//
// Absence of a token is a valid state. No operation returns an error to the
// caller for in-memory access; persistence failures are reported only by the
// explicit Save/Load calls.
type Store struct {
	mu    sync.RWMutex
	token *models.SessionToken
	path  string
}

// NewStore creates a store persisting to the given file. An empty path uses
// the default location under the user config dir.
func NewStore(path string) *Store {
	if path == "" {
		path = defaultStatePath("session.json")
	}
	return &Store{path: path}
}

// Set replaces the session token and persists it.
func (s *Store) Set(token models.SessionToken) {
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now()
	}
	s.mu.Lock()
	s.token = &token
	s.mu.Unlock()
	_ = s.Save()
}

// Get returns the current token, or false if no session exists.
func (s *Store) Get() (models.SessionToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return models.SessionToken{}, false
	}
	return *s.token, true
}

// AccessToken returns the current access token, or "" when signed out.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// RefreshToken returns the current refresh token, or "" when none is held.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.RefreshToken
}

// SetAccessToken swaps in a refreshed access token, keeping the rest of the
// session intact.
func (s *Store) SetAccessToken(token string) {
	s.mu.Lock()
	if s.token != nil {
		s.token.AccessToken = token
		s.token.IssuedAt = time.Now()
	}
	s.mu.Unlock()
	_ = s.Save()
}

// Identity returns the stored user identity.
func (s *Store) Identity() models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return models.Identity{}
	}
	return s.token.Identity
}

// Clear removes the access token, refresh token, and identity together.
// The cleared state is fully observable before Clear returns; there is no
// partially-cleared state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
	_ = os.Remove(s.path)
}

// Save writes the session to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == nil {
		return os.Remove(s.path)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Load restores a previously saved session. A missing file leaves the store
// signed out and returns nil.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var token models.SessionToken
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	s.mu.Lock()
	s.token = &token
	s.mu.Unlock()
	return nil
}

// Claims is the subset of access-token claims the client cares about.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// IdentityFromToken decodes identity fields from a JWT access token without
// verifying the signature. Verification is the backend's job; the client
// only needs the display fields and expiry.
func IdentityFromToken(accessToken string) (models.Identity, time.Time, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return models.Identity{}, time.Time{}, err
	}
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return models.Identity{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
	}, expires, nil
}

// defaultStatePath returns the per-user path for a canopy state file.
func defaultStatePath(name string) string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Canopy", name)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "canopy", name)
}
