package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Preferences holds non-auth client preferences, persisted independently of
// the session so that logout never touches them.
type Preferences struct {
	mu     sync.RWMutex
	values map[string]string
	path   string
}

// Preference keys.
const (
	PrefTheme = "theme"
)

// NewPreferences creates a preference store persisting to the given file.
// An empty path uses the default location under the user config dir.
func NewPreferences(path string) *Preferences {
	if path == "" {
		path = defaultStatePath("prefs.json")
	}
	return &Preferences{
		values: make(map[string]string),
		path:   path,
	}
}

// Get returns the value for a key, or "" when unset.
func (p *Preferences) Get(key string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[key]
}

// Set stores a single preference and persists the store.
func (p *Preferences) Set(key, value string) {
	p.mu.Lock()
	p.values[key] = value
	p.mu.Unlock()
	_ = p.save()
}

// Unset removes a single preference.
func (p *Preferences) Unset(key string) {
	p.mu.Lock()
	delete(p.values, key)
	p.mu.Unlock()
	_ = p.save()
}

// Load restores persisted preferences. A missing file is not an error.
func (p *Preferences) Load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	p.mu.Lock()
	p.values = values
	p.mu.Unlock()
	return nil
}

func (p *Preferences) save() error {
	p.mu.RLock()
	data, err := json.MarshalIndent(p.values, "", "  ")
	p.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0644)
}
