// Package credentials persists the upstream engine API key for desktop
// installs where environment variables are impractical. Precedence,
// highest first: DEEPSEEK_API_KEY in the environment, then settings.json
// under the app data directory.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const settingsFileName = "settings.json"

type settingsFile struct {
	DeepSeekAPIKey string `json:"deepseek_api_key"`
}

// Store reads and writes the settings file in one directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. An empty dir selects
// ~/.textpilot.
func NewStore(dir string) *Store {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir()
	}
	return &Store{dir: dir}
}

// DefaultDir returns the per-user app data directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".textpilot"
	}
	return filepath.Join(home, ".textpilot")
}

// APIKey resolves the engine key: environment first, stored settings
// second. A missing or unreadable settings file yields "".
func (s *Store) APIKey() string {
	if env := strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY")); env != "" {
		return env
	}
	data, err := os.ReadFile(filepath.Join(s.dir, settingsFileName))
	if err != nil {
		return ""
	}
	var file settingsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return ""
	}
	return strings.TrimSpace(file.DeepSeekAPIKey)
}

// SaveAPIKey persists the key atomically and restricts the file to the
// owning user.
func (s *Store) SaveAPIKey(key string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(settingsFile{DeepSeekAPIKey: strings.TrimSpace(key)}, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, settingsFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	// Best effort on platforms without POSIX permissions.
	_ = os.Chmod(path, 0o600)
	return nil
}
