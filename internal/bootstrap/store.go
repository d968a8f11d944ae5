package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store holds assembled bootstrap scripts and downloaded worker payloads on
// disk. The sandbox is always spawned from a file in this store.
type Store struct {
	path string
}

// NewStore creates the storage directory. A missing path is a configuration
// error: the store refuses to initialize.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bootstrap store path is required")
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Dir is the store's root directory
func (s *Store) Dir() string {
	return s.path
}

// ScriptPath is where the assembled bootstrap script for a session lives
func (s *Store) ScriptPath(sessionID string) string {
	return filepath.Join(s.path, fmt.Sprintf("debuggerWorker-%s.js", sessionID))
}

// PayloadPath is where the downloaded debugger-worker payload for a session lives
func (s *Store) PayloadPath(sessionID string) string {
	return filepath.Join(s.path, fmt.Sprintf("payload-%s.js", sessionID))
}

// Remove deletes a session's stored files
func (s *Store) Remove(sessionID string) error {
	for _, p := range []string{s.ScriptPath(sessionID), s.PayloadPath(sessionID)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}
