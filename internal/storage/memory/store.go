// Package memory is an in-process storage.Provider. With a snapshot path it
// also persists the whole keyspace as one JSON document after every write.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/julianstephens/guardian/internal/storage"
)

type snapshot struct {
	Version int                          `json:"version"`
	Users   map[string]map[string][]byte `json:"users"`
}

type Store struct {
	path string

	mu     sync.RWMutex
	users  map[string]map[string][]byte
	loaded bool
	fault  error
}

// NewStore returns a volatile store.
func NewStore() *Store {
	return &Store{}
}

// NewFileStore returns a store persisted to a JSON snapshot at path.
func NewFileStore(path string) *Store {
	return &Store{path: path}
}

// Fail makes every subsequent operation return err wrapped in
// storage.ErrUnavailable. Fail(nil) restores normal operation.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = err
}

func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if _, err := os.Stat(s.path); err == nil {
			return s.readLocked()
		}
	}
	s.users = map[string]map[string][]byte{}
	s.loaded = true
	return s.saveLocked()
}

func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}
	if s.path == "" {
		s.users = map[string]map[string][]byte{}
		s.loaded = true
		return nil
	}
	return s.readLocked()
}

func (s *Store) readLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: storage not initialized, run 'guardian init' first", storage.ErrUnavailable)
		}
		return fmt.Errorf("failed to read storage: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse storage: %w", err)
	}
	if snap.Users == nil {
		snap.Users = map[string]map[string][]byte{}
	}
	s.users = snap.Users
	s.loaded = true
	return nil
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(snapshot{Version: 1, Users: s.users}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize storage: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	return nil
}

func (s *Store) readyLocked() error {
	if s.fault != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, s.fault)
	}
	if !s.loaded {
		return fmt.Errorf("%w: memory store not loaded", storage.ErrUnavailable)
	}
	return nil
}

func (s *Store) Get(_ context.Context, userID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	v, ok := s.users[userID][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Put(_ context.Context, userID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}
	keys, ok := s.users[userID]
	if !ok {
		keys = map[string][]byte{}
		s.users[userID] = keys
	}
	keys[key] = append([]byte(nil), value...)
	return s.saveLocked()
}

func (s *Store) Delete(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}
	if _, ok := s.users[userID][key]; !ok {
		return nil
	}
	delete(s.users[userID], key)
	return s.saveLocked()
}

func (s *Store) Query(_ context.Context, userID, prefix string) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	var out []storage.Entry
	for k, v := range s.users[userID] {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.Entry{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Users(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(s.users))
	for u, keys := range s.users {
		if len(keys) > 0 {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out, nil
}

// IsVolatile reports whether the store has no backing file.
func (s *Store) IsVolatile() bool {
	return s.path == ""
}

func (s *Store) GetConfigPath() string {
	if s.path == "" {
		return "memory://"
	}
	return s.path
}
