// Package deployments records deployed contract addresses so later tooling
// runs (initialization, admin handover, the CLI) find them again. The file
// store writes atomically: a crashed deploy never leaves a half-written
// registry behind.
package deployments

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry describes one deployed contract.
type Entry struct {
	Address    string    `yaml:"address"`
	WasmHash   string    `yaml:"wasmHash,omitempty"`
	Network    string    `yaml:"network,omitempty"`
	DeployedAt time.Time `yaml:"deployedAt"`
}

// Store persists deployment records by contract name.
type Store interface {
	Get(name string) (Entry, bool)
	Put(name string, entry Entry) error
	Names() []string
}

type fileFormat struct {
	Contracts map[string]Entry `yaml:"contracts"`
}

// FileStore is a YAML-file-backed Store.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// Open loads the registry at path, starting empty when the file does not
// exist yet.
func Open(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("deployments path cannot be empty")
	}
	store := &FileStore{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deployments file %s: %w", path, err)
	}

	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse deployments file %s: %w", path, err)
	}
	if file.Contracts != nil {
		store.entries = file.Contracts
	}
	return store, nil
}

// Get returns the recorded entry for a contract name.
func (s *FileStore) Get(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	return entry, ok
}

// Put records an entry and persists the whole registry atomically.
func (s *FileStore) Put(name string, entry Entry) error {
	if name == "" {
		return fmt.Errorf("contract name cannot be empty")
	}
	if entry.Address == "" {
		return fmt.Errorf("entry for %s has no address", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.entries[name]
	s.entries[name] = entry
	if err := s.writeLocked(); err != nil {
		// Keep the in-memory view consistent with the file.
		if existed {
			s.entries[name] = previous
		} else {
			delete(s.entries, name)
		}
		return err
	}
	return nil
}

// Names returns the recorded contract names, sorted.
func (s *FileStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *FileStore) writeLocked() error {
	data, err := yaml.Marshal(fileFormat{Contracts: s.entries})
	if err != nil {
		return fmt.Errorf("failed to encode deployments: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".deployments-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write deployments: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync deployments: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close deployments: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace deployments file: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get returns the recorded entry for a contract name.
func (s *MemoryStore) Get(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	return entry, ok
}

// Put records an entry.
func (s *MemoryStore) Put(name string, entry Entry) error {
	if name == "" {
		return fmt.Errorf("contract name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = entry
	return nil
}

// Names returns the recorded contract names, sorted.
func (s *MemoryStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
