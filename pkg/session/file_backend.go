package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aixgo-dev/recall/pkg/memory"
)

// ErrInvalidPathComponent is returned when a path component contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

const memoryFileSuffix = ".memory.json"

// validatePathComponent checks that a string is safe to use as a path component.
// It rejects empty strings, path separators, and traversal sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileBackend implements StorageBackend with one JSON file per session.
// Storage layout:
//
//	~/.recall/sessions/
//	  ├── <session-id>.memory.json
//	  └── <session-id>.memory.json
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a new file-based storage backend.
// If baseDir is empty, uses ~/.recall/sessions.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".recall", "sessions")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{
		baseDir: baseDir,
	}, nil
}

func (f *FileBackend) memoryPath(sessionID string) string {
	return filepath.Join(f.baseDir, sessionID+memoryFileSuffix)
}

// SaveMemory writes the record atomically via a temp file and rename.
func (f *FileBackend) SaveMemory(ctx context.Context, sessionID string, mem *memory.SessionMemory) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}
	if err := validatePathComponent(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	if mem == nil {
		return errors.New("memory is nil")
	}

	data, err := json.MarshalIndent(record{
		SessionID: sessionID,
		SavedAt:   time.Now().UTC(),
		Memory:    mem,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	tmp, err := os.CreateTemp(f.baseDir, sessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.memoryPath(sessionID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename memory file: %w", err)
	}

	return nil
}

// LoadMemory reads the record for a session.
func (f *FileBackend) LoadMemory(ctx context.Context, sessionID string) (*memory.SessionMemory, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}
	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	data, err := os.ReadFile(f.memoryPath(sessionID)) // #nosec G304 - path component validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMemoryNotFound
		}
		return nil, fmt.Errorf("read memory file: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse memory file: %w", err)
	}
	if rec.Memory == nil {
		return nil, ErrMemoryNotFound
	}
	return rec.Memory, nil
}

// DeleteMemory removes the record for a session.
func (f *FileBackend) DeleteMemory(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}
	if err := validatePathComponent(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	if err := os.Remove(f.memoryPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove memory file: %w", err)
	}
	return nil
}

// ListSessions returns the IDs of sessions with a stored record.
func (f *FileBackend) ListSessions(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := strings.CutSuffix(entry.Name(), memoryFileSuffix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping checks that the base directory is still accessible.
func (f *FileBackend) Ping(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrStorageClosed
	}
	info, err := os.Stat(f.baseDir)
	if err != nil {
		return fmt.Errorf("stat base directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", f.baseDir)
	}
	return nil
}

// Close marks the backend as closed.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
