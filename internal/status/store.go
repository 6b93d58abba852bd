/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/redis/go-redis/v9"
)

// FileName is the status file inside the state directory.
const FileName = "status.json"

// FileStore keeps the snapshot as a JSON file that is replaced atomically, so readers
// never observe a partial write.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store writing dir/status.json.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, FileName)}, nil
}

// Path returns the status file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the snapshot. A missing file is the default status.
func (s *FileStore) Load(ctx context.Context) (Status, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read status file: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("decode status file: %w", err)
	}
	return st, nil
}

// Save replaces the status file.
func (s *FileStore) Save(ctx context.Context, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := renameio.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

// RedisStore keeps the snapshot under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns a store using prefix:status.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, key: prefix + ":status"}
}

// Load reads the snapshot. A missing key is the default status.
func (s *RedisStore) Load(ctx context.Context) (Status, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Default(), nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("get status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// Save writes the snapshot.
func (s *RedisStore) Save(ctx context.Context, st Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// MemoryStore is an in-process store for tests and embedded use.
type MemoryStore struct {
	mu    sync.Mutex
	st    Status
	saved int
}

// NewMemoryStore returns a store holding the default status.
func NewMemoryStore() *MemoryStore { return &MemoryStore{st: Default()} }

func (s *MemoryStore) Load(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, nil
}

func (s *MemoryStore) Save(ctx context.Context, st Status) error {
	s.mu.Lock()
	s.st = st
	s.saved++
	s.mu.Unlock()
	return nil
}

// Saves returns the number of Save calls.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}
