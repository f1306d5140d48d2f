// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists named JSON slots. The pipeline and research
// stores each own one slot, written on every mutation and read once at
// startup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/noldarim/inkwell/internal/config"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/rs/zerolog"
)

// Slot names used by the stores.
const (
	PipelineSlot = "pipeline-storage"
	ContextSlot  = "research-context-storage"
)

// ErrNotFound is returned by Load when a slot has never been written.
var ErrNotFound = errors.New("slot not found")

// Store is a durable key-value store of JSON blobs.
type Store interface {
	Load(ctx context.Context, slot string) ([]byte, error)
	Save(ctx context.Context, slot string, data []byte) error
	Close() error
}

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetStorageLogger()
		log = &l
	})
	return log
}

// New opens the backend selected by cfg.Driver.
func New(cfg *config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "sqlite", "postgres":
		return NewGormStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// MemoryStore keeps slots in process memory. Used for tests and ephemeral sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, slot string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.slots[slot]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Save(_ context.Context, slot string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
