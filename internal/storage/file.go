// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var validSlot = regexp.MustCompile(`^[a-zA-Z0-9\-_]{1,128}$`)

// FileStore writes each slot to <dir>/<slot>.json. Writes go through a
// temporary file and rename so a crash never leaves a half-written slot.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(slot string) (string, error) {
	if !validSlot.MatchString(slot) {
		return "", fmt.Errorf("invalid slot name %q", slot)
	}
	return filepath.Join(f.dir, slot+".json"), nil
}

func (f *FileStore) Load(_ context.Context, slot string) ([]byte, error) {
	p, err := f.path(slot)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %s: %w", slot, err)
	}
	return data, nil
}

func (f *FileStore) Save(_ context.Context, slot string, data []byte) error {
	p, err := f.path(slot)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, slot+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for slot %s: %w", slot, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write slot %s: %w", slot, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close slot %s: %w", slot, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace slot %s: %w", slot, err)
	}

	getLog().Trace().Str("slot", slot).Int("bytes", len(data)).Msg("Slot saved")
	return nil
}

func (f *FileStore) Close() error {
	return nil
}
