// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/noldarim/inkwell/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileStore(filepath.Join(dir, "slots"))
	require.NoError(t, err)

	db, err := NewGormStore(&config.StorageConfig{Driver: "sqlite", Path: filepath.Join(dir, "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   file,
		"sqlite": db,
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()

	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(ctx, PipelineSlot)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Save(ctx, PipelineSlot, []byte(`{"v":1}`)))
			require.NoError(t, s.Save(ctx, ContextSlot, []byte(`{"c":true}`)))
			require.NoError(t, s.Save(ctx, PipelineSlot, []byte(`{"v":2}`)))

			got, err := s.Load(ctx, PipelineSlot)
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(got))

			got, err = s.Load(ctx, ContextSlot)
			require.NoError(t, err)
			assert.JSONEq(t, `{"c":true}`, string(got))
		})
	}
}

func TestFileStore_RejectsPathTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = s.Save(context.Background(), "../escape", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid slot name")
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(context.Background(), ContextSlot, []byte("{}")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ContextSlot+".json", entries[0].Name())
}

func TestNew(t *testing.T) {
	s, err := New(&config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(&config.StorageConfig{Driver: "file", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = New(&config.StorageConfig{Driver: "etcd"})
	require.Error(t, err)
}
