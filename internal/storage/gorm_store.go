// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/noldarim/inkwell/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SlotRecord is one persisted slot row.
type SlotRecord struct {
	Name      string    `gorm:"primaryKey;type:text"`
	Data      string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (SlotRecord) TableName() string {
	return "state_slots"
}

// GormStore keeps slots in a SQL table through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the configured database and migrates the slots table.
func NewGormStore(cfg *config.StorageConfig) (*GormStore, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn := cfg.Path
		if dsn == ":memory:" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&SlotRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate slots table: %w", err)
	}

	getLog().Info().Str("driver", cfg.Driver).Msg("Slot database ready")
	return &GormStore{db: db}, nil
}

func (g *GormStore) Load(ctx context.Context, slot string) ([]byte, error) {
	var rec SlotRecord
	err := g.db.WithContext(ctx).First(&rec, "name = ?", slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load slot %s: %w", slot, err)
	}
	return []byte(rec.Data), nil
}

func (g *GormStore) Save(ctx context.Context, slot string, data []byte) error {
	rec := SlotRecord{Name: slot, Data: string(data)}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save slot %s: %w", slot, err)
	}
	return nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
