package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"realmeal/internal/middleware"

	"gorm.io/gorm"
)

// MigrationLog is one applied migration. Checksum is the SHA-256 of the up
// script at the time it ran; rows written before checksums existed leave it empty.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255"`
	Checksum  string    `gorm:"size:64"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for MigrationLog.
func (MigrationLog) TableName() string {
	return "migration_logs"
}

// Checksum fingerprints the up script.
func (m *Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.UpScript))
	return hex.EncodeToString(sum[:])
}

// MigrationStore reads and writes the migration log.
type MigrationStore interface {
	Applied(ctx context.Context) ([]MigrationLog, error)
	GetAppliedMigrations(ctx context.Context) ([]int, error)
}

type migrationStore struct {
	db *gorm.DB
}

// NewMigrationStore creates a store over db's migration_logs table.
func NewMigrationStore(db *gorm.DB) MigrationStore {
	return &migrationStore{db: db}
}

// Applied returns the log ordered by version. A missing table means nothing ran yet.
func (s *migrationStore) Applied(ctx context.Context) ([]MigrationLog, error) {
	var logs []MigrationLog
	if err := s.db.WithContext(ctx).Order("version ASC").Find(&logs).Error; err != nil {
		if isMissingTableError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration log: %w", err)
	}
	return logs, nil
}

// GetAppliedMigrations returns the applied versions in ascending order.
func (s *migrationStore) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	logs, err := s.Applied(ctx)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(logs))
	for _, l := range logs {
		versions = append(versions, l.Version)
	}
	return versions, nil
}

func isMissingTableError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true
	}
	msg := err.Error()
	return (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "no such table")
}

// RunMigrations applies every embedded migration that has not run yet.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	return runMigrations(ctx, db, migrations)
}

func runMigrations(ctx context.Context, db *gorm.DB, list []Migration) error {
	if err := ensureMigrationLogTable(ctx, db); err != nil {
		return err
	}
	logs, err := NewMigrationStore(db).Applied(ctx)
	if err != nil {
		return err
	}
	if err := checkLog(logs, list); err != nil {
		return err
	}

	done := make(map[int]bool, len(logs))
	for _, l := range logs {
		done[l.Version] = true
	}
	for i := range list {
		m := &list[i]
		if done[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs the up script and logs it in one transaction, so a
// failing script leaves no log row behind.
func applyMigration(ctx context.Context, db *gorm.DB, m *Migration) error {
	middleware.Logger.Info("applying migration", slog.String("migration", m.String()))
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(m.UpScript).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", m, err)
		}
		entry := &MigrationLog{Version: m.Version, Name: m.Name, Checksum: m.Checksum()}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("record migration %s: %w", m, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	middleware.Logger.Info("migration applied", slog.Int("version", m.Version))
	return nil
}

func ensureMigrationLogTable(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&MigrationLog{}); err != nil {
		return fmt.Errorf("ensure migration_logs table: %w", err)
	}
	return nil
}

// checkLog refuses to run when the log mentions versions this binary does not
// ship, or when a shipped script changed after it was applied.
func checkLog(logs []MigrationLog, registered []Migration) error {
	known := make(map[int]*Migration, len(registered))
	for i := range registered {
		known[registered[i].Version] = &registered[i]
	}

	var unknown, drifted []string
	for _, l := range logs {
		m, ok := known[l.Version]
		if !ok {
			unknown = append(unknown, fmt.Sprintf("%06d", l.Version))
			continue
		}
		if l.Checksum != "" && l.Checksum != m.Checksum() {
			drifted = append(drifted, m.String())
		}
	}

	switch {
	case len(unknown) > 0:
		sort.Strings(unknown)
		return fmt.Errorf("migration_logs contains versions not present in code: %s (reset the development database to rebuild)",
			strings.Join(unknown, ", "))
	case len(drifted) > 0:
		return fmt.Errorf("applied migrations were edited afterwards: %s (add a new migration instead)",
			strings.Join(drifted, ", "))
	}
	return nil
}

// RollbackMigration reverts version, which must be the newest applied migration.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	return rollbackMigration(ctx, db, migrations, version)
}

func rollbackMigration(ctx context.Context, db *gorm.DB, list []Migration, version int) error {
	var target *Migration
	for i := range list {
		if list[i].Version == version {
			target = &list[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration version %d not found", version)
	}

	applied, err := NewMigrationStore(db).GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 || !containsInt(applied, version) {
		return fmt.Errorf("migration %d has not been applied", version)
	}
	if newest := applied[len(applied)-1]; newest != version {
		return fmt.Errorf("migration %d is not the newest applied (%d); roll back in reverse order", version, newest)
	}

	middleware.Logger.Info("rolling back migration", slog.String("migration", target.String()))
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(target.DownScript).Error; err != nil {
			return fmt.Errorf("rollback %s: %w", target, err)
		}
		return tx.Where("version = ?", version).Delete(&MigrationLog{}).Error
	})
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
