package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"realmeal/internal/config"
	"realmeal/internal/middleware"
	"realmeal/internal/models"

	"gorm.io/gorm"
)

// SchemaMode selects how the posts, comments and users tables are managed.
type SchemaMode string

const (
	// SchemaModeHybrid applies SQL migrations everywhere and AutoMigrate outside production.
	SchemaModeHybrid SchemaMode = "hybrid"
	// SchemaModeSQL applies only the embedded SQL migrations.
	SchemaModeSQL SchemaMode = "sql"
	// SchemaModeAuto applies only GORM AutoMigrate.
	SchemaModeAuto SchemaMode = "auto"
)

// ParseSchemaMode reads DB_SCHEMA_MODE. Blank means hybrid.
func ParseSchemaMode(raw string) (SchemaMode, error) {
	switch mode := SchemaMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return SchemaModeHybrid, nil
	case SchemaModeHybrid, SchemaModeSQL, SchemaModeAuto:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported DB_SCHEMA_MODE %q", raw)
	}
}

// SchemaPlan is what ApplySchema will do for a configuration.
type SchemaPlan struct {
	Mode    SchemaMode
	Env     string
	RunSQL  bool
	RunAuto bool
}

// PlanSchema decides which schema steps run. AutoMigrate can drop or retype
// columns, so auto mode is refused in production-like environments unless
// DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE is set.
func PlanSchema(cfg *config.Config) (SchemaPlan, error) {
	mode, err := ParseSchemaMode(cfg.DBSchemaMode)
	if err != nil {
		return SchemaPlan{}, err
	}
	plan := SchemaPlan{Mode: mode, Env: cfg.Env}
	prodLike := cfg.IsProduction() || isStaging(cfg.Env)

	switch mode {
	case SchemaModeSQL:
		plan.RunSQL = true
	case SchemaModeAuto:
		if prodLike && !cfg.DBAutoMigrateAllowDestructive {
			return SchemaPlan{}, fmt.Errorf("refusing DB_SCHEMA_MODE=auto in %q without DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true", cfg.Env)
		}
		plan.RunAuto = true
	case SchemaModeHybrid:
		plan.RunSQL = true
		plan.RunAuto = !prodLike
	}
	return plan, nil
}

func isStaging(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "staging", "stage":
		return true
	}
	return false
}

// ApplySchema brings the database up to date and checks that every table the
// service reads from exists afterwards.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	plan, err := PlanSchema(cfg)
	if err != nil {
		return err
	}
	return applyPlan(ctx, db, plan, cfg.DBAutoMigrateAllowDestructive)
}

func applyPlan(ctx context.Context, db *gorm.DB, plan SchemaPlan, destructive bool) error {
	if plan.RunSQL {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	}
	if plan.RunAuto {
		if plan.Mode == SchemaModeAuto && destructive {
			middleware.Logger.Warn("AutoMigrate running with DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE=true")
		}
		middleware.Logger.Info("running gorm automigrate",
			slog.String("mode", string(plan.Mode)),
			slog.String("env", plan.Env),
		)
		if err := db.WithContext(ctx).AutoMigrate(PersistentModels()...); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}

	if missing := missingTables(db); len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing tables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PersistentModels lists the tables the service reads and writes.
func PersistentModels() []interface{} {
	return []interface{}{&models.User{}, &models.Post{}, &models.Comment{}}
}

func missingTables(db *gorm.DB) []string {
	var missing []string
	for _, model := range PersistentModels() {
		if db.Migrator().HasTable(model) {
			continue
		}
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err == nil {
			missing = append(missing, stmt.Schema.Table)
		} else {
			missing = append(missing, fmt.Sprintf("%T", model))
		}
	}
	return missing
}

// SchemaStatus reports the plan for the current configuration and what the
// database already has.
type SchemaStatus struct {
	SchemaPlan
	AppliedVersions   []int
	PendingMigrations []Migration
	MissingTables     []string
}

// GetSchemaStatus inspects the database without changing it.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	plan, err := PlanSchema(cfg)
	if err != nil {
		return nil, err
	}
	status := &SchemaStatus{SchemaPlan: plan, MissingTables: missingTables(db)}
	if !plan.RunSQL {
		return status, nil
	}

	applied, err := NewMigrationStore(db).GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	status.AppliedVersions = applied

	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	for _, m := range GetMigrations() {
		if !done[m.Version] {
			status.PendingMigrations = append(status.PendingMigrations, m)
		}
	}
	return status, nil
}
