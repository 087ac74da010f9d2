// Command migrate manages the posts, comments and users schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"realmeal/internal/config"
	"realmeal/internal/database"

	"gorm.io/gorm"
)

const usage = "usage: migrate [-timeout 5m] <up|auto|status|list|down [version]>"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	timeout := flag.Duration("timeout", 5*time.Minute, "Abort after this long")
	flag.Parse()
	cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0)))

	if cmd == "list" {
		listMigrations()
		return nil
	}
	if cmd == "" {
		return errors.New(usage)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	db, err := database.ConnectWithOptions(ctx, cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = database.Close(db) }()

	switch cmd {
	case "up":
		if err := database.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		log.Println("sql migrations applied")
	case "auto":
		cfg.DBSchemaMode = string(database.SchemaModeAuto)
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		log.Println("automigrations applied")
	case "status":
		return printStatus(ctx, db, cfg)
	case "down":
		return rollback(ctx, db, flag.Arg(1))
	default:
		return errors.New(usage)
	}
	return nil
}

func listMigrations() {
	for _, m := range database.GetMigrations() {
		fmt.Printf("%s\t%s\n", m.String(), m.Checksum()[:12])
	}
}

func printStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	status, err := database.GetSchemaStatus(ctx, db, cfg)
	if err != nil {
		return fmt.Errorf("schema status failed: %w", err)
	}
	log.Printf("mode=%s env=%s run_sql=%t run_auto=%t applied=%d pending=%d",
		status.Mode, status.Env, status.RunSQL, status.RunAuto,
		len(status.AppliedVersions), len(status.PendingMigrations))
	if len(status.MissingTables) > 0 {
		log.Printf("missing tables: %s", strings.Join(status.MissingTables, ", "))
	}
	for _, m := range status.PendingMigrations {
		log.Printf("pending: %s", m.String())
	}
	return nil
}

// rollback reverts the given version, or the newest applied one when arg is empty.
func rollback(ctx context.Context, db *gorm.DB, arg string) error {
	var version int
	if arg == "" {
		applied, err := database.NewMigrationStore(db).GetAppliedMigrations(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			return fmt.Errorf("no applied migrations to roll back")
		}
		version = applied[len(applied)-1]
	} else {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", arg, err)
		}
		version = v
	}

	if err := database.RollbackMigration(ctx, db, version); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	log.Printf("rolled back migration %06d", version)
	return nil
}
