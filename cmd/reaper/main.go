// Command reaper deletes every post past its retention window and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"realmeal/internal/bootstrap"
	"realmeal/internal/config"
	"realmeal/internal/middleware"
	"realmeal/internal/observability"
	"realmeal/internal/repository"
	"realmeal/internal/service"
	"realmeal/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	batchSize := flag.Int("batch", 0, "Posts deleted per batch (defaults to REAPER_BATCH_SIZE)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	middleware.Logger = middleware.NewLogger(cfg.Env, cfg.LogLevel)
	observability.SetLogger(middleware.Logger)
	observability.SetRepoLogging(cfg.RepoLogging)
	if *batchSize <= 0 {
		*batchSize = cfg.ReaperBatchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.InitRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	blobs, err := storage.New(cfg)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	postRepo := repository.NewPostRepository(rt.DB)
	posts := service.NewPostService(postRepo, blobs, rt.Publisher, service.WithRetention(cfg.Retention()))
	reaper := service.NewReaper(postRepo, posts, cfg.ReaperInterval, *batchSize)

	deleted, err := reaper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed after %d deletions: %w", deleted, err)
	}
	log.Printf("deleted %d expired posts (retention %s)", deleted, cfg.Retention())
	return nil
}
