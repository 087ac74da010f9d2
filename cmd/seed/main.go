// Command main fills the RealMeal database with demo data.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"realmeal/internal/config"
	"realmeal/internal/database"
	"realmeal/internal/seed"

	"gorm.io/gorm"
)

func main() {
	numUsers := flag.Int("users", 25, "Number of email users to create")
	numAnon := flag.Int("anonymous", 10, "Number of anonymous users to create")
	numPosts := flag.Int("posts", 120, "Number of posts to create")
	comments := flag.Int("comments", 3, "Comments per post")
	maxDays := flag.Int("max-days", 90, "Spread post ages over this many days")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	fixture := flag.String("fixture", "", "Load a YAML fixture instead of generated data")
	randSeed := flag.Int64("seed", 0, "Random seed for reproducible data (0 uses the clock)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	opts := seed.Options{
		NumUsers:        *numUsers,
		NumAnonymous:    *numAnon,
		NumPosts:        *numPosts,
		CommentsPerPost: *comments,
		MaxDays:         *maxDays,
		ShouldClean:     *shouldClean,
		RandSeed:        *randSeed,
	}

	var summary *seed.Summary
	if *fixture != "" {
		summary, err = applyFixture(ctx, db, *fixture, opts)
	} else {
		log.Printf("Target: %d users, %d anonymous, %d posts, clean=%v", *numUsers, *numAnon, *numPosts, *shouldClean)
		summary, err = seed.Seed(ctx, db, opts)
	}
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Seeded %d users, %d posts, %d comments", summary.Users, summary.Posts, summary.Comments)
	log.Printf("Email users have the password: %s", seed.DefaultPassword)
}

func applyFixture(ctx context.Context, db *gorm.DB, path string, opts seed.Options) (*seed.Summary, error) {
	f, err := os.Open(path) // #nosec G304: operator supplied path
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	fx, err := seed.LoadFixture(f)
	if err != nil {
		return nil, err
	}
	if opts.ShouldClean {
		if err := seed.ClearAll(ctx, db); err != nil {
			return nil, err
		}
	}
	log.Printf("Applying fixture %s", path)
	return fx.Apply(ctx, db, opts)
}
