// Command main seeds the database with users, groups and pending reviewables.
package main

import (
	"context"
	"flag"
	"log"

	"reviewqueue/internal/bootstrap"
	"reviewqueue/internal/config"
	"reviewqueue/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of regular users to create")
	numModerators := flag.Int("moderators", 3, "Number of moderators to create")
	numPosts := flag.Int("posts", 40, "Number of queued posts to raise")
	numSignups := flag.Int("signups", 10, "Number of pending signups to raise")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	fast := flag.Bool("fast", false, "Store plain-text passwords instead of bcrypt hashes")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{ApplySchema: true})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close()

	summary, err := seed.Seed(ctx, rt.DB, rt.Service, seed.Options{
		NumUsers:       *numUsers,
		NumModerators:  *numModerators,
		NumQueuedPosts: *numPosts,
		NumSignups:     *numSignups,
		ShouldClean:    *shouldClean,
		SkipBcrypt:     *fast,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ All done! %d users, %d moderators, %d reviewables.",
		summary.Users, summary.Moderators, summary.Reviewables)
	log.Printf("📧 All seeded users have the password: %s", seed.DefaultPassword)
}
