// Package main provides staff management utilities for the review queue.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"reviewqueue/internal/cache"
	"reviewqueue/internal/config"
	"reviewqueue/internal/database"
	"reviewqueue/internal/repository"
)

type roleChange struct {
	column string
	value  bool
	label  string
}

var roleChanges = map[string]roleChange{
	"promote":          {column: "is_admin", value: true, label: "promoted to admin"},
	"demote":           {column: "is_admin", value: false, label: "demoted from admin"},
	"grant-moderator":  {column: "is_moderator", value: true, label: "granted moderator"},
	"revoke-moderator": {column: "is_moderator", value: false, label: "revoked moderator"},
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/admin/main.go promote <user_id>           - Promote user to admin")
	fmt.Println("  go run ./cmd/admin/main.go demote <user_id>            - Demote user from admin")
	fmt.Println("  go run ./cmd/admin/main.go grant-moderator <user_id>   - Make user a moderator")
	fmt.Println("  go run ./cmd/admin/main.go revoke-moderator <user_id>  - Remove moderator role")
	fmt.Println("  go run ./cmd/admin/main.go join-group <user_id> <group_id>  - Add user to a reviewing group")
	fmt.Println("  go run ./cmd/admin/main.go leave-group <user_id> <group_id> - Remove user from a group")
	fmt.Println("  go run ./cmd/admin/main.go list-staff                  - List admins and moderators")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Role and group changes must evict cached users and pending counts held
	// by a running server.
	rdb, err := cache.Open(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Printf("Redis unavailable, cached users will expire on their own: %v", err)
	}
	if rdb != nil {
		cache.SetClient(rdb)
		defer func() { _ = rdb.Close() }()
	}

	users := repository.NewUserRepository(db)
	ctx := context.Background()
	command := os.Args[1]

	if command == "list-staff" {
		listStaff(ctx, users)
		return
	}
	if command == "join-group" || command == "leave-group" {
		if len(os.Args) < 4 {
			fmt.Printf("Usage: go run ./cmd/admin/main.go %s <user_id> <group_id>\n", command)
			os.Exit(1)
		}
		changeGroup(ctx, users, command == "join-group", parseID(os.Args[2], "user"), parseID(os.Args[3], "group"))
		return
	}

	change, ok := roleChanges[command]
	if !ok {
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}
	if len(os.Args) < 3 {
		fmt.Printf("Usage: go run ./cmd/admin/main.go %s <user_id>\n", command)
		os.Exit(1)
	}
	applyRole(ctx, users, parseID(os.Args[2], "user"), change)
}

func parseID(raw, what string) uint {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		fmt.Printf("Invalid %s ID: %s\n", what, raw)
		os.Exit(1)
	}
	return uint(id)
}

func changeGroup(ctx context.Context, users repository.UserRepository, join bool, userID, groupID uint) {
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		log.Fatalf("Failed to load user %d: %v", userID, err)
	}

	if join {
		err = users.AddToGroup(ctx, groupID, userID)
	} else {
		err = users.RemoveFromGroup(ctx, groupID, userID)
	}
	if err != nil {
		log.Fatalf("Failed to update group membership: %v", err)
	}

	verb := "added to"
	if !join {
		verb = "removed from"
	}
	fmt.Printf("✅ %s (ID: %d) %s group %d\n", user.Username, user.ID, verb, groupID)
}

func applyRole(ctx context.Context, users repository.UserRepository, id uint, change roleChange) {
	user, err := users.GetByID(ctx, id)
	if err != nil {
		log.Fatalf("Failed to load user %d: %v", id, err)
	}

	current := user.IsAdmin
	if change.column == "is_moderator" {
		current = user.IsModerator
	}
	if current == change.value {
		fmt.Printf("User %s (ID: %d) is already in that role\n", user.Username, user.ID)
		return
	}

	if err := users.UpdateFields(ctx, id, map[string]any{change.column: change.value}); err != nil {
		log.Fatalf("Failed to update user: %v", err)
	}
	fmt.Printf("✅ %s (ID: %d) %s\n", user.Username, user.ID, change.label)
}

func listStaff(ctx context.Context, users repository.UserRepository) {
	staff, err := users.ListStaff(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch staff: %v", err)
	}

	if len(staff) == 0 {
		fmt.Println("No staff found in the system")
		return
	}

	fmt.Println("\n📋 Current Staff:")
	fmt.Println("─────────────────────────────────────")
	for _, u := range staff {
		role := "moderator"
		if u.IsAdmin {
			role = "admin"
		}
		fmt.Printf("ID: %d | Username: %s | Email: %s | Role: %s\n", u.ID, u.Username, u.Email, role)
	}
	fmt.Println("─────────────────────────────────────")
}
