// Command migrate applies, inspects and rolls back schema migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"reviewqueue/internal/config"
	"reviewqueue/internal/database"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate/main.go <up|auto|status|down> [version]")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(flag.Arg(0))) {
	case "up":
		migrator, err := database.NewEmbeddedMigrator(db)
		if err != nil {
			return err
		}
		ran, err := migrator.Up(ctx)
		for _, m := range ran {
			log.Printf("applied %s", m)
		}
		if err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		log.Printf("sql migrations up to date (%d applied this run)", len(ran))

	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		log.Println("automigrations applied")

	case "status":
		status, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return fmt.Errorf("schema status failed: %w", err)
		}
		log.Printf("mode=%s env=%s run_sql=%t run_auto=%t known=%d pending=%d",
			status.Mode, status.Environment, status.SQL, status.AutoMigrate,
			len(status.Migrations), len(status.Pending()))
		for _, m := range status.Migrations {
			state := "pending"
			switch {
			case m.Drifted:
				state = "DRIFTED since " + m.AppliedAt.Format("2006-01-02 15:04:05")
			case m.Applied:
				state = "applied " + m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			log.Printf("  %s  %s", m.Migration, state)
		}

	case "down":
		if flag.NArg() < 2 {
			return fmt.Errorf("usage: go run ./cmd/migrate/main.go down <version>")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", flag.Arg(1), err)
		}
		migrator, err := database.NewEmbeddedMigrator(db)
		if err != nil {
			return err
		}
		if err := migrator.Down(ctx, version); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Printf("rolled back migration %06d", version)

	default:
		return usage()
	}
	return nil
}
