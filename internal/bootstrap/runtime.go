// Package bootstrap assembles the process runtime: connections, the kind
// registry, the event bus and the review queue service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"reviewqueue/internal/cache"
	"reviewqueue/internal/config"
	"reviewqueue/internal/database"
	"reviewqueue/internal/featureflags"
	"reviewqueue/internal/kinds"
	"reviewqueue/internal/models"
	"reviewqueue/internal/notifications"
	"reviewqueue/internal/repository"
	"reviewqueue/internal/reviewable"
	"reviewqueue/internal/service"
	"reviewqueue/internal/validation"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// ApplySchema runs ApplySchema after connecting.
	ApplySchema bool
}

// Runtime is the wired review queue.
type Runtime struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	Flags       *featureflags.Manager
	Registry    *reviewable.Registry
	Bus         *reviewable.Bus
	Notifier    *notifications.Notifier
	Users       repository.UserRepository
	Posts       repository.PostRepository
	Reviewables repository.ReviewableRepository
	StaffLog    repository.StaffActionLogRepository
	Service     *service.ReviewableService
}

// InitRuntime connects to DB and Redis and wires the review queue on top.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: opts.ApplySchema})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Redis is optional; without it counts are computed on every request.
	r, err := cache.Open(ctx, cfg.RedisURL)
	if err != nil {
		slog.WarnContext(ctx, "continuing without redis", slog.String("error", err.Error()))
		r = nil
	} else if r != nil {
		slog.InfoContext(ctx, "redis connected")
	}

	if err := ensureDevRootAdmin(cfg, db); err != nil {
		return nil, fmt.Errorf("failed to bootstrap development root admin: %w", err)
	}

	return Wire(cfg, db, r)
}

// Wire builds the runtime over existing connections. rdb may be nil, which
// disables caching and notifications.
func Wire(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*Runtime, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("bootstrap: config and database are required")
	}
	cache.SetClient(rdb)

	rt := &Runtime{
		Config:      cfg,
		DB:          db,
		Redis:       rdb,
		Flags:       featureflags.NewManager(cfg.FeatureFlags),
		Registry:    reviewable.NewRegistry(),
		Bus:         reviewable.NewBus(slog.Default()),
		Notifier:    notifications.NewNotifier(rdb),
		Users:       repository.NewUserRepository(db),
		Posts:       repository.NewPostRepository(db),
		Reviewables: repository.NewReviewableRepository(db),
		StaffLog:    repository.NewStaffActionLogRepository(db),
	}

	if err := kinds.Register(rt.Registry, rt.Bus, kinds.Deps{
		Users:       rt.Users,
		Posts:       rt.Posts,
		Reviewables: rt.Reviewables,
		StaffLog:    rt.StaffLog,
	}); err != nil {
		return nil, err
	}

	rt.Bus.Subscribe(reviewable.EventCreated, notifications.InvalidateCounts)
	rt.Bus.Subscribe(reviewable.EventTransitionedTo, notifications.InvalidateCounts)
	notifications.NewReviewableCounts(rt.Notifier, rt.Reviewables, rt.Users).Subscribe(rt.Bus)

	rt.Service = service.NewReviewableService(service.ReviewableServiceInput{
		DB:          db,
		Registry:    rt.Registry,
		Reviewables: rt.Reviewables,
		Users:       rt.Users,
		Bus:         rt.Bus,
		Flags:       rt.Flags,
	})
	return rt, nil
}

// Close releases the database and Redis connections.
func (rt *Runtime) Close() {
	if sqlDB, err := rt.DB.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}
	if rt.Redis != nil {
		if rerr := rt.Redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}
}

func ensureDevRootAdmin(cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapRoot {
		return nil
	}

	username := strings.TrimSpace(cfg.DevRootUsername)
	if username == "" {
		username = "reviewqueue_root"
	}
	email := strings.TrimSpace(strings.ToLower(cfg.DevRootEmail))
	if email == "" {
		email = "root@reviewqueue.local"
	}
	password := cfg.DevRootPassword
	if password == "" {
		return fmt.Errorf("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}
	if err := validation.ValidateUsername(username); err != nil {
		return fmt.Errorf("DEV_ROOT_USERNAME: %w", err)
	}
	if err := validation.ValidateEmail(email); err != nil {
		return fmt.Errorf("DEV_ROOT_EMAIL: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return fmt.Errorf("DEV_ROOT_PASSWORD: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash root password: %w", err)
	}

	if err := db.Transaction(func(tx *gorm.DB) error {
		var root models.User
		findErr := tx.First(&root, 1).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			root = models.User{
				ID:       1,
				Username: username,
				Email:    email,
				Password: string(hashedPassword),
				IsAdmin:  true,
				Approved: true,
			}
			if err := tx.Create(&root).Error; err != nil {
				return err
			}
		case findErr != nil:
			return findErr
		default:
			updates := map[string]any{"is_admin": true, "approved": true}
			if cfg.DevRootForceCredentials {
				updates["username"] = username
				updates["email"] = email
				updates["password"] = string(hashedPassword)
			}
			if err := tx.Model(&models.User{}).Where("id = ?", 1).Updates(updates).Error; err != nil {
				return err
			}
		}

		// PostgreSQL sequences do not advance on explicit ID inserts.
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec(`
				SELECT setval(
					pg_get_serial_sequence('users', 'id'),
					GREATEST((SELECT COALESCE(MAX(id), 1) FROM users), 1),
					true
				)
			`).Error; err != nil {
				return fmt.Errorf("failed to reset users sequence: %w", err)
			}
		}

		return nil
	}); err != nil {
		return err
	}

	log.Printf("development root admin bootstrap ensured for user ID 1 (%s)", email)
	return nil
}
