package bootstrap

import (
	"context"
	"strings"
	"testing"

	"reviewqueue/internal/cache"
	"reviewqueue/internal/config"
	"reviewqueue/internal/kinds"
	"reviewqueue/internal/models"
	"reviewqueue/internal/service"
	"reviewqueue/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestWire_RegistersKinds(t *testing.T) {
	db := testutil.NewDB(t)
	rt, err := Wire(&config.Config{Env: "test"}, db, nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{kinds.KindQueuedPost, kinds.KindUser}, rt.Registry.Names())
	assert.False(t, rt.Notifier.Enabled())
	assert.NotNil(t, rt.Service)
}

func TestWire_CreatedEventBumpsCountVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := testutil.NewDB(t)
	rt, err := Wire(&config.Config{Env: "test"}, db, rdb)
	require.NoError(t, err)
	t.Cleanup(func() { cache.SetClient(nil) })

	author := &models.User{Username: "author", Email: "author@example.com", Password: "x", Approved: true}
	require.NoError(t, db.Create(author).Error)

	_, err = rt.Service.NeedsReview(context.Background(), service.NeedsReviewInput{
		Kind:                  kinds.KindQueuedPost,
		CreatedBy:             author,
		Payload:               map[string]any{"raw": "hello queue", "title": "first"},
		ReviewableByModerator: true,
	})
	require.NoError(t, err)

	version, err := mr.Get("reviewables:count:version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestEnsureDevRootAdmin(t *testing.T) {
	cfg := &config.Config{
		Env:              "development",
		DevBootstrapRoot: true,
		DevRootUsername:  "root",
		DevRootEmail:     "Root@Example.com",
		DevRootPassword:  "Sup3r-secret-pass",
	}

	t.Run("creates root", func(t *testing.T) {
		db := testutil.NewDB(t)
		require.NoError(t, ensureDevRootAdmin(cfg, db))

		var root models.User
		require.NoError(t, db.First(&root, 1).Error)
		assert.True(t, root.IsAdmin)
		assert.Equal(t, "root@example.com", root.Email)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(root.Password), []byte("Sup3r-secret-pass")))
	})

	t.Run("promotes existing user", func(t *testing.T) {
		db := testutil.NewDB(t)
		require.NoError(t, db.Create(&models.User{ID: 1, Username: "someone", Email: "s@example.com", Password: "x"}).Error)
		require.NoError(t, ensureDevRootAdmin(cfg, db))

		var root models.User
		require.NoError(t, db.First(&root, 1).Error)
		assert.True(t, root.IsAdmin)
		assert.Equal(t, "someone", root.Username)
	})

	t.Run("requires password", func(t *testing.T) {
		db := testutil.NewDB(t)
		noPass := *cfg
		noPass.DevRootPassword = ""
		assert.Error(t, ensureDevRootAdmin(&noPass, db))
	})

	t.Run("rejects weak credentials", func(t *testing.T) {
		db := testutil.NewDB(t)
		for name, mutate := range map[string]func(*config.Config){
			"password": func(c *config.Config) { c.DevRootPassword = "short" },
			"username": func(c *config.Config) { c.DevRootUsername = "-root-" },
			"email":    func(c *config.Config) { c.DevRootEmail = "not-an-email" },
		} {
			weak := *cfg
			mutate(&weak)
			err := ensureDevRootAdmin(&weak, db)
			assert.ErrorContains(t, err, "DEV_ROOT_"+strings.ToUpper(name), name)
		}
	})

	t.Run("skipped outside development", func(t *testing.T) {
		db := testutil.NewDB(t)
		prod := *cfg
		prod.Env = "production"
		require.NoError(t, ensureDevRootAdmin(&prod, db))
		var count int64
		require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}
