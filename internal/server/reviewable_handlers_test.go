package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reviewqueue/internal/config"
	"reviewqueue/internal/kinds"
	"reviewqueue/internal/middleware"
	"reviewqueue/internal/models"
	"reviewqueue/internal/seed"
	"reviewqueue/internal/service"
	"reviewqueue/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testJWTSecret = "handler-test-secret-at-least-32-chars"

type apiEnv struct {
	t       *testing.T
	db      *gorm.DB
	srv     *Server
	app     *fiber.App
	factory *seed.Factory
	admin   *models.User
	mod     *models.User
	member  *models.User
	nobody  *models.User
	group   *models.Group
}

func newAPIEnv(t *testing.T, flags string) *apiEnv {
	t.Helper()
	db := testutil.NewDB(t)
	cfg := &config.Config{Env: "test", JWTSecret: testJWTSecret, FeatureFlags: flags}
	srv, err := NewServerWithDeps(cfg, db, nil)
	require.NoError(t, err)

	app := fiber.New()
	srv.SetupRoutes(app)

	f := seed.NewFactory(db, seed.FactoryOptions{SkipBcrypt: true, Seed: 7})
	env := &apiEnv{t: t, db: db, srv: srv, app: app, factory: f}

	env.admin, err = f.CreateAdmin()
	require.NoError(t, err)
	env.mod, err = f.CreateModerator()
	require.NoError(t, err)
	env.member, err = f.CreateUser()
	require.NoError(t, err)
	env.nobody, err = f.CreateUser()
	require.NoError(t, err)
	env.group, err = f.CreateGroup("triage", env.member)
	require.NoError(t, err)
	return env
}

func (e *apiEnv) queuePost(title, raw string, groupID *uint) *models.Reviewable {
	e.t.Helper()
	r, err := e.srv.reviewables.NeedsReview(e.t.Context(), service.NeedsReviewInput{
		Kind:                  kinds.KindQueuedPost,
		CreatedBy:             e.member,
		Payload:               map[string]any{"title": title, "raw": raw},
		ReviewableByModerator: groupID == nil,
		ReviewableByGroupID:   groupID,
	})
	require.NoError(e.t, err)
	return r
}

func (e *apiEnv) queueSignup() (*models.Reviewable, *models.User) {
	e.t.Helper()
	signup, err := e.factory.CreateUser(func(u *models.User) { u.Approved = false })
	require.NoError(e.t, err)
	r, err := e.srv.reviewables.NeedsReview(e.t.Context(), service.NeedsReviewInput{
		Kind:                  kinds.KindUser,
		Target:                &models.TargetRef{Type: kinds.TargetUser, ID: signup.ID},
		CreatedBy:             e.admin,
		ReviewableByModerator: true,
	})
	require.NoError(e.t, err)
	return r, signup
}

func (e *apiEnv) do(method, path string, as *models.User, body any) (*http.Response, map[string]any) {
	e.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, err := middleware.IssueToken(testJWTSecret, as.ID, time.Hour)
		require.NoError(e.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(e.t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	if len(raw) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func actionIDs(item map[string]any) []string {
	var ids []string
	for _, a := range item["actions"].([]any) {
		ids = append(ids, a.(map[string]any)["id"].(string))
	}
	return ids
}

func TestReviewablesRequireAuth(t *testing.T) {
	env := newAPIEnv(t, "")
	resp, _ := env.do(http.MethodGet, "/api/reviewables", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListReviewables(t *testing.T) {
	env := newAPIEnv(t, "")
	forMods := env.queuePost("A moderator topic", "body one", nil)
	forGroup := env.queuePost("A group topic", "body two", &env.group.ID)

	ids := func(body map[string]any) []uint {
		var out []uint
		for _, item := range body["reviewables"].([]any) {
			out = append(out, uint(item.(map[string]any)["id"].(float64)))
		}
		return out
	}

	tests := []struct {
		name string
		as   *models.User
		want []uint
	}{
		{"admin sees everything", env.admin, []uint{forGroup.ID, forMods.ID}},
		{"moderator sees moderator rows", env.mod, []uint{forMods.ID}},
		{"group member sees group rows", env.member, []uint{forGroup.ID}},
		{"others see nothing", env.nobody, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(http.MethodGet, "/api/reviewables", tt.as, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.want, ids(body))
		})
	}

	t.Run("catalogs are per caller", func(t *testing.T) {
		_, body := env.do(http.MethodGet, "/api/reviewables", env.mod, nil)
		item := body["reviewables"].([]any)[0].(map[string]any)
		assert.Equal(t, []string{"approve", "reject"}, actionIDs(item))
		assert.Len(t, item["editable_fields"], 3)
		assert.Equal(t, "pending", item["status"])

		_, body = env.do(http.MethodGet, "/api/reviewables", env.member, nil)
		item = body["reviewables"].([]any)[0].(map[string]any)
		assert.Empty(t, item["actions"])
		assert.Empty(t, item["editable_fields"])
	})

	t.Run("invalid status", func(t *testing.T) {
		resp, _ := env.do(http.MethodGet, "/api/reviewables?status=bogus", env.admin, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("status filter", func(t *testing.T) {
		_, body := env.do(http.MethodGet, "/api/reviewables?status=approved", env.admin, nil)
		assert.Empty(t, body["reviewables"])
		_, body = env.do(http.MethodGet, "/api/reviewables?status=all", env.admin, nil)
		assert.Len(t, body["reviewables"], 2)
	})
}

func TestGetReviewable(t *testing.T) {
	env := newAPIEnv(t, "")
	r, signup := env.queueSignup()

	resp, body := env.do(http.MethodGet, fmt.Sprintf("/api/reviewables/%d", r.ID), env.mod, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	item := body["reviewable"].(map[string]any)
	assert.Equal(t, kinds.KindUser, item["kind"])
	assert.Equal(t, signup.Username, item["target"].(map[string]any)["username"])

	resp, _ = env.do(http.MethodGet, fmt.Sprintf("/api/reviewables/%d", r.ID), env.nobody, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "hidden rows look missing")

	resp, _ = env.do(http.MethodGet, "/api/reviewables/9999", env.admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(http.MethodGet, "/api/reviewables/abc", env.admin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid ID", body["error"])
}

func TestGetReviewableHistory(t *testing.T) {
	env := newAPIEnv(t, "")
	r := env.queuePost("History topic", "some body", nil)

	resp, _ := env.do(http.MethodPut, fmt.Sprintf("/api/reviewables/%d/perform/reject", r.ID), env.mod, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(http.MethodGet, fmt.Sprintf("/api/reviewables/%d/history", r.ID), env.mod, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := body["reviewable_histories"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "created", rows[0].(map[string]any)["history_type"])
	assert.Equal(t, "transitioned", rows[1].(map[string]any)["history_type"])
	assert.Equal(t, "rejected", rows[1].(map[string]any)["status"])
}

func TestUpdateReviewable(t *testing.T) {
	env := newAPIEnv(t, "")
	category, err := env.factory.CreateCategory("general")
	require.NoError(t, err)
	r := env.queuePost("Needs a better title", "original body", nil)
	path := fmt.Sprintf("/api/reviewables/%d", r.ID)

	t.Run("accepted edit echoes params", func(t *testing.T) {
		params := map[string]any{
			"payload":     map[string]any{"raw": "edited body"},
			"category_id": float64(category.ID),
		}
		resp, body := env.do(http.MethodPut, path, env.mod, map[string]any{"reviewable": params})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, params, body["reviewable"])

		var stored models.Reviewable
		require.NoError(t, env.db.First(&stored, r.ID).Error)
		assert.Equal(t, "edited body", stored.PayloadString("raw"))
		assert.Equal(t, "Needs a better title", stored.PayloadString("title"))
		require.NotNil(t, stored.CategoryID)
		assert.Equal(t, category.ID, *stored.CategoryID)
	})

	t.Run("field outside the catalog", func(t *testing.T) {
		body := map[string]any{"reviewable": map[string]any{"payload": map[string]any{"secret": "x"}}}
		resp, _ := env.do(http.MethodPut, path, env.mod, body)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		body = map[string]any{"reviewable": map[string]any{"status": "approved"}}
		resp, _ = env.do(http.MethodPut, path, env.mod, body)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("validation failure", func(t *testing.T) {
		body := map[string]any{"reviewable": map[string]any{"payload": map[string]any{"raw": "   "}}}
		resp, out := env.do(http.MethodPut, path, env.mod, body)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Contains(t, out["fields"], "payload")

		body = map[string]any{"reviewable": map[string]any{"category_id": "seven"}}
		resp, _ = env.do(http.MethodPut, path, env.mod, body)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := env.do(http.MethodPut, path, env.mod, "{not json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("not visible", func(t *testing.T) {
		body := map[string]any{"reviewable": map[string]any{"payload": map[string]any{"raw": "x"}}}
		resp, _ := env.do(http.MethodPut, path, env.nobody, body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("group member cannot edit", func(t *testing.T) {
		groupPost := env.queuePost("A group topic", "group body", &env.group.ID)
		groupPath := fmt.Sprintf("/api/reviewables/%d", groupPost.ID)
		resp, _ := env.do(http.MethodGet, groupPath, env.member, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "members can see the row")

		body := map[string]any{"reviewable": map[string]any{"payload": map[string]any{"raw": "rewritten body"}}}
		resp, _ = env.do(http.MethodPut, groupPath, env.member, body)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		var stored models.Reviewable
		require.NoError(t, env.db.First(&stored, groupPost.ID).Error)
		assert.Equal(t, "group body", stored.PayloadString("raw"))
	})

	t.Run("kind without editable fields", func(t *testing.T) {
		signup, _ := env.queueSignup()
		body := map[string]any{"reviewable": map[string]any{"payload": map[string]any{"note": "x"}}}
		resp, _ := env.do(http.MethodPut, fmt.Sprintf("/api/reviewables/%d", signup.ID), env.admin, body)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestPerformReviewable(t *testing.T) {
	env := newAPIEnv(t, "")

	t.Run("approve creates the post", func(t *testing.T) {
		r := env.queuePost("Approved topic", "approved body", nil)
		resp, body := env.do(http.MethodPut, fmt.Sprintf("/api/reviewables/%d/perform/approve", r.ID), env.mod, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := body["reviewable_perform_result"].(map[string]any)
		assert.Equal(t, "success", result["status"])
		assert.Equal(t, "approved", result["transition_to"])
		item := body["reviewable"].(map[string]any)
		assert.Equal(t, "approved", item["status"])
		assert.Equal(t, []string{"reject"}, actionIDs(item))

		var posts int64
		require.NoError(t, env.db.Model(&models.Post{}).Count(&posts).Error)
		assert.Equal(t, int64(1), posts)
	})

	t.Run("failure is 422 and rolls back", func(t *testing.T) {
		r := env.queuePost("ab", "short title body", nil)
		resp, body := env.do(http.MethodPut, fmt.Sprintf("/api/reviewables/%d/perform/approve", r.ID), env.mod, nil)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		result := body["reviewable_perform_result"].(map[string]any)
		assert.Equal(t, "failure", result["status"])
		assert.NotEmpty(t, result["errors"])

		var stored models.Reviewable
		require.NoError(t, env.db.First(&stored, r.ID).Error)
		assert.Equal(t, models.StatusPending, stored.Status)
	})

	t.Run("action outside the catalog", func(t *testing.T) {
		r := env.queuePost("Group topic", "group body", &env.group.ID)
		resp, _ := env.do(http.MethodPut, fmt.Sprintf("/api/reviewables/%d/perform/approve", r.ID), env.member, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, _ = env.do(http.MethodPut, fmt.Sprintf("/api/reviewables/%d/perform/ghost", r.ID), env.admin, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("approve a signup", func(t *testing.T) {
		r, signup := env.queueSignup()
		resp, _ := env.do(http.MethodPut, fmt.Sprintf("/api/reviewables/%d/perform/approve", r.ID), env.admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var stored models.User
		require.NoError(t, env.db.First(&stored, signup.ID).Error)
		assert.True(t, stored.Approved)
		require.NotNil(t, stored.ApprovedByID)
		assert.Equal(t, env.admin.ID, *stored.ApprovedByID)
	})
}

func TestBulkPerformReviewables(t *testing.T) {
	env := newAPIEnv(t, "")
	first, firstUser := env.queueSignup()
	second, secondUser := env.queueSignup()
	body := map[string]any{"kind": kinds.KindUser, "target_ids": []uint{firstUser.ID, secondUser.ID}}

	resp, _ := env.do(http.MethodPost, "/api/reviewables/bulk/approve", env.mod, body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "admins only")

	resp, _ = env.do(http.MethodPost, "/api/reviewables/bulk/approve", env.admin, map[string]any{"kind": kinds.KindUser})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out := env.do(http.MethodPost, "/api/reviewables/bulk/approve", env.admin, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := out["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, float64(first.ID), results[0].(map[string]any)["reviewable_id"])
	assert.Equal(t, float64(second.ID), results[1].(map[string]any)["reviewable_id"])

	var approved int64
	require.NoError(t, env.db.Model(&models.User{}).
		Where("id IN ? AND approved = ?", []uint{firstUser.ID, secondUser.ID}, true).
		Count(&approved).Error)
	assert.Equal(t, int64(2), approved)

	t.Run("flag off", func(t *testing.T) {
		off := newAPIEnv(t, "reviewable_bulk_perform=off")
		resp, _ := off.do(http.MethodPost, "/api/reviewables/bulk/approve", off.admin, body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestClaimReviewable(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		env := newAPIEnv(t, "")
		r := env.queuePost("Claimable", "claim body", nil)
		resp, _ := env.do(http.MethodPost, fmt.Sprintf("/api/reviewables/%d/claim", r.ID), env.mod, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("claim and unclaim", func(t *testing.T) {
		env := newAPIEnv(t, "reviewable_claims=on")
		r := env.queuePost("Claimable", "claim body", nil)
		path := fmt.Sprintf("/api/reviewables/%d/claim", r.ID)

		resp, body := env.do(http.MethodPost, path, env.mod, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(env.mod.ID), body["claimed_by_id"])

		resp, _ = env.do(http.MethodDelete, path, env.mod, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var stored models.Reviewable
		require.NoError(t, env.db.First(&stored, r.ID).Error)
		assert.Nil(t, stored.ClaimedByID)
	})

	t.Run("group members cannot claim", func(t *testing.T) {
		env := newAPIEnv(t, "reviewable_claims=on")
		r := env.queuePost("Claimable", "claim body", &env.group.ID)
		resp, _ := env.do(http.MethodPost, fmt.Sprintf("/api/reviewables/%d/claim", r.ID), env.member, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestGetReviewableCount(t *testing.T) {
	env := newAPIEnv(t, "")
	env.queuePost("Counted", "count body", nil)
	env.queuePost("Counted for the group", "count body", &env.group.ID)

	tests := []struct {
		as   *models.User
		want float64
	}{
		{env.admin, 2},
		{env.mod, 1},
		{env.member, 1},
		{env.nobody, 0},
	}
	for _, tt := range tests {
		resp, body := env.do(http.MethodGet, "/api/reviewables/count", tt.as, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, tt.want, body["reviewable_count"], tt.as.Username)
	}
}

func TestAdminFeatureFlags(t *testing.T) {
	env := newAPIEnv(t, "reviewable_claims=on")

	resp, _ := env.do(http.MethodGet, "/api/admin/feature-flags", env.mod, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := env.do(http.MethodGet, "/api/admin/feature-flags", env.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	enabled := body["enabled"].(map[string]any)
	assert.Equal(t, true, enabled["reviewable_claims"])
	assert.Equal(t, true, enabled["reviewable_bulk_perform"])
}
