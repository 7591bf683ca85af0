package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range tests {
		assert.Equal(t, want, parseLevel(raw), "LOG_LEVEL=%q", raw)
	}
}

func TestCtxHandler_AddsRequestScopedAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := WithHandler(slog.NewJSONHandler(&buf, nil)).With(slog.String("component", "test"))

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, UserIDKey, uint(7))
	ctx = WithReviewableID(ctx, 99)
	logger.InfoContext(ctx, "performed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, float64(7), line["user_id"])
	assert.Equal(t, float64(99), line["reviewable_id"])
	assert.Equal(t, "test", line["component"])
}

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Logger
	Logger = WithHandler(slog.NewJSONHandler(&buf, nil))
	t.Cleanup(func() { Logger = prev })
	return &buf
}

func TestStructuredLogger_Levels(t *testing.T) {
	buf := captureLogger(t)

	app := fiber.New()
	app.Use(StructuredLogger())
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/missing/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNotFound) })
	app.Get("/boom", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusInternalServerError) })
	app.Get("/health/live", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for _, path := range []string{"/ok", "/missing/3", "/boom", "/health/live"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, "probe paths are not logged")

	want := []struct {
		level string
		route string
	}{
		{"INFO", "/ok"},
		{"WARN", "/missing/:id"},
		{"ERROR", "/boom"},
	}
	for i, w := range want {
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[i]), &line))
		assert.Equal(t, w.level, line["level"])
		assert.Equal(t, w.route, line["route"])
	}
}

func TestContextMiddleware_CopiesLocals(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("requestid", "req-9")
		c.Locals("userID", uint(4))
		return c.Next()
	}, ContextMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		return c.JSON(fiber.Map{
			"request_id": ctx.Value(RequestIDKey),
			"user_id":    ctx.Value(UserIDKey),
		})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "req-9", body["request_id"])
	assert.Equal(t, float64(4), body["user_id"])
}
