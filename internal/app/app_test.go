package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	_ "github.com/commonwealth-builders/treasury/testing"
)

func TestLoadConfigDefaultsAndStorageCheck(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.StorageEnabled())
	assert.Equal(t, "treasury_session", cfg.SessionCookie)

	t.Setenv("S3_BUCKET", "proofs")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.StorageEnabled())
	assert.Equal(t, "proofs", cfg.Storage().Bucket)
}

func TestLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogLevel: "warn", LogFormat: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestRouterHealthAndJSONNotFound(t *testing.T) {
	healthy := true
	router := NewRouter(RouterParams{
		Config: &Config{RateLimit: 1000},
		Health: map[string]HealthCheck{
			"postgres": func(context.Context) error {
				if healthy {
					return nil
				}
				return errors.New("connection refused")
			},
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	healthy = false
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "connection refused")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	var res httpx.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "ROUTE_NOT_FOUND", res.Error.Code)
}
