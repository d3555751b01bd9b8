package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/calvin1011/watchtower/internal/config"
	"github.com/calvin1011/watchtower/internal/intel"
)

// offlineConfig returns defaults with every external service switched off.
func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.DSN = ""
	cfg.PubSub.ProjectID = ""
	cfg.Telemetry.ProjectID = ""
	cfg.Digest.ResendAPIKey = ""
	cfg.Embedding.Provider = "none"
	cfg.Dedupe.Enabled = false
	cfg.Storage.Backend = "memory"
	return &cfg
}

func TestBuildInMemory(t *testing.T) {
	app, err := Build(context.Background(), offlineConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	require.NotNil(t, app.Pipeline())
	require.NotNil(t, app.Scheduler())
	require.False(t, app.Digest().MailerConfigured())
	require.Len(t, app.Registry().All(), 4)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/competitors", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 4, body.Count)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/digest/send", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildWithRedisAndLocalArchive(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := offlineConfig(t)
	cfg.Dedupe.Enabled = true
	cfg.Dedupe.RedisAddr = mr.Addr()
	cfg.Storage.Backend = "local"
	cfg.Storage.Local.BaseDir = t.TempDir()
	cfg.Digest.ResendAPIKey = "re_test"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	require.NotNil(t, app.redis)
	require.True(t, app.Digest().MailerConfigured())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	uri, err := app.blobs.PutObject(context.Background(), "archive.txt", "text/plain", http.NoBody)
	require.NoError(t, err)
	require.NotEmpty(t, uri)
}

func TestBuildRejectsDuplicateCompetitors(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Competitors = []intel.Competitor{{Name: "Yardi"}, {Name: "yardi"}}

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "competitor registry")
}

func TestBuildUnreachableRedis(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Dedupe.Enabled = true
	cfg.Dedupe.RedisAddr = "127.0.0.1:1"

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "dedupe init failed")
}
