package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/sociallink/config"
	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/internal/federation"
	"go.pilab.hu/sociallink/internal/server"
	"go.pilab.hu/sociallink/linkstore"
	"go.pilab.hu/sociallink/log"
	"go.pilab.hu/sociallink/services"
)

func newTestEcho(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		HTTPAddr: "127.0.0.1:0",
		BaseURL:  "http://localhost:8080",
		Storage:  config.StorageConfig{Backend: config.StorageMemory},
		Session: config.SessionConfig{
			Backend:      config.SessionMemory,
			CookieName:   "sid",
			CookieSecure: true,
			TTL:          time.Hour,
		},
	}

	repos, err := server.OpenRepositories(ctx, cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close(ctx) })

	sessions, err := server.OpenSessionStore(ctx, cfg.Session)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	svc, err := services.NewSocialLoginService(services.Options{UserModel: "users"}, linkstore.New(repos.Accounts), repos.Users)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	up := prometheus.NewGauge(prometheus.GaugeOpts{Name: "sociallink_test_up"})
	up.Set(1)
	reg.MustRegister(up)

	return server.NewEcho(cfg, log.Nop(), server.Dependencies{
		Service:  svc,
		Engine:   federation.NewEngine(cfg.CallbackURL()),
		Users:    repos.Users,
		Sessions: sessions,
		Gatherer: reg,
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewEcho_HealthAndMetrics(t *testing.T) {
	h := newTestEcho(t)

	rec := get(h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.Empty(t, rec.Header().Get("Set-Cookie"), "untouched sessions are not persisted")

	rec = get(h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sociallink_test_up 1")
}

func TestNewEcho_Routes(t *testing.T) {
	h := newTestEcho(t)

	rec := get(h, "/social_login/providers")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = get(h, "/social_login/accounts")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(h, "/login")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenBackends_UnknownType(t *testing.T) {
	ctx := context.Background()

	_, err := server.OpenRepositories(ctx, config.StorageConfig{Backend: "cassandra"})
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "storage.backend", cfgErr.Field)

	_, err = server.OpenSessionStore(ctx, config.SessionConfig{Backend: "memcached"})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "session.backend", cfgErr.Field)
}

func TestOpenRepositories_SQLite(t *testing.T) {
	ctx := context.Background()

	repos, err := server.OpenRepositories(ctx, config.StorageConfig{
		Backend:    config.StorageSQLite,
		SQLitePath: t.TempDir() + "/sociallink.db",
	})
	require.NoError(t, err)
	require.NoError(t, repos.Writer.InsertUser(ctx, "users", domain.UserRecord{"username": "jane"}))

	user, err := repos.Users.FindUser(ctx, domain.UserQuery{Collection: "users", PrimaryKey: "username", ID: "jane"})
	require.NoError(t, err)
	assert.NotNil(t, user)
	assert.NoError(t, repos.Close(ctx))
}
