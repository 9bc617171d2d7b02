package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/sociallink/config"
	"go.pilab.hu/sociallink/domain"
)

var configEnv = []string{
	"SOCIALLINK_HTTP_ADDR",
	"SOCIALLINK_LOG_LEVEL",
	"SOCIALLINK_STORAGE_BACKEND",
	"SOCIALLINK_STORAGE_POSTGRES_DSN",
	"SOCIALLINK_SESSION_TTL",
	"SOCIALLINK_SESSION_BACKEND",
	"SOCIALLINK_SOCIAL_LOGIN_USER_MODEL",
	"GOOGLE_CLIENT_SECRET",
}

// resetConfigEnv unsets every variable the tests touch and restores them
// when the test ends.
func resetConfigEnv(t *testing.T) {
	t.Helper()
	for _, name := range configEnv {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	resetConfigEnv(t)

	cfg, err := config.Load(writeFile(t, "empty.yaml", "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, config.StorageSQLite, cfg.Storage.Backend)
	assert.Equal(t, "sociallink.db", cfg.Storage.SQLitePath)
	assert.Equal(t, config.SessionMemory, cfg.Session.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Empty(t, cfg.SocialLogin.UserModel)
	assert.Equal(t, "http://localhost:8080/social_login/endpoint", cfg.CallbackURL())

	// the user model has to be named explicitly
	var cerr *domain.ConfigurationError
	require.ErrorAs(t, cfg.Validate(), &cerr)
	assert.Equal(t, "user_model", cerr.Field)

	cfg, err = config.Load(writeFile(t, "users.yaml", "social_login:\n  user_model: users\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	resetConfigEnv(t)
	t.Setenv("GOOGLE_CLIENT_SECRET", "from-env")

	path := writeFile(t, "sociallink.yaml", `
base_url: https://app.example.com/
storage:
  backend: postgres
  postgres_dsn: postgres://localhost/sociallink
session:
  backend: redis
  ttl: 2h
social_login:
  user_model: Users
  scope:
    active: true
  contain:
    - name: profile
      collection: Profiles
      foreign_key: user_id
  login_redirect: /dashboard
providers:
  - kind: google
    client_id: google-id
    client_secret: ${GOOGLE_CLIENT_SECRET}
  - kind: openid
    client_id: oidc-id
  - kind: oauth2
    name: Gitea
    client_id: gitea-id
    client_secret: s
    auth_url: https://git.example.com/login/oauth/authorize
    token_url: https://git.example.com/login/oauth/access_token
    userinfo_url: https://git.example.com/api/v1/user
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.StoragePostgres, cfg.Storage.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "https://app.example.com/social_login/endpoint", cfg.CallbackURL())
	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "from-env", cfg.Providers[0].ClientSecret)

	opts, err := cfg.LoginOptions()
	require.NoError(t, err)
	assert.Equal(t, "Users", opts.UserModel)
	assert.Equal(t, "/dashboard", opts.AssociatedRedirect)
	assert.Equal(t, true, opts.Scope["active"])
	require.Len(t, opts.Contain, 1)
	assert.Equal(t, "user_id", opts.Contain[0].ForeignKey)

	providers, err := cfg.FederationProviders()
	require.NoError(t, err)
	names := []string{providers[0].Name(), providers[1].Name(), providers[2].Name()}
	assert.Equal(t, []string{"Google", "OpenID", "Gitea"}, names)
}

func TestLoad_EnvOverrides(t *testing.T) {
	resetConfigEnv(t)
	t.Setenv("SOCIALLINK_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("SOCIALLINK_STORAGE_BACKEND", "memory")
	t.Setenv("SOCIALLINK_SESSION_TTL", "30m")

	cfg, err := config.Load(writeFile(t, "c.yaml", "storage:\n  backend: sqlite\n"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	assert.Equal(t, config.StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
}

func TestLoad_DotEnv(t *testing.T) {
	resetConfigEnv(t)
	envFile := writeFile(t, ".env", "SOCIALLINK_LOG_LEVEL=debug\nSOCIALLINK_SOCIAL_LOGIN_USER_MODEL=Members\n")

	cfg, err := config.Load(writeFile(t, "c.yaml", "{}\n"), envFile)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "Members", cfg.SocialLogin.UserModel)

	_, err = config.Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	resetConfigEnv(t)

	cases := map[string]struct {
		mutate func(*config.Config)
		field  string
	}{
		"relative base url":  {func(c *config.Config) { c.BaseURL = "/app" }, "base_url"},
		"unknown storage":    {func(c *config.Config) { c.Storage.Backend = "cassandra" }, "storage.backend"},
		"postgres no dsn":    {func(c *config.Config) { c.Storage.Backend = config.StoragePostgres }, "storage.postgres_dsn"},
		"unknown session":    {func(c *config.Config) { c.Session.Backend = "memcache" }, "session.backend"},
		"no user model":      {func(c *config.Config) { c.SocialLogin.UserModel = "" }, "user_model"},
		"provider no client": {func(c *config.Config) { c.Providers = []config.ProviderConfig{{Kind: "google"}} }, "providers[0].client_id"},
		"unknown provider": {func(c *config.Config) {
			c.Providers = []config.ProviderConfig{{Kind: "ldap", ClientID: "x"}}
		}, "providers[0].kind"},
		"duplicate provider": {func(c *config.Config) {
			c.Providers = []config.ProviderConfig{{Kind: "google", ClientID: "a"}, {Kind: "google", ClientID: "b"}}
		}, "providers[1].name"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := config.Load(writeFile(t, "c.yaml", "social_login:\n  user_model: users\n"))
			require.NoError(t, err)
			tc.mutate(cfg)

			err = cfg.Validate()
			var cerr *domain.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}
