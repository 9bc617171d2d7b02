// Package config loads the server configuration from a YAML file, .env
// files and SOCIALLINK_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/internal/federation"
	"go.pilab.hu/sociallink/services"
)

// StorageType selects the social account and user backend.
type StorageType string

const (
	StorageMemory   StorageType = "memory"
	StorageSQLite   StorageType = "sqlite"
	StoragePostgres StorageType = "postgres"
	StorageMongoDB  StorageType = "mongodb"
)

// SessionType selects the session store.
type SessionType string

const (
	SessionMemory SessionType = "memory"
	SessionRedis  SessionType = "redis"
)

// CallbackPath is where providers redirect back to, relative to BaseURL.
const CallbackPath = "/social_login/endpoint"

type StorageConfig struct {
	Backend          StorageType `mapstructure:"backend"`
	SQLitePath       string      `mapstructure:"sqlite_path"`
	PostgresDSN      string      `mapstructure:"postgres_dsn"`
	PostgresMaxConns int32       `mapstructure:"postgres_max_conns"`
	MongoURI         string      `mapstructure:"mongo_uri"`
	MongoDBName      string      `mapstructure:"mongo_db_name"`
}

type SessionConfig struct {
	Backend       SessionType   `mapstructure:"backend"`
	CookieName    string        `mapstructure:"cookie_name"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ProviderConfig configures one identity provider. Kind is one of google,
// github, facebook, openid or oauth2. Values of the form ${VAR} are read
// from the environment.
type ProviderConfig struct {
	Kind         string   `mapstructure:"kind"`
	Name         string   `mapstructure:"name"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
}

// Config holds all configuration for the server and the CLI.
type Config struct {
	HTTPAddr    string           `mapstructure:"http_addr"`
	BaseURL     string           `mapstructure:"base_url"`
	LogLevel    string           `mapstructure:"log_level"`
	LogPretty   bool             `mapstructure:"log_pretty"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Session     SessionConfig    `mapstructure:"session"`
	SocialLogin services.Options `mapstructure:"social_login"`
	Providers   []ProviderConfig `mapstructure:"providers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "sociallink")
	v.SetDefault("tracing.sample_ratio", 0)

	v.SetDefault("storage.backend", string(StorageSQLite))
	v.SetDefault("storage.sqlite_path", "sociallink.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.postgres_max_conns", 10)
	v.SetDefault("storage.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo_db_name", "sociallink")

	v.SetDefault("session.backend", string(SessionMemory))
	v.SetDefault("session.cookie_name", "sociallink_session")
	v.SetDefault("session.cookie_secure", false)
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_db", 0)
	v.SetDefault("session.redis_prefix", "sociallink")

	// Registered empty so SOCIALLINK_SOCIAL_LOGIN_USER_MODEL is picked up.
	// There is no usable default: Validate requires it.
	v.SetDefault("social_login.user_model", "")
	v.SetDefault("social_login.primary_key", "id")
	v.SetDefault("social_login.login_action", "/login")
	v.SetDefault("social_login.login_redirect", "/")
	v.SetDefault("social_login.associated_redirect", "")
}

// Load reads the configuration. configFile may be empty, in which case
// sociallink.yaml is searched in the working directory, /etc/sociallink and
// $HOME/.sociallink. envFiles are loaded into the environment first; with
// none given, a .env in the working directory is used when present.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("sociallink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sociallink/")
		v.AddConfigPath("$HOME/.sociallink")
	}

	v.SetEnvPrefix("SOCIALLINK") // SOCIALLINK_STORAGE_BACKEND, SOCIALLINK_SESSION_TTL, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	for i := range cfg.Providers {
		cfg.Providers[i].ClientID = os.ExpandEnv(cfg.Providers[i].ClientID)
		cfg.Providers[i].ClientSecret = os.ExpandEnv(cfg.Providers[i].ClientSecret)
	}

	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// Validate checks the configuration before anything is served. Errors are
// *domain.ConfigurationError.
func (c *Config) Validate() error {
	base, err := url.Parse(c.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return &domain.ConfigurationError{Field: "base_url", Reason: "must be an absolute URL"}
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return &domain.ConfigurationError{Field: "storage.sqlite_path", Reason: "is required"}
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return &domain.ConfigurationError{Field: "storage.postgres_dsn", Reason: "is required"}
		}
	case StorageMongoDB:
		if c.Storage.MongoURI == "" || c.Storage.MongoDBName == "" {
			return &domain.ConfigurationError{Field: "storage.mongo_uri", Reason: "and storage.mongo_db_name are required"}
		}
	default:
		return &domain.ConfigurationError{Field: "storage.backend", Reason: fmt.Sprintf("unknown backend %q", c.Storage.Backend)}
	}

	switch c.Session.Backend {
	case SessionMemory:
	case SessionRedis:
		if c.Session.RedisAddr == "" {
			return &domain.ConfigurationError{Field: "session.redis_addr", Reason: "is required"}
		}
	default:
		return &domain.ConfigurationError{Field: "session.backend", Reason: fmt.Sprintf("unknown backend %q", c.Session.Backend)}
	}
	if c.Session.CookieName == "" {
		return &domain.ConfigurationError{Field: "session.cookie_name", Reason: "is required"}
	}
	if c.Session.TTL <= 0 {
		return &domain.ConfigurationError{Field: "session.ttl", Reason: "must be positive"}
	}

	if _, err := c.SocialLogin.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.ClientID == "" {
			return &domain.ConfigurationError{Field: field + ".client_id", Reason: "is required"}
		}
		provider, err := federation.NewProvider(p.Kind, p.federation())
		if err != nil {
			return &domain.ConfigurationError{Field: field + ".kind", Reason: err.Error()}
		}
		if seen[provider.Name()] {
			return &domain.ConfigurationError{Field: field + ".name", Reason: fmt.Sprintf("duplicate provider %q", provider.Name())}
		}
		seen[provider.Name()] = true
	}

	return nil
}

// LoginOptions returns the social login options with defaults applied.
func (c *Config) LoginOptions() (services.Options, error) {
	return c.SocialLogin.Validate()
}

// CallbackURL is the base URL the identity engine appends provider names to.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + CallbackPath
}

// FederationProviders builds the configured providers in file order.
func (c *Config) FederationProviders() ([]federation.Provider, error) {
	out := make([]federation.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		provider, err := federation.NewProvider(p.Kind, p.federation())
		if err != nil {
			return nil, err
		}
		out = append(out, provider)
	}
	return out, nil
}

func (p ProviderConfig) federation() federation.ProviderConfig {
	return federation.ProviderConfig{
		Name:         p.Name,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Scopes:       p.Scopes,
		AuthURL:      p.AuthURL,
		TokenURL:     p.TokenURL,
		UserInfoURL:  p.UserInfoURL,
	}
}
