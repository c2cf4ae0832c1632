package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "CATALOG"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "catalog.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 60
	defaultPageSize           = 3
	defaultAuthorDeletePolicy = "protect"
	defaultRateLimitRPS       = 4
	defaultRateLimitBurst     = 8
)

// AuthorDeletePolicy selects what happens to an author's books on deletion.
type AuthorDeletePolicy string

const (
	// AuthorDeleteProtect refuses to delete an author who still has books.
	AuthorDeleteProtect AuthorDeletePolicy = "protect"
	// AuthorDeleteCascade deletes an author's books along with the author.
	AuthorDeleteCascade AuthorDeletePolicy = "cascade"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SigningSecret      string
	TokenTTL           time.Duration
	PageSize           int
	AuthorDeletePolicy AuthorDeletePolicy
	RateLimitRPS       int
	RateLimitBurst     int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("catalog.page_size", defaultPageSize)
	configViper.SetDefault("catalog.author_delete_policy", defaultAuthorDeletePolicy)
	configViper.SetDefault("ratelimit.rps", defaultRateLimitRPS)
	configViper.SetDefault("ratelimit.burst", defaultRateLimitBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		PageSize:           configViper.GetInt("catalog.page_size"),
		AuthorDeletePolicy: AuthorDeletePolicy(strings.ToLower(strings.TrimSpace(configViper.GetString("catalog.author_delete_policy")))),
		RateLimitRPS:       configViper.GetInt("ratelimit.rps"),
		RateLimitBurst:     configViper.GetInt("ratelimit.burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("catalog.page_size must be positive")
	}
	switch c.AuthorDeletePolicy {
	case AuthorDeleteProtect, AuthorDeleteCascade:
	default:
		return fmt.Errorf("catalog.author_delete_policy must be %q or %q", AuthorDeleteProtect, AuthorDeleteCascade)
	}
	return nil
}
