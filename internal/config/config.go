package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                     = "MAESTRO"
	defaultHTTPAddress            = "0.0.0.0:8080"
	defaultDatabasePath           = "maestro.db"
	defaultLogLevel               = "info"
	defaultCookieName             = "maestro_session"
	defaultSessionTTLMinutes      = 12 * 60
	defaultLoginAttemptsPerMinute = 10
	defaultMediaRoot              = "media"
	defaultMaxUploadBytes         = 5 << 20
	defaultAllowedOrigin          = "http://localhost:3000"
)

// AppConfig captures runtime configuration for the catalog server.
type AppConfig struct {
	HTTPAddress            string
	DatabasePath           string
	LogLevel               string
	SigningSecret          string
	CookieName             string
	SessionTTL             time.Duration
	LoginAttemptsPerMinute int
	MediaRoot              string
	MaxUploadBytes         int64
	AllowedOrigins         []string
	PolicyPath             string
	SecureCookies          bool
	TrustedProxies         []string
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
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.session_ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("auth.login_attempts_per_minute", defaultLoginAttemptsPerMinute)
	configViper.SetDefault("media.root", defaultMediaRoot)
	configViper.SetDefault("media.max_upload_bytes", defaultMaxUploadBytes)
	configViper.SetDefault("cors.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("authz.policy_path", "")
	configViper.SetDefault("http.secure_cookies", false)
	configViper.SetDefault("http.trusted_proxies", []string{})
}

// Load parses runtime configuration for the HTTP server.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := read(configViper)
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return AppConfig{}, fmt.Errorf("auth.signing_secret is required")
	}
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadAdmin parses configuration for offline commands that never issue
// sessions, so the signing secret is optional.
func LoadAdmin(configViper *viper.Viper) (AppConfig, error) {
	cfg := read(configViper)
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func read(configViper *viper.Viper) AppConfig {
	return AppConfig{
		HTTPAddress:            configViper.GetString("http.address"),
		DatabasePath:           configViper.GetString("database.path"),
		LogLevel:               configViper.GetString("log.level"),
		SigningSecret:          configViper.GetString("auth.signing_secret"),
		CookieName:             configViper.GetString("auth.cookie_name"),
		SessionTTL:             time.Duration(configViper.GetInt("auth.session_ttl_minutes")) * time.Minute,
		LoginAttemptsPerMinute: configViper.GetInt("auth.login_attempts_per_minute"),
		MediaRoot:              configViper.GetString("media.root"),
		MaxUploadBytes:         configViper.GetInt64("media.max_upload_bytes"),
		AllowedOrigins:         splitList(configViper.GetStringSlice("cors.allowed_origins")),
		PolicyPath:             strings.TrimSpace(configViper.GetString("authz.policy_path")),
		SecureCookies:          configViper.GetBool("http.secure_cookies"),
		TrustedProxies:         splitList(configViper.GetStringSlice("http.trusted_proxies")),
	}
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl_minutes must be positive")
	}
	if c.LoginAttemptsPerMinute <= 0 {
		return fmt.Errorf("auth.login_attempts_per_minute must be positive")
	}
	if strings.TrimSpace(c.MediaRoot) == "" {
		return fmt.Errorf("media.root is required")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("media.max_upload_bytes must be positive")
	}
	return nil
}

// splitList accepts both list values and the comma separated form used in env vars.
func splitList(raw []string) []string {
	values := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				values = append(values, trimmed)
			}
		}
	}
	return values
}
