package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "PRESTAPP"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "prestapp.db"
	defaultServerDatabasePath   = "prestapp-server.db"
	defaultRemoteBaseURL        = "http://localhost:8080/"
	defaultRemoteTimeoutSeconds = 60
	defaultProbeIntervalSeconds = 10
	defaultTokenTTLMinutes      = 720
	defaultLogLevel             = "info"
)

// AppConfig captures runtime configuration for the sync agent and the remote service.
type AppConfig struct {
	DatabasePath   string
	RemoteBaseURL  string
	RemoteToken    string
	RemoteTimeout  time.Duration
	ProbeInterval  time.Duration
	LogLevel       string
	HTTPAddress    string
	ServerDatabase string
	SigningSecret  string
	RequireToken   bool
	TokenTTL       time.Duration
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

	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.token", "")
	configViper.SetDefault("remote.timeout_seconds", defaultRemoteTimeoutSeconds)
	configViper.SetDefault("connectivity.probe_interval_seconds", defaultProbeIntervalSeconds)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("server.database_path", defaultServerDatabasePath)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.require_token", false)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabasePath:   configViper.GetString("database.path"),
		RemoteBaseURL:  configViper.GetString("remote.base_url"),
		RemoteToken:    configViper.GetString("remote.token"),
		RemoteTimeout:  time.Duration(configViper.GetInt("remote.timeout_seconds")) * time.Second,
		ProbeInterval:  time.Duration(configViper.GetInt("connectivity.probe_interval_seconds")) * time.Second,
		LogLevel:       configViper.GetString("log.level"),
		HTTPAddress:    configViper.GetString("http.address"),
		ServerDatabase: configViper.GetString("server.database_path"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		RequireToken:   configViper.GetBool("auth.require_token"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(c.RemoteBaseURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("remote.base_url must be an absolute http(s) url")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be positive")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("connectivity.probe_interval_seconds must be positive")
	}
	return nil
}

// ValidateServer checks the settings only the remote service needs.
func (c AppConfig) ValidateServer() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.ServerDatabase) == "" {
		return fmt.Errorf("server.database_path is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}
