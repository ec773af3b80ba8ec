package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "TRAFLOW"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "traflow.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultTokenTTL       = 7 * 24 * time.Hour
	defaultBcryptCost     = 12
	defaultIssuer         = "traflow-auth"
	defaultAudience       = "traflow-api"
	defaultAuthRateLimit  = 5.0
	defaultAuthRateBurst  = 10
	minBcryptCost         = 4
	maxBcryptCost         = 31
	minSigningSecretBytes = 16
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	LogFormat          string
	SigningSecret      string
	TokenTTL           time.Duration
	BcryptCost         int
	TokenIssuer        string
	TokenAudience      string
	CORSAllowedOrigins []string
	AuthRateLimit      float64
	AuthRateBurst      int
	MetricsEnabled     bool
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
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("ratelimit.auth_rps", defaultAuthRateLimit)
	configViper.SetDefault("ratelimit.auth_burst", defaultAuthRateBurst)
	configViper.SetDefault("metrics.enabled", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		LogFormat:          strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTL:           configViper.GetDuration("auth.token_ttl"),
		BcryptCost:         configViper.GetInt("auth.bcrypt_cost"),
		TokenIssuer:        configViper.GetString("auth.issuer"),
		TokenAudience:      configViper.GetString("auth.audience"),
		CORSAllowedOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		AuthRateLimit:      configViper.GetFloat64("ratelimit.auth_rps"),
		AuthRateBurst:      configViper.GetInt("ratelimit.auth_burst"),
		MetricsEnabled:     configViper.GetBool("metrics.enabled"),
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
	if len(c.SigningSecret) < minSigningSecretBytes {
		return fmt.Errorf("auth.signing_secret must be at least %d bytes", minSigningSecretBytes)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.BcryptCost < minBcryptCost || c.BcryptCost > maxBcryptCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", minBcryptCost, maxBcryptCost)
	}
	if strings.TrimSpace(c.TokenIssuer) == "" || strings.TrimSpace(c.TokenAudience) == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log.format must be json or console")
	}
	if c.AuthRateLimit < 0 || c.AuthRateBurst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}
	return nil
}

// splitOrigins accepts both list values and a comma separated environment string.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
