package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "0123456789abcdef0123")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress)
	}
	if cfg.TokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.BcryptCost != 12 {
		t.Fatalf("unexpected bcrypt cost %d", cfg.BcryptCost)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("expected metrics to be enabled by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("TRAFLOW_AUTH_SIGNING_SECRET", "env-secret-value-long-enough")
	t.Setenv("TRAFLOW_AUTH_TOKEN_TTL", "2h")
	t.Setenv("TRAFLOW_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TRAFLOW_LOG_FORMAT", "console")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SigningSecret != "env-secret-value-long-enough" {
		t.Fatalf("signing secret not read from environment")
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if strings.Join(cfg.CORSAllowedOrigins, "|") != "https://a.example|https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.LogFormat != "console" {
		t.Fatalf("unexpected log format %q", cfg.LogFormat)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	testCases := []struct {
		name     string
		override map[string]any
		message  string
	}{
		{name: "missing secret", override: map[string]any{"auth.signing_secret": ""}, message: "auth.signing_secret is required"},
		{name: "short secret", override: map[string]any{"auth.signing_secret": "short"}, message: "at least"},
		{name: "empty database", override: map[string]any{"database.path": " "}, message: "database.path"},
		{name: "zero ttl", override: map[string]any{"auth.token_ttl": "0s"}, message: "auth.token_ttl"},
		{name: "cost too low", override: map[string]any{"auth.bcrypt_cost": 2}, message: "auth.bcrypt_cost"},
		{name: "log format", override: map[string]any{"log.format": "xml"}, message: "log.format"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("auth.signing_secret", "0123456789abcdef0123")
			for key, value := range testCase.override {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.message) {
				t.Fatalf("expected error containing %q, got %v", testCase.message, err)
			}
		})
	}
}
