// Package config loads control-plane configuration from the environment,
// with an optional YAML policy profile layered on top for thresholds
// that differ per deployment.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	JWTSecret string

	GatewayBaseURL    string
	GatewayAPIKey     string
	GatewayHMACSecret string

	CORSOrigins []string

	Policy Policy
}

// Load reads configuration from environment variables. Missing values
// fall back to local-development defaults; secrets have no defaults and
// stay empty, which fails closed downstream.
func Load() *Config {
	cfg := &Config{
		Port:              envOr("PORT", "8080"),
		LogLevel:          envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		GatewayBaseURL:    envOr("GATEWAY_BASE_URL", "https://accept.paymob.com"),
		GatewayAPIKey:     os.Getenv("GATEWAY_API_KEY"),
		GatewayHMACSecret: os.Getenv("GATEWAY_HMAC_SECRET"),
		Policy:            DefaultPolicy(),
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitTrimmed(origins)
	}

	if v := os.Getenv("DUAL_CONTROL_THRESHOLD_MINOR"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Policy.DualControlThresholdMinor = n
		}
	}
	if v := os.Getenv("AUTO_RELEASE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Policy.AutoReleaseDays = n
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
