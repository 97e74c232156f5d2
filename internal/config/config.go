// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (rate limiting, health)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// JWT Authentication. JWTSecretPrevious is set only while a secret
	// rotation is in flight; tokens signed with it remain valid until it
	// is cleared.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTSecretPrevious string `koanf:"jwt_secret_previous"`

	// SOS escalation
	SOSContactPhone string        `koanf:"sos_contact_phone"`
	SOSCountdown    time.Duration `koanf:"sos_countdown"`

	// Tracing
	OTLPEndpoint string `koanf:"otlp_endpoint"`

	// Rate limiting
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrInvalidCountdown   = errors.New("SOS_COUNTDOWN must be a positive duration")
	ErrInvalidRateLimit   = errors.New("RATE_LIMIT_PER_MINUTE must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort               = 8080
	DefaultEnv                = "development"
	DefaultSOSCountdown       = 5 * time.Second
	DefaultRateLimitPerMinute = 60
)

// Load reads configuration from the optional YAML file, then lets
// environment variables override it. Validation problems are returned as a
// slice so startup can report all of them at once; an unreadable config file
// is the only hard failure.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// VIGIL_PORT wins over the bare PORT some platforms inject.
	port, portErr := envInt([]string{"VIGIL_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	rateLimit, rateErr := envInt([]string{"RATE_LIMIT_PER_MINUTE"}, k.Int("rate_limit_per_minute"), DefaultRateLimitPerMinute)
	if rateErr != nil {
		loadErrs = append(loadErrs, rateErr)
	}

	countdown, countdownErr := envDuration("SOS_COUNTDOWN", k.Duration("sos_countdown"), DefaultSOSCountdown)
	if countdownErr != nil {
		loadErrs = append(loadErrs, countdownErr)
	}

	cfg := &Config{
		Port:               port,
		Env:                envString([]string{"VIGIL_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:        envString([]string{"DATABASE_URL"}, k.String("database_url"), ""),
		RedisAddr:          envString([]string{"REDIS_ADDR"}, k.String("redis_addr"), ""),
		RedisPassword:      envString([]string{"REDIS_PASSWORD"}, k.String("redis_password"), ""),
		JWTSecret:          envString([]string{"JWT_SECRET"}, k.String("jwt_secret"), ""),
		JWTSecretPrevious:  envString([]string{"JWT_SECRET_PREVIOUS"}, k.String("jwt_secret_previous"), ""),
		SOSContactPhone:    envString([]string{"SOS_CONTACT_PHONE"}, k.String("sos_contact_phone"), ""),
		SOSCountdown:       countdown,
		OTLPEndpoint:       envString([]string{"OTLP_ENDPOINT"}, k.String("otlp_endpoint"), ""),
		RateLimitPerMinute: rateLimit,
	}

	return cfg, append(loadErrs, cfg.Validate()...)
}

// envString returns the first set environment variable, the file value, or
// the default, in that order.
func envString(envKeys []string, fileVal, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if fileVal != "" {
		return fileVal
	}
	return defaultVal
}

// envInt is envString for integers. A set-but-unparsable variable is an
// error rather than a silent fallback.
func envInt(envKeys []string, fileVal, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if fileVal != 0 {
		return fileVal, nil
	}
	return defaultVal, nil
}

// envDuration parses Go duration syntax; a bare integer means seconds.
func envDuration(envKey string, fileVal, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, err)
		}
		return d, nil
	}
	if fileVal != 0 {
		return fileVal, nil
	}
	return defaultVal, nil
}

// Validate reports every missing or out-of-range required value.
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.SOSCountdown <= 0 {
		errs = append(errs, ErrInvalidCountdown)
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}

	return errs
}

// GetJWTSecrets returns the current and previous JWT signing secrets.
// The previous secret is empty outside a rotation window.
func (c *Config) GetJWTSecrets() (current, previous string) {
	return c.JWTSecret, c.JWTSecretPrevious
}

// LogSummary renders the configuration for startup logging with every
// secret masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  strconv.Itoa(c.Port),
		"env":                   c.Env,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_addr":            c.RedisAddr,
		"redis_password":        maskSecret(c.RedisPassword),
		"jwt_secret":            maskSecret(c.JWTSecret),
		"jwt_secret_previous":   maskSecret(c.JWTSecretPrevious),
		"sos_contact_phone":     maskPhone(c.SOSContactPhone),
		"sos_countdown":         c.SOSCountdown.String(),
		"otlp_endpoint":         c.OTLPEndpoint,
		"rate_limit_per_minute": strconv.Itoa(c.RateLimitPerMinute),
	}
}

// maskSecret keeps the first four characters of long secrets so operators
// can tell which of two secrets is deployed.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskPhone hides all but the last four digits of a phone number.
func maskPhone(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// maskDatabaseURL replaces the password component of a connection URL,
// leaving scheme, user, and host readable.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		// No credentials at all.
		return s
	}
	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		// Username only.
		return s
	}

	return s[:schemeEnd+3] + rest[:colonIndex] + ":****" + rest[atIndex:]
}
