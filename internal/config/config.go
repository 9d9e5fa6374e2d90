package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envConfigPath      = "SS_CONFIG_PATH"
	envLogLevel        = "SS_LOG_LEVEL"
	envSlackWebhookURL = "SS_SLACK_WEBHOOK_URL"
	envWebhookURL      = "SS_WEBHOOK_URL"
	envWebhookTemplate = "SS_WEBHOOK_TEMPLATE"
	envDryRun          = "SS_DRY_RUN"
	envHealthPort      = "SS_HEALTH_PORT"
	envMetricsPort     = "SS_METRICS_PORT"
	envStatePath       = "SS_STATE_PATH"
	envStateBackend    = "SS_STATE_BACKEND"
)

const (
	defaultConfigPath   = "config.yml"
	defaultLogLevel     = "info"
	defaultStateBackend = StateBackendFile
)

// State snapshot backends.
const (
	StateBackendFile = "file"
	StateBackendBolt = "bolt"
)

// Config describes runtime configuration loaded from the environment.
// The fleet itself lives in the YAML file at ConfigPath.
type Config struct {
	ConfigPath      string
	LogLevel        string
	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	DryRun          bool
	HealthPort      int
	MetricsPort     int
	StatePath       string
	StateBackend    string
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ConfigPath:   defaultConfigPath,
		LogLevel:     defaultLogLevel,
		StateBackend: defaultStateBackend,
	}

	if value, ok := lookupTrimmed(envConfigPath); ok && value != "" {
		cfg.ConfigPath = value
	}

	if value, ok := lookupTrimmed(envLogLevel); ok && value != "" {
		cfg.LogLevel = value
	}

	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}

	if value, ok := lookupTrimmed(envWebhookURL); ok {
		cfg.WebhookURL = value
	}

	if value, ok := os.LookupEnv(envWebhookTemplate); ok {
		cfg.WebhookTemplate = value
	}

	if value, ok := lookupTrimmed(envDryRun); ok && value != "" {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDryRun, err)
		}
		cfg.DryRun = dryRun
	}

	var err error
	if cfg.HealthPort, err = lookupPort(envHealthPort); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = lookupPort(envMetricsPort); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envStatePath); ok {
		cfg.StatePath = value
	}

	if value, ok := lookupTrimmed(envStateBackend); ok && value != "" {
		cfg.StateBackend = strings.ToLower(value)
	}
	if cfg.StateBackend != StateBackendFile && cfg.StateBackend != StateBackendBolt {
		return Config{}, fmt.Errorf("invalid %s: must be %q or %q", envStateBackend, StateBackendFile, StateBackendBolt)
	}

	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}

	if cfg.WebhookURL != "" {
		if err := validateURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// lookupPort returns 0 (disabled) when the variable is unset or empty.
func lookupPort(key string) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid %s: port must be between 0 and 65535", key)
	}
	return port, nil
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
