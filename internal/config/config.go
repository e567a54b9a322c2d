// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// StorageConfig holds the optional credentials used to fetch remote input
// files. Each backend is enabled only when its fields are present.
type StorageConfig struct {
	// S3 fields are optional; nil when not configured.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string

	GCSCredentialsFile string // service account JSON for gs:// inputs

	AzureAccountName string
	AzureAccountKey  string
}

// HasS3Config returns true if all required S3 fields are set.
func (s *StorageConfig) HasS3Config() bool {
	return s.S3KeyID != nil && s.S3Secret != nil &&
		s.S3Endpoint != nil && s.S3Region != nil
}

// HasAzureConfig returns true if shared-key Azure credentials are set.
func (s *StorageConfig) HasAzureConfig() bool {
	return s.AzureAccountName != "" && s.AzureAccountKey != ""
}

// Config holds the configuration for the budget pipeline service and CLI.
type Config struct {
	BudgetDBPath       string // path to the SQLite budget sink (default "budget.sqlite")
	ListenAddr         string // HTTP listen address (default ":8080")
	LogLevel           string // log level: debug, info, warn, error (default "info")
	LogFile            string // optional JSON log file, in addition to stderr
	Env                string // environment: "development" (default) or "production"
	PipelineConfigPath string // optional YAML file with pipeline options
	AuditFallbackPath  string // JSON-lines file for audit entries the sink rejected

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 20)
	RateLimitBurst int     // burst capacity (default 40)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Scheduled trigger. Disabled when ScheduleCron is empty.
	ScheduleCron  string
	ScheduleInput string

	Storage  StorageConfig
	Pipeline PipelineConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables and, when
// PIPELINE_CONFIG is set, the pipeline options file it names.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		BudgetDBPath:       os.Getenv("BUDGET_DB_PATH"),
		ListenAddr:         os.Getenv("LISTEN_ADDR"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		LogFile:            os.Getenv("LOG_FILE"),
		Env:                os.Getenv("ENV"),
		PipelineConfigPath: os.Getenv("PIPELINE_CONFIG"),
		AuditFallbackPath:  os.Getenv("AUDIT_FALLBACK_PATH"),
		ScheduleCron:       strings.TrimSpace(os.Getenv("SCHEDULE_CRON")),
		ScheduleInput:      os.Getenv("SCHEDULE_INPUT"),
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// Remote input credentials are optional.
	if v := os.Getenv("S3_KEY_ID"); v != "" {
		cfg.Storage.S3KeyID = &v
	}
	if v := os.Getenv("S3_SECRET"); v != "" {
		cfg.Storage.S3Secret = &v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.S3Endpoint = &v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Storage.S3Region = &v
	}
	cfg.Storage.GCSCredentialsFile = os.Getenv("GCS_CREDENTIALS_FILE")
	cfg.Storage.AzureAccountName = os.Getenv("AZURE_STORAGE_ACCOUNT")
	cfg.Storage.AzureAccountKey = os.Getenv("AZURE_STORAGE_KEY")

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.BudgetDBPath == "" {
		cfg.BudgetDBPath = "budget.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AuditFallbackPath == "" {
		cfg.AuditFallbackPath = cfg.BudgetDBPath + ".audit-fallback.jsonl"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 40
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.ScheduleCron != "" && cfg.ScheduleInput == "" {
		return nil, fmt.Errorf("SCHEDULE_INPUT must be set when SCHEDULE_CRON is set")
	}
	if cfg.Storage.S3KeyID != nil && !cfg.Storage.HasS3Config() {
		cfg.Warnings = append(cfg.Warnings, "S3 credentials are incomplete; s3:// inputs will fail (need S3_KEY_ID, S3_SECRET, S3_ENDPOINT, S3_REGION)")
	}

	pipeline, err := LoadPipelineConfig(cfg.PipelineConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.Pipeline = *pipeline
	if cfg.PipelineConfigPath == "" {
		cfg.Warnings = append(cfg.Warnings, "PIPELINE_CONFIG not set; using built-in column synonyms and defaults")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
