// Package config centralizes how CertDesk reads its settings. Values come from
// built-in defaults, an optional YAML file and then environment variables, in
// that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the CLI and the worker.
type Config struct {
	APIBaseURL string `yaml:"api_base_url"`
	AuthToken  string `yaml:"-"`
	TokenFile  string `yaml:"token_file"`
	// HTTPTimeout of zero leaves the transport default in place.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	MaxFileSize       int64    `yaml:"max_file_size"`
	AllowedTypes      []string `yaml:"allowed_types"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	QueueSize         int      `yaml:"queue_size"`

	PerPage  int           `yaml:"per_page"`
	AlertTTL time.Duration `yaml:"alert_ttl"`

	SessionDir string `yaml:"session_dir"`
	SessionID  string `yaml:"session_id"`
	LogLevel   string `yaml:"log_level"`

	DatabaseURL string `yaml:"database_url"`

	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"-"`
	S3SecretKey string `yaml:"-"`
	S3UseSSL    bool   `yaml:"s3_use_ssl"`
	S3Region    string `yaml:"s3_region"`
	RawBucket   string `yaml:"raw_bucket"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
}

const (
	defaultAPIBaseURL   = "http://localhost:5000"
	defaultMaxFileSize  = 16 << 20 // 16 MiB
	defaultAllowedTypes = "image/png,image/jpeg,image/gif,image/bmp,image/tiff,application/pdf,text/csv,application/vnd.ms-excel,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultAllowedExts  = ".png,.jpg,.jpeg,.gif,.bmp,.tiff,.pdf,.csv,.xlsx"
	defaultQueueSize    = 64
	defaultPerPage      = 20
	defaultAlertTTL     = 5 * time.Second
	minAlertTTL         = 5 * time.Second
	maxAlertTTL         = 8 * time.Second
	defaultSessionID    = "default"
	defaultRawBucket    = "certdesk-staged"
	defaultRedisAddr    = "localhost:6379"
)

// Load reads configuration from CERTDESK_CONFIG (if set) and the environment,
// falling back to defaults.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := readEnv("CERTDESK_CONFIG", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if cfg.AuthToken == "" && cfg.TokenFile != "" {
		token, err := ReadToken(cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		cfg.AuthToken = token
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".certdesk")
	return &Config{
		APIBaseURL:        defaultAPIBaseURL,
		TokenFile:         filepath.Join(base, "token"),
		MaxFileSize:       defaultMaxFileSize,
		AllowedTypes:      splitList(defaultAllowedTypes),
		AllowedExtensions: splitList(defaultAllowedExts),
		QueueSize:         defaultQueueSize,
		PerPage:           defaultPerPage,
		AlertTTL:          defaultAlertTTL,
		SessionDir:        filepath.Join(base, "sessions"),
		SessionID:         defaultSessionID,
		LogLevel:          "info",
		S3Region:          "us-east-1",
		RawBucket:         defaultRawBucket,
		RedisAddr:         defaultRedisAddr,
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = readEnv("CERTDESK_API_URL", c.APIBaseURL)
	c.AuthToken = readEnv("CERTDESK_TOKEN", c.AuthToken)
	c.TokenFile = readEnv("CERTDESK_TOKEN_FILE", c.TokenFile)
	c.HTTPTimeout = parseDuration("CERTDESK_HTTP_TIMEOUT", c.HTTPTimeout)
	c.MaxFileSize = parseInt64("CERTDESK_MAX_FILE_BYTES", c.MaxFileSize)
	c.AllowedTypes = parseList("CERTDESK_ALLOWED_TYPES", c.AllowedTypes)
	c.AllowedExtensions = parseList("CERTDESK_ALLOWED_EXTENSIONS", c.AllowedExtensions)
	c.QueueSize = parseInt("CERTDESK_QUEUE_SIZE", c.QueueSize)
	c.PerPage = parseInt("CERTDESK_PER_PAGE", c.PerPage)
	c.AlertTTL = parseDuration("CERTDESK_ALERT_TTL", c.AlertTTL)
	c.SessionDir = readEnv("CERTDESK_SESSION_DIR", c.SessionDir)
	c.SessionID = readEnv("CERTDESK_SESSION", c.SessionID)
	c.LogLevel = readEnv("CERTDESK_LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = readEnv("CERTDESK_DATABASE_URL", c.DatabaseURL)
	c.S3Endpoint = readEnv("CERTDESK_S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = readEnv("CERTDESK_S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = readEnv("CERTDESK_S3_SECRET_KEY", c.S3SecretKey)
	c.S3UseSSL = parseBool("CERTDESK_S3_USE_SSL", c.S3UseSSL)
	c.S3Region = readEnv("CERTDESK_S3_REGION", c.S3Region)
	c.RawBucket = readEnv("CERTDESK_RAW_BUCKET", c.RawBucket)
	c.RedisAddr = readEnv("CERTDESK_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = readEnv("CERTDESK_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = parseInt("CERTDESK_REDIS_DB", c.RedisDB)
}

func (c *Config) normalize() {
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.PerPage <= 0 {
		c.PerPage = defaultPerPage
	}
	c.AlertTTL = ClampAlertTTL(c.AlertTTL)
	if c.SessionID == "" {
		c.SessionID = defaultSessionID
	}
	if c.HTTPTimeout < 0 {
		c.HTTPTimeout = 0
	}
}

// ClampAlertTTL keeps the alert banner lifetime within 5-8 seconds.
func ClampAlertTTL(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return defaultAlertTTL
	case d < minAlertTTL:
		return minAlertTTL
	case d > maxAlertTTL:
		return maxAlertTTL
	}
	return d
}

// BackgroundEnabled reports whether the database, object storage and queue
// settings needed for background processing are present.
func (c *Config) BackgroundEnabled() bool {
	return c.DatabaseURL != "" && c.S3Endpoint != "" && c.RedisAddr != ""
}

// ReadToken returns the token stored at path, or "" if the file does not exist.
func ReadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteToken stores token at path with owner-only permissions.
func WriteToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func splitList(val string) []string {
	out := strings.Split(val, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

func parseList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return splitList(v)
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5s" or "1m30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
