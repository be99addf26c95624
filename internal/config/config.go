// Package config loads pagekeeper configuration from an optional YAML file,
// .env files and environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/renderinc/pagekeeper/internal/logger"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Media   MediaConfig   `yaml:"media"`
	Search  SearchConfig  `yaml:"search"`
	Auth    AuthConfig    `yaml:"auth"`
	Upload  UploadConfig  `yaml:"upload"`
	Logging logger.Config `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" env:"PAGEKEEPER_HOST"`
	Port         int           `yaml:"port" env:"PAGEKEEPER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"PAGEKEEPER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"PAGEKEEPER_WRITE_TIMEOUT"`
}

// DataConfig locates the database and the on-disk search index.
type DataConfig struct {
	Dir string `yaml:"dir" env:"PAGEKEEPER_DATA_DIR"`
}

// DBPath is the SQLite database file inside the data directory.
func (d DataConfig) DBPath() string { return filepath.Join(d.Dir, "pagekeeper.db") }

// IndexPath is the bleve index directory inside the data directory.
func (d DataConfig) IndexPath() string { return filepath.Join(d.Dir, "bleve") }

type MediaConfig struct {
	Root string `yaml:"root" env:"PAGEKEEPER_MEDIA_ROOT"`
}

// SearchConfig selects the full-text backend.
type SearchConfig struct {
	Backend       string              `yaml:"backend" env:"PAGEKEEPER_SEARCH_BACKEND"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
}

type ElasticsearchConfig struct {
	URL        string `yaml:"url" env:"ELASTICSEARCH_URL"`
	Username   string `yaml:"username" env:"ELASTICSEARCH_USERNAME"`
	Password   string `yaml:"password" env:"ELASTICSEARCH_PASSWORD"`
	Index      string `yaml:"index" env:"ELASTICSEARCH_INDEX"`
	MaxRetries int    `yaml:"max_retries" env:"ELASTICSEARCH_MAX_RETRIES"`
}

// AuthConfig holds the single admin account allowed to upload.
type AuthConfig struct {
	Username     string        `yaml:"username" env:"PAGEKEEPER_ADMIN_USER"`
	PasswordHash string        `yaml:"password_hash" env:"PAGEKEEPER_ADMIN_PASSWORD_HASH"`
	JWTSecret    string        `yaml:"jwt_secret" env:"PAGEKEEPER_JWT_SECRET"`
	SessionTTL   time.Duration `yaml:"session_ttl" env:"PAGEKEEPER_SESSION_TTL"`
	SecureCookie bool          `yaml:"secure_cookie" env:"PAGEKEEPER_SECURE_COOKIE"`
}

type UploadConfig struct {
	// Collision is one of "rename", "overwrite" or "reject".
	Collision string `yaml:"collision" env:"PAGEKEEPER_UPLOAD_COLLISION"`
	MaxBytes  int64  `yaml:"max_bytes" env:"PAGEKEEPER_UPLOAD_MAX_BYTES"`
}

const (
	BackendBleve         = "bleve"
	BackendElasticsearch = "elasticsearch"
)

// Load reads path (if non-empty), .env files, then environment overrides,
// fills defaults and validates the result.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 6893
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "./data"
	}
	if c.Media.Root == "" {
		c.Media.Root = "./media"
	}
	if c.Search.Backend == "" {
		c.Search.Backend = BackendBleve
	}
	if c.Search.Elasticsearch.Index == "" {
		c.Search.Elasticsearch.Index = "pages"
	}
	if c.Search.Elasticsearch.MaxRetries == 0 {
		c.Search.Elasticsearch.MaxRetries = 3
	}
	if c.Auth.Username == "" {
		c.Auth.Username = "admin"
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 12 * time.Hour
	}
	if c.Upload.Collision == "" {
		c.Upload.Collision = "rename"
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = 64 << 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{Field: "server.port", Message: "must be between 1 and 65535"})
	}
	switch c.Search.Backend {
	case BackendBleve:
	case BackendElasticsearch:
		if c.Search.Elasticsearch.URL == "" {
			errs = append(errs, &ValidationError{Field: "search.elasticsearch.url", Message: "is required"})
		}
	default:
		errs = append(errs, &ValidationError{Field: "search.backend", Message: "must be one of: bleve, elasticsearch"})
	}
	switch c.Upload.Collision {
	case "rename", "overwrite", "reject":
	default:
		errs = append(errs, &ValidationError{Field: "upload.collision", Message: "must be one of: rename, overwrite, reject"})
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		errs = append(errs, &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error, fatal"})
	}
	return errors.Join(errs...)
}

// loadEnvFiles loads ENV_FILE if set, otherwise .env.local then .env.
// Missing files are ignored.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg any) {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	applyEnvToStruct(v)
}

func applyEnvToStruct(v reflect.Value) {
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			applyEnvToStruct(field)
			continue
		}
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" {
			continue
		}
		if val := os.Getenv(envTag); val != "" {
			setFieldFromString(field, val)
		}
	}
}

func setFieldFromString(field reflect.Value, val string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(val)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			if d, err := time.ParseDuration(val); err == nil {
				field.SetInt(int64(d))
			}
			return
		}
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Bool:
		s := strings.ToLower(strings.TrimSpace(val))
		field.SetBool(s == "true" || s == "1" || s == "yes")
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(val, ",")
			for i, p := range parts {
				parts[i] = strings.TrimSpace(p)
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
}
