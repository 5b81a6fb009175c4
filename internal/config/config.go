package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Store      StoreConfig      `json:"store"`
	Completion CompletionConfig `json:"completion"`
	Auth       AuthConfig       `json:"auth"`
	Redis      RedisConfig      `json:"redis"`
}

type ServerConfig struct {
	Address     string   `json:"address"`
	CORSOrigins []string `json:"cors_origins"`
	LogLevel    string   `json:"log_level"`
}

// StoreConfig selects the persistence backend. URI is a mongo connection
// string for "mongo" and a driver DSN for "sqlite3" and "mysql".
type StoreConfig struct {
	Driver string `json:"driver"`
	URI    string `json:"uri"`
	DBName string `json:"db_name"`
}

// CompletionConfig points at the inference server. The worker fields bound
// how many completions run at once.
type CompletionConfig struct {
	BaseURL           string `json:"base_url"`
	Model             string `json:"model"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleSeconds int    `json:"worker_idle_seconds"`
}

type AuthConfig struct {
	SecretKey          string `json:"secret_key"`
	AccessTokenMinutes int    `json:"access_token_minutes"`
	Issuer             string `json:"issuer"`
}

// RedisConfig is optional; an empty Addr disables the cache.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     ":8000",
			CORSOrigins: []string{"http://localhost:3000"},
			LogLevel:    "info",
		},
		Store: StoreConfig{Driver: DriverMongo},
		Completion: CompletionConfig{
			BaseURL:           "http://localhost:11434",
			Model:             "llama3.1",
			TimeoutSeconds:    120,
			MinWorkers:        1,
			MaxWorkers:        4,
			QueueSize:         64,
			WorkerIdleSeconds: 60,
		},
		Auth: AuthConfig{
			AccessTokenMinutes: 30,
			Issuer:             "chatkeep",
		},
	}
}

// Load builds the configuration from defaults, then the optional JSON file at
// path, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if cfg.Store.Driver == DriverSQLite && cfg.Store.URI != "" && !isMemoryDSN(cfg.Store.URI) && !filepath.IsAbs(cfg.Store.URI) && !strings.HasPrefix(cfg.Store.URI, "file:") {
		cfg.Store.URI = filepath.Join(filepath.Dir(absPath), cfg.Store.URI)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Address = getEnv("SERVER_ADDRESS", cfg.Server.Address)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", cfg.Server.LogLevel)

	cfg.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", cfg.Store.Driver))
	cfg.Store.URI = getEnv("STORE_URI", getEnv("MONGO_URI", cfg.Store.URI))
	cfg.Store.DBName = getEnv("STORE_DB_NAME", getEnv("MONGO_DB_NAME", cfg.Store.DBName))

	cfg.Completion.BaseURL = getEnv("OLLAMA_API_URL", cfg.Completion.BaseURL)
	cfg.Completion.Model = getEnv("OLLAMA_MODEL", cfg.Completion.Model)
	cfg.Completion.TimeoutSeconds = getEnvInt("COMPLETION_TIMEOUT_SECONDS", cfg.Completion.TimeoutSeconds)
	cfg.Completion.MinWorkers = getEnvInt("COMPLETION_MIN_WORKERS", cfg.Completion.MinWorkers)
	cfg.Completion.MaxWorkers = getEnvInt("COMPLETION_MAX_WORKERS", cfg.Completion.MaxWorkers)
	cfg.Completion.QueueSize = getEnvInt("COMPLETION_QUEUE_SIZE", cfg.Completion.QueueSize)
	cfg.Completion.WorkerIdleSeconds = getEnvInt("COMPLETION_WORKER_IDLE_SECONDS", cfg.Completion.WorkerIdleSeconds)

	cfg.Auth.SecretKey = getEnv("SECRET_KEY", cfg.Auth.SecretKey)
	cfg.Auth.AccessTokenMinutes = getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", cfg.Auth.AccessTokenMinutes)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Username = getEnv("REDIS_USERNAME", cfg.Redis.Username)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("SERVER_ADDRESS cannot be empty")
	}
	switch c.Store.Driver {
	case DriverMongo:
		if c.Store.DBName == "" {
			return fmt.Errorf("STORE_DB_NAME must be set for the mongo driver")
		}
	case DriverSQLite, DriverMySQL:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Store.URI == "" {
		return fmt.Errorf("STORE_URI cannot be empty")
	}
	if c.Completion.BaseURL == "" {
		return fmt.Errorf("OLLAMA_API_URL cannot be empty")
	}
	if c.Completion.Model == "" {
		return fmt.Errorf("OLLAMA_MODEL cannot be empty")
	}
	if c.Completion.TimeoutSeconds <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT_SECONDS must be > 0")
	}
	if c.Completion.MaxWorkers < 1 || c.Completion.MinWorkers < 0 || c.Completion.MinWorkers > c.Completion.MaxWorkers {
		return fmt.Errorf("completion workers must satisfy 0 <= COMPLETION_MIN_WORKERS <= COMPLETION_MAX_WORKERS, max >= 1")
	}
	if c.Completion.QueueSize < 1 {
		return fmt.Errorf("COMPLETION_QUEUE_SIZE must be > 0")
	}
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY cannot be empty")
	}
	if c.Auth.AccessTokenMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be > 0")
	}
	return nil
}

// AccessTokenTTL reports the configured token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenMinutes) * time.Minute
}

// CompletionTimeout reports the http timeout for the inference server.
func (c *Config) CompletionTimeout() time.Duration {
	return time.Duration(c.Completion.TimeoutSeconds) * time.Second
}

// WorkerIdleTimeout reports how long an idle completion worker is kept.
func (c *Config) WorkerIdleTimeout() time.Duration {
	return time.Duration(c.Completion.WorkerIdleSeconds) * time.Second
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
