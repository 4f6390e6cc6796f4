package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	JWT          JWTConfig          `yaml:"jwt"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Redis        RedisConfig        `yaml:"redis"`
	Analytics    AnalyticsConfig    `yaml:"analytics"`
	Notification NotificationConfig `yaml:"notification"`
	Sync         SyncConfig         `yaml:"sync"`
	Sweep        SweepConfig        `yaml:"sweep"`
	Dispatcher   DispatcherConfig   `yaml:"dispatcher"`
	Branches     []BranchSeed       `yaml:"branches"`
}

// BranchSeed is upserted at startup so a fresh database has branches to attach reviews to.
type BranchSeed struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	ManagerID string `yaml:"manager_id"`
	PlaceID   string `yaml:"place_id"`
	AlertURL  string `yaml:"alert_url"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test

	IntakeRPS   float64  `yaml:"intake_rps"`
	IntakeBurst int      `yaml:"intake_burst"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres, memory
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// ClassifierConfig selects the text-classification provider.
type ClassifierConfig struct {
	Provider    string  `yaml:"provider"` // openai, azure, anthropic, ollama, gemini
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMs   int     `yaml:"timeout_ms"`
}

// Timeout returns the classification budget, 5s when unset.
func (c ClassifierConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 5000 * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RedisConfig for optional async task queue and shared metric cache
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AnalyticsConfig struct {
	CacheBackend    string `yaml:"cache_backend"` // memory, redis, none
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

func (c AnalyticsConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// NotificationConfig holds shoutrrr service URLs used when a branch has no alert URL of its own.
type NotificationConfig struct {
	URLs           []string `yaml:"urls"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type SyncConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Schedule       string `yaml:"schedule"`
	PlacesAPIKey   string `yaml:"places_api_key"`
	PlacesBaseURL  string `yaml:"places_base_url"`
	MinJitterMs    int    `yaml:"min_jitter_ms"`
	MaxJitterMs    int    `yaml:"max_jitter_ms"`
	RequestTimeout int    `yaml:"request_timeout_seconds"`
}

type SweepConfig struct {
	Enabled           bool `yaml:"enabled"`
	IntervalSeconds   int  `yaml:"interval_seconds"`
	StaleAfterSeconds int  `yaml:"stale_after_seconds"`
	BatchSize         int  `yaml:"batch_size"`
}

type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	// .env is optional; real environment variables still win
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        "8080",
			Mode:        "debug",
			IntakeRPS:   5,
			IntakeBurst: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "reviewiq.db",
		},
		JWT: JWTConfig{
			Secret:     "reviewiq-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Classifier: ClassifierConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			TimeoutMs:   5000,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Analytics: AnalyticsConfig{
			CacheBackend:    "memory",
			CacheTTLSeconds: 60,
		},
		Notification: NotificationConfig{
			TimeoutSeconds: 10,
		},
		Sync: SyncConfig{
			Enabled:        true,
			Schedule:       "0 */6 * * *",
			PlacesBaseURL:  "https://places.googleapis.com/v1",
			MinJitterMs:    1000,
			MaxJitterMs:    3000,
			RequestTimeout: 15,
		},
		Sweep: SweepConfig{
			Enabled:           true,
			IntervalSeconds:   300,
			StaleAfterSeconds: 600,
			BatchSize:         50,
		},
		Dispatcher: DispatcherConfig{
			Workers:   4,
			QueueSize: 256,
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if provider := os.Getenv("CLASSIFIER_PROVIDER"); provider != "" {
		c.Classifier.Provider = provider
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.Classifier.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.Classifier.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.Classifier.Model = model
	}
	if key := os.Getenv("PLACES_API_KEY"); key != "" {
		c.Sync.PlacesAPIKey = key
	}
	if urls := os.Getenv("NOTIFY_URLS"); urls != "" {
		c.Notification.URLs = splitList(urls)
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
