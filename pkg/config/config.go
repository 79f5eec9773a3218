package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Worklist  WorklistConfig
	Stats     StatsConfig
	Broadcast BroadcastConfig
	Ingest    IngestConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	AppName         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig configures the optional stats snapshot cache.
type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// JWTConfig configures bearer token validation. Tokens are issued elsewhere.
type JWTConfig struct {
	Secret   string
	Required bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
}

// WorklistConfig bounds worklist pagination.
type WorklistConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// StatsConfig governs aggregate statistics computation and its snapshot cache.
type StatsConfig struct {
	RecentWindow time.Duration
	CacheEnabled bool
	CacheTTL     time.Duration
}

// BroadcastConfig drives the live stats hub.
type BroadcastConfig struct {
	Interval     time.Duration
	WriteTimeout time.Duration
}

// IngestConfig configures the Kafka result consumer.
type IngestConfig struct {
	Enabled    bool
	Brokers    []string
	Topic      string
	GroupID    string
	Workers    int
	MaxRetries int
	BatchSize  int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("APP_ENV")
	cfg.Port = v.GetInt("API_PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		AppName:      v.GetString("DB_APP_NAME"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),

		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		ConnMaxIdleTime: parseDuration(v.GetString("DB_CONN_MAX_IDLE_TIME"), 30*time.Minute),
		ConnectTimeout:  parseDuration(v.GetString("DB_CONNECT_TIMEOUT"), 5*time.Second),
	}
	if cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns && cfg.Database.MaxOpenConns > 0 {
		cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),

		DialTimeout:  parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 5*time.Second),
		ReadTimeout:  parseDuration(v.GetString("REDIS_READ_TIMEOUT"), 500*time.Millisecond),
		WriteTimeout: parseDuration(v.GetString("REDIS_WRITE_TIMEOUT"), 500*time.Millisecond),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Required: v.GetBool("AUTH_REQUIRED"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("CORS_ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("METRICS_ENABLED")}

	cfg.Worklist = WorklistConfig{
		DefaultLimit: positiveInt(v.GetInt("WORKLIST_DEFAULT_LIMIT"), 100),
		MaxLimit:     positiveInt(v.GetInt("WORKLIST_MAX_LIMIT"), 1000),
	}
	if cfg.Worklist.DefaultLimit > cfg.Worklist.MaxLimit {
		cfg.Worklist.DefaultLimit = cfg.Worklist.MaxLimit
	}

	cfg.Stats = StatsConfig{
		RecentWindow: parseDuration(v.GetString("STATS_RECENT_WINDOW"), 24*time.Hour),
		CacheEnabled: v.GetBool("STATS_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("STATS_CACHE_TTL"), 2*time.Second),
	}

	cfg.Broadcast = BroadcastConfig{
		Interval:     parseDuration(v.GetString("BROADCAST_INTERVAL"), 5*time.Second),
		WriteTimeout: parseDuration(v.GetString("BROADCAST_WRITE_TIMEOUT"), 2*time.Second),
	}

	cfg.Ingest = IngestConfig{
		Enabled:    v.GetBool("INGEST_ENABLED"),
		Brokers:    splitAndTrim(v.GetString("KAFKA_BROKERS")),
		Topic:      v.GetString("KAFKA_TOPIC"),
		GroupID:    v.GetString("KAFKA_GROUP_ID"),
		Workers:    positiveInt(v.GetInt("INGEST_WORKERS"), 1),
		MaxRetries: v.GetInt("INGEST_MAX_RETRIES"),
		BatchSize:  positiveInt(v.GetInt("INGEST_BATCH_SIZE"), 50),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", EnvDevelopment)
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "xray_triage")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_APP_NAME", "xray-triage-api")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DB_CONNECT_TIMEOUT", "5s")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 0)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "500ms")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "500ms")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("AUTH_REQUIRED", false)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("METRICS_ENABLED", true)

	v.SetDefault("WORKLIST_DEFAULT_LIMIT", 100)
	v.SetDefault("WORKLIST_MAX_LIMIT", 1000)

	v.SetDefault("STATS_RECENT_WINDOW", "24h")
	v.SetDefault("STATS_CACHE_ENABLED", false)
	v.SetDefault("STATS_CACHE_TTL", "2s")

	v.SetDefault("BROADCAST_INTERVAL", "5s")
	v.SetDefault("BROADCAST_WRITE_TIMEOUT", "2s")

	v.SetDefault("INGEST_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "xray_results")
	v.SetDefault("KAFKA_GROUP_ID", "xray-triage-api")
	v.SetDefault("INGEST_WORKERS", 2)
	v.SetDefault("INGEST_MAX_RETRIES", 3)
	v.SetDefault("INGEST_BATCH_SIZE", 50)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

func positiveInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
