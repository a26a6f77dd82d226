package config

import (
	"errors"
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
	CORS      CORSConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Notifier  NotifierConfig
	Cache     CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig tunes the generation and optimization engine.
type SchedulerConfig struct {
	ApplyHorizonWeeks      int
	MaxGenerationDays      int
	MaxOptimizerIterations int
	FlexibilityThreshold   int
	LockTTL                time.Duration
}

// NotifierConfig controls the async notification dispatcher.
type NotifierConfig struct {
	Enabled    bool
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// CacheConfig governs resolved-availability response caching.
type CacheConfig struct {
	Enabled         bool
	AvailabilityTTL time.Duration
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		ApplyHorizonWeeks:      v.GetInt("SCHEDULER_APPLY_HORIZON_WEEKS"),
		MaxGenerationDays:      v.GetInt("SCHEDULER_MAX_GENERATION_DAYS"),
		MaxOptimizerIterations: v.GetInt("SCHEDULER_MAX_OPTIMIZER_ITERATIONS"),
		FlexibilityThreshold:   v.GetInt("SCHEDULER_FLEXIBILITY_THRESHOLD"),
		LockTTL:                parseDuration(v.GetString("SCHEDULER_LOCK_TTL"), 30*time.Second),
	}

	cfg.Notifier = NotifierConfig{
		Enabled:    v.GetBool("ENABLE_NOTIFIER"),
		Workers:    v.GetInt("NOTIFIER_WORKERS"),
		MaxRetries: v.GetInt("NOTIFIER_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFIER_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Cache = CacheConfig{
		Enabled:         v.GetBool("ENABLE_AVAILABILITY_CACHE"),
		AvailabilityTTL: parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), 2*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "scheduling")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SCHEDULER_APPLY_HORIZON_WEEKS", 12)
	v.SetDefault("SCHEDULER_MAX_GENERATION_DAYS", 180)
	v.SetDefault("SCHEDULER_MAX_OPTIMIZER_ITERATIONS", 50)
	v.SetDefault("SCHEDULER_FLEXIBILITY_THRESHOLD", 70)
	v.SetDefault("ENABLE_NOTIFIER", true)
	v.SetDefault("NOTIFIER_WORKERS", 2)
	v.SetDefault("NOTIFIER_MAX_RETRIES", 3)
	v.SetDefault("ENABLE_AVAILABILITY_CACHE", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
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
