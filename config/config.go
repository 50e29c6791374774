package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	ServerPort   int
	StoreDriver  string
	DatabaseURL  string
	JWTSecretKey string
	RedisURL     string
	LogLevel     string
	LogFormat    string

	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerBatchSize    int
	JobMaxAttempts     int
	JobBackoffBase     time.Duration
	JobBackoffMax      time.Duration
	JobLease           time.Duration
	ReconcileInterval  time.Duration

	PaymentServiceURL   string
	PaymentServiceToken string

	ScoreAttestationKey      string
	ScoreAttestationRequired bool

	CacheTournamentTTL  time.Duration
	CacheLeaderboardTTL time.Duration

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string

	CORSAllowedOrigins []string
}

// R2Configured reports whether settlement reports can be archived to Cloudflare R2.
func (c *Config) R2Configured() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StoreDriver:         getenvDefault("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		JWTSecretKey:        os.Getenv("JWT_SECRET_KEY"),
		RedisURL:            os.Getenv("REDIS_URL"),
		LogLevel:            getenvDefault("LOG_LEVEL", "info"),
		LogFormat:           getenvDefault("LOG_FORMAT", "json"),
		PaymentServiceURL:   os.Getenv("PAYMENT_SERVICE_URL"),
		PaymentServiceToken: os.Getenv("PAYMENT_SERVICE_TOKEN"),
		ScoreAttestationKey: os.Getenv("SCORE_ATTESTATION_KEY"),
		R2AccountID:         os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:       os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey:   os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:        os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:     os.Getenv("R2_PUBLIC_BASE_URL"),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}

	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	var err error
	if cfg.ServerPort, err = intEnv("SERVER_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", cfg.ServerPort)
	}
	if cfg.WorkerConcurrency, err = positiveIntEnv("WORKER_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.WorkerBatchSize, err = positiveIntEnv("WORKER_BATCH_SIZE", 16); err != nil {
		return nil, err
	}
	if cfg.JobMaxAttempts, err = positiveIntEnv("JOB_MAX_ATTEMPTS", 8); err != nil {
		return nil, err
	}
	if cfg.WorkerPollInterval, err = durationEnv("WORKER_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.JobBackoffBase, err = durationEnv("JOB_BACKOFF_BASE", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.JobBackoffMax, err = durationEnv("JOB_BACKOFF_MAX", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JobLease, err = durationEnv("JOB_LEASE", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = durationEnv("RECONCILE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTournamentTTL, err = durationEnv("CACHE_TOURNAMENT_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CacheLeaderboardTTL, err = durationEnv("CACHE_LEADERBOARD_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ScoreAttestationRequired, err = boolEnv("SCORE_ATTESTATION_REQUIRED", false); err != nil {
		return nil, err
	}
	if cfg.ScoreAttestationRequired && cfg.ScoreAttestationKey == "" {
		return nil, fmt.Errorf("SCORE_ATTESTATION_REQUIRED is set but SCORE_ATTESTATION_KEY is empty")
	}

	if origins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	} else {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func positiveIntEnv(key string, def int) (int, error) {
	v, err := intEnv(key, def)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}
