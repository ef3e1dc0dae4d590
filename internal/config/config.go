package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Queue     QueueConfig
	API       APIConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// QueueConfig holds queue configuration (Redis)
type QueueConfig struct {
	RedisURL  string
	QueueName string
}

// APIConfig holds API server configuration
type APIConfig struct {
	Port int
}

// WorkerConfig holds delivery worker configuration
type WorkerConfig struct {
	Concurrency    int
	MaxAttempts    int
	BaseRetryDelay time.Duration
	SendTimeout    time.Duration
}

// SchedulerConfig holds periodic sweep configuration
type SchedulerConfig struct {
	SweepInterval   time.Duration
	RetentionDays   int
	CleanupInterval time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	workerConcurrency, err := strconv.Atoi(getEnv("WORKER_CONCURRENCY", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	maxAttempts, err := strconv.Atoi(getEnv("MAX_DELIVERY_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DELIVERY_ATTEMPTS: %w", err)
	}

	baseRetryDelay, err := time.ParseDuration(getEnv("BASE_RETRY_DELAY", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BASE_RETRY_DELAY: %w", err)
	}

	sendTimeout, err := time.ParseDuration(getEnv("SEND_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SEND_TIMEOUT: %w", err)
	}

	sweepInterval, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}

	retentionDays, err := strconv.Atoi(getEnv("MESSAGE_RETENTION_DAYS", "365"))
	if err != nil {
		return nil, fmt.Errorf("invalid MESSAGE_RETENTION_DAYS: %w", err)
	}

	cleanupInterval, err := time.ParseDuration(getEnv("CLEANUP_INTERVAL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLEANUP_INTERVAL: %w", err)
	}

	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "comms"),
			Password: getEnv("DB_PASSWORD", "comms"),
			DBName:   getEnv("DB_NAME", "comms"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Queue: QueueConfig{
			RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379/0"),
			QueueName: getEnv("QUEUE_NAME", "delivery_jobs"),
		},
		API: APIConfig{
			Port: apiPort,
		},
		Worker: WorkerConfig{
			Concurrency:    workerConcurrency,
			MaxAttempts:    maxAttempts,
			BaseRetryDelay: baseRetryDelay,
			SendTimeout:    sendTimeout,
		},
		Scheduler: SchedulerConfig{
			SweepInterval:   sweepInterval,
			RetentionDays:   retentionDays,
			CleanupInterval: cleanupInterval,
		},
	}, nil
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
