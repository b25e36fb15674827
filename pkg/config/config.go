package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	App       AppConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Engine    EngineConfig
	LLM       LLMConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	RateLimit       float64
	RateBurst       int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level  string
	Format string // json or text
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string
	Version     string
	Name        string
}

// AuthConfig holds token settings for the API
type AuthConfig struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
	Issuer         string
	APIKeys        string // tenant:bcrypt-hash pairs, comma separated
}

// StorageConfig selects the repository backend
type StorageConfig struct {
	Driver string // memory or postgres
}

// QueueConfig holds defaults for the action queue
type QueueConfig struct {
	MaxAttempts       int
	BackoffStrategy   string
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Concurrency       int
	PollInterval      time.Duration
	StaleAfter        time.Duration
	StaleCheckEvery   time.Duration
	Retention         time.Duration
}

// SchedulerConfig holds the scheduler tick settings
type SchedulerConfig struct {
	Enabled         bool
	TickInterval    time.Duration
	Retention       time.Duration
	DistributedLock bool
	LockTTL         time.Duration
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	Executor            string // heuristic or llm
	DefaultThreshold    float64
	ExecutionTimeout    time.Duration
	PolicyFile          string
	EntityCacheTTL      time.Duration
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

// LLMConfig holds settings for the LLM-backed executor
type LLMConfig struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvAsSlice("SERVER_ALLOWED_ORIGINS", []string{"*"}),
			RateLimit:       getEnvAsFloat("SERVER_RATE_LIMIT", 20),
			RateBurst:       getEnvAsInt("SERVER_RATE_BURST", 40),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "ai_actions"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Name:        getEnv("APP_NAME", "ai-action-queue"),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			AccessTokenTTL: getEnvAsDuration("JWT_ACCESS_TTL", 15*time.Minute),
			Issuer:         getEnv("JWT_ISSUER", "ai-action-queue"),
			APIKeys:        getEnv("API_KEYS", ""),
		},
		Storage: StorageConfig{
			Driver: getEnv("STORAGE_DRIVER", "memory"),
		},
		Queue: QueueConfig{
			MaxAttempts:       getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffStrategy:   getEnv("QUEUE_BACKOFF_STRATEGY", "exponential"),
			InitialBackoff:    getEnvAsDuration("QUEUE_INITIAL_BACKOFF", time.Second),
			MaxBackoff:        getEnvAsDuration("QUEUE_MAX_BACKOFF", 60*time.Second),
			BackoffMultiplier: getEnvAsFloat("QUEUE_BACKOFF_MULTIPLIER", 2.0),
			Concurrency:       getEnvAsInt("QUEUE_CONCURRENCY", 5),
			PollInterval:      getEnvAsDuration("QUEUE_POLL_INTERVAL", time.Second),
			StaleAfter:        getEnvAsDuration("QUEUE_STALE_AFTER", 5*time.Minute),
			StaleCheckEvery:   getEnvAsDuration("QUEUE_STALE_CHECK_INTERVAL", time.Minute),
			Retention:         getEnvAsDuration("QUEUE_RETENTION", 7*24*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getEnvAsBool("SCHEDULER_ENABLED", true),
			TickInterval:    getEnvAsDuration("SCHEDULER_TICK_INTERVAL", 30*time.Second),
			Retention:       getEnvAsDuration("SCHEDULER_RETENTION", 30*24*time.Hour),
			DistributedLock: getEnvAsBool("SCHEDULER_DISTRIBUTED_LOCK", false),
			LockTTL:         getEnvAsDuration("SCHEDULER_LOCK_TTL", 25*time.Second),
		},
		Engine: EngineConfig{
			Executor:            getEnv("ENGINE_EXECUTOR", "heuristic"),
			DefaultThreshold:    getEnvAsFloat("ENGINE_DEFAULT_THRESHOLD", 0.7),
			ExecutionTimeout:    getEnvAsDuration("ENGINE_EXECUTION_TIMEOUT", 30*time.Second),
			PolicyFile:          getEnv("ACTION_POLICY_FILE", ""),
			EntityCacheTTL:      getEnvAsDuration("ENGINE_ENTITY_CACHE_TTL", 5*time.Minute),
			BreakerFailureRatio: getEnvAsFloat("ENGINE_BREAKER_FAILURE_RATIO", 0.6),
			BreakerOpenTimeout:  getEnvAsDuration("ENGINE_BREAKER_OPEN_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			Provider:   getEnv("LLM_PROVIDER", "anthropic"),
			APIKey:     getEnv("LLM_API_KEY", ""),
			Model:      getEnv("LLM_MODEL", ""),
			BaseURL:    getEnv("LLM_BASE_URL", ""),
			Timeout:    getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvAsInt("LLM_MAX_RETRIES", 2),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Scheduler.DistributedLock && !c.Redis.Enabled {
		return fmt.Errorf("scheduler distributed lock requires redis")
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max attempts must be at least 1")
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue concurrency must be at least 1")
	}

	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval must be positive")
	}

	if c.Engine.DefaultThreshold < 0 || c.Engine.DefaultThreshold > 1 {
		return fmt.Errorf("engine default threshold must be within [0,1]: %v", c.Engine.DefaultThreshold)
	}

	switch c.Engine.Executor {
	case "heuristic":
	case "llm":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required for the llm executor")
		}
	default:
		return fmt.Errorf("unsupported executor: %s", c.Engine.Executor)
	}

	if c.App.Environment == "production" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}

	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
