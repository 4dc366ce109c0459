package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database (empty runs the in-memory ledger)
	DatabaseURL    string
	MigrateOnStart bool

	// Redis (empty disables idle forfeits and the reconciliation list)
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Game Settings
	MinStakeAmount          int64
	MatchDisposalSeconds    int
	DisconnectGraceSeconds  int
	IdleForfeitSeconds      int
	IdleWorkerPollInterval  int
	SettlementRetryAttempts int
	ReconcileIntervalSecs   int
	StartingBalance         int64

	// Security
	JWTSecret         string
	RequirePlayerAuth bool
	AdminTokenHash    string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", false),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),

		// Game Settings
		MinStakeAmount:          int64(getEnvInt("MIN_STAKE_AMOUNT", 10)),
		MatchDisposalSeconds:    getEnvInt("MATCH_DISPOSAL_SECONDS", 5),
		DisconnectGraceSeconds:  getEnvInt("DISCONNECT_GRACE_SECONDS", 30),
		IdleForfeitSeconds:      getEnvInt("IDLE_FORFEIT_SECONDS", 120),
		IdleWorkerPollInterval:  getEnvInt("IDLE_WORKER_POLL_SECONDS", 5),
		SettlementRetryAttempts: getEnvInt("SETTLEMENT_RETRY_ATTEMPTS", 5),
		ReconcileIntervalSecs:   getEnvInt("RECONCILE_INTERVAL_SECONDS", 60),
		StartingBalance:         int64(getEnvInt("STARTING_BALANCE", 1000)),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", "change-me-in-production"),
		RequirePlayerAuth: getEnvBool("REQUIRE_PLAYER_AUTH", false),
		AdminTokenHash:    getEnv("ADMIN_TOKEN_HASH", ""),
	}
}

// MatchDisposalDelay is how long a settled match stays queryable.
func (c *Config) MatchDisposalDelay() time.Duration {
	return time.Duration(c.MatchDisposalSeconds) * time.Second
}

func (c *Config) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceSeconds) * time.Second
}

func (c *Config) IdleForfeitAfter() time.Duration {
	return time.Duration(c.IdleForfeitSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
