package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "appointly-dev-secret-change-me"

type Config struct {
	AppEnv   string
	Port     string
	LogLevel string

	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnIdleTime time.Duration
	DBQueryTimeout time.Duration

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ChatbotTokenTTL time.Duration
	BcryptCost      int

	AIServiceURL    string
	AIProvider      string
	AIAPIKey        string
	GenModel        string
	AIHistoryWindow int

	FrontendURL string

	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	AMQPURL        string
	EventsExchange string

	AwsAccessKey     string
	AwsSecretKey     string
	AwsRegion        string
	TranscriptBucket string
	ArchiveWorkers   int

	TokenCleanupInterval time.Duration
}

// LoadConfig loads .env (if present) and the process environment.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		Port:     getEnv("PORT", "4000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 10),
		DBConnIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
		DBQueryTimeout: getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		AccessTokenTTL:  getEnvDuration("JWT_EXPIRES_IN", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("JWT_REFRESH_EXPIRES_IN", 7*24*time.Hour),
		ChatbotTokenTTL: getEnvDuration("CHATBOT_TOKEN_EXPIRES_IN", 5*time.Minute),
		BcryptCost:      getEnvInt("BCRYPT_COST", 10),

		AIServiceURL:    getEnv("AI_SERVICE_URL", "http://localhost:8000"),
		AIProvider:      strings.ToLower(getEnv("AI_PROVIDER", "relay")),
		AIAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GenModel:        getEnv("GEN_MODEL", "gemini-1.5-flash"),
		AIHistoryWindow: getEnvInt("AI_HISTORY_WINDOW", 10),

		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),

		AMQPURL:        getEnv("AMQP_URL", ""),
		EventsExchange: getEnv("EVENTS_EXCHANGE", "appointly.events"),

		AwsAccessKey:     getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:     getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:        getEnv("AWS_REGION", "us-east-2"),
		TranscriptBucket: getEnv("TRANSCRIPT_BUCKET", ""),
		ArchiveWorkers:   getEnvInt("ARCHIVE_WORKERS", 2),

		TokenCleanupInterval: getEnvDuration("TOKEN_CLEANUP_INTERVAL", time.Hour),
	}

	if cfg.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.JWTSecret = devJWTSecret
	}

	return cfg
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// Validate reports every configuration problem that would keep the service
// from starting.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET not set"))
	}
	if !c.IsDevelopment() && c.JWTSecret == devJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET uses the development default"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.ChatbotTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		errs = append(errs, fmt.Errorf("JWT_EXPIRES_IN (%s) must be shorter than JWT_REFRESH_EXPIRES_IN (%s)", c.AccessTokenTTL, c.RefreshTokenTTL))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST %d out of range [4,31]", c.BcryptCost))
	}
	switch c.AIProvider {
	case "relay":
		if c.AIServiceURL == "" {
			errs = append(errs, errors.New("AI_SERVICE_URL not set"))
		}
	case "gemini":
		if c.AIAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("AI_PROVIDER %q must be relay or gemini", c.AIProvider))
	}
	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// getEnvDuration accepts Go durations ("15m") and the "7d" day shorthand.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getEnv(key, ""))
	if v == "" {
		return def
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config value is not a duration, using default", "key", key, "value", v, "default", def.String())
		return def
	}
	return d
}
