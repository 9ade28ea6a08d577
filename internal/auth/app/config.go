package app

import (
	"os"
	"strconv"
	"time"

	"github.com/dss-platform/auth/pkg/jwtx"
)

type Config struct {
	Issuer   string // Issuer claim for all minted tokens
	Audience string // Audience claim for user tokens

	AccessTTL      time.Duration // Access token lifetime (default: 15m)
	RefreshTTL     time.Duration // Refresh token lifetime (default: 14 days)
	ServiceTTL     time.Duration // Service token lifetime (default: 60s)
	ResetTTL       time.Duration // Password-reset token lifetime (default: 15m)
	ClockTolerance time.Duration // Verification leeway for clock skew (default: 30s)

	KeysDir   string // Key directory (default: ./keys)
	ActiveKid string // First-boot active kid; the ACTIVE file wins once written

	RedisAddr     string // Shared store address (default: localhost:6379)
	RedisPassword string // Optional
	RedisDB       int    // Optional

	DirectoryURL      string // Base URL of the user directory service
	DirectoryAudience string // Audience for outbound service tokens (default: user-directory)

	LoginIPLimit       int           // Failed logins per IP per window (default: 10)
	LoginIPWindow      time.Duration // (default: 15m)
	LoginAccountLimit  int           // Failed logins per account per window (default: 10)
	LoginAccountWindow time.Duration // (default: 15m)
	ResetLimit         int           // Reset requests per email per window (default: 3)
	ResetWindow        time.Duration // (default: 1h)
	RefreshLimit       int           // Failed refreshes per token per window (default: 10)
	RefreshWindow      time.Duration // (default: 5m)

	RevocationFailOpen bool // Allow verify when the store is down (default: false)

	CookieSecure bool   // Secure flag on the refresh cookie (default: true)
	CookieDomain string // Optional cookie domain

	JWKSCacheTTL time.Duration // Discovery document cache TTL (default: 1h)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:   getEnvOrDefault("AUTH_ISSUER", "dss-auth"),
		Audience: getEnvOrDefault("AUTH_AUDIENCE", "dss-platform"),

		AccessTTL:      getEnvDurationOrDefault("AUTH_ACCESS_TTL", jwtx.DefaultAccessTTL),
		RefreshTTL:     getEnvDurationOrDefault("AUTH_REFRESH_TTL", jwtx.DefaultRefreshTTL),
		ServiceTTL:     getEnvDurationOrDefault("AUTH_SERVICE_TOKEN_TTL", jwtx.DefaultServiceTTL),
		ResetTTL:       getEnvDurationOrDefault("AUTH_RESET_TTL", jwtx.DefaultResetTTL),
		ClockTolerance: getEnvDurationOrDefault("AUTH_CLOCK_TOLERANCE", 30*time.Second),

		KeysDir:   getEnvOrDefault("AUTH_KEYS_DIR", "keys"),
		ActiveKid: os.Getenv("AUTH_ACTIVE_KID"), // Optional: ACTIVE file takes precedence

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),

		DirectoryURL:      getEnvOrDefault("DIRECTORY_URL", "http://localhost:8081"),
		DirectoryAudience: getEnvOrDefault("DIRECTORY_AUDIENCE", "user-directory"),

		LoginIPLimit:       getEnvIntOrDefault("RATE_LOGIN_IP_LIMIT", 10),
		LoginIPWindow:      getEnvDurationOrDefault("RATE_LOGIN_IP_WINDOW", 15*time.Minute),
		LoginAccountLimit:  getEnvIntOrDefault("RATE_LOGIN_ACCOUNT_LIMIT", 10),
		LoginAccountWindow: getEnvDurationOrDefault("RATE_LOGIN_ACCOUNT_WINDOW", 15*time.Minute),
		ResetLimit:         getEnvIntOrDefault("RATE_RESET_LIMIT", 3),
		ResetWindow:        getEnvDurationOrDefault("RATE_RESET_WINDOW", time.Hour),
		RefreshLimit:       getEnvIntOrDefault("RATE_REFRESH_LIMIT", 10),
		RefreshWindow:      getEnvDurationOrDefault("RATE_REFRESH_WINDOW", 5*time.Minute),

		RevocationFailOpen: getEnvBoolOrDefault("AUTH_REVOCATION_FAIL_OPEN", false),

		CookieSecure: getEnvBoolOrDefault("AUTH_COOKIE_SECURE", true),
		CookieDomain: os.Getenv("AUTH_COOKIE_DOMAIN"),

		JWKSCacheTTL: getEnvDurationOrDefault("AUTH_JWKS_CACHE_TTL", time.Hour),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers read as seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
