package core

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds runtime settings for the API and worker processes.
type Config struct {
	Port              string         // HTTP listen port (e.g., "8000")
	LogDir            string         // Directory to write application logs; empty -> stdout only
	LogLevel          string         // debug|info|warn|error
	DatabaseURL       string         // PostgreSQL DSN (built from DB_* when DATABASE_URL is unset)
	DBEcho            bool           // Log every SQL statement through the pgx tracer
	MigrateOnStart    bool           // Apply schema migrations before serving
	JWTSecret         string         // Shared secret for token signing
	JWTAlgorithm      string         // HS256|HS384|HS512
	TokenTTL          time.Duration  // 0 -> tokens carry no exp claim
	TimeZone          *time.Location // Zone used for token clocks and log timestamps
	RedisURL          string         // Redis URL (redis://host:port/db), used when Notifier=queue
	Notifier          string         // log|queue
	WorkerConcurrency int            // number of notification worker goroutines
	AllowedOrigins    []string       // allowed origins for CORS
	TrustedProxies    []string       // proxy IPs/CIDRs whose X-Forwarded-For is honored; empty -> none
	AuthRateLimit     float64        // register/login requests per second per client IP; <=0 disables
	AuthRateBurst     int            // burst for AuthRateLimit
	CatalogSeedPath   string         // YAML catalog imported on first start
}

const (
	NotifierLog   = "log"
	NotifierQueue = "queue"
)

// Load populates Config from environment variables with sane defaults.
// A .env file in the working directory is read first when present; real
// environment variables win over it.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:              firstNonEmpty(os.Getenv("PORT"), "8000"),
		LogDir:            os.Getenv("LOG_DIR"),
		LogLevel:          firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		DatabaseURL:       firstNonEmpty(os.Getenv("DATABASE_URL"), databaseURLFromParts()),
		DBEcho:            boolFromEnv("DB_ECHO", false),
		MigrateOnStart:    boolFromEnv("MIGRATE_ON_START", true),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTAlgorithm:      strings.ToUpper(firstNonEmpty(os.Getenv("JWT_ALGORITHM"), "HS256")),
		TokenTTL:          durationFromEnv("TOKEN_TTL", 0),
		TimeZone:          locationFromEnv("TIME_ZONE", time.UTC),
		RedisURL:          firstNonEmpty(os.Getenv("REDIS_URL"), "redis://localhost:6379/0"),
		Notifier:          strings.ToLower(firstNonEmpty(os.Getenv("NOTIFIER"), NotifierLog)),
		WorkerConcurrency: intFromEnv("WORKER_CONCURRENCY", 2),
		AllowedOrigins:    parseCSV(os.Getenv("ALLOWED_ORIGINS")),
		TrustedProxies:    parseCSV(os.Getenv("TRUSTED_PROXIES")),
		AuthRateLimit:     floatFromEnv("AUTH_RATE_LIMIT", 5),
		AuthRateBurst:     intFromEnv("AUTH_RATE_BURST", 10),
		CatalogSeedPath:   os.Getenv("CATALOG_SEED_PATH"),
	}
}

// Validate reports settings the process cannot start with.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database url is empty (set DATABASE_URL or DB_*)")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if _, err := hmacMethod(c.JWTAlgorithm); err != nil {
		return err
	}
	if c.TokenTTL < 0 {
		return errors.New("TOKEN_TTL must not be negative")
	}
	switch c.Notifier {
	case NotifierLog, NotifierQueue:
	default:
		return fmt.Errorf("unknown NOTIFIER %q (want %q or %q)", c.Notifier, NotifierLog, NotifierQueue)
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("invalid TRUSTED_PROXIES entry %q", p)
			}
		}
	}
	return nil
}

// databaseURLFromParts assembles a DSN from the DB_* variables. Driver names
// like "postgresql+asyncpg" are accepted and reduced to the postgres scheme.
func databaseURLFromParts() string {
	host := os.Getenv("DB_HOST")
	name := os.Getenv("DB_NAME")
	if host == "" || name == "" {
		return ""
	}
	if !isPostgresDriver(os.Getenv("DB_DRIVER")) {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, firstNonEmpty(os.Getenv("DB_PORT"), "5432")),
		Path:   "/" + name,
	}
	if user := os.Getenv("DB_USERNAME"); user != "" {
		u.User = url.UserPassword(user, os.Getenv("DB_PASSWORD"))
	}
	q := url.Values{}
	q.Set("sslmode", firstNonEmpty(os.Getenv("DB_SSLMODE"), "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func isPostgresDriver(driver string) bool {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		return true
	}
	base, _, _ := strings.Cut(driver, "+")
	return base == "postgres" || base == "postgresql" || base == "pgx"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolFromEnv reads a boolean from env var name, falling back to defaultVal when empty or invalid.
func boolFromEnv(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// intFromEnv reads an int from env var name, falling back to defaultVal when empty or invalid.
func intFromEnv(name string, defaultVal int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func floatFromEnv(name string, defaultVal float64) float64 {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// durationFromEnv accepts Go durations ("24h") or plain seconds ("3600").
func durationFromEnv(name string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func locationFromEnv(name string, defaultVal *time.Location) *time.Location {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultVal
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		return defaultVal
	}
	return loc
}

// parseCSV splits comma-separated list and trims spaces; empty entries are skipped.
func parseCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
