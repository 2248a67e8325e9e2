package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config is read once at startup and passed to whatever needs it.
type Config struct {
	Port           string
	DatabaseURL    string
	DatabaseDebug  bool
	RedisAddr      string
	RedisPassword  string
	JWTSecret      string
	AllowedOrigins []string
	LogLevel       string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	ShopName          string

	StoreTimeout      time.Duration
	NotifyTimeout     time.Duration
	LockTTL           time.Duration
	ReconcileSchedule string
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found")
	}

	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DB_URL"),
		DatabaseDebug:     getEnv("DB_DEBUG", "false") == "true",
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AllowedOrigins:    splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		ShopName:          getEnv("SHOP_NAME", "Mahadev Automobiles"),
		StoreTimeout:      getDuration("STORE_TIMEOUT", 5*time.Second),
		NotifyTimeout:     getDuration("NOTIFY_TIMEOUT", 10*time.Second),
		LockTTL:           getDuration("LOCK_TTL", 30*time.Second),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "0 3 * * *"),
	}

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, every /api request will be rejected")
	}
	return cfg
}

// TwilioEnabled reports whether real SMS delivery is configured.
func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioPhoneNumber != ""
}

// SetupLogging applies the configured log level and a JSON formatter.
func SetupLogging(cfg Config) {
	log.SetFormatter(&log.JSONFormatter{})
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("Unknown LOG_LEVEL, falling back to info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.WithFields(log.Fields{"key": key, "value": v}).Warn("Invalid duration, using default")
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
