package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Storage
	DataBackend  string
	SQLiteDBPath string
	StoreTimeout time.Duration

	// Identity
	AuthMode                     string
	FirebaseProjectID            string
	FirebaseServiceAccountJSON   string
	FirebaseServiceAccountBase64 string

	// AMQP (optional ledger event stream)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Receipt scanning (optional)
	GeminiAPIKey  string
	GeminiModel   string
	ReceiptBucket string

	// Summaries
	SummaryStatusPolicy string
	SummaryCacheSize    int
	SummaryCacheTTL     time.Duration

	// SharedStore marks a database written by more than one API instance.
	// Summary cache invalidation is per process, so the cache is off then.
	SharedStore bool

	// Worker
	AuditInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/fintrack.db"),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		AuthMode:                     getEnv("AUTH_MODE", "firebase"),
		FirebaseProjectID:            getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseServiceAccountJSON:   getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseServiceAccountBase64: getEnv("FIREBASE_SERVICE_ACCOUNT_BASE64", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fintrack"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_audit"),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		ReceiptBucket: getEnv("RECEIPT_BUCKET", ""),

		SummaryStatusPolicy: getEnv("SUMMARY_STATUS_POLICY", "all"),
		SummaryCacheSize:    getEnvInt("SUMMARY_CACHE_SIZE", 256),
		SummaryCacheTTL:     getEnvDuration("SUMMARY_CACHE_TTL", 30*time.Second),
		SharedStore:         getEnvBool("SHARED_STORE", false),

		AuditInterval: getEnvDuration("AUDIT_INTERVAL", time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// SummaryCacheEnabled reports whether summaries may be cached in process.
func (c *Config) SummaryCacheEnabled() bool {
	return c.SummaryCacheSize > 0 && !c.SharedStore
}

// ReceiptsEnabled reports whether receipt scanning has a model to talk to.
func (c *Config) ReceiptsEnabled() bool {
	return c.GeminiAPIKey != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateBackground checks what the worker and reconcile commands use,
// skipping the HTTP and identity settings.
func (c *Config) ValidateBackground() error {
	return c.validate(false)
}

func (c *Config) validate(server bool) error {
	var errors []string

	// Validate HTTP listener
	if server {
		if port, err := strconv.Atoi(c.Port); err != nil {
			errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
		}
		if c.RateLimitPerMinute < 1 {
			errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
		}
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.StoreTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid store timeout %v: must be positive", c.StoreTimeout))
	} else if c.StoreTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid store timeout %v: must be at most 5 minutes", c.StoreTimeout))
	}

	// Validate identity provider
	switch {
	case !server:
	case c.AuthMode == "firebase":
		if c.FirebaseProjectID == "" && c.FirebaseServiceAccountJSON == "" && c.FirebaseServiceAccountBase64 == "" {
			errors = append(errors, "either FIREBASE_PROJECT_ID or a Firebase service account must be provided for firebase auth")
		}
	case c.AuthMode == "dev":
	default:
		errors = append(errors, fmt.Sprintf("invalid auth mode '%s': must be one of [firebase dev]", c.AuthMode))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.ReceiptsEnabled() && c.GeminiModel == "" {
		errors = append(errors, "Gemini model cannot be empty when GEMINI_API_KEY is provided")
	}

	// Validate summaries
	if c.SummaryStatusPolicy != "all" && c.SummaryStatusPolicy != "cleared" {
		errors = append(errors, fmt.Sprintf("invalid summary status policy '%s': must be 'all' or 'cleared'", c.SummaryStatusPolicy))
	}
	if c.SummaryCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid summary cache size %d: must not be negative", c.SummaryCacheSize))
	}
	if c.SummaryCacheSize > 0 && c.SummaryCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid summary cache TTL %v: must be at least 1 second", c.SummaryCacheTTL))
	}

	if c.AuditInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid audit interval %v: must be at least 1 minute", c.AuditInterval))
	} else if c.AuditInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid audit interval %v: must be at most 24 hours", c.AuditInterval))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
