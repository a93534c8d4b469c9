package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

var validate = validator.New()

type AppConfig struct {
	AppEnv   string        `validate:"oneof=dev prod"`
	LogLevel zapcore.Level `validate:"-"`

	// OpenAQ access.
	APIBaseURL string `validate:"required,url"`
	APIKey     string `validate:"required"`

	// DataDir is the artifact root; raw and clean files live below it.
	DataDir string `validate:"required"`

	HTTPTimeout time.Duration `validate:"gt=0"`
	Fetch       FetchConfig

	DB DBConfig

	// Skip-vs-abort decision per stage for the hourly batch.
	Hourly HourlyPolicy

	// Serve mode.
	ScheduleInterval time.Duration `validate:"gte=1m"`
	Port             string        `validate:"required,numeric"`

	// In-memory run history retention.
	RunHistoryMax    int           // max number of reports kept (0 = unlimited)
	RunHistoryMaxAge time.Duration // max age of reports (0 = unlimited)
}

// FetchConfig holds retry knobs for outbound API calls. MaxRetries defaults to 0:
// retrying is the scheduler's job, not the pipeline's.
type FetchConfig struct {
	MaxRetries     int           `validate:"gte=0"`
	InitialBackoff time.Duration `validate:"gt=0"`
	MaxBackoff     time.Duration `validate:"gtefield=InitialBackoff"`
}

type DBConfig struct {
	Driver       string `validate:"oneof=pgx sqlite3"`
	DSN          string
	Host         string
	Port         int `validate:"gte=0,lte=65535"`
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int `validate:"gte=0"`
	MaxIdleConns int `validate:"gte=0"`
}

type HourlyPolicy struct {
	OnFetchFailure     string `validate:"oneof=abort skip"`
	OnTransformFailure string `validate:"oneof=abort skip"`
	OnLoadFailure      string `validate:"oneof=abort skip"`
}

// RawDir is where fetched API responses are written.
func (c *AppConfig) RawDir() string {
	return filepath.Join(c.DataDir, "raw")
}

// CleanDir is where transformed parquet tables are written.
func (c *AppConfig) CleanDir() string {
	return filepath.Join(c.DataDir, "clean")
}

// ConnString returns the DSN for the configured driver. An explicit DB_DSN wins.
func (c DBConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Driver == "sqlite3" {
		return c.Name
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.AppEnv = getenvDefault("APP_ENV", "dev")

	level, err := zapcore.ParseLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	cfg.APIBaseURL = strings.TrimRight(getenvDefault("OPENAQ_API_BASE", "https://api.openaq.org/v3"), "/")
	cfg.APIKey = strings.TrimSpace(os.Getenv("API_KEY"))
	cfg.DataDir = strings.TrimSpace(os.Getenv("DATA_DIR"))

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}

	cfg.Fetch.MaxRetries = getenvInt("FETCH_MAX_RETRIES", 0)
	if cfg.Fetch.InitialBackoff, err = getenvDuration("FETCH_INITIAL_BACKOFF", "500ms"); err != nil {
		return nil, err
	}
	if cfg.Fetch.MaxBackoff, err = getenvDuration("FETCH_MAX_BACKOFF", "5s"); err != nil {
		return nil, err
	}

	cfg.DB = DBConfig{
		Driver:       getenvDefault("DB_DRIVER", "pgx"),
		DSN:          strings.TrimSpace(os.Getenv("DB_DSN")),
		Host:         getenvDefault("DB_HOST", "localhost"),
		Port:         getenvInt("DB_PORT", 5432),
		User:         getenvDefault("DB_USER", "airq"),
		Password:     os.Getenv("DB_PASSWORD"),
		Name:         getenvDefault("DB_NAME", "airq"),
		SSLMode:      getenvDefault("DB_SSLMODE", "disable"),
		MaxOpenConns: getenvInt("DB_MAX_OPEN_CONNS", 4),
		MaxIdleConns: getenvInt("DB_MAX_IDLE_CONNS", 2),
	}

	cfg.Hourly = HourlyPolicy{
		OnFetchFailure:     getenvDefault("HOURLY_ON_FETCH_FAILURE", "abort"),
		OnTransformFailure: getenvDefault("HOURLY_ON_TRANSFORM_FAILURE", "skip"),
		OnLoadFailure:      getenvDefault("HOURLY_ON_LOAD_FAILURE", "skip"),
	}

	if cfg.ScheduleInterval, err = getenvDuration("SCHEDULE_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	cfg.RunHistoryMax = getenvInt("RUN_HISTORY_MAX", 48)
	if cfg.RunHistoryMaxAge, err = getenvDuration("RUN_HISTORY_MAX_AGE", "72h"); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
