package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Pipeline PipelineConfig
	Download DownloadConfig
	OCR      OCRConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
}

// PipelineConfig holds the stage worker settings.
type PipelineConfig struct {
	Root             string
	URLHost          string
	SeenDB           string
	ClassifyInterval time.Duration
	DownloadInterval time.Duration
	OCRInterval      time.Duration
	TimezoneInterval time.Duration
	IngestInterval   time.Duration
	OCRBatchSize     int
	OCRBatchBudget   time.Duration
	BatchPause       time.Duration
	SettleDelay      time.Duration
	SourceOffset     time.Duration
}

// DownloadConfig holds settings for fetching receipt images.
type DownloadConfig struct {
	HeadTimeout time.Duration
	GetTimeout  time.Duration
	Cookie      string
	UserAgent   string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract     string
	TessdataDir   string
	PrimaryLang   string
	FallbackLang  string
	MinConfidence float64
	TempDir       string
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is applied first when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Pipeline: PipelineConfig{
			Root:             getEnv("PIPELINE_ROOT", "."),
			URLHost:          getEnv("PIPELINE_URL_HOST", "hddc01.superbrandmall.com:443"),
			SeenDB:           getEnv("PIPELINE_SEEN_DB", ""),
			ClassifyInterval: getEnvAsDuration("CLASSIFY_INTERVAL", 10*time.Second),
			DownloadInterval: getEnvAsDuration("DOWNLOAD_INTERVAL", 15*time.Second),
			OCRInterval:      getEnvAsDuration("OCR_INTERVAL", 120*time.Second),
			TimezoneInterval: getEnvAsDuration("TIMEZONE_INTERVAL", 30*time.Second),
			IngestInterval:   getEnvAsDuration("INGEST_INTERVAL", 30*time.Second),
			OCRBatchSize:     getEnvAsInt("OCR_BATCH_SIZE", 10),
			OCRBatchBudget:   getEnvAsDuration("OCR_BATCH_BUDGET", 300*time.Second),
			BatchPause:       getEnvAsDuration("BATCH_PAUSE", 2*time.Second),
			SettleDelay:      getEnvAsDuration("WATCH_SETTLE_DELAY", 200*time.Millisecond),
			SourceOffset:     getEnvAsDuration("TIMEZONE_SOURCE_OFFSET", 8*time.Hour),
		},
		Download: DownloadConfig{
			HeadTimeout: getEnvAsDuration("DOWNLOAD_HEAD_TIMEOUT", 10*time.Second),
			GetTimeout:  getEnvAsDuration("DOWNLOAD_GET_TIMEOUT", 30*time.Second),
			Cookie:      getEnv("DOWNLOAD_COOKIE", ""),
			UserAgent:   getEnv("DOWNLOAD_USER_AGENT", "receipts-pipeline/1.0"),
		},
		OCR: OCRConfig{
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			PrimaryLang:   getEnv("OCR_PRIMARY_LANG", "chi_sim+eng"),
			FallbackLang:  getEnv("OCR_FALLBACK_LANG", "eng"),
			MinConfidence: getEnvAsFloat64("OCR_MIN_CONFIDENCE", 30),
			TempDir:       getEnv("OCR_TEMP_DIR", ""),
		},
	}
}

// Helper functions for environment variable parsing
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

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// Validate checks the settings every stage worker needs.
func (c *Config) Validate() error {
	v := NewValidator().
		Field("PIPELINE_ROOT", c.Pipeline.Root, Required).
		Field("PIPELINE_URL_HOST", c.Pipeline.URLHost, Required).
		Field("OCR_BATCH_SIZE", c.Pipeline.OCRBatchSize, NonNegative).
		Field("WATCH_SETTLE_DELAY", c.Pipeline.SettleDelay, NonNegative)
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}

// ValidateServer checks the settings the API daemon needs on top of Validate.
func (c *Config) ValidateServer() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}
