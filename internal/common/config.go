package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Raster   RasterConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
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
	HTTPAddr       string
	GRPCAddr       string
	AllowedOrigins []string
	MaxUploadBytes int64
}

// RasterConfig holds page rendering defaults
type RasterConfig struct {
	Page     int
	Scale    float64
	Format   string
	Quality  int
	MaxWidth int
}

// LLMConfig holds extraction provider configuration
type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
	RequestsPerMin int
}

// PipelineConfig holds orchestrator and reconciliation tuning
type PipelineConfig struct {
	DateOffsetDays int
	StockWorkers   int
	StockQueueSize int

	// StockJobHistory bounds how many recompute job statuses stay queryable.
	StockJobHistory int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", "openai"))
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", "sqlite://file:dispatch.db?_pragma=foreign_keys(1)"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:       getEnv("GRPC_ADDR", ":8081"),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_MB", 20)) * 1024 * 1024,
		},
		Raster: RasterConfig{
			Page:     getEnvAsInt("RASTER_PAGE", 1),
			Scale:    getEnvAsFloat64("RASTER_SCALE", 1.5),
			Format:   getEnv("RASTER_FORMAT", "jpeg"),
			Quality:  getEnvAsInt("RASTER_QUALITY", 85),
			MaxWidth: getEnvAsInt("RASTER_MAX_WIDTH", 2000),
		},
		LLM: LLMConfig{
			Provider:       provider,
			Model:          getEnv("LLM_MODEL", defaultModel(provider)),
			APIKey:         getEnv("LLM_API_KEY", providerKey(provider)),
			BaseURL:        getEnv("LLM_BASE_URL", ""),
			Temperature:    getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			MaxTokens:      getEnvAsInt("LLM_MAX_TOKENS", 1024),
			Timeout:        getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			RequestsPerMin: getEnvAsInt("LLM_REQUESTS_PER_MIN", 30),
		},
		Pipeline: PipelineConfig{
			DateOffsetDays:  getEnvAsInt("PIPELINE_DATE_OFFSET_DAYS", 1),
			StockWorkers:    getEnvAsInt("STOCK_WORKERS", 2),
			StockQueueSize:  getEnvAsInt("STOCK_QUEUE_SIZE", 64),
			StockJobHistory: getEnvAsInt("STOCK_JOB_HISTORY", 256),
		},
	}
}

func defaultModel(provider string) string {
	if provider == "anthropic" {
		return "claude-sonnet-4-5"
	}
	return "gpt-4o-mini"
}

func providerKey(provider string) string {
	if provider == "anthropic" {
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return os.Getenv("OPENAI_API_KEY")
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

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
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

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError(CodeConfig, "DB_URL is required", ErrInvalidInput)
	}
	if c.LLM.Provider != "openai" && c.LLM.Provider != "anthropic" {
		return NewAppError(CodeConfig, "LLM_PROVIDER must be openai or anthropic", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError(CodeConfig, "LLM_API_KEY is required", ErrInvalidInput)
	}
	if c.LLM.MaxTokens <= 0 {
		return NewAppError(CodeConfig, "LLM_MAX_TOKENS must be positive", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError(CodeConfig, "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Raster.Page < 1 {
		return NewAppError(CodeConfig, "RASTER_PAGE must be >= 1", ErrInvalidInput)
	}
	if c.Raster.Scale <= 0 {
		return NewAppError(CodeConfig, "RASTER_SCALE must be positive", ErrInvalidInput)
	}
	if c.Raster.Quality < 1 || c.Raster.Quality > 100 {
		return NewAppError(CodeConfig, "RASTER_QUALITY must be within 1..100", ErrInvalidInput)
	}
	return nil
}
