package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// Realtime: NOTIFY channel fed by the row-change trigger
	RealtimeChannel string

	// Store behaviour
	TrashPageSize        int
	SaveStatusClearDelay time.Duration

	// Inference backend (OpenAI-compatible)
	AIAPIKey         string
	AIBaseURL        string
	AIChatModel      string
	AIRequestTimeout time.Duration
	AIRatePerMinute  int

	// Worker pool configuration
	EmbeddingWorkers   int
	EmbeddingQueueSize int

	// Observability
	JaegerEndpoint   string
	TraceSampleRatio float64
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "research_notes"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		RealtimeChannel: getEnv("REALTIME_CHANNEL", "row_changes"),

		TrashPageSize:        getEnvInt("TRASH_PAGE_SIZE", 10),
		SaveStatusClearDelay: getEnvDuration("SAVE_STATUS_CLEAR_DELAY", 2*time.Second),

		AIAPIKey:         getEnv("AI_API_KEY", ""),
		AIBaseURL:        getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
		AIChatModel:      getEnv("AI_CHAT_MODEL", "gpt-4o-mini"),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 5*time.Minute),
		AIRatePerMinute:  getEnvInt("AI_RATE_PER_MINUTE", 20),

		EmbeddingWorkers:   getEnvInt("EMBEDDING_WORKERS", 2),
		EmbeddingQueueSize: getEnvInt("EMBEDDING_QUEUE_SIZE", 100),

		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", 1),
	}

	if cfg.TrashPageSize <= 0 {
		return nil, fmt.Errorf("TRASH_PAGE_SIZE must be positive, got %d", cfg.TrashPageSize)
	}

	return cfg, nil
}

// AIEnabled reports whether the assistant and embedding features can run.
func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
