package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	DBMaxConns       int
	RedisAddr        string
	RedisCancelChan  string
	MediaQueueKey    string
	NotifyChannel    string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	OpenAIOrg        string
	LLMCallTimeout   time.Duration
	WorkerSlots      int
	KnowledgeLimit   int
	PublishedLimit   int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisCancelChan:  getEnv("REDIS_CANCEL_CHANNEL", "pipeline:cancel"),
		MediaQueueKey:    getEnv("MEDIA_QUEUE_KEY", "media:image_jobs"),
		NotifyChannel:    getEnv("NOTIFY_CHANNEL", "notifications"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:        os.Getenv("OPENAI_ORG"),
		LLMCallTimeout:   time.Second * time.Duration(getEnvInt("LLM_CALL_TIMEOUT_SECONDS", 90)),
		WorkerSlots:      getEnvInt("WORKER_SLOTS", 4),
		KnowledgeLimit:   getEnvInt("KNOWLEDGE_LIMIT", 8),
		PublishedLimit:   getEnvInt("PUBLISHED_LIMIT", 20),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
