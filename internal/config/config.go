package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	DBDriver      string
	DBDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AI
	AIModels          string // priority list, "provider:model" comma separated
	AIRetryDelayMS    int
	AISkipFinalDelay  bool
	GeminiAPIKey      string
	OllamaBaseURL     string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterSiteURL string
	OpenRouterAppName string
	PromptFile        string

	// Chat
	ChatHistoryWindow  int
	ChatBusyPolicy     string
	ReplyCacheTTLSec   int
	RateLimitPerMinute int

	// rabbitMQ
	RabbitURL   string
	RabbitQueue string

	RetentionHours int
	RetentionCron  string

	// Diagnosis upstreams
	SkinPredictURL  string
	EyePredictURL   string
	BloodPredictURL string
	BrainPredictURL string
}

const DefaultAIModels = "gemini:gemini-2.5-pro,gemini:gemini-2.5-flash,gemini:gemini-2.5-flash-lite"

func Load() Config {
	// .env is optional
	_ = godotenv.Load()

	driver := strings.ToLower(getEnvOrDefault("DB_DRIVER", "sqlite"))
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		if driver == "mysql" {
			// app:apppass@tcp(127.0.0.1:3306)/smart_doctor?charset=utf8mb4&parseTime=true&loc=Local
			dsn = "app:apppass@tcp(127.0.0.1:3306)/smart_doctor?charset=utf8mb4&parseTime=true&loc=Local"
		} else {
			dsn = "smart_doctor.db"
		}
	}

	return Config{
		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8080"),

		DBDriver:      driver,
		DBDSN:         dsn,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),

		AIModels:          getEnvOrDefault("AI_MODELS", DefaultAIModels),
		AIRetryDelayMS:    getEnvAsIntOrDefault("AI_RETRY_DELAY_MS", 2000),
		AISkipFinalDelay:  getEnvAsBoolOrDefault("AI_SKIP_FINAL_DELAY", false),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		OllamaBaseURL:     getEnvOrDefault("OLLAMA_BASE_URL", "http://localhost:11434"),
		OpenRouterBaseURL: getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: getEnvOrDefault("OPENROUTER_APP_NAME", "Smart Doctor"),
		PromptFile:        os.Getenv("PROMPT_FILE"),

		ChatHistoryWindow:  getEnvAsIntOrDefault("CHAT_HISTORY_WINDOW", 10),
		ChatBusyPolicy:     getEnvOrDefault("CHAT_BUSY_POLICY", "queue"),
		ReplyCacheTTLSec:   getEnvAsIntOrDefault("REPLY_CACHE_TTL_SEC", 600),
		RateLimitPerMinute: getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 30),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: getEnvOrDefault("RABBIT_QUEUE", "completion_jobs"),

		RetentionHours: getEnvAsIntOrDefault("RETENTION_HOURS", 72),
		RetentionCron:  getEnvOrDefault("RETENTION_CRON", "@hourly"),

		SkinPredictURL:  getEnvOrDefault("SKIN_PREDICT_URL", "https://mostafa3x-ahmed-predict-image.hf.space/predict-image/"),
		EyePredictURL:   getEnvOrDefault("EYE_PREDICT_URL", "https://mostafa3x-eye-model.hf.space/eye-predict/"),
		BloodPredictURL: getEnvOrDefault("BLOOD_PREDICT_URL", "https://islamfekryx0-blood-model.hf.space/blood-predict/"),
		BrainPredictURL: getEnvOrDefault("BRAIN_PREDICT_URL", "https://mostafa3x-brain-tumor1.hf.space/predict-tumor/"),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return defaultVal
	}
	return b
}
