package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT
	JWTSecret string

	// Supabase (blob storage)
	SupabaseURL            string
	SupabaseServiceRoleKey string
	StorageBucket          string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int
	LLMMaxRetries  int

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleProjectID    string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string

	// Webhook
	WebhookBaseURL      string
	WebhookDedupeTTLSec int

	// QA recheck
	QABatchSize        int
	QAPromptKey        string
	QARecheckInterval  time.Duration
	QAInboundMaxChars  int
	QADraftMaxChars    int
	QAThreadContextLen int

	// Watch lifecycle
	WatchRenewThresholdHours int
	WatchRenewInterval       time.Duration

	// Classification
	IntentMinConfidence  float64
	SpamMinConfidence    float64
	IntentContextWindow  int

	// Scheduler
	SchedulerEnabled bool

	// ID generation
	SnowflakeWorkerID int64
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "leadpilot"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),

		// Supabase
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		StorageBucket:          getEnv("STORAGE_BUCKET", "attachments"),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.0),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 15),
		LLMMaxRetries:  getEnvInt("LLM_MAX_RETRIES", 2),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),

		// OAuth - Microsoft
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),

		// Webhook
		WebhookBaseURL:      getEnv("WEBHOOK_BASE_URL", ""),
		WebhookDedupeTTLSec: getEnvInt("WEBHOOK_DEDUPE_TTL_SEC", 300),

		// QA recheck
		QABatchSize:        getEnvInt("QA_BATCH_SIZE", 25),
		QAPromptKey:        getEnv("QA_PROMPT_KEY", "qa_recheck"),
		QARecheckInterval:  time.Duration(getEnvInt("QA_RECHECK_INTERVAL_SEC", 60)) * time.Second,
		QAInboundMaxChars:  getEnvInt("QA_INBOUND_MAX_CHARS", 2000),
		QADraftMaxChars:    getEnvInt("QA_DRAFT_MAX_CHARS", 2400),
		QAThreadContextLen: getEnvInt("QA_THREAD_CONTEXT_LEN", 10),

		// Watch lifecycle
		WatchRenewThresholdHours: getEnvInt("WATCH_RENEW_THRESHOLD_HOURS", 24),
		WatchRenewInterval:       time.Duration(getEnvInt("WATCH_RENEW_INTERVAL_MIN", 60)) * time.Minute,

		// Classification
		IntentMinConfidence: getEnvFloat("INTENT_MIN_CONFIDENCE", 0.6),
		SpamMinConfidence:   getEnvFloat("SPAM_MIN_CONFIDENCE", 0.98),
		IntentContextWindow: getEnvInt("INTENT_CONTEXT_WINDOW", 5),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),

		// ID generation
		SnowflakeWorkerID: int64(getEnvInt("SNOWFLAKE_WORKER_ID", 1)),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
