package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Background turn processing
	UseMemoryQueue       bool
	WorkerCount          int
	ConversationQueueURL string
	PhoneLockTTL         time.Duration

	// ProcessedEventsRetention bounds how long inbound message ids are remembered for dedupe.
	ProcessedEventsRetention time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioWebhookSecret string
	TwilioFromNumber    string

	AdminJWTSecret string
	// AdminRateLimit is the per-IP request budget per minute for /admin.
	AdminRateLimit int

	// Tracing; an empty endpoint keeps the no-op tracer provider.
	ServiceName  string
	OTLPEndpoint string
	OTLPHeaders  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Email notifications
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SESFromEmail      string
	EmailFromName     string
	NotifyEmailTo     string

	// Dealership persona
	AgentName         string
	DealershipName    string
	DealershipAddress string
	DealershipHours   string
	InventoryURL      string
}

// Load reads configuration from environment variables
func Load() *Config {
	queueURL := getEnv("CONVERSATION_QUEUE_URL", "")
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", queueURL == ""),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 4),
		ConversationQueueURL: queueURL,
		PhoneLockTTL:         getEnvAsDuration("PHONE_LOCK_TTL", 45*time.Second),

		ProcessedEventsRetention: getEnvAsDuration("PROCESSED_EVENTS_RETENTION", 7*24*time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		AdminRateLimit: getEnvAsInt("ADMIN_RATE_LIMIT", 120),

		ServiceName:  getEnv("OTEL_SERVICE_NAME", "dealer-sms-agent"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPHeaders:  getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "none"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "Jerry at the Dealership"),
		NotifyEmailTo:     getEnv("NOTIFY_EMAIL_TO", ""),

		AgentName:         getEnv("AGENT_NAME", "Jerry"),
		DealershipName:    getEnv("DEALERSHIP_NAME", "the dealership"),
		DealershipAddress: getEnv("DEALERSHIP_ADDRESS", ""),
		DealershipHours:   getEnv("DEALERSHIP_HOURS", "Mon-Sat 9am-7pm"),
		InventoryURL:      getEnv("INVENTORY_URL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
