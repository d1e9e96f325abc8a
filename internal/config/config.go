package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	PractitionerJWTSecret string
	CORSAllowedOrigins    []string
	RateLimitRPS          float64
	RateLimitBurst        int

	// External automation services
	StructuringURL             string
	StructuringAPIKey          string
	StructuringProvider        string
	NotesMaxChars              int
	LocalPIIScreen             bool
	TranscriptionURL           string
	TranscriptionAPIKey        string
	TranscriptionProvider      string
	SpeechLanguageCode         string
	SpeechStagingBucket        string
	TranscriptionMinConfidence float64
	ExercisesURL               string
	ExercisesAPIKey            string
	ExercisesProvider          string
	RenderURL                  string
	RenderAPIKey               string
	DocumentTTL                time.Duration
	GatewayTimeout             time.Duration
	BreakerMaxFailures         int

	// Quota and sessions
	FreeCredits int
	SessionTTL  time.Duration
	DraftTTL    time.Duration

	// LLM providers
	LLMProvider    string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ArchiveBucket       string

	// Patient email
	EmailProvider  string
	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string

	// Usage event stream
	KafkaBrokers    []string
	KafkaUsageTopic string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		PractitionerJWTSecret: getEnv("PRACTITIONER_JWT_SECRET", ""),
		CORSAllowedOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:          getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:        getEnvAsInt("RATE_LIMIT_BURST", 20),

		StructuringURL:             getEnv("STRUCTURING_URL", ""),
		StructuringAPIKey:          getEnv("STRUCTURING_API_KEY", ""),
		StructuringProvider:        strings.ToLower(getEnv("STRUCTURING_PROVIDER", "http")),
		NotesMaxChars:              getEnvAsInt("NOTES_MAX_CHARS", 5000),
		LocalPIIScreen:             getEnvAsBool("LOCAL_PII_SCREEN", true),
		TranscriptionURL:           getEnv("TRANSCRIPTION_URL", ""),
		TranscriptionAPIKey:        getEnv("TRANSCRIPTION_API_KEY", ""),
		TranscriptionProvider:      strings.ToLower(getEnv("TRANSCRIPTION_PROVIDER", "http")),
		SpeechLanguageCode:         getEnv("SPEECH_LANGUAGE_CODE", "fr-FR"),
		SpeechStagingBucket:        getEnv("SPEECH_STAGING_BUCKET", ""),
		TranscriptionMinConfidence: getEnvAsFloat("TRANSCRIPTION_MIN_CONFIDENCE", 0.6),
		ExercisesURL:               getEnv("EXERCISES_URL", ""),
		ExercisesAPIKey:            getEnv("EXERCISES_API_KEY", ""),
		ExercisesProvider:          strings.ToLower(getEnv("EXERCISES_PROVIDER", "http")),
		RenderURL:                  getEnv("RENDER_URL", ""),
		RenderAPIKey:               getEnv("RENDER_API_KEY", ""),
		DocumentTTL:                getEnvAsDuration("DOCUMENT_TTL", time.Hour),
		GatewayTimeout:             getEnvAsDuration("GATEWAY_TIMEOUT", 120*time.Second),
		BreakerMaxFailures:         getEnvAsInt("BREAKER_MAX_FAILURES", 5),

		FreeCredits: getEnvAsInt("FREE_CREDITS", 2),
		SessionTTL:  getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		DraftTTL:    getEnvAsDuration("DRAFT_TTL", 2*time.Hour),

		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", "bedrock")),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ArchiveBucket:       getEnv("ARCHIVE_BUCKET", ""),

		EmailProvider:  strings.ToLower(getEnv("EMAIL_PROVIDER", "")),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "Kiné Assistant"),

		KafkaBrokers:    getEnvAsList("KAFKA_BROKERS"),
		KafkaUsageTopic: getEnv("KAFKA_USAGE_TOPIC", "kine.usage"),
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
