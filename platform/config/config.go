// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// RedisConfig provides the redis connection used for dedupe and asynq.
type RedisConfig interface {
	GetRedisURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// LLMConfig provides settings for the OpenAI-compatible chat completion endpoint.
type LLMConfig interface {
	GetLLMBaseURL() string
	GetLLMAPIKey() string
	GetLLMModel() string
}

// EmbeddingConfig provides settings for the embedding API service.
type EmbeddingConfig interface {
	GetEmbeddingAPIURL() string
	GetEmbeddingAPIKey() string
	GetEmbeddingModel() string
	IsEmbeddingEnabled() bool
}

// QdrantConfig provides settings for Qdrant vector database.
type QdrantConfig interface {
	GetQdrantURL() string
	GetQdrantAPIKey() string
	GetQdrantCollection() string
	IsQdrantEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketCatalogAssets() string
	IsMinIOEnabled() bool
}

// SMTPConfig provides settings for outgoing tenant e-mail.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsEmailEnabled() bool
}

// BridgeConfig provides settings for the WhatsApp multi-device bridge.
type BridgeConfig interface {
	GetBridgeURL() string
	GetBridgeUsername() string
	GetBridgePassword() string
	GetBridgeWebhookSecret() string
	GetBridgePollInterval() time.Duration
}

// SessionConfig provides settings for the session lifecycle manager.
type SessionConfig interface {
	GetReconnectBaseDelay() time.Duration
	GetReconnectMaxDelay() time.Duration
	GetSessionCredentialKey() []byte
}

// DeliveryConfig provides settings for the delivery listener.
type DeliveryConfig interface {
	GetDeliverySweepInterval() time.Duration
	GetDeliverySweepMinAge() time.Duration
	GetDeliveryRatePerMinute() int
}

// PaymentConfig provides settings for the payment gateway.
type PaymentConfig interface {
	GetPaymentBaseURL() string
	GetPaymentAPIKey() string
	GetPaymentSiteID() string
	GetPaymentSecretKey() string
	GetAppBaseURL() string
	GetPublicAPIURL() string
}

// PipelineConfig provides settings for the conversation pipeline.
type PipelineConfig interface {
	GetHistoryTurns() int
	GetMaxToolRounds() int
	GetInboundPerMinute() int
	GetDedupeTTL() time.Duration
}

// SchedulerConfig provides settings for the asynq sweep scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetSweepCron() string
	GetPaymentReminderAfter() time.Duration
	GetAutoCancelAfter() time.Duration
	GetFeedbackMinAge() time.Duration
	GetFeedbackMaxAge() time.Duration
}

// Config holds every setting the binaries read from the environment.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string
	RedisURL    string

	JWTAccessSecret string

	CORSAllowAll   bool
	CORSOrigins    []string
	CORSAllowCreds bool

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	EmbeddingAPIURL  string
	EmbeddingAPIKey  string
	EmbeddingModel   string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	MinIOEndpoint            string
	MinIOAccessKey           string
	MinIOSecretKey           string
	MinIOUseSSL              bool
	MinioBucketCatalogAssets string

	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string

	BridgeURL           string
	BridgeUsername      string
	BridgePassword      string
	BridgeWebhookSecret string
	BridgePollInterval  time.Duration

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	SessionCredentialKey []byte

	DeliverySweepInterval time.Duration
	DeliverySweepMinAge   time.Duration
	DeliveryRatePerMinute int

	PaymentBaseURL   string
	PaymentAPIKey    string
	PaymentSiteID    string
	PaymentSecretKey string
	AppBaseURL       string
	PublicAPIURL     string

	HistoryTurns     int
	MaxToolRounds    int
	InboundPerMinute int
	DedupeTTL        time.Duration

	SweepCron            string
	PaymentReminderAfter time.Duration
	AutoCancelAfter      time.Duration
	FeedbackMinAge       time.Duration
	FeedbackMaxAge       time.Duration
}

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// RedisConfig implementation
func (c *Config) GetRedisURL() string { return c.RedisURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// LLMConfig implementation
func (c *Config) GetLLMBaseURL() string { return c.LLMBaseURL }
func (c *Config) GetLLMAPIKey() string  { return c.LLMAPIKey }
func (c *Config) GetLLMModel() string   { return c.LLMModel }

// EmbeddingConfig implementation
func (c *Config) GetEmbeddingAPIURL() string { return c.EmbeddingAPIURL }
func (c *Config) GetEmbeddingAPIKey() string { return c.EmbeddingAPIKey }
func (c *Config) GetEmbeddingModel() string  { return c.EmbeddingModel }
func (c *Config) IsEmbeddingEnabled() bool   { return c.EmbeddingAPIURL != "" }

// QdrantConfig implementation
func (c *Config) GetQdrantURL() string        { return c.QdrantURL }
func (c *Config) GetQdrantAPIKey() string     { return c.QdrantAPIKey }
func (c *Config) GetQdrantCollection() string { return c.QdrantCollection }
func (c *Config) IsQdrantEnabled() bool       { return c.QdrantURL != "" && c.QdrantCollection != "" }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string            { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string           { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string           { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool                { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketCatalogAssets() string { return c.MinioBucketCatalogAssets }
func (c *Config) IsMinIOEnabled() bool                { return c.MinIOEndpoint != "" }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) IsEmailEnabled() bool        { return c.SMTPHost != "" && c.EmailFromAddress != "" }

// BridgeConfig implementation
func (c *Config) GetBridgeURL() string                 { return c.BridgeURL }
func (c *Config) GetBridgeUsername() string            { return c.BridgeUsername }
func (c *Config) GetBridgePassword() string            { return c.BridgePassword }
func (c *Config) GetBridgeWebhookSecret() string       { return c.BridgeWebhookSecret }
func (c *Config) GetBridgePollInterval() time.Duration { return c.BridgePollInterval }

// SessionConfig implementation
func (c *Config) GetReconnectBaseDelay() time.Duration { return c.ReconnectBaseDelay }
func (c *Config) GetReconnectMaxDelay() time.Duration  { return c.ReconnectMaxDelay }
func (c *Config) GetSessionCredentialKey() []byte      { return c.SessionCredentialKey }

// DeliveryConfig implementation
func (c *Config) GetDeliverySweepInterval() time.Duration { return c.DeliverySweepInterval }
func (c *Config) GetDeliverySweepMinAge() time.Duration   { return c.DeliverySweepMinAge }
func (c *Config) GetDeliveryRatePerMinute() int           { return c.DeliveryRatePerMinute }

// PaymentConfig implementation
func (c *Config) GetPaymentBaseURL() string   { return c.PaymentBaseURL }
func (c *Config) GetPaymentAPIKey() string    { return c.PaymentAPIKey }
func (c *Config) GetPaymentSiteID() string    { return c.PaymentSiteID }
func (c *Config) GetPaymentSecretKey() string { return c.PaymentSecretKey }
func (c *Config) GetAppBaseURL() string       { return c.AppBaseURL }
func (c *Config) GetPublicAPIURL() string     { return c.PublicAPIURL }

// PipelineConfig implementation
func (c *Config) GetHistoryTurns() int         { return c.HistoryTurns }
func (c *Config) GetMaxToolRounds() int        { return c.MaxToolRounds }
func (c *Config) GetInboundPerMinute() int     { return c.InboundPerMinute }
func (c *Config) GetDedupeTTL() time.Duration  { return c.DedupeTTL }

// SchedulerConfig implementation
func (c *Config) GetSweepCron() string                    { return c.SweepCron }
func (c *Config) GetPaymentReminderAfter() time.Duration { return c.PaymentReminderAfter }
func (c *Config) GetAutoCancelAfter() time.Duration      { return c.AutoCancelAfter }
func (c *Config) GetFeedbackMinAge() time.Duration       { return c.FeedbackMinAge }
func (c *Config) GetFeedbackMaxAge() time.Duration       { return c.FeedbackMaxAge }

// Load reads the environment (and an optional .env file) into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		RedisURL:                 getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTAccessSecret:          getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:             corsAllowAll,
		CORSOrigins:              corsOrigins,
		CORSAllowCreds:           strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		LLMBaseURL:               getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:                getEnv("LLM_API_KEY", ""),
		LLMModel:                 getEnv("LLM_MODEL", "gpt-4o-mini"),
		EmbeddingAPIURL:          getEnv("EMBEDDING_API_URL", ""),
		EmbeddingAPIKey:          getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:           getEnv("EMBEDDING_MODEL", ""),
		QdrantURL:                getEnv("QDRANT_URL", ""),
		QdrantAPIKey:             getEnv("QDRANT_API_KEY", ""),
		QdrantCollection:         getEnv("QDRANT_COLLECTION", "knowledge"),
		MinIOEndpoint:            getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:           getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:           getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:              strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketCatalogAssets: getEnv("MINIO_BUCKET_CATALOG_ASSETS", "catalog-assets"),
		SMTPHost:                 getEnv("SMTP_HOST", ""),
		SMTPPort:                 mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:             getEnv("SMTP_USERNAME", ""),
		SMTPPassword:             getEnv("SMTP_PASSWORD", ""),
		EmailFromName:            getEnv("EMAIL_FROM_NAME", "Storefront"),
		EmailFromAddress:         getEnv("EMAIL_FROM_ADDRESS", ""),
		BridgeURL:                getEnv("WHATSAPP_BRIDGE_URL", ""),
		BridgeUsername:           getEnv("WHATSAPP_BRIDGE_USERNAME", ""),
		BridgePassword:           getEnv("WHATSAPP_BRIDGE_PASSWORD", ""),
		BridgeWebhookSecret:      getEnv("WHATSAPP_WEBHOOK_SECRET", ""),
		BridgePollInterval:       mustDuration(getEnv("WHATSAPP_BRIDGE_POLL_INTERVAL", "5s")),
		ReconnectBaseDelay:       mustDuration(getEnv("SESSION_RECONNECT_BASE_DELAY", "2s")),
		ReconnectMaxDelay:        mustDuration(getEnv("SESSION_RECONNECT_MAX_DELAY", "60s")),
		DeliverySweepInterval:    mustDuration(getEnv("DELIVERY_SWEEP_INTERVAL", "2m")),
		DeliverySweepMinAge:      mustDuration(getEnv("DELIVERY_SWEEP_MIN_AGE", "30s")),
		DeliveryRatePerMinute:    mustInt(getEnv("DELIVERY_RATE_PER_MINUTE", "30")),
		PaymentBaseURL:           getEnv("PAYMENT_BASE_URL", "https://api-checkout.cinetpay.com"),
		PaymentAPIKey:            getEnv("PAYMENT_API_KEY", ""),
		PaymentSiteID:            getEnv("PAYMENT_SITE_ID", ""),
		PaymentSecretKey:         getEnv("PAYMENT_SECRET_KEY", ""),
		AppBaseURL:               getEnv("APP_BASE_URL", "http://localhost:3000"),
		PublicAPIURL:             getEnv("PUBLIC_API_URL", "http://localhost:8080"),
		HistoryTurns:             mustInt(getEnv("PIPELINE_HISTORY_TURNS", "10")),
		MaxToolRounds:            mustInt(getEnv("PIPELINE_MAX_TOOL_ROUNDS", "3")),
		InboundPerMinute:         mustInt(getEnv("PIPELINE_INBOUND_PER_MINUTE", "10")),
		DedupeTTL:                mustDuration(getEnv("PIPELINE_DEDUPE_TTL", "24h")),
		SweepCron:                getEnv("SCHEDULER_SWEEP_CRON", "*/5 * * * *"),
		PaymentReminderAfter:     mustDuration(getEnv("ORDER_PAYMENT_REMINDER_AFTER", "15m")),
		AutoCancelAfter:          mustDuration(getEnv("ORDER_AUTO_CANCEL_AFTER", "1h")),
		FeedbackMinAge:           mustDuration(getEnv("ORDER_FEEDBACK_MIN_AGE", "72h")),
		FeedbackMaxAge:           mustDuration(getEnv("ORDER_FEEDBACK_MAX_AGE", "96h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	key, err := hex.DecodeString(getEnv("SESSION_CREDENTIAL_KEY", ""))
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("SESSION_CREDENTIAL_KEY must be 32 bytes hex encoded")
	}
	cfg.SessionCredentialKey = key
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.ReconnectBaseDelay <= 0 || cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		return nil, fmt.Errorf("SESSION_RECONNECT_MAX_DELAY must be >= SESSION_RECONNECT_BASE_DELAY > 0")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
