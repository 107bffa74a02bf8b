package config

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the roster service.
type Config struct {
	// KV backend type: "redis" or "memory".
	KVType string

	// Redis
	RedisURL string

	// Record cache (in-process, read-through on KV gets).
	CacheEnabled bool
	CacheTTL     time.Duration
	CacheMaxCost int64

	// Telegram
	BotToken string
	// TelegramBaseURL overrides the Bot API base URL (tests, proxies).
	TelegramBaseURL string
	// WebhookSecret is the path segment of the webhook route.
	WebhookSecret string
	// TelegramSecretToken, when set, must match the
	// X-Telegram-Bot-Api-Secret-Token header on webhook calls.
	TelegramSecretToken string

	// AdminIDs is a comma-separated list of numeric actor IDs with admin
	// permissions (browsing, exports, rate-limit exemption).
	AdminIDs string

	// ExportSecret guards the CSV export endpoints. Falls back to
	// WebhookSecret when empty.
	ExportSecret string

	// Roster browsing
	PageSize        int
	ExportBatchSize int
	SessionTTL      time.Duration

	// How long a pending conversation state (order, contact-admin) is kept.
	PendingStateTTL time.Duration

	// Rate limiter
	RateWindow  time.Duration
	RateCap     int
	RatePenalty time.Duration

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly
	// provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KVType:          "redis",
		CacheTTL:        time.Minute,
		CacheMaxCost:    32 * 1024 * 1024, // 32 MB
		PageSize:        20,
		ExportBatchSize: 500,
		SessionTTL:      time.Hour,
		PendingStateTTL: 30 * time.Minute,
		RateWindow:      10 * time.Second,
		RateCap:         4,
		RatePenalty:     60 * time.Second,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		DrainTimeout: 30,
	}
}

// AdminIDList parses AdminIDs into numeric actor IDs, skipping blanks and
// malformed entries.
func (c *Config) AdminIDList() []int64 {
	var ids []int64
	for _, part := range strings.Split(c.AdminIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// ResolvedExportSecret returns the export secret, falling back to the
// webhook secret when unset.
func (c *Config) ResolvedExportSecret() string {
	if c.ExportSecret != "" {
		return c.ExportSecret
	}
	return c.WebhookSecret
}
