package serve

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/hoomaan/roster-service/internal/config"
	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"

	// Import all plugins to trigger init() registration
	_ "github.com/hoomaan/roster-service/internal/plugin/kv/memory"
	_ "github.com/hoomaan/roster-service/internal/plugin/kv/redis"
	_ "github.com/hoomaan/roster-service/internal/plugin/route/export"
	_ "github.com/hoomaan/roster-service/internal/plugin/route/system"
	_ "github.com/hoomaan/roster-service/internal/plugin/route/webhook"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the roster service webhook server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Server:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics; when unset, served on the main port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Key-Value Store ───────────────────────────────────────
		&cli.StringFlag{
			Name:        "kv-kind",
			Category:    "Key-Value Store:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_KV_KIND"),
			Destination: &cfg.KVType,
			Value:       cfg.KVType,
			Usage:       "Backend store (" + strings.Join(registrykv.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Key-Value Store:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.BoolFlag{
			Name:        "cache-enabled",
			Category:    "Cache:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_CACHE_ENABLED"),
			Destination: &cfg.CacheEnabled,
			Value:       cfg.CacheEnabled,
			Usage:       "Enable the in-process read-through record cache",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "TTL for cached records",
		},
		&cli.Int64Flag{
			Name:        "cache-max-cost",
			Category:    "Cache:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_CACHE_MAX_COST"),
			Destination: &cfg.CacheMaxCost,
			Value:       cfg.CacheMaxCost,
			Usage:       "Maximum record cache size in bytes",
		},

		// ── Telegram ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "bot-token",
			Category:    "Telegram:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_BOT_TOKEN", "BOT_TOKEN"),
			Destination: &cfg.BotToken,
			Usage:       "Telegram bot token",
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "telegram-base-url",
			Category:    "Telegram:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_TELEGRAM_BASE_URL"),
			Destination: &cfg.TelegramBaseURL,
			Usage:       "Override for the Telegram Bot API base URL",
		},
		&cli.StringFlag{
			Name:        "webhook-secret",
			Category:    "Telegram:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_WEBHOOK_SECRET", "WEBHOOK_SECRET"),
			Destination: &cfg.WebhookSecret,
			Usage:       "Secret path segment of the webhook route",
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "telegram-secret-token",
			Category:    "Telegram:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_TELEGRAM_SECRET_TOKEN"),
			Destination: &cfg.TelegramSecretToken,
			Usage:       "Expected X-Telegram-Bot-Api-Secret-Token header value on webhook calls",
		},
		&cli.StringFlag{
			Name:        "admin-ids",
			Category:    "Telegram:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_ADMIN_IDS", "ADMIN_IDS"),
			Destination: &cfg.AdminIDs,
			Usage:       "Comma-separated numeric chat IDs with admin permissions",
		},

		// ── Roster ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "page-size",
			Category:    "Roster:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_PAGE_SIZE"),
			Destination: &cfg.PageSize,
			Value:       cfg.PageSize,
			Usage:       "Users per page in the admin browse view",
		},
		&cli.IntFlag{
			Name:        "export-batch-size",
			Category:    "Roster:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_EXPORT_BATCH_SIZE"),
			Destination: &cfg.ExportBatchSize,
			Value:       cfg.ExportBatchSize,
			Usage:       "Records fetched per page during CSV exports",
		},
		&cli.DurationFlag{
			Name:        "session-ttl",
			Category:    "Roster:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_SESSION_TTL"),
			Destination: &cfg.SessionTTL,
			Value:       cfg.SessionTTL,
			Usage:       "Idle lifetime of an admin browse session",
		},
		&cli.DurationFlag{
			Name:        "pending-state-ttl",
			Category:    "Roster:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_PENDING_STATE_TTL"),
			Destination: &cfg.PendingStateTTL,
			Value:       cfg.PendingStateTTL,
			Usage:       "Lifetime of a pending order or contact conversation state",
		},
		&cli.StringFlag{
			Name:        "export-secret",
			Category:    "Roster:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_EXPORT_SECRET"),
			Destination: &cfg.ExportSecret,
			Usage:       "Secret guarding the CSV export endpoints; defaults to the webhook secret",
		},

		// ── Rate Limiter ──────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "rate-window",
			Category:    "Rate Limiter:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_RATE_WINDOW"),
			Destination: &cfg.RateWindow,
			Value:       cfg.RateWindow,
			Usage:       "Sliding window length for the per-chat rate limiter",
		},
		&cli.IntFlag{
			Name:        "rate-cap",
			Category:    "Rate Limiter:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_RATE_CAP"),
			Destination: &cfg.RateCap,
			Value:       cfg.RateCap,
			Usage:       "Updates admitted per chat per window",
		},
		&cli.DurationFlag{
			Name:        "rate-penalty",
			Category:    "Rate Limiter:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_RATE_PENALTY"),
			Destination: &cfg.RatePenalty,
			Value:       cfg.RatePenalty,
			Usage:       "Block duration once the cap is exceeded",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("ROSTER_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=roster-service",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}
