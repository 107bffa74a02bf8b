package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/hoomaan/roster-service/internal/bot"
	"github.com/hoomaan/roster-service/internal/config"
	"github.com/hoomaan/roster-service/internal/plugin/kv/cached"
	kvmetrics "github.com/hoomaan/roster-service/internal/plugin/kv/metrics"
	exportroute "github.com/hoomaan/roster-service/internal/plugin/route/export"
	routesystem "github.com/hoomaan/roster-service/internal/plugin/route/system"
	"github.com/hoomaan/roster-service/internal/plugin/route/webhook"
	"github.com/hoomaan/roster-service/internal/ratelimit"
	registrykv "github.com/hoomaan/roster-service/internal/registry/kv"
	registryroute "github.com/hoomaan/roster-service/internal/registry/route"
	"github.com/hoomaan/roster-service/internal/roster"
	"github.com/hoomaan/roster-service/internal/security"
	"github.com/hoomaan/roster-service/internal/telegram"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	KV              registrykv.Store
	Router          *gin.Engine
	httpServer      *http.Server
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.KV.Close(); err == nil {
		err = closeErr
	}
	return err
}

// StartServer initializes all subsystems and starts the HTTP server.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting roster service",
		"httpPort", cfg.Listener.Port,
		"kv", cfg.KVType,
		"cache", cfg.CacheEnabled,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Initialize the KV store
	kvLoader, err := registrykv.Select(cfg.KVType)
	if err != nil {
		return nil, err
	}
	kvStore, err := kvLoader(config.WithContext(ctx, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize kv store: %w", err)
	}
	kvStore = kvmetrics.Wrap(kvStore)
	if cfg.CacheEnabled {
		kvStore, err = cached.Wrap(kvStore, cfg.CacheMaxCost, cfg.CacheTTL, "user:", "phone:")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize record cache: %w", err)
		}
	}

	// Roster subsystems
	index := roster.NewIndex(kvStore)
	nav := roster.NewNavigator(index, cfg.PageSize, cfg.SessionTTL)
	exporter := roster.NewExporter(index, cfg.ExportBatchSize)
	limiter := ratelimit.New(kvStore, cfg.RateWindow, cfg.RateCap, cfg.RatePenalty, cfg.AdminIDList())

	// Telegram transport and update handler
	client := telegram.NewClient(cfg.BotToken, cfg.TelegramBaseURL)
	handler := bot.New(client, kvStore, index, nav, limiter, cfg.AdminIDList(), cfg.PendingStateTTL)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	router.Use(security.MetricsMiddleware())

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Mount the webhook and export routes now that the subsystems exist.
	webhook.MountRoutes(ctx, router, cfg, handler)
	exportroute.MountRoutes(router, cfg, exporter)

	// Mount management route plugins. If a dedicated management port is
	// configured, run them on a bare gin engine served by the management
	// server. Otherwise, mount them on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		closeManagement, err = startListener(cfg.ManagementListener, mgmtRouter, "management")
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Listener.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "err", err)
		}
	}()

	log.Info("Server listening", "port", cfg.Listener.Port)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		KV:              kvStore,
		Router:          router,
		httpServer:      httpServer,
		closeManagement: closeManagement,
	}, nil
}

func startListener(lc config.ListenerConfig, handler http.Handler, name string) (func(context.Context) error, error) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", lc.Port),
		Handler:           handler,
		ReadHeaderTimeout: lc.ReadHeaderTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "listener", name, "err", err)
		}
	}()
	log.Info("Server listening", "listener", name, "port", lc.Port)
	return srv.Shutdown, nil
}
