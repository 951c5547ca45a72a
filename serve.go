package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/eventvm/api/rest"
	"github.com/kasuganosora/eventvm/api/sse"
	apiws "github.com/kasuganosora/eventvm/api/ws"
	mw "github.com/kasuganosora/eventvm/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var flagPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control API and frame loop",
	Long: `Start the HTTP server and drive the event host at interpreter.frame_rate.

Event definitions are read from interpreter.events_dir and overlaid with
events stored through the control API. Switches, variables and
self-switches persist to the configured database.

Routes:
  GET  /health
  /api/admin/...            control API (X-Admin-Key)
  POST /api/stream/refresh  rotate a stream token
  GET  /sse                 server-sent bus events (?token=)
  GET  /ws                  WebSocket bus events and resumes (?token=)

Examples:
  eventvm serve
  eventvm serve --config ./prod.yaml --port 9000`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "Override server.port")
}

func runServe(cmd *cobra.Command, _ []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fatalf("%v", err)
	}
	if flagPort > 0 {
		cfg.Server.Port = flagPort
	}

	logger, err := newLogger(cfg.Server.Debug)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		logger.Warn("security.jwt_secret is not set; stream tokens are insecure")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fatalf("startup: %v", err)
	}
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(ctx, a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("Server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server", zap.Error(err))
		return
	}
	logger.Info("Server stopped")
}

func newRouter(ctx context.Context, a *app) *gin.Engine {
	cfg, logger := a.cfg, a.logger
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, "/health"), mw.Recovery(logger))
	r.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	streamAuth := mw.StreamAuth(cfg.Security, a.cache)
	tokens := apirest.NewTokenHandler(a.cache, cfg.Security)
	adminH := apirest.NewAdminHandler(a.host, a.state, a.store, a.journal, a.bus, a.sched, logger)

	api := r.Group("/api")
	{
		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPs), mw.AdminKey(cfg.Server.AdminKey))
		adminH.Register(adminG)
		adminG.POST("/stream-token", tokens.Issue)
		adminG.DELETE("/stream-token", tokens.Revoke)

		api.POST("/stream/refresh", streamAuth, tokens.Refresh)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(a.pubsub, a.bus, logger)
	r.GET("/sse", streamAuth, sseH.ServeSSE)

	// ---- WebSocket ----
	wsRouter := apiws.NewRouter(logger)
	apiws.NewEventHandlers(a.host).RegisterHandlers(wsRouter)
	wsH := apiws.NewHandler(a.pubsub, cfg.Security, wsRouter, logger)
	r.GET("/ws", streamAuth, wsH.ServeWS)

	return r
}
