package kadenbot

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// API provides a small status/health HTTP server. It's read-only and
// unauthenticated - it exposes liveness and a few relay counters, and
// nothing else.
type API struct {
	config     *APIConfig
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	bot        *KadenBot
}

// BotStatus is the response body for GET /status
type BotStatus struct {
	Version          string    `json:"version"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	GatewayConnected bool      `json:"gateway_connected"`
	MessagesSeen     int64     `json:"messages_seen"`
	RepliesSent      int64     `json:"replies_sent"`
	CompletionErrors int64     `json:"completion_errors"`
}

func newAPI(bot *KadenBot, config *APIConfig, logger *slog.Logger) *API {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	a := &API{
		config: config,
		logger: logger,
		engine: engine,
		bot:    bot,
		httpServer: &http.Server{
			Addr:         config.Listen,
			Handler:      engine,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}

	engine.GET("/healthz", a.getHealth)
	engine.GET("/status", a.getStatus)
	return a
}

func (a *API) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) getStatus(c *gin.Context) {
	c.JSON(
		http.StatusOK, BotStatus{
			Version:          Version,
			StartedAt:        a.bot.startedAt,
			UptimeSeconds:    time.Since(a.bot.startedAt).Seconds(),
			GatewayConnected: a.bot.discord.connected.Load(),
			MessagesSeen:     a.bot.metricMessagesSeen.Load(),
			RepliesSent:      a.bot.metricRepliesSent.Load(),
			CompletionErrors: a.bot.metricCompletionErrors.Load(),
		},
	)
}

// Serve runs the HTTP server until it fails or is shut down
func (a *API) Serve(_ context.Context) error {
	a.logger.Info("starting status api", "listen", a.config.Listen)
	return a.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server
func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}
