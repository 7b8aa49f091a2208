package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/campusmesh/internal/config"
	"github.com/vovakirdan/campusmesh/internal/core"
)

// NewServer builds the relay HTTP server. gatherer may be nil, in which case
// /metrics is not mounted.
func NewServer(hub *core.Hub, cfg config.Config, logger *zerolog.Logger, gatherer prometheus.Gatherer) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(hub, cfg, logger, gatherer),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter wires all relay routes. /ws is served from a plain ServeMux
// because gin's response writer cannot be hijacked once wrapped; every other
// path goes through the gin engine.
func NewRouter(hub *core.Hub, cfg config.Config, logger *zerolog.Logger, gatherer prometheus.Gatherer) stdhttp.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	presence := NewPresenceHandlers(hub.Registry())
	api := router.Group("/api")
	api.GET("/presence", presence.List)

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, logger, WSOptions{
		MaxMessageBytes: cfg.MaxMessageBytes,
		EventBuffer:     cfg.EventBuffer,
	}))
	mux.Handle("/", router)
	return mux
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
