package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	core "github.com/forgefleet/orchestrator/internal/core/service"
	"github.com/forgefleet/orchestrator/internal/metrics"
	"github.com/forgefleet/orchestrator/internal/orchestrator"
	"github.com/forgefleet/orchestrator/pkg/logger"
)

// Server is the HTTP ingress component: a gin.Engine router fronted by
// auth and rate-limit middleware, backed entirely by the Orchestrator
// Facade. It implements internal/system.Service so the process manager can
// start and stop it alongside every other long-lived component.
type Server struct {
	addr   string
	engine *gin.Engine
	http   *http.Server
	log    *logger.Logger
}

// Options configures the HTTP surface.
type Options struct {
	Addr            string
	JWTSigningKey   string
	RateLimitPerSec int
	RateLimitBurst  int
}

// New builds the router and registers every route. orch is the single
// Facade the whole surface delegates to; log defaults to a stdout logger
// named "httpapi" when nil.
func New(orch *orchestrator.Orchestrator, opts Options, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))

	limiter := newLimiterSet(opts.RateLimitPerSec, opts.RateLimitBurst)
	engine.Use(limiter.middleware())
	engine.Use(requireAuth(opts.JWTSigningKey, log))

	h := &handlers{orch: orch, log: log}
	registerRoutes(engine, h)

	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &Server{
		addr:   addr,
		engine: engine,
		log:    log,
		http:   &http.Server{Addr: addr, Handler: engine},
	}
}

func registerRoutes(engine *gin.Engine, h *handlers) {
	engine.GET("/healthz", h.healthz)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	subjects := engine.Group("/subjects")
	{
		subjects.GET("", h.listSubjects)
		subjects.GET("/:name", h.getSubject)
		subjects.POST("/:name/start", h.startSubject)
		subjects.POST("/:name/stop", h.stopSubject)
		subjects.POST("/:name/forceStop", h.forceStopSubject)
		subjects.POST("/:name/resetStats", h.resetStats)
		subjects.POST("/:name/rotateKey", h.rotateKey)
		subjects.POST("/:name/releaseKey", h.releaseKey)
		subjects.POST("/:name/scheduleEnabled", h.setScheduleEnabled)
		subjects.POST("/:name/reorder", h.reorder)
		subjects.POST("/:name/rename", h.rename)
		subjects.POST("/:name/showWindow", h.showWindow)
		subjects.POST("/:name/hideWindow", h.hideWindow)
		subjects.POST("/:name/sendMessage", h.sendMessage)
	}

	keypools := engine.Group("/keypools")
	{
		keypools.POST("/:pool/hold/:key", h.holdKey)
		keypools.POST("/:pool/unhold/:key", h.unholdKey)
	}

	engine.POST("/broadcastMessage", h.broadcastMessage)
	engine.GET("/events", h.events)
	engine.GET("/logs", h.recentLogs)
}

// requestLogger routes request logging through the shared logger instead
// of gin's default writer so every log line carries the same fields the
// rest of the process emits.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("duration", time.Since(start)).
			Debug("httpapi request")
	}
}

// Name identifies this component in the system manager's service registry.
func (s *Server) Name() string { return "httpapi" }

// Descriptor advertises this component's placement to internal/system's
// descriptor collection.
func (s *Server) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "httpapi",
		Domain:       "orchestrator",
		Layer:        core.LayerIngress,
		Capabilities: []string{"rest", "websocket", "metrics"},
	}
}

// Start begins serving in the background and returns once the listener is
// live or fails immediately.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("httpapi: listen %s: %w", s.addr, err)
	case <-time.After(50 * time.Millisecond):
		s.log.WithField("addr", s.addr).Info("httpapi listening")
		return nil
	}
}

// Stop gracefully drains in-flight requests, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
