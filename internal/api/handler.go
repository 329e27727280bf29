package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"order-gateway/internal/engine"
	"order-gateway/internal/events"
	"order-gateway/internal/monitor"
)

// Server wires HTTP endpoints around the gateway and its event bus.
type Server struct {
	Router    *gin.Engine
	Gateway   engine.Service
	Bus       *events.Bus
	Metrics   *monitor.GatewayMetrics
	JWTSecret string
	Log       *zap.Logger
}

// Options configures NewServer.
type Options struct {
	Gateway   engine.Service
	Bus       *events.Bus
	Metrics   *monitor.GatewayMetrics
	Log       *zap.Logger
	JWTSecret string // empty disables auth on order entry
	RateLimit float64
	RateBurst int
}

func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())        // Panic recovery (first)
	r.Use(RequestIDMiddleware()) // Request ID tracking
	r.Use(RequestLogger(log))    // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(opts.RateLimit, opts.RateBurst))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Gateway:   opts.Gateway,
		Bus:       opts.Bus,
		Metrics:   opts.Metrics,
		JWTSecret: opts.JWTSecret,
		Log:       log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", s.getPromMetrics)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/session", s.getSession)
		api.GET("/status", s.getStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/orders", s.listPending)
		api.GET("/orders/:id", s.getPending)
		api.GET("/inflight", s.listInFlight)
		api.GET("/responses", s.listResponses)

		// Order entry
		entry := api.Group("")
		if s.JWTSecret != "" {
			entry.Use(AuthMiddleware(s.JWTSecret))
		}
		{
			entry.POST("/orders", s.submitNew)
			entry.PUT("/orders/:id", s.modifyOrder)
			entry.DELETE("/orders/:id", s.cancelOrder)
			entry.POST("/requests", s.submitRequest)
			entry.PUT("/config", s.putConfig)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests for up to five seconds.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return <-errCh
}
