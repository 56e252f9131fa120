// Package web exposes the latest poll snapshot over a small read-only HTTP
// API, plus an endpoint to request an update cycle right now.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fuelwatch/internal/coordinator"
)

// Server bundles router and dependencies for the status API.
type Server struct {
	addr   string
	coord  *coordinator.Coordinator
	engine *gin.Engine
	logger zerolog.Logger
}

// New constructs a server with routes registered.
func New(addr string, coord *coordinator.Coordinator, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		addr:   addr,
		coord:  coord,
		engine: engine,
		logger: logger.With().Str("component", "web").Logger(),
	}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	v1 := s.engine.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/result", s.handleResult)
	v1.POST("/refresh", s.handleRefresh)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.coord.Snapshot()

	failures := make([]gin.H, 0, len(snap.Failures))
	for _, f := range snap.Failures {
		entry := gin.H{"retailer": f.Retailer}
		if f.Err != nil {
			entry["error"] = f.Err.Error()
		}
		failures = append(failures, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"state":         snap.State.String(),
		"degraded":      snap.Degraded,
		"last_error":    snap.LastError,
		"last_success":  snap.LastSuccess,
		"resolved":      snap.Resolved,
		"feed_failures": failures,
	})
}

func (s *Server) handleResult(c *gin.Context) {
	snap := s.coord.Snapshot()
	if snap.Result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result yet", "last_error": snap.LastError})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"degraded": snap.Degraded,
		"result":   snap.Result,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	err := s.coord.TryRunCycle(c.Request.Context())
	switch {
	case errors.Is(err, coordinator.ErrCycleInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"state": s.coord.Snapshot().State.String()})
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("status API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
