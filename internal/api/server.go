// Package api serves stored benchmark runs over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"covbench/internal"
	"covbench/ports"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Server is the read-only results API.
type Server struct {
	router  *gin.Engine
	results *ResultsHandler
	logger  *internal.Logger
}

// NewServer wires the routes. metrics may be nil, in which case /metrics is not
// served.
func NewServer(reader ports.ResultsReader, metrics http.Handler, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	s := &Server{
		router:  gin.New(),
		results: NewResultsHandler(reader, logger),
		logger:  logger,
	}
	s.setupMiddleware()
	s.setupRoutes(metrics)
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("[API] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	})
}

func (s *Server) setupRoutes(metrics http.Handler) {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	runs := s.router.Group("/runs")
	runs.GET("", s.results.ListRuns)
	runs.GET("/:id", s.results.GetRun)
	runs.GET("/:id/report", s.results.GetReport)

	if metrics != nil {
		s.router.GET("/metrics", gin.WrapH(metrics))
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("[API] Listening on %s", addr)
	err := Serve(ctx, srv)
	s.logger.Info("[API] Shut down")
	return err
}

// Serve runs srv until ctx is cancelled or the listener fails. Cancellation
// shuts srv down gracefully and is not an error.
func Serve(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
