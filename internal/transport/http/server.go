// Package webhttp exposes the read-only observability API: tick status, the
// active rule snapshot, persisted positions, realized performance and the
// event audit trail.
package webhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dipbot/internal/logger"
	"dipbot/internal/rules"
	"dipbot/internal/store/eventlog"
	"dipbot/internal/store/gormstore"
	"dipbot/internal/tick"
)

// Server hosts the JSON API.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the server's dependencies.
type ServerConfig struct {
	Addr     string
	Manager  *tick.Manager
	Registry *rules.Registry
	States   *gormstore.Store
	Events   *eventlog.Store
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Manager == nil || cfg.Registry == nil {
		return nil, errors.New("http server requires the tick manager and rule registry")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := NewRouter(cfg.Manager, cfg.Registry, cfg.States, cfg.Events)
	api.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled or ListenAndServe fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
