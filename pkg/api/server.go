// Package api serves the read views and commands of the engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raycarroll/edgefleet/pkg/analytics"
	"github.com/raycarroll/edgefleet/pkg/engine"
	"github.com/raycarroll/edgefleet/pkg/logger"
	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/router"
)

const shutdownTimeout = 5 * time.Second

// Fleet is the engine surface served over HTTP. *engine.Engine satisfies it.
type Fleet interface {
	View(ctx context.Context) (engine.View, error)
	Analytics(ctx context.Context) (analytics.Report, error)
	History(nodeID string) []models.MetricSample
	Conn() router.ConnStatus
	Notifications() []router.Notification
	Audit() []models.TransitionRecord

	Start(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	ForceComplete(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	SetNodeStatus(ctx context.Context, id string, status models.NodeStatus) error
	Refresh(ctx context.Context) error
}

// Server routes HTTP requests to the fleet.
type Server struct {
	fleet    Fleet
	gatherer prometheus.Gatherer
	router   *gin.Engine
	log      *logger.PrefixLogger
}

// New builds the route table. A nil gatherer disables /metrics.
func New(fleet Fleet, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		fleet:    fleet,
		gatherer: gatherer,
		router:   gin.New(),
		log:      logger.WithPrefix("[api] "),
	}
	s.router.Use(gin.Recovery(), s.accessLog)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.healthz)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")
	v1.GET("/snapshot", s.snapshot)
	v1.GET("/workloads", s.workloads)
	v1.GET("/analytics", s.analytics)
	v1.GET("/nodes/:id/history", s.history)
	v1.GET("/connection", s.connection)
	v1.GET("/notifications", s.notifications)
	v1.GET("/audit", s.audit)

	v1.POST("/workloads/:id/start", s.command(Fleet.Start))
	v1.POST("/workloads/:id/cancel", s.command(Fleet.Cancel))
	v1.POST("/workloads/:id/complete", s.command(Fleet.ForceComplete))
	v1.POST("/workloads/:id/stop", s.command(Fleet.Stop))
	v1.POST("/workloads/:id/restart", s.command(Fleet.Restart))
	v1.PUT("/nodes/:id/status", s.setNodeStatus)
	v1.POST("/refresh", s.refresh)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}
