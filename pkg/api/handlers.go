package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raycarroll/edgefleet/pkg/engine"
	"github.com/raycarroll/edgefleet/pkg/lifecycle"
	"github.com/raycarroll/edgefleet/pkg/models"
	"github.com/raycarroll/edgefleet/pkg/router"
	"github.com/raycarroll/edgefleet/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

type snapshotResponse struct {
	Nodes          []models.Node          `json:"nodes"`
	Workloads      []store.WorkloadView   `json:"workloads"`
	SecurityEvents []models.SecurityEvent `json:"security_events"`
	Connection     router.ConnStatus      `json:"connection"`
}

type nodeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connection": s.fleet.Conn().State})
}

func (s *Server) snapshot(c *gin.Context) {
	v, err := s.fleet.View(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotResponse{
		Nodes:          v.Snapshot.Nodes,
		Workloads:      v.Snapshot.WorkloadViews(),
		SecurityEvents: v.Snapshot.SecurityEvents,
		Connection:     s.fleet.Conn(),
	})
}

func (s *Server) workloads(c *gin.Context) {
	v, err := s.fleet.View(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	views := v.Snapshot.WorkloadViews()
	if status := c.Query("status"); status != "" {
		want, err := models.ParseWorkloadStatus(status)
		if err != nil {
			s.fail(c, err)
			return
		}
		filtered := views[:0]
		for _, w := range views {
			if w.Status == want {
				filtered = append(filtered, w)
			}
		}
		views = filtered
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) analytics(c *gin.Context) {
	r, err := s.fleet.Analytics(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) history(c *gin.Context) {
	samples := s.fleet.History(c.Param("id"))
	if samples == nil {
		samples = []models.MetricSample{}
	}
	c.JSON(http.StatusOK, samples)
}

func (s *Server) connection(c *gin.Context) {
	c.JSON(http.StatusOK, s.fleet.Conn())
}

func (s *Server) notifications(c *gin.Context) {
	n := s.fleet.Notifications()
	if n == nil {
		n = []router.Notification{}
	}
	c.JSON(http.StatusOK, n)
}

func (s *Server) audit(c *gin.Context) {
	a := s.fleet.Audit()
	if a == nil {
		a = []models.TransitionRecord{}
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) command(fn func(Fleet, context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := fn(s.fleet, c.Request.Context(), id); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "status": "accepted"})
	}
}

func (s *Server) setNodeStatus(c *gin.Context) {
	var req nodeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	id := c.Param("id")
	if err := s.fleet.SetNodeStatus(c.Request.Context(), id, models.NodeStatus(req.Status)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

func (s *Server) refresh(c *gin.Context) {
	if err := s.fleet.Refresh(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.log.Warn("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(code, errorResponse{Error: err.Error()})
}

// statusCode maps engine errors onto HTTP status codes.
func statusCode(err error) int {
	var (
		invalidNode     models.ErrInvalidNode
		invalidWorkload models.ErrInvalidWorkload
	)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.As(err, &invalidNode), errors.As(err, &invalidWorkload):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrDisposed),
		errors.Is(err, lifecycle.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
