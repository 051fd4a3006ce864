// Package api exposes the relay agent's HTTP surface.
//
// The agent fronts one embedded pipeline client: local processes post
// events and profile updates here and the agent stamps, buffers, and
// delivers them like any in-process SDK usage. Every mutating route sits
// behind the HMAC API-key middleware.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perimetric/beacon"
	"github.com/perimetric/beacon/internal/core/auth"
	"github.com/perimetric/beacon/internal/types"
)

// Service bridges HTTP handlers to the pipeline client.
type Service struct {
	client *beacon.Client
	logger *slog.Logger
}

// NewService creates the relay service over an initialized client.
func NewService(client *beacon.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, logger: logger}
}

// Router builds the gin engine with authentication on every route except
// the health check.
func (s *Service) Router(authenticator *auth.Authenticator) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)

	authorized := router.Group("/", authenticator.Middleware())
	authorized.POST("/track", s.handleTrack)
	authorized.POST("/engage", s.handleEngage)
	authorized.POST("/flush", s.handleFlush)
	authorized.POST("/identify", s.handleIdentify)
	authorized.GET("/decide", s.handleDecide)

	return router
}

func (s *Service) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type trackRequest struct {
	Event      string           `json:"event" binding:"required"`
	Properties types.Properties `json:"properties"`
}

func (s *Service) handleTrack(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event name required"})
		return
	}

	if err := s.client.Track(req.Event, req.Properties); err != nil {
		// Degraded storage still accepted the record in memory; the relay
		// reports acceptance rather than bouncing the caller.
		s.logger.Warn("track degraded to in-memory hold", "event", req.Event, "error", err)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

type engageRequest struct {
	Properties types.Properties `json:"properties" binding:"required"`
}

func (s *Service) handleEngage(c *gin.Context) {
	var req engageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "properties required"})
		return
	}

	if err := s.client.PeopleSet(req.Properties); err != nil {
		s.logger.Warn("engage degraded to in-memory hold", "error", err)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Service) handleFlush(c *gin.Context) {
	s.client.Flush()
	c.JSON(http.StatusAccepted, gin.H{"status": "flush requested"})
}

type identifyRequest struct {
	DistinctID string `json:"distinct_id" binding:"required"`
}

func (s *Service) handleIdentify(c *gin.Context) {
	var req identifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "distinct_id required"})
		return
	}

	s.client.Identify(req.DistinctID)
	c.JSON(http.StatusOK, gin.H{"status": "identified"})
}

// handleDecide refreshes server-pushed configuration and reports whether
// unseen updates are pending for the current identity.
func (s *Service) handleDecide(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := s.client.ReloadDecide(ctx); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "decide fetch failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"updates_available": s.client.HasUpdatesAvailable(),
	})
}
