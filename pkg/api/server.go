// Package api exposes the orchestrator's observable surface over HTTP:
// pipeline CRUD, event snapshots and a live SSE event stream.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appforge/appforge/pkg/config"
	"github.com/appforge/appforge/pkg/models"
	"github.com/appforge/appforge/pkg/orchestrator"
	"github.com/appforge/appforge/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	orch       *orchestrator.Orchestrator
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		router: gin.New(),
		cfg:    cfg,
		orch:   orch,
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	v1 := s.router.Group("/api/v1")
	v1.GET("/pipelines", s.listPipelinesHandler)
	v1.POST("/pipelines", s.launchHandler)
	v1.GET("/pipelines/:id", s.getPipelineHandler)
	v1.GET("/pipelines/:id/events", s.eventsHandler)
	v1.POST("/pipelines/:id/kill", s.killHandler)
	v1.POST("/pipelines/:id/modify", s.modifyHandler)
	v1.DELETE("/pipelines/:id", s.deleteHandler)
	v1.GET("/events/stream", s.streamHandler)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": version.Full(),
		"pipelines": gin.H{
			"total":   len(s.orch.ListPipelines()),
			"running": s.orch.RunningCount(),
		},
		"capabilities": gin.H{
			"repo":   s.cfg.RepoEnabled(),
			"deploy": s.cfg.DeployEnabled(),
			"skills": s.cfg.SkillsURL != "",
		},
	})
}

// launchRequest is the POST /pipelines body.
type launchRequest struct {
	Description string              `json:"description" binding:"required"`
	Name        string              `json:"name"`
	Attachments []models.Attachment `json:"attachments"`
}

func (s *Server) launchHandler(c *gin.Context) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pipeline, err := s.orch.LaunchIdea(req.Description, req.Name, req.Attachments)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, pipeline)
}

func (s *Server) listPipelinesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pipelines": s.orch.ListPipelines()})
}

func (s *Server) getPipelineHandler(c *gin.Context) {
	pipeline, err := s.orch.GetPipeline(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pipeline)
}

func (s *Server) eventsHandler(c *gin.Context) {
	pipeline, err := s.orch.GetPipeline(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": pipeline.Events})
}

func (s *Server) killHandler(c *gin.Context) {
	if err := s.orch.KillPipeline(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "killed"})
}

// modifyRequest is the POST /pipelines/:id/modify body.
type modifyRequest struct {
	Instructions string              `json:"instructions" binding:"required"`
	Attachments  []models.Attachment `json:"attachments"`
}

func (s *Server) modifyHandler(c *gin.Context) {
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.orch.ModifyPipeline(c.Param("id"), req.Instructions, req.Attachments); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "modifying"})
}

func (s *Server) deleteHandler(c *gin.Context) {
	if err := s.orch.DeletePipeline(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// streamHandler serves the live event stream as Server-Sent Events.
// An optional pipeline_id query parameter restricts the feed.
func (s *Server) streamHandler(c *gin.Context) {
	sub := s.orch.Subscribe(c.Query("pipeline_id"))
	defer s.orch.Unsubscribe(sub.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Heartbeat keeps intermediaries from closing an idle stream.
	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("pipeline", evt)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// abortWithError maps orchestrator sentinel errors to HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrNotTerminal), errors.Is(err, orchestrator.ErrRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
