// Package gateway exposes the HTTP surface: task and comment ingress, event
// ingest, and the read-only board/feed queries. Live delivery lives in
// gateway/websocket; the chat proxy in chatproxy.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/common/logger"
	"github.com/missionctl/missionctl/internal/ingest"
	"github.com/missionctl/missionctl/internal/metrics"
	"github.com/missionctl/missionctl/internal/store"
	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

// Default page sizes when the limit query parameter is absent.
const (
	defaultFeedLimit     = 50
	defaultFeedLiteLimit = 100
)

type Handlers struct {
	ingest *ingest.Service
	store  *store.Store
	logger *logger.Logger
}

func NewHandlers(svc *ingest.Service, st *store.Store, log *logger.Logger) *Handlers {
	return &Handlers{
		ingest: svc,
		store:  st,
		logger: log.WithComponent("gateway"),
	}
}

// RegisterRoutes mounts the REST surface. Health and metrics stay outside the
// auth gate so probes and scrapers need no token.
func RegisterRoutes(router *gin.Engine, svc *ingest.Service, st *store.Store, authToken string, log *logger.Logger) *Handlers {
	handlers := NewHandlers(svc, st, log)

	router.GET("/health", handlers.httpHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/v1", AuthMiddleware(authToken))
	api.POST("/tasks", handlers.httpCreateTask)
	api.GET("/boards/default", handlers.httpGetBoard)
	api.POST("/tasks/:task_id/comments", handlers.httpAddComment)
	api.POST("/events", handlers.httpIngestEvent)
	api.GET("/feed", handlers.httpGetFeed)
	api.GET("/feed-lite", handlers.httpGetFeedLite)

	return handlers
}

func (h *Handlers) httpHealth(c *gin.Context) {
	c.JSON(http.StatusOK, v1.Health{OK: true})
}

func (h *Handlers) httpCreateTask(c *gin.Context) {
	var req v1.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	task, err := h.ingest.CreateTask(c.Request.Context(), &req)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": verr.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) httpGetBoard(c *gin.Context) {
	board, err := h.store.ListBoard(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *Handlers) httpAddComment(c *gin.Context) {
	taskID := c.Param("task_id")

	var req v1.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	comment, err := h.ingest.AddComment(c.Request.Context(), taskID, &req)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("task not found: %s", taskID)})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

func (h *Handlers) httpIngestEvent(c *gin.Context) {
	var in v1.EventIn
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	event, err := h.ingest.Ingest(c.Request.Context(), &in)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": gin.H{"errors": verr.Errors}})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *Handlers) httpGetFeed(c *gin.Context) {
	feed, err := h.store.ListFeed(c.Request.Context(), limitParam(c, defaultFeedLimit))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

func (h *Handlers) httpGetFeedLite(c *gin.Context) {
	feed, err := h.store.ListFeedLite(c.Request.Context(), limitParam(c, defaultFeedLiteLimit))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

// fail logs the real error and returns an opaque 500. Internal detail never
// reaches the client.
func (h *Handlers) fail(c *gin.Context, err error) {
	h.logger.Error("request failed",
		zap.Error(err),
		zap.String("path", c.FullPath()))
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
}

func limitParam(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return limit
}
