package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
	"github.com/arterny/outboxed/internal/metrics"
	"github.com/arterny/outboxed/internal/service"
)

type Handlers struct {
	service *service.NotificationService
	logger  zerolog.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *service.NotificationService, logger *zerolog.Logger) *Handlers {
	return &Handlers{
		service: service,
		logger:  logger.With().Str("layer", "http_handler").Logger(),
	}
}

// RegisterRoutes sets up the routing for the notification API and the
// control-plane endpoints.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/notifications", h.CreateNotification)
		api.GET("/notifications/:id", h.GetNotificationByID)
		api.DELETE("/notifications/:id", h.CancelNotification)
		api.GET("/stats", h.Stats)
		api.POST("/trigger", h.TriggerProcessing)
	}
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// CreateNotification handles the HTTP request for creating a new notification.
func (h *Handlers) CreateNotification(c *gin.Context) {
	var req CreateNotificationRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn().Err(err).Msg("invalid request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	notification, err := h.service.CreateNotification(
		c.Request.Context(),
		req.UserID,
		req.Title,
		req.Message,
		model.Type(req.Type),
		toMethods(req.Methods),
		req.TriggerNow,
	)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateRecord) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Warn().Err(err).Msg("failed to create notification")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toNotificationResponse(notification))
}

// GetNotificationByID handles the HTTP request to retrieve a notification.
func (h *Handlers) GetNotificationByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid notification ID format"})
		return
	}

	notification, err := h.service.GetNotificationByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Stringer("id", id).Msg("failed to get notification by id")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to retrieve notification"})
		return
	}

	c.JSON(http.StatusOK, toNotificationResponse(notification))
}

// CancelNotification handles the HTTP request to cancel a notification.
func (h *Handlers) CancelNotification(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid notification ID format"})
		return
	}

	err = h.service.CancelNotification(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		if errors.Is(err, repo.ErrInvalidState) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "delivery already committed, cannot cancel"})
			return
		}

		h.logger.Error().Err(err).Stringer("id", id).Msg("failed to cancel notification")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to cancel notification"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Stats handles the HTTP request for aggregate delivery counts.
func (h *Handlers) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load stats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, toStatsResponse(stats))
}

// TriggerProcessing forces an immediate Claimer tick, useful for tests and
// low-latency dispatch.
func (h *Handlers) TriggerProcessing(c *gin.Context) {
	h.service.TriggerProcessing(c.Request.Context())
	c.Status(http.StatusAccepted)
}
