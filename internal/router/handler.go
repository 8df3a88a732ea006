package router

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hub/internal/deadletter"
	"hub/internal/logger"
	"hub/internal/store"
	"hub/internal/transform"
	"hub/pkg/cel"
	"hub/pkg/errors"
	"hub/pkg/models"
)

type Handler struct {
	service    *Service
	engine     *transform.Engine
	deadLetter *deadletter.Manager
	store      *store.Store
	logger     logger.Logger
}

func NewHandler(service *Service, engine *transform.Engine, dlm *deadletter.Manager, s *store.Store, log logger.Logger) *Handler {
	return &Handler{
		service:    service,
		engine:     engine,
		deadLetter: dlm,
		store:      s,
		logger:     log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		messages := v1.Group("/messages")
		{
			messages.POST("", h.RouteMessage)
			messages.GET("", h.ListMessages)
			messages.GET("/:id", h.GetMessage)
		}

		transformations := v1.Group("/transformations")
		{
			transformations.GET("", h.ListTransformations)
			transformations.POST("", h.CreateTransformation)
			transformations.POST("/preview", h.PreviewTransformation)
		}

		deadLetters := v1.Group("/dead-letters")
		{
			deadLetters.GET("", h.ListDeadLetters)
			deadLetters.GET("/stats", h.DeadLetterStats)
			deadLetters.POST("/reprocess", h.BulkReprocess)
			deadLetters.POST("/:id/reprocess", h.Reprocess)
		}

		connectors := v1.Group("/connectors")
		{
			connectors.GET("", h.ListConnectors)
			connectors.POST("", h.CreateConnector)
			connectors.GET("/:code", h.GetConnector)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) RouteMessage(c *gin.Context) {
	var req models.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	result := h.service.RouteMessage(c.Request.Context(), &req)
	c.JSON(routeStatusCode(result), result)
}

// routeStatusCode maps a routing outcome to an HTTP status. Accepted
// messages are 200 regardless of how far they got; rejections reuse the
// error code's canonical status.
func routeStatusCode(result *models.RouteResult) int {
	if result.MessageID != "" || result.Duplicate {
		return http.StatusOK
	}
	switch result.Error {
	case errors.ErrValidation.Code:
		return http.StatusBadRequest
	case errors.ErrNotFound.Code:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) GetMessage(c *gin.Context) {
	msg, err := h.store.Messages.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) ListMessages(c *gin.Context) {
	filter := store.MessageFilter{
		Status:    models.MessageStatus(c.Query("status")),
		Connector: c.Query("connector"),
		Type:      c.Query("type"),
		Limit:     queryInt(c, "limit", 50),
		Offset:    queryInt(c, "offset", 0),
	}

	msgs, err := h.store.Messages.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	total, err := h.store.Messages.Count(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": msgs, "total": total})
}

func (h *Handler) ListTransformations(c *gin.Context) {
	rules, err := h.store.Transformations.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *Handler) CreateTransformation(c *gin.Context) {
	var rule models.IntegrationTransformation
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	if err := h.engine.ValidateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, invalidRuleResponse(err))
		return
	}

	if err := h.store.Transformations.Create(c.Request.Context(), &rule); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// PreviewRequest runs an unpersisted rule against a sample payload.
type PreviewRequest struct {
	Transformation models.IntegrationTransformation `json:"transformation" binding:"required"`
	Payload        map[string]interface{}           `json:"payload" binding:"required"`
}

func (h *Handler) PreviewTransformation(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	if err := h.engine.ValidateRule(&req.Transformation); err != nil {
		c.JSON(http.StatusBadRequest, invalidRuleResponse(err))
		return
	}

	result := h.engine.Apply(c.Request.Context(), &req.Transformation, req.Payload)
	c.JSON(http.StatusOK, result)
}

// invalidRuleResponse rejects a transformation with working computed-field
// examples alongside the validation error.
func invalidRuleResponse(err error) gin.H {
	return gin.H{
		"error":    "invalid transformation",
		"details":  err.Error(),
		"examples": cel.ComputedFieldExamples,
	}
}

func (h *Handler) ListDeadLetters(c *gin.Context) {
	filter := store.DeadLetterFilter{
		Connector:      c.Query("connector"),
		Reason:         c.Query("reason"),
		RetryableOnly:  c.Query("retryable") == "true",
		NotReprocessed: c.Query("pending") == "true",
		Limit:          queryInt(c, "limit", 50),
		Offset:         queryInt(c, "offset", 0),
	}

	items, err := h.deadLetter.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	total, err := h.store.DeadLetters.Count(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (h *Handler) DeadLetterStats(c *gin.Context) {
	stats, err := h.deadLetter.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Reprocess(c *gin.Context) {
	if err := h.deadLetter.Reprocess(c.Request.Context(), c.Param("id"), c.GetHeader("X-Actor-ID")); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reprocessed"})
}

type bulkReprocessRequest struct {
	Connector string `json:"connector"`
	Reason    string `json:"reason"`
	Limit     int    `json:"limit" binding:"omitempty,min=1"`
}

func (h *Handler) BulkReprocess(c *gin.Context) {
	var req bulkReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	result, err := h.deadLetter.BulkReprocess(c.Request.Context(), deadletter.BulkReprocessCriteria{
		Connector: req.Connector,
		Reason:    req.Reason,
		Limit:     req.Limit,
	}, c.GetHeader("X-Actor-ID"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListConnectors(c *gin.Context) {
	conns, err := h.store.Connectors.List(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conns)
}

func (h *Handler) GetConnector(c *gin.Context) {
	conn, err := h.store.Connectors.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connector not found"})
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (h *Handler) CreateConnector(c *gin.Context) {
	var conn models.IntegrationConnector
	if err := c.ShouldBindJSON(&conn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if conn.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connector code is required"})
		return
	}
	if conn.CircuitState == "" {
		conn.CircuitState = models.CircuitClosed
	}
	if conn.HealthStatus == "" {
		conn.HealthStatus = models.HealthHealthy
	}

	if err := h.store.Connectors.Create(c.Request.Context(), &conn); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
