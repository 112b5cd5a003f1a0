package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"leadflow/internal/logger"
	"leadflow/pkg/errors"
)

type BaseHandler struct {
	Service *Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		q := v1.Group("/queue")
		{
			q.GET("/depth", h.GetQueueDepth)
			q.GET("/errors", h.GetErrorStats)
			q.DELETE("/items/:id", h.CancelItem)
		}

		tenants := v1.Group("/tenants")
		{
			tenants.GET("/:id/occupancy", h.GetTenantOccupancy)
		}

		dlq := v1.Group("/deadletters")
		{
			dlq.GET("", h.ListDeadLetters)
			dlq.GET("/:id", h.GetDeadLetter)
			dlq.POST("/:id/resolve", h.ResolveDeadLetter)
		}

		control := v1.Group("/control")
		{
			control.POST("/pause", h.Pause)
			control.POST("/resume", h.Resume)
			control.GET("/emergency", h.GetEmergencyStatus)
			control.POST("/emergency", h.TriggerEmergency)
			control.DELETE("/emergency", h.ClearEmergency)
		}

		audit := v1.Group("/audit")
		{
			audit.GET("/logs", h.GetAuditLogs)
		}
	}
}

// GetQueueDepth godoc
// @Summary      Queue depth by tenant and priority class
// @Description  Get pending item counts grouped by tenant and priority class
// @Tags         queue
// @Produce      json
// @Success      200  {array}   queue.DepthEntry
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /queue/depth [get]
func (h *Handler) GetQueueDepth(c *gin.Context) {
	entries, err := h.Service.QueueDepth(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetErrorStats godoc
// @Summary      Error counts by tenant and error kind
// @Description  Get counts of retrying and dead items grouped by tenant and error kind
// @Tags         queue
// @Produce      json
// @Success      200  {array}   queue.ErrorStat
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /queue/errors [get]
func (h *Handler) GetErrorStats(c *gin.Context) {
	stats, err := h.Service.ErrorStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// CancelItem godoc
// @Summary      Cancel a queued item
// @Description  Withdraw an item that has not been claimed yet
// @Tags         queue
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "Queue item ID"
// @Param        request  body  CancelRequest  true  "Cancellation context"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /queue/items/{id} [delete]
func (h *Handler) CancelItem(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.Service.CancelItem(c.Request.Context(), c.Param("id"), req); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetTenantOccupancy godoc
// @Summary      Tenant rate-limit occupancy
// @Description  Get current window usage, in-flight count, and budget spend for a tenant
// @Tags         tenants
// @Produce      json
// @Param        id   path      string  true  "Tenant ID"
// @Success      200  {object}  ratelimit.Occupancy
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /tenants/{id}/occupancy [get]
func (h *Handler) GetTenantOccupancy(c *gin.Context) {
	occ, err := h.Service.TenantOccupancy(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, occ)
}

// ListDeadLetters godoc
// @Summary      List dead-letter records
// @Description  List terminal failures, newest first, optionally filtered by tenant
// @Tags         deadletters
// @Produce      json
// @Param        tenant_id  query     string  false  "Tenant filter"
// @Param        limit      query     int     false  "Page size"
// @Param        offset     query     int     false  "Page offset"
// @Success      200  {object}  DeadLetterPage
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /deadletters [get]
func (h *Handler) ListDeadLetters(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "0"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	page, err := h.Service.ListDeadLetters(c.Request.Context(), c.Query("tenant_id"), limit, offset)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetDeadLetter godoc
// @Summary      Get a dead-letter record
// @Description  Get one terminal failure with its full attempt history
// @Tags         deadletters
// @Produce      json
// @Param        id   path      string  true  "Record ID"
// @Success      200  {object}  models.DeadLetterRecord
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /deadletters/{id} [get]
func (h *Handler) GetDeadLetter(c *gin.Context) {
	record, err := h.Service.GetDeadLetter(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// ResolveDeadLetter godoc
// @Summary      Resolve a dead-letter record
// @Description  Mark a terminal failure as reviewed; nothing is re-enqueued
// @Tags         deadletters
// @Accept       json
// @Produce      json
// @Param        id       path  string                    true  "Record ID"
// @Param        request  body  ResolveDeadLetterRequest  true  "Resolution context"
// @Success      204
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /deadletters/{id}/resolve [post]
func (h *Handler) ResolveDeadLetter(c *gin.Context) {
	var req ResolveDeadLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.Service.ResolveDeadLetter(c.Request.Context(), c.Param("id"), req); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Pause godoc
// @Summary      Pause dispatch
// @Description  Pause dispatch globally or for one tenant; idempotent
// @Tags         control
// @Accept       json
// @Produce      json
// @Param        request  body  PauseRequest  true  "Pause target and context"
// @Success      204
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /control/pause [post]
func (h *Handler) Pause(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.Service.Pause(c.Request.Context(), req); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Resume godoc
// @Summary      Resume dispatch
// @Description  Clear the global or per-tenant pause flag; idempotent
// @Tags         control
// @Accept       json
// @Produce      json
// @Param        request  body  PauseRequest  true  "Resume target and context"
// @Success      204
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /control/resume [post]
func (h *Handler) Resume(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.Service.Resume(c.Request.Context(), req); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetEmergencyStatus godoc
// @Summary      Emergency switch status
// @Description  Get the current emergency state, if any
// @Tags         control
// @Produce      json
// @Success      200  {object}  ratelimit.EmergencyState
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /control/emergency [get]
func (h *Handler) GetEmergencyStatus(c *gin.Context) {
	state, err := h.Service.EmergencyStatus(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// TriggerEmergency godoc
// @Summary      Activate emergency mode
// @Description  Activate drain or halt mode with a bounded duration
// @Tags         control
// @Accept       json
// @Produce      json
// @Param        request  body      EmergencyRequest  true  "Emergency mode parameters"
// @Success      200  {object}  ratelimit.EmergencyState
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /control/emergency [post]
func (h *Handler) TriggerEmergency(c *gin.Context) {
	var req EmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	state, err := h.Service.TriggerEmergency(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ClearEmergency godoc
// @Summary      Clear emergency mode
// @Description  Deactivate the emergency switch before its TTL elapses
// @Tags         control
// @Accept       json
// @Produce      json
// @Param        request  body  ClearEmergencyRequest  true  "Clear context"
// @Success      204
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /control/emergency [delete]
func (h *Handler) ClearEmergency(c *gin.Context) {
	var req ClearEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.Service.ClearEmergency(c.Request.Context(), req); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAuditLogs godoc
// @Summary      List control audit logs
// @Description  List control actions, newest first
// @Tags         audit
// @Produce      json
// @Param        limit   query     int  false  "Page size"
// @Param        offset  query     int  false  "Page offset"
// @Success      200  {array}   ControlAuditLog
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /audit/logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.Service.AuditLogs(c.Request.Context(), limit, offset)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if entries == nil {
		entries = []ControlAuditLog{}
	}
	c.JSON(http.StatusOK, entries)
}
