package ingest

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"leadflow/internal/constants"
	"leadflow/internal/logger"
	"leadflow/pkg/errors"
	"leadflow/pkg/models"
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
	apiKeys map[string]struct{}
}

func NewHandler(service *Service, apiKeys []string, log logger.Logger) *Handler {
	keys := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = struct{}{}
	}
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
		apiKeys: keys,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/adplatform", h.ReceiveAdPlatform)
		webhooks.POST("/crm", h.ReceiveCRM)
		webhooks.POST("/form", h.ReceiveForm)
	}

	v1 := router.Group("/api/v1")
	{
		leads := v1.Group("/leads", h.requireAPIKey())
		{
			leads.POST("", h.ReceiveDirect)
		}
	}
}

// AcceptedResponse is returned when a lead clears admission and is
// durably queued.
type AcceptedResponse struct {
	QueueItemID   string `json:"queue_item_id"`
	LeadID        string `json:"lead_id"`
	TenantID      string `json:"tenant_id"`
	PriorityClass string `json:"priority_class"`
	NotBefore     string `json:"not_before"`
}

func (h *Handler) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(constants.APIKeyHeader)
		if _, ok := h.apiKeys[key]; key == "" || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errors.ToErrorResponse(errors.ErrUnauthorized))
			return
		}
		c.Next()
	}
}

// ReceiveAdPlatform godoc
// @Summary      Receive an ad-platform lead
// @Description  Accept a raw ad-platform webhook payload and admit it into the pipeline
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Success      202  {object}  AcceptedResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      422  {object}  errors.ErrorResponse
// @Failure      429  {object}  errors.ErrorResponse
// @Router       /webhooks/adplatform [post]
func (h *Handler) ReceiveAdPlatform(c *gin.Context) {
	h.receive(c, models.SourceAdPlatform)
}

// ReceiveCRM godoc
// @Summary      Receive a CRM lead
// @Description  Accept a raw CRM export payload and admit it into the pipeline
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Success      202  {object}  AcceptedResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      422  {object}  errors.ErrorResponse
// @Failure      429  {object}  errors.ErrorResponse
// @Router       /webhooks/crm [post]
func (h *Handler) ReceiveCRM(c *gin.Context) {
	h.receive(c, models.SourceCRM)
}

// ReceiveForm godoc
// @Summary      Receive a web-form lead
// @Description  Accept a raw web-form submission payload and admit it into the pipeline
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Success      202  {object}  AcceptedResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      422  {object}  errors.ErrorResponse
// @Failure      429  {object}  errors.ErrorResponse
// @Router       /webhooks/form [post]
func (h *Handler) ReceiveForm(c *gin.Context) {
	h.receive(c, models.SourceForm)
}

// ReceiveDirect godoc
// @Summary      Submit a lead in canonical form
// @Description  Accept a canonical lead event directly, authorized by API key
// @Tags         leads
// @Accept       json
// @Produce      json
// @Param        X-API-Key  header  string  true  "API key"
// @Success      202  {object}  AcceptedResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      401  {object}  errors.ErrorResponse
// @Failure      422  {object}  errors.ErrorResponse
// @Failure      429  {object}  errors.ErrorResponse
// @Router       /leads [post]
func (h *Handler) ReceiveDirect(c *gin.Context) {
	h.receive(c, models.SourceDirectAPI)
}

func (h *Handler) receive(c *gin.Context, source models.Source) {
	ctx := c.Request.Context()

	if err := h.Service.CheckIP(ctx, c.ClientIP()); err != nil {
		h.HandleError(c, err)
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	item, err := h.Service.Submit(ctx, source, raw)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, AcceptedResponse{
		QueueItemID:   item.ID,
		LeadID:        item.Lead.ID,
		TenantID:      item.Lead.TenantID,
		PriorityClass: item.PriorityClass.String(),
		NotBefore:     item.NotBefore.UTC().Format(timeFormat),
	})
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"
