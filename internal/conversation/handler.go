package conversation

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apphttp "storefront_backend/internal/http"
	"storefront_backend/internal/whatsapp"
	"storefront_backend/platform/httpkit"
	"storefront_backend/platform/logger"
)

// InboundHandler processes one routed customer message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, in InboundMessage) error
}

// WebhookHandler receives bridge deliveries and hands messages to the
// pipeline in the background.
type WebhookHandler struct {
	pipeline InboundHandler
	secret   string
	log      *logger.Logger
	wg       sync.WaitGroup
}

var _ apphttp.Module = (*WebhookHandler)(nil)

// NewWebhookHandler creates the webhook handler. An empty secret disables
// signature checks.
func NewWebhookHandler(pipeline InboundHandler, secret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline, secret: secret, log: log.WithComponent("webhook")}
}

// Name returns the module identifier.
func (h *WebhookHandler) Name() string { return "whatsapp-webhook" }

// RegisterRoutes mounts the public webhook route.
func (h *WebhookHandler) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/whatsapp/webhook", h.HandleWebhook)
}

// HandleWebhook verifies and routes one delivery.
// POST /api/v1/whatsapp/webhook
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unreadable body", nil)
		return
	}
	if !whatsapp.VerifySignature(h.secret, body, c.GetHeader(whatsapp.SignatureHeader)) {
		httpkit.Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	in, err := whatsapp.ParseInbound(body)
	if errors.Is(err, whatsapp.ErrIgnoredEvent) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	// Devices are registered under the agent id.
	agentID, err := uuid.Parse(in.DeviceID)
	if err != nil {
		h.log.Warn("webhook for unknown device", "deviceId", in.DeviceID)
		c.Status(http.StatusNoContent)
		return
	}

	msg := InboundMessage{AgentID: agentID, Inbound: in}
	ctx := context.WithoutCancel(c.Request.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.pipeline.HandleInbound(ctx, msg); err != nil {
			h.log.WithAgent(agentID.String()).Error("inbound message failed", "messageId", msg.ProviderMessageID, "error", err)
		}
	}()
	c.Status(http.StatusAccepted)
}

// Wait blocks until in-flight messages are processed.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}
