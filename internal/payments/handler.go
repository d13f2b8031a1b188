package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apphttp "storefront_backend/internal/http"
	"storefront_backend/internal/orders"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/httpkit"
	"storefront_backend/platform/logger"
)

const maxNotifyBody = 64 << 10

// notification carries the fields the gateway posts on status changes.
type notification struct {
	TransactionID string `json:"cpm_trans_id"`
	SiteID        string `json:"cpm_site_id"`
}

// Handler exposes the checkout redirect and the gateway callback.
type Handler struct {
	service *Service
	gateway Gateway
	orders  OrderStore
	log     *logger.Logger
}

// NewHandler creates the payments HTTP handler.
func NewHandler(service *Service, gateway Gateway, store OrderStore, log *logger.Logger) *Handler {
	return &Handler{service: service, gateway: gateway, orders: store, log: log}
}

// Name returns the module identifier.
func (h *Handler) Name() string { return "payments" }

// RegisterRoutes mounts the public payment routes.
func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Engine.GET("/pay/:orderID", h.HandlePay)
	ctx.V1.POST("/payments/notify", h.HandleNotify)
}

// HandlePay redirects the customer to the gateway checkout for an order.
// GET /pay/:orderID
func (h *Handler) HandlePay(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderID"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid order ID", nil)
		return
	}

	order, err := h.orders.GetOrderByID(c.Request.Context(), orderID)
	if httpkit.HandleError(c, err) {
		return
	}
	if order.PaymentMethod != orders.PaymentOnline || order.Status != orders.StatusPending {
		httpkit.HandleError(c, apperr.Gone("order is not awaiting payment"))
		return
	}

	target := order.PaymentURL
	if target == "" {
		target, err = h.service.StartCheckout(c.Request.Context(), order)
		if err != nil {
			h.log.Error("payment gateway error", "orderId", orderID, "error", err)
			httpkit.HandleError(c, apperr.Unavailable("payment is temporarily unavailable"))
			return
		}
	}
	c.Redirect(http.StatusFound, target)
}

// HandleNotify receives gateway notifications. The payload is only trusted to
// name a transaction; its status is always re-read from the gateway.
// POST /api/v1/payments/notify
func (h *Handler) HandleNotify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotifyBody))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if !h.gateway.VerifySignature(body, c.GetHeader("x-token")) {
		httpkit.Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	n, ok := parseNotification(body)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "invalid notification", nil)
		return
	}
	if h.gateway.SiteID() != "" && n.SiteID != h.gateway.SiteID() {
		httpkit.Error(c, http.StatusBadRequest, "invalid site", nil)
		return
	}

	orderID, err := uuid.Parse(n.TransactionID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unknown transaction", nil)
		return
	}

	ctx := c.Request.Context()
	order, err := h.orders.GetOrderByID(ctx, orderID)
	if httpkit.HandleError(c, err) {
		return
	}

	status, err := h.service.Refresh(ctx, order)
	if err != nil {
		h.log.Error("payment gateway error", "orderId", orderID, "error", err)
		httpkit.HandleError(c, apperr.Unavailable("payment status unavailable"))
		return
	}
	httpkit.OK(c, gin.H{"status": status})
}

func parseNotification(body []byte) (notification, bool) {
	var n notification
	if err := json.Unmarshal(body, &n); err == nil && n.TransactionID != "" {
		return n, true
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return notification{}, false
	}
	n = notification{TransactionID: form.Get("cpm_trans_id"), SiteID: form.Get("cpm_site_id")}
	return n, n.TransactionID != ""
}

var _ apphttp.Module = (*Handler)(nil)
