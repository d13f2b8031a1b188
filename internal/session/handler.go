package session

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront_backend/internal/agents"
	apphttp "storefront_backend/internal/http"
	"storefront_backend/platform/httpkit"
)

// Owners checks that the caller owns an agent.
type Owners interface {
	GetOwned(ctx context.Context, agentID, userID uuid.UUID) (agents.Agent, error)
}

// Handler exposes the tenant session endpoints.
type Handler struct {
	manager *Manager
	owners  Owners
}

var _ apphttp.Module = (*Handler)(nil)

// NewHandler creates the session HTTP handler.
func NewHandler(manager *Manager, owners Owners) *Handler {
	return &Handler{manager: manager, owners: owners}
}

// Name returns the module identifier.
func (h *Handler) Name() string { return "session" }

// RegisterRoutes mounts the authenticated session routes.
func (h *Handler) RegisterRoutes(ctx *apphttp.RouterContext) {
	g := ctx.Protected.Group("/agents/:id/session")
	g.POST("/connect", h.HandleConnect)
	g.GET("", h.HandleStatus)
	g.DELETE("", h.HandleLogout)
}

// HandleConnect starts pairing or resumes the saved session.
// POST /api/v1/agents/:id/session/connect
func (h *Handler) HandleConnect(c *gin.Context) {
	agentID, ok := h.ownedAgent(c)
	if !ok {
		return
	}
	if err := h.manager.Connect(c.Request.Context(), agentID); httpkit.HandleError(c, err) {
		return
	}
	c.JSON(http.StatusAccepted, h.manager.Status(agentID))
}

// HandleStatus returns the session state, and the QR while pairing.
// GET /api/v1/agents/:id/session
func (h *Handler) HandleStatus(c *gin.Context) {
	agentID, ok := h.ownedAgent(c)
	if !ok {
		return
	}
	httpkit.OK(c, h.manager.Status(agentID))
}

// HandleLogout unlinks the device and wipes saved credentials.
// DELETE /api/v1/agents/:id/session
func (h *Handler) HandleLogout(c *gin.Context) {
	agentID, ok := h.ownedAgent(c)
	if !ok {
		return
	}
	if err := h.manager.Disconnect(c.Request.Context(), agentID); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ownedAgent(c *gin.Context) (uuid.UUID, bool) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return uuid.Nil, false
	}
	agentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid agent ID", nil)
		return uuid.Nil, false
	}
	if !httpkit.CanAccess(id, agentID) {
		httpkit.Error(c, http.StatusForbidden, "token is scoped to another agent", nil)
		return uuid.Nil, false
	}
	if _, err := h.owners.GetOwned(c.Request.Context(), agentID, id.UserID()); httpkit.HandleError(c, err) {
		return uuid.Nil, false
	}
	return agentID, true
}
