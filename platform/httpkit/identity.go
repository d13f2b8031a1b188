// Package httpkit provides the gin middleware and response helpers shared by
// the HTTP-facing modules.
package httpkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the dashboard user behind a request. A token may be scoped to
// a single agent; AgentID is uuid.Nil otherwise.
type Identity interface {
	UserID() uuid.UUID
	AgentID() uuid.UUID
	IsAuthenticated() bool
}

type identity struct {
	userID        uuid.UUID
	agentID       uuid.UUID
	authenticated bool
}

func (i *identity) UserID() uuid.UUID     { return i.userID }
func (i *identity) AgentID() uuid.UUID    { return i.agentID }
func (i *identity) IsAuthenticated() bool { return i.authenticated }

// CanAccess reports whether an agent-scoped token may act on agentID.
// Unscoped tokens defer to the ownership check.
func CanAccess(id Identity, agentID uuid.UUID) bool {
	return id.AgentID() == uuid.Nil || id.AgentID() == agentID
}

// GetIdentity reads the identity stored by AuthRequired.
func GetIdentity(c *gin.Context) Identity {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return &identity{}
	}
	uid, ok := raw.(uuid.UUID)
	if !ok {
		return &identity{}
	}
	id := &identity{userID: uid, authenticated: true}
	if agentID, ok := c.Get(ContextAgentIDKey); ok {
		id.agentID, _ = agentID.(uuid.UUID)
	}
	return id
}

// MustGetIdentity aborts with 401 and returns nil when the request is anonymous.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	return id
}
