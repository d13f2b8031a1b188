// Package fulfillment executes the tools the model calls during a
// conversation turn: it resolves catalog items, prices them, and persists
// orders and bookings.
package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"storefront_backend/internal/agents"
	"storefront_backend/internal/catalog"
	"storefront_backend/internal/events"
	"storefront_backend/internal/orders"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/validator"
)

const recentOrdersLimit = 3

// Catalog lists the products an agent currently sells.
type Catalog interface {
	ListAvailable(ctx context.Context, agentID uuid.UUID) ([]catalog.Product, error)
}

// OrderStore persists orders and bookings.
type OrderStore interface {
	CreateOrder(ctx context.Context, order orders.Order) (orders.Order, []orders.DepletedProduct, error)
	CreateBooking(ctx context.Context, booking orders.Booking) (orders.Booking, error)
	FindOrderByRef(ctx context.Context, agentID uuid.UUID, ref string) (orders.Order, error)
	ListRecentByPhone(ctx context.Context, agentID uuid.UUID, phone string, limit int) ([]orders.Order, error)
}

// Payments opens checkouts and refreshes online payment status.
type Payments interface {
	StartCheckout(ctx context.Context, order orders.Order) (string, error)
	PayPageURL(orderID uuid.UUID) string
	Refresh(ctx context.Context, order orders.Order) (orders.Status, error)
}

// ImageResolver turns a stored image reference into a fetchable URL.
type ImageResolver interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// DraftStore keeps the per-conversation order draft.
type DraftStore interface {
	LoadDraft(ctx context.Context, conversationID uuid.UUID) (Draft, error)
	SaveDraft(ctx context.Context, conversationID uuid.UUID, draft Draft) error
	ClearDraft(ctx context.Context, conversationID uuid.UUID) error
}

// Turn identifies who a tool call is executed for.
type Turn struct {
	Agent          agents.Agent
	ConversationID uuid.UUID
	ContactPhone   string
}

// Dispatcher routes tool calls to their handlers.
type Dispatcher struct {
	catalog  Catalog
	orders   OrderStore
	payments Payments
	images   ImageResolver
	drafts   DraftStore
	bus      events.Bus
	val      *validator.Validator
	log      *logger.Logger
	location *time.Location
}

// Deps groups the dispatcher's collaborators.
type Deps struct {
	Catalog  Catalog
	Orders   OrderStore
	Payments Payments
	Images   ImageResolver
	Drafts   DraftStore
	Bus      events.Bus
	Log      *logger.Logger
	// Location is the time zone booking dates are read in. Defaults to UTC.
	Location *time.Location
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps Deps, val *validator.Validator) *Dispatcher {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		catalog:  deps.Catalog,
		orders:   deps.Orders,
		payments: deps.Payments,
		images:   deps.Images,
		drafts:   deps.Drafts,
		bus:      deps.Bus,
		val:      val,
		log:      deps.Log.WithComponent("fulfillment"),
		location: loc,
	}
}

// Dispatch executes one tool call. Tool failures are never returned as Go
// errors; they are rendered into the outcome for the model to read.
func (d *Dispatcher) Dispatch(ctx context.Context, turn Turn, call *genai.FunctionCall) Outcome {
	log := d.log.WithAgent(turn.Agent.ID.String())
	if call == nil {
		return failed(toolErr(CodeUnknownTool, "appel d'outil vide"))
	}

	var out Outcome
	switch call.Name {
	case ToolCreateOrder:
		out = d.createOrder(ctx, turn, call.Args)
	case ToolCreateBooking:
		out = d.createBooking(ctx, turn, call.Args)
	case ToolCheckPaymentStatus:
		out = d.checkPaymentStatus(ctx, turn, call.Args)
	case ToolSendImage:
		out = d.sendImage(ctx, turn, call.Args)
	case ToolFindOrder:
		out = d.findOrder(ctx, turn, call.Args)
	default:
		out = failed(toolErr(CodeUnknownTool, "outil inconnu: %s", call.Name))
	}

	if out.Err != nil {
		log.Warn("tool call failed", "tool", call.Name, "code", out.Err.Code, "error", out.Err.Message)
	} else {
		log.Info("tool call succeeded", "tool", call.Name)
	}
	return out
}

// bind decodes and validates tool arguments.
func (d *Dispatcher) bind(args map[string]any, dst any) *ToolError {
	if err := decodeArgs(args, dst); err != nil {
		return toolErr(CodeInvalidArguments, "arguments invalides: %v", err)
	}
	if err := d.val.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) *ToolError {
	return toolErr(CodeInvalidArguments, "arguments invalides: %s", validator.Describe(err))
}

func (d *Dispatcher) products(ctx context.Context, agentID uuid.UUID) ([]catalog.Product, *ToolError) {
	products, err := d.catalog.ListAvailable(ctx, agentID)
	if err != nil {
		d.log.DatabaseError("list_products", err)
		return nil, &ToolError{
			Code:    CodePersistenceFailure,
			Message: "Le catalogue est momentanément indisponible.",
			Hint:    "Excuse-toi auprès du client et propose de réessayer dans quelques instants.",
		}
	}
	return products, nil
}
