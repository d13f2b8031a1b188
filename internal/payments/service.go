package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"storefront_backend/internal/events"
	"storefront_backend/internal/orders"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
)

// Gateway is the hosted checkout provider.
type Gateway interface {
	Initiate(ctx context.Context, in Checkout) (string, error)
	Check(ctx context.Context, transactionID string) (Status, error)
	VerifySignature(payload []byte, token string) bool
	SiteID() string
}

// OrderStore is the slice of order persistence payments need.
type OrderStore interface {
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (orders.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID) (bool, error)
	SetPaymentURL(ctx context.Context, orderID uuid.UUID, url string) error
}

// Service links orders to gateway transactions. The order id is the
// transaction id.
type Service struct {
	gateway      Gateway
	orders       OrderStore
	bus          events.Bus
	appBaseURL   string
	publicAPIURL string
	log          *logger.Logger
}

// NewService wires the gateway to order persistence.
func NewService(gateway Gateway, store OrderStore, bus events.Bus, cfg config.PaymentConfig, log *logger.Logger) *Service {
	return &Service{
		gateway:      gateway,
		orders:       store,
		bus:          bus,
		appBaseURL:   strings.TrimRight(cfg.GetAppBaseURL(), "/"),
		publicAPIURL: strings.TrimRight(cfg.GetPublicAPIURL(), "/"),
		log:          log,
	}
}

// PayPageURL is the stable link sent to customers; it opens a checkout on demand.
func (s *Service) PayPageURL(orderID uuid.UUID) string {
	return fmt.Sprintf("%s/pay/%s", s.appBaseURL, orderID)
}

// StartCheckout opens a gateway checkout for order and stores its URL.
func (s *Service) StartCheckout(ctx context.Context, order orders.Order) (string, error) {
	url, err := s.gateway.Initiate(ctx, Checkout{
		TransactionID: order.ID.String(),
		Amount:        order.Total,
		Description:   fmt.Sprintf("Commande #%s", order.ShortID()),
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		CustomerEmail: order.Email,
		NotifyURL:     s.publicAPIURL + "/api/v1/payments/notify",
		ReturnURL:     fmt.Sprintf("%s/orders/%s/thanks", s.appBaseURL, order.ID),
	})
	if err != nil {
		return "", fmt.Errorf("initiate checkout for %s: %w", order.ID, err)
	}

	if err := s.orders.SetPaymentURL(ctx, order.ID, url); err != nil {
		s.log.DatabaseError("set_payment_url", err)
	}
	return url, nil
}

// Refresh re-checks a pending online order with the gateway and marks it paid
// when the transaction was accepted. It returns the order's resulting status.
func (s *Service) Refresh(ctx context.Context, order orders.Order) (orders.Status, error) {
	if order.PaymentMethod != orders.PaymentOnline || order.Status != orders.StatusPending {
		return order.Status, nil
	}

	status, err := s.gateway.Check(ctx, order.ID.String())
	if err != nil {
		return order.Status, fmt.Errorf("check payment for %s: %w", order.ID, err)
	}
	if status != StatusAccepted {
		return order.Status, nil
	}

	changed, err := s.orders.MarkPaid(ctx, order.ID)
	if err != nil {
		return order.Status, err
	}
	if changed {
		s.log.Info("order paid", "orderId", order.ID, "agentId", order.AgentID)
		s.bus.Publish(ctx, events.OrderPaid{
			BaseEvent: events.NewBaseEvent(),
			AgentID:   order.AgentID,
			OrderID:   order.ID,
			Total:     order.Total,
		})
	}
	return orders.StatusPaid, nil
}
