package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storefront_backend/internal/delivery"
	"storefront_backend/internal/fulfillment"
	"storefront_backend/internal/orders"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
)

// OrderStore is the order persistence the sweeps need.
type OrderStore interface {
	ListReminderDue(ctx context.Context, age, cancelAfter time.Duration) ([]orders.Order, error)
	MarkReminderSent(ctx context.Context, orderID uuid.UUID) error
	CancelExpired(ctx context.Context, age time.Duration) ([]orders.Order, error)
	ListFeedbackDue(ctx context.Context, minAge, maxAge time.Duration) ([]orders.Order, error)
	MarkFeedbackSent(ctx context.Context, orderID uuid.UUID) error
}

// OutboundQueue stores customer messages for the delivery listener.
type OutboundQueue interface {
	Enqueue(ctx context.Context, msg delivery.OutboundMessage) (uuid.UUID, error)
}

// OrderSweeper runs the time-based follow-ups on orders. Each sweep only
// writes outbound rows; sending is left to the delivery listener.
type OrderSweeper struct {
	orders   OrderStore
	outbound OutboundQueue
	log      *logger.Logger

	reminderAfter  time.Duration
	cancelAfter    time.Duration
	feedbackMinAge time.Duration
	feedbackMaxAge time.Duration
}

func NewOrderSweeper(store OrderStore, outbound OutboundQueue, cfg config.SchedulerConfig, log *logger.Logger) *OrderSweeper {
	s := &OrderSweeper{
		orders:         store,
		outbound:       outbound,
		log:            log.WithComponent("order-sweeper"),
		reminderAfter:  cfg.GetPaymentReminderAfter(),
		cancelAfter:    cfg.GetAutoCancelAfter(),
		feedbackMinAge: cfg.GetFeedbackMinAge(),
		feedbackMaxAge: cfg.GetFeedbackMaxAge(),
	}
	if s.reminderAfter <= 0 {
		s.reminderAfter = 15 * time.Minute
	}
	if s.cancelAfter <= 0 {
		s.cancelAfter = time.Hour
	}
	if s.feedbackMinAge <= 0 {
		s.feedbackMinAge = 72 * time.Hour
	}
	if s.feedbackMaxAge <= s.feedbackMinAge {
		s.feedbackMaxAge = s.feedbackMinAge + 24*time.Hour
	}
	return s
}

// RemindPayments nudges customers once about unpaid online orders.
func (s *OrderSweeper) RemindPayments(ctx context.Context) error {
	due, err := s.orders.ListReminderDue(ctx, s.reminderAfter, s.cancelAfter)
	if err != nil {
		return err
	}
	var errs []error
	for _, o := range due {
		if err := s.send(ctx, o, delivery.KindPaymentReminder, paymentReminderText(o)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.orders.MarkReminderSent(ctx, o.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(due) > 0 {
		s.log.Info("payment reminders queued", "count", len(due))
	}
	return errors.Join(errs...)
}

// CancelExpired cancels online orders left unpaid too long and tells the customer.
func (s *OrderSweeper) CancelExpired(ctx context.Context) error {
	cancelled, err := s.orders.CancelExpired(ctx, s.cancelAfter)
	if err != nil {
		return err
	}
	var errs []error
	for _, o := range cancelled {
		if err := s.send(ctx, o, delivery.KindOrderCancelled, cancelledText(o)); err != nil {
			errs = append(errs, err)
		}
	}
	if len(cancelled) > 0 {
		s.log.Info("expired orders cancelled", "count", len(cancelled))
	}
	return errors.Join(errs...)
}

// RequestFeedback asks once for a rating a few days after delivery.
func (s *OrderSweeper) RequestFeedback(ctx context.Context) error {
	due, err := s.orders.ListFeedbackDue(ctx, s.feedbackMinAge, s.feedbackMaxAge)
	if err != nil {
		return err
	}
	var errs []error
	for _, o := range due {
		if err := s.send(ctx, o, delivery.KindFeedbackRequest, feedbackText(o)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.orders.MarkFeedbackSent(ctx, o.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(due) > 0 {
		s.log.Info("feedback requests queued", "count", len(due))
	}
	return errors.Join(errs...)
}

func (s *OrderSweeper) send(ctx context.Context, o orders.Order, kind delivery.OutboundKind, text string) error {
	_, err := s.outbound.Enqueue(ctx, delivery.OutboundMessage{
		AgentID:        o.AgentID,
		RecipientPhone: o.CustomerPhone,
		Content:        text,
		Kind:           kind,
	})
	if err != nil {
		return fmt.Errorf("queue %s for order %s: %w", kind, o.ID, err)
	}
	return nil
}

func paymentReminderText(o orders.Order) string {
	return fmt.Sprintf("⏰ *Rappel de paiement*\n\nVotre commande #%s attend votre paiement.\n\n💰 Montant: %s FCFA\n\n💳 Cliquez ici pour payer:\n%s\n\n❓ Besoin d'aide ? Répondez à ce message.",
		o.ShortID(), fulfillment.FormatAmount(o.Total), o.PaymentURL)
}

func cancelledText(o orders.Order) string {
	return fmt.Sprintf("⏱️ *Commande expirée*\n\nVotre commande #%s a été annulée car le paiement n'a pas été reçu dans les temps.\n\nVous pouvez repasser commande quand vous le souhaitez ! 😊",
		o.ShortID())
}

func feedbackText(o orders.Order) string {
	return fmt.Sprintf("😊 *Livraison effectuée ?*\n\nPouvez-vous nous donner votre avis sur votre commande #%s ?\n\nRépondez simplement:\n1. Très satisfait 🌟\n2. Satisfait 🙂\n3. Déçu 😞\n\nMerci !",
		o.ShortID())
}
