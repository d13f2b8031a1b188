package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront_backend/internal/catalog"
	"storefront_backend/internal/events"
	"storefront_backend/internal/orders"
	"storefront_backend/platform/phone"
)

const defaultBookingTime = "09:00"

type bookingQuote struct {
	price       int64
	label       string
	supplements []string
}

func (d *Dispatcher) createBooking(ctx context.Context, turn Turn, raw map[string]any) Outcome {
	var args createBookingArgs
	if terr := d.bind(raw, &args); terr != nil {
		return failed(terr)
	}

	products, terr := d.products(ctx, turn.Agent.ID)
	if terr != nil {
		return failed(terr)
	}

	var services []catalog.Product
	for _, p := range products {
		if p.Type == catalog.ProductService {
			services = append(services, p)
		}
	}

	m, ok := catalog.ResolveProduct(args.ServiceName, services)
	if !ok {
		names := catalog.Names(services)
		available := strings.Join(names, ", ")
		if available == "" {
			available = "Aucun"
		}
		if other, found := catalog.ResolveProduct(args.ServiceName, products); found {
			return failed((&ToolError{
				Code:    CodeNotAService,
				Message: fmt.Sprintf("%q n'est pas un service réservable. Services disponibles: %s", other.Product.Name, available),
				Hint:    "Pour un produit, utilise create_order.",
			}).with("available_services", names))
		}
		return failed((&ToolError{
			Code:    CodeProductNotFound,
			Message: fmt.Sprintf("Service %q non trouvé. Disponibles: %s", args.ServiceName, available),
		}).with("available_services", names))
	}
	service := m.Product

	quote, terr := quoteBooking(service, args)
	if terr != nil {
		return failed(terr)
	}

	start, end, terr := d.bookingWindow(args)
	if terr != nil {
		return failed(terr)
	}

	partySize := int(args.PartySize)
	if partySize < 1 {
		partySize = 1
	}

	booking := orders.Booking{
		AgentID:       turn.Agent.ID,
		ProductID:     service.ID,
		ServiceName:   service.Name,
		CustomerName:  strings.TrimSpace(args.CustomerName),
		CustomerPhone: phone.NormalizeE164(args.CustomerPhone),
		StartTime:     start,
		EndDate:       end,
		Type:          orders.ParseBookingType(args.BookingType),
		PartySize:     partySize,
		Location:      strings.TrimSpace(args.Location),
		VariantLabel:  quote.label,
		Price:         quote.price,
		Status:        orders.BookingScheduled,
		Notes:         strings.TrimSpace(args.Notes),
	}
	if turn.ConversationID != uuid.Nil {
		id := turn.ConversationID
		booking.ConversationID = &id
	}

	created, err := d.orders.CreateBooking(ctx, booking)
	if err != nil {
		d.log.Error("booking persistence failed", "agentId", turn.Agent.ID, "error", err)
		return failed(&ToolError{
			Code:    CodePersistenceFailure,
			Message: "La réservation n'a pas pu être enregistrée suite à un problème technique.",
			Hint:    "Présente des excuses au client et propose de réessayer dans un instant.",
		})
	}

	d.bus.Publish(ctx, events.BookingCreated{
		BaseEvent:     events.NewBaseEvent(),
		AgentID:       created.AgentID,
		BookingID:     created.ID,
		ServiceName:   created.ServiceName,
		CustomerPhone: created.CustomerPhone,
		StartTime:     created.StartTime.Format(time.RFC3339),
	})

	resp := map[string]any{
		"booking_id":   created.ID.String(),
		"booking_type": string(created.Type),
		"service_name": created.ServiceName,
		"date":         args.PreferredDate,
		"party_size":   created.PartySize,
		"price":        created.Price,
		"message":      bookingMessage(created, args, turn.Agent.EscalationPhone),
	}
	if args.PreferredTime != "" {
		resp["time"] = args.PreferredTime
	}
	if args.EndDate != "" {
		resp["end_date"] = args.EndDate
	}
	if created.VariantLabel != "" {
		resp["variant"] = created.VariantLabel
	}
	return succeeded(resp)
}

// quoteBooking prices a service: fixed groups go through the same resolver
// as orders; every selected supplement found in an additive group is added.
func quoteBooking(service catalog.Product, args createBookingArgs) (bookingQuote, *ToolError) {
	fixed := service
	fixed.Variants = nil
	var additive []catalog.VariantGroup
	for _, g := range service.Variants {
		if g.IsAdditive() {
			additive = append(additive, g)
		} else {
			fixed.Variants = append(fixed.Variants, g)
		}
	}

	explicit := map[string]string{}
	if args.SelectedVariant != "" {
		for _, g := range fixed.Variants {
			if _, ok := catalog.MatchOption(g, args.SelectedVariant); ok {
				explicit[g.Name] = args.SelectedVariant
				break
			}
		}
	}

	quote, err := catalog.ResolvePrice(fixed, explicit, args.ServiceName+" "+args.SelectedVariant)
	if err != nil {
		var missing *catalog.MissingVariantError
		if errors.As(err, &missing) {
			return bookingQuote{}, (&ToolError{
				Code:    CodeMissingVariant,
				Message: missing.Error(),
				Hint:    "Demande au client ce choix puis rappelle create_booking avec selected_variant.",
			}).with("product", service.Name).with("missing_variants", missing.Missing)
		}
		return bookingQuote{}, toolErr(CodeInvalidArguments, "%v", err)
	}

	out := bookingQuote{price: quote.UnitPrice}
	labels := []string{}
	if quote.Label != "" {
		labels = append(labels, quote.Label)
	}

	taken := make(map[string]bool)
	for _, g := range additive {
		for _, opt := range g.Options {
			if taken[opt.Label] || !supplementSelected(args.SelectedSupplements, opt.Label) {
				continue
			}
			taken[opt.Label] = true
			out.price += opt.Price
			out.supplements = append(out.supplements, opt.Label)
		}
	}
	labels = append(labels, out.supplements...)
	out.label = strings.Join(labels, ", ")
	return out, nil
}

func supplementSelected(selected supplementSet, label string) bool {
	want := catalog.Fold(label)
	for name, on := range selected {
		if on && catalog.Fold(name) == want {
			return true
		}
	}
	return false
}

func (d *Dispatcher) bookingWindow(args createBookingArgs) (time.Time, *time.Time, *ToolError) {
	clock := args.PreferredTime
	if clock == "" {
		clock = defaultBookingTime
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", args.PreferredDate+" "+clock, d.location)
	if err != nil {
		return time.Time{}, nil, toolErr(CodeInvalidArguments, "date ou heure invalide: %s %s", args.PreferredDate, clock)
	}

	if args.EndDate == "" {
		return start, nil, nil
	}
	end, err := time.ParseInLocation("2006-01-02", args.EndDate, d.location)
	if err != nil {
		return time.Time{}, nil, toolErr(CodeInvalidArguments, "date de fin invalide: %s", args.EndDate)
	}
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, d.location)
	if end.Before(startDay) {
		return time.Time{}, nil, toolErr(CodeInvalidArguments, "la date de fin %s précède la date de début %s", args.EndDate, args.PreferredDate)
	}
	return start, &end, nil
}

func bookingMessage(b orders.Booking, args createBookingArgs, escalationPhone string) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "📅 Réservation confirmée ! %s le %s", b.ServiceName, args.PreferredDate)
	if args.PreferredTime != "" {
		fmt.Fprintf(&msg, " à %s", args.PreferredTime)
	}
	if args.EndDate != "" {
		fmt.Fprintf(&msg, " jusqu'au %s", args.EndDate)
	}
	if b.PartySize > 1 {
		fmt.Fprintf(&msg, " pour %d personne(s)", b.PartySize)
	}
	msg.WriteString(".")
	if b.Price > 0 {
		fmt.Fprintf(&msg, " Montant: %s FCFA.", FormatAmount(b.Price))
	}
	msg.WriteString(escalationLine(escalationPhone))
	return msg.String()
}
