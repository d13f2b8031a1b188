package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"storefront_backend/internal/agents"
	"storefront_backend/internal/catalog"
	"storefront_backend/internal/events"
	"storefront_backend/internal/orders"
	"storefront_backend/platform/phone"
)

const standardVariant = "Standard"

// pricedLine is an order line that passed every check.
type pricedLine struct {
	product catalog.Product
	quote   catalog.PriceQuote
	qty     int
}

func (l pricedLine) item() orders.Item {
	name := l.product.Name
	if l.quote.Label != "" {
		name = fmt.Sprintf("%s (%s)", l.product.Name, l.quote.Label)
	}
	return orders.Item{
		ProductID:   l.product.ID,
		ProductName: name,
		Quantity:    l.qty,
		UnitPrice:   l.quote.UnitPrice,
	}
}

func (d *Dispatcher) createOrder(ctx context.Context, turn Turn, raw map[string]any) Outcome {
	var args createOrderArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failed(toolErr(CodeInvalidArguments, "arguments invalides: %v", err))
	}
	args = mergeDraft(args, d.loadDraft(ctx, turn))

	out, err := d.placeOrder(ctx, turn, args)
	if err != nil {
		d.saveDraft(ctx, turn, draftFrom(args, err.Code))
		return failed(err)
	}
	d.clearDraft(ctx, turn)
	return out
}

func (d *Dispatcher) placeOrder(ctx context.Context, turn Turn, args createOrderArgs) (Outcome, *ToolError) {
	if err := d.val.Struct(args); err != nil {
		return Outcome{}, validationError(err)
	}

	products, terr := d.products(ctx, turn.Agent.ID)
	if terr != nil {
		return Outcome{}, terr
	}

	// Resolve every name first so a bad line fails before anything else is checked.
	matched := make([]catalog.Product, len(args.Items))
	for i, item := range args.Items {
		m, ok := catalog.ResolveProduct(item.ProductName, products)
		if !ok {
			return Outcome{}, productNotFound(item.ProductName, products)
		}
		matched[i] = m.Product
	}

	if strings.TrimSpace(args.Email) == "" {
		for _, p := range matched {
			if p.Type == catalog.ProductDigital {
				return Outcome{}, &ToolError{
					Code:    CodeEmailRequired,
					Message: fmt.Sprintf("EMAIL REQUIS. %q est un produit numérique envoyé par email.", p.Name),
					Hint:    "Demande : \"À quelle adresse email souhaitez-vous recevoir votre produit ?\"",
				}
			}
		}
	}

	lines, terr := priceLines(args.Items, matched)
	if terr != nil {
		return Outcome{}, terr
	}

	method := orders.PaymentMethod(args.PaymentMethod)
	if method == "" {
		method = orders.PaymentOnline
	}
	if turn.Agent.PaymentMode == agents.PaymentCashOnDelivery {
		method = orders.PaymentCOD
	}

	items := make([]orders.Item, len(lines))
	for i, l := range lines {
		items[i] = l.item()
	}

	order := orders.Order{
		AgentID:         turn.Agent.ID,
		CustomerName:    strings.TrimSpace(args.CustomerName),
		CustomerPhone:   phone.NormalizeE164(args.CustomerPhone),
		DeliveryAddress: strings.TrimSpace(args.DeliveryAddress),
		Email:           strings.TrimSpace(args.Email),
		PaymentMethod:   method,
		Status:          orders.InitialStatus(method),
		Total:           orders.Total(items),
		Notes:           strings.TrimSpace(args.Notes),
		Items:           items,
	}
	if turn.ConversationID != uuid.Nil {
		id := turn.ConversationID
		order.ConversationID = &id
	}

	created, depleted, err := d.orders.CreateOrder(ctx, order)
	if err != nil {
		var stockErr *orders.StockError
		if errors.As(err, &stockErr) {
			return Outcome{}, stockInsufficient(stockErr.ProductName, stockErr.Remaining)
		}
		d.log.Error("order persistence failed", "agentId", turn.Agent.ID, "error", err)
		return Outcome{}, &ToolError{
			Code:    CodePersistenceFailure,
			Message: "La commande n'a pas pu être enregistrée suite à un problème technique.",
			Hint:    "Présente des excuses au client et propose de réessayer dans un instant.",
		}
	}

	summary := itemsSummary(created.Items)
	d.bus.Publish(ctx, events.OrderCreated{
		BaseEvent:     events.NewBaseEvent(),
		AgentID:       created.AgentID,
		OrderID:       created.ID,
		CustomerName:  created.CustomerName,
		CustomerPhone: created.CustomerPhone,
		Total:         created.Total,
		PaymentMethod: string(created.PaymentMethod),
		ItemsSummary:  summary,
	})
	for _, p := range depleted {
		d.bus.Publish(ctx, events.StockDepleted{
			BaseEvent:   events.NewBaseEvent(),
			AgentID:     created.AgentID,
			ProductID:   p.ProductID,
			ProductName: p.ProductName,
		})
	}

	return succeeded(d.paymentBranch(ctx, turn.Agent, created, summary)), nil
}

// priceLines checks stock and prices every line. Stock is checked against the
// running quantity per product so split lines cannot oversell.
func priceLines(items []orderItemArgs, matched []catalog.Product) ([]pricedLine, *ToolError) {
	wanted := make(map[uuid.UUID]int)
	lines := make([]pricedLine, 0, len(items))
	for i, item := range items {
		p := matched[i]
		qty := int(item.Quantity)
		if qty < 1 {
			qty = 1
		}

		wanted[p.ID] += qty
		if !p.CanSupply(wanted[p.ID]) {
			return nil, stockInsufficient(p.Name, p.Stock)
		}

		quote, err := catalog.ResolvePrice(p, item.SelectedVariants, item.ProductName)
		if err != nil {
			var missing *catalog.MissingVariantError
			if errors.As(err, &missing) {
				return nil, (&ToolError{
					Code:    CodeMissingVariant,
					Message: missing.Error(),
					Hint:    "Demande au client uniquement ces choix, puis rappelle create_order avec selected_variants.",
				}).with("product", p.Name).with("missing_variants", missing.Missing)
			}
			return nil, toolErr(CodeInvalidArguments, "%v", err)
		}
		lines = append(lines, pricedLine{product: p, quote: quote, qty: qty})
	}
	return lines, nil
}

func (d *Dispatcher) paymentBranch(ctx context.Context, agent agents.Agent, order orders.Order, summary string) map[string]any {
	resp := map[string]any{
		"order_id":      order.ID.String(),
		"order_ref":     order.ShortID(),
		"total":         order.Total,
		"items_summary": summary,
	}
	total := FormatAmount(order.Total)
	escalation := escalationLine(agent.EscalationPhone)

	if order.PaymentMethod == orders.PaymentCOD {
		resp["payment_method"] = string(orders.PaymentCOD)
		resp["message"] = fmt.Sprintf("✅ Commande confirmée ! Nous préparons la livraison. 🚚\nPaiement de %s FCFA à prévoir à la livraison.%s", total, escalation)
		return resp
	}

	if agent.PaymentMode == agents.PaymentMobileMoneyDirect {
		resp["payment_method"] = string(agents.PaymentMobileMoneyDirect)
		resp["payment_methods"] = agent.MobileMoneyAccounts()
		resp["message"] = fmt.Sprintf("✅ Commande enregistrée en attente de paiement. Veuillez effectuer le transfert de %s FCFA puis envoyer la capture du paiement.%s", total, escalation)
		return resp
	}

	link, err := d.payments.StartCheckout(ctx, order)
	if err != nil {
		d.log.Error("payment gateway error", "code", CodePaymentGateway, "orderId", order.ID, "error", err)
		link = d.payments.PayPageURL(order.ID)
	}
	resp["payment_method"] = string(orders.PaymentOnline)
	resp["payment_link"] = link
	resp["message"] = fmt.Sprintf("✅ Commande créée ! Lien de paiement généré pour %s FCFA.%s", total, escalation)
	return resp
}

// itemsSummary groups lines by product, e.g.
//
//	*T-Shirt* :
//	- Rouge 2 X 15 000 = 30 000 FCFA
//	Sous-total = 30 000 FCFA
func itemsSummary(items []orders.Item) string {
	type group struct {
		lines    []string
		subtotal int64
	}
	var names []string
	groups := make(map[string]*group)

	for _, item := range items {
		base, variant := splitItemName(item.ProductName)
		g, ok := groups[base]
		if !ok {
			g = &group{}
			groups[base] = g
			names = append(names, base)
		}
		line := item.LineTotal()
		g.subtotal += line
		g.lines = append(g.lines, fmt.Sprintf("- %s %d X %s = %s FCFA",
			variant, item.Quantity, FormatAmount(item.UnitPrice), FormatAmount(line)))
	}

	blocks := make([]string, 0, len(names))
	for _, name := range names {
		g := groups[name]
		blocks = append(blocks, fmt.Sprintf("*%s* :\n%s\nSous-total = %s FCFA",
			name, strings.Join(g.lines, "\n"), FormatAmount(g.subtotal)))
	}
	return strings.Join(blocks, "\n\n")
}

func splitItemName(name string) (base, variant string) {
	open := strings.Index(name, " (")
	if open < 0 || !strings.HasSuffix(name, ")") {
		return name, standardVariant
	}
	return name[:open], name[open+2 : len(name)-1]
}

func productNotFound(query string, products []catalog.Product) *ToolError {
	names := catalog.Names(products)
	return (&ToolError{
		Code:    CodeProductNotFound,
		Message: fmt.Sprintf("Produit %q non trouvé. Disponibles: %s", query, strings.Join(names, ", ")),
	}).with("available_products", names)
}

func stockInsufficient(name string, remaining int) *ToolError {
	if remaining < 0 {
		remaining = 0
	}
	e := &ToolError{Code: CodeStockInsufficient}
	if remaining > 0 {
		e.Message = fmt.Sprintf("Stock insuffisant pour %q. Seulement %d disponible(s).", name, remaining)
		e.Hint = fmt.Sprintf("Propose %d unité(s) ou un produit alternatif.", remaining)
	} else {
		e.Message = fmt.Sprintf("Stock insuffisant pour %q. Produit épuisé.", name)
		e.Hint = "Propose un produit alternatif."
	}
	return e.with("available_stock", remaining)
}
