package fulfillment

import (
	"context"
	"fmt"
	"strings"

	"storefront_backend/internal/catalog"
	"storefront_backend/internal/orders"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/phone"
)

var statusMessages = map[orders.Status]string{
	orders.StatusPending:         "⏳ En attente de paiement. Total: %s FCFA.",
	orders.StatusPaid:            "✅ Paiement confirmé ! En cours de traitement.",
	orders.StatusPendingDelivery: "📦 En cours de livraison.",
	orders.StatusDelivered:       "🎉 Livrée avec succès !",
	orders.StatusCancelled:       "❌ Commande annulée.",
}

func statusMessage(o orders.Order) string {
	text, ok := statusMessages[o.Status]
	if !ok {
		text = string(o.Status)
	}
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, FormatAmount(o.Total))
	}
	return fmt.Sprintf("Commande #%s : %s", o.ShortID(), text)
}

func (d *Dispatcher) checkPaymentStatus(ctx context.Context, turn Turn, raw map[string]any) Outcome {
	var args checkPaymentArgs
	if terr := d.bind(raw, &args); terr != nil {
		return failed(terr)
	}

	order, err := d.orders.FindOrderByRef(ctx, turn.Agent.ID, args.OrderID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return failed(toolErr(CodeOrderNotFound, "Commande %s introuvable.", args.OrderID))
		}
		d.log.DatabaseError("find_order_by_ref", err)
		return failed(toolErr(CodePersistenceFailure, "Vérification impossible pour le moment."))
	}

	resp := map[string]any{"order_id": order.ID.String()}
	if order.PaymentMethod == orders.PaymentOnline && order.Status == orders.StatusPending {
		status, err := d.payments.Refresh(ctx, order)
		if err != nil {
			d.log.Error("payment gateway error", "code", CodePaymentGateway, "orderId", order.ID, "error", err)
			resp["gateway_unavailable"] = true
		}
		order.Status = status
	}

	resp["status"] = string(order.Status)
	resp["message"] = statusMessage(order)
	return succeeded(resp)
}

func (d *Dispatcher) findOrder(ctx context.Context, turn Turn, raw map[string]any) Outcome {
	var args findOrderArgs
	if terr := d.bind(raw, &args); terr != nil {
		return failed(terr)
	}

	normalized := phone.NormalizeE164(args.PhoneNumber)
	if phone.Digits(normalized) == "" {
		return failed(toolErr(CodeInvalidArguments, "Numéro invalide"))
	}

	found, err := d.orders.ListRecentByPhone(ctx, turn.Agent.ID, normalized, recentOrdersLimit)
	if err != nil {
		d.log.DatabaseError("list_recent_orders", err)
		return failed(toolErr(CodePersistenceFailure, "Erreur lors de la recherche."))
	}
	if len(found) == 0 {
		return succeeded(map[string]any{"orders": []any{}, "message": "Aucune commande trouvée pour ce numéro."})
	}

	blocks := make([]string, 0, len(found))
	refs := make([]map[string]any, 0, len(found))
	for _, o := range found {
		items := make([]string, 0, len(o.Items))
		for _, item := range o.Items {
			items = append(items, fmt.Sprintf("%dx %s", item.Quantity, item.ProductName))
		}
		blocks = append(blocks, fmt.Sprintf("- Commande #%s du %s (%s FCFA) : %s\n  Articles: %s",
			o.ShortID(), o.CreatedAt.In(d.location).Format("02/01/2006"), FormatAmount(o.Total), o.Status,
			strings.Join(items, ", ")))
		refs = append(refs, map[string]any{"order_id": o.ID.String(), "status": string(o.Status), "total": o.Total})
	}

	var b strings.Builder
	b.WriteString("Voici les dernières commandes trouvées :\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\nℹ️ Ceci sont vos 3 dernières commandes.")
	if turn.Agent.EscalationPhone != "" {
		fmt.Fprintf(&b, " Pour tout historique plus ancien, veuillez contacter le service client au %s.", turn.Agent.EscalationPhone)
	} else {
		b.WriteString(" Pour tout historique plus ancien, veuillez contacter le service client.")
	}

	return succeeded(map[string]any{"orders": refs, "message": b.String()})
}

func (d *Dispatcher) sendImage(ctx context.Context, turn Turn, raw map[string]any) Outcome {
	var args sendImageArgs
	if terr := d.bind(raw, &args); terr != nil {
		return failed(terr)
	}

	products, terr := d.products(ctx, turn.Agent.ID)
	if terr != nil {
		return failed(terr)
	}
	m, ok := catalog.ResolveProduct(args.ProductName, products)
	if !ok {
		return failed(productNotFound(args.ProductName, products))
	}
	p := m.Product

	ref, variant := variantImage(p, args.SelectedVariants, args.VariantValue)
	if ref == "" {
		ref = p.ImageURL
	}
	if strings.TrimSpace(ref) == "" {
		return failed(toolErr(CodeImageNotFound, "Pas d'image pour %q.", p.Name))
	}

	url := ref
	if d.images != nil {
		resolved, err := d.images.ResolveURL(ctx, ref)
		if err != nil {
			d.log.Error("image resolution failed", "product", p.Name, "error", err)
			return failed(toolErr(CodeImageNotFound, "Image indisponible pour %q.", p.Name))
		}
		url = resolved
	}

	caption := fmt.Sprintf("Voici %s !", p.Name)
	if variant != "" {
		caption = fmt.Sprintf("Voici %s (%s) !", p.Name, variant)
	}

	out := succeeded(map[string]any{
		"action":       "send_image",
		"product_name": p.Name,
		"caption":      caption,
	})
	out.Image = &ImageAttachment{URL: url, Caption: caption}
	return out
}

// variantImage returns the first option image matching the selection, walking
// groups in catalog order. legacy applies to every group not named in selected.
func variantImage(p catalog.Product, selected map[string]string, legacy string) (ref, label string) {
	folded := make(map[string]string, len(selected))
	for k, v := range selected {
		folded[catalog.Fold(k)] = v
	}
	for _, g := range p.Variants {
		value, ok := folded[catalog.Fold(g.Name)]
		if !ok {
			value = legacy
		}
		if value == "" {
			continue
		}
		opt, ok := catalog.MatchOption(g, value)
		if ok && opt.Image != "" {
			return opt.Image, opt.Label
		}
	}
	return "", ""
}
