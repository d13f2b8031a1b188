package fulfillment

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Draft is the server-side state of an order being assembled over several
// turns. Fields the customer already gave are kept here so a retried
// create_order does not depend on the model remembering them.
type Draft struct {
	CustomerName    string      `json:"customer_name,omitempty"`
	CustomerPhone   string      `json:"customer_phone,omitempty"`
	DeliveryAddress string      `json:"delivery_address,omitempty"`
	Email           string      `json:"email,omitempty"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Items           []DraftItem `json:"items,omitempty"`
	// LastError is the code of the failure that produced this draft.
	LastError string `json:"last_error,omitempty"`
}

// DraftItem is a pending order line.
type DraftItem struct {
	ProductName      string            `json:"product_name"`
	Quantity         int               `json:"quantity"`
	SelectedVariants map[string]string `json:"selected_variants,omitempty"`
}

// Empty reports whether nothing has been collected.
func (d Draft) Empty() bool {
	return d.CustomerName == "" && d.CustomerPhone == "" && d.DeliveryAddress == "" &&
		d.Email == "" && d.PaymentMethod == "" && d.Notes == "" && len(d.Items) == 0
}

// Collected lists the customer fields already known, as label/value pairs in
// a fixed order.
func (d Draft) Collected() [][2]string {
	var out [][2]string
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			out = append(out, [2]string{label, value})
		}
	}
	add("Nom", d.CustomerName)
	add("Téléphone", d.CustomerPhone)
	add("Adresse", d.DeliveryAddress)
	add("Email", d.Email)
	add("Paiement", d.PaymentMethod)
	return out
}

// mergeDraft fills the blanks of args from draft. Values the model sent win.
func mergeDraft(args createOrderArgs, draft Draft) createOrderArgs {
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&args.CustomerName, draft.CustomerName)
	fill(&args.CustomerPhone, draft.CustomerPhone)
	fill(&args.DeliveryAddress, draft.DeliveryAddress)
	fill(&args.Email, draft.Email)
	fill(&args.PaymentMethod, draft.PaymentMethod)
	fill(&args.Notes, draft.Notes)

	if len(args.Items) == 0 {
		for _, item := range draft.Items {
			args.Items = append(args.Items, orderItemArgs{
				ProductName:      item.ProductName,
				Quantity:         flexInt(item.Quantity),
				SelectedVariants: variantMap(item.SelectedVariants),
			})
		}
	}
	return args
}

// draftFrom snapshots args after a failed attempt.
func draftFrom(args createOrderArgs, code Code) Draft {
	d := Draft{
		CustomerName:    args.CustomerName,
		CustomerPhone:   args.CustomerPhone,
		DeliveryAddress: args.DeliveryAddress,
		Email:           args.Email,
		PaymentMethod:   args.PaymentMethod,
		Notes:           args.Notes,
		LastError:       string(code),
	}
	for _, item := range args.Items {
		d.Items = append(d.Items, DraftItem{
			ProductName:      item.ProductName,
			Quantity:         int(item.Quantity),
			SelectedVariants: item.SelectedVariants,
		})
	}
	return d
}

func (d *Dispatcher) loadDraft(ctx context.Context, turn Turn) Draft {
	if d.drafts == nil || turn.ConversationID == uuid.Nil {
		return Draft{}
	}
	draft, err := d.drafts.LoadDraft(ctx, turn.ConversationID)
	if err != nil {
		d.log.DatabaseError("load_order_draft", err)
		return Draft{}
	}
	return draft
}

func (d *Dispatcher) saveDraft(ctx context.Context, turn Turn, draft Draft) {
	if d.drafts == nil || turn.ConversationID == uuid.Nil {
		return
	}
	if err := d.drafts.SaveDraft(ctx, turn.ConversationID, draft); err != nil {
		d.log.DatabaseError("save_order_draft", err)
	}
}

func (d *Dispatcher) clearDraft(ctx context.Context, turn Turn) {
	if d.drafts == nil || turn.ConversationID == uuid.Nil {
		return
	}
	if err := d.drafts.ClearDraft(ctx, turn.ConversationID); err != nil {
		d.log.DatabaseError("clear_order_draft", err)
	}
}
