package conversation

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"storefront_backend/internal/agents"
	"storefront_backend/internal/catalog"
	"storefront_backend/internal/fulfillment"
	"storefront_backend/internal/orders"
)

//go:embed workflows.yaml
var workflowsYAML []byte

type workflow struct {
	Label string   `yaml:"label"`
	Steps []string `yaml:"steps"`
}

type workflowRules struct {
	General []string                        `yaml:"general"`
	Types   map[catalog.ProductType]workflow `yaml:"types"`
}

// PromptInput is everything the system prompt is assembled from.
type PromptInput struct {
	Agent    agents.Agent
	Products []catalog.Product
	Orders   []orders.Order
	Snippets []string
	Draft    fulfillment.Draft
	// FirstContact is set on the very first message of a thread.
	FirstContact bool
}

// PromptBuilder renders the system instruction for one turn.
type PromptBuilder struct {
	rules workflowRules
}

// NewPromptBuilder parses the embedded workflow rules.
func NewPromptBuilder() (*PromptBuilder, error) {
	var rules workflowRules
	if err := yaml.Unmarshal(workflowsYAML, &rules); err != nil {
		return nil, fmt.Errorf("parse workflow rules: %w", err)
	}
	return &PromptBuilder{rules: rules}, nil
}

var productTypeOrder = []catalog.ProductType{catalog.ProductPhysical, catalog.ProductDigital, catalog.ProductService}

var orderStatusLabels = map[orders.Status]string{
	orders.StatusPending:         "En attente de paiement",
	orders.StatusPaid:            "Payé",
	orders.StatusPendingDelivery: "Livraison en cours",
	orders.StatusDelivered:       "Livré",
	orders.StatusCancelled:       "Annulé",
}

// Build returns the system instruction text.
func (b *PromptBuilder) Build(in PromptInput) string {
	var sb strings.Builder
	a := in.Agent

	fmt.Fprintf(&sb, "Tu es l'assistant officiel de %s sur WhatsApp.\n", a.Name)
	if tone := strings.TrimSpace(a.Tone); tone != "" {
		fmt.Fprintf(&sb, "Ton: %s.\n", tone)
	}
	if ctx := strings.TrimSpace(a.BusinessContext); ctx != "" {
		sb.WriteString("\nINFORMATIONS ENTREPRISE:\n")
		sb.WriteString(ctx)
		sb.WriteString("\n")
	}
	contact := a.EscalationPhone
	if contact == "" {
		contact = "[numéro non configuré]"
	}
	fmt.Fprintf(&sb, "Contact support humain: %s\n", contact)

	b.writeCatalog(&sb, in.Products)
	writeOrders(&sb, in.Orders)
	writeDraft(&sb, in.Draft)

	if len(in.Snippets) > 0 {
		sb.WriteString("\nBASE DE CONNAISSANCES:\n")
		for _, s := range in.Snippets {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}

	sb.WriteString("\nRÈGLES:\n")
	for _, rule := range b.rules.General {
		fmt.Fprintf(&sb, "- %s\n", rule)
	}
	for _, t := range productTypeOrder {
		if !hasType(in.Products, t) {
			continue
		}
		wf, ok := b.rules.Types[t]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "\nFLUX %s:\n", wf.Label)
		for i, step := range wf.Steps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
	}

	fmt.Fprintf(&sb, "\nESCALADE: pour modifier, annuler ou rembourser une commande, ou en cas de problème de livraison, dis au client de contacter l'équipe au %s.\n", contact)
	sb.WriteString("TÉLÉPHONE: demande le numéro avec l'indicatif du pays, sans le + (ex: 2250141859625).\n")
	if in.FirstContact {
		fmt.Fprintf(&sb, "PREMIER MESSAGE: présente-toi: \"Bienvenue chez %s ! Je suis votre assistant virtuel. Comment puis-je vous aider ?\"\n", a.Name)
	}
	sb.WriteString("Réponds en français, de façon concise. Appelle au plus un outil à la fois puis réponds au client.\n")
	return sb.String()
}

func hasType(products []catalog.Product, t catalog.ProductType) bool {
	for _, p := range products {
		if p.Type == t {
			return true
		}
	}
	return false
}

var typeTags = map[catalog.ProductType]string{
	catalog.ProductPhysical: "[PHYSIQUE]",
	catalog.ProductDigital:  "[NUMÉRIQUE]",
	catalog.ProductService:  "[SERVICE]",
}

func (b *PromptBuilder) writeCatalog(sb *strings.Builder, products []catalog.Product) {
	sb.WriteString("\nCATALOGUE:\n")
	if len(products) == 0 {
		sb.WriteString("(aucun produit disponible)\n")
		return
	}
	for _, p := range products {
		fmt.Fprintf(sb, "- %s %s - %s\n", p.Name, typeTags[p.Type], priceRange(p))
		if d := strings.TrimSpace(p.Description); d != "" {
			fmt.Fprintf(sb, "  %s\n", d)
		}
		if n := strings.TrimSpace(p.AINotes); n != "" {
			fmt.Fprintf(sb, "  Note: %s\n", n)
		}
		if !p.HasUnlimitedStock() {
			fmt.Fprintf(sb, "  Stock: %d\n", p.Stock)
		}
		if p.ImageURL != "" {
			sb.WriteString("  Image disponible\n")
		}
		for _, g := range p.Variants {
			if len(g.Options) == 0 {
				continue
			}
			kind := "requis"
			if g.IsAdditive() {
				kind = "supplément"
			}
			opts := make([]string, 0, len(g.Options))
			for _, o := range g.Options {
				switch {
				case !o.HasPrice():
					opts = append(opts, o.Label)
				case g.IsAdditive():
					opts = append(opts, fmt.Sprintf("%s (+%s FCFA)", o.Label, fulfillment.FormatAmount(o.Price)))
				default:
					opts = append(opts, fmt.Sprintf("%s (%s FCFA)", o.Label, fulfillment.FormatAmount(o.Price)))
				}
			}
			fmt.Fprintf(sb, "  %s (%s): %s\n", g.Name, kind, strings.Join(opts, ", "))
		}
	}
}

// priceRange shows the span of fixed-option prices when they replace the
// base price.
func priceRange(p catalog.Product) string {
	var lo, hi int64
	for _, g := range p.Variants {
		if g.IsAdditive() {
			continue
		}
		for _, o := range g.Options {
			if !o.HasPrice() {
				continue
			}
			if lo == 0 || o.Price < lo {
				lo = o.Price
			}
			if o.Price > hi {
				hi = o.Price
			}
		}
		break
	}
	switch {
	case lo == 0:
		return fulfillment.FormatAmount(p.Price) + " FCFA"
	case lo == hi:
		return fulfillment.FormatAmount(lo) + " FCFA"
	default:
		return fmt.Sprintf("de %s à %s FCFA", fulfillment.FormatAmount(lo), fulfillment.FormatAmount(hi))
	}
}

func writeOrders(sb *strings.Builder, list []orders.Order) {
	if len(list) == 0 {
		return
	}
	sb.WriteString("\nCOMMANDES RÉCENTES DE CE CLIENT:\n")
	for _, o := range list {
		items := make([]string, 0, len(o.Items))
		for _, it := range o.Items {
			items = append(items, fmt.Sprintf("%s x%d", it.ProductName, it.Quantity))
		}
		status := orderStatusLabels[o.Status]
		if status == "" {
			status = string(o.Status)
		}
		fmt.Fprintf(sb, "- #%s | %s | %s FCFA | %s | %s\n",
			o.ShortID(), status, fulfillment.FormatAmount(o.Total), strings.Join(items, ", "), o.CreatedAt.Format("02/01/2006"))
	}
}

func writeDraft(sb *strings.Builder, d fulfillment.Draft) {
	collected := d.Collected()
	if len(collected) == 0 && len(d.Items) == 0 {
		return
	}
	sb.WriteString("\nINFORMATIONS DÉJÀ COLLECTÉES:\n")
	for _, kv := range collected {
		fmt.Fprintf(sb, "- %s: %s\n", kv[0], kv[1])
	}
	for _, it := range d.Items {
		fmt.Fprintf(sb, "- Article: %s x%d\n", it.ProductName, it.Quantity)
	}
}
