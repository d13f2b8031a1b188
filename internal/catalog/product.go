// Package catalog holds the tenant product model and the deterministic
// matching and pricing rules the fulfillment tools rely on.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ProductType classifies what a customer receives.
type ProductType string

const (
	ProductPhysical ProductType = "physical"
	ProductDigital  ProductType = "digital"
	ProductService  ProductType = "service"
)

// GroupKind decides how a selected option affects the price.
type GroupKind string

const (
	// GroupFixed options are mutually exclusive; a priced option replaces the base price.
	GroupFixed GroupKind = "fixed"
	// GroupAdditive options are supplements summed on top of the running price.
	GroupAdditive GroupKind = "additive"
)

// UnlimitedStock is the sentinel for products that are never out of stock.
const UnlimitedStock = -1

// Option is one choice inside a variant group.
type Option struct {
	Label string `json:"value"`
	// Price is the option price in the currency's integer unit. Zero means
	// the option carries no price of its own.
	Price int64 `json:"price,omitempty"`
	Image string `json:"image,omitempty"`
}

// HasPrice reports whether the option carries its own price.
func (o Option) HasPrice() bool { return o.Price > 0 }

// UnmarshalJSON accepts both stored shapes: a bare label string, or an
// object with value (or name), price and image.
func (o *Option) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var label string
		if err := json.Unmarshal(data, &label); err != nil {
			return err
		}
		*o = Option{Label: strings.TrimSpace(label)}
		return nil
	}

	var raw struct {
		Value string      `json:"value"`
		Name  string      `json:"name"`
		Price json.Number `json:"price"`
		Image string      `json:"image"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("variant option: %w", err)
	}

	label := raw.Value
	if label == "" {
		label = raw.Name
	}
	var price int64
	if raw.Price != "" {
		f, err := raw.Price.Float64()
		if err != nil {
			return fmt.Errorf("variant option %q price: %w", label, err)
		}
		price = int64(f)
	}
	*o = Option{Label: strings.TrimSpace(label), Price: price, Image: strings.TrimSpace(raw.Image)}
	return nil
}

// VariantGroup is an ordered set of options sharing one pricing rule.
type VariantGroup struct {
	Name    string    `json:"name"`
	Kind    GroupKind `json:"type"`
	Options []Option  `json:"options"`
}

// IsAdditive reports whether options in this group are supplements.
func (g VariantGroup) IsAdditive() bool { return g.Kind == GroupAdditive }

// Labels returns option labels in catalog order.
func (g VariantGroup) Labels() []string {
	labels := make([]string, 0, len(g.Options))
	for _, opt := range g.Options {
		labels = append(labels, opt.Label)
	}
	return labels
}

// UnmarshalJSON maps legacy kind names ("supplement") onto GroupAdditive and
// defaults unknown kinds to GroupFixed.
func (g *VariantGroup) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name    string   `json:"name"`
		Type    string   `json:"type"`
		Options []Option `json:"options"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("variant group: %w", err)
	}

	kind := GroupFixed
	switch strings.ToLower(strings.TrimSpace(raw.Type)) {
	case "additive", "supplement":
		kind = GroupAdditive
	}

	options := raw.Options[:0]
	for _, opt := range raw.Options {
		if opt.Label != "" {
			options = append(options, opt)
		}
	}
	*g = VariantGroup{Name: strings.TrimSpace(raw.Name), Kind: kind, Options: options}
	return nil
}

// Product is a catalog entry as seen by the fulfillment engine.
type Product struct {
	ID          uuid.UUID
	AgentID     uuid.UUID
	Name        string
	Description string
	AINotes     string
	Price       int64
	Type        ProductType
	Stock       int
	ImageURL    string
	Variants    []VariantGroup
}

// HasRealVariants reports whether at least one group offers options.
func (p Product) HasRealVariants() bool {
	for _, g := range p.Variants {
		if len(g.Options) > 0 {
			return true
		}
	}
	return false
}

// HasUnlimitedStock reports whether the stock sentinel is set.
func (p Product) HasUnlimitedStock() bool {
	return p.Stock < 0
}

// CanSupply reports whether quantity units can be taken from stock.
func (p Product) CanSupply(quantity int) bool {
	return p.HasUnlimitedStock() || quantity <= p.Stock
}

// DecodeVariants parses the stored JSON representation of variant groups.
// Empty input yields no groups.
func DecodeVariants(data []byte) ([]VariantGroup, error) {
	if len(strings.TrimSpace(string(data))) == 0 || string(data) == "null" {
		return nil, nil
	}
	var groups []VariantGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}
