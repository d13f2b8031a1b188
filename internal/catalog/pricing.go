package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// MissingGroup names a required variant group the customer has not chosen yet.
type MissingGroup struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

// MissingVariantError lists every unresolved non-additive group of a product.
type MissingVariantError struct {
	Product string
	Missing []MissingGroup
}

func (e *MissingVariantError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s: [%s]", m.Name, strings.Join(m.Options, ", ")))
	}
	return fmt.Sprintf("VARIANTES MANQUANTES pour %q. Demandez: %s", e.Product, strings.Join(parts, " | "))
}

// SelectedOption records which option was picked for a group.
type SelectedOption struct {
	Group  string
	Kind   GroupKind
	Option Option
}

// PriceQuote is a resolved unit price.
type PriceQuote struct {
	UnitPrice int64
	// Label joins the matched option labels in catalog order, e.g. "Grande, Fromage".
	Label    string
	Selected []SelectedOption
	// Trace explains each step, for diagnostics only.
	Trace []string
}

// ResolvePrice computes the unit price of p for the explicit group→label
// selections, falling back to option labels found in query for groups the
// explicit map leaves unresolved. It is a pure function of its inputs.
func ResolvePrice(p Product, explicit map[string]string, query string) (PriceQuote, error) {
	quote := PriceQuote{UnitPrice: p.Price}
	if !p.HasRealVariants() {
		quote.Trace = append(quote.Trace, fmt.Sprintf("no variants: base price %d", p.Price))
		return quote, nil
	}

	wanted := foldKeys(explicit)
	foldedQuery := Fold(query)
	chosen := make([]*Option, len(p.Variants))

	for i, g := range p.Variants {
		if len(g.Options) == 0 {
			continue
		}
		if value, ok := wanted[Fold(g.Name)]; ok {
			if opt, ok := MatchOption(g, value); ok {
				chosen[i] = &opt
				quote.Trace = append(quote.Trace, fmt.Sprintf("%s: explicit %q matched %q", g.Name, value, opt.Label))
				continue
			}
			quote.Trace = append(quote.Trace, fmt.Sprintf("%s: explicit %q matches no option", g.Name, value))
		}
		if opt, ok := optionInText(g, foldedQuery); ok {
			chosen[i] = &opt
			quote.Trace = append(quote.Trace, fmt.Sprintf("%s: %q found in query", g.Name, opt.Label))
		}
	}

	var missing []MissingGroup
	for i, g := range p.Variants {
		if len(g.Options) > 0 && !g.IsAdditive() && chosen[i] == nil {
			missing = append(missing, MissingGroup{Name: g.Name, Options: g.Labels()})
		}
	}
	if len(missing) > 0 {
		return PriceQuote{Trace: quote.Trace}, &MissingVariantError{Product: p.Name, Missing: missing}
	}

	base := p.Price
	var supplements int64
	labels := make([]string, 0, len(p.Variants))
	for i, g := range p.Variants {
		opt := chosen[i]
		if opt == nil {
			continue
		}
		switch {
		case g.IsAdditive():
			supplements += opt.Price
			quote.Trace = append(quote.Trace, fmt.Sprintf("%s: +%d supplement", g.Name, opt.Price))
		case opt.HasPrice():
			base = opt.Price
			quote.Trace = append(quote.Trace, fmt.Sprintf("%s: base replaced by %d", g.Name, opt.Price))
		default:
			quote.Trace = append(quote.Trace, fmt.Sprintf("%s: base kept at %d", g.Name, base))
		}
		labels = append(labels, opt.Label)
		quote.Selected = append(quote.Selected, SelectedOption{Group: g.Name, Kind: g.Kind, Option: *opt})
	}

	quote.UnitPrice = base + supplements
	quote.Label = strings.Join(labels, ", ")
	quote.Trace = append(quote.Trace, fmt.Sprintf("unit price %d = %d base + %d supplements", quote.UnitPrice, base, supplements))
	return quote, nil
}

// MatchOption finds the option of g matching value after folding: an exact
// match first, then containment in either direction.
func MatchOption(g VariantGroup, value string) (Option, bool) {
	needle := Fold(value)
	if needle == "" {
		return Option{}, false
	}
	for _, opt := range g.Options {
		if Fold(opt.Label) == needle {
			return opt, true
		}
	}
	for _, opt := range g.Options {
		label := Fold(opt.Label)
		if label == "" {
			continue
		}
		if strings.Contains(label, needle) || strings.Contains(needle, label) {
			return opt, true
		}
	}
	return Option{}, false
}

func optionInText(g VariantGroup, foldedText string) (Option, bool) {
	if foldedText == "" {
		return Option{}, false
	}
	for _, opt := range g.Options {
		label := Fold(opt.Label)
		if label != "" && strings.Contains(foldedText, label) {
			return opt, true
		}
	}
	return Option{}, false
}

// foldKeys indexes explicit selections by folded group name. When two keys
// fold to the same name the lexically smaller original key wins.
func foldKeys(explicit map[string]string) map[string]string {
	keys := make([]string, 0, len(explicit))
	for k := range explicit {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		folded := Fold(k)
		if _, exists := out[folded]; exists {
			continue
		}
		if v := strings.TrimSpace(explicit[k]); v != "" {
			out[folded] = v
		}
	}
	return out
}
