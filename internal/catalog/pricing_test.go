package catalog

import (
	"errors"
	"reflect"
	"testing"
)

func pizza() Product {
	return Product{
		Name:  "Pizza Royale",
		Price: 5000,
		Type:  ProductPhysical,
		Stock: UnlimitedStock,
		Variants: []VariantGroup{
			{Name: "Size", Kind: GroupFixed, Options: []Option{{Label: "Medium", Price: 5000}, {Label: "Large", Price: 7000}}},
			{Name: "Extra", Kind: GroupAdditive, Options: []Option{{Label: "Cheese", Price: 1000}, {Label: "Mushroom", Price: 500}}},
		},
	}
}

func TestResolvePriceFixedPlusAdditive(t *testing.T) {
	quote, err := ResolvePrice(pizza(), map[string]string{"Size": "Large", "Extra": "Cheese"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.UnitPrice != 8000 {
		t.Fatalf("expected 8000, got %d", quote.UnitPrice)
	}
	if quote.Label != "Large, Cheese" {
		t.Fatalf("expected label %q, got %q", "Large, Cheese", quote.Label)
	}
	if len(quote.Trace) == 0 {
		t.Fatalf("expected a decision trace")
	}
}

func TestResolvePriceMissingFixedGroup(t *testing.T) {
	_, err := ResolvePrice(pizza(), map[string]string{"Extra": "Cheese"}, "Pizza Royale")

	var missing *MissingVariantError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingVariantError, got %v", err)
	}
	if len(missing.Missing) != 1 || missing.Missing[0].Name != "Size" {
		t.Fatalf("expected only Size to be missing, got %+v", missing.Missing)
	}
	if !reflect.DeepEqual(missing.Missing[0].Options, []string{"Medium", "Large"}) {
		t.Fatalf("expected options verbatim, got %v", missing.Missing[0].Options)
	}
}

func TestResolvePriceIsCaseInsensitive(t *testing.T) {
	quote, err := ResolvePrice(pizza(), map[string]string{"size": "large"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.UnitPrice != 7000 {
		t.Fatalf("expected 7000, got %d", quote.UnitPrice)
	}
}

func TestResolvePriceFallsBackToQuery(t *testing.T) {
	quote, err := ResolvePrice(pizza(), nil, "Pizza Royale Large svp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.UnitPrice != 7000 {
		t.Fatalf("expected 7000 via query fallback, got %d", quote.UnitPrice)
	}
}

func TestResolvePriceWithoutVariantsIgnoresSelections(t *testing.T) {
	p := Product{Name: "Ebook", Price: 3500, Type: ProductDigital}
	quote, err := ResolvePrice(p, map[string]string{"Size": "Large", "Color": "Red"}, "Ebook Large")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.UnitPrice != 3500 {
		t.Fatalf("expected base price 3500, got %d", quote.UnitPrice)
	}
	if quote.Label != "" {
		t.Fatalf("expected no label, got %q", quote.Label)
	}
}

func TestResolvePriceZeroDeltaKeepsBase(t *testing.T) {
	p := Product{
		Name:  "T-shirt",
		Price: 4000,
		Variants: []VariantGroup{
			{Name: "Couleur", Kind: GroupFixed, Options: []Option{{Label: "Bleu marine"}, {Label: "Rouge"}}},
		},
	}
	quote, err := ResolvePrice(p, map[string]string{"couleur": "marine"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.UnitPrice != 4000 {
		t.Fatalf("expected base kept at 4000, got %d", quote.UnitPrice)
	}
	if quote.Label != "Bleu marine" {
		t.Fatalf("expected containment match on Bleu marine, got %q", quote.Label)
	}
}

func TestResolvePriceStripsDiacritics(t *testing.T) {
	p := Product{
		Name:  "Poulet",
		Price: 3000,
		Variants: []VariantGroup{
			{Name: "Sauce", Kind: GroupFixed, Options: []Option{{Label: "Épicée", Price: 3500}, {Label: "Douce"}}},
		},
	}
	quote, err := ResolvePrice(p, map[string]string{"SAUCE": " epicee "}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.UnitPrice != 3500 {
		t.Fatalf("expected 3500, got %d", quote.UnitPrice)
	}
}

func TestResolvePriceUnmatchedExplicitIsMissing(t *testing.T) {
	_, err := ResolvePrice(pizza(), map[string]string{"Size": "Gigantic"}, "")
	var missing *MissingVariantError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingVariantError for unknown option, got %v", err)
	}
}

func TestMissingVariantNeverListsAdditiveGroups(t *testing.T) {
	_, err := ResolvePrice(pizza(), nil, "")
	var missing *MissingVariantError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingVariantError, got %v", err)
	}
	for _, m := range missing.Missing {
		if m.Name == "Extra" {
			t.Fatalf("additive group must never be reported missing")
		}
	}
}

func TestResolvePriceIsDeterministic(t *testing.T) {
	selection := map[string]string{"Size": "Medium", "Extra": "Mushroom", "extra": "Cheese"}
	first, firstErr := ResolvePrice(pizza(), selection, "pizza medium")
	for i := 0; i < 50; i++ {
		again, err := ResolvePrice(pizza(), selection, "pizza medium")
		if (err == nil) != (firstErr == nil) {
			t.Fatalf("error outcome changed on run %d", i)
		}
		if again.UnitPrice != first.UnitPrice || again.Label != first.Label {
			t.Fatalf("run %d gave %d/%q, want %d/%q", i, again.UnitPrice, again.Label, first.UnitPrice, first.Label)
		}
	}
}

func TestMatchOptionPrefersExactOverContainment(t *testing.T) {
	g := VariantGroup{Name: "Taille", Options: []Option{{Label: "Grande taille"}, {Label: "Grande"}}}
	opt, ok := MatchOption(g, "grande")
	if !ok || opt.Label != "Grande" {
		t.Fatalf("expected exact match Grande, got %+v (ok=%v)", opt, ok)
	}
	if _, ok := MatchOption(g, "  "); ok {
		t.Fatalf("blank value must not match")
	}
}
