package catalog

import "testing"

func TestDecodeVariantsNormalizesOptionShapes(t *testing.T) {
	raw := []byte(`[
		{"name":"Taille","type":"fixed","options":["Petite",{"value":"Grande","price":7000,"image":"https://cdn/x.jpg"}]},
		{"name":"Extras","type":"supplement","options":[{"name":"Fromage","price":"1000"},""]},
		{"name":"Vide","options":[]}
	]`)

	groups, err := DecodeVariants(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}

	size := groups[0]
	if size.Kind != GroupFixed || len(size.Options) != 2 {
		t.Fatalf("unexpected size group %+v", size)
	}
	if size.Options[0].Label != "Petite" || size.Options[0].HasPrice() {
		t.Fatalf("expected bare string option without price, got %+v", size.Options[0])
	}
	if size.Options[1].Price != 7000 || size.Options[1].Image == "" {
		t.Fatalf("expected priced option with image, got %+v", size.Options[1])
	}

	extras := groups[1]
	if !extras.IsAdditive() {
		t.Fatalf("expected legacy supplement kind to map to additive")
	}
	if len(extras.Options) != 1 || extras.Options[0].Label != "Fromage" || extras.Options[0].Price != 1000 {
		t.Fatalf("expected blank options dropped and name used as label, got %+v", extras.Options)
	}
}

func TestDecodeVariantsEmpty(t *testing.T) {
	for _, in := range []string{"", "null", "[]"} {
		groups, err := DecodeVariants([]byte(in))
		if err != nil || len(groups) != 0 {
			t.Fatalf("%q: expected no groups, got %v (%v)", in, groups, err)
		}
	}
}

func TestStockSentinel(t *testing.T) {
	p := Product{Stock: UnlimitedStock}
	if !p.CanSupply(1_000_000) {
		t.Fatalf("unlimited stock must always pass")
	}
	p.Stock = 2
	if !p.CanSupply(2) || p.CanSupply(3) {
		t.Fatalf("expected finite stock to allow 2 and reject 3")
	}
}
