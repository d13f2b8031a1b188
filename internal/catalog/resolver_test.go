package catalog

import "testing"

func menu() []Product {
	return []Product{
		{Name: "Pizza Margherita", Description: "tomate mozzarella"},
		{Name: "Pizza Royale", Description: "jambon champignons"},
		{Name: "Jus de bissap", AINotes: "boisson fraiche hibiscus"},
		{Name: "Attiéké poisson"},
	}
}

func TestResolveProductExactNameWins(t *testing.T) {
	m, ok := ResolveProduct("pizza royale", menu())
	if !ok {
		t.Fatalf("expected a match")
	}
	if m.Product.Name != "Pizza Royale" || m.Score != 100 {
		t.Fatalf("expected Pizza Royale with 100, got %s with %d", m.Product.Name, m.Score)
	}
}

func TestResolveProductContainment(t *testing.T) {
	m, ok := ResolveProduct("Une Pizza Royale grande taille", menu())
	if !ok || m.Product.Name != "Pizza Royale" || m.Score != 50 {
		t.Fatalf("expected containment match on Pizza Royale, got %+v ok=%v", m, ok)
	}
}

func TestResolveProductTieKeepsFirstCandidate(t *testing.T) {
	m, ok := ResolveProduct("pizza", menu())
	if !ok {
		t.Fatalf("expected a match")
	}
	if m.Product.Name != "Pizza Margherita" {
		t.Fatalf("expected first candidate on tie, got %s", m.Product.Name)
	}
}

func TestResolveProductUsesDescriptionBonus(t *testing.T) {
	m, ok := ResolveProduct("jus hibiscus boisson fraiche", menu())
	if !ok {
		t.Fatalf("expected a match")
	}
	// one name token (10) plus four tokens found in name+notes (2 each)
	if m.Product.Name != "Jus de bissap" || m.Score != 18 {
		t.Fatalf("expected Jus de bissap with 18, got %s with %d", m.Product.Name, m.Score)
	}

	if _, ok := ResolveProduct("hibiscus boisson", menu()); ok {
		t.Fatalf("notes-only tokens (score 4) must stay below the threshold")
	}
}

func TestResolveProductRejectsLowScores(t *testing.T) {
	if _, ok := ResolveProduct("voiture", menu()); ok {
		t.Fatalf("expected no match for unrelated query")
	}
	if _, ok := ResolveProduct("   ", menu()); ok {
		t.Fatalf("expected no match for blank query")
	}
	if _, ok := ResolveProduct("pizza", nil); ok {
		t.Fatalf("expected no match on empty catalog")
	}
}

func TestResolvedWinnerHasMaximumScore(t *testing.T) {
	products := menu()
	queries := []string{"pizza jambon", "royale", "bissap", "attiéké", "jus fraiche", "margherita tomate"}
	for _, q := range queries {
		m, ok := ResolveProduct(q, products)
		needle := q
		terms := searchTerms(needle)
		maxScore := 0
		for _, p := range products {
			if s := Score(needle, terms, p); s > maxScore {
				maxScore = s
			}
		}
		if maxScore < MinMatchScore {
			if ok {
				t.Fatalf("%q: expected failure when max score %d is below threshold", q, maxScore)
			}
			continue
		}
		if !ok || m.Score != maxScore {
			t.Fatalf("%q: expected winner with score %d, got %+v ok=%v", q, maxScore, m, ok)
		}
	}
}
