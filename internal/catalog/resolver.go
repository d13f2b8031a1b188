package catalog

import "strings"

// MinMatchScore is the lowest score a candidate needs to be accepted.
const MinMatchScore = 10

// Match is the outcome of resolving a free-text name against a catalog.
type Match struct {
	Product Product
	Score   int
}

// ResolveProduct picks the product best matching query. Scoring:
//
//	100  lowercased names are equal
//	 50  one name contains the other
//	10×n n query tokens (longer than two runes) appear in the product name;
//	     below 20 this is topped up with 2× the tokens found in
//	     name + description + AI notes
//
// The first candidate with the highest score wins. ok is false when no
// candidate reaches MinMatchScore.
func ResolveProduct(query string, products []Product) (Match, bool) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return Match{}, false
	}
	terms := searchTerms(needle)

	best := Match{}
	found := false
	for _, p := range products {
		score := Score(needle, terms, p)
		if !found || score > best.Score {
			best = Match{Product: p, Score: score}
			found = true
		}
	}

	if !found || best.Score < MinMatchScore {
		return Match{}, false
	}
	return best, true
}

// Score rates one candidate. needle must already be lowercased and trimmed,
// terms derived from it with searchTerms.
func Score(needle string, terms []string, p Product) int {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		return 0
	}
	if name == needle {
		return 100
	}
	if strings.Contains(needle, name) || strings.Contains(name, needle) {
		return 50
	}

	score := 10 * countContained(terms, name)
	if score < 20 {
		text := strings.ToLower(p.Name + " " + p.Description + " " + p.AINotes)
		score += 2 * countContained(terms, text)
	}
	return score
}

func searchTerms(needle string) []string {
	fields := strings.Fields(needle)
	terms := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

func countContained(terms []string, haystack string) int {
	n := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			n++
		}
	}
	return n
}

// Names lists product names in catalog order, for "available products" hints.
func Names(products []Product) []string {
	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
	}
	return names
}
