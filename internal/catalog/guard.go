package catalog

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// PriceTolerance is the relative distance accepted between a quoted
	// amount and a derivable catalog price.
	PriceTolerance = 0.05
	// minQuotedAmount ignores small numbers such as quantities or times.
	minQuotedAmount = 50
	maxMultiple     = 100
	// maxAdditiveSubset bounds the combinations enumerated per product.
	maxAdditiveSubset = 10
)

var amountPattern = regexp.MustCompile(`(?i)(?:^|[\s\-:;(])(\d[\d\s.,]*)\s*(?:F\s?CFA|CFA|XOF|francs?)\b`)

// PriceFinding is an amount in generated text that no catalog price explains.
type PriceFinding struct {
	Amount  int64 `json:"amount"`
	Nearest int64 `json:"nearest"`
}

// IntegrityReport summarizes one scan.
type IntegrityReport struct {
	Checked  int
	Findings []PriceFinding
}

// OK reports whether every quoted amount was explained by the catalog.
func (r IntegrityReport) OK() bool { return len(r.Findings) == 0 }

// CheckPrices scans text for currency amounts and flags those not within
// PriceTolerance of a catalog-derivable price or a whole multiple of one.
// It never blocks anything; callers log the findings.
func CheckPrices(text string, products []Product) IntegrityReport {
	amounts := ExtractAmounts(text)
	report := IntegrityReport{}
	if len(amounts) == 0 {
		return report
	}

	candidates := DerivablePrices(products)
	for _, amount := range amounts {
		report.Checked++
		if explained(amount, candidates) {
			continue
		}
		report.Findings = append(report.Findings, PriceFinding{Amount: amount, Nearest: nearest(amount, candidates)})
	}
	return report
}

// ExtractAmounts returns the currency amounts quoted in text, in order.
// Space, dot and comma are treated as thousands separators.
func ExtractAmounts(text string) []int64 {
	matches := amountPattern.FindAllStringSubmatch(text, -1)
	out := make([]int64, 0, len(matches))
	for _, m := range matches {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, m[1])
		if digits == "" {
			continue
		}
		value, err := strconv.ParseInt(digits, 10, 64)
		if err != nil || value < minQuotedAmount {
			continue
		}
		out = append(out, value)
	}
	return out
}

// DerivablePrices lists every unit price the catalog can produce: base
// prices, option prices, and each effective base plus additive combinations.
func DerivablePrices(products []Product) []int64 {
	set := make(map[int64]struct{})
	add := func(v int64) {
		if v > 0 {
			set[v] = struct{}{}
		}
	}

	for _, p := range products {
		bases := []int64{p.Price}
		var additive []int64
		for _, g := range p.Variants {
			for _, opt := range g.Options {
				if !opt.HasPrice() {
					continue
				}
				add(opt.Price)
				if g.IsAdditive() {
					additive = append(additive, opt.Price)
				} else {
					bases = append(bases, opt.Price)
				}
			}
		}

		sums := additiveSums(additive)
		for _, base := range bases {
			add(base)
			for _, s := range sums {
				add(base + s)
			}
		}
	}

	out := make([]int64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func additiveSums(prices []int64) []int64 {
	if len(prices) == 0 {
		return nil
	}
	if len(prices) > maxAdditiveSubset {
		return prices
	}
	sums := make([]int64, 0, 1<<len(prices))
	for mask := 1; mask < 1<<len(prices); mask++ {
		var total int64
		for i, p := range prices {
			if mask&(1<<i) != 0 {
				total += p
			}
		}
		sums = append(sums, total)
	}
	return sums
}

func explained(amount int64, candidates []int64) bool {
	a := float64(amount)
	for _, c := range candidates {
		cf := float64(c)
		if math.Abs(a-cf) <= PriceTolerance*cf {
			return true
		}
		k := math.Round(a / cf)
		if k >= 2 && k <= maxMultiple && math.Abs(a-k*cf) <= PriceTolerance*k*cf {
			return true
		}
	}
	return false
}

func nearest(amount int64, candidates []int64) int64 {
	var best int64
	bestDist := int64(math.MaxInt64)
	for _, c := range candidates {
		d := c - amount
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
