package extract

import (
	"math"
)

// Options tune Parse. The zero value detects the locale from the text.
type Options struct {
	Locale Locale
	// SumTolerance is the relative deviation between the item sum and the
	// stated subtotal/total above which item confidence is lowered. Default 0.01.
	SumTolerance float64
}

// Item is one reconstructed line item.
type Item struct {
	Line        int // index into Lines(text)
	Description string
	Quantity    float64
	UnitPrice   float64
	Amount      float64
	Confidence  float64
	Fallbacks   int
}

// Summary holds the invoice footer values; nil means not found.
type Summary struct {
	Subtotal *float64
	Tax      *float64
	Discount *float64
	Total    *float64
}

type Result struct {
	Items    []Item
	Summary  Summary
	Locale   Locale
	Currency string
	// Confidence is the mean item confidence, 0 without items.
	Confidence    float64
	LowConfidence bool
	// SumMismatch is set when the items do not add up to the stated subtotal/total.
	SumMismatch bool
}

const (
	lowConfidenceThreshold = 0.5
	mismatchPenalty        = 0.8
	// fallbackWeight makes an amount-only row (two fallbacks) score 0.4.
	fallbackWeight = 0.75
)

// Parse runs the full pipeline over raw OCR text. It never panics on
// malformed input; the worst case is an empty result flagged LowConfidence.
func Parse(text string, opts Options) Result {
	lines := Lines(text)
	loc := opts.Locale
	if loc == LocaleAuto {
		loc = DetectLocale(lines)
	}
	tol := opts.SumTolerance
	if tol <= 0 {
		tol = 0.01
	}

	res := Result{Locale: loc, Items: []Item{}}
	currencyVotes := map[string]int{}
	for idx, line := range lines {
		c := Classify(line, loc)
		if c.Currency != "" {
			currencyVotes[c.Currency]++
		}
		if c.Summary != SummaryNone {
			applySummary(&res.Summary, c)
			continue
		}
		if !c.EndsInAmount {
			continue
		}
		it := extractItem(c)
		it.Line = idx
		res.Items = append(res.Items, it)
	}
	res.Currency = pickCurrency(currencyVotes)

	if ref := referenceTotal(res.Summary); ref != nil && len(res.Items) > 0 {
		var sum float64
		for _, it := range res.Items {
			sum += it.Amount
		}
		if deviates(sum, *ref, tol) {
			res.SumMismatch = true
			for i := range res.Items {
				res.Items[i].Confidence = round4(res.Items[i].Confidence * mismatchPenalty)
			}
		}
	}

	if len(res.Items) > 0 {
		var total float64
		for _, it := range res.Items {
			total += it.Confidence
		}
		res.Confidence = round4(total / float64(len(res.Items)))
	}
	res.LowConfidence = len(res.Items) == 0 || res.Confidence < lowConfidenceThreshold
	return res
}

// extractItem segments a classified line into description, quantity, unit
// price and amount. Sub-fields that cannot be matched stay zero and count as
// fallbacks.
func extractItem(c Class) Item {
	it := Item{Description: c.Head}
	tail := c.Tail
	fallbacks := 0

	switch {
	case c.QtyMarker && len(tail) == 2:
		// "2 x 10.00": no printed amount
		it.Quantity, it.UnitPrice = tail[0].Value, tail[1].Value
		it.Amount = round2(it.Quantity * it.UnitPrice)
		fallbacks++
	case len(tail) >= 3:
		n := len(tail)
		it.Quantity, it.UnitPrice, it.Amount = tail[n-3].Value, tail[n-2].Value, tail[n-1].Value
		if deviates(it.Quantity*it.UnitPrice, it.Amount, 0.005) {
			fallbacks++
		}
	case len(tail) == 2:
		it.Amount = tail[1].Value
		first := tail[0]
		if first.Integral && first.Value != 0 {
			it.Quantity = first.Value
			it.UnitPrice = round2(it.Amount / first.Value)
		} else {
			it.UnitPrice = first.Value
			if first.Value != 0 {
				if q := it.Amount / first.Value; math.Abs(q-math.Round(q)) < 0.01 {
					it.Quantity = math.Round(q)
				}
			}
		}
		fallbacks++
	default:
		it.Amount = tail[len(tail)-1].Value
		fallbacks += 2
	}
	if it.Description == "" {
		fallbacks++
	}
	it.Fallbacks = fallbacks
	it.Confidence = round4(1 / (1 + fallbackWeight*float64(fallbacks)))
	return it
}

func applySummary(s *Summary, c Class) {
	if !c.EndsInAmount || len(c.Tail) == 0 {
		return
	}
	v := c.Tail[len(c.Tail)-1].Value
	switch c.Summary {
	case SummarySubtotal:
		s.Subtotal = &v
	case SummaryTax:
		// several tax lines (e.g. state + federal) add up
		if s.Tax != nil {
			v += *s.Tax
		}
		s.Tax = &v
	case SummaryDiscount:
		v = math.Abs(v)
		s.Discount = &v
	case SummaryTotal:
		// the last total printed wins (e.g. "Total" then "Amount due")
		s.Total = &v
	}
}

// referenceTotal is what the items should add up to: the subtotal when
// printed, otherwise the total minus tax plus discount.
func referenceTotal(s Summary) *float64 {
	if s.Subtotal != nil {
		return s.Subtotal
	}
	if s.Total == nil {
		return nil
	}
	v := *s.Total
	if s.Tax != nil {
		v -= *s.Tax
	}
	if s.Discount != nil {
		v += *s.Discount
	}
	return &v
}

func pickCurrency(votes map[string]int) string {
	best, bestN := "", 0
	for _, code := range currencyCodes {
		if n := votes[code]; n > bestN {
			best, bestN = code, n
		}
	}
	return best
}

func deviates(got, want, rel float64) bool {
	diff := math.Abs(got - want)
	if diff < 0.005 {
		return false
	}
	if want == 0 {
		return true
	}
	return diff/math.Abs(want) > rel
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
