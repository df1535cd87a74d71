package extract

import (
	"regexp"
	"strings"
)

// SummaryKind identifies an invoice summary line.
type SummaryKind int

const (
	SummaryNone SummaryKind = iota
	SummarySubtotal
	SummaryTax
	SummaryDiscount
	SummaryTotal
)

func (k SummaryKind) String() string {
	switch k {
	case SummarySubtotal:
		return "subtotal"
	case SummaryTax:
		return "tax"
	case SummaryDiscount:
		return "discount"
	case SummaryTotal:
		return "total"
	default:
		return "none"
	}
}

// Order matters: "subtotal" must win over "total".
var summaryPatterns = []struct {
	kind SummaryKind
	re   *regexp.Regexp
}{
	{SummarySubtotal, regexp.MustCompile(`(?i)\bsub[\s-]?total\b|\bnet\s+amount\b`)},
	{SummaryDiscount, regexp.MustCompile(`(?i)\bdiscount\b|\brebate\b`)},
	{SummaryTax, regexp.MustCompile(`(?i)\b(tax|vat|gst|hst|sales\s+tax)\b`)},
	{SummaryTotal, regexp.MustCompile(`(?i)\btotal\b|\bamount\s+due\b|\bbalance\s+due\b`)},
}

// Class is the classification of one line.
type Class struct {
	Tokens []Token
	// Head is the leading text before the numeric tail.
	Head string
	// Tail holds the parsed numbers at the end of the line, in order.
	Tail []Number
	// QtyMarker is set when the tail contains an explicit "x" / "@" marker.
	QtyMarker bool
	Currency  string

	Summary      SummaryKind
	EndsInAmount bool
	HasQtyPrice  bool
}

// Classify tokenizes line and decides what it can be used for. loc must be
// resolved (not LocaleAuto).
func Classify(line string, loc Locale) Class {
	c := Class{Tokens: Tokenize(line)}

	// Walk backwards over the numeric tail: numbers, markers, percents and currency tags.
	i := len(c.Tokens)
tail:
	for i > 0 {
		t := c.Tokens[i-1]
		switch t.Kind {
		case TokenNumber:
			n, ok := ParseNumber(t.Text, loc)
			if !ok {
				break tail
			}
			c.Tail = append(c.Tail, n)
			if cur := currencyOf(t.Text); cur != "" && c.Currency == "" {
				c.Currency = cur
			}
		case TokenQtyMarker:
			c.QtyMarker = true
		case TokenCurrency:
			if c.Currency == "" {
				c.Currency = currencyOf(t.Text)
			}
		case TokenPercent:
		default:
			break tail
		}
		i--
	}
	// collected back to front
	for l, r := 0, len(c.Tail)-1; l < r; l, r = l+1, r-1 {
		c.Tail[l], c.Tail[r] = c.Tail[r], c.Tail[l]
	}

	words := make([]string, 0, i)
	for _, t := range c.Tokens[:i] {
		words = append(words, t.Text)
	}
	c.Head = strings.TrimRight(strings.Join(words, " "), ":-–. ")

	if len(c.Tail) > 0 {
		last := c.Tokens[len(c.Tokens)-1]
		lastNum := c.Tail[len(c.Tail)-1]
		// a trailing currency code ("20.00 EUR") still counts as ending in an amount
		c.EndsInAmount = lastNum.Money && (last.Kind == TokenNumber || last.Kind == TokenCurrency)
	}
	c.HasQtyPrice = c.EndsInAmount && (len(c.Tail) >= 3 || (c.QtyMarker && len(c.Tail) >= 2))
	c.Summary = summaryKind(c.Head)
	return c
}

func summaryKind(head string) SummaryKind {
	if head == "" {
		return SummaryNone
	}
	for _, p := range summaryPatterns {
		if p.re.MatchString(head) {
			return p.kind
		}
	}
	return SummaryNone
}
