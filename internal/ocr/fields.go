package ocr

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"invoice-engine/internal/domain/invoice"
	"invoice-engine/internal/extract"
)

// guess is a recovered header field together with how sure we are of it.
type guess[T any] struct {
	Value      T
	Confidence float64
	ok         bool
}

var (
	reInvoiceNo = regexp.MustCompile(`(?i)\binv(?:oice)?\.?\s*(no\.?|number|num|#|id)?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/.]*\d[A-Z0-9\-/]*)`)

	reDateLabel   = regexp.MustCompile(`(?i)\b(?:invoice\s+|issue\s+|bill\s+)?date\b`)
	reDateNumeric = regexp.MustCompile(`\b(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[./-]\d{1,2}[./-]\d{4})\b`)
	reDateText    = regexp.MustCompile(`(?i)\b(\d{1,2}[\s-]+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?[\s,-]+\d{4}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`)

	reVendorLabel = regexp.MustCompile(`(?i)^(?:from|vendor|supplier|seller|sold\s+by|bill\s+from)\s*[:\-]\s*(.+)$`)
	reNotVendor   = regexp.MustCompile(`(?i)\b(invoice|date|bill\s+to|ship\s+to|page|tax|vat|total|phone|tel|fax|e-?mail|www\.|http|due|customer|qty|quantity|description)\b|@`)

	reTaxID = regexp.MustCompile(`(?i)\b(?:VAT\s*(?:reg(?:istration)?\.?\s*)?(?:no\.?|number|id)?|tax\s*(?:id|no\.?|number)|TIN|GSTIN|GST\s*(?:no\.?|number)?|EIN|ABN)\s*[:#]?\s*([A-Z]{0,3}\d[0-9A-Z\-]{4,}[0-9A-Z])`)

	reCurrencyCode = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|CAD|AUD|CHF|INR|CNY|SEK|NOK|DKK|PLN|ZAR|AED|SAR|IDR|SGD|MYR)\b`)
	symbolCurrency = map[string]string{"€": "EUR", "£": "GBP", "¥": "JPY", "$": "USD"}
)

func guessInvoiceNumber(lines []string) guess[string] {
	for _, l := range lines {
		for _, m := range reInvoiceNo.FindAllStringSubmatch(l, -1) {
			v := strings.TrimRight(m[2], ".-/")
			if len(v) < 3 || looksLikeDate(v) {
				continue
			}
			conf := 0.7
			if m[1] != "" {
				conf = 0.9
			}
			return guess[string]{Value: v, Confidence: conf, ok: true}
		}
	}
	return guess[string]{}
}

func looksLikeDate(s string) bool {
	_, ok, _ := parseNumericDate(s)
	return ok
}

// guessInvoiceDate prefers a date on a "Date:" line over the first date in the text.
func guessInvoiceDate(lines []string) guess[time.Time] {
	var fallback guess[time.Time]
	for _, l := range lines {
		d, ambiguous, ok := findDate(l)
		if !ok {
			continue
		}
		conf := 0.6
		if reDateLabel.MatchString(l) && !strings.Contains(strings.ToLower(l), "due") {
			conf = 0.9
		}
		if ambiguous {
			conf -= 0.2
		}
		g := guess[time.Time]{Value: d, Confidence: conf, ok: true}
		if conf >= 0.7 {
			return g
		}
		if !fallback.ok {
			fallback = g
		}
	}
	return fallback
}

func findDate(line string) (time.Time, bool, bool) {
	if m := reDateNumeric.FindString(line); m != "" {
		if d, ok, amb := parseNumericDate(m); ok {
			return d, amb, true
		}
	}
	if m := reDateText.FindString(line); m != "" {
		if d, ok := parseTextDate(m); ok {
			return d, false, true
		}
	}
	return time.Time{}, false, false
}

// parseNumericDate handles 2024-03-05, 05/03/2024 and 05.03.2024. Day-first
// wins when both readings are valid; ambiguous reports that case.
func parseNumericDate(s string) (t time.Time, ok, ambiguous bool) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '/' || r == '.' })
	if len(parts) != 3 {
		return time.Time{}, false, false
	}
	n := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, false, false
		}
		n[i] = v
	}
	var y, m, d int
	switch {
	case len(parts[0]) == 4:
		y, m, d = n[0], n[1], n[2]
	case len(parts[2]) == 4:
		y = n[2]
		switch {
		case n[0] > 12:
			d, m = n[0], n[1]
		case n[1] > 12:
			m, d = n[0], n[1]
		default:
			d, m = n[0], n[1]
			ambiguous = n[0] != n[1]
		}
	default:
		return time.Time{}, false, false
	}
	t, ok = makeDate(y, m, d)
	return t, ok, ambiguous && ok
}

var textDateLayouts = []string{"2 January 2006", "2 Jan 2006", "January 2 2006", "Jan 2 2006"}

var reOrdinal = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)

func parseTextDate(s string) (time.Time, bool) {
	s = reOrdinal.ReplaceAllString(s, "$1")
	s = strings.NewReplacer(",", " ", "-", " ", ".", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if f := strings.Fields(s); len(f) == 3 {
		// "Sept" and friends: keep the first three letters of the month
		for i, w := range f {
			if _, err := strconv.Atoi(w); err != nil && len(w) > 3 {
				if _, err := time.Parse("January", w); err != nil {
					f[i] = w[:3]
				}
			}
		}
		s = strings.Join(f, " ")
	}
	for _, layout := range textDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func makeDate(y, m, d int) (time.Time, bool) {
	if y < 1900 || y > 2200 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return time.Time{}, false // 31 April rolls over
	}
	return t, true
}

// guessVendor takes a labeled vendor line, else the first header line that
// reads like a name.
func guessVendor(lines []string) guess[string] {
	for _, l := range lines {
		if m := reVendorLabel.FindStringSubmatch(l); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				return guess[string]{Value: v, Confidence: 0.85, ok: true}
			}
		}
	}
	for i, l := range lines {
		if i >= 5 {
			break
		}
		if reNotVendor.MatchString(l) || !mostlyLetters(l) {
			continue
		}
		return guess[string]{Value: strings.TrimSpace(l), Confidence: 0.5, ok: true}
	}
	return guess[string]{}
}

func mostlyLetters(s string) bool {
	var letters, other int
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r > 127:
			letters++
		case r == ' ' || r == '&' || r == '.' || r == ',' || r == '\'' || r == '-':
		default:
			other++
		}
	}
	return letters >= 3 && letters > 2*other
}

func guessTaxID(lines []string) guess[string] {
	for _, l := range lines {
		if m := reTaxID.FindStringSubmatch(l); m != nil {
			v := strings.TrimSpace(m[1])
			return guess[string]{Value: v, Confidence: 0.85, ok: true}
		}
	}
	return guess[string]{}
}

// guessCurrency votes ISO codes first; a bare symbol is the fallback.
func guessCurrency(text string) guess[string] {
	votes := map[string]int{}
	best, bestN := "", 0
	for _, m := range reCurrencyCode.FindAllString(strings.ToUpper(text), -1) {
		votes[m]++
		if votes[m] > bestN || (votes[m] == bestN && m < best) {
			best, bestN = m, votes[m]
		}
	}
	if best != "" {
		return guess[string]{Value: best, Confidence: 0.9, ok: true}
	}
	for _, sym := range []string{"€", "£", "¥", "$"} {
		if strings.Contains(text, sym) {
			conf := 0.7
			if sym == "$" {
				conf = 0.5 // USD, CAD, AUD, SGD...
			}
			return guess[string]{Value: symbolCurrency[sym], Confidence: conf, ok: true}
		}
	}
	return guess[string]{}
}

// guessTotal takes the last "Total"/"Amount due" line ending in an amount.
func guessTotal(lines []string, loc extract.Locale) guess[float64] {
	if loc == extract.LocaleAuto {
		loc = extract.DetectLocale(lines)
	}
	var g guess[float64]
	for _, l := range lines {
		c := extract.Classify(l, loc)
		if c.Summary != extract.SummaryTotal || !c.EndsInAmount {
			continue
		}
		g = guess[float64]{Value: c.Tail[len(c.Tail)-1].Value, Confidence: 0.8, ok: true}
	}
	return g
}

var (
	reHeurDate   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	reHeurCurr   = regexp.MustCompile(`(?i)\b(usd|eur|gbp|cad|aud|inr|jpy)\b|[$£€]`)
	reHeurAmount = regexp.MustCompile(`\b\d{1,3}([,.]\d{3})*[.,]\d{2}\b`)
)

// textConfidence scores how invoice-like the recognized text looks.
func textConfidence(text string) float64 {
	score := 0.2
	if reHeurDate.MatchString(text) {
		score += 0.2
	}
	if reHeurCurr.MatchString(text) {
		score += 0.15
	}
	if reHeurAmount.MatchString(text) {
		score += 0.15
	}
	if len(text) > 120 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// buildResult runs every field guess over the recognized lines.
func buildResult(lines []string, loc extract.Locale) invoice.OcrResult {
	text := strings.Join(lines, "\n")
	r := invoice.OcrResult{
		RawText:         text,
		LineItems:       []invoice.LineItem{},
		FieldConfidence: map[string]float64{},
	}
	var sum float64
	tracked := 0
	record := func(field string, conf float64, ok bool) {
		tracked++
		if ok {
			r.FieldConfidence[field] = conf
			sum += conf
		}
	}

	no := guessInvoiceNumber(lines)
	r.InvoiceNumber = no.Value
	record(invoice.FieldInvoiceNumber, no.Confidence, no.ok)

	if d := guessInvoiceDate(lines); d.ok {
		v := d.Value
		r.InvoiceDate = &v
		record(invoice.FieldInvoiceDate, d.Confidence, true)
	} else {
		record(invoice.FieldInvoiceDate, 0, false)
	}

	vendor := guessVendor(lines)
	r.VendorName = vendor.Value
	record(invoice.FieldVendorName, vendor.Confidence, vendor.ok)

	tax := guessTaxID(lines)
	r.VendorTaxID = tax.Value
	record(invoice.FieldVendorTaxID, tax.Confidence, tax.ok)

	cur := guessCurrency(text)
	r.Currency = cur.Value
	record(invoice.FieldCurrency, cur.Confidence, cur.ok)

	if t := guessTotal(lines, loc); t.ok {
		v := t.Value
		r.TotalAmount = &v
		record(invoice.FieldTotalAmount, t.Confidence, true)
	} else {
		record(invoice.FieldTotalAmount, 0, false)
	}

	fieldScore := sum / float64(tracked)
	r.ConfidenceScore = round4(0.7*fieldScore + 0.3*textConfidence(text))
	r.LowConfidence = r.ConfidenceScore < 0.5
	r.IsProcessed = r.HasUsableFields()
	if !r.IsProcessed {
		r.ErrorMessage = "no invoice fields could be recognized in the document"
	}
	return r
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
