// Package extract rebuilds invoice line items and summary totals from raw OCR
// text. Everything here is pure: the same text always yields the same Result.
//
// The pipeline has three stages, each usable on its own:
//
//	Lines / Tokenize  ->  Classify  ->  extractItem / Parse
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Locale selects the decimal separator.
type Locale int

const (
	LocaleAuto  Locale = iota // pick by majority across the document
	LocaleDot                 // 1,234.56
	LocaleComma               // 1.234,56
)

func (l Locale) String() string {
	switch l {
	case LocaleDot:
		return "dot"
	case LocaleComma:
		return "comma"
	default:
		return "auto"
	}
}

// ParseLocale maps "dot"/"en" and "comma"/"eu" hints; anything else is auto.
func ParseLocale(s string) Locale {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dot", "en", "en-us", "en-gb", ".":
		return LocaleDot
	case "comma", "eu", "de", "fr", "es", "it", "nl", "pt", ",":
		return LocaleComma
	default:
		return LocaleAuto
	}
}

type TokenKind int

const (
	TokenWord TokenKind = iota
	TokenNumber
	TokenQtyMarker // x, ×, @, *
	TokenPercent
	TokenCurrency // bare currency code or symbol
)

type Token struct {
	Text string
	Kind TokenKind
}

var (
	reInlineQty = regexp.MustCompile(`(?i)(\d)\s*[x×@*]\s*([$€£¥]?\d)`)
	reNumeric   = regexp.MustCompile(`^[-(]?[$€£¥]?[-]?\d[\d.,]*[$€£¥]?\)?$`)
	rePercent   = regexp.MustCompile(`^-?\d+([.,]\d+)?%$`)

	currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY"}
	currencyCodes   = []string{"USD", "EUR", "GBP", "JPY", "CAD", "AUD", "CHF", "INR", "CNY", "SEK", "NOK", "DKK", "PLN", "ZAR", "AED", "SAR", "IDR", "SGD", "MYR"}
)

// Lines splits raw text into trimmed, non-empty lines.
func Lines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Tokenize splits one line into typed tokens. "2x10.00" and "2 × 10.00" both
// become [2, x, 10.00].
func Tokenize(line string) []Token {
	line = reInlineQty.ReplaceAllString(line, "$1 x $2")
	fields := strings.Fields(line)
	out := make([]Token, 0, len(fields))
	for _, f := range fields {
		out = append(out, Token{Text: f, Kind: kindOf(f)})
	}
	return out
}

func kindOf(f string) TokenKind {
	switch {
	case f == "x" || f == "X" || f == "×" || f == "@" || f == "*":
		return TokenQtyMarker
	case rePercent.MatchString(f):
		return TokenPercent
	case isCurrencyToken(f):
		return TokenCurrency
	case reNumeric.MatchString(f):
		return TokenNumber
	default:
		return TokenWord
	}
}

func isCurrencyToken(f string) bool {
	if _, ok := currencySymbols[f]; ok {
		return true
	}
	up := strings.ToUpper(strings.Trim(f, ":"))
	for _, c := range currencyCodes {
		if up == c {
			return true
		}
	}
	return false
}

// currencyOf returns the ISO code implied by a token, or "".
func currencyOf(f string) string {
	for sym, code := range currencySymbols {
		if strings.Contains(f, sym) {
			return code
		}
	}
	up := strings.ToUpper(strings.Trim(f, ":"))
	for _, c := range currencyCodes {
		if up == c {
			return c
		}
	}
	return ""
}

// Number is a parsed numeric token.
type Number struct {
	Value float64
	// Money is set when the token looks like a monetary amount: a two-digit
	// fraction or an attached currency symbol.
	Money    bool
	Integral bool
}

var (
	reDotGrouped   = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	reDotPlain     = regexp.MustCompile(`^\d+(\.\d+)?$`)
	reCommaGrouped = regexp.MustCompile(`^\d{1,3}(\.\d{3})+(,\d+)?$`)
	reCommaPlain   = regexp.MustCompile(`^\d+(,\d+)?$`)
	reFraction2    = regexp.MustCompile(`[.,]\d{2}$`)
)

// ParseNumber parses a numeric token under the given (resolved) locale.
// It accepts currency symbols, a leading minus and accounting parentheses.
func ParseNumber(tok string, loc Locale) (Number, bool) {
	s := tok
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	hasSym := false
	s = strings.TrimFunc(s, func(r rune) bool {
		if _, ok := currencySymbols[string(r)]; ok {
			hasSym = true
			return true
		}
		return false
	})
	if strings.HasPrefix(s, "-") {
		neg = !neg
		s = s[1:]
	}
	// symbol may follow the sign: -$5.00
	s = strings.TrimFunc(s, func(r rune) bool {
		if _, ok := currencySymbols[string(r)]; ok {
			hasSym = true
			return true
		}
		return false
	})
	if s == "" || !unicode.IsDigit(rune(s[0])) {
		return Number{}, false
	}

	var norm string
	switch loc {
	case LocaleComma:
		switch {
		case reCommaGrouped.MatchString(s), reCommaPlain.MatchString(s):
			norm = strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
		default:
			return Number{}, false
		}
	default:
		switch {
		case reDotGrouped.MatchString(s), reDotPlain.MatchString(s):
			norm = strings.ReplaceAll(s, ",", "")
		default:
			return Number{}, false
		}
	}
	v, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return Number{}, false
	}
	if neg {
		v = -v
	}
	frac := reFraction2.MatchString(s) && decimalSep(s, loc)
	return Number{
		Value:    v,
		Money:    frac || hasSym,
		Integral: !strings.ContainsRune(norm, '.'),
	}, true
}

// decimalSep reports whether the two-digit tail of s is separated by the
// locale's decimal separator rather than a grouping one.
func decimalSep(s string, loc Locale) bool {
	sep := byte('.')
	if loc == LocaleComma {
		sep = ','
	}
	return len(s) >= 3 && s[len(s)-3] == sep
}

var (
	reDotVote   = regexp.MustCompile(`^[-(]?[$€£¥]?(\d{1,3}(,\d{3})+|\d+)\.\d{2}[$€£¥)]?$`)
	reCommaVote = regexp.MustCompile(`^[-(]?[$€£¥]?(\d{1,3}(\.\d{3})+|\d+),\d{2}[$€£¥)]?$`)
)

// DetectLocale picks the decimal separator used by most two-decimal tokens in
// lines. Ties, including no evidence at all, resolve to LocaleDot.
func DetectLocale(lines []string) Locale {
	var dot, comma int
	for _, l := range lines {
		for _, f := range strings.Fields(l) {
			switch {
			case reDotVote.MatchString(f):
				dot++
			case reCommaVote.MatchString(f):
				comma++
			}
		}
	}
	if comma > dot {
		return LocaleComma
	}
	return LocaleDot
}
