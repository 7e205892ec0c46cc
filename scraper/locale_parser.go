package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LocaleParser reads prices, ratings and counts written in different regional formats
type LocaleParser struct {
	number   *regexp.Regexp
	decimal  *regexp.Regexp
	integer  *regexp.Regexp
	currency []currencyPattern
}

type currencyPattern struct {
	re   *regexp.Regexp
	code string
}

// Currencies quoted without minor units, where "1.250" means one thousand two hundred fifty
var zeroDecimal = map[string]bool{"UGX": true, "KES": true, "NGN": true}

// NewLocaleParser creates a new locale-aware parser
func NewLocaleParser() *LocaleParser {
	return &LocaleParser{
		// digits with grouping separators; non-breaking spaces are used as thousands separators
		number:  regexp.MustCompile(`\d[\d.,\x{00a0}\x{202f}]*\d|\d`),
		decimal: regexp.MustCompile(`\d+(?:[.,]\d+)?`),
		integer: regexp.MustCompile(`\d[\d,.]*`),
		currency: []currencyPattern{
			{regexp.MustCompile(`(?i)\bUGX\b|\bUSh`), "UGX"},
			{regexp.MustCompile(`(?i)\bKES\b|\bKSh`), "KES"},
			{regexp.MustCompile(`(?i)\bNGN\b|₦`), "NGN"},
			{regexp.MustCompile(`(?i)\bEUR\b|€`), "EUR"},
			{regexp.MustCompile(`(?i)\bGBP\b|£`), "GBP"},
			{regexp.MustCompile(`(?i)\bUSD\b|US\$|\$`), "USD"},
		},
	}
}

// ParsePrice extracts the first price in text. fallbackCurrency decides
// ambiguous separators when the text carries no currency marker.
func (lp *LocaleParser) ParsePrice(text, fallbackCurrency string) (float64, string, error) {
	text = strings.TrimSpace(text)
	raw := lp.number.FindString(text)
	if raw == "" {
		return 0, "", fmt.Errorf("no valid price pattern found in: %q", text)
	}

	currency := lp.DetectCurrency(text)
	if currency == "" {
		currency = strings.ToUpper(fallbackCurrency)
	}

	value, err := strconv.ParseFloat(cleanNumberString(raw, currency), 64)
	if err != nil {
		return 0, "", fmt.Errorf("unparsable price %q: %w", raw, err)
	}
	return value, currency, nil
}

// DetectCurrency returns the ISO code of the first currency marker in text
func (lp *LocaleParser) DetectCurrency(text string) string {
	for _, p := range lp.currency {
		if p.re.MatchString(text) {
			return p.code
		}
	}
	return ""
}

// ParseRating reads a star rating and clamps it to 0-5
func (lp *LocaleParser) ParseRating(text string) float64 {
	m := lp.decimal.FindString(text)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

// ParseCount reads an integer such as a review count, ignoring grouping
func (lp *LocaleParser) ParseCount(text string) int {
	m := lp.integer.FindString(text)
	if m == "" {
		return 0
	}
	m = strings.NewReplacer(",", "", ".", "").Replace(m)
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// cleanNumberString converts a locale-specific number to standard decimal notation
func cleanNumberString(s, currency string) string {
	s = strings.NewReplacer("\u00a0", "", "\u202f", "").Replace(s)
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56
			return strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
		}
		// 1,234.56
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if isGrouped(s, ",") {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.ReplaceAll(s, ",", ".")
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || (zeroDecimal[currency] && isGrouped(s, ".")) {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// isGrouped reports whether sep splits s into thousands groups
func isGrouped(s, sep string) bool {
	parts := strings.Split(s, sep)
	if len(parts) < 2 || len(parts[0]) == 0 || len(parts[0]) > 3 {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 3 {
			return false
		}
	}
	return true
}
