package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	currencyPattern = regexp.MustCompile(`(?i)[€$£]|eur|chf`)
	numberPattern   = regexp.MustCompile(`\d[\d.,]*`)
	thousandsDots   = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
	decimalComma    = regexp.MustCompile(`,\d{1,2}$`)
	sizePattern     = regexp.MustCompile(`(?i)(\d[\d.,]*)\s*(?:m2|sqm|qm)`)
	roomsPattern    = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// NormalizeText applies Unicode compatibility normalisation, trims and
// collapses runs of whitespace to a single space.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// ParsePrice extracts an amount from free text such as "€ 1.200,50",
// "1,200.50 EUR" or "850,- / Monat". It returns nil when no number is
// found.
func ParsePrice(text string) *float64 {
	cleaned := currencyPattern.ReplaceAllString(NormalizeText(text), "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")

	return parseNumber(numberPattern.FindString(cleaned))
}

// parseNumber reads a number written with either "." or "," as the
// decimal separator and the other as the thousands separator.
func parseNumber(token string) *float64 {
	token = strings.TrimRight(token, ".,")
	if token == "" {
		return nil
	}

	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Whichever separator comes last is the decimal point
		if lastComma > lastDot {
			token = strings.ReplaceAll(token, ".", "")
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastComma >= 0:
		if decimalComma.MatchString(token) && strings.Count(token, ",") == 1 {
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastDot >= 0:
		if thousandsDots.MatchString(token) {
			token = strings.ReplaceAll(token, ".", "")
		}
	}

	return parseFloat(token)
}

// ParseSize extracts the floor area in square metres from text such as
// "65,5 m²", "1.200 m²" or "80 sqm". The unit is required.
func ParseSize(text string) *float64 {
	match := sizePattern.FindStringSubmatch(NormalizeText(text))
	if match == nil {
		return nil
	}
	return parseNumber(match[1])
}

// ParseRooms extracts the first number from text such as "3 Zimmer" or
// "2,5 rooms".
func ParseRooms(text string) *float64 {
	cleaned := strings.ReplaceAll(NormalizeText(text), ",", ".")
	return parseFloat(roomsPattern.FindString(cleaned))
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
