// Package normalizer converts raw scraped text fields into typed values.
// Every function is pure: malformed or absent optional input degrades to
// an absent value, it never fails the record.
package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ybenali/salespipeline/logger"
)

var (
	nonPriceChars = regexp.MustCompile(`[^\d.,]`)
	leadingNumber = regexp.MustCompile(`\d+(\.\d+)?`)
	digitsOnly    = regexp.MustCompile(`\d+`)
)

// truthyMarkers and falsyMarkers enumerate the raw official-store
// indicators observed across the target sites
var (
	truthyMarkers = map[string]bool{
		"true": true, "1": true, "yes": true, "oui": true,
		"official": true, "official store": true, "boutique officielle": true,
	}
	falsyMarkers = map[string]bool{
		"false": true, "0": true, "no": true, "non": true,
		"non-official store": true, "": true,
	}
)

// Price parses a raw price string such as "1,229.00 Dhs", "1 249.00 DH"
// or "299,99 DH" into a decimal with two fractional digits.
func Price(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	// Spaces act as thousands separators on some sites
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = nonPriceChars.ReplaceAllString(s, "")
	if s == "" {
		return 0, false
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case hasComma && hasDot:
		if strings.Index(s, ",") < strings.Index(s, ".") {
			// 1,234.56 - comma is thousands
			s = strings.ReplaceAll(s, ",", "")
		} else {
			// 1.234,56 - dot is thousands, comma is decimal
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case hasComma:
		// 299,99 - comma decimal
		s = strings.Replace(s, ",", ".", 1)
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return round2(value), true
}

// Percent parses a discount string like "-39%" or "43%" into its
// non-negative magnitude.
func Percent(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "+")
	s = strings.Replace(s, ",", ".", 1)

	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	magnitude := math.Abs(value)
	if magnitude > 100 {
		return 0, false
	}
	return magnitude, true
}

// Rating parses "4.4", "3,9" or "4.4 out of 5" into a decimal.
// Values outside [0, 5] are treated as absent, never clamped silently.
func Rating(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	s = strings.Replace(s, ",", ".", 1)

	match := leadingNumber.FindString(s)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil || value < 0 || value > 5 {
		return 0, false
	}
	return value, true
}

// Count parses a review count such as "123" or "(123)". Absent input is
// absent, not zero: an unknown count is not the same as zero reviews.
func Count(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	match := digitsOnly.FindString(s)
	if match == "" {
		return 0, false
	}
	value, err := strconv.Atoi(match)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// Flag maps a raw truthy/falsy marker to a boolean. Unrecognized input
// defaults to false with a logged warning.
func Flag(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	if truthyMarkers[s] {
		return true
	}
	if falsyMarkers[s] {
		return false
	}
	logger.Warn("Unrecognized boolean marker %q, defaulting to false", raw)
	return false
}

// Timestamp parses a capture timestamp. Invalid input is absent; it is
// never defaulted to the current time, which would misdate the record.
func Timestamp(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
