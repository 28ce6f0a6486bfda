package utils

import (
	"strconv"
	"strings"
)

// IsValidStockID reports whether id is a 4-digit numeric ordinary-issue id.
// ETFs, warrants and preferred shares use other shapes and are dropped.
func IsValidStockID(id string) bool {
	if len(id) != 4 {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ParseWireFloat parses an exchange numeric field that may carry commas
// or the "--" no-trade sentinel. ok is false for sentinel/empty/bad input.
func ParseWireFloat(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" || s == "--" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseWireInt parses an exchange integer field, tolerating commas and
// fractional wire values.
func ParseWireInt(s string) (int64, bool) {
	v, ok := ParseWireFloat(s)
	if !ok {
		return 0, false
	}
	return int64(v), true
}
