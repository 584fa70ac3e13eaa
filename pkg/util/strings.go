package util

import "strings"

// NormalizeLocation lower-cases a location name and collapses inner whitespace
// so that "SoHo  NYC" and "soho nyc" share forecasts.
func NormalizeLocation(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
