package collector

import "strconv"

// parseFloat parses a price/size string defensively; upstream sends these
// as strings rather than native numbers on several endpoints.
func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
