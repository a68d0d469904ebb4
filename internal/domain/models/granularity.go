package models

// Granularity represents the calendar resolution of a series.
type Granularity string

const (
	Annual  Granularity = "year"
	Monthly Granularity = "month"
)

// IsValidGranularity returns true if g is a supported granularity.
func IsValidGranularity(g Granularity) bool {
	switch g {
	case Annual, Monthly:
		return true
	default:
		return false
	}
}
