package core

import "strings"

// Severity is the ordered severity scale shared by rules, alerts and incidents.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the position of the severity on the scale, 0 for unknown values.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is greater than or equal to threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank() && s.IsValid()
}

// ParseSeverity normalizes case and whitespace. The result may be invalid.
func ParseSeverity(s string) Severity {
	return Severity(strings.ToLower(strings.TrimSpace(s)))
}
