package core

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IndicatorType represents the type of Indicator of Compromise
type IndicatorType string

const (
	IndicatorTypeIP     IndicatorType = "ip"
	IndicatorTypeDomain IndicatorType = "domain"
	IndicatorTypeSHA256 IndicatorType = "sha256"
)

// IsValid checks if the indicator type is supported
func (t IndicatorType) IsValid() bool {
	switch t {
	case IndicatorTypeIP, IndicatorTypeDomain, IndicatorTypeSHA256:
		return true
	}
	return false
}

var (
	// Domain pattern - lowercase labels, TLD of at least two letters
	domainPattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	sha256Pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// Maximum lengths for indicator fields
const (
	MaxIndicatorValueLength  = 253
	MaxIndicatorSourceLength = 256
	MaxIndicatorNoteLength   = 4096
)

// Indicator is a threat-intelligence artifact matched against every ingested event.
type Indicator struct {
	ID        string        `json:"id"`
	Type      IndicatorType `json:"type"`
	Value     string        `json:"value"`
	Source    string        `json:"source"`
	Note      string        `json:"note"`
	CreatedAt time.Time     `json:"created_at"`
}

// NormalizeIndicatorValue returns the canonical form used for storage and matching.
func NormalizeIndicatorValue(t IndicatorType, value string) string {
	value = strings.TrimSpace(value)
	switch t {
	case IndicatorTypeIP:
		if addr, err := netip.ParseAddr(value); err == nil {
			return addr.String()
		}
		return value
	case IndicatorTypeDomain:
		return strings.TrimSuffix(strings.ToLower(value), ".")
	case IndicatorTypeSHA256:
		return strings.ToLower(value)
	}
	return value
}

// ValidateIndicatorValue validates an already normalized value for its type.
func ValidateIndicatorValue(t IndicatorType, value string) error {
	if value == "" {
		return NewValidationError("value", "indicator value cannot be empty")
	}
	if len(value) > MaxIndicatorValueLength {
		return NewValidationError("value", "indicator value exceeds %d characters", MaxIndicatorValueLength)
	}

	switch t {
	case IndicatorTypeIP:
		if _, err := netip.ParseAddr(value); err != nil {
			return NewValidationError("value", "invalid IP address %q", value)
		}
	case IndicatorTypeDomain:
		if !domainPattern.MatchString(value) {
			return NewValidationError("value", "invalid domain format %q", value)
		}
	case IndicatorTypeSHA256:
		if !sha256Pattern.MatchString(value) {
			return NewValidationError("value", "invalid sha256 (must be 64 hex characters)")
		}
	default:
		return NewValidationError("type", "unsupported indicator type %q", t)
	}
	return nil
}

// NewIndicator validates and normalizes the input and returns a new Indicator.
func NewIndicator(t IndicatorType, value, source, note string) (*Indicator, error) {
	if !t.IsValid() {
		return nil, NewValidationError("type", "unsupported indicator type %q", t)
	}
	normalized := NormalizeIndicatorValue(t, value)
	if err := ValidateIndicatorValue(t, normalized); err != nil {
		return nil, err
	}
	if len(source) > MaxIndicatorSourceLength {
		return nil, NewValidationError("source", "source exceeds %d characters", MaxIndicatorSourceLength)
	}
	if len(note) > MaxIndicatorNoteLength {
		return nil, NewValidationError("note", "note exceeds %d characters", MaxIndicatorNoteLength)
	}

	return &Indicator{
		ID:        uuid.New().String(),
		Type:      t,
		Value:     normalized,
		Source:    strings.TrimSpace(source),
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// String returns "type:value", used in logs.
func (i *Indicator) String() string {
	return fmt.Sprintf("%s:%s", i.Type, i.Value)
}
