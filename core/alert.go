package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertKind tells which detector raised an alert.
type AlertKind string

const (
	AlertKindRule      AlertKind = "rule"
	AlertKindIndicator AlertKind = "indicator"
)

// Alert records one detector match against one event.
type Alert struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	Kind            AlertKind `json:"kind"`
	RuleID          string    `json:"rule_id,omitempty"`
	IndicatorID     string    `json:"indicator_id,omitempty"`
	IndicatorSource string    `json:"indicator_source,omitempty"`
	Severity        Severity  `json:"severity"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewRuleAlert creates an alert for a rule match.
func NewRuleAlert(event *Event, rule *Rule) *Alert {
	return &Alert{
		ID:          uuid.New().String(),
		EventID:     event.ID,
		Kind:        AlertKindRule,
		RuleID:      rule.ID,
		Severity:    rule.Severity,
		Description: rule.Description,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewIndicatorAlert creates an alert for an indicator match.
func NewIndicatorAlert(event *Event, ind *Indicator, severity Severity) *Alert {
	return &Alert{
		ID:              uuid.New().String(),
		EventID:         event.ID,
		Kind:            AlertKindIndicator,
		IndicatorID:     ind.ID,
		IndicatorSource: ind.Source,
		Severity:        severity,
		Description:     fmt.Sprintf("indicator match %s", ind),
		CreatedAt:       time.Now().UTC(),
	}
}

// DetectorKey identifies the detector; (EventID, DetectorKey) is unique per alert.
func (a *Alert) DetectorKey() string {
	if a.Kind == AlertKindIndicator {
		return "indicator:" + a.IndicatorID
	}
	return "rule:" + a.RuleID
}
