package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vigil/core"
	"vigil/ingest"
	"vigil/metrics"

	"go.uber.org/zap"
)

// EventStore persists events together with their alerts
type EventStore interface {
	SaveEvent(ctx context.Context, event *core.Event, alerts []*core.Alert) ([]*core.Alert, error)
	GetEvent(ctx context.Context, id string) (*core.Event, error)
}

// AlertInserter stores alerts for events that already exist
type AlertInserter interface {
	InsertAlerts(ctx context.Context, alerts []*core.Alert) ([]*core.Alert, error)
}

// RuleEvaluator returns the rules matching an event
type RuleEvaluator interface {
	Evaluate(event *core.Event) []*core.Rule
}

// IndicatorMatcher returns the indicators matching an event
type IndicatorMatcher interface {
	Match(event *core.Event) []*core.Indicator
}

// AlertPromoter turns qualifying alerts into incidents
type AlertPromoter interface {
	PromoteAlert(ctx context.Context, alert *core.Alert) (*core.Incident, error)
}

// AlertPublisher receives every newly created alert. Publish must not block.
type AlertPublisher interface {
	Publish(alert *core.Alert, event *core.Event)
}

// PipelineConfig holds ingest limits and detection settings
type PipelineConfig struct {
	MaxMessageBytes int
	MaxSourceLength int
	// IndicatorSeverity is the severity given to indicator alerts
	IndicatorSeverity core.Severity
}

// IngestResult is returned for every stored event
type IngestResult struct {
	EventID       string        `json:"event_id"`
	AlertsCreated []*core.Alert `json:"alerts_created"`
}

// BatchItemResult is the outcome of one payload of a batch
type BatchItemResult struct {
	Index         int           `json:"index"`
	EventID       string        `json:"event_id,omitempty"`
	AlertsCreated []*core.Alert `json:"alerts_created,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Pipeline runs normalize, detect, persist, promote and publish for each event
type Pipeline struct {
	normalizer *ingest.Normalizer
	events     EventStore
	alerts     AlertInserter
	rules      RuleEvaluator
	indicators IndicatorMatcher
	promoter   AlertPromoter
	publishers []AlertPublisher
	cfg        PipelineConfig
	logger     *zap.SugaredLogger
}

// NewPipeline creates an ingest pipeline. promoter may be nil to disable auto-promotion.
func NewPipeline(normalizer *ingest.Normalizer, events EventStore, alerts AlertInserter, rules RuleEvaluator,
	indicators IndicatorMatcher, promoter AlertPromoter, cfg PipelineConfig, logger *zap.SugaredLogger) *Pipeline {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 256 << 10
	}
	if cfg.MaxSourceLength <= 0 {
		cfg.MaxSourceLength = 128
	}
	if !cfg.IndicatorSeverity.IsValid() {
		cfg.IndicatorSeverity = core.SeverityHigh
	}
	return &Pipeline{
		normalizer: normalizer,
		events:     events,
		alerts:     alerts,
		rules:      rules,
		indicators: indicators,
		promoter:   promoter,
		cfg:        cfg,
		logger:     logger,
	}
}

// AddPublisher registers a sink for newly created alerts
func (p *Pipeline) AddPublisher(pub AlertPublisher) {
	p.publishers = append(p.publishers, pub)
}

// Ingest validates, normalizes, evaluates and stores one payload. Alerts are
// written in the same transaction as the event.
func (p *Pipeline) Ingest(ctx context.Context, payload ingest.Payload) (*IngestResult, error) {
	start := time.Now()
	defer func() {
		metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	if err := p.validate(payload); err != nil {
		metrics.IngestRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	event := p.normalizer.Normalize(payload)
	alerts := p.detect(event)

	inserted, err := p.events.SaveEvent(ctx, event, alerts)
	if errors.Is(err, core.ErrValidation) {
		metrics.IngestRejected.WithLabelValues("validation").Inc()
		return nil, err
	}
	if err != nil {
		metrics.IngestRejected.WithLabelValues("storage").Inc()
		p.logger.Errorw("Failed to store event", "event_id", event.ID, "source", event.Source, "error", err)
		return nil, err
	}
	metrics.EventsIngested.WithLabelValues(event.Source).Inc()

	p.afterCommit(ctx, event, inserted)
	return &IngestResult{EventID: event.ID, AlertsCreated: inserted}, nil
}

// IngestBatch ingests each payload independently; one failure does not stop the rest
func (p *Pipeline) IngestBatch(ctx context.Context, payloads []ingest.Payload) []BatchItemResult {
	results := make([]BatchItemResult, 0, len(payloads))
	for i, payload := range payloads {
		item := BatchItemResult{Index: i}
		res, err := p.Ingest(ctx, payload)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.EventID = res.EventID
			item.AlertsCreated = res.AlertsCreated
		}
		results = append(results, item)
	}
	return results
}

// Reevaluate runs detection again over a stored event. Alerts that already
// exist for the event are not duplicated; only new ones are returned.
func (p *Pipeline) Reevaluate(ctx context.Context, eventID string) (*IngestResult, error) {
	event, err := p.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	inserted, err := p.alerts.InsertAlerts(ctx, p.detect(event))
	if err != nil {
		p.logger.Errorw("Failed to store re-evaluated alerts", "event_id", eventID, "error", err)
		return nil, err
	}

	p.afterCommit(ctx, event, inserted)
	return &IngestResult{EventID: event.ID, AlertsCreated: inserted}, nil
}

func (p *Pipeline) validate(payload ingest.Payload) error {
	source := strings.TrimSpace(payload.Source)
	if source == "" {
		return core.NewValidationError("source", "source is required")
	}
	if len(source) > p.cfg.MaxSourceLength {
		return core.NewValidationError("source", "source exceeds %d characters", p.cfg.MaxSourceLength)
	}
	if payload.Message == "" && len(payload.Fields) == 0 {
		return core.NewValidationError("message", "message or fields are required")
	}
	if len(payload.Message) > p.cfg.MaxMessageBytes {
		return core.NewValidationError("message", "message exceeds %d bytes", p.cfg.MaxMessageBytes)
	}
	return nil
}

// detect builds one alert per matching rule, then one per matching indicator
func (p *Pipeline) detect(event *core.Event) []*core.Alert {
	alerts := make([]*core.Alert, 0)
	for _, rule := range p.rules.Evaluate(event) {
		alerts = append(alerts, core.NewRuleAlert(event, rule))
	}
	for _, ind := range p.indicators.Match(event) {
		alerts = append(alerts, core.NewIndicatorAlert(event, ind, p.cfg.IndicatorSeverity))
	}
	return alerts
}

// afterCommit promotes and publishes alerts the store reported as new.
// Failures here never fail the ingest.
func (p *Pipeline) afterCommit(ctx context.Context, event *core.Event, inserted []*core.Alert) {
	for _, alert := range inserted {
		metrics.AlertsCreated.WithLabelValues(string(alert.Kind), string(alert.Severity)).Inc()
		p.logger.Infow("Alert created",
			"alert_id", alert.ID, "event_id", event.ID, "detector", alert.DetectorKey(), "severity", alert.Severity)

		if p.promoter != nil {
			if _, err := p.promoter.PromoteAlert(ctx, alert); err != nil {
				p.logger.Errorw("Auto-promotion failed", "alert_id", alert.ID, "error", err)
			}
		}
		for _, pub := range p.publishers {
			pub.Publish(alert, event)
		}
	}
}

// String describes the pipeline configuration for startup logs
func (p *Pipeline) String() string {
	return fmt.Sprintf("pipeline(max_message=%dB, indicator_severity=%s, publishers=%d)",
		p.cfg.MaxMessageBytes, p.cfg.IndicatorSeverity, len(p.publishers))
}
