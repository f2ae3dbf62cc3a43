// Package incident manages MDR incidents: creation from alerts or by hand,
// status and assignment changes with an append-only note journal, and
// automatic promotion of severe alerts.
package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vigil/core"
	"vigil/metrics"
	"vigil/storage"

	"go.uber.org/zap"
)

// Field limits
const (
	MaxTitleLength = 256
	MaxNoteLength  = 16 << 10
)

// Store persists incidents and their notes
type Store interface {
	CreateIncident(ctx context.Context, inc *core.Incident) error
	GetIncident(ctx context.Context, id string) (*core.Incident, error)
	ListIncidents(ctx context.Context, status core.IncidentStatus, limit int) ([]*core.Incident, error)
	UpdateIncident(ctx context.Context, id string, fn func(*core.Incident) error) (*core.Incident, error)
}

// AlertGetter loads the alert an incident is promoted from
type AlertGetter interface {
	GetAlert(ctx context.Context, id string) (*core.Alert, error)
}

// Config controls auto-promotion
type Config struct {
	AutoPromote bool
	// Threshold is the minimum alert severity that is promoted automatically
	Threshold core.Severity
}

// CreateRequest describes a new incident. Either AlertID or Title and
// Severity must be set.
type CreateRequest struct {
	AlertID    string
	Title      string
	Severity   core.Severity
	AssignedTo string
	Actor      string
}

// UpdateRequest changes status and/or assignee. Nil fields are left alone.
type UpdateRequest struct {
	Status     *core.IncidentStatus
	AssignedTo *string
	Actor      string
}

// Manager implements incident operations
type Manager struct {
	store  Store
	alerts AlertGetter
	cfg    Config
	logger *zap.SugaredLogger
}

// NewManager creates an incident manager
func NewManager(store Store, alerts AlertGetter, cfg Config, logger *zap.SugaredLogger) *Manager {
	if !cfg.Threshold.IsValid() {
		cfg.Threshold = core.SeverityHigh
	}
	return &Manager{store: store, alerts: alerts, cfg: cfg, logger: logger}
}

// Create opens an incident. Promoting an alert that already has an incident
// is a validation error.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*core.Incident, error) {
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, core.NewValidationError("actor", "actor is required")
	}

	var inc *core.Incident
	if req.AlertID != "" {
		alert, err := m.alerts.GetAlert(ctx, req.AlertID)
		if err != nil {
			return nil, err
		}
		inc = fromAlert(alert, actor, core.TriggerSourceManual)
	} else {
		title := strings.TrimSpace(req.Title)
		if title == "" {
			return nil, core.NewValidationError("title", "title or alert_id is required")
		}
		if len(title) > MaxTitleLength {
			return nil, core.NewValidationError("title", "title exceeds %d characters", MaxTitleLength)
		}
		if !req.Severity.IsValid() {
			return nil, core.NewValidationError("severity", "invalid severity %q", req.Severity)
		}
		inc = core.NewIncident(title, req.Severity, actor)
		inc.AddNote(actor, fmt.Sprintf("incident opened by %s", actor))
	}

	if assignee := strings.TrimSpace(req.AssignedTo); assignee != "" {
		inc.Assign(assignee, actor)
	}

	if err := m.store.CreateIncident(ctx, inc); err != nil {
		if errors.Is(err, storage.ErrAlertAlreadyPromoted) {
			return nil, core.NewValidationError("alert_id", "alert %s already has an incident", req.AlertID)
		}
		return nil, err
	}
	metrics.IncidentsCreated.WithLabelValues(inc.TriggerSource).Inc()

	m.logger.Infow("Incident created",
		"incident_id", inc.ID, "alert_id", inc.AlertID, "severity", inc.Severity, "created_by", actor)
	return inc, nil
}

// Update changes status and/or assignee. Every status change and every
// reassignment is journaled with the actor.
func (m *Manager) Update(ctx context.Context, id string, req UpdateRequest) (*core.Incident, error) {
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return nil, core.NewValidationError("actor", "actor is required")
	}
	if req.Status == nil && req.AssignedTo == nil {
		return nil, core.NewValidationError("", "status or assigned_to is required")
	}
	if req.Status != nil && !req.Status.IsValid() {
		return nil, core.NewValidationError("status", "invalid status %q", *req.Status)
	}

	inc, err := m.store.UpdateIncident(ctx, id, func(inc *core.Incident) error {
		if req.Status != nil {
			inc.SetStatus(*req.Status, actor)
		}
		if req.AssignedTo != nil {
			inc.Assign(strings.TrimSpace(*req.AssignedTo), actor)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Infow("Incident updated", "incident_id", id, "status", inc.Status, "assigned_to", inc.AssignedTo, "actor", actor)
	return inc, nil
}

// AddNote appends a note to the journal
func (m *Manager) AddNote(ctx context.Context, id, author, content string) (*core.IncidentNote, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, core.NewValidationError("author", "author is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, core.NewValidationError("note", "note is required")
	}
	if len(content) > MaxNoteLength {
		return nil, core.NewValidationError("note", "note exceeds %d bytes", MaxNoteLength)
	}

	var note core.IncidentNote
	if _, err := m.store.UpdateIncident(ctx, id, func(inc *core.Incident) error {
		note = inc.AddNote(author, content)
		return nil
	}); err != nil {
		return nil, err
	}
	return &note, nil
}

// Get returns an incident with its notes
func (m *Manager) Get(ctx context.Context, id string) (*core.Incident, error) {
	return m.store.GetIncident(ctx, id)
}

// List returns incidents newest first, optionally filtered by status
func (m *Manager) List(ctx context.Context, status core.IncidentStatus, limit int) ([]*core.Incident, error) {
	if status != "" && !status.IsValid() {
		return nil, core.NewValidationError("status", "invalid status %q", status)
	}
	if limit < 0 {
		return nil, core.NewValidationError("limit", "limit must not be negative")
	}
	return m.store.ListIncidents(ctx, status, limit)
}

// PromoteAlert opens an incident for a newly created alert when
// auto-promotion is enabled and the alert meets the threshold. It returns
// nil without error when the alert does not qualify or was already promoted.
func (m *Manager) PromoteAlert(ctx context.Context, alert *core.Alert) (*core.Incident, error) {
	if !m.cfg.AutoPromote || !alert.Severity.AtLeast(m.cfg.Threshold) {
		return nil, nil
	}

	inc := fromAlert(alert, core.SystemActor, core.TriggerSourceAutomatic)
	if err := m.store.CreateIncident(ctx, inc); err != nil {
		if errors.Is(err, storage.ErrAlertAlreadyPromoted) {
			return nil, nil
		}
		return nil, err
	}
	metrics.IncidentsCreated.WithLabelValues(inc.TriggerSource).Inc()

	m.logger.Infow("Alert auto-promoted to incident",
		"incident_id", inc.ID, "alert_id", alert.ID, "severity", alert.Severity, "threshold", m.cfg.Threshold)
	return inc, nil
}

func fromAlert(alert *core.Alert, actor, trigger string) *core.Incident {
	title := alert.Description
	if title == "" {
		title = fmt.Sprintf("Alert %s", alert.DetectorKey())
	}
	title = core.TruncateUTF8(title, MaxTitleLength)

	inc := core.NewIncident(title, alert.Severity, actor)
	inc.AlertID = alert.ID
	inc.TriggerSource = trigger
	inc.AddNote(actor, fmt.Sprintf("incident opened from alert %s (%s) by %s", alert.ID, alert.DetectorKey(), actor))
	return inc
}
