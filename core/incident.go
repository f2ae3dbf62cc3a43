package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus represents the current state of an incident
type IncidentStatus string

const (
	IncidentStatusOpen         IncidentStatus = "open"
	IncidentStatusAcknowledged IncidentStatus = "acknowledged"
	IncidentStatusResolved     IncidentStatus = "resolved"
)

// IsValid checks if the incident status is valid
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusAcknowledged, IncidentStatusResolved:
		return true
	}
	return false
}

// Trigger sources recorded on incidents
const (
	TriggerSourceManual    = "manual"
	TriggerSourceAutomatic = "auto_promotion"
)

// SystemActor is the author of notes written by automation.
const SystemActor = "system"

// IncidentNote is one entry of an incident's append-only journal
type IncidentNote struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Incident is an MDR case. Incidents are never hard-deleted.
type Incident struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Severity      Severity       `json:"severity"`
	Status        IncidentStatus `json:"status"`
	AssignedTo    string         `json:"assigned_to"`
	AlertID       string         `json:"alert_id,omitempty"`
	TriggerSource string         `json:"trigger_source"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Notes         []IncidentNote `json:"notes"`
}

// NewIncident creates an open incident
func NewIncident(title string, severity Severity, createdBy string) *Incident {
	now := time.Now().UTC()
	return &Incident{
		ID:            GenerateIncidentID(now),
		Title:         title,
		Severity:      severity,
		Status:        IncidentStatusOpen,
		TriggerSource: TriggerSourceManual,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		Notes:         []IncidentNote{},
	}
}

// GenerateIncidentID generates an id in the format INC-YYYYMMDD-XXXXXXXX
func GenerateIncidentID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("INC-%s-%s", now.Format("20060102"), suffix)
}

// AddNote appends a note and bumps UpdatedAt. It returns the new note.
func (i *Incident) AddNote(author, content string) IncidentNote {
	now := time.Now().UTC()
	note := IncidentNote{
		ID:        uuid.New().String(),
		Author:    author,
		Content:   content,
		CreatedAt: now,
	}
	i.Notes = append(i.Notes, note)
	i.UpdatedAt = now
	return note
}

// SetStatus changes the status and journals the transition. A request for the
// current status is journaled too. It returns false when the status did not change.
func (i *Incident) SetStatus(status IncidentStatus, actor string) bool {
	if i.Status == status {
		i.AddNote(actor, fmt.Sprintf("status confirmed as %s by %s", status, actor))
		return false
	}
	old := i.Status
	i.Status = status
	i.AddNote(actor, fmt.Sprintf("status changed from %s to %s by %s", old, status, actor))
	return true
}

// Assign changes the assignee and journals the change. It returns false when nothing changed.
func (i *Incident) Assign(assignee, actor string) bool {
	if i.AssignedTo == assignee {
		return false
	}
	old := i.AssignedTo
	i.AssignedTo = assignee
	switch {
	case assignee == "":
		i.AddNote(actor, fmt.Sprintf("unassigned from %s by %s", old, actor))
	case old == "":
		i.AddNote(actor, fmt.Sprintf("assigned to %s by %s", assignee, actor))
	default:
		i.AddNote(actor, fmt.Sprintf("reassigned from %s to %s by %s", old, assignee, actor))
	}
	return true
}
