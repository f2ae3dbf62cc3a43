package api

import (
	"net/http"

	"vigil/core"
	"vigil/incident"

	"github.com/gorilla/mux"
)

// CreateIncidentRequest opens an incident from an alert or from scratch
type CreateIncidentRequest struct {
	AlertID    string        `json:"alert_id" validate:"required_without=Title"`
	Title      string        `json:"title" validate:"max=512"`
	Severity   core.Severity `json:"severity"`
	AssignedTo string        `json:"assigned_to" validate:"max=256"`
	Actor      string        `json:"actor" validate:"required,max=256"`
}

// UpdateIncidentRequest changes status and/or assignee
type UpdateIncidentRequest struct {
	Status     *core.IncidentStatus `json:"status"`
	AssignedTo *string              `json:"assigned_to" validate:"omitempty,max=256"`
	Actor      string               `json:"actor" validate:"required,max=256"`
}

// AddNoteRequest appends to an incident's journal
type AddNoteRequest struct {
	Author string `json:"author" validate:"required,max=256"`
	Note   string `json:"note" validate:"required"`
}

// createIncident handles POST /api/v1/incidents
func (a *API) createIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	inc, err := a.incidents.Create(r.Context(), incident.CreateRequest{
		AlertID:    req.AlertID,
		Title:      req.Title,
		Severity:   req.Severity,
		AssignedTo: req.AssignedTo,
		Actor:      req.Actor,
	})
	if err != nil {
		a.respondError(w, err, "Failed to create incident")
		return
	}
	a.respondJSON(w, inc, http.StatusCreated)
}

// listIncidents handles GET /api/v1/incidents?status=&limit=
func (a *API) listIncidents(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		a.respondError(w, err, "Invalid limit")
		return
	}

	status := core.IncidentStatus(r.URL.Query().Get("status"))
	incidents, err := a.incidents.List(r.Context(), status, limit)
	if err != nil {
		a.respondError(w, err, "Failed to list incidents")
		return
	}
	a.respondJSON(w, incidents, http.StatusOK)
}

// getIncident handles GET /api/v1/incidents/{id}
func (a *API) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := a.incidents.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.respondError(w, err, "Failed to get incident")
		return
	}
	a.respondJSON(w, inc, http.StatusOK)
}

// updateIncident handles PATCH /api/v1/incidents/{id}
func (a *API) updateIncident(w http.ResponseWriter, r *http.Request) {
	var req UpdateIncidentRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	inc, err := a.incidents.Update(r.Context(), mux.Vars(r)["id"], incident.UpdateRequest{
		Status:     req.Status,
		AssignedTo: req.AssignedTo,
		Actor:      req.Actor,
	})
	if err != nil {
		a.respondError(w, err, "Failed to update incident")
		return
	}
	a.respondJSON(w, inc, http.StatusOK)
}

// addIncidentNote handles POST /api/v1/incidents/{id}/notes
func (a *API) addIncidentNote(w http.ResponseWriter, r *http.Request) {
	var req AddNoteRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	note, err := a.incidents.AddNote(r.Context(), mux.Vars(r)["id"], req.Author, req.Note)
	if err != nil {
		a.respondError(w, err, "Failed to add note")
		return
	}
	a.respondJSON(w, note, http.StatusCreated)
}
