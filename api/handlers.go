package api

import (
	"context"
	"net/http"
	"time"
)

const (
	defaultQueryLimit = 100
	defaultStatsHours = 24
)

// search handles GET /api/v1/search?q=&ip=&agent_id=&limit=
func (a *API) search(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultQueryLimit)
	if err != nil {
		a.respondError(w, err, "Invalid limit")
		return
	}

	q := r.URL.Query()
	events, err := a.query.Search(r.Context(), q.Get("q"), q.Get("ip"), q.Get("agent_id"), limit)
	if err != nil {
		a.respondError(w, err, "Search failed")
		return
	}
	a.respondJSON(w, events, http.StatusOK)
}

// listEvents handles GET /api/v1/events?ip=&agent_id=&limit=
func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultQueryLimit)
	if err != nil {
		a.respondError(w, err, "Invalid limit")
		return
	}

	q := r.URL.Query()
	events, err := a.query.ListEvents(r.Context(), q.Get("ip"), q.Get("agent_id"), limit)
	if err != nil {
		a.respondError(w, err, "Failed to list events")
		return
	}
	a.respondJSON(w, events, http.StatusOK)
}

// listAlerts handles GET /api/v1/alerts?ip=&agent_id=&limit=
func (a *API) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultQueryLimit)
	if err != nil {
		a.respondError(w, err, "Invalid limit")
		return
	}

	q := r.URL.Query()
	alerts, err := a.query.ListAlerts(r.Context(), q.Get("ip"), q.Get("agent_id"), limit)
	if err != nil {
		a.respondError(w, err, "Failed to list alerts")
		return
	}
	a.respondJSON(w, alerts, http.StatusOK)
}

// stats handles GET /api/v1/stats?hours=
func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	hours, err := intQuery(r, "hours", defaultStatsHours)
	if err != nil {
		a.respondError(w, err, "Invalid hours")
		return
	}

	stats, err := a.query.Stats(r.Context(), hours)
	if err != nil {
		a.respondError(w, err, "Failed to compute stats")
		return
	}
	a.respondJSON(w, stats, http.StatusOK)
}

// healthCheck handles GET /health
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.health.HealthCheck(ctx); err != nil {
			a.logger.Warnw("Health check failed", "error", err)
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	response := map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if a.hub != nil {
		response["stream_clients"] = a.hub.ClientCount()
	}
	a.respondJSON(w, response, code)
}
