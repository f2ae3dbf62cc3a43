// Package api exposes the vigil HTTP interface: producer ingest, the agent
// control plane, operator endpoints for indicators and incidents, queries,
// a live alert stream, health and metrics.
package api

import (
	"context"
	"net/http"

	"vigil/config"
	"vigil/core"
	"vigil/incident"
	"vigil/ingest"
	"vigil/service"
	"vigil/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ingester runs payloads through normalization, detection and storage
type Ingester interface {
	Ingest(ctx context.Context, payload ingest.Payload) (*service.IngestResult, error)
	IngestBatch(ctx context.Context, payloads []ingest.Payload) []service.BatchItemResult
	Reevaluate(ctx context.Context, eventID string) (*service.IngestResult, error)
}

// EndpointController is the agent control plane
type EndpointController interface {
	Register(ctx context.Context, hostname string, metadata map[string]string) (*core.Agent, error)
	Heartbeat(ctx context.Context, agentID string) error
	Telemetry(ctx context.Context, agentID, message string, fields map[string]string, logType string) (*service.IngestResult, error)
	PollActions(ctx context.Context, agentID string) ([]*core.Action, error)
	ReportResult(ctx context.Context, actionID string, status core.ActionStatus, result, agentID string) (*core.Action, error)
	EnqueueAction(ctx context.Context, agentID string, actionType core.ActionType, params map[string]string, requestedBy string) (*core.Action, error)
	ListEndpoints(ctx context.Context) ([]*core.Agent, error)
	ActionHistory(ctx context.Context, agentID string, limit int) ([]*core.Action, error)
}

// IndicatorCatalog manages threat-intelligence indicators
type IndicatorCatalog interface {
	Add(ctx context.Context, t core.IndicatorType, value, source, note string) (*core.Indicator, error)
	List(ctx context.Context) ([]*core.Indicator, error)
	Delete(ctx context.Context, id string) error
}

// IncidentManager manages incidents and their journals
type IncidentManager interface {
	Create(ctx context.Context, req incident.CreateRequest) (*core.Incident, error)
	Update(ctx context.Context, id string, req incident.UpdateRequest) (*core.Incident, error)
	AddNote(ctx context.Context, id, author, content string) (*core.IncidentNote, error)
	Get(ctx context.Context, id string) (*core.Incident, error)
	List(ctx context.Context, status core.IncidentStatus, limit int) ([]*core.Incident, error)
}

// Querier answers read-only queries over events and alerts
type Querier interface {
	Search(ctx context.Context, query, ip, agentID string, limit int) ([]*core.Event, error)
	ListEvents(ctx context.Context, ip, agentID string, limit int) ([]*core.Event, error)
	ListAlerts(ctx context.Context, ip, agentID string, limit int) ([]*core.Alert, error)
	Stats(ctx context.Context, hours int) (*storage.Stats, error)
}

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services bundles the components the API serves
type Services struct {
	Ingest     Ingester
	Endpoints  EndpointController
	Indicators IndicatorCatalog
	Incidents  IncidentManager
	Query      Querier
	Health     HealthChecker
	// Hub serves the live alert stream; nil disables the route
	Hub *Hub
}

// API holds the API server
type API struct {
	router *mux.Router
	server *http.Server

	ingest     Ingester
	endpoints  EndpointController
	indicators IndicatorCatalog
	incidents  IncidentManager
	query      Querier
	health     HealthChecker
	hub        *Hub

	config *config.Config
	logger *zap.SugaredLogger
}

// NewAPI creates a new API server
func NewAPI(svc Services, cfg *config.Config, logger *zap.SugaredLogger) *API {
	a := &API{
		router:     mux.NewRouter(),
		ingest:     svc.Ingest,
		endpoints:  svc.Endpoints,
		indicators: svc.Indicators,
		incidents:  svc.Incidents,
		query:      svc.Query,
		health:     svc.Health,
		hub:        svc.Hub,
		config:     cfg,
		logger:     logger,
	}
	a.setupRoutes()
	a.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.recoverMiddleware)
	a.router.Use(a.loggingMiddleware)
	a.router.Use(a.corsMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()

	// Producers
	v1.HandleFunc("/ingest", a.ingestEvent).Methods("POST")
	v1.HandleFunc("/ingest/batch", a.ingestBatch).Methods("POST")
	v1.HandleFunc("/ingest/syslog", a.ingestSyslog).Methods("POST")
	v1.HandleFunc("/events/{id}/reevaluate", a.reevaluateEvent).Methods("POST")

	// Agents
	v1.HandleFunc("/agents/register", a.registerAgent).Methods("POST")
	v1.HandleFunc("/agents/{agent_id}/heartbeat", a.heartbeat).Methods("POST")
	v1.HandleFunc("/agents/{agent_id}/telemetry", a.telemetry).Methods("POST")
	v1.HandleFunc("/agents/{agent_id}/actions/poll", a.pollActions).Methods("POST")
	v1.HandleFunc("/actions/{action_id}/result", a.reportActionResult).Methods("POST")

	// Operators
	v1.HandleFunc("/agents", a.listEndpoints).Methods("GET")
	v1.HandleFunc("/agents/{agent_id}/actions", a.enqueueAction).Methods("POST")
	v1.HandleFunc("/actions", a.actionHistory).Methods("GET")
	v1.HandleFunc("/indicators", a.listIndicators).Methods("GET")
	v1.HandleFunc("/indicators", a.addIndicator).Methods("POST")
	v1.HandleFunc("/indicators/{id}", a.deleteIndicator).Methods("DELETE")
	v1.HandleFunc("/incidents", a.listIncidents).Methods("GET")
	v1.HandleFunc("/incidents", a.createIncident).Methods("POST")
	v1.HandleFunc("/incidents/{id}", a.getIncident).Methods("GET")
	v1.HandleFunc("/incidents/{id}", a.updateIncident).Methods("PATCH")
	v1.HandleFunc("/incidents/{id}/notes", a.addIncidentNote).Methods("POST")

	// Queries
	v1.HandleFunc("/search", a.search).Methods("GET")
	v1.HandleFunc("/events", a.listEvents).Methods("GET")
	v1.HandleFunc("/alerts", a.listAlerts).Methods("GET")
	v1.HandleFunc("/alerts/stream", a.alertStream).Methods("GET")
	v1.HandleFunc("/stats", a.stats).Methods("GET")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	if a.config.Metrics.Enabled {
		a.router.Handle("/metrics", promhttp.Handler())
	}
}

// Handler returns the routed handler
func (a *API) Handler() http.Handler {
	return a.router
}

// Start listens on the configured address and blocks until the server stops.
// It returns http.ErrServerClosed after Stop.
func (a *API) Start() error {
	return a.server.ListenAndServe()
}

// Stop gracefully shuts the server down
func (a *API) Stop(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
