package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/detect"
	"vigil/edr"
	"vigil/incident"
	"vigil/ingest"
	"vigil/service"
	"vigil/storage"
	"vigil/threat"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const testRules = `
rules:
  - id: ssh-failed
    description: Failed SSH password
    severity: medium
    condition:
      contains: {field: message, value: "Failed password"}
  - id: root-login
    description: Root login attempt
    severity: critical
    condition:
      equals: {field: user, value: root}
`

const sshLine = "<38>Oct 11 22:14:15 web01 sshd[4242]: Failed password for root from 203.0.113.7 port 52113 ssh2"

type apiFixture struct {
	api *API
	hub *Hub
}

func testConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{
			Host:         "127.0.0.1",
			Port:         8081,
			MaxBodyBytes: 64 << 10,
		},
		Ingest:  config.IngestConfig{MaxBatchSize: 10},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	ctx := context.Background()

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "vigil.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rules, err := detect.ParseRules([]byte(testRules), detect.FormatYAML, detect.LoadOptions{})
	require.NoError(t, err)

	events := storage.NewSQLiteEventStorage(db, logger)
	alerts := storage.NewSQLiteAlertStorage(db, logger)
	indicatorStore := storage.NewSQLiteIndicatorStorage(db, logger)
	matcher := threat.NewMatcher(indicatorStore, logger)
	require.NoError(t, matcher.Load(ctx))

	incidents := incident.NewManager(storage.NewSQLiteIncidentStorage(db, logger), alerts,
		incident.Config{Threshold: core.SeverityHigh}, logger)
	pipeline := service.NewPipeline(ingest.NewNormalizer(logger), events, alerts, detect.NewEngine(rules, logger),
		matcher, incidents, service.PipelineConfig{}, logger)

	hubCtx, cancel := context.WithCancel(ctx)
	hub := NewHub(logger, hubCtx)
	go hub.Start()
	t.Cleanup(func() {
		cancel()
		hub.Stop()
	})
	pipeline.AddPublisher(hub)

	cp := edr.NewControlPlane(storage.NewSQLiteAgentStorage(db, logger), storage.NewSQLiteActionStorage(db, logger),
		pipeline, edr.Config{Allowlist: []string{"alice"}}, logger)
	query := service.NewQueryService(events, alerts, storage.NewSQLiteStatsStorage(db, logger), service.QueryConfig{}, logger)

	a := NewAPI(Services{
		Ingest:     pipeline,
		Endpoints:  cp,
		Indicators: threat.NewCatalog(indicatorStore, matcher, logger),
		Incidents:  incidents,
		Query:      query,
		Health:     db,
		Hub:        hub,
	}, testConfig(), logger)
	return &apiFixture{api: a, hub: hub}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestIngest_SSHScenario(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "POST", "/api/v1/ingest", map[string]interface{}{"source": "syslog", "message": sshLine})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[service.IngestResult](t, rr)
	require.Len(t, res.AlertsCreated, 2)
	assert.Equal(t, "ssh-failed", res.AlertsCreated[0].RuleID)
	assert.Equal(t, "root-login", res.AlertsCreated[1].RuleID)

	rr = f.do(t, "GET", "/api/v1/alerts?ip=203.0.113.7", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]*core.Alert](t, rr), 2)

	rr = f.do(t, "GET", "/api/v1/search?q=failed+password&limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	found := decode[[]*core.Event](t, rr)
	require.Len(t, found, 1)
	assert.Equal(t, res.EventID, found[0].ID)
	assert.Equal(t, "web01", found[0].Host)

	rr = f.do(t, "POST", "/api/v1/events/"+res.EventID+"/reevaluate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[service.IngestResult](t, rr).AlertsCreated)
}

func TestIngest_RequestValidation(t *testing.T) {
	f := setupAPI(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"missing source", map[string]string{"message": "x"}, http.StatusBadRequest},
		{"unknown field", map[string]string{"source": "app", "message": "x", "severity": "high"}, http.StatusBadRequest},
		{"malformed json", `{"source": "app",`, http.StatusBadRequest},
		{"wrong type", `{"source": 42}`, http.StatusBadRequest},
		{"empty message and fields", map[string]string{"source": "app"}, http.StatusBadRequest},
		{"too large", map[string]string{"source": "app", "message": strings.Repeat("a", 70<<10)}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, "POST", "/api/v1/ingest", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}

	rr := f.do(t, "GET", "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]*core.Event](t, rr))
}

func TestIngest_Batch(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "POST", "/api/v1/ingest/batch", map[string]interface{}{
		"events": []map[string]interface{}{
			{"source": "app", "message": "user login ok"},
			{"source": "app"},
			{"source": "app", "fields": map[string]string{"user": "root"}},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[BatchIngestResponse](t, rr)
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)
	require.Len(t, resp.Results, 3)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.Len(t, resp.Results[2].AlertsCreated, 1)

	events := make([]map[string]string, 11)
	for i := range events {
		events[i] = map[string]string{"source": "app", "message": "x"}
	}
	rr = f.do(t, "POST", "/api/v1/ingest/batch", map[string]interface{}{"events": events})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, "POST", "/api/v1/ingest/batch", map[string]interface{}{"events": []string{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIngest_Syslog(t *testing.T) {
	f := setupAPI(t)

	body := sshLine + "\r\n\n<13>Oct 11 22:15:00 db01 app: nightly backup done\n"
	rr := f.do(t, "POST", "/api/v1/ingest/syslog", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[BatchIngestResponse](t, rr)
	assert.Equal(t, 2, resp.Accepted)
	assert.Len(t, resp.Results[0].AlertsCreated, 2)

	rr = f.do(t, "GET", "/api/v1/events?limit=10", nil)
	hosts := make([]string, 0)
	for _, ev := range decode[[]*core.Event](t, rr) {
		hosts = append(hosts, ev.Host)
	}
	assert.ElementsMatch(t, []string{"web01", "db01"}, hosts)

	rr = f.do(t, "POST", "/api/v1/ingest/syslog", "\n\n")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAgents_ActionRoundTrip(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "POST", "/api/v1/agents/register", map[string]interface{}{
		"hostname": "ws-042", "metadata": map[string]string{"os": "linux"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	agent := decode[core.Agent](t, rr)
	require.NotEmpty(t, agent.ID)

	rr = f.do(t, "POST", "/api/v1/agents/"+agent.ID+"/heartbeat", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, "POST", "/api/v1/agents/"+agent.ID+"/actions", map[string]interface{}{
		"action_type": "kill_process", "params": map[string]string{"pid": "4242"}, "requested_by": "alice",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	queued := decode[core.Action](t, rr)
	assert.Equal(t, core.ActionStatusQueued, queued.Status)

	rr = f.do(t, "POST", "/api/v1/agents/"+agent.ID+"/actions/poll", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	polled := decode[[]*core.Action](t, rr)
	require.Len(t, polled, 1)
	assert.Equal(t, queued.ID, polled[0].ID)
	assert.Equal(t, core.ActionStatusDelivered, polled[0].Status)

	rr = f.do(t, "POST", "/api/v1/agents/"+agent.ID+"/actions/poll", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]*core.Action](t, rr))

	rr = f.do(t, "POST", "/api/v1/actions/"+queued.ID+"/result", map[string]string{
		"agent_id": agent.ID, "status": "completed", "result": "process 4242 killed",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, core.ActionStatusCompleted, decode[core.Action](t, rr).Status)

	rr = f.do(t, "GET", "/api/v1/actions?agent_id="+agent.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	history := decode[[]*core.Action](t, rr)
	require.Len(t, history, 1)
	assert.Equal(t, "process 4242 killed", history[0].Result)

	rr = f.do(t, "GET", "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	agents := decode[[]*core.Agent](t, rr)
	require.Len(t, agents, 1)
	assert.True(t, agents[0].Online)
}

func TestAgents_Errors(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "POST", "/api/v1/agents/register", map[string]interface{}{"hostname": "ws-1"})
	require.Equal(t, http.StatusCreated, rr.Code)
	agent := decode[core.Agent](t, rr)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"register without hostname", "POST", "/api/v1/agents/register", map[string]string{}, http.StatusBadRequest},
		{"heartbeat unknown agent", "POST", "/api/v1/agents/nope/heartbeat", nil, http.StatusNotFound},
		{"telemetry unknown agent", "POST", "/api/v1/agents/nope/telemetry", map[string]string{"message": "x"}, http.StatusNotFound},
		{"dangerous action not allowlisted", "POST", "/api/v1/agents/" + agent.ID + "/actions",
			map[string]string{"action_type": "isolate_endpoint", "requested_by": "mallory"}, http.StatusForbidden},
		{"block_ip without ip", "POST", "/api/v1/agents/" + agent.ID + "/actions",
			map[string]string{"action_type": "block_ip", "requested_by": "alice"}, http.StatusBadRequest},
		{"unknown action type", "POST", "/api/v1/agents/" + agent.ID + "/actions",
			map[string]string{"action_type": "format_disk", "requested_by": "alice"}, http.StatusBadRequest},
		{"result with non-final status", "POST", "/api/v1/actions/x/result",
			map[string]string{"status": "queued"}, http.StatusBadRequest},
		{"result for unknown action", "POST", "/api/v1/actions/x/result",
			map[string]string{"status": "failed"}, http.StatusNotFound},
		{"negative history limit", "GET", "/api/v1/actions?limit=-1", nil, http.StatusBadRequest},
		{"non-numeric history limit", "GET", "/api/v1/actions?limit=ten", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}

	rr = f.do(t, "GET", "/api/v1/actions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]*core.Action](t, rr))
}

func TestAgents_TelemetryMsgpack(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "POST", "/api/v1/agents/register", map[string]interface{}{"hostname": "ws-7"})
	require.Equal(t, http.StatusCreated, rr.Code)
	agent := decode[core.Agent](t, rr)

	body, err := msgpack.Marshal(&TelemetryRequest{
		Message: "process started",
		Fields:  map[string]string{"user": "root", "process": "bash"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/agents/"+agent.ID+"/telemetry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/msgpack")
	rr = httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	res := decode[service.IngestResult](t, rr)
	require.Len(t, res.AlertsCreated, 1)
	assert.Equal(t, "root-login", res.AlertsCreated[0].RuleID)

	rr = f.do(t, "GET", "/api/v1/events?agent_id="+agent.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	events := decode[[]*core.Event](t, rr)
	require.Len(t, events, 1)
	assert.Equal(t, "edr", events[0].Source)
	assert.Equal(t, "ws-7", events[0].Host)

	req = httptest.NewRequest("POST", "/api/v1/agents/"+agent.ID+"/telemetry", bytes.NewReader([]byte{0xc1}))
	req.Header.Set("Content-Type", "application/msgpack")
	rr = httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIndicators_Lifecycle(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "POST", "/api/v1/indicators", map[string]string{
		"type": "ip", "value": "203.0.113.7", "source": "abuse-feed",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ind := decode[core.Indicator](t, rr)

	rr = f.do(t, "POST", "/api/v1/indicators", map[string]string{"type": "ip", "value": "203.0.113.7"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = f.do(t, "POST", "/api/v1/indicators", map[string]string{"type": "url", "value": "http://x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(t, "POST", "/api/v1/indicators", map[string]string{"type": "domain", "value": "not a domain"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, "POST", "/api/v1/ingest", map[string]string{"source": "fw", "message": "deny from 203.0.113.7"})
	require.Equal(t, http.StatusCreated, rr.Code)
	res := decode[service.IngestResult](t, rr)
	require.Len(t, res.AlertsCreated, 1)
	assert.Equal(t, core.AlertKindIndicator, res.AlertsCreated[0].Kind)
	assert.Equal(t, "abuse-feed", res.AlertsCreated[0].IndicatorSource)

	rr = f.do(t, "GET", "/api/v1/indicators", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]*core.Indicator](t, rr), 1)

	rr = f.do(t, "DELETE", "/api/v1/indicators/"+ind.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(t, "DELETE", "/api/v1/indicators/"+ind.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, "POST", "/api/v1/ingest", map[string]string{"source": "fw", "message": "deny from 203.0.113.7"})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, decode[service.IngestResult](t, rr).AlertsCreated)
}

func TestIncidents_Lifecycle(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "POST", "/api/v1/incidents", map[string]string{
		"title": "Suspicious logins", "severity": "high", "actor": "alice",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	inc := decode[core.Incident](t, rr)
	assert.Equal(t, core.IncidentStatusOpen, inc.Status)
	assert.Equal(t, core.TriggerSourceManual, inc.TriggerSource)

	rr = f.do(t, "PATCH", "/api/v1/incidents/"+inc.ID, map[string]string{
		"status": "acknowledged", "assigned_to": "bob", "actor": "alice",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[core.Incident](t, rr)
	assert.Equal(t, core.IncidentStatusAcknowledged, updated.Status)
	assert.Equal(t, "bob", updated.AssignedTo)

	rr = f.do(t, "POST", "/api/v1/incidents/"+inc.ID+"/notes", map[string]string{"author": "bob", "note": "checked the host"})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "checked the host", decode[core.IncidentNote](t, rr).Content)

	rr = f.do(t, "GET", "/api/v1/incidents/"+inc.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	contents := make([]string, 0)
	for _, note := range decode[core.Incident](t, rr).Notes {
		contents = append(contents, note.Content)
	}
	assert.Contains(t, contents, "checked the host")

	rr = f.do(t, "GET", "/api/v1/incidents?status=acknowledged", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]*core.Incident](t, rr), 1)
	rr = f.do(t, "GET", "/api/v1/incidents?status=open", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]*core.Incident](t, rr))

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"get unknown", "GET", "/api/v1/incidents/nope", nil, http.StatusNotFound},
		{"create without actor", "POST", "/api/v1/incidents", map[string]string{"title": "x", "severity": "low"}, http.StatusBadRequest},
		{"create without title or alert", "POST", "/api/v1/incidents", map[string]string{"actor": "alice"}, http.StatusBadRequest},
		{"create bad severity", "POST", "/api/v1/incidents", map[string]string{"title": "x", "severity": "urgent", "actor": "alice"}, http.StatusBadRequest},
		{"create from unknown alert", "POST", "/api/v1/incidents", map[string]string{"alert_id": "nope", "actor": "alice"}, http.StatusNotFound},
		{"update with nothing", "PATCH", "/api/v1/incidents/" + inc.ID, map[string]string{"actor": "alice"}, http.StatusBadRequest},
		{"update bad status", "PATCH", "/api/v1/incidents/" + inc.ID, map[string]string{"status": "closed", "actor": "alice"}, http.StatusBadRequest},
		{"list bad status", "GET", "/api/v1/incidents?status=closed", nil, http.StatusBadRequest},
		{"note without author", "POST", "/api/v1/incidents/" + inc.ID + "/notes", map[string]string{"note": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestIncidents_FromAlertOnce(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "POST", "/api/v1/ingest", map[string]string{"source": "syslog", "message": sshLine})
	require.Equal(t, http.StatusCreated, rr.Code)
	alert := decode[service.IngestResult](t, rr).AlertsCreated[0]

	rr = f.do(t, "POST", "/api/v1/incidents", map[string]string{"alert_id": alert.ID, "actor": "alice"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	inc := decode[core.Incident](t, rr)
	assert.Equal(t, alert.ID, inc.AlertID)
	assert.Equal(t, alert.Severity, inc.Severity)

	rr = f.do(t, "POST", "/api/v1/incidents", map[string]string{"alert_id": alert.ID, "actor": "bob"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestQuery_Stats(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "POST", "/api/v1/ingest", map[string]string{"source": "syslog", "message": sshLine})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = f.do(t, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	stats := decode[storage.Stats](t, rr)
	assert.EqualValues(t, 1, stats.TotalEvents)
	assert.EqualValues(t, 2, stats.TotalAlerts)

	for _, hours := range []string{"0", "721", "abc"} {
		rr = f.do(t, "GET", "/api/v1/stats?hours="+hours, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, hours)
	}

	rr = f.do(t, "GET", "/api/v1/search", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(t, "GET", "/api/v1/events?ip=not-an-ip", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := setupAPI(t)

	rr := f.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	health := decode[map[string]interface{}](t, rr)
	assert.Equal(t, "healthy", health["status"])

	rr = f.do(t, "POST", "/api/v1/ingest", map[string]string{"source": "syslog", "message": sshLine})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = f.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "vigil_events_ingested_total")
}

func TestCORS(t *testing.T) {
	f := setupAPI(t)
	f.api.config.API.AllowedOrigins = []string{"https://console.example.com"}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rr := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "https://console.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAlertStream(t *testing.T) {
	f := setupAPI(t)
	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/alerts/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/v1/ingest", "application/json",
		strings.NewReader(`{"source":"syslog","message":"`+sshLine+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var rules []string
	for len(rules) < 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Type string          `json:"type"`
			Data AlertStreamData `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "alert.created", msg.Type)
		assert.Equal(t, "web01", msg.Data.Event.Host)
		rules = append(rules, msg.Data.Alert.RuleID)
	}
	assert.Equal(t, []string{"ssh-failed", "root-login"}, rules)
}

func TestAlertStream_CrossOriginRejected(t *testing.T) {
	f := setupAPI(t)
	srv := httptest.NewServer(f.api.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/alerts/stream"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, f.hub.ClientCount())
}
