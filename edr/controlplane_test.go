package edr

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vigil/core"
	"vigil/detect"
	"vigil/ingest"
	"vigil/service"
	"vigil/storage"
	"vigil/threat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	cp      *ControlPlane
	actions *storage.SQLiteActionStorage
	events  *storage.SQLiteEventStorage
}

func setupControlPlane(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "vigil.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rules, err := detect.ParseRules([]byte(`
rules:
  - id: mimikatz
    description: Credential dumping tool
    severity: critical
    condition:
      contains: {field: process, value: mimikatz}
`), detect.FormatYAML, detect.LoadOptions{})
	require.NoError(t, err)

	events := storage.NewSQLiteEventStorage(db, logger)
	indicators := storage.NewSQLiteIndicatorStorage(db, logger)
	pipeline := service.NewPipeline(ingest.NewNormalizer(logger), events, storage.NewSQLiteAlertStorage(db, logger),
		detect.NewEngine(rules, logger), threat.NewMatcher(indicators, logger), nil, service.PipelineConfig{}, logger)

	actions := storage.NewSQLiteActionStorage(db, logger)
	cp := NewControlPlane(storage.NewSQLiteAgentStorage(db, logger), actions, pipeline,
		Config{Allowlist: []string{"soc-lead"}, OfflineAfter: time.Minute}, logger)
	return &fixture{cp: cp, actions: actions, events: events}
}

func TestControlPlane_ActionRoundTrip(t *testing.T) {
	f := setupControlPlane(t)
	ctx := context.Background()

	agent, err := f.cp.Register(ctx, "ws-042", map[string]string{"os": "linux"})
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID)
	assert.True(t, agent.Online)

	action, err := f.cp.EnqueueAction(ctx, agent.ID, core.ActionIsolateEndpoint, nil, "soc-lead")
	require.NoError(t, err)
	assert.Equal(t, core.ActionStatusQueued, action.Status)

	polled, err := f.cp.PollActions(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, polled, 1)
	assert.Equal(t, action.ID, polled[0].ID)
	assert.Equal(t, core.ActionStatusDelivered, polled[0].Status)

	again, err := f.cp.PollActions(ctx, agent.ID)
	require.NoError(t, err)
	assert.Empty(t, again)

	done, err := f.cp.ReportResult(ctx, action.ID, core.ActionStatusCompleted, "isolated", agent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ActionStatusCompleted, done.Status)
	assert.Equal(t, "isolated", done.Result)
	require.NotNil(t, done.CompletedAt)

	_, err = f.cp.ReportResult(ctx, action.ID, core.ActionStatusFailed, "again", agent.ID)
	assert.True(t, errors.Is(err, core.ErrValidation), "finalizing twice is rejected")

	history, err := f.cp.ActionHistory(ctx, agent.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.ActionStatusCompleted, history[0].Status)
}

func TestControlPlane_EnqueueAction_AllowlistRejection(t *testing.T) {
	f := setupControlPlane(t)
	ctx := context.Background()

	agent, err := f.cp.Register(ctx, "ws-1", nil)
	require.NoError(t, err)

	_, err = f.cp.EnqueueAction(ctx, agent.ID, core.ActionBlockIP, map[string]string{"ip": "203.0.113.9"}, "intern")
	require.Error(t, err)
	var authErr *core.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "intern", authErr.Requester)

	history, err := f.cp.ActionHistory(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, history, "rejected action must not be written")

	safe, err := f.cp.EnqueueAction(ctx, agent.ID, core.ActionCollectTriage, nil, "intern")
	require.NoError(t, err)
	assert.Equal(t, "intern", safe.RequestedBy)
}

func TestControlPlane_EnqueueAction_Validation(t *testing.T) {
	f := setupControlPlane(t)
	ctx := context.Background()

	agent, err := f.cp.Register(ctx, "ws-1", nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		actionType core.ActionType
		params     map[string]string
		requester  string
	}{
		{"unknown type", "format_disk", nil, "soc-lead"},
		{"block_ip without ip", core.ActionBlockIP, nil, "soc-lead"},
		{"block_ip with bad ip", core.ActionBlockIP, map[string]string{"ip": "999.1.1.1"}, "soc-lead"},
		{"kill_process without target", core.ActionKillProcess, map[string]string{}, "soc-lead"},
		{"missing requester", core.ActionPing, nil, " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.cp.EnqueueAction(ctx, agent.ID, tt.actionType, tt.params, tt.requester)
			assert.True(t, errors.Is(err, core.ErrValidation), "got %v", err)
		})
	}

	_, err = f.cp.EnqueueAction(ctx, agent.ID, core.ActionKillProcess, map[string]string{"process_name": "nc"}, "soc-lead")
	assert.NoError(t, err)
}

func TestControlPlane_UnknownAgent(t *testing.T) {
	f := setupControlPlane(t)
	ctx := context.Background()

	_, err := f.cp.EnqueueAction(ctx, "nope", core.ActionPing, nil, "soc-lead")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	_, err = f.cp.Telemetry(ctx, "nope", "hello", nil, "")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	assert.True(t, errors.Is(f.cp.Heartbeat(ctx, "nope"), core.ErrNotFound))

	_, err = f.cp.PollActions(ctx, "nope")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestControlPlane_ReportResult(t *testing.T) {
	f := setupControlPlane(t)
	ctx := context.Background()

	owner, err := f.cp.Register(ctx, "owner", nil)
	require.NoError(t, err)
	other, err := f.cp.Register(ctx, "other", nil)
	require.NoError(t, err)

	action, err := f.cp.EnqueueAction(ctx, owner.ID, core.ActionPing, nil, "analyst")
	require.NoError(t, err)

	_, err = f.cp.ReportResult(ctx, action.ID, core.ActionStatusCompleted, "pong", owner.ID)
	assert.True(t, errors.Is(err, core.ErrValidation), "queued actions cannot be finalized")

	_, err = f.cp.PollActions(ctx, owner.ID)
	require.NoError(t, err)

	_, err = f.cp.ReportResult(ctx, action.ID, core.ActionStatusCompleted, "pong", other.ID)
	assert.True(t, errors.Is(err, core.ErrNotFound), "foreign agent sees no such action")

	_, err = f.cp.ReportResult(ctx, action.ID, core.ActionStatusDelivered, "", owner.ID)
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = f.cp.ReportResult(ctx, action.ID, core.ActionStatusFailed, strings.Repeat("x", MaxResultBytes+1), owner.ID)
	assert.True(t, errors.Is(err, core.ErrValidation))

	failed, err := f.cp.ReportResult(ctx, action.ID, core.ActionStatusFailed, "timeout", "")
	require.NoError(t, err)
	assert.Equal(t, core.ActionStatusFailed, failed.Status)
}

func TestControlPlane_Telemetry(t *testing.T) {
	f := setupControlPlane(t)
	ctx := context.Background()

	agent, err := f.cp.Register(ctx, "ws-7", nil)
	require.NoError(t, err)

	res, err := f.cp.Telemetry(ctx, agent.ID, "process started", map[string]string{"process": "mimikatz.exe"}, "")
	require.NoError(t, err)
	require.Len(t, res.AlertsCreated, 1)
	assert.Equal(t, "mimikatz", res.AlertsCreated[0].RuleID)

	event, err := f.events.GetEvent(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, TelemetrySource, event.Source)
	assert.Equal(t, agent.ID, event.AgentID)
	assert.Equal(t, "ws-7", event.Host)
}

func TestControlPlane_Register_Validation(t *testing.T) {
	f := setupControlPlane(t)

	_, err := f.cp.Register(context.Background(), "  ", nil)
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = f.cp.Register(context.Background(), strings.Repeat("h", MaxHostnameLength+1), nil)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestControlPlane_ListEndpoints_Online(t *testing.T) {
	f := setupControlPlane(t)
	ctx := context.Background()

	agent, err := f.cp.Register(ctx, "ws-1", nil)
	require.NoError(t, err)

	agents, err := f.cp.ListEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.True(t, agents[0].Online)

	f.cp.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	agents, err = f.cp.ListEndpoints(ctx)
	require.NoError(t, err)
	assert.False(t, agents[0].Online)

	require.NoError(t, f.cp.Heartbeat(ctx, agent.ID))
	agents, err = f.cp.ListEndpoints(ctx)
	require.NoError(t, err)
	assert.True(t, agents[0].Online, "heartbeat refreshes last_seen")
}
