// Package edr implements the control plane endpoint agents talk to:
// registration, heartbeats, telemetry intake and the polled action queue.
package edr

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"vigil/core"
	"vigil/ingest"
	"vigil/metrics"
	"vigil/service"

	"go.uber.org/zap"
)

// Limits on agent-supplied data
const (
	MaxHostnameLength = 253
	MaxResultBytes    = 64 << 10
	TelemetrySource   = "edr"
)

// AgentStore persists agents
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *core.Agent) error
	GetAgent(ctx context.Context, id string) (*core.Agent, error)
	ListAgents(ctx context.Context) ([]*core.Agent, error)
	TouchAgent(ctx context.Context, id string, now time.Time) error
}

// ActionStore persists the per-agent action queue
type ActionStore interface {
	CreateAction(ctx context.Context, action *core.Action) error
	ClaimQueuedActions(ctx context.Context, agentID string, now time.Time) ([]*core.Action, error)
	FinalizeAction(ctx context.Context, id, agentID string, status core.ActionStatus, result string, now time.Time) (*core.Action, error)
	ListActions(ctx context.Context, agentID string, limit int) ([]*core.Action, error)
}

// Ingester runs telemetry through the detection pipeline
type Ingester interface {
	Ingest(ctx context.Context, payload ingest.Payload) (*service.IngestResult, error)
}

// Config controls the control plane
type Config struct {
	// Allowlist holds the requesters allowed to issue dangerous actions
	Allowlist    []string
	CallTimeout  time.Duration
	OfflineAfter time.Duration
}

// ControlPlane serves agent-facing and operator-facing EDR operations
type ControlPlane struct {
	agents    AgentStore
	actions   ActionStore
	ingester  Ingester
	allowlist map[string]struct{}
	cfg       Config
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewControlPlane creates a control plane
func NewControlPlane(agents AgentStore, actions ActionStore, ingester Ingester, cfg Config, logger *zap.SugaredLogger) *ControlPlane {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.OfflineAfter <= 0 {
		cfg.OfflineAfter = 5 * time.Minute
	}
	allow := make(map[string]struct{}, len(cfg.Allowlist))
	for _, requester := range cfg.Allowlist {
		if requester = strings.TrimSpace(requester); requester != "" {
			allow[requester] = struct{}{}
		}
	}
	return &ControlPlane{
		agents:    agents,
		actions:   actions,
		ingester:  ingester,
		allowlist: allow,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a new agent with an opaque id
func (cp *ControlPlane) Register(ctx context.Context, hostname string, metadata map[string]string) (*core.Agent, error) {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return nil, core.NewValidationError("hostname", "hostname is required")
	}
	if len(hostname) > MaxHostnameLength {
		return nil, core.NewValidationError("hostname", "hostname exceeds %d characters", MaxHostnameLength)
	}

	ctx, cancel := context.WithTimeout(ctx, cp.cfg.CallTimeout)
	defer cancel()

	agent := core.NewAgent(hostname, metadata)
	if err := cp.agents.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	agent.Online = true
	metrics.AgentsRegistered.Inc()

	cp.logger.Infow("Agent registered", "agent_id", agent.ID, "hostname", hostname)
	return agent, nil
}

// Heartbeat records that the agent is alive
func (cp *ControlPlane) Heartbeat(ctx context.Context, agentID string) error {
	ctx, cancel := context.WithTimeout(ctx, cp.cfg.CallTimeout)
	defer cancel()
	return cp.agents.TouchAgent(ctx, agentID, cp.now())
}

// Telemetry ingests one record from an agent through the detection pipeline
func (cp *ControlPlane) Telemetry(ctx context.Context, agentID, message string, fields map[string]string, logType string) (*service.IngestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cp.cfg.CallTimeout)
	defer cancel()

	agent, err := cp.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := cp.agents.TouchAgent(ctx, agentID, cp.now()); err != nil {
		return nil, err
	}

	if logType == "" {
		logType = ingest.LogTypeEDR
	}
	return cp.ingester.Ingest(ctx, ingest.Payload{
		Source:  TelemetrySource,
		Host:    agent.Hostname,
		Message: message,
		Fields:  fields,
		LogType: logType,
		AgentID: agentID,
	})
}

// PollActions hands every queued action to the agent exactly once. It never blocks.
func (cp *ControlPlane) PollActions(ctx context.Context, agentID string) ([]*core.Action, error) {
	ctx, cancel := context.WithTimeout(ctx, cp.cfg.CallTimeout)
	defer cancel()

	actions, err := cp.actions.ClaimQueuedActions(ctx, agentID, cp.now())
	if err != nil {
		return nil, err
	}
	if len(actions) > 0 {
		metrics.ActionsDelivered.Add(float64(len(actions)))
		cp.logger.Infow("Actions delivered", "agent_id", agentID, "count", len(actions))
	}
	return actions, nil
}

// ReportResult finalizes a delivered action. agentID may be empty when the
// caller is not identified as a specific agent.
func (cp *ControlPlane) ReportResult(ctx context.Context, actionID string, status core.ActionStatus, result, agentID string) (*core.Action, error) {
	if !status.IsFinal() {
		return nil, core.NewValidationError("status", "status must be %s or %s", core.ActionStatusCompleted, core.ActionStatusFailed)
	}
	if len(result) > MaxResultBytes {
		return nil, core.NewValidationError("result", "result exceeds %d bytes", MaxResultBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, cp.cfg.CallTimeout)
	defer cancel()

	action, err := cp.actions.FinalizeAction(ctx, actionID, agentID, status, result, cp.now())
	if err != nil {
		return nil, err
	}
	metrics.ActionsFinalized.WithLabelValues(string(status)).Inc()

	cp.logger.Infow("Action finalized",
		"action_id", action.ID, "agent_id", action.AgentID, "action_type", action.Type, "status", status)
	return action, nil
}

// EnqueueAction queues an action for an agent. Dangerous actions require an
// allow-listed requester; a rejected request writes nothing.
func (cp *ControlPlane) EnqueueAction(ctx context.Context, agentID string, actionType core.ActionType, params map[string]string, requestedBy string) (*core.Action, error) {
	requestedBy = strings.TrimSpace(requestedBy)
	if requestedBy == "" {
		return nil, core.NewValidationError("requested_by", "requester is required")
	}
	if err := validateAction(actionType, params); err != nil {
		return nil, err
	}

	if actionType.IsDangerous() {
		if _, ok := cp.allowlist[requestedBy]; !ok {
			metrics.ActionsRejected.WithLabelValues(string(actionType)).Inc()
			cp.logger.Warnw("Rejected dangerous action from requester not on allowlist",
				"requested_by", requestedBy, "agent_id", agentID, "action_type", actionType)
			return nil, &core.AuthorizationError{Requester: requestedBy, Action: string(actionType)}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cp.cfg.CallTimeout)
	defer cancel()

	action := core.NewAction(agentID, actionType, params, requestedBy)
	if err := cp.actions.CreateAction(ctx, action); err != nil {
		return nil, err
	}
	metrics.ActionsEnqueued.WithLabelValues(string(actionType)).Inc()

	cp.logger.Infow("Action enqueued",
		"action_id", action.ID, "agent_id", agentID, "action_type", actionType, "requested_by", requestedBy)
	return action, nil
}

// ListEndpoints returns every agent with its online flag set
func (cp *ControlPlane) ListEndpoints(ctx context.Context) ([]*core.Agent, error) {
	agents, err := cp.agents.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	now := cp.now()
	for _, agent := range agents {
		agent.MarkOnline(now, cp.cfg.OfflineAfter)
	}
	return agents, nil
}

// ActionHistory lists actions newest first, optionally for one agent
func (cp *ControlPlane) ActionHistory(ctx context.Context, agentID string, limit int) ([]*core.Action, error) {
	if limit < 0 {
		return nil, core.NewValidationError("limit", "limit must not be negative")
	}
	return cp.actions.ListActions(ctx, agentID, limit)
}

func validateAction(actionType core.ActionType, params map[string]string) error {
	if !actionType.IsValid() {
		return core.NewValidationError("action_type", "unknown action type %q", actionType)
	}
	switch actionType {
	case core.ActionBlockIP, core.ActionUnblockIP:
		ip := strings.TrimSpace(params["ip"])
		if ip == "" {
			return core.NewValidationError("params.ip", "%s requires params.ip", actionType)
		}
		if _, err := netip.ParseAddr(ip); err != nil {
			return core.NewValidationError("params.ip", "invalid ip address %q", params["ip"])
		}
	case core.ActionKillProcess:
		if strings.TrimSpace(params["pid"]) == "" && strings.TrimSpace(params["process_name"]) == "" {
			return core.NewValidationError("params", "kill_process requires params.pid or params.process_name")
		}
	}
	return nil
}
