package core

import (
	"time"

	"github.com/google/uuid"
)

// ActionType is a response action an agent can execute
type ActionType string

const (
	ActionIsolateEndpoint   ActionType = "isolate_endpoint"
	ActionUnisolateEndpoint ActionType = "unisolate_endpoint"
	ActionBlockIP           ActionType = "block_ip"
	ActionUnblockIP         ActionType = "unblock_ip"
	ActionKillProcess       ActionType = "kill_process"

	ActionCollectTriage ActionType = "collect_triage"
	ActionListProcesses ActionType = "list_processes"
	ActionScanFile      ActionType = "scan_file"
	ActionPing          ActionType = "ping"
)

// IsValid checks if the action type is known
func (t ActionType) IsValid() bool {
	switch t {
	case ActionIsolateEndpoint, ActionUnisolateEndpoint, ActionBlockIP, ActionUnblockIP, ActionKillProcess,
		ActionCollectTriage, ActionListProcesses, ActionScanFile, ActionPing:
		return true
	}
	return false
}

// IsDangerous reports whether the action changes endpoint state and needs an allow-listed requester.
func (t ActionType) IsDangerous() bool {
	switch t {
	case ActionIsolateEndpoint, ActionUnisolateEndpoint, ActionBlockIP, ActionUnblockIP, ActionKillProcess:
		return true
	}
	return false
}

// ActionStatus is the lifecycle state of a queued action
type ActionStatus string

const (
	ActionStatusQueued    ActionStatus = "queued"
	ActionStatusDelivered ActionStatus = "delivered"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
)

// IsValid checks if the status is known
func (s ActionStatus) IsValid() bool {
	switch s {
	case ActionStatusQueued, ActionStatusDelivered, ActionStatusCompleted, ActionStatusFailed:
		return true
	}
	return false
}

// IsFinal reports whether the status is a terminal result status.
func (s ActionStatus) IsFinal() bool {
	return s == ActionStatusCompleted || s == ActionStatusFailed
}

// Action is a response action queued for exactly one agent.
type Action struct {
	ID          string            `json:"action_id"`
	AgentID     string            `json:"agent_id"`
	Type        ActionType        `json:"action_type"`
	Params      map[string]string `json:"params"`
	RequestedBy string            `json:"requested_by"`
	Status      ActionStatus      `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Result      string            `json:"result,omitempty"`
}

// NewAction creates a queued action.
func NewAction(agentID string, actionType ActionType, params map[string]string, requestedBy string) *Action {
	if params == nil {
		params = make(map[string]string)
	}
	return &Action{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Type:        actionType,
		Params:      params,
		RequestedBy: requestedBy,
		Status:      ActionStatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
}
