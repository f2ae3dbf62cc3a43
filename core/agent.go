package core

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a registered endpoint agent. Agents are never deleted automatically.
type Agent struct {
	ID        string            `json:"agent_id"`
	Hostname  string            `json:"hostname"`
	Metadata  map[string]string `json:"metadata"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	Online    bool              `json:"online"`
}

// NewAgent creates an agent with an opaque generated id.
func NewAgent(hostname string, metadata map[string]string) *Agent {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &Agent{
		ID:        uuid.New().String(),
		Hostname:  hostname,
		Metadata:  metadata,
		FirstSeen: now,
		LastSeen:  now,
	}
}

// MarkOnline sets Online from LastSeen relative to now.
func (a *Agent) MarkOnline(now time.Time, offlineAfter time.Duration) {
	a.Online = now.Sub(a.LastSeen) <= offlineAfter
}
