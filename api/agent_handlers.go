package api

import (
	"errors"
	"mime"
	"net/http"

	"vigil/core"

	"github.com/gorilla/mux"
	"github.com/vmihailenco/msgpack/v5"
)

const contentTypeMsgpack = "application/msgpack"

// RegisterRequest enrolls an agent
type RegisterRequest struct {
	Hostname string            `json:"hostname" validate:"required,max=253"`
	Metadata map[string]string `json:"metadata"`
}

// TelemetryRequest is one telemetry record. Agents may send it as JSON or
// as MessagePack with the same field names.
type TelemetryRequest struct {
	Message string            `json:"message" msgpack:"message"`
	Fields  map[string]string `json:"fields" msgpack:"fields"`
	LogType string            `json:"log_type" msgpack:"log_type" validate:"max=64"`
}

// ActionResultRequest finalizes a delivered action
type ActionResultRequest struct {
	AgentID string            `json:"agent_id"`
	Status  core.ActionStatus `json:"status" validate:"required,oneof=completed failed"`
	Result  string            `json:"result"`
}

// EnqueueActionRequest queues a response action for an agent
type EnqueueActionRequest struct {
	ActionType  core.ActionType   `json:"action_type" validate:"required"`
	Params      map[string]string `json:"params"`
	RequestedBy string            `json:"requested_by" validate:"required,max=256"`
}

// registerAgent handles POST /api/v1/agents/register
func (a *API) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	agent, err := a.endpoints.Register(r.Context(), req.Hostname, req.Metadata)
	if err != nil {
		a.respondError(w, err, "Failed to register agent")
		return
	}
	a.respondJSON(w, agent, http.StatusCreated)
}

// heartbeat handles POST /api/v1/agents/{agent_id}/heartbeat
func (a *API) heartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	if err := a.endpoints.Heartbeat(r.Context(), agentID); err != nil {
		a.respondError(w, err, "Failed to record heartbeat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// telemetry handles POST /api/v1/agents/{agent_id}/telemetry
func (a *API) telemetry(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	var req TelemetryRequest
	if isMsgpack(r) {
		if !a.decodeMsgpack(w, r, &req) {
			return
		}
	} else if !a.decodeRequest(w, r, &req) {
		return
	}

	result, err := a.endpoints.Telemetry(r.Context(), agentID, req.Message, req.Fields, req.LogType)
	if err != nil {
		a.respondError(w, err, "Failed to ingest telemetry")
		return
	}
	a.respondJSON(w, result, http.StatusCreated)
}

// pollActions handles POST /api/v1/agents/{agent_id}/actions/poll. Each
// queued action is delivered exactly once.
func (a *API) pollActions(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	actions, err := a.endpoints.PollActions(r.Context(), agentID)
	if err != nil {
		a.respondError(w, err, "Failed to poll actions")
		return
	}
	a.respondJSON(w, actions, http.StatusOK)
}

// reportActionResult handles POST /api/v1/actions/{action_id}/result
func (a *API) reportActionResult(w http.ResponseWriter, r *http.Request) {
	actionID := mux.Vars(r)["action_id"]

	var req ActionResultRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	action, err := a.endpoints.ReportResult(r.Context(), actionID, req.Status, req.Result, req.AgentID)
	if err != nil {
		a.respondError(w, err, "Failed to record action result")
		return
	}
	a.respondJSON(w, action, http.StatusOK)
}

// enqueueAction handles POST /api/v1/agents/{agent_id}/actions
func (a *API) enqueueAction(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	var req EnqueueActionRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	action, err := a.endpoints.EnqueueAction(r.Context(), agentID, req.ActionType, req.Params, req.RequestedBy)
	if err != nil {
		a.respondError(w, err, "Failed to enqueue action")
		return
	}
	a.respondJSON(w, action, http.StatusCreated)
}

// listEndpoints handles GET /api/v1/agents
func (a *API) listEndpoints(w http.ResponseWriter, r *http.Request) {
	agents, err := a.endpoints.ListEndpoints(r.Context())
	if err != nil {
		a.respondError(w, err, "Failed to list agents")
		return
	}
	a.respondJSON(w, agents, http.StatusOK)
}

// actionHistory handles GET /api/v1/actions?agent_id=&limit=
func (a *API) actionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		a.respondError(w, err, "Invalid limit")
		return
	}

	actions, err := a.endpoints.ActionHistory(r.Context(), r.URL.Query().Get("agent_id"), limit)
	if err != nil {
		a.respondError(w, err, "Failed to list actions")
		return
	}
	a.respondJSON(w, actions, http.StatusOK)
}

func isMsgpack(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && (mediaType == contentTypeMsgpack || mediaType == "application/x-msgpack")
}

// decodeMsgpack is decodeRequest for MessagePack bodies
func (a *API) decodeMsgpack(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.MaxBodyBytes)
	dec := msgpack.NewDecoder(r.Body)
	dec.DisallowUnknownFields(true)

	if err := dec.Decode(dst); err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
		} else {
			writeError(w, http.StatusBadRequest, "Invalid MessagePack body", err, a.logger)
		}
		return false
	}
	return a.validateRequest(w, dst)
}
