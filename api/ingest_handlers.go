package api

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vigil/ingest"
	"vigil/service"

	"github.com/gorilla/mux"
)

// IngestRequest is one event from a producer
type IngestRequest struct {
	Source  string            `json:"source" validate:"required"`
	Host    string            `json:"host" validate:"max=253"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
	LogType string            `json:"log_type" validate:"max=64"`
}

func (req IngestRequest) payload() ingest.Payload {
	return ingest.Payload{
		Source:  req.Source,
		Host:    req.Host,
		Message: req.Message,
		Fields:  req.Fields,
		LogType: req.LogType,
	}
}

// BatchIngestRequest carries several events in one call
type BatchIngestRequest struct {
	Events []IngestRequest `json:"events" validate:"required,min=1,dive"`
}

// BatchIngestResponse reports per-item outcomes in request order
type BatchIngestResponse struct {
	Accepted int                       `json:"accepted"`
	Rejected int                       `json:"rejected"`
	Results  []service.BatchItemResult `json:"results"`
}

// ingestEvent handles POST /api/v1/ingest
func (a *API) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	result, err := a.ingest.Ingest(r.Context(), req.payload())
	if err != nil {
		a.respondError(w, err, "Failed to ingest event")
		return
	}
	a.respondJSON(w, result, http.StatusCreated)
}

// ingestBatch handles POST /api/v1/ingest/batch. Items are independent: a
// rejected item does not stop the others.
func (a *API) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchIngestRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}
	if len(req.Events) > a.config.Ingest.MaxBatchSize {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Batch exceeds %d events", a.config.Ingest.MaxBatchSize), nil, a.logger)
		return
	}

	payloads := make([]ingest.Payload, len(req.Events))
	for i, ev := range req.Events {
		payloads[i] = ev.payload()
	}
	a.respondJSON(w, batchResponse(a.ingest.IngestBatch(r.Context(), payloads)), http.StatusOK)
}

// ingestSyslog handles POST /api/v1/ingest/syslog. The body is plain text
// with one datagram per line; blank lines are skipped. The host query
// parameter, when set, overrides the hostname of every datagram.
func (a *API) ingestSyslog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.MaxBodyBytes)
	host := r.URL.Query().Get("host")

	payloads := make([]ingest.Payload, 0)
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), int(a.config.API.MaxBodyBytes))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		payloads = append(payloads, ingest.ParseSyslog(line, host))
	}
	if err := scanner.Err(); err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read syslog body", err, a.logger)
		return
	}

	if len(payloads) == 0 {
		writeError(w, http.StatusBadRequest, "No syslog lines in body", nil, a.logger)
		return
	}
	if len(payloads) > a.config.Ingest.MaxBatchSize {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Body exceeds %d lines", a.config.Ingest.MaxBatchSize), nil, a.logger)
		return
	}

	a.respondJSON(w, batchResponse(a.ingest.IngestBatch(r.Context(), payloads)), http.StatusOK)
}

// reevaluateEvent handles POST /api/v1/events/{id}/reevaluate
func (a *API) reevaluateEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := a.ingest.Reevaluate(r.Context(), id)
	if err != nil {
		a.respondError(w, err, "Failed to re-evaluate event")
		return
	}
	a.respondJSON(w, result, http.StatusOK)
}

func batchResponse(results []service.BatchItemResult) BatchIngestResponse {
	resp := BatchIngestResponse{Results: results}
	for _, res := range results {
		if res.Error != "" {
			resp.Rejected++
		} else {
			resp.Accepted++
		}
	}
	return resp
}
