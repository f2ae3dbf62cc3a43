package api

import (
	"net/http"

	"vigil/core"

	"github.com/gorilla/mux"
)

// AddIndicatorRequest adds one indicator
type AddIndicatorRequest struct {
	Type   core.IndicatorType `json:"type" validate:"required,oneof=ip domain sha256"`
	Value  string             `json:"value" validate:"required"`
	Source string             `json:"source"`
	Note   string             `json:"note"`
}

// addIndicator handles POST /api/v1/indicators. A duplicate (type, value)
// pair is a 409.
func (a *API) addIndicator(w http.ResponseWriter, r *http.Request) {
	var req AddIndicatorRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}

	ind, err := a.indicators.Add(r.Context(), req.Type, req.Value, req.Source, req.Note)
	if err != nil {
		a.respondError(w, err, "Failed to add indicator")
		return
	}
	a.respondJSON(w, ind, http.StatusCreated)
}

// listIndicators handles GET /api/v1/indicators
func (a *API) listIndicators(w http.ResponseWriter, r *http.Request) {
	indicators, err := a.indicators.List(r.Context())
	if err != nil {
		a.respondError(w, err, "Failed to list indicators")
		return
	}
	a.respondJSON(w, indicators, http.StatusOK)
}

// deleteIndicator handles DELETE /api/v1/indicators/{id}
func (a *API) deleteIndicator(w http.ResponseWriter, r *http.Request) {
	if err := a.indicators.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.respondError(w, err, "Failed to delete indicator")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
