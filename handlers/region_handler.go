package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gorilla/mux"

	"content-regions/models"
	"content-regions/services"
)

// RegionHandler serves region reads, region name validation and the
// consistency endpoints
type RegionHandler struct {
	chunks  services.ChunkService
	checker services.ConsistencyChecker
	logger  services.Logger
}

// NewRegionHandler creates a new region handler
func NewRegionHandler(chunks services.ChunkService, checker services.ConsistencyChecker, logger services.Logger) *RegionHandler {
	if logger == nil {
		logger = services.NewNopLogger()
	}
	return &RegionHandler{
		chunks:  chunks,
		checker: checker,
		logger:  logger.With(services.String("component", "region_handler")),
	}
}

// TemplateRegions handles GET /api/v1/templates/{template}/regions
func (h *RegionHandler) TemplateRegions(w http.ResponseWriter, r *http.Request) {
	resp, err := h.chunks.TemplateRegions(mux.Vars(r)["template"])
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, resp)
}

// ValidateRegion handles GET /api/v1/regions/validate?name=
func (h *RegionHandler) ValidateRegion(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	resp := models.RegionValidationResponse{Name: name, Valid: true}

	if err := services.ValidateRegionName(name); err != nil {
		resp.Valid = false
		var nameErr *services.RegionNameError
		if stderrors.As(err, &nameErr) {
			resp.Reason = nameErr.Reason.Error()
		}
	}

	writeJSONResponse(w, h.logger, http.StatusOK, resp)
}

// ListRegions handles GET /api/v1/parents/{type}/{id}/regions?template=
func (h *RegionHandler) ListRegions(w http.ResponseWriter, r *http.Request) {
	parent, err := parentFromVars(r)
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}

	listing, err := h.chunks.ListRegions(r.Context(), parent, r.URL.Query().Get("template"))
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, listing)
}

// RenderRegion handles GET /api/v1/parents/{type}/{id}/regions/{region}/render
func (h *RegionHandler) RenderRegion(w http.ResponseWriter, r *http.Request) {
	parent, err := parentFromVars(r)
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}

	rendered, err := h.chunks.RenderRegion(r.Context(), parent, mux.Vars(r)["region"], r.URL.Query().Get("template"))
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, rendered)
}

// Consolidate handles POST /api/v1/parents/{type}/{id}/regions/{region}/consolidate
func (h *RegionHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	parent, err := parentFromVars(r)
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}
	region := mux.Vars(r)["region"]

	writes, err := h.chunks.Consolidate(r.Context(), parent, region)
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}

	writeJSONResponse(w, h.logger, http.StatusOK, map[string]interface{}{
		"parent":          parent,
		"region":          region,
		"position_writes": writes,
	})
}

// CheckConsistency handles GET /api/v1/consistency
func (h *RegionHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.CheckAllConsistency(r.Context())
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, report)
}

// RepairConsistency handles POST /api/v1/consistency/repair
func (h *RegionHandler) RepairConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.RepairAllInconsistencies(r.Context())
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}
	writeJSONResponse(w, h.logger, http.StatusOK, report)
}
