package rest

import (
	"errors"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/contracts"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	usecases_port "listing-pipeline-service/internal/core/port/usecases_port"
	"net/http"

	"github.com/google/uuid"
)

// SweepDefaults - лимиты, когда запрос их не задал
type SweepDefaults struct {
	EnrichLimit  int
	VerifyLimit  int
	GeocodeLimit int
	RcnLimit     int
}

// PipelineHandler запускает стадии конвейера для офиса по HTTP
type PipelineHandler struct {
	harvestUC usecases_port.HarvestPort
	enrichUC  usecases_port.EnrichRoundPort
	verifyUC  usecases_port.VerifyRoundPort
	geocodeUC usecases_port.GeocodeBatchPort
	rcnUC     usecases_port.RcnBatchPort
	runUC     usecases_port.RunPipelinePort
	defaults  SweepDefaults
}

// NewPipelineHandler; geocodeUC и rcnUC могут быть nil, тогда стадия отвечает 503
func NewPipelineHandler(
	harvestUC usecases_port.HarvestPort,
	enrichUC usecases_port.EnrichRoundPort,
	verifyUC usecases_port.VerifyRoundPort,
	geocodeUC usecases_port.GeocodeBatchPort,
	rcnUC usecases_port.RcnBatchPort,
	runUC usecases_port.RunPipelinePort,
	defaults SweepDefaults,
) *PipelineHandler {
	return &PipelineHandler{
		harvestUC: harvestUC,
		enrichUC:  enrichUC,
		verifyUC:  verifyUC,
		geocodeUC: geocodeUC,
		rcnUC:     rcnUC,
		runUC:     runUC,
		defaults:  defaults,
	}
}

func (h *PipelineHandler) Harvest(w http.ResponseWriter, r *http.Request) {
	logger := contextkeys.LoggerFromContext(r.Context()).WithFields(port.Fields{"handler": "Harvest"})

	officeID, err := officeIDParam(r)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filters domain.SearchFilters
	if err := decodeBody(w, r, contracts.SearchFiltersRequest, &filters); err != nil {
		logger.Warn("Invalid harvest request", port.Fields{"error": err.Error()})
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.harvestUC.Execute(r.Context(), officeID, filters)
	if err != nil {
		h.writeUseCaseError(w, logger, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, summary)
}

func (h *PipelineHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, "Enrich", func(officeID uuid.UUID, req SweepRequest) (domain.BatchSummary, error) {
		return h.enrichUC.Execute(r.Context(), officeID, pick(req.Limit, h.defaults.EnrichLimit))
	})
}

func (h *PipelineHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, "Verify", func(officeID uuid.UUID, req SweepRequest) (domain.BatchSummary, error) {
		return h.verifyUC.Execute(r.Context(), officeID, pick(req.Limit, h.defaults.VerifyLimit))
	})
}

func (h *PipelineHandler) Geocode(w http.ResponseWriter, r *http.Request) {
	if h.geocodeUC == nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "geocoding is not configured")
		return
	}
	h.sweep(w, r, "Geocode", func(officeID uuid.UUID, req SweepRequest) (domain.BatchSummary, error) {
		return h.geocodeUC.Execute(r.Context(), officeID, pick(req.Limit, h.defaults.GeocodeLimit), req.Force)
	})
}

func (h *PipelineHandler) Rcn(w http.ResponseWriter, r *http.Request) {
	if h.rcnUC == nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "price registry lookups are not configured")
		return
	}
	h.sweep(w, r, "Rcn", func(officeID uuid.UUID, req SweepRequest) (domain.BatchSummary, error) {
		return h.rcnUC.Execute(r.Context(), officeID, pick(req.Limit, h.defaults.RcnLimit), req.RadiusM, req.Force)
	})
}

// Run - полный прогон; ?task_id=<uuid> включает публикацию отчета
func (h *PipelineHandler) Run(w http.ResponseWriter, r *http.Request) {
	logger := contextkeys.LoggerFromContext(r.Context()).WithFields(port.Fields{"handler": "Run"})

	officeID, err := officeIDParam(r)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	taskID := uuid.Nil
	if raw := r.URL.Query().Get("task_id"); raw != "" {
		if taskID, err = uuid.Parse(raw); err != nil {
			WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid task_id %q", raw))
			return
		}
	}
	var opts domain.RunOptions
	if err := decodeBody(w, r, contracts.RunOptionsRequest, &opts); err != nil {
		logger.Warn("Invalid run request", port.Fields{"error": err.Error()})
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.runUC.Execute(r.Context(), officeID, opts, taskID)
	if err != nil {
		h.writeUseCaseError(w, logger, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, report)
}

func (h *PipelineHandler) sweep(w http.ResponseWriter, r *http.Request, name string, run func(uuid.UUID, SweepRequest) (domain.BatchSummary, error)) {
	logger := contextkeys.LoggerFromContext(r.Context()).WithFields(port.Fields{"handler": name})

	officeID, err := officeIDParam(r)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req SweepRequest
	if err := decodeBody(w, r, contracts.SweepRequest, &req); err != nil {
		logger.Warn("Invalid sweep request", port.Fields{"error": err.Error()})
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := run(officeID, req)
	if err != nil {
		h.writeUseCaseError(w, logger, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, summary)
}

func (h *PipelineHandler) writeUseCaseError(w http.ResponseWriter, logger port.LoggerPort, err error) {
	if errors.Is(err, domain.ErrFatalConfig) {
		logger.Warn("Rejected by configuration error", port.Fields{"error": err.Error()})
		WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	logger.Error("Use case failed", err, nil)
	WriteJSONError(w, http.StatusInternalServerError, err.Error())
}

func pick(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}
