package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deltran/screening/internal/store"
	"github.com/deltran/screening/internal/types"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// handleScreen implements spec.md §6's Screen operation.
func (a *API) handleScreen(w http.ResponseWriter, r *http.Request) {
	var req types.ScreeningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := a.dispatcher.Screen(r.Context(), req)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		a.logger.Error("screen failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "screening failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEnqueueBulk implements spec.md §6's EnqueueBulk operation.
func (a *API) handleEnqueueBulk(w http.ResponseWriter, r *http.Request) {
	var items []types.ScreeningRequest
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := a.dispatcher.EnqueueBulk(r.Context(), items)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		a.logger.Error("bulk enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "bulk enqueue failed")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleGetJob implements spec.md §6's GetJob operation.
func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := a.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		a.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleSearchScreened implements spec.md §6's SearchScreened operation.
func (a *API) handleSearchScreened(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SearchFilter{
		Name:              q.Get("name"),
		EntityKey:         q.Get("entity_key"),
		BusinessReference: q.Get("business_reference"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}

	entities, err := a.store.SearchScreened(r.Context(), filter)
	if err != nil {
		a.logger.Error("search screened failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

// handleRefresh implements spec.md §6's Refresh operation, triggering an
// out-of-band watchlist refresh and delta sweep synchronously.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if a.sweep == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh is not configured")
		return
	}
	run, err := a.sweep.Run(r.Context())
	if err != nil {
		a.logger.Error("refresh failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// markFalsePositiveRequest is the body for handleMarkFalsePositive.
type markFalsePositiveRequest struct {
	Actor         string `json:"actor"`
	Reason        string `json:"reason"`
	CurrentUKHash string `json:"current_uk_hash"`
}

// handleMarkFalsePositive implements spec.md §6's MarkFalsePositive operation.
func (a *API) handleMarkFalsePositive(w http.ResponseWriter, r *http.Request) {
	entityKey := chi.URLParam(r, "entityKey")
	var body markFalsePositiveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Actor == "" || body.Reason == "" {
		writeError(w, http.StatusBadRequest, "actor and reason are required")
		return
	}

	result, err := a.dispatcher.MarkFalsePositive(r.Context(), entityKey, body.Actor, body.Reason, body.CurrentUKHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "screened entity not found")
			return
		}
		a.logger.Error("mark false positive failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "mark false positive failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
