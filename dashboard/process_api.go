package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/listing"
	"github.com/procdash-labs/procdash-go/internal/repo"
	pgstore "github.com/procdash-labs/procdash-go/internal/repo/postgres"
	"github.com/procdash-labs/procdash-go/internal/service/search"
)

type processResponse struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Metadata        domain.Metadata `json:"metadata"`
	RetentionMonths *int            `json:"retention_months"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func processFromDomain(process domain.Process) processResponse {
	return processResponse{
		ID:              process.ID,
		Name:            process.Name,
		Metadata:        metaOrEmpty(process.Metadata),
		RetentionMonths: process.RetentionMonths,
		CreatedAt:       process.CreatedAt,
		UpdatedAt:       process.UpdatedAt,
	}
}

var processOrderColumns = map[string]string{
	"id":         "id",
	"name":       "name",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type createProcessRequest struct {
	Name            string          `json:"name"`
	Metadata        domain.Metadata `json:"metadata,omitempty"`
	RetentionMonths *int            `json:"retention_months,omitempty"`
}

func (api *dashboardAPI) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}

	var req createProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	process := domain.Process{
		Name:            strings.TrimSpace(req.Name),
		Metadata:        req.Metadata,
		RetentionMonths: req.RetentionMonths,
	}
	if err := process.Validate(); err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_process")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	created, err := pgstore.NewProcessStore(tx).Create(r.Context(), process)
	if err != nil {
		if isUniqueViolation(err) {
			api.writeError(w, r, http.StatusConflict, "process_name_exists")
			return
		}
		api.writeRepoError(w, r, err)
		return
	}
	err = api.auditInsert(r, tx, identity, "process.create", "process", created.ID, map[string]any{
		"name":             created.Name,
		"retention_months": created.RetentionMonths,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}

	w.Header().Set("Location", "/api/v1/processes/"+strconv.FormatInt(created.ID, 10))
	api.writeJSON(w, http.StatusCreated, processFromDomain(created))
}

func (api *dashboardAPI) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params, err := listing.ParseParams(q)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_pagination")
		return
	}
	metaFilters, err := listing.ParseMetaFilters(q["meta_filter"])
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_meta_filter")
		return
	}
	order, err := listing.ParseOrder(q, processOrderColumns, "created_at")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_order_by")
		return
	}

	processes, total, err := api.processes.List(r.Context(), repo.ProcessFilter{
		Name:  q.Get("name"),
		Meta:  metaFilters,
		Order: order,
		Page:  params,
	})
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}

	items := make([]processResponse, 0, len(processes))
	for _, process := range processes {
		items = append(items, processFromDomain(process))
	}
	writePage(api, w, r, listing.NewPage(items, total, params))
}

func (api *dashboardAPI) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "process_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_process_id")
		return
	}
	process, err := api.processes.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, processFromDomain(process))
}

type updateProcessRequest struct {
	Name            *string          `json:"name,omitempty"`
	Metadata        *domain.Metadata `json:"metadata,omitempty"`
	RetentionMonths *int             `json:"retention_months,omitempty"`
}

func (api *dashboardAPI) handleUpdateProcess(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "process_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_process_id")
		return
	}

	var req updateProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	store := pgstore.NewProcessStore(tx)
	process, err := store.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if req.Name != nil {
		process.Name = strings.TrimSpace(*req.Name)
	}
	if req.Metadata != nil {
		process.Metadata = *req.Metadata
	}
	if req.RetentionMonths != nil {
		process.RetentionMonths = req.RetentionMonths
	}
	if err := process.Validate(); err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_process")
		return
	}

	updated, err := store.Update(r.Context(), process)
	if err != nil {
		if isUniqueViolation(err) {
			api.writeError(w, r, http.StatusConflict, "process_name_exists")
			return
		}
		api.writeRepoError(w, r, err)
		return
	}
	err = api.auditInsert(r, tx, identity, "process.update", "process", updated.ID, map[string]any{
		"name":             updated.Name,
		"retention_months": updated.RetentionMonths,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	api.writeJSON(w, http.StatusOK, processFromDomain(updated))
}

// handleDeleteProcess soft-deletes the process and cascades the flag down to
// its steps, runs, and those runs' step runs.
func (api *dashboardAPI) handleDeleteProcess(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "process_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_process_id")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if err := pgstore.NewStepRunStore(tx).SoftDeleteByProcess(r.Context(), id, now); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := pgstore.NewRunStore(tx).SoftDeleteByProcess(r.Context(), id, now); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := pgstore.NewStepStore(tx).SoftDeleteByProcess(r.Context(), id, now); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := pgstore.NewProcessStore(tx).SoftDelete(r.Context(), id, now); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := api.auditInsert(r, tx, identity, "process.delete", "process", id, nil); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *dashboardAPI) handleRestoreProcess(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "process_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_process_id")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	store := pgstore.NewProcessStore(tx)
	if err := store.Restore(r.Context(), id); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := pgstore.NewStepStore(tx).RestoreByProcess(r.Context(), id); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := pgstore.NewRunStore(tx).RestoreByProcess(r.Context(), id); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := pgstore.NewStepRunStore(tx).RestoreByProcess(r.Context(), id); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := api.auditInsert(r, tx, identity, "process.restore", "process", id, nil); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}

	restored, err := store.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	api.writeJSON(w, http.StatusOK, processFromDomain(restored))
}

func (api *dashboardAPI) handleProcessOverview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "process_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_process_id")
		return
	}
	process, err := api.processes.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	counts, err := api.runs.StatusCounts(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	steps, err := api.steps.ListByProcess(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}

	runCounts := map[string]int64{}
	var totalRuns int64
	for _, status := range []domain.RunStatus{
		domain.RunStatusPending, domain.RunStatusRunning, domain.RunStatusCompleted, domain.RunStatusFailed,
	} {
		runCounts[string(status)] = counts[status]
		totalRuns += counts[status]
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"process":    processFromDomain(process),
		"step_count": len(steps),
		"run_counts": runCounts,
		"total_runs": totalRuns,
	})
}

func (api *dashboardAPI) handleSearchableFields(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "process_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_process_id")
		return
	}
	process, err := api.processes.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, search.FieldsForProcess(process))
}
