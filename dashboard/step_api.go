package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	pgstore "github.com/procdash-labs/procdash-go/internal/repo/postgres"
)

type stepResponse struct {
	ID           int64           `json:"id"`
	ProcessID    int64           `json:"process_id"`
	Index        int             `json:"index"`
	Name         string          `json:"name"`
	IsRerunnable bool            `json:"is_rerunnable"`
	RerunConfig  domain.Metadata `json:"rerun_config"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func stepFromDomain(step domain.Step) stepResponse {
	return stepResponse{
		ID:           step.ID,
		ProcessID:    step.ProcessID,
		Index:        step.Index,
		Name:         step.Name,
		IsRerunnable: step.IsRerunnable,
		RerunConfig:  metaOrEmpty(step.RerunConfig),
		CreatedAt:    step.CreatedAt,
		UpdatedAt:    step.UpdatedAt,
	}
}

type createStepRequest struct {
	Index        int             `json:"index"`
	Name         string          `json:"name"`
	IsRerunnable bool            `json:"is_rerunnable,omitempty"`
	RerunConfig  domain.Metadata `json:"rerun_config,omitempty"`
}

func (api *dashboardAPI) handleCreateStep(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	processID, ok := pathID(r, "process_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_process_id")
		return
	}
	var req createStepRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	step := domain.Step{
		ProcessID:    processID,
		Index:        req.Index,
		Name:         strings.TrimSpace(req.Name),
		IsRerunnable: req.IsRerunnable,
		RerunConfig:  req.RerunConfig,
	}
	if err := step.Validate(); err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_step")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := pgstore.NewProcessStore(tx).Get(r.Context(), processID); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	created, err := pgstore.NewStepStore(tx).Create(r.Context(), step)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	err = api.auditInsert(r, tx, identity, "step.create", "step", created.ID, map[string]any{
		"process_id": created.ProcessID,
		"name":       created.Name,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}

	w.Header().Set("Location", "/api/v1/steps/"+strconv.FormatInt(created.ID, 10))
	api.writeJSON(w, http.StatusCreated, stepFromDomain(created))
}

// handleListSteps returns the process's steps in definition order;
// rerunnable=true narrows to steps that may be re-queued.
func (api *dashboardAPI) handleListSteps(w http.ResponseWriter, r *http.Request) {
	processID, ok := pathID(r, "process_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_process_id")
		return
	}
	if _, err := api.processes.Get(r.Context(), processID); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	steps, err := api.steps.ListByProcess(r.Context(), processID)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}

	rerunnableOnly := parseBoolQuery(r, "rerunnable")
	items := make([]stepResponse, 0, len(steps))
	for _, step := range steps {
		if rerunnableOnly && !step.IsRerunnable {
			continue
		}
		items = append(items, stepFromDomain(step))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (api *dashboardAPI) handleGetStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "step_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_step_id")
		return
	}
	step, err := api.steps.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, stepFromDomain(step))
}

type updateStepRequest struct {
	Index        *int             `json:"index,omitempty"`
	Name         *string          `json:"name,omitempty"`
	IsRerunnable *bool            `json:"is_rerunnable,omitempty"`
	RerunConfig  *domain.Metadata `json:"rerun_config,omitempty"`
}

func (api *dashboardAPI) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "step_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_step_id")
		return
	}
	var req updateStepRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	store := pgstore.NewStepStore(tx)
	step, err := store.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if req.Index != nil {
		step.Index = *req.Index
	}
	if req.Name != nil {
		step.Name = strings.TrimSpace(*req.Name)
	}
	if req.IsRerunnable != nil {
		step.IsRerunnable = *req.IsRerunnable
	}
	if req.RerunConfig != nil {
		step.RerunConfig = *req.RerunConfig
	}
	if err := step.Validate(); err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_step")
		return
	}

	updated, err := store.Update(r.Context(), step)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	err = api.auditInsert(r, tx, identity, "step.update", "step", updated.ID, map[string]any{
		"name": updated.Name,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	api.writeJSON(w, http.StatusOK, stepFromDomain(updated))
}

func (api *dashboardAPI) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "step_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_step_id")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	if err := pgstore.NewStepStore(tx).SoftDelete(r.Context(), id, time.Now().UTC()); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := api.auditInsert(r, tx, identity, "step.delete", "step", id, nil); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
