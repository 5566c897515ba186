package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/listing"
	"github.com/procdash-labs/procdash-go/internal/repo"
	pgstore "github.com/procdash-labs/procdash-go/internal/repo/postgres"
	"github.com/procdash-labs/procdash-go/internal/service/rerun"
)

type stepRunResponse struct {
	ID          int64           `json:"id"`
	RunID       int64           `json:"run_id"`
	StepID      int64           `json:"step_id"`
	StepIndex   int             `json:"step_index"`
	Status      string          `json:"status"`
	StartedAt   *time.Time      `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at"`
	Failure     domain.Metadata `json:"failure"`
	CanRerun    bool            `json:"can_rerun"`
	RerunConfig domain.Metadata `json:"rerun_config"`
	RerunCount  int             `json:"rerun_count"`
	MaxReruns   int             `json:"max_reruns"`
	RerunOfID   *int64          `json:"rerun_of_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func stepRunFromDomain(stepRun domain.StepRun) stepRunResponse {
	return stepRunResponse{
		ID:          stepRun.ID,
		RunID:       stepRun.RunID,
		StepID:      stepRun.StepID,
		StepIndex:   stepRun.StepIndex,
		Status:      string(stepRun.Status),
		StartedAt:   stepRun.StartedAt,
		FinishedAt:  stepRun.FinishedAt,
		Failure:     metaOrEmpty(stepRun.Failure),
		CanRerun:    stepRun.CanRerun,
		RerunConfig: metaOrEmpty(stepRun.RerunConfig),
		RerunCount:  stepRun.RerunCount,
		MaxReruns:   stepRun.MaxReruns,
		RerunOfID:   stepRun.RerunOfID,
		CreatedAt:   stepRun.CreatedAt,
		UpdatedAt:   stepRun.UpdatedAt,
	}
}

var stepRunOrderColumns = map[string]string{
	"id":          "id",
	"step_index":  "step_index",
	"status":      "status",
	"started_at":  "started_at",
	"finished_at": "finished_at",
	"created_at":  "created_at",
}

type createStepRunRequest struct {
	RunID     int64      `json:"run_id"`
	StepID    int64      `json:"step_id"`
	Status    string     `json:"status,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// handleCreateStepRun appends an execution record for a step, copying the
// step's rerun template.
func (api *dashboardAPI) handleCreateStepRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	var req createStepRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	status := domain.StepRunStatusPending
	if req.Status != "" {
		status = domain.NormalizeStepRunStatus(req.Status)
		if status == "" {
			api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_status")
			return
		}
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := pgstore.NewRunStore(tx).Get(r.Context(), req.RunID); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	step, err := pgstore.NewStepStore(tx).Get(r.Context(), req.StepID)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}

	stepRun := domain.StepRun{
		RunID:       req.RunID,
		StepID:      step.ID,
		StepIndex:   step.Index,
		Status:      status,
		StartedAt:   req.StartedAt,
		CanRerun:    step.IsRerunnable,
		RerunConfig: step.RerunConfig.Clone(),
		MaxReruns:   step.MaxRerunsFromConfig(),
	}
	created, err := pgstore.NewStepRunStore(tx).Create(r.Context(), stepRun)
	if err != nil {
		if isForeignKeyViolation(err) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeRepoError(w, r, err)
		return
	}
	err = api.auditInsert(r, tx, identity, "step_run.create", "step_run", created.ID, map[string]any{
		"run_id":  created.RunID,
		"step_id": created.StepID,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}

	w.Header().Set("Location", "/api/v1/step-runs/"+strconv.FormatInt(created.ID, 10))
	api.writeJSON(w, http.StatusCreated, stepRunFromDomain(created))
}

func (api *dashboardAPI) handleListStepRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params, err := listing.ParseParams(q)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_pagination")
		return
	}
	order, err := listing.ParseOrder(q, stepRunOrderColumns, "created_at")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_order_by")
		return
	}

	filter := repo.StepRunFilter{
		RunID:      int64(parseIntQuery(r, "run_id", 0)),
		StepID:     int64(parseIntQuery(r, "step_id", 0)),
		Rerunnable: parseBoolQuery(r, "rerunnable"),
		Order:      order,
		Page:       params,
	}
	if raw := q.Get("status"); raw != "" {
		status := domain.NormalizeStepRunStatus(raw)
		if status == "" {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		filter.Status = status
	}

	stepRuns, total, err := api.stepRuns.List(r.Context(), filter)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	items := make([]stepRunResponse, 0, len(stepRuns))
	for _, stepRun := range stepRuns {
		items = append(items, stepRunFromDomain(stepRun))
	}
	writePage(api, w, r, listing.NewPage(items, total, params))
}

func (api *dashboardAPI) handleGetStepRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "step_run_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_step_run_id")
		return
	}
	stepRun, err := api.stepRuns.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, stepRunFromDomain(stepRun))
}

type patchStepRunRequest struct {
	Status     *string          `json:"status,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Failure    *domain.Metadata `json:"failure,omitempty"`
}

// handlePatchStepRun records step progress and re-derives the parent run's
// status from all of its step runs.
func (api *dashboardAPI) handlePatchStepRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "step_run_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_step_run_id")
		return
	}
	var req patchStepRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	store := pgstore.NewStepRunStore(tx)
	stepRun, err := store.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if req.Status != nil {
		status := domain.NormalizeStepRunStatus(*req.Status)
		if status == "" {
			api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_status")
			return
		}
		stepRun.Status = status
	}
	if req.StartedAt != nil {
		stepRun.StartedAt = req.StartedAt
	}
	if req.FinishedAt != nil {
		stepRun.FinishedAt = req.FinishedAt
	}
	if req.Failure != nil {
		stepRun.Failure = *req.Failure
	}

	updated, err := store.Update(r.Context(), stepRun)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}

	statuses, err := store.StatusesByRun(r.Context(), updated.RunID)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := pgstore.NewRunStore(tx).UpdateStatus(r.Context(), updated.RunID, domain.DeriveRunStatus(statuses)); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	err = api.auditInsert(r, tx, identity, "step_run.update", "step_run", updated.ID, map[string]any{
		"run_id": updated.RunID,
		"status": string(updated.Status),
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	api.writeJSON(w, http.StatusOK, stepRunFromDomain(updated))
}

// handleRerunStepRun re-queues a failed step run through the automation
// server. The replacement row survives a failed dispatch; the 502 tells the
// caller the external notification did not land.
func (api *dashboardAPI) handleRerunStepRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "step_run_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_step_run_id")
		return
	}

	created, err := api.rerun.Trigger(r.Context(), id)
	if err != nil {
		var rerunErr *domain.RerunError
		switch {
		case errors.As(err, &rerunErr):
			api.writeError(w, r, http.StatusConflict, rerunErr.Code)
		case errors.Is(err, rerun.ErrDispatchFailed):
			api.logger.Error("rerun dispatch failed",
				"request_id", r.Header.Get("X-Request-Id"), "step_run_id", id, "error", err.Error())
			api.writeError(w, r, http.StatusBadGateway, "rerun_dispatch_failed")
		default:
			api.writeRepoError(w, r, err)
		}
		return
	}

	err = api.auditInsert(r, api.db, identity, "step_run.rerun", "step_run", id, map[string]any{
		"replacement_id": created.ID,
		"run_id":         created.RunID,
		"rerun_count":    created.RerunCount,
	})
	if err != nil {
		api.logger.Error("audit rerun failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
	}
	api.writeJSON(w, http.StatusCreated, stepRunFromDomain(created))
}
