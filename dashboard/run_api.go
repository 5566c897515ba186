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
	"github.com/procdash-labs/procdash-go/internal/service/retention"
	"github.com/procdash-labs/procdash-go/internal/service/search"
)

type runResponse struct {
	ID                  int64           `json:"id"`
	ProcessID           int64           `json:"process_id"`
	EntityID            string          `json:"entity_id"`
	EntityName          *string         `json:"entity_name"`
	Status              string          `json:"status"`
	Metadata            domain.Metadata `json:"metadata"`
	StartedAt           *time.Time      `json:"started_at"`
	FinishedAt          *time.Time      `json:"finished_at"`
	IsNeutralized       bool            `json:"is_neutralized"`
	ScheduledDeletionAt *time.Time      `json:"scheduled_deletion_at"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func runFromDomain(run domain.Run) runResponse {
	return runResponse{
		ID:                  run.ID,
		ProcessID:           run.ProcessID,
		EntityID:            run.EntityID,
		EntityName:          run.EntityName,
		Status:              string(run.Status),
		Metadata:            metaOrEmpty(run.Metadata),
		StartedAt:           run.StartedAt,
		FinishedAt:          run.FinishedAt,
		IsNeutralized:       run.IsNeutralized,
		ScheduledDeletionAt: run.ScheduledDeletionAt,
		CreatedAt:           run.CreatedAt,
		UpdatedAt:           run.UpdatedAt,
	}
}

var runOrderColumns = map[string]string{
	"id":          "id",
	"entity_id":   "entity_id",
	"entity_name": "entity_name",
	"status":      "status",
	"started_at":  "started_at",
	"finished_at": "finished_at",
	"created_at":  "created_at",
}

type createRunRequest struct {
	ProcessID  int64           `json:"process_id"`
	EntityID   string          `json:"entity_id"`
	EntityName *string         `json:"entity_name,omitempty"`
	Status     string          `json:"status,omitempty"`
	Metadata   domain.Metadata `json:"metadata,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// handleCreateRun stamps the retention deadline from the parent process and
// instantiates one pending step run per process step.
func (api *dashboardAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}

	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	status := domain.RunStatusPending
	if strings.TrimSpace(req.Status) != "" {
		status = domain.NormalizeRunStatus(req.Status)
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

	process, err := pgstore.NewProcessStore(tx).Get(r.Context(), req.ProcessID)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}

	run := domain.Run{
		ProcessID:  process.ID,
		EntityID:   strings.TrimSpace(req.EntityID),
		EntityName: req.EntityName,
		Status:     status,
		Metadata:   req.Metadata,
		StartedAt:  req.StartedAt,
		FinishedAt: req.FinishedAt,
	}
	if err := run.Validate(); err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_run")
		return
	}

	runStore := pgstore.NewRunStore(tx)
	created, err := runStore.Create(r.Context(), run)
	if err != nil {
		if isForeignKeyViolation(err) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeRepoError(w, r, err)
		return
	}
	// The deadline derives from the row's created_at (the database clock),
	// so scheduled_deletion_at - created_at is exactly the retention period.
	if due := process.ScheduledDeletionFor(created.CreatedAt); due != nil {
		created, err = runStore.ScheduleDeletion(r.Context(), created.ID, *due)
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
	}

	steps, err := pgstore.NewStepStore(tx).ListByProcess(r.Context(), process.ID)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	stepRunStore := pgstore.NewStepRunStore(tx)
	for _, step := range steps {
		_, err := stepRunStore.Create(r.Context(), domain.StepRun{
			RunID:       created.ID,
			StepID:      step.ID,
			StepIndex:   step.Index,
			Status:      domain.StepRunStatusPending,
			CanRerun:    step.IsRerunnable,
			RerunConfig: step.RerunConfig.Clone(),
			MaxReruns:   step.MaxRerunsFromConfig(),
		})
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
	}

	err = api.auditInsert(r, tx, identity, "run.create", "run", created.ID, map[string]any{
		"process_id": created.ProcessID,
		"entity_id":  created.EntityID,
		"step_runs":  len(steps),
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}

	w.Header().Set("Location", "/api/v1/runs/"+strconv.FormatInt(created.ID, 10))
	api.writeJSON(w, http.StatusCreated, runFromDomain(created))
}

func (api *dashboardAPI) runFilterFromQuery(w http.ResponseWriter, r *http.Request) (repo.RunFilter, bool) {
	q := r.URL.Query()
	params, err := listing.ParseParams(q)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_pagination")
		return repo.RunFilter{}, false
	}
	metaFilters, err := listing.ParseMetaFilters(q["meta_filter"])
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_meta_filter")
		return repo.RunFilter{}, false
	}
	order, err := listing.ParseOrder(q, runOrderColumns, "created_at")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_order_by")
		return repo.RunFilter{}, false
	}

	filter := repo.RunFilter{
		ProcessID:  int64(parseIntQuery(r, "process_id", 0)),
		EntityID:   q.Get("entity_id"),
		EntityName: q.Get("entity_name"),
		Meta:       metaFilters,
		Order:      order,
		Page:       params,
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := domain.NormalizeRunStatus(raw)
		if status == "" {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return repo.RunFilter{}, false
		}
		filter.Status = status
	}
	for _, rangeParam := range []struct {
		key string
		dst **time.Time
	}{
		{"started_after", &filter.StartedAfter},
		{"started_before", &filter.StartedBefore},
		{"finished_after", &filter.FinishedAfter},
		{"finished_before", &filter.FinishedBefore},
	} {
		at, err := parseTimeQuery(r, rangeParam.key)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_date_filter")
			return repo.RunFilter{}, false
		}
		*rangeParam.dst = at
	}
	return filter, true
}

func (api *dashboardAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter, ok := api.runFilterFromQuery(w, r)
	if !ok {
		return
	}
	runs, total, err := api.runs.List(r.Context(), filter)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	items := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, runFromDomain(run))
	}
	writePage(api, w, r, listing.NewPage(items, total, filter.Page))
}

type searchedRun struct {
	Run     runResponse           `json:"run"`
	Matches []search.MatchedField `json:"matches"`
}

// handleSearchRuns matches q against entity fields, status, and — when a
// process is given — the metadata fields its schema declares, annotating each
// hit with the fields that matched.
func (api *dashboardAPI) handleSearchRuns(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		api.writeError(w, r, http.StatusBadRequest, "search_term_required")
		return
	}
	filter, ok := api.runFilterFromQuery(w, r)
	if !ok {
		return
	}
	filter.Search = term

	if filter.ProcessID > 0 {
		process, err := api.processes.Get(r.Context(), filter.ProcessID)
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		filter.SearchMetaKeys = search.FieldsForProcess(process).MetaKeys()
	}

	runs, total, err := api.runs.List(r.Context(), filter)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}

	annotated := search.AnnotateMatches(runs, term, filter.SearchMetaKeys)
	items := make([]searchedRun, 0, len(annotated))
	for _, hit := range annotated {
		items = append(items, searchedRun{Run: runFromDomain(hit.Run), Matches: hit.Matches})
	}
	writePage(api, w, r, listing.NewPage(items, total, filter.Page))
}

func (api *dashboardAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "run_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_run_id")
		return
	}
	run, err := api.runs.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, runFromDomain(run))
}

type updateRunRequest struct {
	EntityID   *string          `json:"entity_id,omitempty"`
	EntityName *string          `json:"entity_name,omitempty"`
	Status     *string          `json:"status,omitempty"`
	Metadata   *domain.Metadata `json:"metadata,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func (api *dashboardAPI) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "run_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_run_id")
		return
	}
	var req updateRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	store := pgstore.NewRunStore(tx)
	run, err := store.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if req.EntityID != nil {
		run.EntityID = strings.TrimSpace(*req.EntityID)
	}
	if req.EntityName != nil {
		run.EntityName = req.EntityName
	}
	if req.Status != nil {
		status := domain.NormalizeRunStatus(*req.Status)
		if status == "" {
			api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_status")
			return
		}
		run.Status = status
	}
	if req.Metadata != nil {
		run.Metadata = *req.Metadata
	}
	if req.StartedAt != nil {
		run.StartedAt = req.StartedAt
	}
	if req.FinishedAt != nil {
		run.FinishedAt = req.FinishedAt
	}
	if err := run.Validate(); err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_run")
		return
	}

	updated, err := store.Update(r.Context(), run)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	err = api.auditInsert(r, tx, identity, "run.update", "run", updated.ID, map[string]any{
		"status": string(updated.Status),
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	api.writeJSON(w, http.StatusOK, runFromDomain(updated))
}

func (api *dashboardAPI) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "run_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_run_id")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if err := pgstore.NewStepRunStore(tx).SoftDeleteByRun(r.Context(), id, now); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := pgstore.NewRunStore(tx).SoftDelete(r.Context(), id, now); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := api.auditInsert(r, tx, identity, "run.delete", "run", id, nil); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *dashboardAPI) handleRestoreRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "run_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_run_id")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	store := pgstore.NewRunStore(tx)
	if err := store.Restore(r.Context(), id); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := pgstore.NewStepRunStore(tx).RestoreByRun(r.Context(), id); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := api.auditInsert(r, tx, identity, "run.restore", "run", id, nil); err != nil {
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
	api.writeJSON(w, http.StatusOK, runFromDomain(restored))
}

// handleNeutralizeRun strips PII from one run ahead of its schedule.
func (api *dashboardAPI) handleNeutralizeRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "run_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_run_id")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	store := pgstore.NewRunStore(tx)
	run, err := store.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}

	svc := retention.New(store, api.policy, api.logger)
	if err := svc.NeutralizeRun(r.Context(), run); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := api.auditInsert(r, tx, identity, "run.neutralize", "run", id, nil); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	neutralized, err := store.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	api.writeJSON(w, http.StatusOK, runFromDomain(neutralized))
}

func (api *dashboardAPI) handleListRunStepRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "run_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_run_id")
		return
	}
	if _, err := api.runs.Get(r.Context(), id); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	stepRuns, err := api.stepRuns.ListByRun(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	items := make([]stepRunResponse, 0, len(stepRuns))
	for _, stepRun := range stepRuns {
		items = append(items, stepRunFromDomain(stepRun))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
