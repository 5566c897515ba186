package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/platform/auth"
	"github.com/procdash-labs/procdash-go/internal/repo"
	"github.com/procdash-labs/procdash-go/internal/service/rerun"
)

type fakeStepRunRepo struct {
	repo.StepRunRepository
	byID    map[int64]domain.StepRun
	created []domain.StepRun
}

func (f *fakeStepRunRepo) Get(ctx context.Context, id int64) (domain.StepRun, error) {
	stepRun, ok := f.byID[id]
	if !ok {
		return domain.StepRun{}, repo.ErrNotFound
	}
	return stepRun, nil
}

func (f *fakeStepRunRepo) Create(ctx context.Context, stepRun domain.StepRun) (domain.StepRun, error) {
	stepRun.ID = int64(len(f.created) + 1000)
	f.created = append(f.created, stepRun)
	return stepRun, nil
}

func (f *fakeStepRunRepo) StatusesByRun(ctx context.Context, runID int64) ([]domain.StepRunStatus, error) {
	return []domain.StepRunStatus{domain.StepRunStatusPending}, nil
}

type fakeRunRepo struct {
	repo.RunRepository
}

func (f *fakeRunRepo) UpdateStatus(ctx context.Context, id int64, status domain.RunStatus) error {
	return nil
}

type failingNotifier struct{}

func (failingNotifier) ResetWorkitem(ctx context.Context, workitemID string, policy rerun.Policy) error {
	return errors.New("connection refused")
}

func failedStepRun(id int64) domain.StepRun {
	return domain.StepRun{
		ID:          id,
		RunID:       7,
		StepID:      3,
		StepIndex:   1,
		Status:      domain.StepRunStatusFailed,
		CanRerun:    true,
		RerunConfig: domain.Metadata{"workitem_id": "wi-1", "max_reruns": float64(3)},
		MaxReruns:   3,
	}
}

func rerunTestAPI(stepRuns *fakeStepRunRepo) *dashboardAPI {
	api := testAPI()
	api.rerun = rerun.New(stepRuns, &fakeRunRepo{}, failingNotifier{})
	return api
}

func rerunRequest(id string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/step-runs/"+id+"/rerun", nil)
	r = r.WithContext(auth.ContextWithIdentity(r.Context(), auth.Identity{KeyID: 2, KeyName: "ops", Role: "user"}))
	r.SetPathValue("step_run_id", id)
	return r
}

func TestHandleRerunStepRun_NotFailed(t *testing.T) {
	stepRun := failedStepRun(5)
	stepRun.Status = domain.StepRunStatusSuccess
	api := rerunTestAPI(&fakeStepRunRepo{byID: map[int64]domain.StepRun{5: stepRun}})

	w := httptest.NewRecorder()
	api.handleRerunStepRun(w, rerunRequest("5"))

	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "step_run_not_failed" {
		t.Fatalf("error=%v", body["error"])
	}
}

func TestHandleRerunStepRun_LimitReached(t *testing.T) {
	stepRun := failedStepRun(5)
	stepRun.RerunCount = 3
	api := rerunTestAPI(&fakeStepRunRepo{byID: map[int64]domain.StepRun{5: stepRun}})

	w := httptest.NewRecorder()
	api.handleRerunStepRun(w, rerunRequest("5"))

	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "max_reruns_exceeded" {
		t.Fatalf("error=%v", body["error"])
	}
}

func TestHandleRerunStepRun_DispatchFailure(t *testing.T) {
	stepRuns := &fakeStepRunRepo{byID: map[int64]domain.StepRun{5: failedStepRun(5)}}
	api := rerunTestAPI(stepRuns)

	w := httptest.NewRecorder()
	api.handleRerunStepRun(w, rerunRequest("5"))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "rerun_dispatch_failed" {
		t.Fatalf("error=%v", body["error"])
	}
	if len(stepRuns.created) != 1 {
		t.Fatalf("replacement row must survive the failed dispatch, created=%d", len(stepRuns.created))
	}
}

func TestHandleRerunStepRun_NotFound(t *testing.T) {
	api := rerunTestAPI(&fakeStepRunRepo{byID: map[int64]domain.StepRun{}})

	w := httptest.NewRecorder()
	api.handleRerunStepRun(w, rerunRequest("9"))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
