package rerun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

type fakeStepRunRepo struct {
	repo.StepRunRepository

	byID    map[int64]domain.StepRun
	created []domain.StepRun
	nextID  int64
}

func (f *fakeStepRunRepo) Get(ctx context.Context, id int64) (domain.StepRun, error) {
	stepRun, ok := f.byID[id]
	if !ok {
		return domain.StepRun{}, repo.ErrNotFound
	}
	return stepRun, nil
}

func (f *fakeStepRunRepo) Create(ctx context.Context, stepRun domain.StepRun) (domain.StepRun, error) {
	f.nextID++
	stepRun.ID = f.nextID + 100
	f.created = append(f.created, stepRun)
	f.byID[stepRun.ID] = stepRun
	return stepRun, nil
}

func (f *fakeStepRunRepo) StatusesByRun(ctx context.Context, runID int64) ([]domain.StepRunStatus, error) {
	statuses := make([]domain.StepRunStatus, 0)
	for _, sr := range f.byID {
		if sr.RunID == runID {
			statuses = append(statuses, sr.Status)
		}
	}
	return statuses, nil
}

type fakeRunRepo struct {
	repo.RunRepository

	statusUpdates map[int64]domain.RunStatus
}

func (f *fakeRunRepo) UpdateStatus(ctx context.Context, id int64, status domain.RunStatus) error {
	if f.statusUpdates == nil {
		f.statusUpdates = map[int64]domain.RunStatus{}
	}
	f.statusUpdates[id] = status
	return nil
}

type fakeNotifier struct {
	reset    []string
	policies []Policy
	err      error
}

func (f *fakeNotifier) ResetWorkitem(ctx context.Context, workitemID string, policy Policy) error {
	if f.err != nil {
		return f.err
	}
	f.reset = append(f.reset, workitemID)
	f.policies = append(f.policies, policy)
	return nil
}

func failedStepRun(id int64) domain.StepRun {
	return domain.StepRun{
		ID:          id,
		RunID:       5,
		StepID:      3,
		StepIndex:   1,
		Status:      domain.StepRunStatusFailed,
		CanRerun:    true,
		RerunConfig: domain.Metadata{"workitem_id": "wi-9"},
		RerunCount:  0,
		MaxReruns:   3,
	}
}

func TestTrigger(t *testing.T) {
	stepRuns := &fakeStepRunRepo{byID: map[int64]domain.StepRun{7: failedStepRun(7)}}
	runs := &fakeRunRepo{}
	notifier := &fakeNotifier{}
	svc := New(stepRuns, runs, notifier)

	created, err := svc.Trigger(context.Background(), 7)
	if err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}
	if created.Status != domain.StepRunStatusPending {
		t.Fatalf("status=%s, want pending", created.Status)
	}
	if created.RerunOfID == nil || *created.RerunOfID != 7 {
		t.Fatalf("rerun_of_id=%v, want 7", created.RerunOfID)
	}
	if created.RerunCount != 1 {
		t.Fatalf("rerun_count=%d, want 1", created.RerunCount)
	}
	if len(notifier.reset) != 1 || notifier.reset[0] != "wi-9" {
		t.Fatalf("reset=%v", notifier.reset)
	}
	if runs.statusUpdates[5] == "" {
		t.Fatalf("parent run status must be re-derived")
	}
}

func TestTrigger_Preconditions(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*domain.StepRun)
		wantCode string
	}{
		{"not rerunnable", func(sr *domain.StepRun) { sr.CanRerun = false }, "step_run_not_rerunnable"},
		{"exhausted", func(sr *domain.StepRun) { sr.RerunCount = 3 }, "max_reruns_exceeded"},
		{"not failed", func(sr *domain.StepRun) { sr.Status = domain.StepRunStatusRunning }, "step_run_not_failed"},
		{"no workitem", func(sr *domain.StepRun) { delete(sr.RerunConfig, "workitem_id") }, "step_run_not_rerunnable"},
	}
	for _, tc := range cases {
		stepRun := failedStepRun(7)
		tc.mutate(&stepRun)
		stepRuns := &fakeStepRunRepo{byID: map[int64]domain.StepRun{7: stepRun}}
		svc := New(stepRuns, &fakeRunRepo{}, &fakeNotifier{})

		_, err := svc.Trigger(context.Background(), 7)
		var rerunErr *domain.RerunError
		if !errors.As(err, &rerunErr) {
			t.Fatalf("%s: err=%v, want RerunError", tc.name, err)
		}
		if rerunErr.Code != tc.wantCode {
			t.Fatalf("%s: code=%s, want %s", tc.name, rerunErr.Code, tc.wantCode)
		}
		if len(stepRuns.created) != 0 {
			t.Fatalf("%s: no step run may be created", tc.name)
		}
	}
}

func TestTrigger_DispatchFailure(t *testing.T) {
	stepRuns := &fakeStepRunRepo{byID: map[int64]domain.StepRun{7: failedStepRun(7)}}
	notifier := &fakeNotifier{err: errors.New("connection refused")}
	svc := New(stepRuns, &fakeRunRepo{}, notifier)

	created, err := svc.Trigger(context.Background(), 7)
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("err=%v, want ErrDispatchFailed", err)
	}
	if created.ID == 0 {
		t.Fatalf("replacement step run must survive a dispatch failure")
	}
}

func TestTrigger_NotFound(t *testing.T) {
	svc := New(&fakeStepRunRepo{byID: map[int64]domain.StepRun{}}, &fakeRunRepo{}, &fakeNotifier{})
	_, err := svc.Trigger(context.Background(), 404)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestTrigger_PolicyFromRerunConfig(t *testing.T) {
	stepRun := failedStepRun(7)
	stepRun.RerunConfig = domain.Metadata{
		"workitem_id":  "wi-9",
		"max_attempts": float64(5),
		"delays":       []any{float64(1), "30s"},
	}
	stepRuns := &fakeStepRunRepo{byID: map[int64]domain.StepRun{7: stepRun}}
	notifier := &fakeNotifier{}
	svc := New(stepRuns, &fakeRunRepo{}, notifier)

	if _, err := svc.Trigger(context.Background(), 7); err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}
	if len(notifier.policies) != 1 {
		t.Fatalf("policies=%v", notifier.policies)
	}
	got := notifier.policies[0]
	if got.MaxAttempts != 5 {
		t.Fatalf("max_attempts=%d, want 5", got.MaxAttempts)
	}
	if len(got.Delays) != 2 || got.Delays[0] != time.Second || got.Delays[1] != 30*time.Second {
		t.Fatalf("delays=%v", got.Delays)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	policy := policyFromConfig(domain.Metadata{
		"max_attempts": float64(4),
		"delays":       []any{float64(2), "500ms", "soon", true},
	})
	if policy.MaxAttempts != 4 {
		t.Fatalf("max_attempts=%d, want 4", policy.MaxAttempts)
	}
	if len(policy.Delays) != 2 || policy.Delays[0] != 2*time.Second || policy.Delays[1] != 500*time.Millisecond {
		t.Fatalf("delays=%v", policy.Delays)
	}

	policy = policyFromConfig(domain.Metadata{"workitem_id": "wi-1"})
	if policy.MaxAttempts != 0 || policy.Delays != nil {
		t.Fatalf("policy without config keys must be zero: %+v", policy)
	}
}
