package domain

import (
	"errors"
	"testing"
)

func TestCheckRerunnable(t *testing.T) {
	sr := StepRun{ID: 7, RunID: 1, StepID: 2, Status: StepRunStatusFailed, CanRerun: true, RerunCount: 1, MaxReruns: 3}
	if err := sr.CheckRerunnable(); err != nil {
		t.Fatalf("rerunnable step run rejected: %v", err)
	}

	cases := []struct {
		name     string
		mutate   func(*StepRun)
		wantCode string
	}{
		{"not rerunnable", func(s *StepRun) { s.CanRerun = false }, "step_run_not_rerunnable"},
		{"exhausted", func(s *StepRun) { s.RerunCount = 3 }, "max_reruns_exceeded"},
		{"not failed", func(s *StepRun) { s.Status = StepRunStatusSuccess }, "step_run_not_failed"},
	}
	for _, tc := range cases {
		cand := sr
		tc.mutate(&cand)
		err := cand.CheckRerunnable()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var rerunErr *RerunError
		if !errors.As(err, &rerunErr) {
			t.Fatalf("%s: unexpected error type %T", tc.name, err)
		}
		if rerunErr.Code != tc.wantCode {
			t.Fatalf("%s: got code %s want %s", tc.name, rerunErr.Code, tc.wantCode)
		}
	}
}

func TestMaxRerunsFromConfig(t *testing.T) {
	step := Step{ProcessID: 1, Name: "extract", IsRerunnable: true}
	if got := step.MaxRerunsFromConfig(); got != 3 {
		t.Fatalf("default: got %d want 3", got)
	}

	step.RerunConfig = Metadata{"max_retries": float64(5)}
	if got := step.MaxRerunsFromConfig(); got != 5 {
		t.Fatalf("configured: got %d want 5", got)
	}

	step.IsRerunnable = false
	if got := step.MaxRerunsFromConfig(); got != 0 {
		t.Fatalf("non-rerunnable: got %d want 0", got)
	}
}
