package domain

import (
	"testing"
	"time"
)

func TestRunValidate(t *testing.T) {
	run := Run{ProcessID: 1, EntityID: "INV-001", Status: RunStatusPending}
	if err := run.Validate(); err != nil {
		t.Fatalf("valid run rejected: %v", err)
	}

	run.EntityID = ""
	if err := run.Validate(); err == nil {
		t.Fatalf("expected error for missing entity_id")
	}

	run.EntityID = "INV-001"
	run.Status = "cancelled"
	if err := run.Validate(); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestDeriveRunStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []StepRunStatus
		want     RunStatus
	}{
		{"empty", nil, RunStatusPending},
		{"all pending", []StepRunStatus{StepRunStatusPending, StepRunStatusPending}, RunStatusPending},
		{"running wins", []StepRunStatus{StepRunStatusSuccess, StepRunStatusRunning, StepRunStatusFailed}, RunStatusRunning},
		{"failed over completed", []StepRunStatus{StepRunStatusSuccess, StepRunStatusFailed}, RunStatusFailed},
		{"completed", []StepRunStatus{StepRunStatusSuccess, StepRunStatusSuccess}, RunStatusCompleted},
		{"success with pending", []StepRunStatus{StepRunStatusSuccess, StepRunStatusPending}, RunStatusCompleted},
	}
	for _, tc := range cases {
		if got := DeriveRunStatus(tc.statuses); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestScheduledDeletionFor(t *testing.T) {
	months := 2
	p := Process{Name: "billing", RetentionMonths: &months}
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	due := p.ScheduledDeletionFor(created)
	if due == nil {
		t.Fatalf("expected a deletion time")
	}
	if want := created.Add(60 * 24 * time.Hour); !due.Equal(want) {
		t.Fatalf("got %v want %v", due, want)
	}

	p.RetentionMonths = nil
	if p.ScheduledDeletionFor(created) != nil {
		t.Fatalf("expected nil without retention")
	}
}

// The deadline follows the given creation time, never the wall clock: a run
// backfilled with an old created_at is due the full retention period after
// that timestamp, which may already have elapsed.
func TestScheduledDeletionForOldCreationTime(t *testing.T) {
	months := 1
	p := Process{Name: "billing", RetentionMonths: &months}
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	due := p.ScheduledDeletionFor(created)
	if due == nil || !due.Equal(created.Add(30*24*time.Hour)) {
		t.Fatalf("due=%v, want created_at + 30 days", due)
	}
	if !due.Before(time.Now()) {
		t.Fatalf("deadline for an old run must already have elapsed")
	}
}
