package domain

import (
	"errors"
	"fmt"
	"time"
)

type StepRunStatus string

const (
	StepRunStatusPending StepRunStatus = "pending"
	StepRunStatusRunning StepRunStatus = "running"
	StepRunStatusSuccess StepRunStatus = "success"
	StepRunStatusFailed  StepRunStatus = "failed"
)

func NormalizeStepRunStatus(raw string) StepRunStatus {
	switch StepRunStatus(raw) {
	case StepRunStatusPending, StepRunStatusRunning, StepRunStatusSuccess, StepRunStatusFailed:
		return StepRunStatus(raw)
	default:
		return ""
	}
}

// StepRun is the per-run execution record of a step. RerunOfID points at the
// step run this one replaced when it was created through the rerun endpoint.
type StepRun struct {
	ID          int64
	RunID       int64
	StepID      int64
	StepIndex   int
	Status      StepRunStatus
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Failure     Metadata
	CanRerun    bool
	RerunConfig Metadata
	RerunCount  int
	MaxReruns   int
	RerunOfID   *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

func (s StepRun) Validate() error {
	if s.RunID <= 0 {
		return errors.New("run_id is required")
	}
	if s.StepID <= 0 {
		return errors.New("step_id is required")
	}
	if s.StepIndex < 0 {
		return errors.New("step_index must be >= 0")
	}
	if NormalizeStepRunStatus(string(s.Status)) == "" {
		return errors.New("status is invalid")
	}
	return nil
}

// CheckRerunnable reports why a step run may not be rerun right now.
// A nil return means a rerun is allowed.
func (s StepRun) CheckRerunnable() error {
	if !s.CanRerun {
		return &RerunError{Code: "step_run_not_rerunnable", Message: fmt.Sprintf("step run %d is not configured for reruns", s.ID)}
	}
	if s.RerunCount >= s.MaxReruns {
		return &RerunError{Code: "max_reruns_exceeded", Message: fmt.Sprintf("step run %d exhausted its %d reruns", s.ID, s.MaxReruns)}
	}
	if s.Status != StepRunStatusFailed {
		return &RerunError{Code: "step_run_not_failed", Message: fmt.Sprintf("step run %d must be failed to rerun, is %s", s.ID, s.Status)}
	}
	return nil
}

// RerunError is a business-rule violation of the rerun preconditions.
type RerunError struct {
	Code    string
	Message string
}

func (e *RerunError) Error() string {
	return e.Message
}
