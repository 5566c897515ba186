package domain

import (
	"errors"
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

func NormalizeRunStatus(raw string) RunStatus {
	switch RunStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case RunStatusPending:
		return RunStatusPending
	case RunStatusRunning:
		return RunStatusRunning
	case RunStatusCompleted:
		return RunStatusCompleted
	case RunStatusFailed:
		return RunStatusFailed
	default:
		return ""
	}
}

// Run is one execution instance of a process for a specific entity.
//
// ScheduledDeletionAt is stamped once at creation from the parent process's
// retention period and never recomputed afterwards. IsNeutralized is
// irreversible: restore clears DeletedAt but never the neutralized flag.
type Run struct {
	ID                  int64
	ProcessID           int64
	EntityID            string
	EntityName          *string
	Status              RunStatus
	Metadata            Metadata
	StartedAt           *time.Time
	FinishedAt          *time.Time
	IsNeutralized       bool
	ScheduledDeletionAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

func (r Run) Validate() error {
	if r.ProcessID <= 0 {
		return errors.New("process_id is required")
	}
	if strings.TrimSpace(r.EntityID) == "" {
		return errors.New("entity_id is required")
	}
	if len(r.EntityID) > 100 {
		return errors.New("entity_id must be at most 100 characters")
	}
	if NormalizeRunStatus(string(r.Status)) == "" {
		return errors.New("status is invalid")
	}
	return nil
}

// DeriveRunStatus computes a run's status from its step-run statuses:
// running wins, then failed, then completed once any step succeeded,
// otherwise pending.
func DeriveRunStatus(stepStatuses []StepRunStatus) RunStatus {
	if len(stepStatuses) == 0 {
		return RunStatusPending
	}
	anySuccess := false
	anyFailed := false
	for _, status := range stepStatuses {
		switch status {
		case StepRunStatusRunning:
			return RunStatusRunning
		case StepRunStatusFailed:
			anyFailed = true
		case StepRunStatusSuccess:
			anySuccess = true
		}
	}
	if anyFailed {
		return RunStatusFailed
	}
	if anySuccess {
		return RunStatusCompleted
	}
	return RunStatusPending
}
