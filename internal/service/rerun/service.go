// Package rerun re-queues failed step runs through the external automation
// server. A rerun never mutates the failed record's outcome: it appends a new
// pending step run pointing back at the one it replaces.
package rerun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

// ErrDispatchFailed marks a rerun whose automation-server notification did
// not go through; handlers answer 502 but keep the replacement step run.
var ErrDispatchFailed = errors.New("rerun dispatch failed")

// Notifier tells the automation system to pick the work item up again,
// honoring the step run's own retry policy.
type Notifier interface {
	ResetWorkitem(ctx context.Context, workitemID string, policy Policy) error
}

type Service struct {
	stepRuns repo.StepRunRepository
	runs     repo.RunRepository
	notifier Notifier
}

func New(stepRuns repo.StepRunRepository, runs repo.RunRepository, notifier Notifier) *Service {
	if stepRuns == nil || runs == nil || notifier == nil {
		return nil
	}
	return &Service{stepRuns: stepRuns, runs: runs, notifier: notifier}
}

// Trigger validates the rerun preconditions, appends the replacement step
// run, re-derives the parent run status, and notifies the automation server.
// A dispatch failure still returns the created step run alongside
// ErrDispatchFailed: the replacement row stays, only the notification failed.
func (s *Service) Trigger(ctx context.Context, stepRunID int64) (domain.StepRun, error) {
	if s == nil {
		return domain.StepRun{}, fmt.Errorf("rerun service not initialized")
	}

	original, err := s.stepRuns.Get(ctx, stepRunID)
	if err != nil {
		return domain.StepRun{}, err
	}
	if err := original.CheckRerunnable(); err != nil {
		return domain.StepRun{}, err
	}

	workitemID, ok := original.RerunConfig["workitem_id"].(string)
	if !ok || workitemID == "" {
		return domain.StepRun{}, &domain.RerunError{
			Code:    "step_run_not_rerunnable",
			Message: fmt.Sprintf("step run %d has no workitem_id in rerun config", original.ID),
		}
	}

	originalID := original.ID
	replacement := domain.StepRun{
		RunID:       original.RunID,
		StepID:      original.StepID,
		StepIndex:   original.StepIndex,
		Status:      domain.StepRunStatusPending,
		CanRerun:    original.CanRerun,
		RerunConfig: original.RerunConfig.Clone(),
		RerunCount:  original.RerunCount + 1,
		MaxReruns:   original.MaxReruns,
		RerunOfID:   &originalID,
	}
	created, err := s.stepRuns.Create(ctx, replacement)
	if err != nil {
		return domain.StepRun{}, fmt.Errorf("create replacement step run: %w", err)
	}

	statuses, err := s.stepRuns.StatusesByRun(ctx, created.RunID)
	if err != nil {
		return domain.StepRun{}, fmt.Errorf("derive run status: %w", err)
	}
	if err := s.runs.UpdateStatus(ctx, created.RunID, domain.DeriveRunStatus(statuses)); err != nil {
		return domain.StepRun{}, fmt.Errorf("update run status: %w", err)
	}

	if err := s.notifier.ResetWorkitem(ctx, workitemID, policyFromConfig(original.RerunConfig)); err != nil {
		return created, fmt.Errorf("%w: %s", ErrDispatchFailed, err.Error())
	}
	return created, nil
}

// policyFromConfig reads the caller-configured dispatch budget out of a rerun
// config. Delays may be numbers (seconds) or duration strings; entries that
// parse to nothing are skipped rather than failing the rerun.
func policyFromConfig(cfg domain.Metadata) Policy {
	var policy Policy
	switch v := cfg["max_attempts"].(type) {
	case int:
		policy.MaxAttempts = v
	case int64:
		policy.MaxAttempts = int(v)
	case float64:
		policy.MaxAttempts = int(v)
	}

	raw, ok := cfg["delays"].([]any)
	if !ok {
		return policy
	}
	for _, entry := range raw {
		switch v := entry.(type) {
		case int:
			policy.Delays = append(policy.Delays, time.Duration(v)*time.Second)
		case int64:
			policy.Delays = append(policy.Delays, time.Duration(v)*time.Second)
		case float64:
			policy.Delays = append(policy.Delays, time.Duration(v*float64(time.Second)))
		case string:
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				policy.Delays = append(policy.Delays, d)
			}
		}
	}
	return policy
}
