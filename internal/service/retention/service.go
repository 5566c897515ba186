// Package retention neutralizes PII on runs whose retention window has
// elapsed. Neutralization keeps the row for statistics but strips every
// identifying field, and it is never undone.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

type Service struct {
	runs   repo.RunRepository
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

func New(runs repo.RunRepository, policy Policy, logger *slog.Logger) *Service {
	if runs == nil {
		return nil
	}
	return &Service{
		runs:   runs,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// CleanupStats reports one sweep over due runs. DueRunIDs is only filled on
// dry runs, where the caller wants to see what would be touched.
type CleanupStats struct {
	TotalFound  int            `json:"total_found"`
	Neutralized int            `json:"neutralized"`
	Failed      int            `json:"failed"`
	DryRun      bool           `json:"dry_run"`
	DueRunIDs   []int64        `json:"due_run_ids,omitempty"`
	Errors      []CleanupError `json:"errors"`
}

type CleanupError struct {
	RunID int64  `json:"run_id"`
	Error string `json:"error"`
}

// NeutralizeDueRuns processes at most batchSize due runs, committing each row
// on its own so one failure cannot undo earlier rows. With dryRun set it only
// counts what would be neutralized.
func (s *Service) NeutralizeDueRuns(ctx context.Context, batchSize int, dryRun bool) (CleanupStats, error) {
	if s == nil || s.runs == nil {
		return CleanupStats{}, fmt.Errorf("retention service not initialized")
	}
	if batchSize <= 0 {
		batchSize = s.policy.BatchSize
	}

	due, err := s.runs.ListDueForNeutralization(ctx, s.now().UTC(), batchSize)
	if err != nil {
		return CleanupStats{}, fmt.Errorf("list due runs: %w", err)
	}

	stats := CleanupStats{TotalFound: len(due), DryRun: dryRun, Errors: []CleanupError{}}
	if dryRun {
		stats.DueRunIDs = make([]int64, 0, len(due))
		for _, run := range due {
			stats.DueRunIDs = append(stats.DueRunIDs, run.ID)
		}
		return stats, nil
	}

	for _, run := range due {
		if err := s.NeutralizeRun(ctx, run); err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, CleanupError{RunID: run.ID, Error: err.Error()})
			if s.logger != nil {
				s.logger.Error("neutralize run failed", "run_id", run.ID, "error", err.Error())
			}
			continue
		}
		stats.Neutralized++
	}
	return stats, nil
}

// NeutralizeRun strips PII from one run. Already-neutralized runs are a no-op.
func (s *Service) NeutralizeRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.runs == nil {
		return fmt.Errorf("retention service not initialized")
	}
	if run.IsNeutralized {
		return nil
	}

	neutralized := run
	neutralized.EntityID = fmt.Sprintf("NEUTRALIZED_%d", run.ID)
	neutralized.EntityName = nil
	neutralized.Metadata = NeutralizeMetadata(run.Metadata, s.policy)

	if err := s.runs.Neutralize(ctx, neutralized); err != nil {
		return fmt.Errorf("neutralize run %d: %w", run.ID, err)
	}
	return nil
}

// NeutralizeMetadata keeps values under safe keys and blanks everything else
// by type: strings become the placeholder, numbers zero, booleans false.
// Values of other shapes are dropped.
func NeutralizeMetadata(meta domain.Metadata, policy Policy) domain.Metadata {
	if meta == nil {
		return domain.Metadata{}
	}
	safe := policy.safeSet()
	out := make(domain.Metadata, len(meta))
	for key, value := range meta {
		if _, ok := safe[key]; ok {
			out[key] = value
			continue
		}
		switch value.(type) {
		case string:
			out[key] = "[NEUTRALIZED]"
		case bool:
			out[key] = false
		case float64, float32, int, int32, int64:
			out[key] = 0
		}
	}
	return out
}
