package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

const stepRunColumns = `id, run_id, step_id, step_index, status, started_at, finished_at, failure,
	can_rerun, rerun_config, rerun_count, max_reruns, rerun_of_id, created_at, updated_at, deleted_at`

type StepRunStore struct {
	db DB
}

func NewStepRunStore(db DB) *StepRunStore {
	if db == nil {
		return nil
	}
	return &StepRunStore{db: db}
}

func (s *StepRunStore) Create(ctx context.Context, stepRun domain.StepRun) (domain.StepRun, error) {
	if s == nil || s.db == nil {
		return domain.StepRun{}, fmt.Errorf("step run store not initialized")
	}
	if err := stepRun.Validate(); err != nil {
		return domain.StepRun{}, err
	}
	failureJSON, err := encodeMetadata(stepRun.Failure)
	if err != nil {
		return domain.StepRun{}, fmt.Errorf("encode failure: %w", err)
	}
	configJSON, err := encodeMetadata(stepRun.RerunConfig)
	if err != nil {
		return domain.StepRun{}, fmt.Errorf("encode rerun config: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO process_step_runs (
			run_id, step_id, step_index, status, started_at, finished_at, failure,
			can_rerun, rerun_config, rerun_count, max_reruns, rerun_of_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+stepRunColumns,
		stepRun.RunID,
		stepRun.StepID,
		stepRun.StepIndex,
		string(stepRun.Status),
		nullTime(stepRun.StartedAt),
		nullTime(stepRun.FinishedAt),
		failureJSON,
		stepRun.CanRerun,
		configJSON,
		stepRun.RerunCount,
		stepRun.MaxReruns,
		nullInt64(stepRun.RerunOfID),
	)
	return scanStepRun(row)
}

func (s *StepRunStore) Get(ctx context.Context, id int64) (domain.StepRun, error) {
	if s == nil || s.db == nil {
		return domain.StepRun{}, fmt.Errorf("step run store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stepRunColumns+` FROM process_step_runs WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return scanStepRun(row)
}

func (s *StepRunStore) List(ctx context.Context, filter repo.StepRunFilter) ([]domain.StepRun, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("step run store not initialized")
	}
	clauses := []string{"deleted_at IS NULL"}
	args := make([]any, 0, 4)

	if filter.RunID > 0 {
		args = append(args, filter.RunID)
		clauses = append(clauses, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if filter.StepID > 0 {
		args = append(args, filter.StepID)
		clauses = append(clauses, fmt.Sprintf("step_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Rerunnable {
		clauses = append(clauses, "can_rerun = TRUE", "status = 'failed'")
	}

	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM process_step_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count step runs: %w", err)
	}

	query := `SELECT ` + stepRunColumns + ` FROM process_step_runs` + where
	var clause string
	clause, args = orderClause(filter.Order, args)
	query += clause
	clause, args = pageClause(filter.Page, args)
	query += clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list step runs: %w", err)
	}
	defer rows.Close()

	stepRuns := make([]domain.StepRun, 0)
	for rows.Next() {
		stepRun, err := scanStepRunFrom(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan step run: %w", err)
		}
		stepRuns = append(stepRuns, stepRun)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list step runs: %w", err)
	}
	return stepRuns, total, nil
}

func (s *StepRunStore) ListByRun(ctx context.Context, runID int64) ([]domain.StepRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("step run store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stepRunColumns+` FROM process_step_runs
		 WHERE run_id = $1 AND deleted_at IS NULL
		 ORDER BY step_index ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list step runs by run: %w", err)
	}
	defer rows.Close()

	stepRuns := make([]domain.StepRun, 0)
	for rows.Next() {
		stepRun, err := scanStepRunFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step run: %w", err)
		}
		stepRuns = append(stepRuns, stepRun)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list step runs by run: %w", err)
	}
	return stepRuns, nil
}

func (s *StepRunStore) Update(ctx context.Context, stepRun domain.StepRun) (domain.StepRun, error) {
	if s == nil || s.db == nil {
		return domain.StepRun{}, fmt.Errorf("step run store not initialized")
	}
	if err := stepRun.Validate(); err != nil {
		return domain.StepRun{}, err
	}
	failureJSON, err := encodeMetadata(stepRun.Failure)
	if err != nil {
		return domain.StepRun{}, fmt.Errorf("encode failure: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE process_step_runs
		 SET status = $1, started_at = $2, finished_at = $3, failure = $4,
		     rerun_count = $5, updated_at = now()
		 WHERE id = $6 AND deleted_at IS NULL
		 RETURNING `+stepRunColumns,
		string(stepRun.Status),
		nullTime(stepRun.StartedAt),
		nullTime(stepRun.FinishedAt),
		failureJSON,
		stepRun.RerunCount,
		stepRun.ID,
	)
	return scanStepRun(row)
}

func (s *StepRunStore) StatusesByRun(ctx context.Context, runID int64) ([]domain.StepRunStatus, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("step run store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status FROM process_step_runs WHERE run_id = $1 AND deleted_at IS NULL`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("step run statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]domain.StepRunStatus, 0)
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses = append(statuses, domain.StepRunStatus(status))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("step run statuses: %w", err)
	}
	return statuses, nil
}

func (s *StepRunStore) SoftDeleteByRun(ctx context.Context, runID int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step run store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE process_step_runs SET deleted_at = $1, updated_at = now() WHERE run_id = $2 AND deleted_at IS NULL`,
		at.UTC(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("soft delete step runs by run: %w", err)
	}
	return nil
}

func (s *StepRunStore) SoftDeleteByProcess(ctx context.Context, processID int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step run store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE process_step_runs SET deleted_at = $1, updated_at = now()
		 WHERE deleted_at IS NULL
		   AND run_id IN (SELECT id FROM process_runs WHERE process_id = $2)`,
		at.UTC(),
		processID,
	)
	if err != nil {
		return fmt.Errorf("soft delete step runs by process: %w", err)
	}
	return nil
}

func (s *StepRunStore) RestoreByRun(ctx context.Context, runID int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step run store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE process_step_runs SET deleted_at = NULL, updated_at = now() WHERE run_id = $1 AND deleted_at IS NOT NULL`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("restore step runs by run: %w", err)
	}
	return nil
}

func (s *StepRunStore) RestoreByProcess(ctx context.Context, processID int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step run store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE process_step_runs SET deleted_at = NULL, updated_at = now()
		 WHERE deleted_at IS NOT NULL
		   AND run_id IN (SELECT id FROM process_runs WHERE process_id = $1)`,
		processID,
	)
	if err != nil {
		return fmt.Errorf("restore step runs by process: %w", err)
	}
	return nil
}

func scanStepRun(row *sql.Row) (domain.StepRun, error) {
	stepRun, err := scanStepRunFrom(row)
	if err != nil {
		return domain.StepRun{}, handleNotFound(err)
	}
	return stepRun, nil
}

func scanStepRunFrom(sc rowScanner) (domain.StepRun, error) {
	var stepRun domain.StepRun
	var status string
	var failureJSON, configJSON []byte
	var startedAt, finishedAt, deletedAt sql.NullTime
	var rerunOf sql.NullInt64
	if err := sc.Scan(&stepRun.ID, &stepRun.RunID, &stepRun.StepID, &stepRun.StepIndex, &status,
		&startedAt, &finishedAt, &failureJSON, &stepRun.CanRerun, &configJSON,
		&stepRun.RerunCount, &stepRun.MaxReruns, &rerunOf, &stepRun.CreatedAt, &stepRun.UpdatedAt, &deletedAt); err != nil {
		return domain.StepRun{}, err
	}
	failure, err := decodeMetadata(failureJSON)
	if err != nil {
		return domain.StepRun{}, fmt.Errorf("decode failure: %w", err)
	}
	config, err := decodeMetadata(configJSON)
	if err != nil {
		return domain.StepRun{}, fmt.Errorf("decode rerun config: %w", err)
	}
	stepRun.Status = domain.StepRunStatus(status)
	stepRun.StartedAt = timePtr(startedAt)
	stepRun.FinishedAt = timePtr(finishedAt)
	stepRun.Failure = failure
	stepRun.RerunConfig = config
	stepRun.RerunOfID = int64Ptr(rerunOf)
	stepRun.DeletedAt = timePtr(deletedAt)
	stepRun.CreatedAt = stepRun.CreatedAt.UTC()
	stepRun.UpdatedAt = stepRun.UpdatedAt.UTC()
	return stepRun, nil
}
