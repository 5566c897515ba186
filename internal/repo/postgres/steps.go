package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
)

const stepColumns = `id, process_id, step_index, name, is_rerunnable, rerun_config, created_at, updated_at, deleted_at`

type StepStore struct {
	db DB
}

func NewStepStore(db DB) *StepStore {
	if db == nil {
		return nil
	}
	return &StepStore{db: db}
}

func (s *StepStore) Create(ctx context.Context, step domain.Step) (domain.Step, error) {
	if s == nil || s.db == nil {
		return domain.Step{}, fmt.Errorf("step store not initialized")
	}
	if err := step.Validate(); err != nil {
		return domain.Step{}, err
	}
	configJSON, err := encodeMetadata(step.RerunConfig)
	if err != nil {
		return domain.Step{}, fmt.Errorf("encode rerun config: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO process_steps (process_id, step_index, name, is_rerunnable, rerun_config)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+stepColumns,
		step.ProcessID,
		step.Index,
		strings.TrimSpace(step.Name),
		step.IsRerunnable,
		configJSON,
	)
	return scanStep(row)
}

func (s *StepStore) Get(ctx context.Context, id int64) (domain.Step, error) {
	if s == nil || s.db == nil {
		return domain.Step{}, fmt.Errorf("step store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+stepColumns+` FROM process_steps WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return scanStep(row)
}

func (s *StepStore) ListByProcess(ctx context.Context, processID int64) ([]domain.Step, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("step store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stepColumns+` FROM process_steps
		 WHERE process_id = $1 AND deleted_at IS NULL
		 ORDER BY step_index ASC`,
		processID,
	)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]domain.Step, 0)
	for rows.Next() {
		step, err := scanStepFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return steps, nil
}

func (s *StepStore) Update(ctx context.Context, step domain.Step) (domain.Step, error) {
	if s == nil || s.db == nil {
		return domain.Step{}, fmt.Errorf("step store not initialized")
	}
	if err := step.Validate(); err != nil {
		return domain.Step{}, err
	}
	configJSON, err := encodeMetadata(step.RerunConfig)
	if err != nil {
		return domain.Step{}, fmt.Errorf("encode rerun config: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE process_steps
		 SET step_index = $1, name = $2, is_rerunnable = $3, rerun_config = $4, updated_at = now()
		 WHERE id = $5 AND deleted_at IS NULL
		 RETURNING `+stepColumns,
		step.Index,
		strings.TrimSpace(step.Name),
		step.IsRerunnable,
		configJSON,
		step.ID,
	)
	return scanStep(row)
}

func (s *StepStore) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE process_steps SET deleted_at = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		at.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("soft delete step: %w", err)
	}
	return requireAffected(res)
}

func (s *StepStore) SoftDeleteByProcess(ctx context.Context, processID int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE process_steps SET deleted_at = $1, updated_at = now() WHERE process_id = $2 AND deleted_at IS NULL`,
		at.UTC(),
		processID,
	)
	if err != nil {
		return fmt.Errorf("soft delete steps by process: %w", err)
	}
	return nil
}

func (s *StepStore) RestoreByProcess(ctx context.Context, processID int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE process_steps SET deleted_at = NULL, updated_at = now() WHERE process_id = $1 AND deleted_at IS NOT NULL`,
		processID,
	)
	if err != nil {
		return fmt.Errorf("restore steps by process: %w", err)
	}
	return nil
}

func scanStep(row *sql.Row) (domain.Step, error) {
	step, err := scanStepFrom(row)
	if err != nil {
		return domain.Step{}, handleNotFound(err)
	}
	return step, nil
}

func scanStepFrom(sc rowScanner) (domain.Step, error) {
	var step domain.Step
	var configJSON []byte
	var deletedAt sql.NullTime
	if err := sc.Scan(&step.ID, &step.ProcessID, &step.Index, &step.Name, &step.IsRerunnable, &configJSON, &step.CreatedAt, &step.UpdatedAt, &deletedAt); err != nil {
		return domain.Step{}, err
	}
	config, err := decodeMetadata(configJSON)
	if err != nil {
		return domain.Step{}, fmt.Errorf("decode rerun config: %w", err)
	}
	step.RerunConfig = config
	step.DeletedAt = timePtr(deletedAt)
	step.CreatedAt = step.CreatedAt.UTC()
	step.UpdatedAt = step.UpdatedAt.UTC()
	return step, nil
}
