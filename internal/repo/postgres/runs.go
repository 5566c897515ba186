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

const runColumns = `id, process_id, entity_id, entity_name, status, meta, started_at, finished_at,
	is_neutralized, scheduled_deletion_at, created_at, updated_at, deleted_at`

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}
	metaJSON, err := encodeMetadata(run.Metadata)
	if err != nil {
		return domain.Run{}, fmt.Errorf("encode meta: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO process_runs (process_id, entity_id, entity_name, status, meta, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+runColumns,
		run.ProcessID,
		strings.TrimSpace(run.EntityID),
		nullString(run.EntityName),
		string(run.Status),
		metaJSON,
		nullTime(run.StartedAt),
		nullTime(run.FinishedAt),
	)
	return scanRun(row)
}

// ScheduleDeletion stamps the retention deadline on a live run. Creation
// computes the deadline from the stored row's created_at and stamps it here,
// in the same transaction, so the two timestamps never disagree about when
// the run began.
func (s *RunStore) ScheduleDeletion(ctx context.Context, id int64, at time.Time) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE process_runs SET scheduled_deletion_at = $1, updated_at = now()
		 WHERE id = $2 AND deleted_at IS NULL
		 RETURNING `+runColumns,
		at.UTC(),
		id,
	)
	return scanRun(row)
}

func (s *RunStore) Get(ctx context.Context, id int64) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM process_runs WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return scanRun(row)
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("run store not initialized")
	}
	clauses := []string{"deleted_at IS NULL"}
	args := make([]any, 0, 6)

	if filter.ProcessID > 0 {
		args = append(args, filter.ProcessID)
		clauses = append(clauses, fmt.Sprintf("process_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if strings.TrimSpace(filter.EntityID) != "" {
		args = append(args, strings.TrimSpace(filter.EntityID))
		clauses = append(clauses, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.EntityName) != "" {
		args = append(args, "%"+strings.TrimSpace(filter.EntityName)+"%")
		clauses = append(clauses, fmt.Sprintf("entity_name ILIKE $%d", len(args)))
	}
	for _, rangeFilter := range []struct {
		at    *time.Time
		shape string
	}{
		{filter.StartedAfter, "started_at >= $%d"},
		{filter.StartedBefore, "started_at <= $%d"},
		{filter.FinishedAfter, "finished_at >= $%d"},
		{filter.FinishedBefore, "finished_at <= $%d"},
	} {
		if rangeFilter.at == nil {
			continue
		}
		args = append(args, rangeFilter.at.UTC())
		clauses = append(clauses, fmt.Sprintf(rangeFilter.shape, len(args)))
	}
	if strings.TrimSpace(filter.Search) != "" {
		args = append(args, "%"+strings.TrimSpace(filter.Search)+"%")
		pattern := len(args)
		parts := []string{
			fmt.Sprintf("entity_id ILIKE $%d", pattern),
			fmt.Sprintf("entity_name ILIKE $%d", pattern),
			fmt.Sprintf("status ILIKE $%d", pattern),
		}
		for _, key := range filter.SearchMetaKeys {
			args = append(args, key)
			parts = append(parts, fmt.Sprintf("meta->>$%d ILIKE $%d", len(args), pattern))
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}
	clauses, args = appendMetaClauses(clauses, args, filter.Meta)

	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM process_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	query := `SELECT ` + runColumns + ` FROM process_runs` + where
	var clause string
	clause, args = orderClause(filter.Order, args)
	query += clause
	clause, args = pageClause(filter.Page, args)
	query += clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRunFrom(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	return runs, total, nil
}

func (s *RunStore) Update(ctx context.Context, run domain.Run) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}
	metaJSON, err := encodeMetadata(run.Metadata)
	if err != nil {
		return domain.Run{}, fmt.Errorf("encode meta: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE process_runs
		 SET entity_id = $1, entity_name = $2, status = $3, meta = $4,
		     started_at = $5, finished_at = $6, updated_at = now()
		 WHERE id = $7 AND deleted_at IS NULL
		 RETURNING `+runColumns,
		strings.TrimSpace(run.EntityID),
		nullString(run.EntityName),
		string(run.Status),
		metaJSON,
		nullTime(run.StartedAt),
		nullTime(run.FinishedAt),
		run.ID,
	)
	return scanRun(row)
}

func (s *RunStore) UpdateStatus(ctx context.Context, id int64, status domain.RunStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE process_runs SET status = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		string(status),
		id,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return requireAffected(res)
}

func (s *RunStore) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE process_runs SET deleted_at = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		at.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("soft delete run: %w", err)
	}
	return requireAffected(res)
}

func (s *RunStore) SoftDeleteByProcess(ctx context.Context, processID int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE process_runs SET deleted_at = $1, updated_at = now() WHERE process_id = $2 AND deleted_at IS NULL`,
		at.UTC(),
		processID,
	)
	if err != nil {
		return fmt.Errorf("soft delete runs by process: %w", err)
	}
	return nil
}

func (s *RunStore) Restore(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE process_runs SET deleted_at = NULL, updated_at = now() WHERE id = $1 AND deleted_at IS NOT NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("restore run: %w", err)
	}
	return requireAffected(res)
}

func (s *RunStore) RestoreByProcess(ctx context.Context, processID int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE process_runs SET deleted_at = NULL, updated_at = now() WHERE process_id = $1 AND deleted_at IS NOT NULL`,
		processID,
	)
	if err != nil {
		return fmt.Errorf("restore runs by process: %w", err)
	}
	return nil
}

// dueRunsWhere is the neutralization eligibility predicate: retention has
// elapsed, the run is not yet neutralized, and it is not soft-deleted.
const dueRunsWhere = `scheduled_deletion_at IS NOT NULL
	   AND scheduled_deletion_at <= $1
	   AND is_neutralized = FALSE
	   AND deleted_at IS NULL`

func (s *RunStore) ListDueForNeutralization(ctx context.Context, cutoff time.Time, limit int) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	query := `SELECT ` + runColumns + ` FROM process_runs
	 WHERE ` + dueRunsWhere + `
	 ORDER BY scheduled_deletion_at ASC`
	args := []any{cutoff.UTC()}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list due runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRunFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) CountDueForNeutralization(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("run store not initialized")
	}
	var total int64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT count(*) FROM process_runs WHERE `+dueRunsWhere,
		cutoff.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count due runs: %w", err)
	}
	return total, nil
}

// Neutralize overwrites the PII-bearing fields. The flag never goes back to
// false, so already-neutralized rows are left alone.
func (s *RunStore) Neutralize(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	metaJSON, err := encodeMetadata(run.Metadata)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE process_runs
		 SET entity_id = $1, entity_name = NULL, meta = $2, is_neutralized = TRUE, updated_at = now()
		 WHERE id = $3 AND is_neutralized = FALSE`,
		strings.TrimSpace(run.EntityID),
		metaJSON,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("neutralize run: %w", err)
	}
	return requireAffected(res)
}

func (s *RunStore) StatusCounts(ctx context.Context, processID int64) (map[domain.RunStatus]int64, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, count(*) FROM process_runs
		 WHERE process_id = $1 AND deleted_at IS NULL
		 GROUP BY status`,
		processID,
	)
	if err != nil {
		return nil, fmt.Errorf("run status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RunStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.RunStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run status counts: %w", err)
	}
	return counts, nil
}

func scanRun(row *sql.Row) (domain.Run, error) {
	run, err := scanRunFrom(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func scanRunFrom(sc rowScanner) (domain.Run, error) {
	var run domain.Run
	var entityName sql.NullString
	var status string
	var metaJSON []byte
	var startedAt, finishedAt, scheduledAt, deletedAt sql.NullTime
	if err := sc.Scan(&run.ID, &run.ProcessID, &run.EntityID, &entityName, &status, &metaJSON,
		&startedAt, &finishedAt, &run.IsNeutralized, &scheduledAt, &run.CreatedAt, &run.UpdatedAt, &deletedAt); err != nil {
		return domain.Run{}, err
	}
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode meta: %w", err)
	}
	run.EntityName = stringPtr(entityName)
	run.Status = domain.RunStatus(status)
	run.Metadata = meta
	run.StartedAt = timePtr(startedAt)
	run.FinishedAt = timePtr(finishedAt)
	run.ScheduledDeletionAt = timePtr(scheduledAt)
	run.DeletedAt = timePtr(deletedAt)
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return run, nil
}
