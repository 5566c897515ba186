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

const processColumns = `id, name, meta, retention_months, created_at, updated_at, deleted_at`

type ProcessStore struct {
	db DB
}

func NewProcessStore(db DB) *ProcessStore {
	if db == nil {
		return nil
	}
	return &ProcessStore{db: db}
}

func (s *ProcessStore) Create(ctx context.Context, process domain.Process) (domain.Process, error) {
	if s == nil || s.db == nil {
		return domain.Process{}, fmt.Errorf("process store not initialized")
	}
	if err := process.Validate(); err != nil {
		return domain.Process{}, err
	}
	metaJSON, err := encodeMetadata(process.Metadata)
	if err != nil {
		return domain.Process{}, fmt.Errorf("encode meta: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO processes (name, meta, retention_months)
		 VALUES ($1, $2, $3)
		 RETURNING `+processColumns,
		strings.TrimSpace(process.Name),
		metaJSON,
		nullInt(process.RetentionMonths),
	)
	return scanProcess(row)
}

func (s *ProcessStore) Get(ctx context.Context, id int64) (domain.Process, error) {
	if s == nil || s.db == nil {
		return domain.Process{}, fmt.Errorf("process store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+processColumns+` FROM processes WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return scanProcess(row)
}

func (s *ProcessStore) List(ctx context.Context, filter repo.ProcessFilter) ([]domain.Process, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("process store not initialized")
	}
	clauses := []string{"deleted_at IS NULL"}
	args := make([]any, 0, 4)

	if strings.TrimSpace(filter.Name) != "" {
		args = append(args, "%"+strings.TrimSpace(filter.Name)+"%")
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	clauses, args = appendMetaClauses(clauses, args, filter.Meta)

	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM processes`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count processes: %w", err)
	}

	query := `SELECT ` + processColumns + ` FROM processes` + where
	var clause string
	clause, args = orderClause(filter.Order, args)
	query += clause
	clause, args = pageClause(filter.Page, args)
	query += clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	processes := make([]domain.Process, 0)
	for rows.Next() {
		process, err := scanProcessRows(rows)
		if err != nil {
			return nil, 0, err
		}
		processes = append(processes, process)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list processes: %w", err)
	}
	return processes, total, nil
}

func (s *ProcessStore) Update(ctx context.Context, process domain.Process) (domain.Process, error) {
	if s == nil || s.db == nil {
		return domain.Process{}, fmt.Errorf("process store not initialized")
	}
	if err := process.Validate(); err != nil {
		return domain.Process{}, err
	}
	metaJSON, err := encodeMetadata(process.Metadata)
	if err != nil {
		return domain.Process{}, fmt.Errorf("encode meta: %w", err)
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE processes
		 SET name = $1, meta = $2, retention_months = $3, updated_at = now()
		 WHERE id = $4 AND deleted_at IS NULL
		 RETURNING `+processColumns,
		strings.TrimSpace(process.Name),
		metaJSON,
		nullInt(process.RetentionMonths),
		process.ID,
	)
	return scanProcess(row)
}

func (s *ProcessStore) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("process store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE processes SET deleted_at = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		at.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("soft delete process: %w", err)
	}
	return requireAffected(res)
}

func (s *ProcessStore) Restore(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("process store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE processes SET deleted_at = NULL, updated_at = now() WHERE id = $1 AND deleted_at IS NOT NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("restore process: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row *sql.Row) (domain.Process, error) {
	process, err := scanProcessFrom(row)
	if err != nil {
		return domain.Process{}, handleNotFound(err)
	}
	return process, nil
}

func scanProcessRows(rows *sql.Rows) (domain.Process, error) {
	process, err := scanProcessFrom(rows)
	if err != nil {
		return domain.Process{}, fmt.Errorf("scan process: %w", err)
	}
	return process, nil
}

func scanProcessFrom(sc rowScanner) (domain.Process, error) {
	var process domain.Process
	var metaJSON []byte
	var retention sql.NullInt64
	var deletedAt sql.NullTime
	if err := sc.Scan(&process.ID, &process.Name, &metaJSON, &retention, &process.CreatedAt, &process.UpdatedAt, &deletedAt); err != nil {
		return domain.Process{}, err
	}
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return domain.Process{}, fmt.Errorf("decode meta: %w", err)
	}
	process.Metadata = meta
	process.RetentionMonths = intPtr(retention)
	process.DeletedAt = timePtr(deletedAt)
	process.CreatedAt = process.CreatedAt.UTC()
	process.UpdatedAt = process.UpdatedAt.UTC()
	return process, nil
}
