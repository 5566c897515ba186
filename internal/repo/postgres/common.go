// Package postgres implements the repo interfaces over raw SQL. Stores accept
// the narrow DB interface so they run against the pool or an open *sql.Tx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/listing"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func encodeMetadata(meta domain.Metadata) ([]byte, error) {
	if meta == nil {
		meta = domain.Metadata{}
	}
	return json.Marshal(meta)
}

func decodeMetadata(raw []byte) (domain.Metadata, error) {
	if len(raw) == 0 {
		return domain.Metadata{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return domain.Metadata(out), nil
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// appendMetaClauses adds one AND-ed clause per metadata filter; values of the
// same field are OR-ed. Both keys and values travel as bind parameters.
func appendMetaClauses(clauses []string, args []any, filters []listing.MetaFilter) ([]string, []any) {
	for _, filter := range filters {
		parts := make([]string, 0, len(filter.Values))
		for _, value := range filter.Values {
			args = append(args, filter.Field)
			keyParam := len(args)
			args = append(args, value)
			parts = append(parts, fmt.Sprintf("meta->>$%d = $%d", keyParam, len(args)))
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}
	return clauses, args
}

// orderClause renders ORDER BY for a validated ordering. Column names come
// from the whitelist; metadata keys are bound as a parameter.
func orderClause(ord listing.Order, args []any) (string, []any) {
	direction := " ASC"
	if ord.Desc {
		direction = " DESC"
	}
	if ord.Meta != "" {
		args = append(args, ord.Meta)
		return fmt.Sprintf(" ORDER BY meta->>$%d%s", len(args), direction), args
	}
	column := ord.Column
	if column == "" {
		column = "created_at"
	}
	return " ORDER BY " + column + direction, args
}

func pageClause(page listing.Params, args []any) (string, []any) {
	if page.Size <= 0 {
		return "", args
	}
	args = append(args, page.Size)
	clause := fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, page.Offset())
	clause += fmt.Sprintf(" OFFSET $%d", len(args))
	return clause, args
}
