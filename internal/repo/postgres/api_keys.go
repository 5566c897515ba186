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

const apiKeyColumns = `id, name, description, role, key_hash, key_prefix, is_active,
	usage_count, last_used_at, expires_at, created_at, updated_at`

type APIKeyStore struct {
	db DB
}

func NewAPIKeyStore(db DB) *APIKeyStore {
	if db == nil {
		return nil
	}
	return &APIKeyStore{db: db}
}

func (s *APIKeyStore) Create(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	if s == nil || s.db == nil {
		return domain.APIKey{}, fmt.Errorf("api key store not initialized")
	}
	if err := key.Validate(); err != nil {
		return domain.APIKey{}, err
	}
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO api_keys (name, description, role, key_hash, key_prefix, is_active, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+apiKeyColumns,
		strings.TrimSpace(key.Name),
		nullString(key.Description),
		key.Role,
		key.KeyHash,
		key.KeyPrefix,
		key.IsActive,
		nullTime(key.ExpiresAt),
	)
	return scanAPIKey(row)
}

func (s *APIKeyStore) Get(ctx context.Context, id int64) (domain.APIKey, error) {
	if s == nil || s.db == nil {
		return domain.APIKey{}, fmt.Errorf("api key store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`,
		id,
	)
	return scanAPIKey(row)
}

func (s *APIKeyStore) List(ctx context.Context, filter repo.APIKeyFilter) ([]domain.APIKey, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("api key store not initialized")
	}
	clauses := make([]string, 0, 1)
	args := make([]any, 0, 3)
	if strings.TrimSpace(filter.Role) != "" {
		args = append(args, strings.TrimSpace(filter.Role))
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM api_keys`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count api keys: %w", err)
	}

	query := `SELECT ` + apiKeyColumns + ` FROM api_keys` + where + ` ORDER BY created_at DESC`
	var clause string
	clause, args = pageClause(filter.Page, args)
	query += clause

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]domain.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKeyFrom(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list api keys: %w", err)
	}
	return keys, total, nil
}

func (s *APIKeyStore) Update(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	if s == nil || s.db == nil {
		return domain.APIKey{}, fmt.Errorf("api key store not initialized")
	}
	if err := key.Validate(); err != nil {
		return domain.APIKey{}, err
	}
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE api_keys
		 SET name = $1, description = $2, role = $3, is_active = $4, expires_at = $5, updated_at = now()
		 WHERE id = $6
		 RETURNING `+apiKeyColumns,
		strings.TrimSpace(key.Name),
		nullString(key.Description),
		key.Role,
		key.IsActive,
		nullTime(key.ExpiresAt),
		key.ID,
	)
	return scanAPIKey(row)
}

func (s *APIKeyStore) ByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	if s == nil || s.db == nil {
		return domain.APIKey{}, fmt.Errorf("api key store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`,
		hash,
	)
	return scanAPIKey(row)
}

func (s *APIKeyStore) RecordUse(ctx context.Context, id int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("api key store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = $1 WHERE id = $2`,
		at.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("record api key use: %w", err)
	}
	return requireAffected(res)
}

// Delete removes the key for good; revocation, not soft delete.
func (s *APIKeyStore) Delete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("api key store not initialized")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireAffected(res)
}

func scanAPIKey(row *sql.Row) (domain.APIKey, error) {
	key, err := scanAPIKeyFrom(row)
	if err != nil {
		return domain.APIKey{}, handleNotFound(err)
	}
	return key, nil
}

func scanAPIKeyFrom(sc rowScanner) (domain.APIKey, error) {
	var key domain.APIKey
	var description sql.NullString
	var lastUsedAt, expiresAt sql.NullTime
	if err := sc.Scan(&key.ID, &key.Name, &description, &key.Role, &key.KeyHash, &key.KeyPrefix,
		&key.IsActive, &key.UsageCount, &lastUsedAt, &expiresAt, &key.CreatedAt, &key.UpdatedAt); err != nil {
		return domain.APIKey{}, err
	}
	key.Description = stringPtr(description)
	key.LastUsedAt = timePtr(lastUsedAt)
	key.ExpiresAt = timePtr(expiresAt)
	key.CreatedAt = key.CreatedAt.UTC()
	key.UpdatedAt = key.UpdatedAt.UTC()
	return key, nil
}
