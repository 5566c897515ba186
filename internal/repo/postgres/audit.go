package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

type AuditStore struct {
	db DB
}

func NewAuditStore(db DB) *AuditStore {
	if db == nil {
		return nil
	}
	return &AuditStore{db: db}
}

// List pages the audit trail newest first; BeforeEventID is the keyset cursor.
func (s *AuditStore) List(ctx context.Context, filter repo.AuditFilter) ([]domain.AuditEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("audit store not initialized")
	}
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if strings.TrimSpace(filter.Actor) != "" {
		args = append(args, strings.TrimSpace(filter.Actor))
		clauses = append(clauses, fmt.Sprintf("actor = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Action) != "" {
		args = append(args, strings.TrimSpace(filter.Action))
		clauses = append(clauses, fmt.Sprintf("action = $%d", len(args)))
	}
	if strings.TrimSpace(filter.ResourceType) != "" {
		args = append(args, strings.TrimSpace(filter.ResourceType))
		clauses = append(clauses, fmt.Sprintf("resource_type = $%d", len(args)))
	}
	if strings.TrimSpace(filter.ResourceID) != "" {
		args = append(args, strings.TrimSpace(filter.ResourceID))
		clauses = append(clauses, fmt.Sprintf("resource_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.RequestID) != "" {
		args = append(args, strings.TrimSpace(filter.RequestID))
		clauses = append(clauses, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if filter.BeforeEventID > 0 {
		args = append(args, filter.BeforeEventID)
		clauses = append(clauses, fmt.Sprintf("event_id < $%d", len(args)))
	}

	query := `SELECT event_id, occurred_at, actor, action, resource_type, resource_id,
		request_id, ip, user_agent, payload, integrity_sha256
		FROM audit_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY event_id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.AuditEvent, 0)
	for rows.Next() {
		var event domain.AuditEvent
		var ip sql.NullString
		var payloadJSON []byte
		if err := rows.Scan(&event.EventID, &event.OccurredAt, &event.Actor, &event.Action,
			&event.ResourceType, &event.ResourceID, &event.RequestID, &ip, &event.UserAgent,
			&payloadJSON, &event.IntegritySHA256); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if ip.Valid {
			event.IP = net.ParseIP(ip.String)
		}
		payload, err := decodeMetadata(payloadJSON)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		event.Payload = payload
		event.OccurredAt = event.OccurredAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
