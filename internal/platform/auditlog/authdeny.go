package auditlog

import (
	"context"
	"database/sql"
	"net"
	"strings"

	"github.com/procdash-labs/procdash-go/internal/platform/auth"
)

// InsertAuthDeny records a rejected request in the audit trail. Denied calls
// have no transaction of their own, so this writes straight to the pool.
func InsertAuthDeny(ctx context.Context, db *sql.DB, service string, event auth.DenyEvent) error {
	actor := "anonymous"
	if strings.TrimSpace(event.KeyName) != "" {
		actor = strings.TrimSpace(event.KeyName)
	}

	var ip net.IP
	host, _, err := net.SplitHostPort(event.RemoteAddr)
	if err == nil {
		ip = net.ParseIP(host)
	}

	_, err = Insert(ctx, db, Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"key_id":  event.KeyID,
			"role":    event.Role,
		},
	})
	return err
}
