package auditexport

import (
	"context"

	"github.com/procdash-labs/procdash-go/internal/domain"
)

// Exporter sends audit events to external systems.
type Exporter interface {
	Export(ctx context.Context, event domain.AuditEvent) error
}
