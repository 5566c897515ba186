// Package repo defines the persistence interfaces and filters shared by the
// dashboard handlers and services.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/listing"
)

// ErrNotFound is returned when no matching row exists or it is soft-deleted.
var ErrNotFound = errors.New("not found")

type ProcessFilter struct {
	Name  string
	Meta  []listing.MetaFilter
	Order listing.Order
	Page  listing.Params
}

type RunFilter struct {
	ProcessID  int64
	Status     domain.RunStatus
	EntityID   string
	EntityName string
	// Search matches entity_id, entity_name, and status case-insensitively;
	// SearchMetaKeys extends the match to the named metadata fields.
	Search         string
	SearchMetaKeys []string
	StartedAfter   *time.Time
	StartedBefore  *time.Time
	FinishedAfter  *time.Time
	FinishedBefore *time.Time
	Meta           []listing.MetaFilter
	Order          listing.Order
	Page           listing.Params
}

type StepRunFilter struct {
	RunID  int64
	StepID int64
	Status domain.StepRunStatus
	// Rerunnable narrows to failed step runs with can_rerun set.
	Rerunnable bool
	Order      listing.Order
	Page       listing.Params
}

type APIKeyFilter struct {
	Role string
	Page listing.Params
}

type AuditFilter struct {
	Actor         string
	Action        string
	ResourceType  string
	ResourceID    string
	RequestID     string
	BeforeEventID int64
	Limit         int
}

// ProcessRepository manages processes and their soft-delete cascade.
type ProcessRepository interface {
	Create(ctx context.Context, process domain.Process) (domain.Process, error)
	Get(ctx context.Context, id int64) (domain.Process, error)
	List(ctx context.Context, filter ProcessFilter) ([]domain.Process, int64, error)
	Update(ctx context.Context, process domain.Process) (domain.Process, error)
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	Restore(ctx context.Context, id int64) error
}

// StepRepository manages process step definitions.
type StepRepository interface {
	Create(ctx context.Context, step domain.Step) (domain.Step, error)
	Get(ctx context.Context, id int64) (domain.Step, error)
	ListByProcess(ctx context.Context, processID int64) ([]domain.Step, error)
	Update(ctx context.Context, step domain.Step) (domain.Step, error)
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	SoftDeleteByProcess(ctx context.Context, processID int64, at time.Time) error
	RestoreByProcess(ctx context.Context, processID int64) error
}

// RunRepository manages run rows, their retention state, and the soft-delete
// cascade down to step runs.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) (domain.Run, error)
	// ScheduleDeletion stamps the retention deadline on a live run. It is a
	// separate statement so creation can derive the deadline from the stored
	// row's created_at instead of the API server's clock.
	ScheduleDeletion(ctx context.Context, id int64, at time.Time) (domain.Run, error)
	Get(ctx context.Context, id int64) (domain.Run, error)
	List(ctx context.Context, filter RunFilter) ([]domain.Run, int64, error)
	Update(ctx context.Context, run domain.Run) (domain.Run, error)
	UpdateStatus(ctx context.Context, id int64, status domain.RunStatus) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	SoftDeleteByProcess(ctx context.Context, processID int64, at time.Time) error
	Restore(ctx context.Context, id int64) error
	RestoreByProcess(ctx context.Context, processID int64) error

	// ListDueForNeutralization returns live, non-neutralized runs whose
	// scheduled deletion time is at or before the cutoff, oldest first.
	// Soft-deleted runs are never due.
	ListDueForNeutralization(ctx context.Context, cutoff time.Time, limit int) ([]domain.Run, error)
	CountDueForNeutralization(ctx context.Context, cutoff time.Time) (int64, error)
	Neutralize(ctx context.Context, run domain.Run) error

	// StatusCounts tallies the process's live runs by status.
	StatusCounts(ctx context.Context, processID int64) (map[domain.RunStatus]int64, error)
}

// StepRunRepository manages step execution records.
type StepRunRepository interface {
	Create(ctx context.Context, stepRun domain.StepRun) (domain.StepRun, error)
	Get(ctx context.Context, id int64) (domain.StepRun, error)
	List(ctx context.Context, filter StepRunFilter) ([]domain.StepRun, int64, error)
	ListByRun(ctx context.Context, runID int64) ([]domain.StepRun, error)
	Update(ctx context.Context, stepRun domain.StepRun) (domain.StepRun, error)
	StatusesByRun(ctx context.Context, runID int64) ([]domain.StepRunStatus, error)
	SoftDeleteByRun(ctx context.Context, runID int64, at time.Time) error
	SoftDeleteByProcess(ctx context.Context, processID int64, at time.Time) error
	RestoreByRun(ctx context.Context, runID int64) error
	RestoreByProcess(ctx context.Context, processID int64) error
}

// APIKeyRepository manages credentials. Keys are never soft-deleted, only
// deactivated.
type APIKeyRepository interface {
	Create(ctx context.Context, key domain.APIKey) (domain.APIKey, error)
	Get(ctx context.Context, id int64) (domain.APIKey, error)
	List(ctx context.Context, filter APIKeyFilter) ([]domain.APIKey, int64, error)
	Update(ctx context.Context, key domain.APIKey) (domain.APIKey, error)
	ByHash(ctx context.Context, hash string) (domain.APIKey, error)
	RecordUse(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
}

// AuditEventReader pages through the audit trail by keyset.
type AuditEventReader interface {
	List(ctx context.Context, filter AuditFilter) ([]domain.AuditEvent, error)
}
