package domain

import (
	"errors"
	"strings"
	"time"
)

// Process is a named category of recurring business workflow. Runs created
// under it inherit its retention period at creation time.
type Process struct {
	ID              int64
	Name            string
	Metadata        Metadata
	RetentionMonths *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

func (p Process) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if len(p.Name) > 255 {
		return errors.New("name must be at most 255 characters")
	}
	if p.RetentionMonths != nil && *p.RetentionMonths < 1 {
		return errors.New("retention_months must be >= 1")
	}
	return nil
}

// ScheduledDeletionFor computes when a run created at the given time becomes
// eligible for neutralization. Returns nil when the process has no retention.
// A retention month is 30 days.
func (p Process) ScheduledDeletionFor(runCreatedAt time.Time) *time.Time {
	if p.RetentionMonths == nil {
		return nil
	}
	due := runCreatedAt.UTC().Add(time.Duration(*p.RetentionMonths) * 30 * 24 * time.Hour)
	return &due
}
