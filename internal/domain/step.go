package domain

import (
	"errors"
	"strings"
	"time"
)

// Step is a defined stage of a process. IsRerunnable and RerunConfig act as a
// template copied onto step runs when a run is instantiated.
type Step struct {
	ID           int64
	ProcessID    int64
	Index        int
	Name         string
	IsRerunnable bool
	RerunConfig  Metadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

func (s Step) Validate() error {
	if s.ProcessID <= 0 {
		return errors.New("process_id is required")
	}
	if s.Index < 0 {
		return errors.New("index must be >= 0")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name is required")
	}
	if len(s.Name) > 255 {
		return errors.New("name must be at most 255 characters")
	}
	return nil
}

// MaxRerunsFromConfig reads the caller-configured rerun budget from a step's
// rerun config, defaulting to 3 for rerunnable steps.
func (s Step) MaxRerunsFromConfig() int {
	if !s.IsRerunnable {
		return 0
	}
	raw, ok := s.RerunConfig["max_retries"]
	if !ok {
		return 3
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 3
	}
}
