package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// APIKey is a role-tagged credential. Only the SHA-256 hash of the secret is
// stored; KeyPrefix keeps the first characters of the secret for display.
type APIKey struct {
	ID          int64
	Name        string
	Description *string
	Role        string
	KeyHash     string
	KeyPrefix   string
	IsActive    bool
	UsageCount  int64
	LastUsedAt  *time.Time
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (k APIKey) Validate() error {
	if strings.TrimSpace(k.Name) == "" {
		return errors.New("name is required")
	}
	if len(k.Name) > 100 {
		return errors.New("name must be at most 100 characters")
	}
	if k.Role != RoleUser && k.Role != RoleAdmin {
		return errors.New("role must be admin or user")
	}
	if strings.TrimSpace(k.KeyHash) == "" {
		return errors.New("key hash is required")
	}
	return nil
}

func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
