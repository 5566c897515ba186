package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/platform/auth"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

// bootstrapAdminKey seeds the first admin credential from the environment.
// Key management itself sits behind an admin key, so a fresh database would
// otherwise have no way to ever authenticate. Only the hash of the secret is
// stored, and an already-enrolled secret is left alone, so the variable can
// stay set across restarts.
func bootstrapAdminKey(ctx context.Context, logger *slog.Logger, keys repo.APIKeyRepository, name, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}

	hash := auth.HashSecret(secret)
	_, err := keys.ByHash(ctx, hash)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("look up bootstrap key: %w", err)
	}

	key := domain.APIKey{
		Name:      name,
		Role:      domain.RoleAdmin,
		KeyHash:   hash,
		KeyPrefix: auth.KeyPrefix(secret),
		IsActive:  true,
	}
	if err := key.Validate(); err != nil {
		return fmt.Errorf("bootstrap key: %w", err)
	}
	created, err := keys.Create(ctx, key)
	if err != nil {
		return fmt.Errorf("create bootstrap key: %w", err)
	}
	logger.Info("bootstrap admin key enrolled", "key_id", created.ID, "key_name", created.Name)
	return nil
}
