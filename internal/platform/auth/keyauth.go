package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HeaderAPIKey carries the key secret on every authenticated request.
const HeaderAPIKey = "X-API-Key"

// ErrKeyNotFound is returned by KeyStore implementations when no key matches
// the presented hash.
var ErrKeyNotFound = errors.New("api key not found")

// Key is the authenticator's view of a stored API key.
type Key struct {
	ID        int64
	Name      string
	Role      string
	Active    bool
	ExpiresAt *time.Time
}

type KeyStore interface {
	// ByHash resolves a key by its secret hash, ErrKeyNotFound when absent.
	ByHash(ctx context.Context, hash string) (Key, error)
	// RecordUse bumps usage_count and last_used_at after a successful
	// authentication.
	RecordUse(ctx context.Context, id int64, at time.Time) error
}

// KeyAuthenticator authenticates requests by the X-API-Key header against
// hashed secrets in the store.
type KeyAuthenticator struct {
	Store  KeyStore
	Logger *slog.Logger
	Now    func() time.Time
}

func (a KeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	secret := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if secret == "" {
		return Identity{}, fmt.Errorf("no %s header: %w", HeaderAPIKey, ErrMissingKey)
	}

	key, err := a.Store.ByHash(ctx, HashSecret(secret))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return Identity{}, fmt.Errorf("unknown api key: %w", ErrUnauthenticated)
		}
		return Identity{}, fmt.Errorf("lookup api key: %w", err)
	}
	if !key.Active {
		return Identity{}, fmt.Errorf("api key %d is inactive: %w", key.ID, ErrUnauthenticated)
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(now()) {
		return Identity{}, fmt.Errorf("api key %d expired: %w", key.ID, ErrExpired)
	}

	if err := a.Store.RecordUse(ctx, key.ID, now().UTC()); err != nil && a.Logger != nil {
		// Usage accounting must not fail the request.
		a.Logger.Warn("record api key use failed", "key_id", key.ID, "error", err.Error())
	}

	return Identity{KeyID: key.ID, KeyName: key.Name, Role: key.Role}, nil
}

// ErrMissingKey and ErrExpired refine ErrUnauthenticated so the middleware
// can emit distinct 401 error codes.
var (
	ErrMissingKey = fmt.Errorf("api key missing: %w", ErrUnauthenticated)
	ErrExpired    = fmt.Errorf("api key expired: %w", ErrUnauthenticated)
)
