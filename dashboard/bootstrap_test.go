package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/platform/auth"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

type fakeKeyRepo struct {
	repo.APIKeyRepository
	byHash  map[string]domain.APIKey
	created []domain.APIKey
}

func (f *fakeKeyRepo) ByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	if key, ok := f.byHash[hash]; ok {
		return key, nil
	}
	return domain.APIKey{}, repo.ErrNotFound
}

func (f *fakeKeyRepo) Create(ctx context.Context, key domain.APIKey) (domain.APIKey, error) {
	key.ID = int64(len(f.created) + 1)
	f.created = append(f.created, key)
	if f.byHash == nil {
		f.byHash = map[string]domain.APIKey{}
	}
	f.byHash[key.KeyHash] = key
	return key, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestBootstrapAdminKey_SeedsFreshDatabase(t *testing.T) {
	keys := &fakeKeyRepo{}
	secret := "pd_bootstrap-secret"

	if err := bootstrapAdminKey(context.Background(), discardLogger(), keys, "bootstrap-admin", secret); err != nil {
		t.Fatalf("bootstrapAdminKey() err=%v", err)
	}
	if len(keys.created) != 1 {
		t.Fatalf("created=%d, want 1", len(keys.created))
	}
	key := keys.created[0]
	if key.Role != domain.RoleAdmin || !key.IsActive {
		t.Fatalf("key=%+v, want active admin", key)
	}
	if key.KeyHash != auth.HashSecret(secret) {
		t.Fatalf("hash=%q, the secret itself must never be stored", key.KeyHash)
	}
	if key.KeyPrefix != "pd_boots" {
		t.Fatalf("prefix=%q", key.KeyPrefix)
	}
	if key.Name != "bootstrap-admin" {
		t.Fatalf("name=%q", key.Name)
	}
}

func TestBootstrapAdminKey_AlreadyEnrolled(t *testing.T) {
	keys := &fakeKeyRepo{}
	secret := "pd_bootstrap-secret"

	for i := 0; i < 2; i++ {
		if err := bootstrapAdminKey(context.Background(), discardLogger(), keys, "bootstrap-admin", secret); err != nil {
			t.Fatalf("bootstrapAdminKey() round %d err=%v", i, err)
		}
	}
	if len(keys.created) != 1 {
		t.Fatalf("created=%d, a restart must not enroll a second key", len(keys.created))
	}
}

func TestBootstrapAdminKey_NoSecretConfigured(t *testing.T) {
	keys := &fakeKeyRepo{}
	if err := bootstrapAdminKey(context.Background(), discardLogger(), keys, "bootstrap-admin", "  "); err != nil {
		t.Fatalf("bootstrapAdminKey() err=%v", err)
	}
	if len(keys.created) != 0 {
		t.Fatalf("created=%d, want none without a configured secret", len(keys.created))
	}
}
