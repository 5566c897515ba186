package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeKeyStore struct {
	keys     map[string]Key
	recorded []int64
	useErr   error
}

func (f *fakeKeyStore) ByHash(ctx context.Context, hash string) (Key, error) {
	key, ok := f.keys[hash]
	if !ok {
		return Key{}, ErrKeyNotFound
	}
	return key, nil
}

func (f *fakeKeyStore) RecordUse(ctx context.Context, id int64, at time.Time) error {
	if f.useErr != nil {
		return f.useErr
	}
	f.recorded = append(f.recorded, id)
	return nil
}

func requestWithKey(secret string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://example.test/api/v1/processes", nil)
	if secret != "" {
		r.Header.Set(HeaderAPIKey, secret)
	}
	return r
}

func TestGenerateSecret(t *testing.T) {
	secret, hash, prefix, err := GenerateSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(secret, SecretPrefix) {
		t.Fatalf("secret %q must carry prefix %q", secret, SecretPrefix)
	}
	if hash != HashSecret(secret) {
		t.Fatalf("hash mismatch")
	}
	if len(hash) != 64 {
		t.Fatalf("hash length=%d, want 64", len(hash))
	}
	if !strings.HasPrefix(secret, prefix) {
		t.Fatalf("prefix %q must open the secret %q", prefix, secret)
	}
}

func TestAuthenticate_OK(t *testing.T) {
	store := &fakeKeyStore{keys: map[string]Key{
		HashSecret("pd_valid"): {ID: 7, Name: "ci", Role: RoleUser, Active: true},
	}}
	a := KeyAuthenticator{Store: store}

	identity, err := a.Authenticate(context.Background(), requestWithKey("pd_valid"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.KeyID != 7 || identity.Role != RoleUser {
		t.Fatalf("identity=%+v", identity)
	}
	if len(store.recorded) != 1 || store.recorded[0] != 7 {
		t.Fatalf("usage not recorded: %v", store.recorded)
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	a := KeyAuthenticator{Store: &fakeKeyStore{}}
	_, err := a.Authenticate(context.Background(), requestWithKey(""))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err=%v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticate_UnknownKey(t *testing.T) {
	a := KeyAuthenticator{Store: &fakeKeyStore{keys: map[string]Key{}}}
	_, err := a.Authenticate(context.Background(), requestWithKey("pd_bogus"))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err=%v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticate_InactiveKey(t *testing.T) {
	store := &fakeKeyStore{keys: map[string]Key{
		HashSecret("pd_off"): {ID: 2, Active: false},
	}}
	a := KeyAuthenticator{Store: store}
	_, err := a.Authenticate(context.Background(), requestWithKey("pd_off"))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err=%v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticate_ExpiredKey(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeKeyStore{keys: map[string]Key{
		HashSecret("pd_old"): {ID: 3, Active: true, ExpiresAt: &past},
	}}
	a := KeyAuthenticator{Store: store}
	_, err := a.Authenticate(context.Background(), requestWithKey("pd_old"))
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err=%v, want ErrExpired", err)
	}
	if len(store.recorded) != 0 {
		t.Fatalf("expired key must not record usage")
	}
}
