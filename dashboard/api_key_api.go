package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/listing"
	"github.com/procdash-labs/procdash-go/internal/platform/auth"
	"github.com/procdash-labs/procdash-go/internal/repo"
	pgstore "github.com/procdash-labs/procdash-go/internal/repo/postgres"
)

type apiKeyResponse struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Role        string     `json:"role"`
	KeyPrefix   string     `json:"key_prefix"`
	IsActive    bool       `json:"is_active"`
	UsageCount  int64      `json:"usage_count"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func apiKeyFromDomain(key domain.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:          key.ID,
		Name:        key.Name,
		Description: key.Description,
		Role:        key.Role,
		KeyPrefix:   key.KeyPrefix,
		IsActive:    key.IsActive,
		UsageCount:  key.UsageCount,
		LastUsedAt:  key.LastUsedAt,
		ExpiresAt:   key.ExpiresAt,
		CreatedAt:   key.CreatedAt,
		UpdatedAt:   key.UpdatedAt,
	}
}

type createAPIKeyRequest struct {
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Role        string     `json:"role"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type createdAPIKeyResponse struct {
	apiKeyResponse
	// Secret is shown exactly once; only its hash is stored.
	Secret string `json:"secret"`
}

func (api *dashboardAPI) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	var req createAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	secret, hash, prefix, err := auth.GenerateSecret()
	if err != nil {
		api.logger.Error("generate api key secret", "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	key := domain.APIKey{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Role:        strings.TrimSpace(req.Role),
		KeyHash:     hash,
		KeyPrefix:   prefix,
		IsActive:    true,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := key.Validate(); err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_api_key_request")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	created, err := pgstore.NewAPIKeyStore(tx).Create(r.Context(), key)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	err = api.auditInsert(r, tx, identity, "api_key.create", "api_key", created.ID, map[string]any{
		"name": created.Name,
		"role": created.Role,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}

	w.Header().Set("Location", "/api/v1/admin/api-keys/"+strconv.FormatInt(created.ID, 10))
	api.writeJSON(w, http.StatusCreated, createdAPIKeyResponse{
		apiKeyResponse: apiKeyFromDomain(created),
		Secret:         secret,
	})
}

func (api *dashboardAPI) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.requireAdmin(w, r); !ok {
		return
	}
	params, err := listing.ParseParams(r.URL.Query())
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_pagination")
		return
	}
	keys, total, err := api.apiKeys.List(r.Context(), repo.APIKeyFilter{
		Role: r.URL.Query().Get("role"),
		Page: params,
	})
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	items := make([]apiKeyResponse, 0, len(keys))
	for _, key := range keys {
		items = append(items, apiKeyFromDomain(key))
	}
	writePage(api, w, r, listing.NewPage(items, total, params))
}

func (api *dashboardAPI) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := api.requireAdmin(w, r); !ok {
		return
	}
	id, ok := pathID(r, "key_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_key_id")
		return
	}
	key, err := api.apiKeys.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, apiKeyFromDomain(key))
}

type patchAPIKeyRequest struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	IsActive    *bool      `json:"is_active,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// handlePatchAPIKey covers deactivation and reactivation; the secret and role
// are fixed for the key's lifetime.
func (api *dashboardAPI) handlePatchAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "key_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_key_id")
		return
	}
	var req patchAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	store := pgstore.NewAPIKeyStore(tx)
	key, err := store.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if req.Name != nil {
		key.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		key.Description = req.Description
	}
	if req.IsActive != nil {
		key.IsActive = *req.IsActive
	}
	if req.ExpiresAt != nil {
		key.ExpiresAt = req.ExpiresAt
	}
	if err := key.Validate(); err != nil {
		api.writeError(w, r, http.StatusUnprocessableEntity, "invalid_api_key_request")
		return
	}

	updated, err := store.Update(r.Context(), key)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	err = api.auditInsert(r, tx, identity, "api_key.update", "api_key", updated.ID, map[string]any{
		"is_active": updated.IsActive,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	api.writeJSON(w, http.StatusOK, apiKeyFromDomain(updated))
}

func (api *dashboardAPI) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "key_id")
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_key_id")
		return
	}

	tx, ok := api.beginTx(w, r)
	if !ok {
		return
	}
	defer func() { _ = tx.Rollback() }()

	if err := pgstore.NewAPIKeyStore(tx).Delete(r.Context(), id); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	if err := api.auditInsert(r, tx, identity, "api_key.delete", "api_key", id, nil); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "audit_failed")
		return
	}
	if !api.commit(w, r, tx) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthVerify confirms the presented key is valid; the middleware has
// already done the work by the time this runs.
func (api *dashboardAPI) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"key_id":   identity.KeyID,
		"key_name": identity.KeyName,
		"role":     identity.Role,
	})
}

func (api *dashboardAPI) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	key, err := api.apiKeys.Get(r.Context(), identity.KeyID)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, apiKeyFromDomain(key))
}
