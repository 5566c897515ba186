package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/minio/minio-go/v7"

	"github.com/procdash-labs/procdash-go/internal/auditexport"
	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/listing"
	"github.com/procdash-labs/procdash-go/internal/platform/auditlog"
	"github.com/procdash-labs/procdash-go/internal/platform/auth"
	"github.com/procdash-labs/procdash-go/internal/platform/objectstore"
	"github.com/procdash-labs/procdash-go/internal/repo"
	pgstore "github.com/procdash-labs/procdash-go/internal/repo/postgres"
	"github.com/procdash-labs/procdash-go/internal/service/rerun"
	"github.com/procdash-labs/procdash-go/internal/service/retention"
)

type dashboardAPI struct {
	logger *slog.Logger
	db     *sql.DB

	processes repo.ProcessRepository
	steps     repo.StepRepository
	runs      repo.RunRepository
	stepRuns  repo.StepRunRepository
	apiKeys   repo.APIKeyRepository
	audit     repo.AuditEventReader

	retention *retention.Service
	rerun     *rerun.Service
	policy    retention.Policy

	exportCfg auditexport.Config
	store     *minio.Client
	storeCfg  objectstore.Config
}

func newDashboardAPI(
	logger *slog.Logger,
	db *sql.DB,
	retentionSvc *retention.Service,
	rerunSvc *rerun.Service,
	policy retention.Policy,
	exportCfg auditexport.Config,
	store *minio.Client,
	storeCfg objectstore.Config,
) *dashboardAPI {
	return &dashboardAPI{
		logger:    logger,
		db:        db,
		processes: pgstore.NewProcessStore(db),
		steps:     pgstore.NewStepStore(db),
		runs:      pgstore.NewRunStore(db),
		stepRuns:  pgstore.NewStepRunStore(db),
		apiKeys:   pgstore.NewAPIKeyStore(db),
		audit:     pgstore.NewAuditStore(db),
		retention: retentionSvc,
		rerun:     rerunSvc,
		policy:    policy,
		exportCfg: exportCfg,
		store:     store,
		storeCfg:  storeCfg,
	}
}

func (api *dashboardAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/processes", api.handleCreateProcess)
	mux.HandleFunc("GET /api/v1/processes", api.handleListProcesses)
	mux.HandleFunc("GET /api/v1/processes/{process_id}", api.handleGetProcess)
	mux.HandleFunc("PUT /api/v1/processes/{process_id}", api.handleUpdateProcess)
	mux.HandleFunc("DELETE /api/v1/processes/{process_id}", api.handleDeleteProcess)
	mux.HandleFunc("POST /api/v1/processes/{process_id}/restore", api.handleRestoreProcess)
	mux.HandleFunc("GET /api/v1/processes/{process_id}/overview", api.handleProcessOverview)
	mux.HandleFunc("GET /api/v1/processes/{process_id}/searchable-fields", api.handleSearchableFields)
	mux.HandleFunc("GET /api/v1/processes/{process_id}/steps", api.handleListSteps)
	mux.HandleFunc("POST /api/v1/processes/{process_id}/steps", api.handleCreateStep)

	mux.HandleFunc("POST /api/v1/runs", api.handleCreateRun)
	mux.HandleFunc("GET /api/v1/runs", api.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/search", api.handleSearchRuns)
	mux.HandleFunc("GET /api/v1/runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("PUT /api/v1/runs/{run_id}", api.handleUpdateRun)
	mux.HandleFunc("DELETE /api/v1/runs/{run_id}", api.handleDeleteRun)
	mux.HandleFunc("POST /api/v1/runs/{run_id}/restore", api.handleRestoreRun)
	mux.HandleFunc("POST /api/v1/runs/{run_id}/neutralize", api.handleNeutralizeRun)
	mux.HandleFunc("GET /api/v1/runs/{run_id}/step-runs", api.handleListRunStepRuns)

	mux.HandleFunc("GET /api/v1/steps/{step_id}", api.handleGetStep)
	mux.HandleFunc("PUT /api/v1/steps/{step_id}", api.handleUpdateStep)
	mux.HandleFunc("DELETE /api/v1/steps/{step_id}", api.handleDeleteStep)

	mux.HandleFunc("POST /api/v1/step-runs", api.handleCreateStepRun)
	mux.HandleFunc("GET /api/v1/step-runs", api.handleListStepRuns)
	mux.HandleFunc("GET /api/v1/step-runs/{step_run_id}", api.handleGetStepRun)
	mux.HandleFunc("PATCH /api/v1/step-runs/{step_run_id}", api.handlePatchStepRun)
	mux.HandleFunc("POST /api/v1/step-runs/{step_run_id}/rerun", api.handleRerunStepRun)

	mux.HandleFunc("GET /api/v1/auth/verify", api.handleAuthVerify)
	mux.HandleFunc("GET /api/v1/auth/me", api.handleAuthMe)

	mux.HandleFunc("POST /api/v1/admin/api-keys", api.handleCreateAPIKey)
	mux.HandleFunc("GET /api/v1/admin/api-keys", api.handleListAPIKeys)
	mux.HandleFunc("GET /api/v1/admin/api-keys/{key_id}", api.handleGetAPIKey)
	mux.HandleFunc("PATCH /api/v1/admin/api-keys/{key_id}", api.handlePatchAPIKey)
	mux.HandleFunc("DELETE /api/v1/admin/api-keys/{key_id}", api.handleDeleteAPIKey)

	mux.HandleFunc("POST /api/v1/admin/cleanup/neutralize", api.handleCleanupNeutralize)
	mux.HandleFunc("GET /api/v1/admin/cleanup/stats", api.handleCleanupStats)

	mux.HandleFunc("GET /api/v1/admin/audit/events", api.handleListAuditEvents)
	mux.HandleFunc("POST /api/v1/admin/audit/export", api.handleExportAuditEvents)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *dashboardAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *dashboardAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

// writeRepoError maps store failures onto the error taxonomy.
func (api *dashboardAPI) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.logger.Error("repository error", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

// writePage sets the pagination headers the list endpoints share and writes
// the page body.
func writePage[T any](api *dashboardAPI, w http.ResponseWriter, r *http.Request, page listing.Page[T]) {
	w.Header().Set("Link", listing.LinkHeader(r.URL, page))
	w.Header().Set("X-Total-Count", strconv.FormatInt(page.Total, 10))
	w.Header().Set("X-Page", strconv.Itoa(page.Page))
	w.Header().Set("X-Page-Size", strconv.Itoa(page.Size))
	w.Header().Set("X-Total-Pages", strconv.Itoa(page.Pages))
	api.writeJSON(w, http.StatusOK, page)
}

func (api *dashboardAPI) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return auth.Identity{}, false
	}
	return identity, true
}

// requireAdmin gates the mutating endpoints that live outside /api/v1/admin/.
func (api *dashboardAPI) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := api.identity(w, r)
	if !ok {
		return auth.Identity{}, false
	}
	if !identity.IsAdmin() {
		api.writeError(w, r, http.StatusForbidden, "admin_required")
		return auth.Identity{}, false
	}
	return identity, true
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// beginTx opens the request transaction; callers must defer rollback and
// commit explicitly.
func (api *dashboardAPI) beginTx(w http.ResponseWriter, r *http.Request) (*sql.Tx, bool) {
	tx, err := api.db.BeginTx(r.Context(), nil)
	if err != nil {
		api.logger.Error("begin tx", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return nil, false
	}
	return tx, true
}

func (api *dashboardAPI) commit(w http.ResponseWriter, r *http.Request, tx *sql.Tx) bool {
	if err := tx.Commit(); err != nil {
		api.logger.Error("commit tx", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return false
	}
	return true
}

// auditInsert appends the audit event in the same transaction as the change.
func (api *dashboardAPI) auditInsert(r *http.Request, q auditlog.QueryRower, identity auth.Identity, action, resourceType string, resourceID int64, payload map[string]any) error {
	actor := strings.TrimSpace(identity.KeyName)
	if actor == "" {
		actor = "anonymous"
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["service"] = "dashboard"
	payload["key_id"] = identity.KeyID
	payload["request_method"] = r.Method
	payload["request_path"] = r.URL.Path
	_, err := auditlog.Insert(r.Context(), q, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   strconv.FormatInt(resourceID, 10),
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	return err
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func parseBoolQuery(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return err == nil && v
}

func parseTimeQuery(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	at = at.UTC()
	return &at, nil
}

func metaOrEmpty(meta domain.Metadata) domain.Metadata {
	if meta == nil {
		return domain.Metadata{}
	}
	return meta
}
