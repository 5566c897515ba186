package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/procdash-labs/procdash-go/internal/auditexport"
	"github.com/procdash-labs/procdash-go/internal/platform/auditlog"
	"github.com/procdash-labs/procdash-go/internal/platform/auth"
	"github.com/procdash-labs/procdash-go/internal/platform/env"
	"github.com/procdash-labs/procdash-go/internal/platform/httpserver"
	"github.com/procdash-labs/procdash-go/internal/platform/objectstore"
	"github.com/procdash-labs/procdash-go/internal/platform/postgres"
	"github.com/procdash-labs/procdash-go/internal/repo"
	pgstore "github.com/procdash-labs/procdash-go/internal/repo/postgres"
	"github.com/procdash-labs/procdash-go/internal/service/rerun"
	"github.com/procdash-labs/procdash-go/internal/service/retention"
	"github.com/procdash-labs/procdash-go/internal/version"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("DASHBOARD_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("DASHBOARD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = postgres.Migrate(migrateCtx, db)
	cancel()
	if err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	exportCfg, err := auditexport.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid audit export config", "error", err)
		os.Exit(2)
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	var storeClient *minio.Client
	if exportCfg.Destination == "s3" {
		storeClient, err = objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = objectstore.EnsureBucket(startupCtx, storeClient, storeCfg)
		cancel()
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
	}

	policy, err := loadRetentionPolicy()
	if err != nil {
		logger.Error("invalid retention policy", "error", err)
		os.Exit(2)
	}

	runStore := pgstore.NewRunStore(db)
	stepRunStore := pgstore.NewStepRunStore(db)
	apiKeyStore := pgstore.NewAPIKeyStore(db)

	bootstrapCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = bootstrapAdminKey(bootstrapCtx, logger, apiKeyStore,
		env.String("DASHBOARD_BOOTSTRAP_ADMIN_KEY_NAME", "bootstrap-admin"),
		env.String("DASHBOARD_BOOTSTRAP_ADMIN_KEY", ""))
	cancel()
	if err != nil {
		logger.Error("bootstrap admin key failed", "error", err)
		os.Exit(1)
	}

	var notifier rerun.Notifier
	if env.String("AUTOMATION_SERVER_URL", "") != "" {
		rerunCfg, err := rerun.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid automation server config", "error", err)
			os.Exit(2)
		}
		client, err := rerun.NewClient(rerunCfg)
		if err != nil {
			logger.Error("automation server client init failed", "error", err)
			os.Exit(2)
		}
		notifier = client
	} else {
		logger.Warn("automation server not configured, reruns will not be dispatched")
		notifier = noopNotifier{logger: logger}
	}

	retentionSvc := retention.New(runStore, policy, logger)
	rerunSvc := rerun.New(stepRunStore, runStore, notifier)

	schedule := env.String("RETENTION_SWEEP_SCHEDULE", "@hourly")
	stopSweeper, err := startRetentionSweeper(ctx, logger, retentionSvc, policy, schedule)
	if err != nil {
		logger.Error("invalid retention sweep schedule", "error", err)
		os.Exit(2)
	}
	defer stopSweeper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"service":"dashboard","version":"` + version.Version + `"}`))
	})
	mux.HandleFunc("/healthz", httpserver.Healthz("dashboard"))
	readinessChecks := []httpserver.ReadinessCheck{
		{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		},
	}
	if storeClient != nil {
		readinessChecks = append(readinessChecks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
			},
		})
	}
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("dashboard", readinessChecks...))

	api := newDashboardAPI(logger, db, retentionSvc, rerunSvc, policy, exportCfg, storeClient, storeCfg)
	apiMux := http.NewServeMux()
	api.register(apiMux)

	protected := auth.Middleware{
		Logger: logger,
		Authenticator: auth.KeyAuthenticator{
			Store:  repoKeyStore{keys: apiKeyStore},
			Logger: logger,
		},
		Authorize: auth.AdminPathAuthorizer("/api/v1/admin/"),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "dashboard", event)
		},
	}.Wrap(apiMux)
	mux.Handle("/api/v1/", protected)

	cfg := httpserver.Config{
		Service:         "dashboard",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "dashboard", mux)); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func loadRetentionPolicy() (retention.Policy, error) {
	path := env.String("RETENTION_POLICY_FILE", "")
	if path == "" {
		return retention.DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return retention.Policy{}, err
	}
	return retention.ParsePolicy(raw)
}

// repoKeyStore adapts the API key repository to the authenticator's view.
type repoKeyStore struct {
	keys repo.APIKeyRepository
}

func (s repoKeyStore) ByHash(ctx context.Context, hash string) (auth.Key, error) {
	key, err := s.keys.ByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return auth.Key{}, auth.ErrKeyNotFound
		}
		return auth.Key{}, err
	}
	return auth.Key{
		ID:        key.ID,
		Name:      key.Name,
		Role:      key.Role,
		Active:    key.IsActive,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

func (s repoKeyStore) RecordUse(ctx context.Context, id int64, at time.Time) error {
	return s.keys.RecordUse(ctx, id, at)
}

// noopNotifier stands in when no automation server is configured. Rerun rows
// are still created; the dispatch is just skipped.
type noopNotifier struct {
	logger *slog.Logger
}

func (n noopNotifier) ResetWorkitem(ctx context.Context, workitemID string, policy rerun.Policy) error {
	n.logger.Warn("rerun dispatch skipped, automation server not configured", "workitem_id", workitemID)
	return nil
}
