package main

import (
	"errors"
	"io"
	"net/http"
	"time"
)

type cleanupRequest struct {
	BatchSize int  `json:"batch_size,omitempty"`
	DryRun    bool `json:"dry_run,omitempty"`
}

// handleCleanupNeutralize runs one retention sweep on demand. The scheduled
// sweeper calls the same service; this endpoint exists for backfills and for
// verifying a policy change with dry_run.
func (api *dashboardAPI) handleCleanupNeutralize(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}

	req := cleanupRequest{
		BatchSize: parseIntQuery(r, "batch_size", 0),
		DryRun:    parseBoolQuery(r, "dry_run"),
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.BatchSize < 0 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_batch_size")
		return
	}

	stats, err := api.retention.NeutralizeDueRuns(r.Context(), req.BatchSize, req.DryRun)
	if err != nil {
		api.logger.Error("cleanup sweep failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	if !req.DryRun {
		err = api.auditInsert(r, api.db, identity, "cleanup.neutralize", "run", 0, map[string]any{
			"total_found": stats.TotalFound,
			"neutralized": stats.Neutralized,
			"failed":      stats.Failed,
		})
		if err != nil {
			api.logger.Error("audit cleanup failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		}
	}
	api.writeJSON(w, http.StatusOK, stats)
}

// handleCleanupStats reports how many runs are overdue for neutralization and
// a small sample of their ids, without changing anything. The count is a
// count(*); only the sample rows are loaded.
func (api *dashboardAPI) handleCleanupStats(w http.ResponseWriter, r *http.Request) {
	sampleSize := parseIntQuery(r, "sample_size", 10)
	if sampleSize < 0 || sampleSize > 100 {
		api.writeError(w, r, http.StatusBadRequest, "invalid_sample_size")
		return
	}

	cutoff := time.Now().UTC()
	total, err := api.runs.CountDueForNeutralization(r.Context(), cutoff)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}

	sample := make([]int64, 0, sampleSize)
	if sampleSize > 0 && total > 0 {
		due, err := api.runs.ListDueForNeutralization(r.Context(), cutoff, sampleSize)
		if err != nil {
			api.writeRepoError(w, r, err)
			return
		}
		for _, run := range due {
			sample = append(sample, run.ID)
		}
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"due_count":      total,
		"sample_run_ids": sample,
	})
}
