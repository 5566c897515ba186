package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

type dueRunRepo struct {
	repo.RunRepository
	due        []domain.Run
	listLimits []int
}

func (f *dueRunRepo) CountDueForNeutralization(ctx context.Context, cutoff time.Time) (int64, error) {
	return int64(len(f.due)), nil
}

func (f *dueRunRepo) ListDueForNeutralization(ctx context.Context, cutoff time.Time, limit int) ([]domain.Run, error) {
	f.listLimits = append(f.listLimits, limit)
	if limit > 0 && limit < len(f.due) {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func TestHandleCleanupStats(t *testing.T) {
	api := testAPI()
	runs := &dueRunRepo{due: []domain.Run{{ID: 11}, {ID: 12}, {ID: 13}}}
	api.runs = runs

	r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/cleanup/stats?sample_size=2", nil)
	w := httptest.NewRecorder()
	api.handleCleanupStats(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		DueCount     int     `json:"due_count"`
		SampleRunIDs []int64 `json:"sample_run_ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.DueCount != 3 {
		t.Fatalf("due_count=%d", body.DueCount)
	}
	if len(body.SampleRunIDs) != 2 || body.SampleRunIDs[0] != 11 {
		t.Fatalf("sample=%v", body.SampleRunIDs)
	}
	// The sample query must be capped at sample_size; the count never loads rows.
	if len(runs.listLimits) != 1 || runs.listLimits[0] != 2 {
		t.Fatalf("list limits=%v, want [2]", runs.listLimits)
	}
}

func TestHandleCleanupStats_InvalidSampleSize(t *testing.T) {
	api := testAPI()
	api.runs = &dueRunRepo{}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/cleanup/stats?sample_size=500", nil)
	w := httptest.NewRecorder()
	api.handleCleanupStats(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}
