package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

type fakeAuditReader struct {
	events []domain.AuditEvent
}

// List mimics the store's keyset paging: newest first, event_id strictly
// below the cursor.
func (f *fakeAuditReader) List(ctx context.Context, filter repo.AuditFilter) ([]domain.AuditEvent, error) {
	out := make([]domain.AuditEvent, 0, filter.Limit)
	for i := len(f.events) - 1; i >= 0; i-- {
		event := f.events[i]
		if filter.BeforeEventID > 0 && event.EventID >= filter.BeforeEventID {
			continue
		}
		if filter.Actor != "" && event.Actor != filter.Actor {
			continue
		}
		out = append(out, event)
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func auditEvents(n int) []domain.AuditEvent {
	events := make([]domain.AuditEvent, 0, n)
	for i := 1; i <= n; i++ {
		events = append(events, domain.AuditEvent{
			EventID:      int64(i),
			OccurredAt:   time.Date(2026, 8, 1, 0, 0, i, 0, time.UTC),
			Actor:        "admin-key",
			Action:       "process.create",
			ResourceType: "process",
			ResourceID:   "1",
		})
	}
	return events
}

func TestHandleListAuditEvents_Keyset(t *testing.T) {
	api := testAPI()
	api.audit = &fakeAuditReader{events: auditEvents(5)}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/events?limit=2", nil)
	w := httptest.NewRecorder()
	api.handleListAuditEvents(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Items        []auditEventResponse `json:"items"`
		NextBeforeID int64                `json:"next_before_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 2 || body.Items[0].EventID != 5 || body.Items[1].EventID != 4 {
		t.Fatalf("items=%+v", body.Items)
	}
	if body.NextBeforeID != 4 {
		t.Fatalf("next_before_id=%d", body.NextBeforeID)
	}

	r = httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/events?limit=2&before_event_id=4", nil)
	w = httptest.NewRecorder()
	api.handleListAuditEvents(w, r)
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 2 || body.Items[0].EventID != 3 {
		t.Fatalf("second page items=%+v", body.Items)
	}
}

func TestHandleListAuditEvents_InvalidLimit(t *testing.T) {
	api := testAPI()
	api.audit = &fakeAuditReader{}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/events?limit=5000", nil)
	w := httptest.NewRecorder()
	api.handleListAuditEvents(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestExportAuditHTTP_StreamsNDJSON(t *testing.T) {
	api := testAPI()
	api.audit = &fakeAuditReader{events: auditEvents(3)}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/admin/audit/export", nil)
	api.exportAuditHTTP(w, r, exportAuditRequest{Destination: "http"})

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type=%q", ct)
	}

	lines := 0
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 3 {
		t.Fatalf("lines=%d", lines)
	}
}
