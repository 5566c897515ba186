package main

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/procdash-labs/procdash-go/internal/auditexport"
	"github.com/procdash-labs/procdash-go/internal/domain"
	"github.com/procdash-labs/procdash-go/internal/platform/auth"
	"github.com/procdash-labs/procdash-go/internal/repo"
)

type auditEventResponse struct {
	EventID         int64           `json:"event_id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Actor           string          `json:"actor"`
	Action          string          `json:"action"`
	ResourceType    string          `json:"resource_type"`
	ResourceID      string          `json:"resource_id"`
	RequestID       string          `json:"request_id,omitempty"`
	IP              string          `json:"ip,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
	Payload         domain.Metadata `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

func auditEventFromDomain(event domain.AuditEvent) auditEventResponse {
	ip := ""
	if event.IP != nil {
		ip = event.IP.String()
	}
	return auditEventResponse{
		EventID:         event.EventID,
		OccurredAt:      event.OccurredAt,
		Actor:           event.Actor,
		Action:          event.Action,
		ResourceType:    event.ResourceType,
		ResourceID:      event.ResourceID,
		RequestID:       event.RequestID,
		IP:              ip,
		UserAgent:       event.UserAgent,
		Payload:         metaOrEmpty(event.Payload),
		IntegritySHA256: event.IntegritySHA256,
	}
}

func auditFilterFromQuery(r *http.Request) (repo.AuditFilter, error) {
	limit := parseIntQuery(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		return repo.AuditFilter{}, errors.New("limit out of range")
	}
	before := parseIntQuery(r, "before_event_id", 0)
	if before < 0 {
		return repo.AuditFilter{}, errors.New("before_event_id out of range")
	}
	q := r.URL.Query()
	return repo.AuditFilter{
		Actor:         strings.TrimSpace(q.Get("actor")),
		Action:        strings.TrimSpace(q.Get("action")),
		ResourceType:  strings.TrimSpace(q.Get("resource_type")),
		ResourceID:    strings.TrimSpace(q.Get("resource_id")),
		RequestID:     strings.TrimSpace(q.Get("request_id")),
		BeforeEventID: int64(before),
		Limit:         limit,
	}, nil
}

// handleListAuditEvents pages the trail newest first by keyset: pass the
// lowest event_id of the previous page as before_event_id for the next.
func (api *dashboardAPI) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_audit_filter")
		return
	}
	events, err := api.audit.List(r.Context(), filter)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	items := make([]auditEventResponse, 0, len(events))
	for _, event := range events {
		items = append(items, auditEventFromDomain(event))
	}
	var nextBefore int64
	if len(events) == filter.Limit {
		nextBefore = events[len(events)-1].EventID
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"items":          items,
		"next_before_id": nextBefore,
	})
}

type exportAuditRequest struct {
	Destination string `json:"destination,omitempty"`
	Actor       string `json:"actor,omitempty"`
	Action      string `json:"action,omitempty"`
	StartID     int64  `json:"start_event_id,omitempty"`
}

// handleExportAuditEvents dumps the matching trail as NDJSON, either streamed
// in the response or uploaded to the object store in one batch.
func (api *dashboardAPI) handleExportAuditEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.identity(w, r)
	if !ok {
		return
	}
	req := exportAuditRequest{Destination: api.exportCfg.Destination}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Destination == "" {
		req.Destination = api.exportCfg.Destination
	}

	switch req.Destination {
	case "http":
		api.exportAuditHTTP(w, r, req)
	case "s3":
		api.exportAuditS3(w, r, identity, req)
	default:
		api.writeError(w, r, http.StatusBadRequest, "invalid_export_destination")
	}
}

const auditExportBatch = 500

// streamAuditEvents walks the trail oldest batches last, feeding every
// matching event to the exporter.
func (api *dashboardAPI) streamAuditEvents(r *http.Request, req exportAuditRequest, exporter auditexport.Exporter) (int, error) {
	filter := repo.AuditFilter{
		Actor:         req.Actor,
		Action:        req.Action,
		BeforeEventID: req.StartID,
		Limit:         auditExportBatch,
	}
	exported := 0
	for {
		events, err := api.audit.List(r.Context(), filter)
		if err != nil {
			return exported, err
		}
		for _, event := range events {
			if err := exporter.Export(r.Context(), event); err != nil {
				return exported, err
			}
			exported++
		}
		if len(events) < filter.Limit {
			return exported, nil
		}
		filter.BeforeEventID = events[len(events)-1].EventID
	}
}

func (api *dashboardAPI) exportAuditHTTP(w http.ResponseWriter, r *http.Request, req exportAuditRequest) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	exporter := auditexport.NewNDJSONExporter(w)
	if _, err := api.streamAuditEvents(r, req, exporter); err != nil {
		// Headers are already on the wire; all we can do is log and cut the
		// stream short.
		api.logger.Error("audit export stream failed",
			"request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
	}
}

func (api *dashboardAPI) exportAuditS3(w http.ResponseWriter, r *http.Request, identity auth.Identity, req exportAuditRequest) {
	if api.store == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "object_store_unavailable")
		return
	}
	exporter := auditexport.NewS3Exporter(api.store, api.storeCfg.BucketExports)
	exported, err := api.streamAuditEvents(r, req, exporter)
	if err != nil {
		api.logger.Error("audit export failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "audit_export_failed")
		return
	}
	key, err := exporter.Flush(r.Context())
	if err != nil {
		api.logger.Error("audit export upload failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
		api.writeError(w, r, http.StatusBadGateway, "audit_export_upload_failed")
		return
	}

	err = api.auditInsert(r, api.db, identity, "audit.export", "audit_export", 0, map[string]any{
		"object_key": key,
		"exported":   exported,
	})
	if err != nil {
		api.logger.Error("audit export record failed", "request_id", r.Header.Get("X-Request-Id"), "error", err.Error())
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"object_key": key,
		"exported":   exported,
	})
}
