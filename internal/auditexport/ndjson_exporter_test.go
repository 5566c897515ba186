package auditexport

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/procdash-labs/procdash-go/internal/domain"
)

func TestNDJSONExporter(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewNDJSONExporter(&buf)

	events := []domain.AuditEvent{
		{
			EventID:         1,
			OccurredAt:      time.Unix(1700000000, 0).UTC(),
			Actor:           "ops-key",
			Action:          "run.create",
			ResourceType:    "process_run",
			ResourceID:      "42",
			IP:              net.ParseIP("192.0.2.1"),
			Payload:         domain.Metadata{"entity_id": "INV-7"},
			IntegritySHA256: "abc",
		},
		{
			EventID:      2,
			OccurredAt:   time.Unix(1700000100, 0).UTC(),
			Actor:        "ops-key",
			Action:       "run.delete",
			ResourceType: "process_run",
			ResourceID:   "42",
		},
	}
	for _, event := range events {
		if err := exporter.Export(context.Background(), event); err != nil {
			t.Fatalf("Export() err=%v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1 is not JSON: %v", err)
	}
	if first["action"] != "run.create" {
		t.Fatalf("action=%v", first["action"])
	}
	if first["ip"] != "192.0.2.1" {
		t.Fatalf("ip=%v", first["ip"])
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line 2 is not JSON: %v", err)
	}
	if _, ok := second["ip"]; ok {
		t.Fatalf("empty ip must be omitted: %v", second)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, dest := range []string{"http", "s3", ""} {
		cfg := Config{Format: "ndjson", Destination: dest}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("destination %q rejected: %v", dest, err)
		}
	}
	if err := (Config{Format: "csv"}).Validate(); err == nil {
		t.Fatalf("csv format must be rejected")
	}
	if err := (Config{Destination: "kafka"}).Validate(); err == nil {
		t.Fatalf("kafka destination must be rejected")
	}
}
