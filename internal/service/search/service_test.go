package search

import (
	"testing"

	"github.com/procdash-labs/procdash-go/internal/domain"
)

func TestAnnotateMatches(t *testing.T) {
	name := "ACME GmbH"
	runs := []domain.Run{
		{ID: 1, EntityID: "INV-ACME-1", EntityName: &name, Status: domain.RunStatusFailed,
			Metadata: domain.Metadata{"department": "acme-finance", "customer": "hidden"}},
		{ID: 2, EntityID: "INV-OTHER", Status: domain.RunStatusCompleted},
	}

	annotated := AnnotateMatches(runs, "acme", []string{"department"})
	if len(annotated) != 2 {
		t.Fatalf("got %d annotated, want 2", len(annotated))
	}

	first := annotated[0].Matches
	fields := map[string]bool{}
	for _, m := range first {
		fields[m.Field] = true
	}
	if !fields["entity_id"] || !fields["entity_name"] || !fields["meta.department"] {
		t.Fatalf("matches=%v", first)
	}
	if fields["status"] {
		t.Fatalf("status must not match %q", "acme")
	}
	if fields["meta.customer"] {
		t.Fatalf("only listed meta keys are annotated")
	}

	if len(annotated[1].Matches) != 0 {
		t.Fatalf("second run matches=%v", annotated[1].Matches)
	}
}

func TestAnnotateMatchesStatus(t *testing.T) {
	runs := []domain.Run{{ID: 1, EntityID: "X", Status: domain.RunStatusFailed}}
	annotated := AnnotateMatches(runs, "fail", nil)
	if len(annotated[0].Matches) != 1 || annotated[0].Matches[0].Field != "status" {
		t.Fatalf("matches=%v", annotated[0].Matches)
	}
}

func TestFieldsForProcess(t *testing.T) {
	process := domain.Process{
		ID:   3,
		Name: "invoicing",
		Metadata: domain.Metadata{
			"run_metadata_schema": map[string]any{
				"department": "string",
				"amount":     "number",
			},
		},
	}

	fields := FieldsForProcess(process)
	if fields.ProcessID != 3 || fields.ProcessName != "invoicing" {
		t.Fatalf("fields=%+v", fields)
	}
	if len(fields.MetadataFields) != 2 {
		t.Fatalf("metadata fields=%v", fields.MetadataFields)
	}
	if fields.MetadataFields["department"].SortableAs != "meta.department" {
		t.Fatalf("department=%+v", fields.MetadataFields["department"])
	}

	keys := fields.MetaKeys()
	if len(keys) != 2 || keys[0] != "amount" || keys[1] != "department" {
		t.Fatalf("keys=%v", keys)
	}

	sortable := map[string]bool{}
	for _, f := range fields.AllSortableFields {
		sortable[f] = true
	}
	if !sortable["meta.department"] || !sortable["created_at"] {
		t.Fatalf("sortable=%v", fields.AllSortableFields)
	}

	filterable := map[string]bool{}
	for _, f := range fields.AllFilterableFields {
		filterable[f] = true
	}
	if filterable["id"] {
		t.Fatalf("id must not be filterable")
	}
}

func TestFieldsForProcessWithoutSchema(t *testing.T) {
	fields := FieldsForProcess(domain.Process{ID: 1, Name: "plain"})
	if len(fields.MetadataFields) != 0 {
		t.Fatalf("metadata fields=%v", fields.MetadataFields)
	}
	if len(fields.MetaKeys()) != 0 {
		t.Fatalf("keys=%v", fields.MetaKeys())
	}
}
