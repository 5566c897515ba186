// Package search annotates run search results with the fields that matched
// and describes which fields of a process can be searched, sorted, and
// filtered.
package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/procdash-labs/procdash-go/internal/domain"
)

// MatchedField names a field whose value matched the search term.
type MatchedField struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// AnnotatedRun pairs a run with the fields the search term hit.
type AnnotatedRun struct {
	Run     domain.Run     `json:"-"`
	Matches []MatchedField `json:"matches"`
}

// AnnotateMatches checks each run's entity_id, entity_name, status, and the
// given metadata keys against the term, case-insensitively.
func AnnotateMatches(runs []domain.Run, term string, metaKeys []string) []AnnotatedRun {
	needle := strings.ToLower(term)
	annotated := make([]AnnotatedRun, 0, len(runs))
	for _, run := range runs {
		matches := []MatchedField{}
		if strings.Contains(strings.ToLower(run.EntityID), needle) {
			matches = append(matches, MatchedField{Field: "entity_id", Value: run.EntityID})
		}
		if run.EntityName != nil && strings.Contains(strings.ToLower(*run.EntityName), needle) {
			matches = append(matches, MatchedField{Field: "entity_name", Value: *run.EntityName})
		}
		if strings.Contains(strings.ToLower(string(run.Status)), needle) {
			matches = append(matches, MatchedField{Field: "status", Value: string(run.Status)})
		}
		for _, key := range metaKeys {
			value, ok := run.Metadata[key]
			if !ok || value == nil {
				continue
			}
			if strings.Contains(strings.ToLower(fmt.Sprint(value)), needle) {
				matches = append(matches, MatchedField{Field: "meta." + key, Value: value})
			}
		}
		annotated = append(annotated, AnnotatedRun{Run: run, Matches: matches})
	}
	return annotated
}

// FieldInfo describes one searchable field of a process.
type FieldInfo struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Values      []string `json:"values,omitempty"`
	Sortable    bool     `json:"sortable"`
	Filterable  bool     `json:"filterable"`
	SortableAs  string   `json:"sortable_as,omitempty"`
}

// Fields is the searchable-fields report for one process.
type Fields struct {
	ProcessID           int64                `json:"process_id"`
	ProcessName         string               `json:"process_name"`
	StandardFields      map[string]FieldInfo `json:"standard_fields"`
	MetadataFields      map[string]FieldInfo `json:"metadata_fields"`
	AllSortableFields   []string             `json:"all_sortable_fields"`
	AllFilterableFields []string             `json:"all_filterable_fields"`
}

// MetaKeys returns the metadata field names, sorted for stable SQL and
// annotation order.
func (f Fields) MetaKeys() []string {
	keys := make([]string, 0, len(f.MetadataFields))
	for key := range f.MetadataFields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// FieldsForProcess derives the report from the process's run_metadata_schema
// metadata entry, a map of field name to type.
func FieldsForProcess(process domain.Process) Fields {
	standard := standardFields()
	meta := map[string]FieldInfo{}
	if schema, ok := process.Metadata["run_metadata_schema"].(map[string]any); ok {
		for field, fieldType := range schema {
			meta[field] = FieldInfo{
				Type:        fmt.Sprint(fieldType),
				Description: "Metadata field: " + field,
				Sortable:    true,
				Filterable:  true,
				SortableAs:  "meta." + field,
			}
		}
	}

	sortable := make([]string, 0, len(standard)+len(meta))
	filterable := make([]string, 0, len(standard)+len(meta))
	for name, info := range standard {
		if info.Sortable {
			sortable = append(sortable, name)
		}
		if info.Filterable {
			filterable = append(filterable, name)
		}
	}
	for field := range meta {
		sortable = append(sortable, "meta."+field)
		filterable = append(filterable, "meta."+field)
	}
	sort.Strings(sortable)
	sort.Strings(filterable)

	return Fields{
		ProcessID:           process.ID,
		ProcessName:         process.Name,
		StandardFields:      standard,
		MetadataFields:      meta,
		AllSortableFields:   sortable,
		AllFilterableFields: filterable,
	}
}

func standardFields() map[string]FieldInfo {
	return map[string]FieldInfo{
		"id": {
			Type:        "integer",
			Description: "Run ID",
			Sortable:    true,
		},
		"entity_id": {
			Type:        "string",
			Description: "Entity identifier (e.g. case number)",
			Sortable:    true,
			Filterable:  true,
		},
		"entity_name": {
			Type:        "string",
			Description: "Entity display name",
			Sortable:    true,
			Filterable:  true,
		},
		"status": {
			Type:        "enum",
			Description: "Run status",
			Values:      []string{"pending", "running", "completed", "failed"},
			Sortable:    true,
			Filterable:  true,
		},
		"started_at": {
			Type:        "datetime",
			Description: "When the run started",
			Sortable:    true,
			Filterable:  true,
		},
		"finished_at": {
			Type:        "datetime",
			Description: "When the run finished",
			Sortable:    true,
			Filterable:  true,
		},
		"created_at": {
			Type:        "datetime",
			Description: "When the run was recorded",
			Sortable:    true,
			Filterable:  true,
		},
	}
}
