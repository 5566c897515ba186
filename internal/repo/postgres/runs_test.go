package postgres

import (
	"strings"
	"testing"
)

// Soft-deleted runs must never show up as due: a run the caller removed is
// invisible to the cleanup stats and to the neutralization sweep alike.
func TestDueRunsWhereExcludesSoftDeleted(t *testing.T) {
	for _, cond := range []string{
		"scheduled_deletion_at IS NOT NULL",
		"scheduled_deletion_at <= $1",
		"is_neutralized = FALSE",
		"deleted_at IS NULL",
	} {
		if !strings.Contains(dueRunsWhere, cond) {
			t.Fatalf("due-run predicate is missing %q", cond)
		}
	}
}
