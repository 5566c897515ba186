package postgres

import (
	"testing"

	"github.com/procdash-labs/procdash-go/internal/listing"
)

func TestAppendMetaClauses(t *testing.T) {
	clauses, args := appendMetaClauses(nil, nil, []listing.MetaFilter{
		{Field: "department", Values: []string{"finance", "hr"}},
		{Field: "category", Values: []string{"invoice"}},
	})
	if len(clauses) != 2 {
		t.Fatalf("got %d clauses, want 2", len(clauses))
	}
	if clauses[0] != "(meta->>$1 = $2 OR meta->>$3 = $4)" {
		t.Fatalf("clause 0 = %q", clauses[0])
	}
	if clauses[1] != "(meta->>$5 = $6)" {
		t.Fatalf("clause 1 = %q", clauses[1])
	}
	want := []any{"department", "finance", "department", "hr", "category", "invoice"}
	if len(args) != len(want) {
		t.Fatalf("got %d args, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestOrderClauseColumn(t *testing.T) {
	clause, args := orderClause(listing.Order{Column: "created_at", Desc: true}, nil)
	if clause != " ORDER BY created_at DESC" {
		t.Fatalf("clause = %q", clause)
	}
	if len(args) != 0 {
		t.Fatalf("column ordering must not bind args")
	}
}

func TestOrderClauseMetaKeyIsBound(t *testing.T) {
	clause, args := orderClause(listing.Order{Meta: "department"}, []any{"x"})
	if clause != " ORDER BY meta->>$2 ASC" {
		t.Fatalf("clause = %q", clause)
	}
	if len(args) != 2 || args[1] != "department" {
		t.Fatalf("meta key must travel as a bind parameter: %v", args)
	}
}

func TestPageClause(t *testing.T) {
	clause, args := pageClause(listing.Params{Page: 3, Size: 10}, nil)
	if clause != " LIMIT $1 OFFSET $2" {
		t.Fatalf("clause = %q", clause)
	}
	if args[0] != 10 || args[1] != 20 {
		t.Fatalf("args = %v", args)
	}

	clause, args = pageClause(listing.Params{}, nil)
	if clause != "" || len(args) != 0 {
		t.Fatalf("zero size must not page: %q %v", clause, args)
	}
}
