package listing

import (
	"net/url"
	"strings"
	"testing"
)

func TestParseParamsDefaults(t *testing.T) {
	p, err := ParseParams(url.Values{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Page != 1 || p.Size != DefaultPageSize {
		t.Fatalf("got %+v", p)
	}
}

func TestParseParamsClampsSize(t *testing.T) {
	p, err := ParseParams(url.Values{"size": {"500"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size != MaxPageSize {
		t.Fatalf("got size %d want %d", p.Size, MaxPageSize)
	}
}

func TestParseParamsRejectsBadPage(t *testing.T) {
	for _, raw := range []string{"0", "-1", "abc"} {
		if _, err := ParseParams(url.Values{"page": {raw}}); err == nil {
			t.Fatalf("page=%s: expected error", raw)
		}
	}
}

func TestNewPage(t *testing.T) {
	page := NewPage(make([]int, 10), 25, Params{Page: 2, Size: 10})
	if page.Pages != 3 {
		t.Fatalf("got pages %d want 3", page.Pages)
	}
	if page.Total != 25 || page.Page != 2 || page.Size != 10 {
		t.Fatalf("got %+v", page)
	}
}

func TestNewPageEmpty(t *testing.T) {
	page := NewPage[int](nil, 0, Params{Page: 1, Size: 50})
	if page.Items == nil {
		t.Fatalf("items must serialize as [], not null")
	}
	if page.Pages != 0 {
		t.Fatalf("got pages %d want 0", page.Pages)
	}
}

func TestLinkHeader(t *testing.T) {
	base, _ := url.Parse("http://api.local/api/v1/runs?status=failed")

	first := LinkHeader(base, NewPage(make([]int, 10), 25, Params{Page: 1, Size: 10}))
	if strings.Contains(first, `rel="prev"`) {
		t.Fatalf("first page must not carry prev: %s", first)
	}
	if !strings.Contains(first, `rel="next"`) {
		t.Fatalf("first page must carry next: %s", first)
	}
	if !strings.Contains(first, "status=failed") {
		t.Fatalf("existing query params must survive: %s", first)
	}

	last := LinkHeader(base, NewPage(make([]int, 5), 25, Params{Page: 3, Size: 10}))
	if strings.Contains(last, `rel="next"`) {
		t.Fatalf("last page must not carry next: %s", last)
	}
	if !strings.Contains(last, `rel="prev"`) {
		t.Fatalf("last page must carry prev: %s", last)
	}
}

func TestParseMetaFiltersGroupsByField(t *testing.T) {
	filters, err := ParseMetaFilters([]string{"department:finance", "category:invoice", "department:hr"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filters) != 2 {
		t.Fatalf("got %d filters want 2", len(filters))
	}
	if filters[0].Field != "category" || len(filters[0].Values) != 1 {
		t.Fatalf("got %+v", filters[0])
	}
	if filters[1].Field != "department" || len(filters[1].Values) != 2 {
		t.Fatalf("got %+v", filters[1])
	}
}

func TestParseMetaFiltersRejectsMalformed(t *testing.T) {
	if _, err := ParseMetaFilters([]string{"no-colon"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ParseMetaFilters([]string{":value"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseMetaFiltersKeepsColonInValue(t *testing.T) {
	filters, err := ParseMetaFilters([]string{"url:http://x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filters[0].Values[0] != "http://x" {
		t.Fatalf("got %q", filters[0].Values[0])
	}
}

func TestParseOrder(t *testing.T) {
	allowed := map[string]string{"created_at": "created_at", "status": "status"}

	ord, err := ParseOrder(url.Values{"order_by": {"status"}, "sort_direction": {"desc"}}, allowed, "created_at")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ord.Column != "status" || !ord.Desc {
		t.Fatalf("got %+v", ord)
	}

	ord, err = ParseOrder(url.Values{"order_by": {"meta.department"}}, allowed, "created_at")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ord.Meta != "department" || ord.Column != "" {
		t.Fatalf("got %+v", ord)
	}
	if !ord.Desc {
		t.Fatalf("direction must default to desc")
	}

	ord, err = ParseOrder(url.Values{"sort_direction": {"asc"}}, allowed, "created_at")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ord.Desc {
		t.Fatalf("explicit asc must win over the desc default")
	}

	if _, err := ParseOrder(url.Values{"order_by": {"key_hash"}}, allowed, "created_at"); err == nil {
		t.Fatalf("non-whitelisted column must be rejected")
	}
	if _, err := ParseOrder(url.Values{"sort_direction": {"up"}}, allowed, "created_at"); err == nil {
		t.Fatalf("bad direction must be rejected")
	}
}
