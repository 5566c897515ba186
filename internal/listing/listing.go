// Package listing implements the shared list-endpoint conventions: page
// based pagination, repeatable metadata filters, and ordering whitelists.
package listing

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Params is a validated pagination request. Page is 1-indexed.
type Params struct {
	Page int
	Size int
}

func (p Params) Offset() int {
	return (p.Page - 1) * p.Size
}

// ParseParams reads page/size from query parameters, applying defaults and
// clamping size to the maximum.
func ParseParams(q url.Values) (Params, error) {
	p := Params{Page: 1, Size: DefaultPageSize}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Params{}, fmt.Errorf("page must be a positive integer")
		}
		p.Page = n
	}
	if raw := q.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Params{}, fmt.Errorf("size must be a positive integer")
		}
		if n > MaxPageSize {
			n = MaxPageSize
		}
		p.Size = n
	}
	return p, nil
}

// Page is one page of results plus the bookkeeping fields every list
// endpoint returns.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Pages int   `json:"pages"`
}

func NewPage[T any](items []T, total int64, p Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := int((total + int64(p.Size) - 1) / int64(p.Size))
	return Page[T]{Items: items, Total: total, Page: p.Page, Size: p.Size, Pages: pages}
}

// LinkHeader renders the RFC 8288 Link header for a page. first and last are
// always present; prev is omitted on the first page and next on the last.
func LinkHeader[T any](base *url.URL, page Page[T]) string {
	last := page.Pages
	if last < 1 {
		last = 1
	}
	rels := []struct {
		rel  string
		page int
		ok   bool
	}{
		{"first", 1, true},
		{"last", last, true},
		{"prev", page.Page - 1, page.Page > 1},
		{"next", page.Page + 1, page.Page < last},
	}
	var parts []string
	for _, r := range rels {
		if !r.ok {
			continue
		}
		u := *base
		q := u.Query()
		q.Set("page", strconv.Itoa(r.page))
		q.Set("size", strconv.Itoa(page.Size))
		u.RawQuery = q.Encode()
		parts = append(parts, fmt.Sprintf("<%s>; rel=%q", u.String(), r.rel))
	}
	return strings.Join(parts, ", ")
}

// MetaFilter matches a metadata field against one or more accepted values.
// Values for the same field are OR-ed; separate filters are AND-ed.
type MetaFilter struct {
	Field  string
	Values []string
}

// ParseMetaFilters reads repeated meta_filter=field:value parameters and
// groups them by field. Returns an error on a malformed entry.
func ParseMetaFilters(raw []string) ([]MetaFilter, error) {
	grouped := map[string][]string{}
	for _, entry := range raw {
		field, value, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, fmt.Errorf("meta_filter must be field:value, got %q", entry)
		}
		field = strings.TrimSpace(field)
		grouped[field] = append(grouped[field], value)
	}
	fields := make([]string, 0, len(grouped))
	for f := range grouped {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	filters := make([]MetaFilter, 0, len(fields))
	for _, f := range fields {
		filters = append(filters, MetaFilter{Field: f, Values: grouped[f]})
	}
	return filters, nil
}

// Order is a validated ordering clause. Meta is set when ordering by a
// metadata key instead of a column.
type Order struct {
	Column string
	Meta   string
	Desc   bool
}

// ParseOrder validates order_by against a column whitelist, additionally
// accepting meta.<key> for metadata ordering. fallback is used when order_by
// is absent; the direction defaults to descending.
func ParseOrder(q url.Values, allowed map[string]string, fallback string) (Order, error) {
	ord := Order{Column: fallback}
	if raw := q.Get("order_by"); raw != "" {
		if key, ok := strings.CutPrefix(raw, "meta."); ok {
			if strings.TrimSpace(key) == "" {
				return Order{}, fmt.Errorf("order_by meta key is empty")
			}
			ord.Column = ""
			ord.Meta = key
		} else {
			col, ok := allowed[raw]
			if !ok {
				return Order{}, fmt.Errorf("order_by %q is not sortable", raw)
			}
			ord.Column = col
		}
	}
	switch dir := q.Get("sort_direction"); dir {
	case "", "desc":
		ord.Desc = true
	case "asc":
	default:
		return Order{}, fmt.Errorf("sort_direction must be asc or desc")
	}
	return ord, nil
}
