// Package query holds the pagination, sort and filter state that drives a
// reference list fetch.
package query

import (
	"fmt"
	"maps"
	"strings"
)

// Order is a sort direction.
type Order string

const (
	ASC  Order = "ASC"
	DESC Order = "DESC"
)

// DefaultPerPage is used when no page size is configured.
const DefaultPerPage = 25

// Pagination is 1-based.
type Pagination struct {
	Page    int `json:"page" yaml:"page"`
	PerPage int `json:"perPage" yaml:"per_page"`
}

// Offset returns the zero-based index of the first row of the page.
func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// Sort is a field and a direction.
type Sort struct {
	Field string `json:"field" yaml:"field"`
	Order Order  `json:"order" yaml:"order"`
}

// DefaultSort orders by id, newest first.
var DefaultSort = Sort{Field: "id", Order: DESC}

// Filter is a free-form set of filter constraints. The "q" key is the
// full-text search convention.
type Filter map[string]any

// FilterToQuery turns free text typed by the user into filter constraints.
type FilterToQuery func(text string) Filter

// DefaultFilterToQuery maps text to {q: text}.
func DefaultFilterToQuery(text string) Filter {
	return Filter{"q": text}
}

// Params is the full query state of one reference list.
type Params struct {
	Pagination Pagination `json:"pagination"`
	Sort       Sort       `json:"sort"`
	Filter     Filter     `json:"filter"`
}

// New returns params for page 1 with the given defaults applied.
func New(perPage int, sort Sort, filter Filter) Params {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if sort.Field == "" {
		sort.Field = DefaultSort.Field
	}
	if sort.Order == "" {
		sort.Order = DefaultSort.Order
	}
	if filter == nil {
		filter = Filter{}
	}
	return Params{
		Pagination: Pagination{Page: 1, PerPage: perPage},
		Sort:       sort,
		Filter:     maps.Clone(filter),
	}
}

// Clone returns a deep enough copy for the filter map to be mutated safely.
func (p Params) Clone() Params {
	p.Filter = maps.Clone(p.Filter)
	if p.Filter == nil {
		p.Filter = Filter{}
	}
	return p
}

// Merge layers over on top of base. Keys in over win.
func Merge(base, over Filter) Filter {
	out := make(Filter, len(base)+len(over))
	maps.Copy(out, base)
	maps.Copy(out, over)
	return out
}

// ParseOrder accepts "asc"/"desc" in any case.
func ParseOrder(s string) (Order, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ASC":
		return ASC, nil
	case "DESC", "":
		return DESC, nil
	default:
		return "", fmt.Errorf("invalid sort order %q (want ASC or DESC)", s)
	}
}
