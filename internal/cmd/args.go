package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/runger/refkit/internal/query"
)

// parseFilter reads a shell-quoted list of field=value pairs:
//
//	q="jane doe" active=true author.id=3
//
// Integers and booleans keep their type; everything else is a string.
func parseFilter(expr string) (query.Filter, error) {
	words, err := shlex.Split(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", expr, err)
	}
	filter := query.Filter{}
	for _, w := range words {
		field, value, ok := strings.Cut(w, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter term %q (want field=value)", w)
		}
		filter[field] = parseScalar(value)
	}
	return filter, nil
}

func parseScalar(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}

// parseSort reads "field" or "field,ORDER".
func parseSort(s string) (query.Sort, error) {
	field, order, _ := strings.Cut(s, ",")
	field = strings.TrimSpace(field)
	if field == "" {
		return query.Sort{}, fmt.Errorf("invalid sort %q (want field[,ASC|DESC])", s)
	}
	o, err := query.ParseOrder(order)
	if err != nil {
		return query.Sort{}, err
	}
	return query.Sort{Field: field, Order: o}, nil
}

// parseIDs turns command arguments into ids. Commas split an argument so
// that "1,2 3" yields three ids.
func parseIDs(args []string) []any {
	var ids []any
	for _, a := range args {
		for _, s := range strings.Split(a, ",") {
			if s = strings.TrimSpace(s); s != "" {
				ids = append(ids, parseScalar(s))
			}
		}
	}
	return ids
}
