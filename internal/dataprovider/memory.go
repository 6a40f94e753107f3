package dataprovider

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/query"
)

// Memory is an in-process provider backed by maps. It is safe for
// concurrent use and is used by tests and the seed command.
type Memory struct {
	mu        sync.RWMutex
	resources map[string][]choice.Choice
}

// NewMemory creates an empty provider.
func NewMemory() *Memory {
	return &Memory{resources: make(map[string][]choice.Choice)}
}

// Add stores records under resource, replacing records with the same id.
func (m *Memory) Add(resource string, records ...choice.Choice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.putLocked(resource, maps.Clone(r))
	}
}

func (m *Memory) putLocked(resource string, r choice.Choice) {
	key := choice.Key(r["id"])
	list := m.resources[resource]
	for i, existing := range list {
		if choice.Key(existing["id"]) == key {
			list[i] = r
			return
		}
	}
	m.resources[resource] = append(list, r)
}

// GetOne implements Provider.
func (m *Memory) GetOne(ctx context.Context, resource string, id any) (choice.Choice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := choice.Key(id)
	for _, r := range m.resources[resource] {
		if choice.Key(r["id"]) == key {
			return maps.Clone(r), nil
		}
	}
	return nil, fmt.Errorf("%s %v: %w", resource, id, ErrNotFound)
}

// GetMany implements Provider. Results follow the order of ids.
func (m *Memory) GetMany(ctx context.Context, resource string, ids []any) ([]choice.Choice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	byKey := make(map[string]choice.Choice, len(m.resources[resource]))
	for _, r := range m.resources[resource] {
		byKey[choice.Key(r["id"])] = r
	}
	out := make([]choice.Choice, 0, len(ids))
	for _, id := range ids {
		if r, ok := byKey[choice.Key(id)]; ok {
			out = append(out, maps.Clone(r))
		}
	}
	return out, nil
}

// GetList implements Provider.
func (m *Memory) GetList(ctx context.Context, resource string, params query.Params) (List, error) {
	if err := ctx.Err(); err != nil {
		return List{}, err
	}
	m.mu.RLock()
	var matched []choice.Choice
	for _, r := range m.resources[resource] {
		if MatchFilter(r, params.Filter) {
			matched = append(matched, maps.Clone(r))
		}
	}
	m.mu.RUnlock()

	if params.Sort.Field != "" {
		slices.SortStableFunc(matched, func(a, b choice.Choice) int {
			c := compareValues(choice.Get(a, params.Sort.Field), choice.Get(b, params.Sort.Field))
			if params.Sort.Order == query.DESC {
				return -c
			}
			return c
		})
	}

	total := len(matched)
	if pp := params.Pagination.PerPage; pp > 0 {
		start := min(params.Pagination.Offset(), total)
		end := min(start+pp, total)
		matched = matched[start:end]
	}
	return List{Data: matched, Total: total}, nil
}

// Create implements Creator. Records without an id get a UUID.
func (m *Memory) Create(ctx context.Context, resource string, data choice.Choice) (choice.Choice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := maps.Clone(data)
	if r == nil {
		r = choice.Choice{}
	}
	if choice.IsEmptyID(r["id"]) {
		r["id"] = uuid.NewString()
	}
	m.mu.Lock()
	m.putLocked(resource, r)
	m.mu.Unlock()
	return maps.Clone(r), nil
}

// MatchFilter reports whether record satisfies every filter constraint.
// "q" is a case-insensitive substring search over string fields, a slice
// value means membership, anything else means equality.
func MatchFilter(record choice.Choice, filter query.Filter) bool {
	for field, want := range filter {
		if field == "q" {
			text, _ := want.(string)
			if text != "" && !containsText(record, strings.ToLower(text)) {
				return false
			}
			continue
		}
		got := choice.Get(record, field)
		if ids, ok := want.([]any); ok {
			if !slices.ContainsFunc(ids, func(id any) bool { return choice.Key(id) == choice.Key(got) }) {
				return false
			}
			continue
		}
		if choice.Key(got) != choice.Key(want) {
			return false
		}
	}
	return true
}

func containsText(record map[string]any, needle string) bool {
	for _, v := range record {
		switch val := v.(type) {
		case string:
			if strings.Contains(strings.ToLower(val), needle) {
				return true
			}
		case map[string]any:
			if containsText(val, needle) {
				return true
			}
		}
	}
	return false
}

func compareValues(a, b any) int {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return cmp.Compare(fa, fb)
	}
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
