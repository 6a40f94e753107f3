package refstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/metrics"
	"github.com/runger/refkit/internal/query"
)

// countingProvider wraps a Memory provider and records calls.
type countingProvider struct {
	*dataprovider.Memory

	mu        sync.Mutex
	getOne    []any
	getMany   [][]any
	getList   []query.Params
	listGate  func(ctx context.Context, p query.Params) error
	failMany  error
	getOneErr error
}

func newCounting() *countingProvider {
	m := dataprovider.NewMemory()
	m.Add("authors",
		choice.Choice{"id": 1, "name": "Leo"},
		choice.Choice{"id": 2, "name": "Victor"},
		choice.Choice{"id": 3, "name": "Jane"},
	)
	return &countingProvider{Memory: m}
}

func (p *countingProvider) GetOne(ctx context.Context, resource string, id any) (choice.Choice, error) {
	p.mu.Lock()
	p.getOne = append(p.getOne, id)
	err := p.getOneErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.Memory.GetOne(ctx, resource, id)
}

func (p *countingProvider) GetMany(ctx context.Context, resource string, ids []any) ([]choice.Choice, error) {
	p.mu.Lock()
	p.getMany = append(p.getMany, append([]any(nil), ids...))
	err := p.failMany
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.Memory.GetMany(ctx, resource, ids)
}

func (p *countingProvider) GetList(ctx context.Context, resource string, params query.Params) (dataprovider.List, error) {
	p.mu.Lock()
	p.getList = append(p.getList, params)
	gate := p.listGate
	p.mu.Unlock()
	if gate != nil {
		if err := gate(ctx, params); err != nil {
			return dataprovider.List{}, err
		}
	}
	return p.Memory.GetList(ctx, resource, params)
}

func (p *countingProvider) calls() (one int, many int, list int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.getOne), len(p.getMany), len(p.getList)
}

func newStore(t *testing.T, p dataprovider.Provider) *Store {
	t.Helper()
	s := New(p, Options{BatchWindow: 5 * time.Millisecond, Metrics: metrics.New()})
	t.Cleanup(s.Close)
	return s
}

func settled(s *Store, resource string, ids ...any) func() bool {
	return func() bool {
		for _, id := range ids {
			if _, l := s.Record(resource, id); !l.Settled() {
				return false
			}
		}
		return true
	}
}

func TestFetchReference_AccumulatesIntoGetMany(t *testing.T) {
	p := newCounting()
	s := newStore(t, p)

	s.FetchReference("authors", 1)
	s.FetchReference("authors", 2)
	s.FetchReference("authors", float64(1)) // same id, different type
	s.FetchReference("authors", 42)

	require.Eventually(t, settled(s, "authors", 1, 2, 42), time.Second, 2*time.Millisecond)

	one, many, _ := p.calls()
	assert.Zero(t, one)
	require.Equal(t, 1, many)
	assert.Equal(t, []any{1, 2, 42}, p.getMany[0])

	rec, l := s.Record("authors", 2)
	assert.Equal(t, LookupFound, l)
	assert.Equal(t, "Victor", rec["name"])

	_, l = s.Record("authors", 42)
	assert.Equal(t, LookupMissing, l)
}

func TestFetchReference_SingleIDUsesGetOne(t *testing.T) {
	p := newCounting()
	s := newStore(t, p)

	s.FetchReference("authors", 3)
	_, l := s.Record("authors", 3)
	assert.Equal(t, LookupPending, l)

	require.Eventually(t, settled(s, "authors", 3), time.Second, 2*time.Millisecond)
	one, many, _ := p.calls()
	assert.Equal(t, 1, one)
	assert.Zero(t, many)

	// Cached: no second call.
	s.FetchReference("authors", 3)
	time.Sleep(20 * time.Millisecond)
	one, _, _ = p.calls()
	assert.Equal(t, 1, one)
}

func TestFetchReference_EmptyIDIsNoop(t *testing.T) {
	p := newCounting()
	s := newStore(t, p)

	s.FetchReference("authors", nil)
	s.FetchReference("authors", "")
	time.Sleep(20 * time.Millisecond)

	one, many, _ := p.calls()
	assert.Zero(t, one)
	assert.Zero(t, many)
	assert.Zero(t, s.Len())
}

func TestFetchReference_FailureIsRecordedAndRetried(t *testing.T) {
	p := newCounting()
	p.getOneErr = errors.New("connection refused")
	s := newStore(t, p)

	s.FetchReference("authors", 1)
	require.Eventually(t, settled(s, "authors", 1), time.Second, 2*time.Millisecond)
	_, l, err := s.RecordErr("authors", 1)
	assert.Equal(t, LookupFailed, l)
	assert.EqualError(t, err, "connection refused")

	p.mu.Lock()
	p.getOneErr = nil
	p.mu.Unlock()

	s.FetchReference("authors", 1)
	require.Eventually(t, func() bool {
		_, l := s.Record("authors", 1)
		return l == LookupFound
	}, time.Second, 2*time.Millisecond)
}

func TestFetchReferences_OneGetManyForTheArray(t *testing.T) {
	p := newCounting()
	s := newStore(t, p)

	s.FetchReferences("authors", []any{1, 2, 3, 2, nil})
	require.Eventually(t, settled(s, "authors", 1, 2, 3), time.Second, 2*time.Millisecond)

	one, many, _ := p.calls()
	assert.Zero(t, one)
	require.Equal(t, 1, many)
	assert.Equal(t, []any{1, 2, 3}, p.getMany[0])

	// Everything cached: nothing is sent.
	s.FetchReferences("authors", []any{1, 3})
	time.Sleep(20 * time.Millisecond)
	_, many, _ = p.calls()
	assert.Equal(t, 1, many)
}

func TestFetchReferences_FailureMarksAll(t *testing.T) {
	p := newCounting()
	p.failMany = &dataprovider.HTTPError{Status: 500, Message: "db down"}
	s := newStore(t, p)

	s.FetchReferences("authors", []any{1, 2})
	require.Eventually(t, settled(s, "authors", 1, 2), time.Second, 2*time.Millisecond)
	for _, id := range []any{1, 2} {
		_, l, err := s.RecordErr("authors", id)
		assert.Equal(t, LookupFailed, l)
		assert.Equal(t, "db down", dataprovider.Message(err))
	}
}

func TestFetchMatching_StoresListAndRecords(t *testing.T) {
	p := newCounting()
	s := newStore(t, p)
	key := MatchKey("authors", "author_id")
	assert.Equal(t, "authors@author_id", key)

	assert.False(t, s.Matching(key).Settled())
	s.FetchMatching("authors", key, query.New(25, query.DefaultSort, nil))

	require.Eventually(t, func() bool { return s.Matching(key).Loaded }, time.Second, 2*time.Millisecond)
	m := s.Matching(key)
	assert.False(t, m.Loading)
	assert.Equal(t, 3, m.Total)
	require.Len(t, m.Items, 3)
	assert.EqualValues(t, 3, m.Items[0]["id"])

	// Matching results populate the record cache.
	_, l := s.Record("authors", 1)
	assert.Equal(t, LookupFound, l)
}

func TestFetchMatching_LastRequestedWins(t *testing.T) {
	p := newCounting()
	release := make(chan struct{})
	p.listGate = func(ctx context.Context, params query.Params) error {
		if params.Filter["q"] != "le" {
			return nil
		}
		// The first, slow query waits for release but ignores cancellation
		// to simulate a provider that answers late anyway.
		<-release
		return nil
	}
	s := newStore(t, p)
	key := MatchKey("authors", "author_id")

	s.FetchMatching("authors", key, query.New(25, query.DefaultSort, query.Filter{"q": "le"}))
	s.FetchMatching("authors", key, query.New(25, query.DefaultSort, query.Filter{"q": "jane"}))

	require.Eventually(t, func() bool { return s.Matching(key).Loaded }, time.Second, 2*time.Millisecond)
	close(release)
	time.Sleep(30 * time.Millisecond)

	m := s.Matching(key)
	require.Len(t, m.Items, 1)
	assert.Equal(t, "Jane", m.Items[0]["name"])
	assert.Equal(t, "jane", m.Params.Filter["q"])
}

func TestFetchMatching_CancelsPrevious(t *testing.T) {
	p := newCounting()
	cancelled := make(chan struct{})
	p.listGate = func(ctx context.Context, params query.Params) error {
		if params.Pagination.Page != 1 {
			return nil
		}
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}
	s := newStore(t, p)
	key := MatchKey("authors", "author_id")

	s.FetchMatching("authors", key, query.New(25, query.DefaultSort, nil))
	next := query.New(25, query.DefaultSort, nil)
	next.Pagination.Page = 2
	s.FetchMatching("authors", key, next)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("first request was not cancelled")
	}
	require.Eventually(t, func() bool { return s.Matching(key).Loaded }, time.Second, 2*time.Millisecond)
	assert.Nil(t, s.Matching(key).Err)
}

func TestFetchMatching_Error(t *testing.T) {
	p := newCounting()
	p.listGate = func(context.Context, query.Params) error { return errors.New("boom") }
	s := newStore(t, p)
	key := MatchKey("authors", "x")

	s.FetchMatching("authors", key, query.New(0, query.Sort{}, nil))
	require.Eventually(t, func() bool { return s.Matching(key).Settled() }, time.Second, 2*time.Millisecond)
	m := s.Matching(key)
	assert.False(t, m.Loaded)
	assert.EqualError(t, m.Err, "boom")
}

func TestSubscribe(t *testing.T) {
	p := newCounting()
	s := newStore(t, p)

	var events atomic.Int32
	unsubscribe := s.Subscribe(func(ev Event) {
		if ev.Kind == EventRecords {
			events.Add(1)
		}
	})

	s.Put("authors", choice.Choice{"id": 9, "name": "New"})
	assert.Equal(t, int32(1), events.Load())
	rec, l := s.Record("authors", 9)
	assert.Equal(t, LookupFound, l)
	assert.Equal(t, "New", rec["name"])

	unsubscribe()
	unsubscribe()
	s.Put("authors", choice.Choice{"id": 10})
	assert.Equal(t, int32(1), events.Load())
}

func TestInvalidate(t *testing.T) {
	s := newStore(t, newCounting())
	s.Put("authors", choice.Choice{"id": 1})
	s.Put("authors", choice.Choice{"id": 2})
	s.Put("books", choice.Choice{"id": 1})

	assert.Equal(t, 1, s.Invalidate("authors", 1, 99))
	_, l := s.Record("authors", 1)
	assert.Equal(t, LookupUnknown, l)

	assert.Equal(t, 1, s.Invalidate("authors"))
	assert.Equal(t, 1, s.Len())
}

func TestReset_RefetchesMissing(t *testing.T) {
	p := newCounting()
	s := newStore(t, p)

	s.FetchReference("authors", 5)
	require.Eventually(t, settled(s, "authors", 5), time.Second, time.Millisecond)
	_, l := s.Record("authors", 5)
	require.Equal(t, LookupMissing, l)

	p.Add("authors", choice.Choice{"id": 5, "name": "Ursula"})
	s.FetchReference("authors", 5)
	_, l = s.Record("authors", 5)
	assert.Equal(t, LookupMissing, l, "known missing ids are not refetched")

	assert.Equal(t, 1, s.Reset())
	s.FetchReference("authors", 5)
	require.Eventually(t, settled(s, "authors", 5), time.Second, time.Millisecond)
	rec, l := s.Record("authors", 5)
	assert.Equal(t, LookupFound, l)
	assert.Equal(t, "Ursula", rec["name"])
}

func TestPut_ResolvesMissing(t *testing.T) {
	s := newStore(t, newCounting())
	s.FetchReference("authors", 6)
	require.Eventually(t, settled(s, "authors", 6), time.Second, time.Millisecond)

	s.Put("authors", choice.Choice{"id": float64(6), "name": "Toni"})
	rec, l := s.Record("authors", 6)
	assert.Equal(t, LookupFound, l)
	assert.Equal(t, "Toni", rec["name"])
}

func TestCacheEviction(t *testing.T) {
	s := New(newCounting(), Options{CacheSize: 2})
	defer s.Close()
	s.Put("authors", choice.Choice{"id": 1})
	s.Put("authors", choice.Choice{"id": 2})
	s.Record("authors", 1) // touch
	s.Put("authors", choice.Choice{"id": 3})

	_, l := s.Record("authors", 2)
	assert.Equal(t, LookupUnknown, l)
	_, l = s.Record("authors", 1)
	assert.Equal(t, LookupFound, l)
}

func TestClose_SuppressesNotifications(t *testing.T) {
	p := newCounting()
	s := New(p, Options{BatchWindow: 50 * time.Millisecond})

	var events atomic.Int32
	s.Subscribe(func(Event) { events.Add(1) })
	s.FetchReference("authors", 1)
	s.Close()
	s.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, events.Load())
	one, many, _ := p.calls()
	assert.Zero(t, one+many)

	// Calls after Close are ignored.
	s.FetchMatching("authors", "k", query.New(0, query.Sort{}, nil))
	_, _, list := p.calls()
	assert.Zero(t, list)
}

func TestLookupString(t *testing.T) {
	assert.Equal(t, "missing", LookupMissing.String())
	assert.Equal(t, "unknown", Lookup(99).String())
	assert.False(t, LookupPending.Settled())
}
