// Package refstore caches referenced records and matching lists fetched
// through a dataprovider, and notifies subscribers when they change.
//
// Fetch calls never block and never fail: they schedule provider calls on
// goroutines owned by the store. Results, including failures, are recorded
// and read back through Record and Matching.
//
// Single-id requests for the same resource that arrive within the batch
// window are accumulated into one GetMany call. Identical in-flight
// requests are shared. For matching lists, a newer request for the same
// key cancels the previous one and stale responses are dropped, so the
// last requested query wins.
//
// Records are resolved and cached by their primary key, the "id" field,
// whatever value field an input displays.
package refstore

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/metrics"
	"github.com/runger/refkit/internal/query"
)

// Defaults for Options.
const (
	DefaultBatchWindow = 10 * time.Millisecond
	DefaultCacheSize   = 1000
)

// Lookup is the resolution state of one referenced record.
type Lookup int

const (
	// LookupUnknown means the record was never requested (or was evicted).
	LookupUnknown Lookup = iota
	LookupPending
	LookupFound
	LookupMissing
	LookupFailed
)

func (l Lookup) String() string {
	switch l {
	case LookupPending:
		return "pending"
	case LookupFound:
		return "found"
	case LookupMissing:
		return "missing"
	case LookupFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settled reports whether the lookup has an outcome.
func (l Lookup) Settled() bool {
	return l == LookupFound || l == LookupMissing || l == LookupFailed
}

// MatchState is the current matching list for one reference source.
type MatchState struct {
	// Loaded is set once a successful response has been applied.
	Loaded bool
	// Loading is set while a request is in flight.
	Loading bool
	Items   []choice.Choice
	Total   int
	// Err holds the failure of the last applied response.
	Err    error
	Params query.Params
}

// Settled reports whether a response (success or failure) is available.
func (m MatchState) Settled() bool { return m.Loaded || m.Err != nil }

// EventKind tells subscribers what changed.
type EventKind int

const (
	EventRecords EventKind = iota + 1
	EventMatching
)

// Event describes a store update.
type Event struct {
	Kind     EventKind
	Resource string
	// Key is the matching key for EventMatching.
	Key string
}

// MatchKey builds the key under which matching lists are stored:
// "<resource>@<source>".
func MatchKey(resource, source string) string {
	return resource + "@" + source
}

// Options configures a Store.
type Options struct {
	// BatchWindow is how long single-id requests are accumulated.
	BatchWindow time.Duration
	// CacheSize bounds the number of cached record lookups.
	CacheSize int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

type recordKey struct {
	resource string
	id       string
}

type recordEntry struct {
	record choice.Choice
	state  Lookup
	err    error
}

type batch struct {
	ids   []any
	seen  map[string]bool
	timer *time.Timer
}

type matchEntry struct {
	seq    uint64
	cancel context.CancelFunc
	state  MatchState
}

// Store is safe for concurrent use.
type Store struct {
	provider dataprovider.Provider
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group
	wg     sync.WaitGroup

	mu       sync.Mutex
	records  *lru[recordKey, recordEntry]
	batches  map[string]*batch
	matching map[string]*matchEntry
	subs     map[uint64]func(Event)
	nextSub  uint64
	closed   bool
}

// New creates a store reading through p.
func New(p dataprovider.Provider, opts Options) *Store {
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = DefaultBatchWindow
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		provider: p,
		window:   opts.BatchWindow,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		records:  newLRU[recordKey, recordEntry](opts.CacheSize, nil),
		batches:  make(map[string]*batch),
		matching: make(map[string]*matchEntry),
		subs:     make(map[uint64]func(Event)),
	}
}

// Provider returns the underlying provider.
func (s *Store) Provider() dataprovider.Provider { return s.provider }

// Subscribe registers fn for update events and returns a function that
// removes it. fn is called without the store lock held.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// FetchReference requests one record. Empty ids are ignored, and so are
// records already found, known missing or in flight.
func (s *Store) FetchReference(resource string, id any) {
	if choice.IsEmptyID(id) {
		return
	}
	key := recordKey{resource, choice.Key(id)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if e, ok := s.records.get(key); ok && e.state != LookupFailed {
		s.mu.Unlock()
		if e.state == LookupPending {
			s.metrics.CoalescedRequest()
		} else {
			s.metrics.CacheHit()
		}
		return
	}
	s.metrics.CacheMiss()
	s.records.put(key, recordEntry{state: LookupPending})

	b := s.batches[resource]
	if b == nil {
		b = &batch{seen: make(map[string]bool)}
		s.batches[resource] = b
		b.timer = time.AfterFunc(s.window, func() { s.flush(resource) })
	}
	if !b.seen[key.id] {
		b.seen[key.id] = true
		b.ids = append(b.ids, id)
	}
	s.mu.Unlock()
}

// flush sends the accumulated ids of resource.
func (s *Store) flush(resource string) {
	s.mu.Lock()
	b := s.batches[resource]
	delete(s.batches, resource)
	if b == nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.ObserveBatch(len(b.ids))
	go func() {
		defer s.wg.Done()
		if len(b.ids) == 1 {
			s.resolveOne(resource, b.ids[0])
		} else {
			s.resolveMany(resource, b.ids)
		}
	}()
}

// FetchReferences requests several records with a single GetMany call.
// Ids already resolved or in flight are left out; nothing is sent when no
// id remains.
func (s *Store) FetchReferences(resource string, ids []any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var want []any
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if choice.IsEmptyID(id) {
			continue
		}
		key := recordKey{resource, choice.Key(id)}
		if seen[key.id] {
			continue
		}
		seen[key.id] = true
		if e, ok := s.records.get(key); ok && e.state != LookupFailed {
			if e.state == LookupPending {
				s.metrics.CoalescedRequest()
			} else {
				s.metrics.CacheHit()
			}
			continue
		}
		s.metrics.CacheMiss()
		s.records.put(key, recordEntry{state: LookupPending})
		want = append(want, id)
	}
	if len(want) == 0 {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.resolveMany(resource, want)
	}()
}

func (s *Store) resolveOne(resource string, id any) {
	sfKey := "one\x00" + resource + "\x00" + choice.Key(id)
	v, err, shared := s.group.Do(sfKey, func() (any, error) {
		return s.timed("get_one", func() (any, error) {
			return s.provider.GetOne(s.ctx, resource, id)
		})
	})
	if shared {
		s.metrics.CoalescedRequest()
	}
	key := recordKey{resource, choice.Key(id)}
	var entry recordEntry
	switch {
	case err == nil:
		entry = recordEntry{record: v.(choice.Choice), state: LookupFound}
	case errors.Is(err, dataprovider.ErrNotFound):
		entry = recordEntry{state: LookupMissing}
	default:
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Debug("reference fetch failed", "resource", resource, "id", id, "error", err)
		entry = recordEntry{state: LookupFailed, err: err}
	}
	s.mu.Lock()
	s.records.put(key, entry)
	s.mu.Unlock()
	s.notify(Event{Kind: EventRecords, Resource: resource})
}

func (s *Store) resolveMany(resource string, ids []any) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = choice.Key(id)
	}
	sorted := slices.Sorted(slices.Values(keys))
	sfKey := "many\x00" + resource + "\x00" + strings.Join(sorted, "\x00")
	v, err, shared := s.group.Do(sfKey, func() (any, error) {
		return s.timed("get_many", func() (any, error) {
			return s.provider.GetMany(s.ctx, resource, ids)
		})
	})
	if shared {
		s.metrics.CoalescedRequest()
	}
	if err != nil && s.ctx.Err() != nil {
		return
	}

	found := make(map[string]choice.Choice)
	if err == nil {
		for _, rec := range v.([]choice.Choice) {
			found[choice.Key(rec[choice.DefaultOptionValue])] = rec
		}
	} else {
		s.logger.Debug("reference batch failed", "resource", resource, "ids", len(ids), "error", err)
	}

	s.mu.Lock()
	for _, k := range keys {
		entry := recordEntry{state: LookupMissing}
		switch rec, ok := found[k]; {
		case err != nil:
			entry = recordEntry{state: LookupFailed, err: err}
		case ok:
			entry = recordEntry{record: rec, state: LookupFound}
		}
		s.records.put(recordKey{resource, k}, entry)
	}
	s.mu.Unlock()
	s.notify(Event{Kind: EventRecords, Resource: resource})
}

// FetchMatching requests the matching list stored under key (see
// MatchKey). A previous in-flight request for the same key is cancelled and
// its response, if any, discarded.
func (s *Store) FetchMatching(resource, key string, params query.Params) {
	params = params.Clone()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	e := s.matching[key]
	if e == nil {
		e = &matchEntry{}
		s.matching[key] = e
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.seq++
	seq := e.seq
	ctx, cancel := context.WithCancel(s.ctx)
	e.cancel = cancel
	e.state.Loading = true
	e.state.Params = params
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify(Event{Kind: EventMatching, Resource: resource, Key: key})

	go func() {
		defer s.wg.Done()
		defer cancel()
		v, err := s.timed("get_list", func() (any, error) {
			return s.provider.GetList(ctx, resource, params)
		})

		s.mu.Lock()
		if e.seq != seq || s.closed {
			s.mu.Unlock()
			s.logger.Debug("dropped stale matching response", "key", key, "seq", seq)
			return
		}
		e.cancel = nil
		if err != nil {
			e.state = MatchState{Err: err, Params: params}
		} else {
			list := v.(dataprovider.List)
			e.state = MatchState{Loaded: true, Items: list.Data, Total: list.Total, Params: params}
			for _, rec := range list.Data {
				if id := rec[choice.DefaultOptionValue]; !choice.IsEmptyID(id) {
					s.records.put(recordKey{resource, choice.Key(id)}, recordEntry{record: rec, state: LookupFound})
				}
			}
		}
		s.mu.Unlock()
		s.notify(Event{Kind: EventMatching, Resource: resource, Key: key})
	}()
}

// Record returns the cached record for (resource, id) and its lookup state.
func (s *Store) Record(resource string, id any) (choice.Choice, Lookup) {
	rec, state, _ := s.RecordErr(resource, id)
	return rec, state
}

// RecordErr is Record plus the failure of a LookupFailed entry.
func (s *Store) RecordErr(resource string, id any) (choice.Choice, Lookup, error) {
	if choice.IsEmptyID(id) {
		return nil, LookupUnknown, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records.get(recordKey{resource, choice.Key(id)})
	if !ok {
		return nil, LookupUnknown, nil
	}
	return e.record, e.state, e.err
}

// Matching returns the matching list stored under key.
func (s *Store) Matching(key string) MatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.matching[key]; ok {
		return e.state
	}
	return MatchState{}
}

// Put stores a record as found, e.g. after it was created.
func (s *Store) Put(resource string, rec choice.Choice) {
	id := rec[choice.DefaultOptionValue]
	if choice.IsEmptyID(id) {
		return
	}
	s.mu.Lock()
	s.records.put(recordKey{resource, choice.Key(id)}, recordEntry{record: rec, state: LookupFound})
	s.mu.Unlock()
	s.notify(Event{Kind: EventRecords, Resource: resource})
}

// Invalidate forgets cached lookups of resource. With no ids, every record
// of the resource is dropped.
func (s *Store) Invalidate(resource string, ids ...any) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		return s.records.removeFunc(func(k recordKey, _ recordEntry) bool { return k.resource == resource })
	}
	n := 0
	for _, id := range ids {
		if s.records.remove(recordKey{resource, choice.Key(id)}) {
			n++
		}
	}
	return n
}

// Reset forgets every cached lookup, e.g. after records were written to
// the provider behind the store's back.
func (s *Store) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.removeFunc(func(recordKey, recordEntry) bool { return true })
}

// Len returns the number of cached record lookups.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.len()
}

// Close cancels in-flight requests, drops pending batches and waits for
// fetch goroutines to finish. Subscribers are not called afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, b := range s.batches {
		b.timer.Stop()
	}
	s.batches = nil
	for _, e := range s.matching {
		if e.cancel != nil {
			e.cancel()
		}
	}
	s.subs = map[uint64]func(Event){}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Store) timed(op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	v, err := fn()
	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, dataprovider.ErrNotFound):
		outcome = metrics.OutcomeNotFound
	case errors.Is(err, context.Canceled):
		outcome = metrics.OutcomeStale
	case err != nil:
		outcome = metrics.OutcomeError
	}
	s.metrics.ObserveFetch(op, outcome, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return v, nil
}
