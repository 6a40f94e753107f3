// Package controller holds the query state of reference inputs and derives
// their view from the reference store.
//
// A controller never blocks: every fetch is handed to the Fetcher, which
// resolves it in the background and announces new data through Subscribe.
// The controller then asks its owner to redraw.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/debounce"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/query"
	"github.com/runger/refkit/internal/refstore"
)

// DefaultDebounce is the quiet period before a typed filter is fetched.
const DefaultDebounce = 500 * time.Millisecond

var (
	// ErrValueNotArray is returned when an array input is given a value
	// that is not a slice.
	ErrValueNotArray = errors.New("reference array input value should be an array")
	// ErrMissingReference is returned when Props.Reference is empty.
	ErrMissingReference = errors.New("reference input requires a reference resource")
	// ErrNoCreator is returned by Create when no creator is configured.
	ErrNoCreator = errors.New("reference input cannot create records")
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("reference input is closed")
)

// Fetcher is the reference store as seen by a controller. *refstore.Store
// implements it.
type Fetcher interface {
	FetchReference(resource string, id any)
	FetchReferences(resource string, ids []any)
	FetchMatching(resource, key string, params query.Params)
	RecordErr(resource string, id any) (choice.Choice, refstore.Lookup, error)
	Matching(key string) refstore.MatchState
	Subscribe(fn func(refstore.Event)) (unsubscribe func())
}

// recordPutter is implemented by fetchers that can cache a record created
// outside of a fetch.
type recordPutter interface {
	Put(resource string, rec choice.Choice)
}

// Props configure a reference input.
type Props struct {
	// Resource and Source locate the field being edited ("posts", "author_id").
	Resource string
	Source   string
	// Reference is the referenced resource ("users"). Required.
	Reference string

	PerPage       int
	Sort          query.Sort
	Filter        query.Filter
	FilterToQuery query.FilterToQuery
	AllowEmpty    bool
}

func (p Props) withDefaults() Props {
	if p.PerPage <= 0 {
		p.PerPage = query.DefaultPerPage
	}
	if p.Sort.Field == "" {
		p.Sort.Field = query.DefaultSort.Field
	}
	if p.Sort.Order == "" {
		p.Sort.Order = query.DefaultSort.Order
	}
	if p.Filter == nil {
		p.Filter = query.Filter{}
	}
	if p.FilterToQuery == nil {
		p.FilterToQuery = query.DefaultFilterToQuery
	}
	return p
}

// Options carry the collaborators of a controller.
type Options struct {
	Fetcher Fetcher
	// Creator enables Create. Optional.
	Creator    dataprovider.Creator
	Translator i18n.Translator
	// Accessor names the value and text fields of referenced records.
	Accessor choice.Accessor
	// Debounce overrides DefaultDebounce.
	Debounce time.Duration
	// Redraw is called, without locks held, whenever the view may have
	// changed because new data arrived.
	Redraw func()
	Logger *slog.Logger
}

// View is what a reference input shows. The function fields keep the same
// identity for the lifetime of the controller.
type View struct {
	Choices   []choice.Choice
	Error     string
	IsLoading bool
	Warning   string

	Filter     query.Filter
	Pagination query.Pagination
	Sort       query.Sort
	AllowEmpty bool

	OnChange      func(value any) error
	SetFilter     func(text string)
	SetPagination func(query.Pagination)
	SetSort       func(query.Sort)
}

// base is the state shared by both input kinds.
type base struct {
	fetcher    Fetcher
	creator    dataprovider.Creator
	translator i18n.Translator
	accessor   choice.Accessor
	redraw     func()
	logger     *slog.Logger
	debouncer  *debounce.Debouncer

	mu     sync.Mutex
	props  Props
	key    string
	params query.Params // never triggers a redraw by itself
	record choice.Choice
	closed bool

	unsubscribe func()

	setFilter     func(string)
	setPagination func(query.Pagination)
	setSort       func(query.Sort)
}

func newBase(props Props, opts Options) (*base, error) {
	if props.Reference == "" {
		return nil, ErrMissingReference
	}
	if opts.Fetcher == nil {
		return nil, errors.New("reference input requires a fetcher")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Accessor.OptionText == nil && opts.Accessor.OptionValue == "" {
		opts.Accessor = choice.NewAccessor(opts.Translator)
	}
	props = props.withDefaults()

	b := &base{
		fetcher:    opts.Fetcher,
		creator:    opts.Creator,
		translator: opts.Translator,
		accessor:   opts.Accessor,
		redraw:     opts.Redraw,
		logger:     opts.Logger,
		debouncer:  debounce.New(opts.Debounce),
		props:      props,
		key:        refstore.MatchKey(props.Resource, props.Source),
		params:     query.New(props.PerPage, props.Sort, props.Filter),
	}
	b.setFilter = b.SetFilter
	b.setPagination = b.SetPagination
	b.setSort = b.SetSort
	b.unsubscribe = b.fetcher.Subscribe(b.onEvent)
	return b, nil
}

func (b *base) onEvent(ev refstore.Event) {
	b.mu.Lock()
	relevant := !b.closed &&
		((ev.Kind == refstore.EventMatching && ev.Key == b.key) ||
			(ev.Kind == refstore.EventRecords && ev.Resource == b.props.Reference))
	redraw := b.redraw
	b.mu.Unlock()
	if relevant && redraw != nil {
		redraw()
	}
}

// fetchOptions requests the matching list for the current params. The
// props filter sits under the user filter.
func (b *base) fetchOptions() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	p := b.params.Clone()
	p.Filter = query.Merge(b.props.Filter, b.params.Filter)
	reference, key := b.props.Reference, b.key
	b.mu.Unlock()

	b.logger.Debug("fetch matching", "reference", reference, "key", key,
		"page", p.Pagination.Page, "per_page", p.Pagination.PerPage)
	b.fetcher.FetchMatching(reference, key, p)
}

// SetFilter schedules a matching fetch for text once typing pauses.
func (b *base) SetFilter(text string) {
	b.debouncer.Schedule(func() {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		b.params.Filter = b.props.FilterToQuery(text)
		b.mu.Unlock()
		b.fetchOptions()
	})
}

// SetPagination replaces the pagination and fetches immediately.
func (b *base) SetPagination(p query.Pagination) {
	b.mu.Lock()
	if p.PerPage <= 0 {
		p.PerPage = b.params.Pagination.PerPage
	}
	if p.Page < 1 {
		p.Page = 1
	}
	b.params.Pagination = p
	b.mu.Unlock()
	b.fetchOptions()
}

// SetSort replaces the sort and fetches immediately.
func (b *base) SetSort(s query.Sort) {
	b.mu.Lock()
	if s.Order == "" {
		s.Order = query.DefaultSort.Order
	}
	b.params.Sort = s
	b.mu.Unlock()
	b.fetchOptions()
}

// Params returns a copy of the current query params.
func (b *base) Params() query.Params {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params.Clone()
}

// Props returns the current props.
func (b *base) Props() Props {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.props
}

// applyProps installs new props. It reports whether the matching list
// must be fetched again and whether the referenced resource or field moved.
func (b *base) applyProps(props Props) (refetch, relocated bool, err error) {
	if props.Reference == "" {
		return false, false, ErrMissingReference
	}
	props = props.withDefaults()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, false, ErrClosed
	}
	old := b.props
	b.props = props

	relocated = old.Reference != props.Reference ||
		old.Resource != props.Resource ||
		old.Source != props.Source
	if relocated {
		b.key = refstore.MatchKey(props.Resource, props.Source)
	}
	changed := !reflect.DeepEqual(old.Filter, props.Filter) ||
		old.Sort != props.Sort ||
		old.PerPage != props.PerPage
	if changed {
		b.params.Filter = query.Merge(nil, props.Filter)
		b.params.Sort = props.Sort
		b.params.Pagination.PerPage = props.PerPage
	}
	return changed || relocated, relocated, nil
}

// recordChanged stores rec and reports whether its primary key differs from
// the previous record.
func (b *base) recordChanged(rec choice.Choice) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	changed := choice.Key(choice.Get(b.record, "id")) != choice.Key(choice.Get(rec, "id"))
	b.record = rec
	return changed
}

func (b *base) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// viewParams fills the query part of a view.
func (b *base) viewParams(v *View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.params.Clone()
	v.Filter = p.Filter
	v.Pagination = p.Pagination
	v.Sort = p.Sort
	v.AllowEmpty = b.props.AllowEmpty
	v.SetFilter = b.setFilter
	v.SetPagination = b.setPagination
	v.SetSort = b.setSort
}

// create stores a new referenced record whose text field is text.
func (b *base) create(ctx context.Context, text string) (choice.Choice, error) {
	if b.creator == nil {
		return nil, ErrNoCreator
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	reference := b.props.Reference
	b.mu.Unlock()

	data := b.accessor.Synthetic(nil, text)
	delete(data, b.accessor.ValueField())
	rec, err := b.creator.Create(ctx, reference, data)
	if err != nil {
		return nil, err
	}
	if p, ok := b.fetcher.(recordPutter); ok {
		p.Put(reference, rec)
	}
	b.logger.Info("created reference", "reference", reference, "id", b.accessor.Value(rec))
	return rec, nil
}

// close stops the debouncer and detaches from the store. Notifications
// that race with close are ignored.
func (b *base) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	unsubscribe := b.unsubscribe
	b.mu.Unlock()

	b.debouncer.Close()
	if unsubscribe != nil {
		unsubscribe()
	}
}
