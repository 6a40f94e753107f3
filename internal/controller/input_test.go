package controller

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/query"
	"github.com/runger/refkit/internal/refstore"
)

var (
	leo    = choice.Choice{"id": 1, "name": "Leo"}
	victor = choice.Choice{"id": 2, "name": "Victor"}
)

func newInput(t *testing.T, f Fetcher, mod func(*Props, *Options)) *ReferenceInput {
	t.Helper()
	props := authorProps()
	opts := Options{Fetcher: f}
	if mod != nil {
		mod(&props, &opts)
	}
	c, err := NewReferenceInput(props, opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestReferenceInput_MountWithoutValue(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)

	c.Mount(choice.Choice{"id": 10}, nil)

	assert.Empty(t, f.refCalls())
	calls := f.matchCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "authors", calls[0].resource)
	assert.Equal(t, "posts@author_id", calls[0].key)
	assert.Equal(t, query.Params{
		Pagination: query.Pagination{Page: 1, PerPage: 25},
		Sort:       query.Sort{Field: "id", Order: query.DESC},
		Filter:     query.Filter{},
	}, calls[0].params)
}

func TestReferenceInput_MountWithValue(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)

	c.Mount(choice.Choice{"id": 10}, 1)

	assert.Equal(t, []any{1}, f.refCalls())
	assert.Len(t, f.matchCalls(), 1)
	assert.Equal(t, 1, c.Value())
}

func TestReferenceInput_MountEmptyString(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)

	c.Mount(nil, "")
	assert.Empty(t, f.refCalls())
}

func TestReferenceInput_Update(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)
	post := choice.Choice{"id": 10, "author_id": 1}
	c.Mount(post, 1)

	// Same record, same value.
	c.Update(post, 1)
	assert.Len(t, f.refCalls(), 1)
	assert.Len(t, f.matchCalls(), 1)

	// Same record, new value: the reference only.
	c.Update(post, 2)
	assert.Equal(t, []any{1, 2}, f.refCalls())
	assert.Len(t, f.matchCalls(), 1)

	// Another record: both.
	c.Update(choice.Choice{"id": 11}, 2)
	assert.Equal(t, []any{1, 2, 2}, f.refCalls())
	assert.Len(t, f.matchCalls(), 2)

	// Value cleared: nothing to fetch.
	c.Update(choice.Choice{"id": 11}, nil)
	assert.Len(t, f.refCalls(), 3)
}

func TestReferenceInput_SetFilterIsDebounced(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)
	c.Mount(nil, nil)
	require.Len(t, f.matchCalls(), 1)

	c.SetFilter("a")
	time.Sleep(50 * time.Millisecond)
	c.SetFilter("ab")
	assert.Len(t, f.matchCalls(), 1, "nothing before the quiet period")

	assert.Eventually(t, func() bool { return len(f.matchCalls()) == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	calls := f.matchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, query.Filter{"q": "ab"}, calls[1].params.Filter)
	assert.Equal(t, query.Filter{"q": "ab"}, c.Params().Filter)
}

func TestReferenceInput_FilterMergesOverProps(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, func(p *Props, o *Options) {
		p.Filter = query.Filter{"active": true, "q": "base"}
		p.FilterToQuery = func(text string) query.Filter { return query.Filter{"name_like": text} }
		o.Debounce = 5 * time.Millisecond
	})
	c.Mount(nil, nil)

	c.SetFilter("le")
	assert.Eventually(t, func() bool { return len(f.matchCalls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t,
		query.Filter{"active": true, "q": "base", "name_like": "le"},
		f.matchCalls()[1].params.Filter)
}

func TestReferenceInput_PaginationAndSortAreImmediate(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)
	c.Mount(nil, nil)

	c.SetPagination(query.Pagination{Page: 3, PerPage: 10})
	calls := f.matchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, query.Pagination{Page: 3, PerPage: 10}, calls[1].params.Pagination)

	c.SetSort(query.Sort{Field: "name"})
	calls = f.matchCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, query.Sort{Field: "name", Order: query.DESC}, calls[2].params.Sort)
	assert.Equal(t, query.Pagination{Page: 3, PerPage: 10}, calls[2].params.Pagination)

	c.SetPagination(query.Pagination{})
	assert.Equal(t, query.Pagination{Page: 1, PerPage: 10}, c.Params().Pagination)
}

func TestReferenceInput_SetProps(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)
	c.Mount(nil, 1)

	require.NoError(t, c.SetProps(authorProps()))
	assert.Len(t, f.matchCalls(), 1, "equal props do not refetch")

	p := authorProps()
	p.Filter = query.Filter{"active": true}
	require.NoError(t, c.SetProps(p))
	calls := f.matchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, query.Filter{"active": true}, calls[1].params.Filter)
	assert.Len(t, f.refCalls(), 1)

	p.PerPage = 50
	require.NoError(t, c.SetProps(p))
	calls = f.matchCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, 50, calls[2].params.Pagination.PerPage)

	p.Source = "editor_id"
	require.NoError(t, c.SetProps(p))
	calls = f.matchCalls()
	require.Len(t, calls, 4)
	assert.Equal(t, "posts@editor_id", calls[3].key)
	assert.Len(t, f.refCalls(), 2)
}

func TestReferenceInput_View(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)
	c.Mount(nil, 1)

	v := c.View()
	assert.True(t, v.IsLoading)
	assert.Empty(t, v.Choices)

	f.setRecord("authors", 1, stored{rec: leo, lookup: refstore.LookupFound})
	v = c.View()
	assert.False(t, v.IsLoading)
	assert.Equal(t, []choice.Choice{leo}, v.Choices)
	assert.Equal(t, leo, c.Reference())

	f.setMatching("posts@author_id", refstore.MatchState{Loaded: true, Items: []choice.Choice{victor, leo}, Total: 2})
	v = c.View()
	assert.Equal(t, []choice.Choice{victor, leo}, v.Choices)
	assert.Empty(t, v.Error)
	assert.Empty(t, v.Warning)
	assert.Equal(t, query.Pagination{Page: 1, PerPage: 25}, v.Pagination)
	assert.Equal(t, query.DefaultSort, v.Sort)
}

func TestReferenceInput_ViewFunctionsAreStable(t *testing.T) {
	c := newInput(t, newFakeFetcher(), nil)
	a, b := c.View(), c.View()

	ptr := func(fn any) uintptr { return reflect.ValueOf(fn).Pointer() }
	assert.Equal(t, ptr(a.OnChange), ptr(b.OnChange))
	assert.Equal(t, ptr(a.SetFilter), ptr(b.SetFilter))
	assert.Equal(t, ptr(a.SetPagination), ptr(b.SetPagination))
	assert.Equal(t, ptr(a.SetSort), ptr(b.SetSort))
}

func TestReferenceInput_OnChange(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)
	c.Mount(choice.Choice{"id": 10}, nil)

	require.NoError(t, c.View().OnChange(2))
	assert.Equal(t, 2, c.Value())
	assert.Equal(t, []any{2}, f.refCalls())
}

func TestReferenceInput_MissingReference(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, func(_ *Props, o *Options) { o.Translator = i18n.English() })
	c.Mount(nil, 5)

	f.setRecord("authors", 5, stored{lookup: refstore.LookupMissing})
	f.setMatching("posts@author_id", refstore.MatchState{Loaded: true, Items: []choice.Choice{}})

	v := c.View()
	assert.False(t, v.IsLoading)
	assert.Equal(t, "Unable to find references data.", v.Error)
	assert.Empty(t, v.Choices)
}

func TestReferenceInput_FetchErrorSurfacesInView(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, nil)
	c.Mount(nil, nil)

	f.setMatching("posts@author_id", refstore.MatchState{Err: &dataprovider.HTTPError{Status: 500, Message: "database down"}})
	v := c.View()
	assert.False(t, v.IsLoading)
	assert.Equal(t, "database down", v.Error)
}

func TestReferenceInput_Redraw(t *testing.T) {
	f := newFakeFetcher()
	var redraws atomic.Int32
	c := newInput(t, f, func(_ *Props, o *Options) { o.Redraw = func() { redraws.Add(1) } })
	c.Mount(nil, 1)

	f.emit(refstore.Event{Kind: refstore.EventMatching, Resource: "authors", Key: "posts@author_id"})
	f.emit(refstore.Event{Kind: refstore.EventRecords, Resource: "authors"})
	assert.EqualValues(t, 2, redraws.Load())

	f.emit(refstore.Event{Kind: refstore.EventMatching, Resource: "authors", Key: "comments@author_id"})
	f.emit(refstore.Event{Kind: refstore.EventRecords, Resource: "tags"})
	assert.EqualValues(t, 2, redraws.Load())

	c.Close()
	f.emit(refstore.Event{Kind: refstore.EventRecords, Resource: "authors"})
	assert.EqualValues(t, 2, redraws.Load())
}

func TestReferenceInput_CloseDropsPendingFilter(t *testing.T) {
	f := newFakeFetcher()
	c := newInput(t, f, func(_ *Props, o *Options) { o.Debounce = 20 * time.Millisecond })
	c.Mount(nil, nil)

	c.SetFilter("abc")
	c.Close()
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, f.matchCalls(), 1)

	c.SetPagination(query.Pagination{Page: 2})
	assert.Len(t, f.matchCalls(), 1)
	assert.ErrorIs(t, c.Change(3), ErrClosed)
}

func TestReferenceInput_Create(t *testing.T) {
	f := newFakeFetcher()
	mem := dataprovider.NewMemory()
	c := newInput(t, f, func(_ *Props, o *Options) { o.Creator = mem })
	c.Mount(choice.Choice{"id": 10}, nil)

	rec, err := c.Create(context.Background(), "Ursula")
	require.NoError(t, err)
	assert.Equal(t, "Ursula", rec["name"])
	require.NotNil(t, rec["id"])

	assert.Equal(t, rec["id"], c.Value())
	assert.Equal(t, rec, c.Reference())
	assert.Len(t, f.put, 1)

	got, err := mem.GetOne(context.Background(), "authors", rec["id"])
	require.NoError(t, err)
	assert.Equal(t, "Ursula", got["name"])
}

type failingCreator struct{ err error }

func (c failingCreator) Create(context.Context, string, choice.Choice) (choice.Choice, error) {
	return nil, c.err
}

func TestReferenceInput_CreateErrors(t *testing.T) {
	c := newInput(t, newFakeFetcher(), nil)
	_, err := c.Create(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoCreator)

	boom := errors.New("boom")
	c = newInput(t, newFakeFetcher(), func(_ *Props, o *Options) { o.Creator = failingCreator{err: boom} })
	c.Mount(nil, nil)
	_, err = c.Create(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, c.Value())
}

func TestReferenceInput_WithStore(t *testing.T) {
	mem := dataprovider.NewMemory()
	mem.Add("authors", leo, victor)
	store := refstore.New(mem, refstore.Options{BatchWindow: time.Millisecond})
	t.Cleanup(store.Close)

	redrawn := make(chan struct{}, 16)
	c := newInput(t, store, func(_ *Props, o *Options) {
		o.Redraw = func() {
			select {
			case redrawn <- struct{}{}:
			default:
			}
		}
	})
	c.Mount(choice.Choice{"id": 10}, 1)

	assert.Eventually(t, func() bool {
		v := c.View()
		return !v.IsLoading && len(v.Choices) == 2
	}, 2*time.Second, 5*time.Millisecond)

	v := c.View()
	assert.Equal(t, []choice.Choice{victor, leo}, v.Choices)
	assert.Equal(t, leo, c.Reference())
	assert.NotEmpty(t, redrawn)
}
