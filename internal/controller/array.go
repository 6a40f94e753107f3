package controller

import (
	"context"
	"fmt"
	"slices"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/refstore"
	"github.com/runger/refkit/internal/status"
)

// ReferenceArrayInput controls an input holding a list of references.
type ReferenceArrayInput struct {
	*base

	ids      []any // guarded by base.mu
	onChange func(any) error
}

// NewReferenceArrayInput creates a controller. Nothing is fetched until
// Mount.
func NewReferenceArrayInput(props Props, opts Options) (*ReferenceArrayInput, error) {
	b, err := newBase(props, opts)
	if err != nil {
		return nil, err
	}
	c := &ReferenceArrayInput{base: b}
	c.onChange = c.Change
	return c, nil
}

func toIDs(value any) ([]any, error) {
	ids, ok := choice.IDs(value)
	if !ok {
		return nil, fmt.Errorf("%w, got %T", ErrValueNotArray, value)
	}
	return slices.Clone(ids), nil
}

// Mount starts the controller. value must be a slice (or nil); anything
// else is a wiring mistake reported as ErrValueNotArray.
func (c *ReferenceArrayInput) Mount(record choice.Choice, value any) error {
	ids, err := toIDs(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.record = record
	c.ids = ids
	c.mu.Unlock()

	c.fetchReferences()
	c.fetchOptions()
	return nil
}

// Update reacts to a new record or value, like ReferenceInput.Update.
func (c *ReferenceArrayInput) Update(record choice.Choice, value any) error {
	ids, err := toIDs(value)
	if err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	recordChanged := c.recordChanged(record)

	c.mu.Lock()
	valueChanged := !sameIDs(c.ids, ids)
	c.ids = ids
	c.mu.Unlock()

	switch {
	case recordChanged:
		c.fetchReferences()
		c.fetchOptions()
	case valueChanged:
		c.fetchReferences()
	}
	return nil
}

func sameIDs(a, b []any) bool {
	return slices.EqualFunc(a, b, func(x, y any) bool { return choice.Key(x) == choice.Key(y) })
}

// Change sets the field value as the user picked it.
func (c *ReferenceArrayInput) Change(value any) error {
	c.mu.Lock()
	record := c.record
	c.mu.Unlock()
	return c.Update(record, value)
}

// SetProps installs new props, refetching what they affect.
func (c *ReferenceArrayInput) SetProps(props Props) error {
	refetch, relocated, err := c.applyProps(props)
	if err != nil {
		return err
	}
	if relocated {
		c.fetchReferences()
	}
	if refetch {
		c.fetchOptions()
	}
	return nil
}

// Value returns the current ids.
func (c *ReferenceArrayInput) Value() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.ids)
}

// fetchReferences asks for every set id in one request.
func (c *ReferenceArrayInput) fetchReferences() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	reference := c.props.Reference
	ids := make([]any, 0, len(c.ids))
	for _, id := range c.ids {
		if !choice.IsEmptyID(id) {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	if len(ids) == 0 {
		return
	}

	c.logger.Debug("fetch references", "reference", reference, "count", len(ids))
	c.fetcher.FetchReferences(reference, ids)
}

// References returns the resolved records in value order.
func (c *ReferenceArrayInput) References() []choice.Choice {
	c.mu.Lock()
	reference, ids := c.props.Reference, slices.Clone(c.ids)
	c.mu.Unlock()

	var out []choice.Choice
	for _, id := range ids {
		if rec, lookup, _ := c.fetcher.RecordErr(reference, id); lookup == refstore.LookupFound {
			out = append(out, rec)
		}
	}
	return out
}

// View derives what the input shows from the store.
func (c *ReferenceArrayInput) View() View {
	c.mu.Lock()
	reference, key, ids := c.props.Reference, c.key, slices.Clone(c.ids)
	c.mu.Unlock()

	refs := make([]status.Reference, 0, len(ids))
	for _, id := range ids {
		rec, lookup, err := c.fetcher.RecordErr(reference, id)
		refs = append(refs, status.Reference{ID: id, Record: rec, Lookup: lookup, Err: err})
	}
	st := status.ForArrayInput(status.ArrayInputState{
		References: refs,
		Matching:   c.fetcher.Matching(key),
		ValueField: c.accessor.ValueField(),
		Translator: c.translator,
	})

	v := View{
		Choices:   st.Choices,
		Error:     st.Error,
		IsLoading: st.Waiting,
		Warning:   st.Warning,
		OnChange:  c.onChange,
	}
	c.viewParams(&v)
	return v
}

// Create stores a new referenced record named text and appends it to the
// value.
func (c *ReferenceArrayInput) Create(ctx context.Context, text string) (choice.Choice, error) {
	rec, err := c.create(ctx, text)
	if err != nil {
		return nil, err
	}
	ids := append(c.Value(), c.accessor.Value(rec))
	if err := c.Change(ids); err != nil {
		return nil, err
	}
	return rec, nil
}

// Close detaches the controller.
func (c *ReferenceArrayInput) Close() {
	c.close()
}
