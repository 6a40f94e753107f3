package controller

import (
	"context"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/refstore"
	"github.com/runger/refkit/internal/status"
)

// ReferenceInput controls an input holding a single reference, such as a
// foreign key.
type ReferenceInput struct {
	*base

	value    any // guarded by base.mu
	onChange func(any) error
}

// NewReferenceInput creates a controller. Nothing is fetched until Mount.
func NewReferenceInput(props Props, opts Options) (*ReferenceInput, error) {
	b, err := newBase(props, opts)
	if err != nil {
		return nil, err
	}
	c := &ReferenceInput{base: b}
	c.onChange = c.Change
	return c, nil
}

// Mount starts the controller for record whose field holds value: the
// reference is fetched when value is set, the matching list always.
func (c *ReferenceInput) Mount(record choice.Choice, value any) {
	c.mu.Lock()
	c.record = record
	c.value = value
	c.mu.Unlock()

	c.fetchReference()
	c.fetchOptions()
}

// Update reacts to a new record or value. A different record refetches
// everything; a new value on the same record refetches the reference only.
func (c *ReferenceInput) Update(record choice.Choice, value any) {
	if c.isClosed() {
		return
	}
	recordChanged := c.recordChanged(record)

	c.mu.Lock()
	valueChanged := choice.Key(c.value) != choice.Key(value)
	c.value = value
	c.mu.Unlock()

	switch {
	case recordChanged:
		c.fetchReference()
		c.fetchOptions()
	case valueChanged:
		c.fetchReference()
	}
}

// Change sets the field value as the user picked it.
func (c *ReferenceInput) Change(value any) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	record := c.record
	c.mu.Unlock()
	c.Update(record, value)
	return nil
}

// SetProps installs new props, refetching what they affect.
func (c *ReferenceInput) SetProps(props Props) error {
	refetch, relocated, err := c.applyProps(props)
	if err != nil {
		return err
	}
	if relocated {
		c.fetchReference()
	}
	if refetch {
		c.fetchOptions()
	}
	return nil
}

// Value returns the current field value.
func (c *ReferenceInput) Value() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *ReferenceInput) fetchReference() {
	c.mu.Lock()
	if c.closed || choice.IsEmptyID(c.value) {
		c.mu.Unlock()
		return
	}
	reference, id := c.props.Reference, c.value
	c.mu.Unlock()

	c.logger.Debug("fetch reference", "reference", reference, "id", id)
	c.fetcher.FetchReference(reference, id)
}

// Reference returns the referenced record, or nil while it is unknown.
func (c *ReferenceInput) Reference() choice.Choice {
	c.mu.Lock()
	reference, id := c.props.Reference, c.value
	c.mu.Unlock()
	rec, lookup, _ := c.fetcher.RecordErr(reference, id)
	if lookup != refstore.LookupFound {
		return nil
	}
	return rec
}

// View derives what the input shows from the store.
func (c *ReferenceInput) View() View {
	c.mu.Lock()
	reference, key, id := c.props.Reference, c.key, c.value
	c.mu.Unlock()

	rec, lookup, err := c.fetcher.RecordErr(reference, id)
	st := status.ForInput(status.InputState{
		Value:      id,
		Reference:  status.Reference{ID: id, Record: rec, Lookup: lookup, Err: err},
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

// Create stores a new referenced record named text and selects it.
func (c *ReferenceInput) Create(ctx context.Context, text string) (choice.Choice, error) {
	rec, err := c.create(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.Change(c.accessor.Value(rec)); err != nil {
		return nil, err
	}
	return rec, nil
}

// Close detaches the controller. Pending filter fetches are dropped and
// store notifications no longer redraw.
func (c *ReferenceInput) Close() {
	c.close()
}
