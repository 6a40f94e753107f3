package status

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/refstore"
)

var (
	leo    = choice.Choice{"id": 1, "name": "Leo"}
	victor = choice.Choice{"id": 2, "name": "Victor"}
	jane   = choice.Choice{"id": 3, "name": "Jane"}
)

func loaded(items ...choice.Choice) refstore.MatchState {
	if items == nil {
		items = []choice.Choice{}
	}
	return refstore.MatchState{Loaded: true, Items: items}
}

func TestForInput(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name string
		in   InputState
		want Status
	}{
		{
			name: "nothing loaded, no value",
			in:   InputState{},
			want: Status{Choices: []choice.Choice{}, Waiting: true},
		},
		{
			name: "reference resolved before matching",
			in: InputState{
				Value:     1,
				Reference: Reference{ID: 1, Record: leo, Lookup: refstore.LookupFound},
				Matching:  refstore.MatchState{Loading: true},
			},
			want: Status{Choices: []choice.Choice{leo}},
		},
		{
			name: "matching list wins once loaded",
			in: InputState{
				Value:     1,
				Reference: Reference{ID: 1, Record: leo, Lookup: refstore.LookupFound},
				Matching:  loaded(victor, jane),
			},
			want: Status{Choices: []choice.Choice{victor, jane}},
		},
		{
			name: "pending reference keeps waiting",
			in: InputState{
				Value:     1,
				Reference: Reference{ID: 1, Lookup: refstore.LookupPending},
			},
			want: Status{Choices: []choice.Choice{}, Waiting: true},
		},
		{
			name: "missing reference with other choices",
			in: InputState{
				Value:     9,
				Reference: Reference{ID: 9, Lookup: refstore.LookupMissing},
				Matching:  loaded(leo),
			},
			want: Status{Choices: []choice.Choice{leo}, Warning: i18n.KeySingleMissing},
		},
		{
			name: "missing reference and empty matching",
			in: InputState{
				Value:     9,
				Reference: Reference{ID: 9, Lookup: refstore.LookupMissing},
				Matching:  loaded(),
			},
			want: Status{Choices: []choice.Choice{}, Error: i18n.KeyAllMissing, Warning: i18n.KeySingleMissing},
		},
		{
			name: "missing lookup but present in matching is fine",
			in: InputState{
				Value:     float64(1),
				Reference: Reference{ID: 1, Lookup: refstore.LookupMissing},
				Matching:  loaded(leo),
			},
			want: Status{Choices: []choice.Choice{leo}},
		},
		{
			name: "matching error without value",
			in: InputState{
				Matching: refstore.MatchState{Err: boom},
			},
			want: Status{Choices: []choice.Choice{}, Error: "boom", Warning: "boom"},
		},
		{
			name: "matching error with resolved reference degrades",
			in: InputState{
				Value:     1,
				Reference: Reference{ID: 1, Record: leo, Lookup: refstore.LookupFound},
				Matching:  refstore.MatchState{Err: boom},
			},
			want: Status{Choices: []choice.Choice{leo}, Warning: "boom"},
		},
		{
			name: "reference lookup failed",
			in: InputState{
				Value:     1,
				Reference: Reference{ID: 1, Lookup: refstore.LookupFailed, Err: boom},
				Matching:  loaded(),
			},
			want: Status{Choices: []choice.Choice{}, Error: "boom", Warning: "boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForInput(tt.in))
		})
	}
}

func TestForInput_Translates(t *testing.T) {
	st := ForInput(InputState{
		Value:      9,
		Reference:  Reference{ID: 9, Lookup: refstore.LookupMissing},
		Matching:   loaded(),
		Translator: i18n.English(),
	})
	assert.Equal(t, "Unable to find references data.", st.Error)
	assert.Equal(t, "Associated reference no longer appears to be available.", st.Warning)
}

func TestForArrayInput(t *testing.T) {
	boom := errors.New("boom")
	ref := func(id any, rec choice.Choice, l refstore.Lookup) Reference {
		return Reference{ID: id, Record: rec, Lookup: l}
	}

	tests := []struct {
		name string
		in   ArrayInputState
		want Status
	}{
		{
			name: "empty value, loading",
			in:   ArrayInputState{Matching: refstore.MatchState{Loading: true}},
			want: Status{Choices: []choice.Choice{}, Waiting: true},
		},
		{
			name: "references then matching, deduplicated",
			in: ArrayInputState{
				References: []Reference{ref(1, leo, refstore.LookupFound), ref(2, victor, refstore.LookupFound)},
				Matching:   loaded(victor, jane),
			},
			want: Status{Choices: []choice.Choice{leo, victor, jane}},
		},
		{
			name: "resolved references stop waiting",
			in: ArrayInputState{
				References: []Reference{ref(1, leo, refstore.LookupFound)},
			},
			want: Status{Choices: []choice.Choice{leo}},
		},
		{
			name: "some missing",
			in: ArrayInputState{
				References: []Reference{ref(1, leo, refstore.LookupFound), ref(7, nil, refstore.LookupMissing)},
				Matching:   loaded(jane),
			},
			want: Status{Choices: []choice.Choice{leo, jane}, Warning: i18n.KeyManyMissing},
		},
		{
			name: "all missing with other choices",
			in: ArrayInputState{
				References: []Reference{ref(7, nil, refstore.LookupMissing), ref(8, nil, refstore.LookupMissing)},
				Matching:   loaded(jane),
			},
			want: Status{Choices: []choice.Choice{jane}, Warning: i18n.KeyAllMissing},
		},
		{
			name: "matching error with no resolved reference",
			in: ArrayInputState{
				References: []Reference{ref(1, nil, refstore.LookupPending)},
				Matching:   refstore.MatchState{Err: boom},
			},
			want: Status{Choices: []choice.Choice{}, Error: "boom", Warning: "boom"},
		},
		{
			name: "matching error with resolved references",
			in: ArrayInputState{
				References: []Reference{ref(1, leo, refstore.LookupFound)},
				Matching:   refstore.MatchState{Err: boom},
			},
			want: Status{Choices: []choice.Choice{leo}, Warning: "boom"},
		},
		{
			name: "empty ids are ignored",
			in: ArrayInputState{
				References: []Reference{ref(nil, nil, refstore.LookupUnknown)},
				Matching:   loaded(leo),
			},
			want: Status{Choices: []choice.Choice{leo}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForArrayInput(tt.in))
		})
	}
}

// A referenced id that neither GetMany nor the matching query returns.
func TestMissingReferenceWithEmptyResults(t *testing.T) {
	single := ForInput(InputState{
		Value:     5,
		Reference: Reference{ID: 5, Lookup: refstore.LookupMissing},
		Matching:  loaded(),
	})
	assert.False(t, single.Waiting)
	assert.Equal(t, i18n.KeyAllMissing, single.Error)
	assert.Empty(t, single.Choices)

	array := ForArrayInput(ArrayInputState{
		References: []Reference{{ID: 5, Lookup: refstore.LookupMissing}},
		Matching:   loaded(),
	})
	assert.False(t, array.Waiting)
	assert.Equal(t, i18n.KeyAllMissing, array.Error)
	assert.Empty(t, array.Choices)
}
