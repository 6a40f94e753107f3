// Package status derives the view state of reference inputs (choices,
// loading, error and warning) from what the store currently holds.
//
// The functions here are pure: they read their arguments only.
package status

import (
	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/refstore"
)

// Status is the derived view state of a reference input.
type Status struct {
	Choices []choice.Choice
	// Error is set when the input has nothing usable to show.
	Error string
	// Waiting is true until the matching list or a reference arrives.
	Waiting bool
	// Warning describes a degraded but usable state.
	Warning string
}

// Reference is the lookup outcome for one referenced id.
type Reference struct {
	ID     any
	Record choice.Choice
	Lookup refstore.Lookup
	Err    error
}

// InputState is everything a single-reference input knows.
type InputState struct {
	Value      any
	Reference  Reference
	Matching   refstore.MatchState
	ValueField string
	Translator i18n.Translator
}

// ArrayInputState is everything a reference-array input knows.
type ArrayInputState struct {
	References []Reference
	Matching   refstore.MatchState
	ValueField string
	Translator i18n.Translator
}

func translate(tr i18n.Translator, key string) string {
	if tr == nil {
		tr = i18n.Identity
	}
	return tr.Translate(key, i18n.Params{i18n.DefaultKey: key})
}

func errText(tr i18n.Translator, err error) string {
	if err == nil {
		return ""
	}
	return translate(tr, dataprovider.Message(err))
}

func field(f string) string {
	if f == "" {
		return choice.DefaultOptionValue
	}
	return f
}

// ForInput computes the status of a single-reference input.
//
// Choices are the matching list once loaded, otherwise the resolved
// reference alone. A selected value that does not exist and is not among
// the matching records yields a single_missing warning, and an all_missing
// error when no choice is left at all.
func ForInput(in InputState) Status {
	tr := in.Translator
	ref := in.Reference.Record
	if in.Reference.Lookup != refstore.LookupFound {
		ref = nil
	}

	var choices []choice.Choice
	switch {
	case in.Matching.Loaded:
		choices = in.Matching.Items
	case ref != nil:
		choices = []choice.Choice{ref}
	}
	if choices == nil {
		choices = []choice.Choice{}
	}

	hasValue := !choice.IsEmptyID(in.Value)
	missing := hasValue &&
		in.Reference.Lookup == refstore.LookupMissing &&
		!choice.Contains(in.Matching.Items, field(in.ValueField), in.Value)

	st := Status{
		Choices: choices,
		Waiting: !in.Matching.Settled() && ref == nil,
	}

	switch {
	case in.Matching.Err != nil && (!hasValue || ref == nil):
		st.Error = errText(tr, in.Matching.Err)
	case missing && len(choices) == 0:
		st.Error = translate(tr, i18n.KeyAllMissing)
	case hasValue && in.Reference.Lookup == refstore.LookupFailed && len(choices) == 0:
		st.Error = errText(tr, in.Reference.Err)
	}

	switch {
	case missing:
		st.Warning = translate(tr, i18n.KeySingleMissing)
	case in.Matching.Err != nil:
		st.Warning = errText(tr, in.Matching.Err)
	case hasValue && in.Reference.Lookup == refstore.LookupFailed:
		st.Warning = errText(tr, in.Reference.Err)
	}
	return st
}

// ForArrayInput computes the status of a reference-array input.
//
// Choices are the resolved references followed by the matching list,
// without duplicate values. Missing references produce a warning by
// cardinality (all_missing or many_missing); when every reference is
// missing and no choice remains, all_missing is also the error.
func ForArrayInput(in ArrayInputState) Status {
	tr := in.Translator
	vf := field(in.ValueField)

	var found []choice.Choice
	var missing, total int
	var lookupErr error
	for _, r := range in.References {
		if choice.IsEmptyID(r.ID) {
			continue
		}
		total++
		switch r.Lookup {
		case refstore.LookupFound:
			if r.Record != nil {
				found = append(found, r.Record)
			}
		case refstore.LookupMissing:
			missing++
		case refstore.LookupFailed:
			if lookupErr == nil {
				lookupErr = r.Err
			}
		}
	}

	choices := make([]choice.Choice, 0, len(found)+len(in.Matching.Items))
	choices = append(choices, found...)
	if in.Matching.Loaded {
		choices = append(choices, in.Matching.Items...)
	}
	choices = choice.UniqBy(choices, vf)

	st := Status{
		Choices: choices,
		Waiting: !in.Matching.Settled() && len(found) == 0,
	}

	allMissing := total > 0 && missing == total
	switch {
	case in.Matching.Err != nil && (total == 0 || len(found) == 0):
		st.Error = errText(tr, in.Matching.Err)
	case allMissing && len(choices) == 0:
		st.Error = translate(tr, i18n.KeyAllMissing)
	case lookupErr != nil && len(choices) == 0:
		st.Error = errText(tr, lookupErr)
	}

	switch {
	case allMissing:
		st.Warning = translate(tr, i18n.KeyAllMissing)
	case missing > 0:
		st.Warning = translate(tr, i18n.KeyManyMissing)
	case in.Matching.Err != nil:
		st.Warning = errText(tr, in.Matching.Err)
	case lookupErr != nil:
		st.Warning = errText(tr, lookupErr)
	}
	return st
}
