// Package suggest computes the suggestion list of an autocomplete input:
// choices filtered by the typed text, aware of the current selection, with
// optional synthetic "empty" and "create" entries.
package suggest

import (
	"regexp"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/i18n"
)

// Synthetic entry defaults.
const (
	DefaultCreateValue = "@@create"
	DefaultCreateText  = i18n.KeyCreate
)

// Selection is the current value of the input: nothing, one choice or a
// list of choices.
type Selection struct {
	single   choice.Choice
	multiple []choice.Choice
	isArray  bool
}

// None is the empty selection.
func None() Selection { return Selection{} }

// Single selects one choice. A nil choice is no selection.
func Single(c choice.Choice) Selection { return Selection{single: c} }

// Multiple selects a list of choices.
func Multiple(cs ...choice.Choice) Selection {
	return Selection{multiple: cs, isArray: true}
}

// IsArray reports whether the selection is a list.
func (s Selection) IsArray() bool { return s.isArray }

// Item returns the single selected choice, or nil.
func (s Selection) Item() choice.Choice {
	if s.isArray {
		return nil
	}
	return s.single
}

// Items returns every selected choice.
func (s Selection) Items() []choice.Choice {
	if s.isArray {
		return s.multiple
	}
	if s.single != nil {
		return []choice.Choice{s.single}
	}
	return nil
}

// WithSelected returns choices with the single selected choice prepended
// when its value is not listed. Matching lists are filtered by the data
// provider, so the current value is often absent from them. List
// selections are returned unchanged; their references are already merged
// into the choices.
func WithSelected(choices []choice.Choice, sel Selection, acc choice.Accessor) []choice.Choice {
	item := sel.Item()
	if item == nil {
		return choices
	}
	key := choice.Key(acc.Value(item))
	for _, c := range choices {
		if choice.Key(acc.Value(c)) == key {
			return choices
		}
	}
	out := make([]choice.Choice, 0, len(choices)+1)
	out = append(out, item)
	return append(out, choices...)
}

// MatchFunc reports whether choice c matches the typed filter. exact asks
// for a whole-text match.
type MatchFunc func(filter string, c choice.Choice, exact bool) bool

// Options configures an Engine.
type Options struct {
	Choices  []choice.Choice
	Accessor choice.Accessor
	Selected Selection

	AllowEmpty bool
	EmptyText  string
	EmptyValue any

	AllowCreate bool
	// CreateText is stored untranslated in the create entry. Defaults to
	// DefaultCreateText.
	CreateText string
	// CreateValue defaults to DefaultCreateValue.
	CreateValue any

	// LimitChoicesToValue shows only the selected choice while the filter
	// still matches it.
	LimitChoicesToValue bool
	// AllowDuplicates keeps already selected values of a list selection.
	AllowDuplicates bool
	// SuggestionLimit truncates the filtered pool; 0 means unlimited.
	SuggestionLimit int

	// Match overrides MatchSuggestion.
	Match MatchFunc
}

// Engine computes suggestions. It does not modify its options.
type Engine struct {
	opts Options
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.CreateText == "" {
		opts.CreateText = DefaultCreateText
	}
	if opts.CreateValue == nil {
		opts.CreateValue = DefaultCreateValue
	}
	return &Engine{opts: opts}
}

// IsCreate reports whether c is the synthetic create entry.
func (e *Engine) IsCreate(c choice.Choice) bool {
	return c != nil && choice.Key(e.opts.Accessor.Value(c)) == choice.Key(e.opts.CreateValue)
}

// Suggestions returns the suggestion list for filter.
func (e *Engine) Suggestions(filter string) []choice.Choice {
	o := e.opts
	match := o.Match
	if match == nil {
		m := newMatcher(o.Accessor, filter)
		match = func(_ string, c choice.Choice, exact bool) bool { return m.match(c, exact) }
	}
	valueField := o.Accessor.ValueField()
	selected := o.Selected.Item()

	var pool []choice.Choice
	if selected != nil && match(filter, selected, false) {
		if o.LimitChoicesToValue {
			pool = []choice.Choice{selected}
		} else {
			pool = append(pool, o.Choices...)
		}
	} else {
		exclude := map[string]bool{}
		if o.Selected.IsArray() && !o.AllowDuplicates {
			for _, c := range o.Selected.Items() {
				exclude[choice.Key(o.Accessor.Value(c))] = true
			}
		}
		selectedKey := ""
		if selected != nil {
			selectedKey = choice.Key(o.Accessor.Value(selected))
		}
		for _, c := range o.Choices {
			k := choice.Key(o.Accessor.Value(c))
			if exclude[k] {
				continue
			}
			if match(filter, c, false) || (selected != nil && k == selectedKey) {
				pool = append(pool, c)
			}
		}
	}

	if o.SuggestionLimit > 0 && len(pool) > o.SuggestionLimit {
		pool = pool[:o.SuggestionLimit]
	}

	if o.AllowCreate && !e.exactMatch(pool, filter, match) && !e.selectedTextIs(filter, match) {
		pool = append(pool, o.Accessor.Synthetic(o.CreateValue, o.CreateText))
	}
	if o.AllowEmpty {
		empty := o.Accessor.Synthetic(o.EmptyValue, o.EmptyText)
		pool = append([]choice.Choice{empty}, pool...)
	}
	if pool == nil {
		return []choice.Choice{}
	}
	return choice.UniqBy(pool, valueField)
}

func (e *Engine) exactMatch(pool []choice.Choice, filter string, match MatchFunc) bool {
	for _, c := range pool {
		if match(filter, c, true) {
			return true
		}
	}
	return false
}

// selectedTextIs reports whether filter is exactly the text of a selected
// choice.
func (e *Engine) selectedTextIs(filter string, match MatchFunc) bool {
	if filter == "" {
		return false
	}
	for _, c := range e.opts.Selected.Items() {
		if match(filter, c, true) {
			return true
		}
	}
	return false
}

// MatchSuggestion is the default matcher: a case-insensitive substring (or,
// when exact, whole-text) match of filter against the choice text. The
// filter is taken literally. Element texts never match.
func MatchSuggestion(acc choice.Accessor, filter string, c choice.Choice, exact bool) bool {
	return newMatcher(acc, filter).match(c, exact)
}

type matcher struct {
	acc      choice.Accessor
	contains *regexp.Regexp
	whole    *regexp.Regexp
}

func newMatcher(acc choice.Accessor, filter string) matcher {
	esc := regexp.QuoteMeta(filter)
	return matcher{
		acc:      acc,
		contains: regexp.MustCompile("(?i)" + esc),
		whole:    regexp.MustCompile("(?i)^" + esc + "$"),
	}
}

func (m matcher) match(c choice.Choice, exact bool) bool {
	text := m.acc.Text(c)
	if text.IsElement() {
		return false
	}
	if exact {
		return m.whole.MatchString(text.Value)
	}
	return m.contains.MatchString(text.Value)
}
