package choice

import (
	"fmt"
	"strings"

	"github.com/runger/refkit/internal/i18n"
)

// Default field names.
const (
	DefaultOptionText   = "name"
	DefaultOptionValue  = "id"
	DefaultDisableValue = "disabled"
)

// Renderable is a display element that renders itself from a record.
// WithRecord returns a copy bound to the given record.
type Renderable interface {
	WithRecord(record Choice) Renderable
	Render() string
}

// TextResolver says how the display text of a choice is obtained. It is one
// of Path, Func or Element.
type TextResolver interface {
	textResolver()
}

// Path reads the text from a (dotted) field of the choice.
type Path string

// Func computes the text from the choice.
type Func func(Choice) string

// Element delegates display to a renderable bound to the choice.
type Element struct {
	Renderable Renderable
}

func (Path) textResolver()    {}
func (Func) textResolver()    {}
func (Element) textResolver() {}

// Text is a resolved display text. When Element is set the text is not a
// plain string and Value is empty.
type Text struct {
	Value   string
	Element Renderable
}

// IsElement reports whether the text is a renderable element.
func (t Text) IsElement() bool { return t.Element != nil }

// String returns the plain text, rendering elements.
func (t Text) String() string {
	if t.Element != nil {
		return t.Element.Render()
	}
	return t.Value
}

// Accessor resolves value, text and disabled state of choices.
type Accessor struct {
	OptionText   TextResolver
	OptionValue  string
	DisableValue string

	// TranslateChoice passes path texts through Translator. NewAccessor
	// enables it.
	TranslateChoice bool
	Translator      i18n.Translator
}

// NewAccessor returns an accessor with default field names and translation
// enabled.
func NewAccessor(tr i18n.Translator) Accessor {
	return Accessor{
		OptionText:      Path(DefaultOptionText),
		OptionValue:     DefaultOptionValue,
		DisableValue:    DefaultDisableValue,
		TranslateChoice: true,
		Translator:      tr,
	}
}

func (a Accessor) valueField() string {
	if a.OptionValue == "" {
		return DefaultOptionValue
	}
	return a.OptionValue
}

// ValueField returns the field holding the choice value.
func (a Accessor) ValueField() string { return a.valueField() }

// TextField returns the field holding the text for path resolvers, or ""
// for function and element resolvers.
func (a Accessor) TextField() string {
	switch r := a.OptionText.(type) {
	case nil:
		return DefaultOptionText
	case Path:
		return string(r)
	default:
		return ""
	}
}

// Value returns the value of c.
func (a Accessor) Value(c Choice) any {
	return Get(c, a.valueField())
}

// Disabled reports whether c is flagged as not selectable.
func (a Accessor) Disabled(c Choice) bool {
	field := a.DisableValue
	if field == "" {
		field = DefaultDisableValue
	}
	v, _ := Get(c, field).(bool)
	return v
}

// Text returns the display text of c.
func (a Accessor) Text(c Choice) Text {
	switch r := a.OptionText.(type) {
	case Element:
		if r.Renderable == nil {
			return Text{}
		}
		return Text{Element: r.Renderable.WithRecord(c)}
	case Func:
		return Text{Value: r(c)}
	case Path:
		return Text{Value: a.translate(stringify(Get(c, string(r))))}
	default:
		return Text{Value: a.translate(stringify(Get(c, DefaultOptionText)))}
	}
}

func (a Accessor) translate(s string) string {
	if !a.TranslateChoice || a.Translator == nil || s == "" {
		return s
	}
	return a.Translator.Translate(s, i18n.Params{i18n.DefaultKey: s})
}

// Synthetic builds a choice carrying only a value and a raw text, laid out
// according to the accessor's fields. Function and element resolvers have
// no text field, so the text goes under DefaultOptionText.
func (a Accessor) Synthetic(value any, text string) Choice {
	c := Choice{}
	setPath(c, a.valueField(), value)
	f := a.TextField()
	if f == "" {
		f = DefaultOptionText
	}
	setPath(c, f, text)
	return c
}

func setPath(c Choice, path string, v any) {
	cur := map[string]any(c)
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return Key(s)
	default:
		return fmt.Sprint(v)
	}
}
