// Package i18n provides message translation with literal fallbacks.
//
// Translation never fails: an unknown key resolves to Params["_"] when
// present, otherwise to the key itself.
package i18n

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultKey is the Params entry holding the fallback text.
const DefaultKey = "_"

// Message keys used by the reference inputs.
const (
	KeyCreate        = "ra.action.create"
	KeyCreateItem    = "ra.action.create_item"
	KeySingleMissing = "ra.input.references.single_missing"
	KeyManyMissing   = "ra.input.references.many_missing"
	KeyAllMissing    = "ra.input.references.all_missing"
	KeyNoResults     = "ra.navigation.no_results"
	KeyLoading       = "ra.page.loading"
)

// Params carries interpolation values and the "_" fallback.
type Params map[string]any

// Translator translates message keys.
type Translator interface {
	Translate(key string, params Params) string
}

// TranslatorFunc adapts a plain function to the Translator interface.
type TranslatorFunc func(key string, params Params) string

// Translate calls f.
func (f TranslatorFunc) Translate(key string, params Params) string {
	return f(key, params)
}

// Identity returns keys untouched, or the "_" fallback when given. It is
// the translator used when none is configured.
var Identity Translator = TranslatorFunc(func(key string, params Params) string {
	if d, ok := params[DefaultKey].(string); ok && d != "" {
		return interpolate(d, params)
	}
	return key
})

//go:embed en.yaml
var englishYAML []byte

// Catalog is a flat key -> message table for one locale.
// It is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	locale   string
	messages map[string]string
}

// NewCatalog creates an empty catalog.
func NewCatalog(locale string) *Catalog {
	return &Catalog{locale: locale, messages: make(map[string]string)}
}

// English returns a catalog holding the built-in English messages.
func English() *Catalog {
	c := NewCatalog("en")
	if err := c.LoadYAML(englishYAML); err != nil {
		// The embedded file is part of the build.
		panic(fmt.Sprintf("i18n: embedded catalog: %v", err))
	}
	return c
}

// Locale returns the catalog's locale.
func (c *Catalog) Locale() string { return c.locale }

// LoadYAML merges nested YAML messages into the catalog. Nested mappings
// are flattened into dotted keys.
func (c *Catalog) LoadYAML(data []byte) error {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to parse messages: %w", err)
	}
	flat := make(map[string]string)
	flatten("", tree, flat)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range flat {
		c.messages[k] = v
	}
	return nil
}

// LoadFile merges a YAML message file into the catalog.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read messages: %w", err)
	}
	return c.LoadYAML(data)
}

// Set adds or replaces a single message.
func (c *Catalog) Set(key, message string) {
	c.mu.Lock()
	c.messages[key] = message
	c.mu.Unlock()
}

// Keys returns all message keys in sorted order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.messages))
	for k := range c.messages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Translate implements Translator.
func (c *Catalog) Translate(key string, params Params) string {
	c.mu.RLock()
	msg, ok := c.messages[key]
	c.mu.RUnlock()
	if !ok {
		return Identity.Translate(key, params)
	}
	return interpolate(msg, params)
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// interpolate replaces %{name} placeholders with params values.
func interpolate(msg string, params Params) string {
	if len(params) == 0 || !strings.Contains(msg, "%{") {
		return msg
	}
	var b strings.Builder
	b.Grow(len(msg))
	for {
		start := strings.Index(msg, "%{")
		if start < 0 {
			b.WriteString(msg)
			break
		}
		end := strings.IndexByte(msg[start:], '}')
		if end < 0 {
			b.WriteString(msg)
			break
		}
		name := msg[start+2 : start+end]
		b.WriteString(msg[:start])
		if v, ok := params[name]; ok && name != DefaultKey {
			b.WriteString(fmt.Sprint(v))
		} else {
			b.WriteString(msg[start : start+end+1])
		}
		msg = msg[start+end+1:]
	}
	return b.String()
}
