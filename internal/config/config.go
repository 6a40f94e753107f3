package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runger/refkit/internal/query"
)

// Config represents the refkit configuration.
type Config struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Store     StoreConfig     `yaml:"store"`
	Reference ReferenceConfig `yaml:"reference"`
	Picker    PickerConfig    `yaml:"picker"`
	I18n      I18nConfig      `yaml:"i18n"`
}

// DaemonConfig holds daemon-related settings.
type DaemonConfig struct {
	SocketPath      string   `yaml:"socket_path"`       // Unix socket path (overrides default)
	HTTPAddr        string   `yaml:"http_addr"`         // REST, WebSocket and metrics listener ("" = disabled)
	LogLevel        string   `yaml:"log_level"`         // debug, info, warn, error
	LogFile         string   `yaml:"log_file"`          // Log file path (overrides default)
	SessionIdleMins int      `yaml:"session_idle_mins"` // Close idle live sessions (0 = never)
	OriginPatterns  []string `yaml:"origin_patterns"`   // Allowed WebSocket origins
}

// StoreConfig holds record store settings.
type StoreConfig struct {
	Driver        string `yaml:"driver"`          // sqlite or postgres
	DSN           string `yaml:"dsn"`             // Database path or URL ("" = default database file)
	CacheSize     int    `yaml:"cache_size"`      // Cached record lookups
	BatchWindowMs int    `yaml:"batch_window_ms"` // Accumulation window for single-id fetches
}

// ReferenceConfig holds defaults for reference inputs.
type ReferenceConfig struct {
	PerPage         int    `yaml:"per_page"`         // Choices per page
	SortField       string `yaml:"sort_field"`       // Default sort field
	SortOrder       string `yaml:"sort_order"`       // ASC or DESC
	DebounceMs      int    `yaml:"debounce_ms"`      // Filter debounce
	SuggestionLimit int    `yaml:"suggestion_limit"` // Max suggestions (0 = no limit)
	OptionText      string `yaml:"option_text"`      // Record field shown as choice text
	OptionValue     string `yaml:"option_value"`     // Record field used as choice value
}

// PickerConfig holds terminal picker settings.
type PickerConfig struct {
	AllowCreate bool   `yaml:"allow_create"` // Offer to create a record from the query
	AllowEmpty  bool   `yaml:"allow_empty"`  // Offer an empty choice
	Prompt      string `yaml:"prompt"`       // Query placeholder
}

// I18nConfig holds message catalog settings.
type I18nConfig struct {
	Locale      string `yaml:"locale"`       // Catalog locale
	CatalogFile string `yaml:"catalog_file"` // Extra YAML catalog merged over English
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			HTTPAddr:        "127.0.0.1:7420",
			LogLevel:        "info",
			SessionIdleMins: 30,
		},
		Store: StoreConfig{
			Driver:        "sqlite",
			CacheSize:     1024,
			BatchWindowMs: 10,
		},
		Reference: ReferenceConfig{
			PerPage:     25,
			SortField:   "id",
			SortOrder:   string(query.DESC),
			DebounceMs:  500,
			OptionText:  "name",
			OptionValue: "id",
		},
		Picker: PickerConfig{
			Prompt: "Search",
		},
		I18n: I18nConfig{
			Locale: "en",
		},
	}
}

// Load reads the configuration from $REFKIT_CONFIG or the default config
// file.
func Load() (*Config, error) {
	if path := os.Getenv("REFKIT_CONFIG"); path != "" {
		return LoadFromFile(path)
	}
	return LoadFromFile(DefaultPaths().ConfigFile())
}

// LoadFromFile reads the configuration from path. A missing file yields
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveToFile(DefaultPaths().ConfigFile())
}

// SaveToFile writes the configuration to path.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Get returns the value of a "section.key" setting.
func (c *Config) Get(key string) (string, error) {
	f, err := c.field(key)
	if err != nil {
		return "", err
	}
	return f.get(), nil
}

// Set parses value into a "section.key" setting.
func (c *Config) Set(key, value string) error {
	f, err := c.field(key)
	if err != nil {
		return err
	}
	if err := f.set(value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

// ListKeys returns every settable key.
func ListKeys() []string {
	c := DefaultConfig()
	keys := make([]string, 0, 24)
	for section, fields := range c.fields() {
		for name := range fields {
			keys = append(keys, section+"."+name)
		}
	}
	slices.Sort(keys)
	return keys
}

// accessor reads and writes one setting as text.
type accessor struct {
	get func() string
	set func(string) error
}

func (c *Config) field(key string) (accessor, error) {
	section, name, ok := strings.Cut(key, ".")
	if !ok || strings.Contains(name, ".") {
		return accessor{}, errors.New("key must be in format 'section.key'")
	}
	fields, ok := c.fields()[section]
	if !ok {
		return accessor{}, fmt.Errorf("unknown section: %s", section)
	}
	f, ok := fields[name]
	if !ok {
		return accessor{}, fmt.Errorf("unknown field: %s", key)
	}
	return f, nil
}

func (c *Config) fields() map[string]map[string]accessor {
	return map[string]map[string]accessor{
		"daemon": {
			"socket_path":       stringField(&c.Daemon.SocketPath, nil),
			"http_addr":         stringField(&c.Daemon.HTTPAddr, nil),
			"log_level":         stringField(&c.Daemon.LogLevel, checkLogLevel),
			"log_file":          stringField(&c.Daemon.LogFile, nil),
			"session_idle_mins": intField(&c.Daemon.SessionIdleMins, 0),
			"origin_patterns":   listField(&c.Daemon.OriginPatterns),
		},
		"store": {
			"driver":          stringField(&c.Store.Driver, checkDriver),
			"dsn":             stringField(&c.Store.DSN, nil),
			"cache_size":      intField(&c.Store.CacheSize, 1),
			"batch_window_ms": intField(&c.Store.BatchWindowMs, 0),
		},
		"reference": {
			"per_page":         intField(&c.Reference.PerPage, 1),
			"sort_field":       stringField(&c.Reference.SortField, checkNotEmpty),
			"sort_order":       stringField(&c.Reference.SortOrder, checkOrder),
			"debounce_ms":      intField(&c.Reference.DebounceMs, 0),
			"suggestion_limit": intField(&c.Reference.SuggestionLimit, 0),
			"option_text":      stringField(&c.Reference.OptionText, nil),
			"option_value":     stringField(&c.Reference.OptionValue, checkNotEmpty),
		},
		"picker": {
			"allow_create": boolField(&c.Picker.AllowCreate),
			"allow_empty":  boolField(&c.Picker.AllowEmpty),
			"prompt":       stringField(&c.Picker.Prompt, nil),
		},
		"i18n": {
			"locale":       stringField(&c.I18n.Locale, checkNotEmpty),
			"catalog_file": stringField(&c.I18n.CatalogFile, nil),
		},
	}
}

func stringField(p *string, check func(string) error) accessor {
	return accessor{
		get: func() string { return *p },
		set: func(v string) error {
			if check != nil {
				if err := check(v); err != nil {
					return err
				}
			}
			*p = v
			return nil
		},
	}
}

func intField(p *int, min int) accessor {
	return accessor{
		get: func() string { return strconv.Itoa(*p) },
		set: func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			if n < min {
				return fmt.Errorf("must be >= %d", min)
			}
			*p = n
			return nil
		},
	}
}

func boolField(p *bool) accessor {
	return accessor{
		get: func() string { return strconv.FormatBool(*p) },
		set: func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*p = b
			return nil
		},
	}
}

// listField stores a comma-separated list.
func listField(p *[]string) accessor {
	return accessor{
		get: func() string { return strings.Join(*p, ",") },
		set: func(v string) error {
			var out []string
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
			*p = out
			return nil
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := checkLogLevel(c.Daemon.LogLevel); err != nil {
		return fmt.Errorf("daemon.log_level: %w", err)
	}
	if c.Daemon.SessionIdleMins < 0 {
		return errors.New("daemon.session_idle_mins must be >= 0")
	}
	if err := checkDriver(c.Store.Driver); err != nil {
		return fmt.Errorf("store.driver: %w", err)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return errors.New("store.dsn is required for postgres")
	}
	if c.Store.CacheSize < 1 {
		return errors.New("store.cache_size must be >= 1")
	}
	if c.Store.BatchWindowMs < 0 {
		return errors.New("store.batch_window_ms must be >= 0")
	}
	if c.Reference.PerPage < 1 {
		return errors.New("reference.per_page must be >= 1")
	}
	if err := checkOrder(c.Reference.SortOrder); err != nil {
		return fmt.Errorf("reference.sort_order: %w", err)
	}
	if c.Reference.DebounceMs < 0 {
		return errors.New("reference.debounce_ms must be >= 0")
	}
	if c.Reference.SuggestionLimit < 0 {
		return errors.New("reference.suggestion_limit must be >= 0")
	}
	if c.Reference.OptionValue == "" {
		return errors.New("reference.option_value must not be empty")
	}
	return nil
}

// ApplyEnvOverrides applies REFKIT_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("REFKIT_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Daemon.LogLevel = "debug"
		}
	}
	if v := os.Getenv("REFKIT_LOG_LEVEL"); v != "" {
		if checkLogLevel(v) == nil {
			c.Daemon.LogLevel = v
		}
	}
	if v := os.Getenv("REFKIT_SOCKET_PATH"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("REFKIT_HTTP_ADDR"); v != "" {
		c.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("REFKIT_DB"); v != "" {
		c.Store.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Store.Driver = "postgres"
		}
	}
}

// SocketPath returns the configured socket or the default one.
func (c *Config) SocketPath() string {
	if c.Daemon.SocketPath != "" {
		return c.Daemon.SocketPath
	}
	return DefaultPaths().SocketFile()
}

// DSN returns the configured database or the default SQLite file.
func (c *Config) DSN() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return DefaultPaths().DatabaseFile()
}

// BatchWindow returns store.batch_window_ms as a duration.
func (c *Config) BatchWindow() time.Duration {
	return time.Duration(c.Store.BatchWindowMs) * time.Millisecond
}

// Debounce returns reference.debounce_ms as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Reference.DebounceMs) * time.Millisecond
}

// SessionIdle returns daemon.session_idle_mins as a duration.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.Daemon.SessionIdleMins) * time.Minute
}

// CatalogPath returns the message catalog merged over English: the
// configured file, or i18n/<locale>.yaml under the config directory for
// non-English locales. It returns "" when English alone is used.
func (c *Config) CatalogPath() string {
	if c.I18n.CatalogFile != "" {
		return c.I18n.CatalogFile
	}
	if c.I18n.Locale == "" || c.I18n.Locale == "en" {
		return ""
	}
	return filepath.Join(DefaultPaths().ConfigDir, "i18n", c.I18n.Locale+".yaml")
}

// Sort returns the default sort of reference inputs.
func (c *Config) Sort() query.Sort {
	order, err := query.ParseOrder(c.Reference.SortOrder)
	if err != nil {
		order = query.DESC
	}
	return query.Sort{Field: c.Reference.SortField, Order: order}
}

func checkLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("must be debug, info, warn, or error (got: %s)", level)
	}
}

func checkDriver(driver string) error {
	switch driver {
	case "sqlite", "postgres":
		return nil
	default:
		return fmt.Errorf("must be sqlite or postgres (got: %s)", driver)
	}
}

func checkOrder(order string) error {
	_, err := query.ParseOrder(order)
	return err
}

func checkNotEmpty(v string) error {
	if v == "" {
		return errors.New("must not be empty")
	}
	return nil
}
