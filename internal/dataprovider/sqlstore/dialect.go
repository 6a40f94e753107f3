package sqlstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/runger/refkit/internal/choice"
)

// fieldPattern restricts filter and sort fields to dotted identifiers so
// they can be embedded in JSON path expressions.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func validField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("invalid field name %q", field)
	}
	return nil
}

// Dialect isolates the SQL differences between SQLite and PostgreSQL.
type Dialect interface {
	// Name is the dialect name used in config ("sqlite", "postgres").
	Name() string
	// Driver is the database/sql driver name.
	Driver() string
	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// FieldText is a text expression for a JSON field of the data column.
	FieldText(field string) string
	// FieldSort is an expression ordering a JSON field by its JSON type.
	FieldSort(field string) string
	// Search is a case-insensitive substring test over the string values
	// of the record, against the bind parameter at position n.
	Search(n int) string
	// DataParam wraps the placeholder receiving serialized JSON.
	DataParam(n int) string
	// Schema returns the statements creating the schema.
	Schema() []string
	// TextArg converts a filter value to the text FieldText yields.
	TextArg(v any) string
}

// SQLite targets modernc.org/sqlite.
type SQLite struct{}

func (SQLite) Name() string              { return "sqlite" }
func (SQLite) Driver() string            { return "sqlite" }
func (SQLite) Placeholder(int) string    { return "?" }
func (SQLite) DataParam(int) string      { return "?" }
func (SQLite) Search(int) string         { return sqliteSearch }
func (SQLite) FieldSort(f string) string { return "json_extract(data, '$." + f + "')" }

func (SQLite) FieldText(f string) string {
	return "CAST(json_extract(data, '$." + f + "') AS TEXT)"
}

// TextArg maps booleans to the integers json_extract returns for them.
func (SQLite) TextArg(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "1"
		}
		return "0"
	}
	return choice.Key(v)
}

func (SQLite) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
  version INTEGER PRIMARY KEY,
  applied_at_unix_ms INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS records (
  resource TEXT NOT NULL,
  id TEXT NOT NULL,
  data TEXT NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL,
  PRIMARY KEY (resource, id)
)`,
	}
}

const (
	sqliteSearch = `EXISTS (SELECT 1 FROM json_tree(records.data)
  WHERE json_tree.type = 'text' AND lower(json_tree.value) LIKE lower(?) ESCAPE '\')`
	postgresSearch = `EXISTS (SELECT 1 FROM jsonb_path_query(records.data, 'strict $.**') AS v(val)
  WHERE jsonb_typeof(v.val) = 'string' AND (v.val #>> '{}') ILIKE $%d ESCAPE '\')`
)

// Postgres targets the pgx database/sql driver.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) Driver() string           { return "pgx" }
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Postgres) DataParam(n int) string   { return fmt.Sprintf("CAST($%d AS JSONB)", n) }
func (Postgres) Search(n int) string      { return fmt.Sprintf(postgresSearch, n) }
func (Postgres) TextArg(v any) string     { return choice.Key(v) }

func (Postgres) FieldText(f string) string {
	return "(data #>> '{" + strings.ReplaceAll(f, ".", ",") + "}')"
}

func (Postgres) FieldSort(f string) string {
	return "(data #> '{" + strings.ReplaceAll(f, ".", ",") + "}')"
}

func (Postgres) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
  version INTEGER PRIMARY KEY,
  applied_at_unix_ms BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS records (
  resource TEXT NOT NULL,
  id TEXT NOT NULL,
  data JSONB NOT NULL,
  updated_at_unix_ms BIGINT NOT NULL,
  PRIMARY KEY (resource, id)
)`,
	}
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", name)
	}
}

// escapeLike escapes LIKE wildcards so user text matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
