// Package sqlstore is a dataprovider backed by a single JSON records table,
// on SQLite (modernc.org/sqlite) or PostgreSQL (pgx).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/query"
)

var (
	_ dataprovider.Provider = (*Store)(nil)
	_ dataprovider.Creator  = (*Store)(nil)
)

// schemaVersion is bumped whenever Schema() changes.
const schemaVersion = 1

// Store implements dataprovider.Provider on database/sql.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// Options configures Open.
type Options struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is a file path for SQLite or a connection URL for PostgreSQL.
	DSN    string
	Logger *slog.Logger
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dialect, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn := opts.DSN
	if _, ok := dialect.(SQLite); ok {
		if dsn == "" {
			return nil, errors.New("sqlite store requires a database path")
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		// modernc.org/sqlite uses _pragma=name(value) syntax
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dsn)
	}

	db, err := sql.Open(dialect.Driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, ok := dialect.(SQLite); ok {
		// Single writer; pragmas apply per connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, dialect: dialect, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Debug("record store opened", "driver", dialect.Name())
	return s, nil
}

// Close closes the database. It is safe to call Close multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration v%d failed: %w", schemaVersion, err)
		}
	}
	q := fmt.Sprintf(`INSERT INTO schema_meta (version, applied_at_unix_ms) VALUES (%s, %s)
		ON CONFLICT (version) DO NOTHING`, s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, q, schemaVersion, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to record migration v%d: %w", schemaVersion, err)
	}
	return nil
}

func (s *Store) ph(n int) string { return s.dialect.Placeholder(n) }

// GetOne implements dataprovider.Provider.
func (s *Store) GetOne(ctx context.Context, resource string, id any) (choice.Choice, error) {
	q := fmt.Sprintf(`SELECT data FROM records WHERE resource = %s AND id = %s`, s.ph(1), s.ph(2))
	var raw []byte
	err := s.db.QueryRowContext(ctx, q, resource, choice.Key(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %v: %w", resource, id, dataprovider.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %v: %w", resource, id, err)
	}
	return decode(raw)
}

// GetMany implements dataprovider.Provider. Results follow the order of
// ids; unknown ids are skipped.
func (s *Store) GetMany(ctx context.Context, resource string, ids []any) ([]choice.Choice, error) {
	if len(ids) == 0 {
		return []choice.Choice{}, nil
	}
	args := []any{resource}
	marks := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, choice.Key(id))
		marks[i] = s.ph(i + 2)
	}
	q := fmt.Sprintf(`SELECT id, data FROM records WHERE resource = %s AND id IN (%s)`,
		s.ph(1), strings.Join(marks, ", "))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get many %s: %w", resource, err)
	}
	defer rows.Close()

	byID := make(map[string]choice.Choice, len(ids))
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", resource, err)
		}
		rec, err := decode(raw)
		if err != nil {
			return nil, err
		}
		byID[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", resource, err)
	}

	out := make([]choice.Choice, 0, len(byID))
	for _, id := range ids {
		if rec, ok := byID[choice.Key(id)]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetList implements dataprovider.Provider.
func (s *Store) GetList(ctx context.Context, resource string, params query.Params) (dataprovider.List, error) {
	where, args, err := s.where(resource, params.Filter)
	if err != nil {
		return dataprovider.List{}, err
	}

	var total int
	countQ := "SELECT COUNT(*) FROM records WHERE " + where
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return dataprovider.List{}, fmt.Errorf("failed to count %s: %w", resource, err)
	}

	var b strings.Builder
	b.WriteString("SELECT data FROM records WHERE ")
	b.WriteString(where)
	if f := params.Sort.Field; f != "" {
		if err := validField(f); err != nil {
			return dataprovider.List{}, err
		}
		dir := "ASC"
		if params.Sort.Order == query.DESC {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s, id %s", s.dialect.FieldSort(f), dir, dir)
	}
	if pp := params.Pagination.PerPage; pp > 0 {
		fmt.Fprintf(&b, " LIMIT %d OFFSET %d", pp, params.Pagination.Offset())
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return dataprovider.List{}, fmt.Errorf("failed to list %s: %w", resource, err)
	}
	defer rows.Close()

	data := make([]choice.Choice, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return dataprovider.List{}, fmt.Errorf("failed to scan %s: %w", resource, err)
		}
		rec, err := decode(raw)
		if err != nil {
			return dataprovider.List{}, err
		}
		data = append(data, rec)
	}
	if err := rows.Err(); err != nil {
		return dataprovider.List{}, fmt.Errorf("failed to iterate %s: %w", resource, err)
	}
	return dataprovider.List{Data: data, Total: total}, nil
}

// where builds the WHERE clause for a filter. Keys are visited in sorted
// order so the generated SQL is stable.
func (s *Store) where(resource string, filter query.Filter) (string, []any, error) {
	clauses := []string{"resource = " + s.ph(1)}
	args := []any{resource}
	next := func(v any) string {
		args = append(args, v)
		return s.ph(len(args))
	}

	for _, field := range slices.Sorted(maps.Keys(filter)) {
		want := filter[field]
		if field == "q" {
			text, _ := want.(string)
			if text == "" {
				continue
			}
			args = append(args, "%"+escapeLike(text)+"%")
			clauses = append(clauses, s.dialect.Search(len(args)))
			continue
		}
		if err := validField(field); err != nil {
			return "", nil, err
		}
		expr := s.dialect.FieldText(field)
		if field == "id" {
			expr = "id"
		}
		if list, ok := want.([]any); ok {
			if len(list) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			marks := make([]string, len(list))
			for i, v := range list {
				marks[i] = next(s.dialect.TextArg(v))
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", expr, strings.Join(marks, ", ")))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = %s", expr, next(s.dialect.TextArg(want))))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// Put upserts records. Records need a non-empty id.
func (s *Store) Put(ctx context.Context, resource string, records ...choice.Choice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := fmt.Sprintf(`INSERT INTO records (resource, id, data, updated_at_unix_ms)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (resource, id) DO UPDATE SET data = excluded.data, updated_at_unix_ms = excluded.updated_at_unix_ms`,
		s.ph(1), s.ph(2), s.dialect.DataParam(3), s.ph(4))
	now := time.Now().UnixMilli()
	for _, r := range records {
		id := r["id"]
		if choice.IsEmptyID(id) {
			return fmt.Errorf("record in %s has no id", resource)
		}
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode %s %v: %w", resource, id, err)
		}
		if _, err := tx.ExecContext(ctx, q, resource, choice.Key(id), string(raw), now); err != nil {
			return fmt.Errorf("failed to store %s %v: %w", resource, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Create implements dataprovider.Creator. Records without an id get a UUID.
func (s *Store) Create(ctx context.Context, resource string, data choice.Choice) (choice.Choice, error) {
	r := make(choice.Choice, len(data)+1)
	for k, v := range data {
		r[k] = v
	}
	if choice.IsEmptyID(r["id"]) {
		r["id"] = uuid.NewString()
	}
	if err := s.Put(ctx, resource, r); err != nil {
		return nil, err
	}
	return s.GetOne(ctx, resource, r["id"])
}

// Resources lists resource names with their record counts.
func (s *Store) Resources(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT resource, COUNT(*) FROM records GROUP BY resource`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

func decode(raw []byte) (choice.Choice, error) {
	var rec choice.Choice
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}
