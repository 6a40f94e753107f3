package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/query"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "refs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Put(ctx, "authors",
		choice.Choice{"id": 1, "name": "Leo Tolstoi", "country": "ru", "active": true},
		choice.Choice{"id": 2, "name": "Victor Hugo", "country": "fr", "active": false},
		choice.Choice{"id": 3, "name": "Leo Ferré", "country": "fr", "active": true},
		choice.Choice{"id": 10, "name": "100% Anonymous", "country": "xx"},
	))
	return s
}

func ids(list []choice.Choice) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, choice.Key(r["id"]))
	}
	return out
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "refs.db")

	s, err := Open(ctx, Options{DSN: path})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "tags", choice.Choice{"id": "go", "name": "Go"}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	s, err = Open(ctx, Options{DSN: path})
	require.NoError(t, err)
	defer s.Close()
	r, err := s.GetOne(ctx, "tags", "go")
	require.NoError(t, err)
	assert.Equal(t, "Go", r["name"])

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestStore_GetOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.GetOne(ctx, "authors", 2)
	require.NoError(t, err)
	assert.Equal(t, "Victor Hugo", r["name"])
	assert.EqualValues(t, 2, r["id"])

	_, err = s.GetOne(ctx, "authors", 99)
	assert.ErrorIs(t, err, dataprovider.ErrNotFound)
}

func TestStore_GetMany(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetMany(context.Background(), "authors", []any{3, "404", float64(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1"}, ids(got))

	got, err = s.GetMany(context.Background(), "authors", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_GetList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params query.Params
		want   []string
		total  int
	}{
		{"default sort", query.New(0, query.Sort{}, nil), []string{"10", "3", "2", "1"}, 4},
		{"q search", query.New(25, query.Sort{Field: "id", Order: query.ASC}, query.Filter{"q": "LEO"}), []string{"1", "3"}, 2},
		{"q is literal", query.New(25, query.DefaultSort, query.Filter{"q": "100%"}), []string{"10"}, 1},
		{"q ignores keys", query.New(25, query.DefaultSort, query.Filter{"q": "country"}), []string{}, 0},
		{"equality", query.New(25, query.Sort{Field: "name", Order: query.ASC}, query.Filter{"country": "fr"}), []string{"3", "2"}, 2},
		{"boolean", query.New(25, query.DefaultSort, query.Filter{"active": true}), []string{"3", "1"}, 2},
		{"id membership", query.New(25, query.DefaultSort, query.Filter{"id": []any{1, 2}}), []string{"2", "1"}, 2},
		{"empty membership", query.New(25, query.DefaultSort, query.Filter{"id": []any{}}), []string{}, 0},
		{
			"pagination",
			query.Params{Pagination: query.Pagination{Page: 2, PerPage: 3}, Sort: query.Sort{Field: "id", Order: query.ASC}},
			[]string{"10"},
			4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.GetList(ctx, "authors", tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(list.Data))
			assert.Equal(t, tt.total, list.Total)
		})
	}
}

func TestStore_GetList_RejectsBadFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetList(ctx, "authors", query.New(25, query.Sort{Field: "id; DROP TABLE records"}, nil))
	assert.Error(t, err)

	_, err = s.GetList(ctx, "authors", query.New(25, query.DefaultSort, query.Filter{"name')": "x"}))
	assert.Error(t, err)
}

func TestStore_Create(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.Create(ctx, "authors", choice.Choice{"name": "Jane Austen"})
	require.NoError(t, err)
	id, ok := r["id"].(string)
	require.True(t, ok)
	assert.Len(t, id, 36)

	got, err := s.GetOne(ctx, "authors", id)
	require.NoError(t, err)
	assert.Equal(t, "Jane Austen", got["name"])

	counts, err := s.Resources(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"authors": 5}, counts)
}

func TestStore_PutRequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(context.Background(), "authors", choice.Choice{"name": "nobody"})
	assert.Error(t, err)
}

func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("REFKIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REFKIT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, "pg_authors",
		choice.Choice{"id": 1, "name": "Leo Tolstoi"},
		choice.Choice{"id": 2, "name": "Victor Hugo"},
	))
	list, err := s.GetList(ctx, "pg_authors", query.New(25, query.DefaultSort, query.Filter{"q": "hugo"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(list.Data))
}

func TestDialect_Postgres(t *testing.T) {
	d, err := DialectFor("postgresql")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.Driver())
	assert.Equal(t, "$3", d.Placeholder(3))
	assert.Equal(t, "(data #>> '{author,name}')", d.FieldText("author.name"))
	assert.Equal(t, "CAST($2 AS JSONB)", d.DataParam(2))

	s := &Store{dialect: d}
	where, args, err := s.where("authors", query.Filter{"q": "a_b", "country": "fr", "id": []any{1, 2}})
	require.NoError(t, err)
	assert.Contains(t, where, "resource = $1")
	assert.Contains(t, where, "(data #>> '{country}') = $2")
	assert.Contains(t, where, "id IN ($3, $4)")
	assert.Contains(t, where, "ILIKE $5")
	assert.Equal(t, []any{"authors", "fr", "1", "2", `%a\_b%`}, args)
}

func TestDialect_SQLiteBooleans(t *testing.T) {
	assert.Equal(t, "1", SQLite{}.TextArg(true))
	assert.Equal(t, "0", SQLite{}.TextArg(false))
	assert.Equal(t, "true", Postgres{}.TextArg(true))
}
