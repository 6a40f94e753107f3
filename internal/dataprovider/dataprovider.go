// Package dataprovider defines the transport-agnostic contract through which
// referenced records are read, and the in-memory implementation of it.
//
// Implementations live in sub-packages: sqlstore (SQLite or PostgreSQL),
// rest (HTTP) and remote (gRPC over a unix socket).
package dataprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/query"
)

// ErrNotFound is returned by GetOne when the record does not exist.
var ErrNotFound = errors.New("record not found")

// List is one page of a list query. Total counts all matching records,
// ignoring pagination.
type List struct {
	Data  []choice.Choice `json:"data"`
	Total int             `json:"total"`
}

// Provider reads records of a resource.
type Provider interface {
	// GetOne returns a single record, or ErrNotFound.
	GetOne(ctx context.Context, resource string, id any) (choice.Choice, error)

	// GetMany returns the records with the given ids. Unknown ids are
	// skipped, so the result may be shorter than ids.
	GetMany(ctx context.Context, resource string, ids []any) ([]choice.Choice, error)

	// GetList returns one page of records matching params.
	GetList(ctx context.Context, resource string, params query.Params) (List, error)
}

// Creator is implemented by providers that can create records.
type Creator interface {
	// Create stores data as a new record and returns it with its id set.
	Create(ctx context.Context, resource string, data choice.Choice) (choice.Choice, error)
}

// HTTPError is a failure reported by a remote provider.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Message extracts a user-facing message from a fetch error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var he *HTTPError
	if errors.As(err, &he) && he.Message != "" {
		return he.Message
	}
	return err.Error()
}
