// Package rest exposes a dataprovider over HTTP and consumes one.
//
// The wire format follows the simple REST convention used by admin
// front-ends:
//
//	GET  /{resource}?sort=["title","ASC"]&range=[0,24]&filter={"q":"x"}
//	GET  /{resource}?filter={"id":[1,2]}           (many)
//	GET  /{resource}/{id}
//	POST /{resource}
//
// List responses carry the total in a Content-Range header
// ("posts 0-24/319").
package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/query"
)

// maxPerPage caps the range a client may request in one list call.
const maxPerPage = 1000

// Handler serves a dataprovider.Provider.
type Handler struct {
	provider dataprovider.Provider
	logger   *slog.Logger
}

// NewHandler creates a handler. A nil logger uses slog.Default().
func NewHandler(p dataprovider.Provider, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{provider: p, logger: logger}
}

// Routes mounts the resource endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/{resource}", h.list)
	r.Post("/{resource}", h.create)
	r.Get("/{resource}/{id}", h.getOne)
}

// Router returns a standalone router serving the provider under prefix.
func (h *Handler) Router(prefix string) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route(prefix, h.Routes)
	return r
}

func (h *Handler) getOne(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	id := chi.URLParam(r, "id")
	rec, err := h.provider.GetOne(r.Context(), resource, id)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	q := r.URL.Query()

	var filter query.Filter
	if raw := q.Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
			return
		}
	}

	// A bare id filter is a getMany call.
	if ids, ok := filter["id"].([]any); ok && len(filter) == 1 && q.Get("range") == "" && q.Get("sort") == "" {
		recs, err := h.provider.GetMany(r.Context(), resource, ids)
		if err != nil {
			h.writeProviderError(w, err)
			return
		}
		if recs == nil {
			recs = []choice.Choice{}
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}

	params, err := parseListParams(q.Get("sort"), q.Get("range"), filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := h.provider.GetList(r.Context(), resource, params)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}
	start := params.Pagination.Offset()
	end := start + len(list.Data) - 1
	if len(list.Data) == 0 {
		end = start
	}
	w.Header().Set("Access-Control-Expose-Headers", "Content-Range")
	w.Header().Set("Content-Range", fmt.Sprintf("%s %d-%d/%d", resource, start, end, list.Total))
	if list.Data == nil {
		list.Data = []choice.Choice{}
	}
	writeJSON(w, http.StatusOK, list.Data)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	creator, ok := h.provider.(dataprovider.Creator)
	if !ok {
		writeError(w, http.StatusMethodNotAllowed, "provider does not support create")
		return
	}
	resource := chi.URLParam(r, "resource")
	var data choice.Choice
	if err := decodeJSON(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	rec, err := creator.Create(r.Context(), resource, data)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// parseListParams decodes the sort and range query parameters. range is
// inclusive: [0,24] is the first page of 25.
func parseListParams(sortRaw, rangeRaw string, filter query.Filter) (query.Params, error) {
	params := query.New(query.DefaultPerPage, query.Sort{}, filter)
	if sortRaw != "" {
		var pair []string
		if err := json.Unmarshal([]byte(sortRaw), &pair); err != nil || len(pair) != 2 {
			return query.Params{}, fmt.Errorf("invalid sort %q", sortRaw)
		}
		order, err := query.ParseOrder(pair[1])
		if err != nil {
			return query.Params{}, err
		}
		params.Sort = query.Sort{Field: pair[0], Order: order}
	}
	if rangeRaw != "" {
		var bounds []int
		if err := json.Unmarshal([]byte(rangeRaw), &bounds); err != nil || len(bounds) != 2 {
			return query.Params{}, fmt.Errorf("invalid range %q", rangeRaw)
		}
		from, to := bounds[0], bounds[1]
		if from < 0 || to < from {
			return query.Params{}, fmt.Errorf("invalid range %q", rangeRaw)
		}
		perPage := min(to-from+1, maxPerPage)
		params.Pagination = query.Pagination{Page: from/perPage + 1, PerPage: perPage}
	}
	return params, nil
}

func (h *Handler) writeProviderError(w http.ResponseWriter, err error) {
	var he *dataprovider.HTTPError
	switch {
	case errors.Is(err, dataprovider.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &he):
		writeError(w, he.Status, he.Message)
	default:
		h.logger.Error("provider request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writeJSON encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

type errorBody struct {
	Error string `json:"error"`
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
