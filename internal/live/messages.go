// Package live serves reference inputs over WebSocket: each connection
// mounts one controller and receives its view every time the store
// delivers new data.
package live

import (
	"encoding/json"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/controller"
	"github.com/runger/refkit/internal/query"
)

// Client → server message types.
const (
	TypeMount   = "mount"
	TypeChange  = "change"
	TypeFilter  = "filter"
	TypePage    = "page"
	TypeSort    = "sort"
	TypeSuggest = "suggest"
	TypeCreate  = "create"
	TypePing    = "ping"
)

// Server → client message types.
const (
	TypeSession     = "session"
	TypeView        = "view"
	TypeSuggestions = "suggestions"
	TypeCreated     = "created"
	TypeError       = "error"
	TypePong        = "pong"
)

// ClientMessage is the envelope of every client message.
type ClientMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id"` // echoed as request_id
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is the envelope of every server message.
type ServerMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// PropsData mirrors controller.Props on the wire.
type PropsData struct {
	Resource   string       `json:"resource"`
	Source     string       `json:"source"`
	Reference  string       `json:"reference"`
	PerPage    int          `json:"perPage,omitempty"`
	Sort       query.Sort   `json:"sort,omitzero"`
	Filter     query.Filter `json:"filter,omitempty"`
	AllowEmpty bool         `json:"allowEmpty,omitempty"`
}

func (p PropsData) props() controller.Props {
	return controller.Props{
		Resource:   p.Resource,
		Source:     p.Source,
		Reference:  p.Reference,
		PerPage:    p.PerPage,
		Sort:       p.Sort,
		Filter:     p.Filter,
		AllowEmpty: p.AllowEmpty,
	}
}

// MountData starts the session's input. Multiple selects the array input.
type MountData struct {
	Props    PropsData     `json:"props"`
	Multiple bool          `json:"multiple,omitempty"`
	Record   choice.Choice `json:"record,omitempty"`
	Value    any           `json:"value"`
}

// ChangeData carries a new field value.
type ChangeData struct {
	Value any `json:"value"`
}

// FilterData carries the text typed in the input.
type FilterData struct {
	Text string `json:"text"`
}

// SuggestData asks for the suggestion list of the current choices.
type SuggestData struct {
	Filter              string `json:"filter"`
	OptionText          string `json:"optionText,omitempty"`
	OptionValue         string `json:"optionValue,omitempty"`
	AllowCreate         bool   `json:"allowCreate,omitempty"`
	AllowDuplicates     bool   `json:"allowDuplicates,omitempty"`
	LimitChoicesToValue bool   `json:"limitChoicesToValue,omitempty"`
	SuggestionLimit     int    `json:"suggestionLimit,omitempty"`
}

// CreateData asks for a new referenced record.
type CreateData struct {
	Text string `json:"text"`
}

// SessionData announces the session.
type SessionData struct {
	SessionID string `json:"session_id"`
}

// ViewData is the serializable part of controller.View.
type ViewData struct {
	Choices    []choice.Choice  `json:"choices"`
	Error      string           `json:"error,omitempty"`
	IsLoading  bool             `json:"isLoading"`
	Warning    string           `json:"warning,omitempty"`
	Filter     query.Filter     `json:"filter"`
	Pagination query.Pagination `json:"pagination"`
	Sort       query.Sort       `json:"sort"`
	Value      any              `json:"value"`
}

func viewData(v controller.View, value any) ViewData {
	return ViewData{
		Choices:    v.Choices,
		Error:      v.Error,
		IsLoading:  v.IsLoading,
		Warning:    v.Warning,
		Filter:     v.Filter,
		Pagination: v.Pagination,
		Sort:       v.Sort,
		Value:      value,
	}
}

// SuggestionsData carries a suggestion list.
type SuggestionsData struct {
	Items []choice.Choice `json:"items"`
}

// CreatedData carries a created record.
type CreatedData struct {
	Record choice.Choice `json:"record"`
}

// ErrorData carries a request failure.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
