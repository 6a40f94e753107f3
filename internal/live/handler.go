package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/controller"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/query"
	"github.com/runger/refkit/internal/suggest"
)

// Config wires a Handler.
type Config struct {
	Fetcher    controller.Fetcher
	Creator    dataprovider.Creator // optional
	Translator i18n.Translator
	// Debounce is the filter debounce of mounted inputs.
	Debounce       time.Duration
	Sessions       *Manager
	OriginPatterns []string
	Logger         *slog.Logger
}

// Handler upgrades HTTP requests to live reference-input sessions.
type Handler struct {
	cfg      Config
	sessions *Manager
	logger   *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewManager(nil)
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"*"}
	}
	return &Handler{cfg: cfg, sessions: cfg.Sessions, logger: cfg.Logger}
}

// Sessions returns the session manager.
func (h *Handler) Sessions() *Manager { return h.sessions }

// conn is one accepted connection and its session.
type conn struct {
	h     *Handler
	ws    *websocket.Conn
	sess  *Session
	dirty chan struct{}
}

// ServeHTTP upgrades to WebSocket and runs the message loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := h.sessions.Create()
	sess.bind(cancel)
	defer h.sessions.Remove(sess.ID)
	logger := h.logger.With("session", sess.ID)
	logger.Debug("live session opened")

	c := &conn{h: h, ws: ws, sess: sess, dirty: make(chan struct{}, 1)}
	go c.pushViews(ctx)

	c.send(ctx, ServerMessage{Type: TypeSession, Data: SessionData{SessionID: sess.ID}})

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				logger.Debug("live session closed", "status", status)
			} else if ctx.Err() == nil {
				logger.Debug("live session read failed", "error", err)
			}
			return
		}
		sess.Touch()
		c.handle(ctx, msg)
	}
}

func (c *conn) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case TypeMount:
		c.handleMount(ctx, msg)
	case TypeChange:
		var data ChangeData
		if !c.decode(ctx, msg, &data) {
			return
		}
		in, err := c.sess.current()
		if err != nil {
			c.sendError(ctx, msg.ID, "not_mounted", err.Error())
			return
		}
		if err := in.View().OnChange(data.Value); err != nil {
			c.sendError(ctx, msg.ID, "invalid_value", err.Error())
			return
		}
		c.markDirty()
	case TypeFilter:
		var data FilterData
		if !c.decode(ctx, msg, &data) {
			return
		}
		c.withInput(ctx, msg, func(in input) { in.View().SetFilter(data.Text) })
	case TypePage:
		var data query.Pagination
		if !c.decode(ctx, msg, &data) {
			return
		}
		c.withInput(ctx, msg, func(in input) { in.View().SetPagination(data) })
	case TypeSort:
		var data query.Sort
		if !c.decode(ctx, msg, &data) {
			return
		}
		c.withInput(ctx, msg, func(in input) { in.View().SetSort(data) })
	case TypeSuggest:
		c.handleSuggest(ctx, msg)
	case TypeCreate:
		c.handleCreate(ctx, msg)
	case TypePing:
		c.send(ctx, ServerMessage{Type: TypePong, RequestID: msg.ID})
	default:
		c.sendError(ctx, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (c *conn) handleMount(ctx context.Context, msg ClientMessage) {
	var data MountData
	if !c.decode(ctx, msg, &data) {
		return
	}
	opts := controller.Options{
		Fetcher:    c.h.cfg.Fetcher,
		Creator:    c.h.cfg.Creator,
		Translator: c.h.cfg.Translator,
		Debounce:   c.h.cfg.Debounce,
		Redraw:     c.markDirty,
		Logger:     c.h.logger,
	}

	var in input
	if data.Multiple {
		ctl, err := controller.NewReferenceArrayInput(data.Props.props(), opts)
		if err != nil {
			c.sendError(ctx, msg.ID, "invalid_props", err.Error())
			return
		}
		if err := ctl.Mount(data.Record, data.Value); err != nil {
			ctl.Close()
			c.sendError(ctx, msg.ID, "invalid_value", err.Error())
			return
		}
		in = arrayInput{ctl}
	} else {
		ctl, err := controller.NewReferenceInput(data.Props.props(), opts)
		if err != nil {
			c.sendError(ctx, msg.ID, "invalid_props", err.Error())
			return
		}
		ctl.Mount(data.Record, data.Value)
		in = singleInput{ctl}
	}
	c.sess.replace(in)
	c.markDirty()
}

func (c *conn) handleSuggest(ctx context.Context, msg ClientMessage) {
	var data SuggestData
	if !c.decode(ctx, msg, &data) {
		return
	}
	c.withInput(ctx, msg, func(in input) {
		acc := choice.NewAccessor(c.h.cfg.Translator)
		if data.OptionText != "" {
			acc.OptionText = choice.Path(data.OptionText)
		}
		if data.OptionValue != "" {
			acc.OptionValue = data.OptionValue
		}
		v := in.View()
		selected := in.selection()
		engine := suggest.New(suggest.Options{
			Choices:             suggest.WithSelected(v.Choices, selected, acc),
			Accessor:            acc,
			Selected:            selected,
			AllowEmpty:          v.AllowEmpty,
			AllowCreate:         data.AllowCreate,
			AllowDuplicates:     data.AllowDuplicates,
			LimitChoicesToValue: data.LimitChoicesToValue,
			SuggestionLimit:     data.SuggestionLimit,
		})
		c.send(ctx, ServerMessage{
			Type:      TypeSuggestions,
			RequestID: msg.ID,
			Data:      SuggestionsData{Items: engine.Suggestions(data.Filter)},
		})
	})
}

func (c *conn) handleCreate(ctx context.Context, msg ClientMessage) {
	var data CreateData
	if !c.decode(ctx, msg, &data) {
		return
	}
	c.withInput(ctx, msg, func(in input) {
		rec, err := in.Create(ctx, data.Text)
		if err != nil {
			c.sendError(ctx, msg.ID, "create_failed", dataprovider.Message(err))
			return
		}
		c.send(ctx, ServerMessage{Type: TypeCreated, RequestID: msg.ID, Data: CreatedData{Record: rec}})
		c.markDirty()
	})
}

func (c *conn) withInput(ctx context.Context, msg ClientMessage, fn func(input)) {
	in, err := c.sess.current()
	if err != nil {
		c.sendError(ctx, msg.ID, "not_mounted", err.Error())
		return
	}
	fn(in)
}

func (c *conn) decode(ctx context.Context, msg ClientMessage, v any) bool {
	if len(msg.Data) == 0 {
		msg.Data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.sendError(ctx, msg.ID, "invalid_data", fmt.Sprintf("invalid %s data", msg.Type))
		return false
	}
	return true
}

// markDirty asks for a view push. Calls made while a push is pending are
// folded into it.
func (c *conn) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func (c *conn) pushViews(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.dirty:
			in, err := c.sess.current()
			if err != nil {
				continue
			}
			c.send(ctx, ServerMessage{Type: TypeView, Data: viewData(in.View(), in.value())})
		}
	}
}

func (c *conn) send(ctx context.Context, msg ServerMessage) {
	if err := wsjson.Write(ctx, c.ws, msg); err != nil && ctx.Err() == nil {
		c.h.logger.Debug("live write failed", "session", c.sess.ID, "error", err)
	}
}

func (c *conn) sendError(ctx context.Context, requestID, code, message string) {
	c.send(ctx, ServerMessage{
		Type:      TypeError,
		RequestID: requestID,
		Data:      ErrorData{Code: code, Message: message},
	})
}
