package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/internal/search"
	"github.com/pitabwire/storefront/model"
)

type searchHandlers struct {
	provider *search.Provider
	recent   search.RecentStore
	metrics  *observability.Metrics
	upgrader *websocket.Upgrader
	debounce time.Duration
	logger   *zap.Logger
}

func (h searchHandlers) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := time.Now()
	ctx, span := observability.StartSpan(r.Context(), "search.query",
		observability.AttrQuery.String(q.Get("q")))
	resp, err := h.provider.Search(ctx, search.Query{
		Text:     q.Get("q"),
		Sort:     model.ParseSortKey(q.Get("sort")),
		Price:    model.ParsePriceRange(q.Get("price")),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", 0),
	})
	observability.EndSpanWithError(span, err)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.metrics.RecordSearch("full", time.Since(start), resp.Data.TotalCount)
	WriteJSON(w, http.StatusOK, resp)
}

func (h searchHandlers) suggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := time.Now()
	resp, err := h.provider.Suggest(r.Context(), q.Get("q"), q.Get("type"))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.metrics.RecordSearch("suggest", time.Since(start), len(resp.Suggestions))
	WriteJSON(w, http.StatusOK, resp)
}

func (h searchHandlers) trending(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string][]string{"trending": h.provider.Trending()})
}

type recentRequest struct {
	Query string `json:"query"`
}

func (h searchHandlers) listRecent(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	list, err := h.recent.List(r.Context(), rctx.SubjectID)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string][]string{"recent": nonNil(list)})
}

func (h searchHandlers) addRecent(w http.ResponseWriter, r *http.Request) {
	var req recentRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	rctx := model.MustRequestContext(r.Context())
	list, err := h.recent.Add(r.Context(), rctx.SubjectID, req.Query)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string][]string{"recent": nonNil(list)})
}

func (h searchHandlers) clearRecent(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	if err := h.recent.Clear(r.Context(), rctx.SubjectID); err != nil {
		writeRequestError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// liveSearchInput is one keystroke event from the client. Type, when set,
// changes the suggestion filter for this and later queries.
type liveSearchInput struct {
	Query string `json:"query"`
	Type  string `json:"type,omitempty"`
}

// live upgrades to a websocket that answers keystrokes with debounced
// suggestions. Results of superseded keystrokes are never sent.
func (h searchHandlers) live(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	ws := newWSConn(conn)
	logger := observability.LoggerFrom(r.Context(), h.logger)

	h.metrics.LiveSearchConnections.Inc()
	defer h.metrics.LiveSearchConnections.Dec()

	var filter atomic.Value
	filter.Store(search.FilterAll)

	debouncer := search.NewDebouncer(h.debounce,
		func(ctx context.Context, query string) (model.SuggestionResponse, error) {
			start := time.Now()
			resp, err := h.provider.Suggest(ctx, query, filter.Load().(string))
			if err == nil {
				h.metrics.RecordSearch("live", time.Since(start), len(resp.Suggestions))
			}
			return resp, err
		},
		func(resp model.SuggestionResponse) {
			if err := ws.send(resp); err != nil {
				logger.Debug("live search send failed", zap.Error(err))
			}
		},
	)
	defer func() {
		debouncer.Close()
		h.metrics.RecordLiveSearchDiscarded(int(debouncer.Discarded()))
		ws.close(websocket.CloseNormalClosure, "")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("live search closed", zap.Error(err))
			}
			return
		}
		in, ok := parseLiveInput(data)
		if !ok {
			_ = ws.send(wsError{Error: "invalid message"})
			continue
		}
		if in.Type != "" {
			filter.Store(in.Type)
		}
		debouncer.Input(in.Query)
	}
}

// parseLiveInput accepts a JSON object or a plain text frame holding the
// query alone.
func parseLiveInput(data []byte) (liveSearchInput, bool) {
	var in liveSearchInput
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		in.Query = string(data)
		return in, true
	}
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return in, false
	}
	return in, true
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
