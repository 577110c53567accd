package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/storefront/internal/navigation"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/model"
)

type navigationHandlers struct {
	svc     *navigation.Service
	metrics *observability.Metrics
}

type startSessionRequest struct {
	Sort string `json:"sort"`
}

type selectRequest struct {
	Item string `json:"item"`
}

type sortRequest struct {
	Sort string `json:"sort"`
}

func (h navigationHandlers) start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}
	}
	categoryID := chi.URLParam(r, "id")
	ctx, span := observability.StartSpan(r.Context(), "navigation.start",
		observability.AttrCategoryID.String(categoryID))
	view, err := h.svc.Start(ctx, categoryID, model.ParseSortKey(req.Sort))
	observability.EndSpanWithError(span, err)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.metrics.RecordNavigationStart(categoryID)
	writeView(w, http.StatusCreated, view)
}

func (h navigationHandlers) view(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	var (
		view model.NavigationView
		err  error
	)
	// ?sort= previews another ordering without changing the session.
	if s := r.URL.Query().Get("sort"); s != "" {
		view, err = h.svc.Preview(r.Context(), sid, model.ParseSortKey(s))
	} else {
		view, err = h.svc.View(r.Context(), sid)
	}
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	writeView(w, http.StatusOK, view)
}

func (h navigationHandlers) selectItem(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	h.transition(w, r, "select", func(ctx context.Context, sid string, version int) (model.NavigationView, error) {
		return h.svc.Select(ctx, sid, req.Item, version)
	})
}

func (h navigationHandlers) back(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "back", h.svc.Back)
}

func (h navigationHandlers) clear(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "clear", h.svc.Clear)
}

func (h navigationHandlers) setSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	h.transition(w, r, "sort", func(ctx context.Context, sid string, version int) (model.NavigationView, error) {
		return h.svc.SetSort(ctx, sid, model.ParseSortKey(req.Sort), version)
	})
}

func (h navigationHandlers) end(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.End(r.Context(), chi.URLParam(r, "sid")); err != nil {
		writeRequestError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h navigationHandlers) transition(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	apply func(ctx context.Context, sid string, version int) (model.NavigationView, error),
) {
	sid := chi.URLParam(r, "sid")
	ctx, span := observability.StartSpan(r.Context(), "navigation."+action,
		observability.AttrSessionID.String(sid))
	view, err := apply(ctx, sid, expectedVersion(r))
	observability.EndSpanWithError(span, err)
	if err != nil {
		var ee *model.ErrorEnvelope
		if errors.As(err, &ee) && ee.Code == model.ErrConflict {
			h.metrics.RecordNavigationConflict()
		}
		writeRequestError(w, r, err)
		return
	}
	h.metrics.RecordNavigationTransition(action)
	writeView(w, http.StatusOK, view)
}

// writeView sends a navigation view with its version as the ETag so the
// client can pass it back in If-Match.
func writeView(w http.ResponseWriter, status int, view model.NavigationView) {
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(view.Version)))
	WriteJSON(w, status, view)
}
