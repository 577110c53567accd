package transport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/cart"
	"github.com/pitabwire/storefront/internal/catalog"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/model"
)

type cartHandlers struct {
	cart     *cart.Service
	catalog  *catalog.Store
	metrics  *observability.Metrics
	upgrader *websocket.Upgrader
	logger   *zap.Logger
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h cartHandlers) get(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	c, err := h.cart.Get(r.Context(), rctx.SubjectID)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func (h cartHandlers) add(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	product, ok := h.catalog.Product(req.ProductID)
	if !ok {
		WriteNotFound(w, "Product "+strconv.Quote(req.ProductID)+" not found")
		return
	}
	if !product.InStock {
		WriteError(w, model.NewConflictError(product.Name+" is out of stock"))
		return
	}
	rctx := model.MustRequestContext(r.Context())
	if err := h.cart.Upsert(r.Context(), rctx.SubjectID, product, req.Quantity); err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.metrics.RecordCartMutation("add")
	h.get(w, r)
}

func (h cartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	rctx := model.MustRequestContext(r.Context())
	if err := h.cart.SetQuantity(r.Context(), rctx.SubjectID, chi.URLParam(r, "pid"), req.Quantity); err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.metrics.RecordCartMutation("set_quantity")
	h.get(w, r)
}

func (h cartHandlers) remove(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	if err := h.cart.Delete(r.Context(), rctx.SubjectID, chi.URLParam(r, "pid")); err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.metrics.RecordCartMutation("remove")
	h.get(w, r)
}

func (h cartHandlers) clear(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	if err := h.cart.Clear(r.Context(), rctx.SubjectID); err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.metrics.RecordCartMutation("clear")
	w.WriteHeader(http.StatusNoContent)
}

// live pushes the whole cart to a websocket after every change until the
// client disconnects.
func (h cartHandlers) live(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws := newWSConn(conn)
	defer ws.close(websocket.CloseNormalClosure, "")
	logger := observability.LoggerFrom(r.Context(), h.logger)

	// The request context carries the handler timeout; the subscription
	// lives as long as the socket.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	unsubscribe, err := h.cart.Subscribe(ctx, rctx.SubjectID, func(c model.Cart) {
		if err := ws.send(c); err != nil {
			logger.Debug("cart push failed", zap.Error(err))
			cancel()
		}
	})
	if err != nil {
		logger.Warn("cart subscribe failed", zap.Error(err))
		_ = ws.send(wsError{Error: "cart unavailable"})
		return
	}
	defer unsubscribe()

	h.metrics.CartSubscriptions.Inc()
	defer h.metrics.CartSubscriptions.Dec()

	// Client frames are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
