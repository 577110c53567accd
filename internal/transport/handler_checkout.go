package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/storefront/internal/checkout"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/model"
)

type checkoutHandlers struct {
	checkout *checkout.Service
	metrics  *observability.Metrics
}

type statusRequest struct {
	Status model.OrderStatus `json:"status"`
}

func (h checkoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}
	}
	req.IdempotencyKey = r.Header.Get("X-Idempotency-Key")

	rctx := model.MustRequestContext(r.Context())
	ctx, span := observability.StartSpan(r.Context(), "checkout.place_order",
		observability.AttrSubjectID.String(rctx.SubjectID))
	order, err := h.checkout.PlaceOrder(ctx, rctx.SubjectID, req)
	if err == nil {
		span.SetAttributes(observability.AttrOrderID.String(order.ID))
	}
	observability.EndSpanWithError(span, err)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.metrics.RecordOrder(order.Total)
	w.Header().Set("Location", "/me/orders/"+order.ID)
	WriteJSON(w, http.StatusCreated, order)
}

func (h checkoutHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	orders, err := h.checkout.ListOrders(r.Context(), rctx.SubjectID)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	WriteJSON(w, http.StatusOK, map[string][]model.Order{"orders": orders})
}

func (h checkoutHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	order, err := h.checkout.GetOrder(r.Context(), rctx.SubjectID, chi.URLParam(r, "id"))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, order)
}

func (h checkoutHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	rctx := model.MustRequestContext(r.Context())
	order, err := h.checkout.UpdateStatus(r.Context(), rctx.SubjectID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, order)
}
