package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/model"
)

func TestShopperJourney_over_http_backend(t *testing.T) {
	h := NewTestHarness(t)

	// Browse.
	var menu model.MenuTree
	h.AssertJSON(t, h.GET("/categories", ""), http.StatusOK, &menu)
	require.Len(t, menu.Items, 2)

	var listing model.DataResponse
	h.AssertJSON(t, h.GET("/categories/5/products?sort=price-low", ""), http.StatusOK, &listing)
	require.Equal(t, 2, listing.Data.TotalCount)
	assert.Equal(t, "4", listing.Data.Items[0].ID)

	// Catalog reads never reach the backend.
	assert.Zero(t, h.Backend.TotalCalls())

	// Register and sign in.
	token := h.Register("wanjiru@example.com", "secret1", "12 Mombasa Road")
	h.Backend.AssertCalled(t, backend.OpCreateAccount, 1)
	h.Backend.AssertCalled(t, backend.OpSetDocument, 1)
	assert.Equal(t, testAPIKey, h.Backend.LastRequest(backend.OpCreateAccount).Headers.Get("X-API-Key"))

	resp := h.POST("/auth/login", map[string]string{"email": "wanjiru@example.com", "password": "secret1"}, "")
	h.AssertStatus(t, resp, http.StatusOK)

	var profile model.Profile
	h.AssertJSON(t, h.GET("/me/profile", token), http.StatusOK, &profile)
	assert.Equal(t, "wanjiru@example.com", profile.Email)
	assert.Equal(t, "12 Mombasa Road", profile.Address)

	// Fill the cart.
	var c model.Cart
	h.AssertJSON(t, h.POST("/me/cart/items", map[string]any{"product_id": "1", "quantity": 2}, token), http.StatusOK, &c)
	assert.Equal(t, 2, c.ItemCount)
	h.AssertJSON(t, h.POST("/me/cart/items", map[string]any{"product_id": "4"}, token), http.StatusOK, &c)
	assert.Equal(t, 3, c.ItemCount)
	assert.InDelta(t, 950, c.Total, 0.001)

	// Check out.
	resp = h.Do(http.MethodPost, "/me/checkout", nil, token, map[string]string{"X-Idempotency-Key": "journey-1"})
	var order model.Order
	h.AssertJSON(t, resp, http.StatusCreated, &order)
	assert.InDelta(t, 1000, order.Total, 0.001)
	assert.Equal(t, "12 Mombasa Road", order.DeliveryAddress)

	h.AssertJSON(t, h.GET("/me/cart", token), http.StatusOK, &c)
	assert.Empty(t, c.Items)

	var orders map[string][]model.Order
	h.AssertJSON(t, h.GET("/me/orders", token), http.StatusOK, &orders)
	require.Len(t, orders["orders"], 1)
	assert.Equal(t, order.ID, orders["orders"][0].ID)

	// Sign out ends the backend session and the token.
	h.AssertStatus(t, h.POST("/auth/logout", nil, token), http.StatusNoContent)
	h.Backend.AssertCalled(t, backend.OpSignOut, 1)
	h.AssertStatus(t, h.GET("/me/profile", token), http.StatusUnauthorized)
}

func TestAccountErrors_map_backend_codes(t *testing.T) {
	h := NewTestHarness(t)
	h.Register("juma@example.com", "secret1", "")

	resp := h.POST("/auth/register", map[string]string{"email": "juma@example.com", "password": "secret1"}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, model.ErrAccountExists, h.ErrorCode(resp))

	resp = h.POST("/auth/login", map[string]string{"email": "juma@example.com", "password": "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, model.ErrBadCredential, h.ErrorCode(resp))

	// Short passwords are refused before any call goes out.
	before := h.Backend.CallCount(backend.OpCreateAccount)
	resp = h.POST("/auth/register", map[string]string{"email": "short@example.com", "password": "abc"}, "")
	assert.Equal(t, model.ErrWeakPassword, h.ErrorCode(resp))
	h.Backend.AssertCalled(t, backend.OpCreateAccount, before)

	resp = h.POST("/auth/password-reset", map[string]string{"email": "juma@example.com"}, "")
	h.AssertStatus(t, resp, http.StatusAccepted)
	assert.Equal(t, 1, h.Backend.Store().PasswordResets("juma@example.com"))
}

func TestLiveCart_follows_backend_polling(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Register("akinyi@example.com", "secret1", "Kilimani")

	conn, _, err := websocket.DefaultDialer.Dial(h.WebsocketURL("/me/cart/live?access_token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() model.Cart {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var c model.Cart
		require.NoError(t, json.Unmarshal(data, &c), string(data))
		return c
	}

	assert.Empty(t, read().Items)

	h.AssertStatus(t, h.POST("/me/cart/items", map[string]any{"product_id": "2", "quantity": 2}, token), http.StatusOK)
	for {
		if c := read(); c.ItemCount == 2 {
			assert.InDelta(t, 1798, c.Total, 0.001)
			break
		}
	}
	assert.Positive(t, h.Backend.CallCount(backend.OpListDocuments))
}
