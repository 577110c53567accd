package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/storefront/internal/account"
	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/internal/cart"
	"github.com/pitabwire/storefront/model"
)

type fixture struct {
	svc      *Service
	carts    *cart.Service
	accounts *account.Service
	idem     *MemoryIdempotencyStore
	uid      string
}

func newFixture(t *testing.T, address string) *fixture {
	t.Helper()
	b := backend.NewMemoryBackend(bcrypt.MinCost)
	t.Cleanup(func() { _ = b.Close() })

	accounts := account.NewService(b, b, nil)
	p, err := accounts.Register(context.Background(), account.RegisterRequest{
		Email: "asha@example.com", Password: "secret1", Name: "Asha", Address: address,
	})
	require.NoError(t, err)

	carts := cart.NewService(b, nil)
	idem := NewMemoryIdempotencyStore()
	svc := NewService(carts, accounts, b, idem, Options{AdditionalFee: DefaultAdditionalFee}, nil)

	clock := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("ord-%d", n)
	}
	return &fixture{svc: svc, carts: carts, accounts: accounts, idem: idem, uid: p.UID}
}

func (f *fixture) fillCart(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.carts.Upsert(ctx, f.uid, model.Product{ID: "1", Name: "Shirt", Price: 1000}, 2))
	require.NoError(t, f.carts.Upsert(ctx, f.uid, model.Product{ID: "2", Name: "Cap", Price: 300}, 1))
}

func envelopeCode(t *testing.T, err error) string {
	t.Helper()
	var env *model.ErrorEnvelope
	require.True(t, errors.As(err, &env), "error %v is not an envelope", err)
	return env.Code
}

func TestService_PlaceOrder(t *testing.T) {
	f := newFixture(t, "12 Market Rd")
	f.fillCart(t)
	ctx := context.Background()

	o, err := f.svc.PlaceOrder(ctx, f.uid, Request{PaymentMethod: "cash"})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, "12 Market Rd", o.DeliveryAddress, "defaults to profile address")
	assert.InDelta(t, 2300, o.Subtotal, 0.001)
	assert.InDelta(t, 2350, o.Total, 0.001)
	assert.Equal(t, model.OrderPending, o.Status)
	assert.Equal(t, model.PaymentPending, o.PaymentStatus)
	assert.Len(t, o.Items, 2)

	c, err := f.carts.Get(ctx, f.uid)
	require.NoError(t, err)
	assert.Empty(t, c.Items, "cart is cleared after checkout")

	stored, err := f.svc.GetOrder(ctx, f.uid, o.ID)
	require.NoError(t, err)
	assert.InDelta(t, o.Total, stored.Total, 0.001)
}

func TestService_PlaceOrder_empty_cart(t *testing.T) {
	f := newFixture(t, "12 Market Rd")
	_, err := f.svc.PlaceOrder(context.Background(), f.uid, Request{})
	assert.Equal(t, model.ErrEmptyCart, envelopeCode(t, err))
}

func TestService_PlaceOrder_requires_address(t *testing.T) {
	f := newFixture(t, "")
	f.fillCart(t)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, f.uid, Request{DeliveryAddress: "   "})
	assert.Equal(t, model.ErrValidationError, envelopeCode(t, err))

	o, err := f.svc.PlaceOrder(ctx, f.uid, Request{DeliveryAddress: "3 Hill St"})
	require.NoError(t, err)
	assert.Equal(t, "3 Hill St", o.DeliveryAddress)
}

func TestService_PlaceOrder_idempotent(t *testing.T) {
	f := newFixture(t, "12 Market Rd")
	f.fillCart(t)
	ctx := context.Background()

	first, err := f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "k1"})
	require.NoError(t, err)

	again, err := f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.idem.Len())

	_, err = f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "k1", DeliveryAddress: "elsewhere"})
	assert.Equal(t, model.ErrConflict, envelopeCode(t, err))
	_, err = f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "k1", PaymentMethod: "card"})
	assert.Equal(t, model.ErrConflict, envelopeCode(t, err))

	orders, err := f.svc.ListOrders(ctx, f.uid)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

// gatedCart holds Get until release is closed.
type gatedCart struct {
	Cart
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedCart) Get(ctx context.Context, uid string) (model.Cart, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Cart.Get(ctx, uid)
}

func TestService_PlaceOrder_same_key_in_flight(t *testing.T) {
	f := newFixture(t, "12 Market Rd")
	f.fillCart(t)
	ctx := context.Background()

	gate := &gatedCart{Cart: f.carts, entered: make(chan struct{}), release: make(chan struct{})}
	f.svc.cart = gate

	type result struct {
		order model.Order
		err   error
	}
	done := make(chan result, 1)
	go func() {
		o, err := f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "k1"})
		done <- result{o, err}
	}()
	<-gate.entered

	// The first attempt holds the key while it reads the cart.
	_, err := f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "k1"})
	assert.Equal(t, model.ErrConflict, envelopeCode(t, err))

	close(gate.release)
	first := <-done
	require.NoError(t, first.err)

	again, err := f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.Equal(t, first.order.ID, again.ID)

	orders, err := f.svc.ListOrders(ctx, f.uid)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestService_PlaceOrder_concurrent_retries(t *testing.T) {
	f := newFixture(t, "12 Market Rd")
	f.fillCart(t)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	ids := make([]string, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "retry"})
			ids[i], errs[i] = o.ID, err
		}()
	}
	wg.Wait()

	orders, err := f.svc.ListOrders(ctx, f.uid)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	for i := range attempts {
		if errs[i] != nil {
			assert.Equal(t, model.ErrConflict, envelopeCode(t, errs[i]))
			continue
		}
		assert.Equal(t, orders[0].ID, ids[i])
	}
}

func TestService_PlaceOrder_failure_releases_key(t *testing.T) {
	f := newFixture(t, "12 Market Rd")
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "k1"})
	assert.Equal(t, model.ErrEmptyCart, envelopeCode(t, err))
	assert.Zero(t, f.idem.Len())

	f.fillCart(t)
	o, err := f.svc.PlaceOrder(ctx, f.uid, Request{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
}

func TestService_ListOrders_newest_first(t *testing.T) {
	f := newFixture(t, "12 Market Rd")
	ctx := context.Background()

	for range 3 {
		f.fillCart(t)
		_, err := f.svc.PlaceOrder(ctx, f.uid, Request{})
		require.NoError(t, err)
	}

	orders, err := f.svc.ListOrders(ctx, f.uid)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, []string{"ord-3", "ord-2", "ord-1"}, []string{orders[0].ID, orders[1].ID, orders[2].ID})

	others, err := f.svc.ListOrders(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestService_UpdateStatus(t *testing.T) {
	f := newFixture(t, "12 Market Rd")
	f.fillCart(t)
	ctx := context.Background()
	o, err := f.svc.PlaceOrder(ctx, f.uid, Request{})
	require.NoError(t, err)

	updated, err := f.svc.UpdateStatus(ctx, f.uid, o.ID, model.OrderShipped)
	require.NoError(t, err)
	assert.Equal(t, model.OrderShipped, updated.Status)
	assert.True(t, updated.UpdatedAt.After(o.UpdatedAt))

	_, err = f.svc.UpdateStatus(ctx, f.uid, o.ID, "lost")
	assert.Equal(t, model.ErrBadRequest, envelopeCode(t, err))

	_, err = f.svc.UpdateStatus(ctx, "intruder", o.ID, model.OrderCancelled)
	assert.Equal(t, model.ErrNotFound, envelopeCode(t, err))
}
