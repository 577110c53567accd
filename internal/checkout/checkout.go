// Package checkout turns a shopper's cart into an order and manages the
// order documents afterwards.
package checkout

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/model"
)

// DefaultAdditionalFee is added to every order total.
const DefaultAdditionalFee = 50

// OrdersCollection holds every order document.
const OrdersCollection = "orders"

// OrderPath returns the document path of an order.
func OrderPath(id string) string {
	return OrdersCollection + "/" + id
}

// Cart is the part of the cart service checkout needs.
type Cart interface {
	Get(ctx context.Context, uid string) (model.Cart, error)
	Clear(ctx context.Context, uid string) error
}

// Profiles reads shopper profiles for the default delivery address.
type Profiles interface {
	ReadProfile(ctx context.Context, uid string) (model.Profile, error)
}

// Request is a checkout attempt. An empty DeliveryAddress falls back to the
// address on the shopper's profile.
type Request struct {
	DeliveryAddress string `json:"delivery_address"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	IdempotencyKey  string `json:"-"`
}

// hash identifies an attempt by shopper, address and payment method. The cart
// is left out because a replay arrives after the first attempt cleared it.
func (r Request) hash(uid string) string {
	sum := sha256.Sum256([]byte(uid + "\x00" + r.DeliveryAddress + "\x00" + r.PaymentMethod))
	return hex.EncodeToString(sum[:])
}

// Options tunes a Service.
type Options struct {
	AdditionalFee  float64
	IdempotencyTTL time.Duration
}

// Service places and manages orders.
type Service struct {
	cart     Cart
	profiles Profiles
	docs     backend.DocumentStore
	idem     IdempotencyStore
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates a checkout service. idem may be nil to disable
// idempotency keys.
func NewService(cart Cart, profiles Profiles, docs backend.DocumentStore, idem IdempotencyStore, opts Options, logger *zap.Logger) *Service {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cart:     cart,
		profiles: profiles,
		docs:     docs,
		idem:     idem,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// ErrCartNotCleared reports an order that was stored but whose cart could
// not be emptied afterwards.
var ErrCartNotCleared = errors.New("checkout: order created but cart not cleared")

// PlaceOrder creates an order from the current cart and clears the cart.
// A repeated request with the same idempotency key returns the order the
// first request created; one arriving while the first is still running is
// a conflict.
func (s *Service) PlaceOrder(ctx context.Context, uid string, req Request) (model.Order, error) {
	req.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)

	if s.idem == nil || req.IdempotencyKey == "" {
		return s.placeOrder(ctx, uid, req)
	}

	idemKey := IdempotencyKey(uid, req.IdempotencyKey)
	reqHash := req.hash(uid)
	orderID, found, err := s.idem.Reserve(ctx, idemKey, reqHash, ReservationTTL)
	if err != nil {
		return model.Order{}, err
	}
	if found {
		s.logger.Info("checkout replayed", zap.String("uid", uid), zap.String("order_id", orderID))
		return s.GetOrder(ctx, uid, orderID)
	}

	// The receipt outlives a cancelled request.
	bg := context.WithoutCancel(ctx)
	order, err := s.placeOrder(ctx, uid, req)
	if err != nil && !errors.Is(err, ErrCartNotCleared) {
		if rerr := s.idem.Release(bg, idemKey); rerr != nil {
			s.logger.Warn("releasing checkout key failed", zap.String("uid", uid), zap.Error(rerr))
		}
		return model.Order{}, err
	}
	if cerr := s.idem.Complete(bg, idemKey, reqHash, order.ID, s.opts.IdempotencyTTL); cerr != nil {
		s.logger.Warn("storing checkout receipt failed", zap.String("order_id", order.ID), zap.Error(cerr))
	}
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, uid string, req Request) (model.Order, error) {
	c, err := s.cart.Get(ctx, uid)
	if err != nil {
		return model.Order{}, err
	}
	if len(c.Items) == 0 {
		return model.Order{}, model.NewEmptyCartError()
	}

	address := req.DeliveryAddress
	if address == "" {
		p, err := s.profiles.ReadProfile(ctx, uid)
		var env *model.ErrorEnvelope
		if err != nil && !(errors.As(err, &env) && env.Code == model.ErrNotFound) {
			return model.Order{}, err
		}
		address = strings.TrimSpace(p.Address)
	}
	if address == "" {
		return model.Order{}, model.NewValidationError([]model.FieldError{{
			Field:   "delivery_address",
			Code:    "REQUIRED",
			Message: "Please add a delivery address",
		}})
	}

	now := s.now().UTC()
	order := model.Order{
		ID:              s.newID(),
		UserID:          uid,
		Items:           c.Items,
		Subtotal:        c.Total,
		AdditionalFees:  s.opts.AdditionalFee,
		Total:           c.Total + s.opts.AdditionalFee,
		Status:          model.OrderPending,
		DeliveryAddress: address,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   model.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return order, s.CreateOrder(ctx, order)
}

// CreateOrder stores order and clears the owner's cart. A failed clear
// returns an error wrapping ErrCartNotCleared.
func (s *Service) CreateOrder(ctx context.Context, order model.Order) error {
	if err := s.docs.Set(ctx, OrderPath(order.ID), order); err != nil {
		return fmt.Errorf("checkout: create order: %w", err)
	}
	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("uid", order.UserID),
		zap.Int("lines", len(order.Items)),
		zap.Float64("total", order.Total),
	)
	if err := s.cart.Clear(ctx, order.UserID); err != nil {
		return fmt.Errorf("%w: order %s: %w", ErrCartNotCleared, order.ID, err)
	}
	return nil
}

// GetOrder returns one of the shopper's orders.
func (s *Service) GetOrder(ctx context.Context, uid, id string) (model.Order, error) {
	doc, err := s.docs.Get(ctx, OrderPath(id))
	if errors.Is(err, backend.ErrNotFound) {
		return model.Order{}, model.NewNotFoundError(fmt.Sprintf("order %q not found", id))
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("checkout: read order %s: %w", id, err)
	}
	var o model.Order
	if err := doc.Decode(&o); err != nil {
		return model.Order{}, err
	}
	if o.UserID != uid {
		return model.Order{}, model.NewNotFoundError(fmt.Sprintf("order %q not found", id))
	}
	return o, nil
}

// ListOrders returns the shopper's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, uid string) ([]model.Order, error) {
	docs, err := s.docs.List(ctx, OrdersCollection)
	if err != nil {
		return nil, fmt.Errorf("checkout: list orders: %w", err)
	}
	orders := make([]model.Order, 0)
	for _, d := range docs {
		var o model.Order
		if err := d.Decode(&o); err != nil {
			s.logger.Warn("skipping malformed order", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		if o.UserID == uid {
			orders = append(orders, o)
		}
	}
	slices.SortStableFunc(orders, func(a, b model.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return orders, nil
}

// UpdateStatus moves one of the shopper's orders to status.
func (s *Service) UpdateStatus(ctx context.Context, uid, id string, status model.OrderStatus) (model.Order, error) {
	if !status.Valid() {
		return model.Order{}, model.NewBadRequestError(fmt.Sprintf("unknown order status %q", status))
	}
	if _, err := s.GetOrder(ctx, uid, id); err != nil {
		return model.Order{}, err
	}
	err := s.docs.Merge(ctx, OrderPath(id), map[string]any{
		"status":     status,
		"updated_at": s.now().UTC(),
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("checkout: update order %s: %w", id, err)
	}
	return s.GetOrder(ctx, uid, id)
}
