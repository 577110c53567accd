// Package cart keeps each shopper's cart as one document per product under
// users/{uid}/cart and pushes the full cart to subscribers on every change.
package cart

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/model"
)

// maxClearConcurrency bounds parallel deletes while clearing a cart.
const maxClearConcurrency = 8

// Collection returns the cart collection of uid.
func Collection(uid string) string {
	return "users/" + uid + "/cart"
}

// ItemPath returns the document path of one cart line.
func ItemPath(uid, productID string) string {
	return Collection(uid) + "/" + productID
}

// Service implements cart operations over a document store.
type Service struct {
	docs   backend.DocumentStore
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a cart service.
func NewService(docs backend.DocumentStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{docs: docs, logger: logger, now: time.Now}
}

// decodeItems turns documents into cart lines, oldest first. Documents that
// do not decode are logged and skipped.
func (s *Service) decodeItems(docs []backend.Document) []model.CartItem {
	items := make([]model.CartItem, 0, len(docs))
	for _, d := range docs {
		var it model.CartItem
		if err := d.Decode(&it); err != nil {
			s.logger.Warn("skipping malformed cart item", zap.String("path", d.Path), zap.Error(err))
			continue
		}
		if it.ID == "" {
			it.ID = d.ID()
		}
		items = append(items, it)
	}
	slices.SortStableFunc(items, func(a, b model.CartItem) int {
		if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return items
}

// Get returns the current cart of uid.
func (s *Service) Get(ctx context.Context, uid string) (model.Cart, error) {
	docs, err := s.docs.List(ctx, Collection(uid))
	if err != nil {
		return model.Cart{}, fmt.Errorf("cart: list %s: %w", uid, err)
	}
	return model.NewCart(s.decodeItems(docs)), nil
}

// Subscribe calls onChange with the full cart right away and after every
// mutation until the returned function is called or ctx ends.
func (s *Service) Subscribe(ctx context.Context, uid string, onChange func(model.Cart)) (func(), error) {
	stop, err := s.docs.Subscribe(ctx, Collection(uid), func(docs []backend.Document) {
		onChange(model.NewCart(s.decodeItems(docs)))
	})
	if err != nil {
		return nil, fmt.Errorf("cart: subscribe %s: %w", uid, err)
	}
	return stop, nil
}

// Upsert adds qty of product to the cart. An existing line has its
// quantity increased.
func (s *Service) Upsert(ctx context.Context, uid string, product model.Product, qty int) error {
	if qty < 1 {
		return model.NewBadRequestError("quantity must be at least 1")
	}
	p := ItemPath(uid, product.ID)
	now := s.now().UTC()

	doc, err := s.docs.Get(ctx, p)
	switch {
	case err == nil:
		var existing model.CartItem
		if err := doc.Decode(&existing); err != nil {
			return fmt.Errorf("cart: %w", err)
		}
		err = s.docs.Merge(ctx, p, map[string]any{
			"quantity":   existing.Quantity + qty,
			"updated_at": now,
		})
		if err != nil {
			return fmt.Errorf("cart: update %s: %w", p, err)
		}
		return nil
	case errors.Is(err, backend.ErrNotFound):
		item := model.CartItem{
			ID:        product.ID,
			Product:   product,
			Quantity:  qty,
			AddedAt:   now,
			UpdatedAt: now,
		}
		if err := s.docs.Set(ctx, p, item); err != nil {
			return fmt.Errorf("cart: add %s: %w", p, err)
		}
		return nil
	default:
		return fmt.Errorf("cart: read %s: %w", p, err)
	}
}

// SetQuantity sets the quantity of a line. A quantity of zero or less
// removes the line.
func (s *Service) SetQuantity(ctx context.Context, uid, productID string, qty int) error {
	if qty <= 0 {
		return s.Delete(ctx, uid, productID)
	}
	p := ItemPath(uid, productID)
	if _, err := s.docs.Get(ctx, p); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return model.NewNotFoundError(fmt.Sprintf("product %q is not in the cart", productID))
		}
		return fmt.Errorf("cart: read %s: %w", p, err)
	}
	err := s.docs.Merge(ctx, p, map[string]any{
		"quantity":   qty,
		"updated_at": s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cart: update %s: %w", p, err)
	}
	return nil
}

// Delete removes a line. Removing a missing line is not an error.
func (s *Service) Delete(ctx context.Context, uid, productID string) error {
	if err := s.docs.Delete(ctx, ItemPath(uid, productID)); err != nil {
		return fmt.Errorf("cart: delete %s: %w", productID, err)
	}
	return nil
}

// Clear removes every line of the cart.
func (s *Service) Clear(ctx context.Context, uid string) error {
	docs, err := s.docs.List(ctx, Collection(uid))
	if err != nil {
		return fmt.Errorf("cart: list %s: %w", uid, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxClearConcurrency)
	for _, d := range docs {
		g.Go(func() error {
			return s.docs.Delete(gctx, d.Path)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("cart: clear %s: %w", uid, err)
	}
	return nil
}
