package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/storefront/model"
)

// ReservationTTL bounds how long a key stays reserved by a checkout that
// never completes or releases it.
const ReservationTTL = time.Minute

// IdempotencyStore remembers which order a checkout attempt produced so a
// retried request returns the same order instead of placing a second one.
//
// A key moves from reserved to completed. Only the caller whose Reserve
// returned found=false may Complete or Release it.
type IdempotencyStore interface {
	// Reserve claims key for a new checkout. When key is already claimed
	// it returns found=true with the completed order id. A key claimed with
	// a different request hash, or one still in progress, is a conflict.
	Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (orderID string, found bool, err error)

	// Complete records orderID under a reserved key for ttl.
	Complete(ctx context.Context, key, requestHash, orderID string, ttl time.Duration) error

	// Release drops a reservation that did not produce an order.
	Release(ctx context.Context, key string) error
}

type receipt struct {
	RequestHash string `json:"request_hash"`
	OrderID     string `json:"order_id,omitempty"`
}

func (r receipt) pending() bool { return r.OrderID == "" }

// resolve answers a Reserve that found an existing receipt.
func (r receipt) resolve(key, requestHash string) (string, bool, error) {
	if r.RequestHash != requestHash {
		return "", true, reusedKey(key)
	}
	if r.pending() {
		return "", true, model.NewConflictError(fmt.Sprintf("checkout with idempotency key %q is still in progress", key))
	}
	return r.OrderID, true, nil
}

func reusedKey(key string) error {
	return model.NewConflictError(fmt.Sprintf("idempotency key %q already used with a different checkout", key))
}

// IdempotencyKey builds the stored key for a shopper's checkout attempt.
func IdempotencyKey(uid, key string) string {
	return fmt.Sprintf("idem:checkout:%s:%s", uid, key)
}

// MemoryIdempotencyStore keeps receipts in process memory.
type MemoryIdempotencyStore struct {
	mu       sync.Mutex
	receipts map[string]memReceipt
	now      func() time.Time
}

type memReceipt struct {
	receipt
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		receipts: make(map[string]memReceipt),
		now:      time.Now,
	}
}

// Reserve inserts a pending receipt unless a live one exists.
func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key, requestHash string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if r, ok := s.receipts[key]; ok && !now.After(r.expiresAt) {
		return r.resolve(key, requestHash)
	}
	s.receipts[key] = memReceipt{
		receipt:   receipt{RequestHash: requestHash},
		expiresAt: now.Add(ttl),
	}
	return "", false, nil
}

// Complete records the order id.
func (s *MemoryIdempotencyStore) Complete(_ context.Context, key, requestHash, orderID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[key] = memReceipt{
		receipt:   receipt{RequestHash: requestHash, OrderID: orderID},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Release removes the receipt if it is still pending.
func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.receipts[key]; ok && r.pending() {
		delete(s.receipts, key)
	}
	return nil
}

// Len returns the number of receipts, expired ones included. For testing.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

// RedisIdempotencyStore keeps receipts in Redis with a TTL.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
}

// NewRedisIdempotencyStore creates a Redis-backed store.
func NewRedisIdempotencyStore(client redis.UniversalClient) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Reserve claims key with SETNX. A key that expires between the SETNX and
// the read is claimed on the second attempt.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (string, bool, error) {
	data, err := json.Marshal(receipt{RequestHash: requestHash})
	if err != nil {
		return "", false, fmt.Errorf("marshal receipt: %w", err)
	}
	for range 2 {
		ok, err := s.client.SetNX(ctx, key, data, ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("redis setnx %q: %w", key, err)
		}
		if ok {
			return "", false, nil
		}
		r, found, err := s.get(ctx, key)
		if err != nil {
			return "", false, err
		}
		if found {
			return r.resolve(key, requestHash)
		}
	}
	return "", true, model.NewConflictError(fmt.Sprintf("checkout with idempotency key %q is still in progress", key))
}

// Complete overwrites the reservation with the order id.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, requestHash, orderID string, ttl time.Duration) error {
	data, err := json.Marshal(receipt{RequestHash: requestHash, OrderID: orderID})
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Release deletes the key if it still holds a pending receipt.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var r receipt
		if err := json.Unmarshal(raw, &r); err != nil || !r.pending() {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis release %q: %w", key, err)
	}
	return nil
}

func (s *RedisIdempotencyStore) get(ctx context.Context, key string) (receipt, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return receipt{}, false, nil
	}
	if err != nil {
		return receipt{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	var r receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return receipt{}, false, fmt.Errorf("unmarshal receipt %q: %w", key, err)
	}
	return r, true, nil
}
