// Package memory provides in-process repositories used when no external
// store is configured, and in tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/utafrali/marketplace/internal/domain"
	apperrors "github.com/utafrali/marketplace/pkg/errors"
)

// CartRepository implements repository.CartRepository in memory.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

// NewCartRepository creates an empty cart repository.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]*domain.Cart)}
}

// Get returns a copy of the user's cart.
func (r *CartRepository) Get(_ context.Context, userID string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[userID]
	if !ok {
		return nil, apperrors.NotFound("cart", userID)
	}
	return c.Clone(), nil
}

// Save stores a copy of the cart.
func (r *CartRepository) Save(_ context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[cart.UserID] = cart.Clone()
	return nil
}

// SaveIfVersion stores a copy of the cart if the stored version is expected.
func (r *CartRepository) SaveIfVersion(_ context.Context, cart *domain.Cart, expected int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int
	if c, ok := r.carts[cart.UserID]; ok {
		current = c.Version
	}
	if current != expected {
		return false, nil
	}
	cart.Version = expected + 1
	r.carts[cart.UserID] = cart.Clone()
	return true, nil
}

// Delete removes the user's cart.
func (r *CartRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}

// PurchaseRepository implements repository.PurchaseRepository in memory.
type PurchaseRepository struct {
	mu      sync.RWMutex
	records []domain.PurchaseRecord
}

// NewPurchaseRepository creates an empty purchase archive.
func NewPurchaseRepository() *PurchaseRepository {
	return &PurchaseRepository{}
}

// Save appends records.
func (r *PurchaseRepository) Save(_ context.Context, records []domain.PurchaseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		rec.Items = slices.Clone(rec.Items)
		rec.Discounts = slices.Clone(rec.Discounts)
		r.records = append(r.records, rec)
	}
	return nil
}

// ListByUser returns the user's purchases, newest first.
func (r *PurchaseRepository) ListByUser(_ context.Context, userID string) ([]domain.PurchaseRecord, error) {
	return r.filter(func(rec *domain.PurchaseRecord) bool { return rec.UserID == userID }), nil
}

// ListByStore returns the store's purchases, newest first.
func (r *PurchaseRepository) ListByStore(_ context.Context, storeID string) ([]domain.PurchaseRecord, error) {
	return r.filter(func(rec *domain.PurchaseRecord) bool { return rec.StoreID == storeID }), nil
}

func (r *PurchaseRepository) filter(keep func(*domain.PurchaseRecord) bool) []domain.PurchaseRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.PurchaseRecord, 0)
	for i := len(r.records) - 1; i >= 0; i-- {
		if keep(&r.records[i]) {
			out = append(out, r.records[i])
		}
	}
	return out
}
