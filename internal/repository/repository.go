package repository

import (
	"context"

	"github.com/utafrali/marketplace/internal/domain"
)

// CartRepository defines the interface for cart persistence operations.
type CartRepository interface {
	// Get retrieves a cart by its user ID. A missing cart is a NotFound error.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	// Save persists a cart, overwriting any existing cart for the user.
	Save(ctx context.Context, cart *domain.Cart) error

	// SaveIfVersion persists the cart only if the stored version equals
	// expected (0 for a cart that does not exist yet), and stores it with
	// version expected+1. It reports false without writing on a mismatch.
	SaveIfVersion(ctx context.Context, cart *domain.Cart, expected int) (bool, error)

	// Delete removes a user's cart. Deleting a missing cart is not an error.
	Delete(ctx context.Context, userID string) error
}

// PurchaseRepository archives committed purchases.
type PurchaseRepository interface {
	// Save stores every per-store record of one transaction atomically.
	Save(ctx context.Context, records []domain.PurchaseRecord) error

	// ListByUser returns a user's purchases, newest first.
	ListByUser(ctx context.Context, userID string) ([]domain.PurchaseRecord, error)

	// ListByStore returns a store's purchases, newest first.
	ListByStore(ctx context.Context, storeID string) ([]domain.PurchaseRecord, error)
}
