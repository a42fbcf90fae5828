package store

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/marketplace/internal/domain"
	apperrors "github.com/utafrali/marketplace/pkg/errors"
)

type reservation struct {
	token     domain.ReservationToken
	status    string
	settledAt time.Time
}

// Inventory tracks available quantities and outstanding reservations of one
// store. Every operation runs under a single per-store mutex.
type Inventory struct {
	mu           sync.Mutex
	storeID      string
	available    map[string]int
	outstanding  map[string]int
	reservations map[string]*reservation
}

// NewInventory creates an empty inventory.
func NewInventory(storeID string) *Inventory {
	return &Inventory{
		storeID:      storeID,
		available:    make(map[string]int),
		outstanding:  make(map[string]int),
		reservations: make(map[string]*reservation),
	}
}

// SetQuantity sets the available quantity of a product, registering it if needed.
func (inv *Inventory) SetQuantity(productID string, quantity int) error {
	if quantity < 0 {
		return apperrors.InvalidInput("quantity must not be negative")
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.available[productID] = quantity
	return nil
}

// Available returns the current available quantity and whether the product is tracked.
func (inv *Inventory) Available(productID string) (int, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	q, ok := inv.available[productID]
	return q, ok
}

// Outstanding returns the number of pending reservations on a product.
func (inv *Inventory) Outstanding(productID string) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.outstanding[productID]
}

// CheckAndReserve decrements availability by quantity if enough stock exists
// and returns a token for the pending reservation. On failure nothing changes.
func (inv *Inventory) CheckAndReserve(productID string, quantity int) (domain.ReservationToken, error) {
	if quantity <= 0 {
		return domain.ReservationToken{}, apperrors.InvalidInput("reservation quantity must be positive")
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	avail, ok := inv.available[productID]
	if !ok {
		return domain.ReservationToken{}, domain.ProductNotFound(inv.storeID, productID)
	}
	if avail < quantity {
		return domain.ReservationToken{}, domain.InsufficientStock(inv.storeID, productID, quantity, avail)
	}

	token := domain.ReservationToken{
		ID:        uuid.New().String(),
		StoreID:   inv.storeID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
	inv.available[productID] = avail - quantity
	inv.outstanding[productID]++
	inv.reservations[token.ID] = &reservation{token: token, status: domain.ReservationStatusPending}
	return token, nil
}

// Commit makes a pending reservation permanent. Committing twice is a no-op;
// committing a released reservation is rejected.
func (inv *Inventory) Commit(token domain.ReservationToken) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	r, err := inv.lookup(token)
	if err != nil {
		return err
	}
	switch r.status {
	case domain.ReservationStatusCommitted:
		return nil
	case domain.ReservationStatusReleased:
		return apperrors.Conflict("reservation " + token.ID + " was already released").
			WithDetail("store_id", inv.storeID).
			WithDetail("product_id", token.ProductID)
	}
	r.status = domain.ReservationStatusCommitted
	inv.settle(r)
	return nil
}

// Release restores the quantity of a pending reservation. Releasing an
// already released reservation is a no-op, so stock is credited exactly once;
// releasing a committed one is rejected.
func (inv *Inventory) Release(token domain.ReservationToken) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	r, err := inv.lookup(token)
	if err != nil {
		return err
	}
	switch r.status {
	case domain.ReservationStatusReleased:
		return nil
	case domain.ReservationStatusCommitted:
		return apperrors.Conflict("reservation " + token.ID + " is already committed").
			WithDetail("store_id", inv.storeID).
			WithDetail("product_id", token.ProductID)
	}
	r.status = domain.ReservationStatusReleased
	inv.available[r.token.ProductID] += r.token.Quantity
	inv.settle(r)
	return nil
}

// Remove stops tracking a product. It fails while reservations are pending.
func (inv *Inventory) Remove(productID string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if n := inv.outstanding[productID]; n > 0 {
		return domain.ProductReferenced(inv.storeID, productID, n)
	}
	delete(inv.available, productID)
	return nil
}

// Snapshot returns stock levels ordered by product ID.
func (inv *Inventory) Snapshot() []domain.StockLevel {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	out := make([]domain.StockLevel, 0, len(inv.available))
	for id, q := range inv.available {
		out = append(out, domain.StockLevel{ProductID: id, Available: q, Outstanding: inv.outstanding[id]})
	}
	slices.SortFunc(out, func(a, b domain.StockLevel) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return out
}

// PruneSettled forgets committed and released reservations settled before
// cutoff. A pruned token is no longer recognised by Commit or Release.
func (inv *Inventory) PruneSettled(cutoff time.Time) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	var n int
	for id, r := range inv.reservations {
		if r.status != domain.ReservationStatusPending && r.settledAt.Before(cutoff) {
			delete(inv.reservations, id)
			n++
		}
	}
	return n
}

// lookup finds a reservation belonging to this store. Caller holds the lock.
func (inv *Inventory) lookup(token domain.ReservationToken) (*reservation, error) {
	r, ok := inv.reservations[token.ID]
	if !ok || token.StoreID != inv.storeID {
		return nil, apperrors.NotFound("reservation", token.ID)
	}
	return r, nil
}

// settle drops one outstanding count once a reservation leaves pending.
// Caller holds the lock.
func (inv *Inventory) settle(r *reservation) {
	r.settledAt = time.Now().UTC()
	id := r.token.ProductID
	inv.outstanding[id]--
	if inv.outstanding[id] <= 0 {
		delete(inv.outstanding, id)
	}
}
