// Package store implements the per-store aggregate: staff directory,
// inventory, catalog, policies and purchase history, each guarded by locks
// scoped to a single store.
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

// ProductInput describes a new product.
type ProductInput struct {
	Name     string
	Price    int64
	Category string
	Keywords []string
	Quantity int
}

// ProductPatch describes an edit. Nil fields are left unchanged.
type ProductPatch struct {
	Name     *string
	Price    *int64
	Category *string
	Keywords []string
	Quantity *int
}

// Store is the aggregate for one marketplace store. The store lock guards
// state, catalog, policies and history, and is always taken before the
// staff or inventory locks of the same store.
type Store struct {
	mu             sync.RWMutex
	id             string
	name           string
	founder        string
	foundedAt      time.Time
	state          domain.StoreState
	products       map[string]*domain.Product
	purchasePolicy domain.PurchaseRule
	discountPolicy []domain.DiscountRule
	history        []domain.PurchaseRecord

	staff     *StaffDirectory
	inventory *Inventory
}

// New creates an open store with founder as its only staff member.
func New(id, name, founder string) *Store {
	return &Store{
		id:        id,
		name:      name,
		founder:   founder,
		foundedAt: time.Now().UTC(),
		state:     domain.StoreStateOpen,
		products:  make(map[string]*domain.Product),
		staff:     NewStaffDirectory(id, founder),
		inventory: NewInventory(id),
	}
}

// ID returns the store ID.
func (s *Store) ID() string { return s.id }

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// State returns the lifecycle state.
func (s *Store) State() domain.StoreState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Founder returns the founder, or "" once the store is permanently closed.
func (s *Store) Founder() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.founder
}

// Inventory exposes the store's inventory.
func (s *Store) Inventory() *Inventory { return s.inventory }

// --- Staff ---

// Appoint adds newStaff under appointer.
func (s *Store) Appoint(appointer, newStaff string, role domain.Role) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireMutable(); err != nil {
		return domain.Appointment{}, err
	}
	return s.staff.Appoint(appointer, newStaff, role)
}

// Revoke removes target and every appointment derived from it.
func (s *Store) Revoke(revoker, target string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireMutable(); err != nil {
		return nil, err
	}
	return s.staff.Revoke(revoker, target)
}

// SetPermissions replaces a manager's permission set.
func (s *Store) SetPermissions(actor, target string, set domain.PermissionSet) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireMutable(); err != nil {
		return err
	}
	return s.staff.SetPermissions(actor, target, set)
}

// HasPermission reports whether identity holds c in this store.
func (s *Store) HasPermission(identity string, c domain.Capability) bool {
	return s.staff.HasPermission(identity, c)
}

// Staff returns the appointment forest for an actor holding view-staff.
func (s *Store) Staff(actor string) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.authorize(actor, domain.CapViewStaff, "view staff"); err != nil {
		return nil, err
	}
	return s.staff.Snapshot(), nil
}

// Members returns every staff identity, founder first.
func (s *Store) Members() []string {
	snap := s.staff.Snapshot()
	ids := make([]string, len(snap))
	for i, a := range snap {
		ids[i] = a.Staff
	}
	return ids
}

// --- Catalog ---

// AddProduct lists a new product with an initial quantity.
func (s *Store) AddProduct(actor string, in ProductInput) (*domain.Product, error) {
	if err := validateProduct(in.Name, in.Price, in.Quantity); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(actor, domain.CapManageInventory, "add products"); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &domain.Product{
		ID:        uuid.New().String(),
		StoreID:   s.id,
		Name:      strings.TrimSpace(in.Name),
		Price:     in.Price,
		Category:  in.Category,
		Keywords:  slices.Clone(in.Keywords),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.inventory.SetQuantity(p.ID, in.Quantity); err != nil {
		return nil, err
	}
	s.products[p.ID] = p
	cp := *p
	return &cp, nil
}

// EditProduct applies patch to an existing product.
func (s *Store) EditProduct(actor, productID string, patch ProductPatch) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(actor, domain.CapManageInventory, "edit products"); err != nil {
		return nil, err
	}
	p, ok := s.products[productID]
	if !ok {
		return nil, domain.ProductNotFound(s.id, productID)
	}

	next := *p
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Price != nil {
		next.Price = *patch.Price
	}
	if patch.Category != nil {
		next.Category = *patch.Category
	}
	if patch.Keywords != nil {
		next.Keywords = slices.Clone(patch.Keywords)
	}
	quantity := 0
	if patch.Quantity != nil {
		quantity = *patch.Quantity
	}
	if err := validateProduct(next.Name, next.Price, quantity); err != nil {
		return nil, err
	}
	if patch.Quantity != nil {
		if err := s.inventory.SetQuantity(productID, quantity); err != nil {
			return nil, err
		}
	}

	next.UpdatedAt = time.Now().UTC()
	*p = next
	cp := next
	return &cp, nil
}

// RemoveProduct delists a product. It fails with ProductReferenced while any
// checkout holds a pending reservation on it.
func (s *Store) RemoveProduct(actor, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(actor, domain.CapManageInventory, "remove products"); err != nil {
		return err
	}
	if _, ok := s.products[productID]; !ok {
		return domain.ProductNotFound(s.id, productID)
	}
	if err := s.inventory.Remove(productID); err != nil {
		return err
	}
	delete(s.products, productID)
	return nil
}

// Product returns a copy of a listed product.
func (s *Store) Product(productID string) (*domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Search returns the products matching q, ordered by name.
func (s *Store) Search(q domain.ProductQuery) []domain.ProductListing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ProductListing
	for _, p := range s.products {
		if q.Matches(p) {
			avail, _ := s.inventory.Available(p.ID)
			out = append(out, domain.ProductListing{Product: *p, Available: avail})
		}
	}
	sortListings(out)
	return out
}

// Info returns the public description of the store.
func (s *Store) Info() domain.StoreInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make([]domain.ProductListing, 0, len(s.products))
	for _, p := range s.products {
		avail, _ := s.inventory.Available(p.ID)
		listings = append(listings, domain.ProductListing{Product: *p, Available: avail})
	}
	sortListings(listings)
	return domain.StoreInfo{
		ID:        s.id,
		Name:      s.name,
		Founder:   s.founder,
		FoundedAt: s.foundedAt,
		State:     s.state,
		Products:  listings,
	}
}

// --- Lifecycle ---

// Close closes the store temporarily.
func (s *Store) Close(actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(actor, domain.CapOpenCloseStore, "close the store"); err != nil {
		return err
	}
	if s.state == domain.StoreStateTemporarilyClosed {
		return apperrors.InvalidInput("store is already closed").WithDetail("store_id", s.id)
	}
	s.state = domain.StoreStateTemporarilyClosed
	return nil
}

// Reopen reopens a temporarily closed store.
func (s *Store) Reopen(actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(actor, domain.CapOpenCloseStore, "reopen the store"); err != nil {
		return err
	}
	if s.state == domain.StoreStateOpen {
		return apperrors.InvalidInput("store is already open").WithDetail("store_id", s.id)
	}
	s.state = domain.StoreStateOpen
	return nil
}

// ClosePermanently moves the store to its terminal state, discards the staff
// directory and clears the founder. Authorization is the caller's concern:
// only system administrators may reach this. The discarded staff are returned.
func (s *Store) ClosePermanently() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireMutable(); err != nil {
		return nil, err
	}
	s.state = domain.StoreStatePermanentlyClosed
	s.founder = ""
	return s.staff.Discard(), nil
}

// --- Policies ---

// SetPurchasePolicy replaces the purchase policy. The rule tree must already
// be validated by the policy engine.
func (s *Store) SetPurchasePolicy(actor string, rule domain.PurchaseRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(actor, domain.CapEditPurchasePolicy, "edit the purchase policy"); err != nil {
		return err
	}
	s.purchasePolicy = rule
	return nil
}

// SetDiscountPolicy replaces the discount policy. Rules without an ID are
// assigned one so applied discounts can be traced back.
func (s *Store) SetDiscountPolicy(actor string, rules []domain.DiscountRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(actor, domain.CapEditDiscountPolicy, "edit the discount policy"); err != nil {
		return err
	}
	next := slices.Clone(rules)
	for i := range next {
		if next[i].ID == "" {
			next[i].ID = uuid.New().String()
		}
	}
	s.discountPolicy = next
	return nil
}

// Policies returns copies of the current purchase and discount policies.
func (s *Store) Policies() (domain.PurchaseRule, []domain.DiscountRule) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.purchasePolicy, slices.Clone(s.discountPolicy)
}

// --- Checkout support ---

// Quote snapshots the basket's lines together with the store's policies.
// The store must be open and every product listed.
func (s *Store) Quote(basket domain.Basket) (*domain.StoreBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != domain.StoreStateOpen {
		return nil, domain.StoreClosed(s.id, s.state)
	}

	sb := &domain.StoreBasket{
		StoreID:        s.id,
		Lines:          make([]domain.LineItem, 0, len(basket)),
		PurchasePolicy: s.purchasePolicy,
		DiscountPolicy: slices.Clone(s.discountPolicy),
	}
	for _, id := range basket.ProductIDs() {
		qty := basket[id]
		if qty <= 0 {
			return nil, apperrors.InvalidInput("basket quantities must be positive").
				WithDetail("store_id", s.id).
				WithDetail("product_id", id)
		}
		p, ok := s.products[id]
		if !ok {
			return nil, domain.ProductNotFound(s.id, id)
		}
		sb.Lines = append(sb.Lines, domain.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			UnitPrice: p.Price,
			Quantity:  qty,
		})
	}
	return sb, nil
}

// Reserve takes a pending reservation on an open store's stock.
func (s *Store) Reserve(productID string, quantity int) (domain.ReservationToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != domain.StoreStateOpen {
		return domain.ReservationToken{}, domain.StoreClosed(s.id, s.state)
	}
	return s.inventory.CheckAndReserve(productID, quantity)
}

// Commit finalizes a reservation. It does not depend on the store state:
// stock that has been paid for is always committed.
func (s *Store) Commit(token domain.ReservationToken) error {
	return s.inventory.Commit(token)
}

// Release rolls back a reservation.
func (s *Store) Release(token domain.ReservationToken) error {
	return s.inventory.Release(token)
}

// RecordPurchase appends a committed purchase to the history.
func (s *Store) RecordPurchase(rec domain.PurchaseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
}

// PurchaseHistory returns the history for an actor holding view-purchase-history.
func (s *Store) PurchaseHistory(actor string) ([]domain.PurchaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.staff.HasPermission(actor, domain.CapViewPurchaseHistory) {
		return nil, domain.NotAuthorized(s.id, actor, "view purchase history")
	}
	return slices.Clone(s.history), nil
}

// History returns the purchase history without an authorization check.
func (s *Store) History() []domain.PurchaseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// requireMutable fails once the store is permanently closed. Caller holds s.mu.
func (s *Store) requireMutable() error {
	if s.state.IsTerminal() {
		return domain.StoreClosed(s.id, s.state)
	}
	return nil
}

// authorize checks state then capability. Caller holds s.mu.
func (s *Store) authorize(actor string, c domain.Capability, action string) error {
	if err := s.requireMutable(); err != nil {
		return err
	}
	if !s.staff.HasPermission(actor, c) {
		return domain.NotAuthorized(s.id, actor, action)
	}
	return nil
}

func validateProduct(name string, price int64, quantity int) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.InvalidInput("product name is required")
	}
	if price < 0 {
		return apperrors.InvalidInput("product price must not be negative")
	}
	if quantity < 0 {
		return apperrors.InvalidInput("product quantity must not be negative")
	}
	return nil
}

func sortListings(l []domain.ProductListing) {
	slices.SortFunc(l, func(a, b domain.ProductListing) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
