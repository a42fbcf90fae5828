package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/marketplace/internal/domain"
	"github.com/utafrali/marketplace/internal/policy"
	"github.com/utafrali/marketplace/internal/repository"
	"github.com/utafrali/marketplace/internal/store"
	apperrors "github.com/utafrali/marketplace/pkg/errors"
	"github.com/utafrali/marketplace/pkg/logger"
)

// maxCartAttempts bounds the optimistic retries of one cart update.
const maxCartAttempts = 5

// MarketService owns the store registry and implements store management,
// catalog, cart and history operations.
type MarketService struct {
	mu     sync.RWMutex
	stores map[string]*store.Store

	admins    map[string]bool
	engine    *policy.Engine
	carts     repository.CartRepository
	purchases repository.PurchaseRepository
	notifier  NotificationSink
	logger    *slog.Logger
}

// NewMarketService creates a market with no stores. Identities in admins are
// system administrators.
func NewMarketService(
	engine *policy.Engine,
	carts repository.CartRepository,
	purchases repository.PurchaseRepository,
	notifier NotificationSink,
	logger *slog.Logger,
	admins []string,
) *MarketService {
	set := make(map[string]bool, len(admins))
	for _, id := range admins {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = true
		}
	}
	return &MarketService{
		stores:    make(map[string]*store.Store),
		admins:    set,
		engine:    engine,
		carts:     carts,
		purchases: purchases,
		notifier:  notifier,
		logger:    logger,
	}
}

// IsAdmin reports whether identity is a system administrator for this request.
func (s *MarketService) IsAdmin(ctx context.Context, identity string) bool {
	return s.admins[identity] || adminFromContext(ctx)
}

// lookup returns the store with the given ID. The registry lock is held only
// for the map access.
func (s *MarketService) lookup(storeID string) (*store.Store, error) {
	s.mu.RLock()
	st, ok := s.stores[storeID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("store", storeID)
	}
	return st, nil
}

// snapshot returns every registered store ordered by ID.
func (s *MarketService) snapshot() []*store.Store {
	s.mu.RLock()
	out := make([]*store.Store, 0, len(s.stores))
	for _, st := range s.stores {
		out = append(out, st)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *store.Store) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// --- Stores ---

// OpenStoreInput holds the parameters for opening a store.
type OpenStoreInput struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// OpenStore creates a store founded by founder.
func (s *MarketService) OpenStore(ctx context.Context, founder string, input OpenStoreInput) (*domain.StoreInfo, error) {
	if founder == "" {
		return nil, apperrors.InvalidInput("founder is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("store name is required")
	}

	st := store.New(uuid.New().String(), name, founder)
	s.mu.Lock()
	s.stores[st.ID()] = st
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "store opened",
		slog.String("store_id", st.ID()),
		slog.String("founder", founder),
	)
	info := st.Info()
	return &info, nil
}

// StoreInfo returns the public view of a store.
func (s *MarketService) StoreInfo(_ context.Context, storeID string) (*domain.StoreInfo, error) {
	st, err := s.lookup(storeID)
	if err != nil {
		return nil, err
	}
	info := st.Info()
	return &info, nil
}

// CloseStore closes a store temporarily and tells its staff.
func (s *MarketService) CloseStore(ctx context.Context, actor, storeID string) error {
	st, err := s.lookup(storeID)
	if err != nil {
		return err
	}
	if err := st.Close(actor); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "store closed", slog.String("store_id", storeID), slog.String("actor", actor))
	for _, id := range st.Members() {
		n := domain.NewNotification(domain.NotificationStoreClosed, storeID, id)
		n.Attributes["permanent"] = "false"
		s.notify(ctx, n)
	}
	return nil
}

// ReopenStore reopens a temporarily closed store and tells its staff.
func (s *MarketService) ReopenStore(ctx context.Context, actor, storeID string) error {
	st, err := s.lookup(storeID)
	if err != nil {
		return err
	}
	if err := st.Reopen(actor); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "store reopened", slog.String("store_id", storeID), slog.String("actor", actor))
	for _, id := range st.Members() {
		s.notify(ctx, domain.NewNotification(domain.NotificationStoreReopened, storeID, id))
	}
	return nil
}

// ClosePermanently closes a store for good. Only system administrators may
// do this. Every discarded staff member is notified.
func (s *MarketService) ClosePermanently(ctx context.Context, actor, storeID string) ([]string, error) {
	if !s.IsAdmin(ctx, actor) {
		return nil, domain.NotAuthorized(storeID, actor, "close the store permanently")
	}
	st, err := s.lookup(storeID)
	if err != nil {
		return nil, err
	}
	removed, err := st.ClosePermanently()
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "store closed permanently",
		slog.String("store_id", storeID),
		slog.String("actor", actor),
		slog.Int("staff_removed", len(removed)),
	)
	for _, id := range removed {
		revoked := domain.NewNotification(domain.NotificationStaffRevoked, storeID, id)
		revoked.Attributes["reason"] = "store_closed"
		s.notify(ctx, revoked)

		closed := domain.NewNotification(domain.NotificationStoreClosed, storeID, id)
		closed.Attributes["permanent"] = "true"
		s.notify(ctx, closed)
	}
	return removed, nil
}

// --- Staff ---

// AppointInput holds the parameters for an appointment.
type AppointInput struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required,oneof=owner manager"`
}

// Appoint adds a staff member to a store.
func (s *MarketService) Appoint(ctx context.Context, actor, storeID string, input AppointInput) (*domain.Appointment, error) {
	role, err := domain.ParseRole(input.Role)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	st, err := s.lookup(storeID)
	if err != nil {
		return nil, err
	}
	a, err := st.Appoint(actor, input.UserID, role)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "staff appointed",
		slog.String("store_id", storeID),
		slog.String("appointer", actor),
		slog.String("staff", input.UserID),
		slog.String("role", string(role)),
	)
	n := domain.NewNotification(domain.NotificationStaffAppointed, storeID, input.UserID)
	n.Attributes["role"] = string(role)
	n.Attributes["appointer"] = actor
	s.notify(ctx, n)
	return &a, nil
}

// Revoke removes target and everyone target appointed, directly or not.
func (s *MarketService) Revoke(ctx context.Context, actor, storeID, target string) ([]string, error) {
	st, err := s.lookup(storeID)
	if err != nil {
		return nil, err
	}
	removed, err := st.Revoke(actor, target)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "staff revoked",
		slog.String("store_id", storeID),
		slog.String("revoker", actor),
		slog.String("target", target),
		slog.Int("cascade_size", len(removed)),
	)
	for _, id := range removed {
		n := domain.NewNotification(domain.NotificationStaffRevoked, storeID, id)
		n.Attributes["revoked_by"] = actor
		s.notify(ctx, n)
	}
	return removed, nil
}

// SetPermissionsInput holds a full replacement permission set.
type SetPermissionsInput struct {
	Permissions []string `json:"permissions" validate:"required"`
}

// SetPermissions replaces a manager's capabilities.
func (s *MarketService) SetPermissions(ctx context.Context, actor, storeID, target string, input SetPermissionsInput) error {
	set, err := domain.ParsePermissionSet(input.Permissions)
	if err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	st, err := s.lookup(storeID)
	if err != nil {
		return err
	}
	if err := st.SetPermissions(actor, target, set); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "manager permissions updated",
		slog.String("store_id", storeID),
		slog.String("actor", actor),
		slog.String("target", target),
		slog.String("permissions", set.String()),
	)
	return nil
}

// StaffInfo returns the appointment forest of a store.
func (s *MarketService) StaffInfo(_ context.Context, actor, storeID string) ([]domain.Appointment, error) {
	st, err := s.lookup(storeID)
	if err != nil {
		return nil, err
	}
	return st.Staff(actor)
}

// --- Catalog ---

// AddProductInput holds the parameters for listing a product.
type AddProductInput struct {
	Name     string   `json:"name" validate:"required,max=200"`
	Price    int64    `json:"price" validate:"gte=0"`
	Category string   `json:"category" validate:"max=100"`
	Keywords []string `json:"keywords"`
	Quantity int      `json:"quantity" validate:"gte=0"`
}

// AddProduct lists a product in a store.
func (s *MarketService) AddProduct(ctx context.Context, actor, storeID string, input AddProductInput) (*domain.Product, error) {
	st, err := s.lookup(storeID)
	if err != nil {
		return nil, err
	}
	p, err := st.AddProduct(actor, store.ProductInput{
		Name:     input.Name,
		Price:    input.Price,
		Category: input.Category,
		Keywords: input.Keywords,
		Quantity: input.Quantity,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "product added",
		slog.String("store_id", storeID),
		slog.String("product_id", p.ID),
		slog.Int("quantity", input.Quantity),
	)
	return p, nil
}

// EditProductInput holds a partial product update.
type EditProductInput struct {
	Name     *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Price    *int64   `json:"price,omitempty" validate:"omitempty,gte=0"`
	Category *string  `json:"category,omitempty" validate:"omitempty,max=100"`
	Keywords []string `json:"keywords,omitempty"`
	Quantity *int     `json:"quantity,omitempty" validate:"omitempty,gte=0"`
}

// EditProduct updates a listed product.
func (s *MarketService) EditProduct(ctx context.Context, actor, storeID, productID string, input EditProductInput) (*domain.Product, error) {
	st, err := s.lookup(storeID)
	if err != nil {
		return nil, err
	}
	p, err := st.EditProduct(actor, productID, store.ProductPatch{
		Name:     input.Name,
		Price:    input.Price,
		Category: input.Category,
		Keywords: input.Keywords,
		Quantity: input.Quantity,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "product edited", slog.String("store_id", storeID), slog.String("product_id", productID))
	return p, nil
}

// RemoveProduct delists a product.
func (s *MarketService) RemoveProduct(ctx context.Context, actor, storeID, productID string) error {
	st, err := s.lookup(storeID)
	if err != nil {
		return err
	}
	if err := st.RemoveProduct(actor, productID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "product removed", slog.String("store_id", storeID), slog.String("product_id", productID))
	return nil
}

// SearchProducts returns matching products across open stores, ordered by
// store ID then product name.
func (s *MarketService) SearchProducts(_ context.Context, q domain.ProductQuery) []domain.ProductListing {
	out := make([]domain.ProductListing, 0)
	for _, st := range s.snapshot() {
		if st.State() != domain.StoreStateOpen {
			continue
		}
		out = append(out, st.Search(q)...)
	}
	return out
}

// --- Policies ---

// SetPurchasePolicy validates and stores a purchase policy.
func (s *MarketService) SetPurchasePolicy(ctx context.Context, actor, storeID string, rule domain.PurchaseRule) error {
	st, err := s.lookup(storeID)
	if err != nil {
		return err
	}
	if err := s.engine.CompilePurchasePolicy(rule); err != nil {
		return err
	}
	if err := st.SetPurchasePolicy(actor, rule); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "purchase policy updated", slog.String("store_id", storeID), slog.String("actor", actor))
	return nil
}

// SetDiscountPolicy validates and stores a discount policy.
func (s *MarketService) SetDiscountPolicy(ctx context.Context, actor, storeID string, rules []domain.DiscountRule) error {
	st, err := s.lookup(storeID)
	if err != nil {
		return err
	}
	if err := s.engine.CompileDiscountPolicy(rules); err != nil {
		return err
	}
	if err := st.SetDiscountPolicy(actor, rules); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "discount policy updated",
		slog.String("store_id", storeID),
		slog.String("actor", actor),
		slog.Int("rules", len(rules)),
	)
	return nil
}

// --- Histories ---

// StorePurchaseHistory returns a store's purchases to staff holding
// view-purchase-history, or to a system administrator.
func (s *MarketService) StorePurchaseHistory(ctx context.Context, actor, storeID string) ([]domain.PurchaseRecord, error) {
	st, err := s.lookup(storeID)
	if err != nil {
		return nil, err
	}
	if s.IsAdmin(ctx, actor) {
		return st.History(), nil
	}
	return st.PurchaseHistory(actor)
}

// UserPurchaseHistory returns the archived purchases of a user, newest first.
func (s *MarketService) UserPurchaseHistory(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	records, err := s.purchases.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user purchases: %w", err)
	}
	return records, nil
}

// --- Cart ---

// CartItemInput sets the quantity of one product. Zero removes it.
type CartItemInput struct {
	StoreID   string `json:"store_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

// GetCart returns the user's cart, empty if none was saved.
func (s *MarketService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.NewCart(userID), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

// SetCartItem sets a product quantity in the user's cart. Adding requires the
// store to be open and the product to be listed; availability is checked only
// at checkout.
func (s *MarketService) SetCartItem(ctx context.Context, userID string, input CartItemInput) (*domain.Cart, error) {
	if input.Quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must not be negative")
	}
	if input.Quantity > 0 {
		st, err := s.lookup(input.StoreID)
		if err != nil {
			return nil, err
		}
		if state := st.State(); state != domain.StoreStateOpen {
			return nil, domain.StoreClosed(input.StoreID, state)
		}
		if _, ok := st.Product(input.ProductID); !ok {
			return nil, domain.ProductNotFound(input.StoreID, input.ProductID)
		}
	}

	cart, err := s.updateCart(ctx, userID, func(cart *domain.Cart) error {
		cart.SetQuantity(input.StoreID, input.ProductID, input.Quantity)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "cart updated",
		slog.String("user_id", userID),
		slog.String("store_id", input.StoreID),
		slog.String("product_id", input.ProductID),
		slog.Int("quantity", input.Quantity),
	)
	return cart, nil
}

// RemoveCartItem removes a product from the user's cart.
func (s *MarketService) RemoveCartItem(ctx context.Context, userID, storeID, productID string) (*domain.Cart, error) {
	return s.updateCart(ctx, userID, func(cart *domain.Cart) error {
		if !cart.Remove(storeID, productID) {
			return apperrors.NotFound("cart item", productID)
		}
		return nil
	})
}

// RemovePurchased takes the purchased quantities out of the user's cart.
// Lines added or raised while the checkout was in flight stay in the cart.
func (s *MarketService) RemovePurchased(ctx context.Context, userID string, purchases []domain.PurchaseRecord) error {
	_, err := s.updateCart(ctx, userID, func(cart *domain.Cart) error {
		for _, p := range purchases {
			for _, line := range p.Items {
				cart.SetQuantity(p.StoreID, line.ProductID, cart.Quantity(p.StoreID, line.ProductID)-line.Quantity)
			}
		}
		return nil
	})
	return err
}

// updateCart applies mutate to the user's current cart and saves it with a
// version check. A lost race rereads the cart and applies mutate again.
func (s *MarketService) updateCart(ctx context.Context, userID string, mutate func(*domain.Cart) error) (*domain.Cart, error) {
	for range maxCartAttempts {
		cart, err := s.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}
		expected := cart.Version
		if err := mutate(cart); err != nil {
			return nil, err
		}
		ok, err := s.carts.SaveIfVersion(ctx, cart, expected)
		if err != nil {
			return nil, fmt.Errorf("save cart: %w", err)
		}
		if ok {
			return cart, nil
		}
	}
	return nil, apperrors.Conflict("cart was modified concurrently, please retry").
		WithDetail("user_id", userID)
}

// ClearCart empties the user's cart.
func (s *MarketService) ClearCart(ctx context.Context, userID string) error {
	if err := s.carts.Delete(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// --- Maintenance ---

// PruneSettledReservations forgets committed and released reservations
// settled more than olderThan ago, in every store.
func (s *MarketService) PruneSettledReservations(ctx context.Context, olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)
	var total int
	for _, st := range s.snapshot() {
		total += st.Inventory().PruneSettled(cutoff)
	}
	if total > 0 {
		s.logger.DebugContext(ctx, "pruned settled reservations", slog.Int("count", total))
	}
	return total
}

// notify publishes n and logs failures without propagating them.
func (s *MarketService) notify(ctx context.Context, n domain.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.ErrorContext(logger.WithStoreID(ctx, n.StoreID), "failed to publish notification",
			slog.String("type", n.Type),
			slog.String("recipient", n.Recipient),
			slog.String("error", err.Error()),
		)
	}
}
