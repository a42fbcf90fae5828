package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/marketplace/internal/domain"
	"github.com/utafrali/marketplace/internal/policy"
	"github.com/utafrali/marketplace/internal/repository"
	"github.com/utafrali/marketplace/internal/repository/memory"
	redisrepo "github.com/utafrali/marketplace/internal/repository/redis"
	apperrors "github.com/utafrali/marketplace/pkg/errors"
)

// --- Recording Notification Sink ---

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Notification
	err    error
}

func (s *recordingSink) Notify(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, n)
	return s.err
}

func (s *recordingSink) ofType(kind string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.events {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

func recipients(ns []domain.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Recipient)
	}
	return out
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type marketFixture struct {
	market    *MarketService
	engine    *policy.Engine
	carts     *memory.CartRepository
	purchases *memory.PurchaseRepository
	sink      *recordingSink
}

func newTestMarket(t *testing.T, admins ...string) *marketFixture {
	t.Helper()
	logger := newTestLogger()
	engine, err := policy.NewEngine(logger)
	require.NoError(t, err)

	f := &marketFixture{
		engine:    engine,
		carts:     memory.NewCartRepository(),
		purchases: memory.NewPurchaseRepository(),
		sink:      &recordingSink{},
	}
	f.market = NewMarketService(engine, f.carts, f.purchases, f.sink, logger, admins)
	return f
}

func openStore(t *testing.T, m *MarketService, founder, name string) string {
	t.Helper()
	info, err := m.OpenStore(context.Background(), founder, OpenStoreInput{Name: name})
	require.NoError(t, err)
	return info.ID
}

func listProduct(t *testing.T, m *MarketService, founder, storeID, name string, price int64, qty int) string {
	t.Helper()
	p, err := m.AddProduct(context.Background(), founder, storeID, AddProductInput{
		Name: name, Price: price, Category: "general", Quantity: qty,
	})
	require.NoError(t, err)
	return p.ID
}

// --- Store Tests ---

func TestOpenStore(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()

	info, err := f.market.OpenStore(ctx, "alice", OpenStoreInput{Name: "  Books  "})
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "Books", info.Name)
	assert.Equal(t, domain.StoreStateOpen, info.State)

	staff, err := f.market.StaffInfo(ctx, "alice", info.ID)
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, "alice", staff[0].Staff)
}

func TestOpenStore_Validation(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()

	_, err := f.market.OpenStore(ctx, "", OpenStoreInput{Name: "Books"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.market.OpenStore(ctx, "alice", OpenStoreInput{Name: "   "})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestStoreInfo_NotFound(t *testing.T) {
	f := newTestMarket(t)

	_, err := f.market.StoreInfo(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCloseAndReopenStore_NotifiesStaff(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	storeID := openStore(t, f.market, "alice", "Books")
	_, err := f.market.Appoint(ctx, "alice", storeID, AppointInput{UserID: "bob", Role: "manager"})
	require.NoError(t, err)

	require.NoError(t, f.market.CloseStore(ctx, "alice", storeID))
	closed := f.sink.ofType(domain.NotificationStoreClosed)
	assert.ElementsMatch(t, []string{"alice", "bob"}, recipients(closed))
	assert.Equal(t, "false", closed[0].Attributes["permanent"])

	require.NoError(t, f.market.ReopenStore(ctx, "alice", storeID))
	assert.ElementsMatch(t, []string{"alice", "bob"}, recipients(f.sink.ofType(domain.NotificationStoreReopened)))
}

func TestCloseStore_ManagerWithoutCapability(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	storeID := openStore(t, f.market, "alice", "Books")
	_, err := f.market.Appoint(ctx, "alice", storeID, AppointInput{UserID: "bob", Role: "manager"})
	require.NoError(t, err)

	err = f.market.CloseStore(ctx, "bob", storeID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestClosePermanently_RequiresAdmin(t *testing.T) {
	f := newTestMarket(t, "root")
	ctx := context.Background()
	storeID := openStore(t, f.market, "alice", "Books")

	_, err := f.market.ClosePermanently(ctx, "alice", storeID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	removed, err := f.market.ClosePermanently(ctx, "root", storeID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, removed)

	info, err := f.market.StoreInfo(ctx, storeID)
	require.NoError(t, err)
	assert.Equal(t, domain.StoreStatePermanentlyClosed, info.State)

	revoked := f.sink.ofType(domain.NotificationStaffRevoked)
	require.Len(t, revoked, 1)
	assert.Equal(t, "store_closed", revoked[0].Attributes["reason"])
	closed := f.sink.ofType(domain.NotificationStoreClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "true", closed[0].Attributes["permanent"])
}

func TestClosePermanently_AdminFromContext(t *testing.T) {
	f := newTestMarket(t)
	storeID := openStore(t, f.market, "alice", "Books")

	_, err := f.market.ClosePermanently(WithAdmin(context.Background()), "ops", storeID)
	require.NoError(t, err)

	_, err = f.market.ClosePermanently(WithAdmin(context.Background()), "ops", storeID)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
}

// --- Staff Tests ---

func TestAppointAndRevoke_Cascade(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	storeID := openStore(t, f.market, "founder", "Books")

	_, err := f.market.Appoint(ctx, "founder", storeID, AppointInput{UserID: "owner", Role: "owner"})
	require.NoError(t, err)
	_, err = f.market.Appoint(ctx, "owner", storeID, AppointInput{UserID: "manager", Role: "manager"})
	require.NoError(t, err)

	appointed := f.sink.ofType(domain.NotificationStaffAppointed)
	require.Len(t, appointed, 2)
	assert.Equal(t, "owner", appointed[0].Recipient)
	assert.Equal(t, "owner", appointed[1].Attributes["appointer"])

	removed, err := f.market.Revoke(ctx, "founder", storeID, "owner")
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "manager"}, removed)
	assert.Equal(t, []string{"owner", "manager"}, recipients(f.sink.ofType(domain.NotificationStaffRevoked)))

	staff, err := f.market.StaffInfo(ctx, "founder", storeID)
	require.NoError(t, err)
	assert.Len(t, staff, 1)
}

func TestAppoint_InvalidRole(t *testing.T) {
	f := newTestMarket(t)
	storeID := openStore(t, f.market, "founder", "Books")

	_, err := f.market.Appoint(context.Background(), "founder", storeID, AppointInput{UserID: "x", Role: "janitor"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAppoint_Duplicate(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	storeID := openStore(t, f.market, "founder", "Books")

	_, err := f.market.Appoint(ctx, "founder", storeID, AppointInput{UserID: "bob", Role: "manager"})
	require.NoError(t, err)
	_, err = f.market.Appoint(ctx, "founder", storeID, AppointInput{UserID: "bob", Role: "owner"})
	assert.ErrorIs(t, err, domain.ErrAlreadyAppointed)
}

func TestSetPermissions(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	storeID := openStore(t, f.market, "founder", "Books")
	_, err := f.market.Appoint(ctx, "founder", storeID, AppointInput{UserID: "bob", Role: "manager"})
	require.NoError(t, err)

	err = f.market.SetPermissions(ctx, "founder", storeID, "bob", SetPermissionsInput{
		Permissions: []string{domain.CapViewStaff.String()},
	})
	require.NoError(t, err)
	_, err = f.market.AddProduct(ctx, "bob", storeID, AddProductInput{Name: "Novel", Price: 900, Quantity: 1})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)

	err = f.market.SetPermissions(ctx, "founder", storeID, "bob", SetPermissionsInput{
		Permissions: []string{domain.CapManageInventory.String()},
	})
	require.NoError(t, err)

	_, err = f.market.AddProduct(ctx, "bob", storeID, AddProductInput{Name: "Novel", Price: 900, Quantity: 1})
	assert.NoError(t, err)

	err = f.market.SetPermissions(ctx, "founder", storeID, "bob", SetPermissionsInput{Permissions: []string{"teleport"}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- Catalog Tests ---

func TestSearchProducts_SkipsClosedStores(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	open := openStore(t, f.market, "alice", "Open")
	closed := openStore(t, f.market, "bob", "Closed")
	listProduct(t, f.market, "alice", open, "Lamp", 1200, 3)
	listProduct(t, f.market, "bob", closed, "Lamp Shade", 400, 3)
	require.NoError(t, f.market.CloseStore(ctx, "bob", closed))

	results := f.market.SearchProducts(ctx, domain.ProductQuery{Name: "lamp"})
	require.Len(t, results, 1)
	assert.Equal(t, open, results[0].Product.StoreID)
}

func TestEditAndRemoveProduct(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	storeID := openStore(t, f.market, "alice", "Books")
	productID := listProduct(t, f.market, "alice", storeID, "Novel", 900, 2)

	price := int64(750)
	p, err := f.market.EditProduct(ctx, "alice", storeID, productID, EditProductInput{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, int64(750), p.Price)

	require.NoError(t, f.market.RemoveProduct(ctx, "alice", storeID, productID))
	err = f.market.RemoveProduct(ctx, "alice", storeID, productID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- Policy Tests ---

func TestSetPurchasePolicy_RejectsInvalidRule(t *testing.T) {
	f := newTestMarket(t)
	storeID := openStore(t, f.market, "alice", "Books")

	err := f.market.SetPurchasePolicy(context.Background(), "alice", storeID, domain.PurchaseRule{
		Type: domain.RuleMinQuantity,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSetDiscountPolicy_RequiresCapability(t *testing.T) {
	f := newTestMarket(t)
	storeID := openStore(t, f.market, "alice", "Books")

	err := f.market.SetDiscountPolicy(context.Background(), "mallory", storeID, []domain.DiscountRule{
		{ID: "d1", Type: domain.DiscountPercentage, Percent: 10},
	})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

// --- Cart Tests ---

func TestSetCartItem(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	storeID := openStore(t, f.market, "alice", "Books")
	productID := listProduct(t, f.market, "alice", storeID, "Novel", 900, 2)

	cart, err := f.market.SetCartItem(ctx, "buyer", CartItemInput{StoreID: storeID, ProductID: productID, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, cart.Quantity(storeID, productID))

	saved, err := f.market.GetCart(ctx, "buyer")
	require.NoError(t, err)
	assert.Equal(t, 5, saved.Quantity(storeID, productID))

	cart, err = f.market.SetCartItem(ctx, "buyer", CartItemInput{StoreID: storeID, ProductID: productID, Quantity: 0})
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestSetCartItem_Rejections(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	storeID := openStore(t, f.market, "alice", "Books")
	productID := listProduct(t, f.market, "alice", storeID, "Novel", 900, 2)

	_, err := f.market.SetCartItem(ctx, "buyer", CartItemInput{StoreID: storeID, ProductID: productID, Quantity: -1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.market.SetCartItem(ctx, "buyer", CartItemInput{StoreID: storeID, ProductID: "ghost", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.market.SetCartItem(ctx, "buyer", CartItemInput{StoreID: "ghost", ProductID: productID, Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, f.market.CloseStore(ctx, "alice", storeID))
	_, err = f.market.SetCartItem(ctx, "buyer", CartItemInput{StoreID: storeID, ProductID: productID, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
}

func TestRemoveCartItem(t *testing.T) {
	f := newTestMarket(t)
	ctx := context.Background()
	storeID := openStore(t, f.market, "alice", "Books")
	productID := listProduct(t, f.market, "alice", storeID, "Novel", 900, 2)

	_, err := f.market.RemoveCartItem(ctx, "buyer", storeID, productID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.market.SetCartItem(ctx, "buyer", CartItemInput{StoreID: storeID, ProductID: productID, Quantity: 1})
	require.NoError(t, err)
	cart, err := f.market.RemoveCartItem(ctx, "buyer", storeID, productID)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	require.NoError(t, f.market.ClearCart(ctx, "buyer"))
	cart, err = f.market.GetCart(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

// interleavingCartRepository lets another writer save the cart right before
// the first versioned save, so that save loses the race.
type interleavingCartRepository struct {
	*memory.CartRepository
	once      sync.Once
	interject func(ctx context.Context)
}

func (r *interleavingCartRepository) SaveIfVersion(ctx context.Context, cart *domain.Cart, expected int) (bool, error) {
	r.once.Do(func() { r.interject(ctx) })
	return r.CartRepository.SaveIfVersion(ctx, cart, expected)
}

// contendedCartRepository loses every versioned save.
type contendedCartRepository struct {
	*memory.CartRepository
}

func (contendedCartRepository) SaveIfVersion(context.Context, *domain.Cart, int) (bool, error) {
	return false, nil
}

func TestSetCartItem_RetriesAfterConcurrentWrite(t *testing.T) {
	logger := newTestLogger()
	engine, err := policy.NewEngine(logger)
	require.NoError(t, err)

	inner := memory.NewCartRepository()
	carts := &interleavingCartRepository{CartRepository: inner}
	market := NewMarketService(engine, carts, memory.NewPurchaseRepository(), &recordingSink{}, logger, nil)
	ctx := context.Background()
	storeID := openStore(t, market, "alice", "Books")
	novel := listProduct(t, market, "alice", storeID, "Novel", 900, 5)
	atlas := listProduct(t, market, "alice", storeID, "Atlas", 1500, 5)

	carts.interject = func(ctx context.Context) {
		other := domain.NewCart("buyer")
		other.SetQuantity(storeID, atlas, 1)
		ok, err := inner.SaveIfVersion(ctx, other, 0)
		require.NoError(t, err)
		require.True(t, ok)
	}

	cart, err := market.SetCartItem(ctx, "buyer", CartItemInput{StoreID: storeID, ProductID: novel, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, cart.Quantity(storeID, novel))
	assert.Equal(t, 1, cart.Quantity(storeID, atlas), "the concurrent write must survive the retry")
	assert.Equal(t, 2, cart.Version)
}

func TestSetCartItem_ConflictAfterRepeatedRaces(t *testing.T) {
	logger := newTestLogger()
	engine, err := policy.NewEngine(logger)
	require.NoError(t, err)

	carts := contendedCartRepository{CartRepository: memory.NewCartRepository()}
	market := NewMarketService(engine, carts, memory.NewPurchaseRepository(), &recordingSink{}, logger, nil)
	storeID := openStore(t, market, "alice", "Books")
	novel := listProduct(t, market, "alice", storeID, "Novel", 900, 5)

	_, err = market.SetCartItem(context.Background(), "buyer", CartItemInput{StoreID: storeID, ProductID: novel, Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))

	_, err = market.RemoveCartItem(context.Background(), "buyer", storeID, novel)
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "a missing line is reported before any save")
}

func TestSetCartItem_ConcurrentAddsAreNotLost(t *testing.T) {
	tests := []struct {
		name  string
		carts func(t *testing.T) repository.CartRepository
	}{
		{"memory", func(*testing.T) repository.CartRepository { return memory.NewCartRepository() }},
		{"redis", func(t *testing.T) repository.CartRepository {
			mr := miniredis.RunT(t)
			client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return redisrepo.NewCartRepository(client, time.Hour)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := newTestLogger()
			engine, err := policy.NewEngine(logger)
			require.NoError(t, err)
			market := NewMarketService(engine, tt.carts(t), memory.NewPurchaseRepository(), &recordingSink{}, logger, nil)
			ctx := context.Background()
			storeID := openStore(t, market, "alice", "Books")

			const writers = 20
			products := make([]string, writers)
			for i := range products {
				products[i] = listProduct(t, market, "alice", storeID, fmt.Sprintf("Book %d", i), 100, 1)
			}

			errs := make([]error, writers)
			var wg sync.WaitGroup
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = market.SetCartItem(ctx, "buyer", CartItemInput{StoreID: storeID, ProductID: products[i], Quantity: 1})
				}()
			}
			wg.Wait()

			cart, err := market.GetCart(ctx, "buyer")
			require.NoError(t, err)
			var acknowledged int
			for i, err := range errs {
				if err != nil {
					assert.ErrorIs(t, err, apperrors.ErrConflict)
					continue
				}
				acknowledged++
				assert.Equal(t, 1, cart.Quantity(storeID, products[i]), "acknowledged add of %s was lost", products[i])
			}
			assert.Positive(t, acknowledged)
			assert.Equal(t, acknowledged, cart.ItemCount())
		})
	}
}

// --- History Tests ---

func TestStorePurchaseHistory_Authorization(t *testing.T) {
	f := newTestMarket(t, "root")
	ctx := context.Background()
	storeID := openStore(t, f.market, "alice", "Books")

	_, err := f.market.StorePurchaseHistory(ctx, "stranger", storeID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	history, err := f.market.StorePurchaseHistory(ctx, "alice", storeID)
	require.NoError(t, err)
	assert.Empty(t, history)

	history, err = f.market.StorePurchaseHistory(ctx, "root", storeID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// --- Notification Failure Tests ---

func TestNotifyFailure_DoesNotFailOperation(t *testing.T) {
	f := newTestMarket(t)
	f.sink.err = errors.New("broker down")
	ctx := context.Background()
	storeID := openStore(t, f.market, "alice", "Books")

	_, err := f.market.Appoint(ctx, "alice", storeID, AppointInput{UserID: "bob", Role: "owner"})
	require.NoError(t, err)
	assert.Len(t, f.sink.ofType(domain.NotificationStaffAppointed), 1)
}

func TestPruneSettledReservations(t *testing.T) {
	f := newTestMarket(t)
	storeID := openStore(t, f.market, "alice", "Books")
	productID := listProduct(t, f.market, "alice", storeID, "Novel", 900, 2)

	st, err := f.market.lookup(storeID)
	require.NoError(t, err)
	token, err := st.Reserve(productID, 1)
	require.NoError(t, err)
	require.NoError(t, st.Release(token))

	assert.Equal(t, 1, f.market.PruneSettledReservations(context.Background(), -time.Minute))
	assert.Equal(t, 0, f.market.PruneSettledReservations(context.Background(), -time.Minute))
}
