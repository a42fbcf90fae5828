package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/marketplace/internal/domain"
	"github.com/utafrali/marketplace/internal/policy"
	"github.com/utafrali/marketplace/internal/repository"
	"github.com/utafrali/marketplace/internal/store"
	apperrors "github.com/utafrali/marketplace/pkg/errors"
	"github.com/utafrali/marketplace/pkg/tracing"
)

const outcomeCommitted = "committed"

var checkoutOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marketplace_checkouts_total",
		Help: "Checkout transactions by outcome",
	},
	[]string{"outcome"},
)

// SagaTimeouts bounds the external calls of a checkout. A zero value means
// the call inherits the request context's deadline.
type SagaTimeouts struct {
	PaymentTimeout time.Duration
	SupplyTimeout  time.Duration
}

// CheckoutCoordinator turns a cart into committed purchases across stores,
// all or nothing. It never holds more than one store lock at a time and
// compensates completed steps when a later one fails.
type CheckoutCoordinator struct {
	market    *MarketService
	engine    *policy.Engine
	payment   PaymentGateway
	supply    SupplyGateway
	purchases repository.PurchaseRepository
	notifier  NotificationSink
	logger    *slog.Logger
	timeouts  SagaTimeouts
	tracer    trace.Tracer

	mu     sync.Mutex
	queue  map[string]*domain.Reconciliation
	queued []string
}

// NewCheckoutCoordinator creates a checkout coordinator.
func NewCheckoutCoordinator(
	market *MarketService,
	engine *policy.Engine,
	payment PaymentGateway,
	supply SupplyGateway,
	purchases repository.PurchaseRepository,
	notifier NotificationSink,
	logger *slog.Logger,
	timeouts SagaTimeouts,
) *CheckoutCoordinator {
	return &CheckoutCoordinator{
		market:    market,
		engine:    engine,
		payment:   payment,
		supply:    supply,
		purchases: purchases,
		notifier:  notifier,
		logger:    logger,
		timeouts:  timeouts,
		tracer:    tracing.Tracer("marketplace/checkout"),
		queue:     make(map[string]*domain.Reconciliation),
	}
}

type storeCheckout struct {
	store  *store.Store
	basket *domain.StoreBasket
	record *domain.PurchaseRecord
}

type heldReservation struct {
	store *store.Store
	token domain.ReservationToken
}

// Checkout runs the checkout saga for the buyer's cart:
// validate, price, reserve, pay, dispatch, commit.
//
// An aborted checkout returns the transaction together with an error whose
// kind names the abort reason. A SupplyFailed abort leaves stock committed
// and the transaction queued for reconciliation; it must not be retried.
func (c *CheckoutCoordinator) Checkout(ctx context.Context, buyer domain.Buyer) (*domain.Transaction, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(attribute.String("user_id", buyer.ID)))
	defer span.End()

	cart, err := c.market.GetCart(ctx, buyer.ID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		checkoutOutcomes.WithLabelValues(domain.AbortInvalidCart).Inc()
		return nil, apperrors.InvalidInput("cart is empty")
	}

	tx := domain.NewTransaction(uuid.New().String(), buyer.ID)
	span.SetAttributes(attribute.String("transaction_id", tx.ID))

	// Step 1: snapshot and validate every store basket, in store ID order.
	// Nothing is mutated until all of them pass.
	step := tx.BeginStep(domain.SagaStepValidatePolicy)
	plan := make([]storeCheckout, 0, len(cart.Baskets))
	for _, storeID := range cart.StoreIDs() {
		sb, st, err := c.quote(storeID, cart.Baskets[storeID])
		if err == nil {
			err = c.engine.ValidatePurchase(ctx, sb, buyer)
		}
		if err != nil {
			step.Fail(err.Error())
			return c.abort(ctx, span, tx, abortReason(err), err)
		}
		plan = append(plan, storeCheckout{store: st, basket: sb})
	}
	step.Complete()

	// Step 2: price from the snapshot.
	for i := range plan {
		quote, err := c.engine.Price(ctx, plan[i].basket, buyer)
		if err != nil {
			return c.abort(ctx, span, tx, domain.AbortInvalidCart, fmt.Errorf("price store %s: %w", plan[i].basket.StoreID, err))
		}
		plan[i].record = &domain.PurchaseRecord{
			ID:            uuid.New().String(),
			TransactionID: tx.ID,
			StoreID:       plan[i].basket.StoreID,
			UserID:        buyer.ID,
			Items:         slices.Clone(plan[i].basket.Lines),
			Subtotal:      quote.Subtotal,
			Discounts:     quote.Discounts,
			Total:         quote.Total,
		}
		tx.Purchases = append(tx.Purchases, *plan[i].record)
	}
	tx.TotalAmount = tx.CalculateTotal()
	c.advance(ctx, tx, domain.StatusPriced)

	// Step 3: reserve, store by store and product by product in ID order.
	step = tx.BeginStep(domain.SagaStepReserveInventory)
	held, err := c.reserve(ctx, plan)
	if err != nil {
		step.Fail(err.Error())
		return c.abort(ctx, span, tx, abortReason(err), err)
	}
	step.Complete()
	c.advance(ctx, tx, domain.StatusReserved)

	// Step 4: charge.
	step = tx.BeginStep(domain.SagaStepChargePayment)
	charge, err := c.charge(ctx, tx)
	if err != nil || !charge.Confirmed() {
		var declined string
		if charge != nil {
			declined = charge.Reason
		}
		reason := gatewayFailure(err, declined)
		step.Fail(reason)
		c.releaseAll(ctx, held)
		tx.Step(domain.SagaStepReserveInventory).Compensate()
		return c.abort(ctx, span, tx, domain.AbortPaymentFailed, domain.PaymentFailed(tx.ID, reason))
	}
	tx.PaymentID = charge.PaymentID
	step.Complete()
	c.advance(ctx, tx, domain.StatusPaid)

	// Step 5: dispatch. Payment was captured, so a failure here commits the
	// stock and hands the transaction to an administrator.
	step = tx.BeginStep(domain.SagaStepDispatchSupply)
	dispatch, err := c.dispatch(ctx, tx)
	if err != nil || !dispatch.Confirmed() {
		var declined string
		if dispatch != nil {
			declined = dispatch.Reason
		}
		reason := gatewayFailure(err, declined)
		step.Fail(reason)
		c.commitAll(ctx, held)
		tx.BeginStep(domain.SagaStepCommitInventory).Complete()
		supplyErr := domain.SupplyFailed(tx.ID, reason)
		c.abort(ctx, span, tx, domain.AbortSupplyFailed, supplyErr)
		c.enqueue(tx)
		for _, p := range tx.Purchases {
			n := domain.NewNotification(domain.NotificationSupplyFailed, p.StoreID, buyer.ID)
			n.Attributes["transaction_id"] = tx.ID
			n.Attributes["payment_id"] = tx.PaymentID
			c.notify(ctx, n)
		}
		return tx, supplyErr
	}
	tx.DispatchID = dispatch.DispatchID
	step.Complete()
	c.advance(ctx, tx, domain.StatusSupplied)

	// Step 6: commit and record.
	step = tx.BeginStep(domain.SagaStepCommitInventory)
	c.commitAll(ctx, held)
	now := time.Now().UTC()
	for i := range plan {
		plan[i].record.PurchasedAt = now
		tx.Purchases[i].PurchasedAt = now
		plan[i].store.RecordPurchase(*plan[i].record)
	}
	step.Complete()
	c.advance(ctx, tx, domain.StatusCommitted)

	if err := c.purchases.Save(ctx, tx.Purchases); err != nil {
		c.logger.ErrorContext(ctx, "failed to archive purchases",
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := c.market.RemovePurchased(ctx, buyer.ID, tx.Purchases); err != nil {
		c.logger.ErrorContext(ctx, "failed to remove purchased items from cart",
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()),
		)
	}
	for _, p := range tx.Purchases {
		n := domain.NewNotification(domain.NotificationCheckoutComplete, p.StoreID, buyer.ID)
		n.Attributes["transaction_id"] = tx.ID
		n.Attributes["total"] = fmt.Sprintf("%d", p.Total)
		c.notify(ctx, n)
	}

	checkoutOutcomes.WithLabelValues(outcomeCommitted).Inc()
	span.SetStatus(codes.Ok, "")
	c.logger.InfoContext(ctx, "checkout committed",
		slog.String("transaction_id", tx.ID),
		slog.String("user_id", buyer.ID),
		slog.Int("stores", len(tx.Purchases)),
		slog.Int64("total_amount", tx.TotalAmount),
	)
	return tx, nil
}

// quote snapshots one store basket. A store or product that disappeared
// since it was added to the cart makes the cart invalid.
func (c *CheckoutCoordinator) quote(storeID string, basket domain.Basket) (*domain.StoreBasket, *store.Store, error) {
	st, err := c.market.lookup(storeID)
	if err == nil {
		var sb *domain.StoreBasket
		if sb, err = st.Quote(basket); err == nil {
			return sb, st, nil
		}
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		var appErr *apperrors.AppError
		msg := err.Error()
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		return nil, nil, apperrors.InvalidInput("cart is no longer valid: "+msg).WithDetail("store_id", storeID)
	}
	return nil, nil, err
}

// reserve takes every reservation or none. On failure the ones already
// acquired are released in reverse order.
func (c *CheckoutCoordinator) reserve(ctx context.Context, plan []storeCheckout) ([]heldReservation, error) {
	var held []heldReservation
	for _, p := range plan {
		for _, line := range p.basket.Lines {
			token, err := p.store.Reserve(line.ProductID, line.Quantity)
			if err != nil {
				c.releaseAll(ctx, held)
				if errors.Is(err, apperrors.ErrNotFound) {
					err = apperrors.InvalidInput("cart is no longer valid: product was removed").
						WithDetail("store_id", p.basket.StoreID).
						WithDetail("product_id", line.ProductID)
				}
				return nil, err
			}
			held = append(held, heldReservation{store: p.store, token: token})
		}
	}
	return held, nil
}

func (c *CheckoutCoordinator) releaseAll(ctx context.Context, held []heldReservation) {
	for i := len(held) - 1; i >= 0; i-- {
		h := held[i]
		if err := h.store.Release(h.token); err != nil {
			c.logger.ErrorContext(ctx, "failed to release reservation",
				slog.String("store_id", h.token.StoreID),
				slog.String("reservation_id", h.token.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *CheckoutCoordinator) commitAll(ctx context.Context, held []heldReservation) {
	for _, h := range held {
		if err := h.store.Commit(h.token); err != nil {
			c.logger.ErrorContext(ctx, "failed to commit reservation",
				slog.String("store_id", h.token.StoreID),
				slog.String("reservation_id", h.token.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *CheckoutCoordinator) charge(ctx context.Context, tx *domain.Transaction) (*domain.ChargeResult, error) {
	req := domain.ChargeRequest{TransactionID: tx.ID, UserID: tx.UserID, Amount: tx.TotalAmount}
	return withTimeout(ctx, c.timeouts.PaymentTimeout, func(ctx context.Context) (*domain.ChargeResult, error) {
		return c.payment.Charge(ctx, req)
	})
}

func (c *CheckoutCoordinator) dispatch(ctx context.Context, tx *domain.Transaction) (*domain.DispatchResult, error) {
	req := domain.DispatchRequest{TransactionID: tx.ID, UserID: tx.UserID}
	for _, p := range tx.Purchases {
		for _, it := range p.Items {
			req.Items = append(req.Items, domain.DispatchItem{StoreID: p.StoreID, ProductID: it.ProductID, Quantity: it.Quantity})
		}
	}
	return withTimeout(ctx, c.timeouts.SupplyTimeout, func(ctx context.Context) (*domain.DispatchResult, error) {
		return c.supply.Dispatch(ctx, req)
	})
}

// withTimeout runs fn under an optional deadline and gives up when the
// deadline passes even if fn does not return.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// gatewayFailure describes why a gateway call did not confirm.
func gatewayFailure(err error, reason string) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "provider timed out"
	case err != nil:
		return err.Error()
	case reason != "":
		return reason
	default:
		return "provider did not confirm"
	}
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrPolicyViolation):
		return domain.AbortPolicyViolation
	case errors.Is(err, domain.ErrInsufficientStock):
		return domain.AbortInsufficientStock
	case errors.Is(err, domain.ErrStoreClosed):
		return domain.AbortStoreClosed
	case errors.Is(err, domain.ErrPaymentFailed):
		return domain.AbortPaymentFailed
	case errors.Is(err, domain.ErrSupplyFailed):
		return domain.AbortSupplyFailed
	default:
		return domain.AbortInvalidCart
	}
}

func (c *CheckoutCoordinator) advance(ctx context.Context, tx *domain.Transaction, status string) {
	if err := tx.Advance(status); err != nil {
		c.logger.ErrorContext(ctx, "invalid transaction transition",
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *CheckoutCoordinator) abort(ctx context.Context, span trace.Span, tx *domain.Transaction, reason string, err error) (*domain.Transaction, error) {
	tx.Abort(reason, err.Error())
	checkoutOutcomes.WithLabelValues(reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	c.logger.WarnContext(ctx, "checkout aborted",
		slog.String("transaction_id", tx.ID),
		slog.String("user_id", tx.UserID),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	return tx, err
}

func (c *CheckoutCoordinator) notify(ctx context.Context, n domain.Notification) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.ErrorContext(ctx, "failed to publish notification",
			slog.String("type", n.Type),
			slog.String("store_id", n.StoreID),
			slog.String("error", err.Error()),
		)
	}
}

// --- Reconciliation ---

func (c *CheckoutCoordinator) enqueue(tx *domain.Transaction) {
	cp := *tx
	cp.Purchases = slices.Clone(tx.Purchases)
	cp.Steps = slices.Clone(tx.Steps)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue[tx.ID] = &domain.Reconciliation{Transaction: &cp, QueuedAt: time.Now().UTC()}
	c.queued = append(c.queued, tx.ID)
}

// ListReconciliations returns SupplyFailed transactions in the order they
// were queued. Resolved entries are included only when includeResolved is set.
func (c *CheckoutCoordinator) ListReconciliations(ctx context.Context, actor string, includeResolved bool) ([]domain.Reconciliation, error) {
	if !c.market.IsAdmin(ctx, actor) {
		return nil, apperrors.Forbidden("only system administrators may view the reconciliation queue")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Reconciliation, 0, len(c.queued))
	for _, id := range c.queued {
		r := c.queue[id]
		if r.IsResolved() && !includeResolved {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// ResolveReconciliation marks a queued transaction as handled.
func (c *CheckoutCoordinator) ResolveReconciliation(ctx context.Context, actor, transactionID, note string) (*domain.Reconciliation, error) {
	if !c.market.IsAdmin(ctx, actor) {
		return nil, apperrors.Forbidden("only system administrators may resolve reconciliations")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.queue[transactionID]
	if !ok {
		return nil, apperrors.NotFound("reconciliation", transactionID)
	}
	if r.IsResolved() {
		return nil, apperrors.Conflict("reconciliation " + transactionID + " is already resolved")
	}
	now := time.Now().UTC()
	r.ResolvedAt = &now
	r.ResolvedBy = actor
	r.Note = note

	c.logger.InfoContext(ctx, "reconciliation resolved",
		slog.String("transaction_id", transactionID),
		slog.String("actor", actor),
	)
	cp := *r
	return &cp, nil
}
