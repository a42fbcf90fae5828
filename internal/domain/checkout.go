package domain

import (
	"fmt"
	"time"
)

// Checkout transaction status constants. A transaction moves forward through
// priced, reserved, paid, supplied and committed, or ends in aborted.
const (
	StatusPriced    = "priced"
	StatusReserved  = "reserved"
	StatusPaid      = "paid"
	StatusSupplied  = "supplied"
	StatusCommitted = "committed"
	StatusAborted   = "aborted"
)

// Abort reason constants.
const (
	AbortPolicyViolation   = "policy_violation"
	AbortInsufficientStock = "insufficient_stock"
	AbortPaymentFailed     = "payment_failed"
	AbortSupplyFailed      = "supply_failed"
	AbortStoreClosed       = "store_closed"
	AbortInvalidCart       = "invalid_cart"
)

var statusOrder = map[string]int{
	StatusPriced:    1,
	StatusReserved:  2,
	StatusPaid:      3,
	StatusSupplied:  4,
	StatusCommitted: 5,
}

// LineItem is one priced product within a store basket.
type LineItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// Subtotal returns unit price times quantity.
func (l LineItem) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// AppliedDiscount records the effect of one discount rule.
type AppliedDiscount struct {
	RuleID string `json:"rule_id"`
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

// PriceQuote is the priced outcome of one store basket.
type PriceQuote struct {
	Subtotal  int64             `json:"subtotal"`
	Discounts []AppliedDiscount `json:"discounts,omitempty"`
	Total     int64             `json:"total"`
}

// Buyer is the purchasing identity as supplied by the identity provider.
type Buyer struct {
	ID  string `json:"id"`
	Age int    `json:"age,omitempty"`
}

// StoreBasket is a consistent snapshot of one store's basket, taken under the
// store's lock, carrying everything the policy engine needs.
type StoreBasket struct {
	StoreID        string         `json:"store_id"`
	Lines          []LineItem     `json:"lines"`
	PurchasePolicy PurchaseRule   `json:"-"`
	DiscountPolicy []DiscountRule `json:"-"`
}

// Subtotal sums every line.
func (b *StoreBasket) Subtotal() int64 {
	var total int64
	for _, l := range b.Lines {
		total += l.Subtotal()
	}
	return total
}

// TotalQuantity sums every line's quantity.
func (b *StoreBasket) TotalQuantity() int {
	var n int
	for _, l := range b.Lines {
		n += l.Quantity
	}
	return n
}

// PurchaseRecord is one store's share of a committed transaction.
type PurchaseRecord struct {
	ID            string            `json:"id"`
	TransactionID string            `json:"transaction_id"`
	StoreID       string            `json:"store_id"`
	UserID        string            `json:"user_id"`
	Items         []LineItem        `json:"items"`
	Subtotal      int64             `json:"subtotal"`
	Discounts     []AppliedDiscount `json:"discounts,omitempty"`
	Total         int64             `json:"total"`
	PurchasedAt   time.Time         `json:"purchased_at"`
}

// QuantityOf returns the purchased quantity of a product in this record.
func (r *PurchaseRecord) QuantityOf(productID string) int {
	var n int
	for _, it := range r.Items {
		if it.ProductID == productID {
			n += it.Quantity
		}
	}
	return n
}

// Transaction is the state of one checkout.
type Transaction struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Status        string           `json:"status"`
	AbortReason   string           `json:"abort_reason,omitempty"`
	FailureDetail string           `json:"failure_detail,omitempty"`
	Purchases     []PurchaseRecord `json:"purchases"`
	TotalAmount   int64            `json:"total_amount"`
	PaymentID     string           `json:"payment_id,omitempty"`
	DispatchID    string           `json:"dispatch_id,omitempty"`
	Steps         []SagaStep       `json:"steps"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewTransaction starts a transaction for userID.
func NewTransaction(id, userID string) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CalculateTotal sums the per-store totals.
func (t *Transaction) CalculateTotal() int64 {
	var total int64
	for _, p := range t.Purchases {
		total += p.Total
	}
	return total
}

// Advance moves the transaction to a later non-terminal status.
func (t *Transaction) Advance(status string) error {
	if t.IsTerminal() {
		return fmt.Errorf("transaction %s is already %s", t.ID, t.Status)
	}
	next, ok := statusOrder[status]
	if !ok {
		return fmt.Errorf("unknown transaction status %q", status)
	}
	if next <= statusOrder[t.Status] {
		return fmt.Errorf("cannot move transaction %s from %q to %q", t.ID, t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Abort moves the transaction to the terminal aborted status.
func (t *Transaction) Abort(reason, detail string) {
	if t.IsTerminal() {
		return
	}
	t.Status = StatusAborted
	t.AbortReason = reason
	t.FailureDetail = detail
	t.UpdatedAt = time.Now().UTC()
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCommitted || t.Status == StatusAborted
}

// NeedsReconciliation is true for the one abort that leaves committed stock behind.
func (t *Transaction) NeedsReconciliation() bool {
	return t.Status == StatusAborted && t.AbortReason == AbortSupplyFailed
}

// Reconciliation is a SupplyFailed transaction awaiting administrative action.
type Reconciliation struct {
	Transaction *Transaction `json:"transaction"`
	QueuedAt    time.Time    `json:"queued_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy  string       `json:"resolved_by,omitempty"`
	Note        string       `json:"note,omitempty"`
}

// IsResolved reports whether an administrator closed the entry.
func (r *Reconciliation) IsResolved() bool {
	return r.ResolvedAt != nil
}
