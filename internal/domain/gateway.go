package domain

// Gateway result status constants. Anything other than confirmed is a failure.
const (
	GatewayStatusConfirmed = "confirmed"
	GatewayStatusDeclined  = "declined"
)

// ChargeRequest asks the payment provider to capture amount from the buyer.
type ChargeRequest struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
}

// ChargeResult is the payment provider's answer.
type ChargeResult struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// Confirmed reports whether the charge went through.
func (r *ChargeResult) Confirmed() bool {
	return r != nil && r.Status == GatewayStatusConfirmed
}

// DispatchItem is one line handed to the supply provider.
type DispatchItem struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// DispatchRequest asks the supply provider to ship a committed checkout.
type DispatchRequest struct {
	TransactionID string         `json:"transaction_id"`
	UserID        string         `json:"user_id"`
	Items         []DispatchItem `json:"items"`
}

// DispatchResult is the supply provider's answer.
type DispatchResult struct {
	DispatchID string `json:"dispatch_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// Confirmed reports whether the shipment was accepted.
func (r *DispatchResult) Confirmed() bool {
	return r != nil && r.Status == GatewayStatusConfirmed
}
