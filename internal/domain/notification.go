package domain

import "time"

// Notification type constants.
const (
	NotificationStaffRevoked     = "staff.revoked"
	NotificationStaffAppointed   = "staff.appointed"
	NotificationStoreClosed      = "store.closed"
	NotificationStoreReopened    = "store.reopened"
	NotificationCheckoutComplete = "checkout.completed"
	NotificationSupplyFailed     = "checkout.supply_failed"
)

// Notification is a store-scoped event addressed to one user. Delivery is
// somebody else's job.
type Notification struct {
	Type       string            `json:"type"`
	StoreID    string            `json:"store_id,omitempty"`
	Recipient  string            `json:"recipient"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewNotification builds a notification stamped with the current time.
func NewNotification(kind, storeID, recipient string) Notification {
	return Notification{
		Type:       kind,
		StoreID:    storeID,
		Recipient:  recipient,
		Attributes: make(map[string]string),
		OccurredAt: time.Now().UTC(),
	}
}
