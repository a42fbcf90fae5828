package domain

import (
	"time"
)

// Reservation status constants.
const (
	ReservationStatusPending   = "pending"
	ReservationStatusCommitted = "committed"
	ReservationStatusReleased  = "released"
)

// ReservationToken identifies a pending decrement of one product's stock.
type ReservationToken struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

// StockLevel is a point-in-time view of one product's inventory.
type StockLevel struct {
	ProductID   string `json:"product_id"`
	Available   int    `json:"available"`
	Outstanding int    `json:"outstanding"`
}
