package domain

import (
	"slices"
	"strings"
	"time"
)

// StoreState is the lifecycle state of a store.
type StoreState string

// Store state constants.
const (
	StoreStateOpen              StoreState = "open"
	StoreStateTemporarilyClosed StoreState = "temporarily_closed"
	StoreStatePermanentlyClosed StoreState = "permanently_closed"
)

// IsTerminal reports whether no further transition is possible.
func (s StoreState) IsTerminal() bool {
	return s == StoreStatePermanentlyClosed
}

// Product is an item listed by a store.
type Product struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Category  string    `json:"category"`
	Keywords  []string  `json:"keywords,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasKeyword reports a case-insensitive keyword match.
func (p *Product) HasKeyword(keyword string) bool {
	return slices.ContainsFunc(p.Keywords, func(k string) bool {
		return strings.EqualFold(k, keyword)
	})
}

// ProductListing is a product together with its current availability.
type ProductListing struct {
	Product
	Available int `json:"available"`
}

// StoreInfo is the public view of a store.
type StoreInfo struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Founder   string           `json:"founder,omitempty"`
	FoundedAt time.Time        `json:"founded_at"`
	State     StoreState       `json:"state"`
	Products  []ProductListing `json:"products"`
}

// ProductQuery filters a product search. Empty fields match everything.
type ProductQuery struct {
	Name     string
	Category string
	Keyword  string
}

// Matches reports whether p satisfies every non-empty filter.
func (q ProductQuery) Matches(p *Product) bool {
	if q.Name != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.Name)) {
		return false
	}
	if q.Category != "" && !strings.EqualFold(p.Category, q.Category) {
		return false
	}
	if q.Keyword != "" && !p.HasKeyword(q.Keyword) {
		return false
	}
	return true
}
