// Package listing holds read-only listing snapshots consumed by the
// exchange coordination core. The catalog itself (search, images, editing)
// lives in a separate system; this package only keeps what offer handling
// needs: who owns the listing, what kind of listing it is, and how it may
// be handed over.
package listing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound    = errors.New("listing not found")
	ErrInvalidType = errors.New("invalid listing type")
)

// Type distinguishes listing variants. Pricing and hand-over rules match
// on it exhaustively; adding a variant means every switch below must be
// extended, which the compiler flags via the tests in listing_test.go.
type Type string

const (
	TypeSale    Type = "sale"
	TypeTrade   Type = "trade"
	TypeGift    Type = "gift"
	TypeAuction Type = "auction"
)

// ParseType validates a listing type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeSale, TypeTrade, TypeGift, TypeAuction:
		return Type(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Reviewable reports whether completed exchanges over this listing type
// accept a post-transaction review. Gifts are excluded.
func (t Type) Reviewable() bool {
	switch t {
	case TypeSale, TypeTrade, TypeAuction:
		return true
	case TypeGift:
		return false
	}
	return false
}

// RequiresAmount reports whether an offer on this listing type must carry
// a monetary amount.
func (t Type) RequiresAmount() bool {
	switch t {
	case TypeSale, TypeAuction:
		return true
	case TypeTrade, TypeGift:
		return false
	}
	return false
}

// Delivery is how a completed exchange is handed over.
type Delivery string

const (
	DeliveryPickup   Delivery = "pickup"
	DeliveryShipping Delivery = "shipping"
)

// ParseDelivery validates a delivery type string.
func ParseDelivery(s string) (Delivery, error) {
	switch Delivery(s) {
	case DeliveryPickup, DeliveryShipping:
		return Delivery(s), nil
	}
	return "", fmt.Errorf("invalid delivery type: %q", s)
}

// Listing is a snapshot of a posted good.
type Listing struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	Title          string     `json:"title"`
	Type           Type       `json:"type"`
	Price          string     `json:"price,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	PickupLocation string     `json:"pickupLocation,omitempty"`
	Deliveries     []Delivery `json:"deliveries"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Allows reports whether the listing permits the given delivery type.
func (l *Listing) Allows(d Delivery) bool {
	for _, have := range l.Deliveries {
		if have == d {
			return true
		}
	}
	return false
}

// Store persists listing snapshots.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error)
}
