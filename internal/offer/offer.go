// Package offer coordinates a peer-to-peer exchange over a posted listing.
//
// Flow:
//  1. Buyer creates an offer on a listing (pending)
//  2. Listing owner accepts or rejects; buyer may withdraw
//  3. Pickup deliveries run a proposal/counter-proposal scheduling cycle
//     until a concrete slot is agreed (confirmed)
//  4. Both parties verify completion independently (completed)
//  5. Buyer may leave a review (reviewed)
//
// Every transition requires the expected prior status and is persisted with
// an optimistic version check, so two parties racing on the same offer get
// a conflict error instead of a lost update.
package offer

import (
	"context"
	"errors"
	"time"

	"github.com/openclassifieds/handoff/internal/listing"
)

var (
	ErrOfferNotFound          = errors.New("offer not found")
	ErrProposalNotFound       = errors.New("pickup proposal not found")
	ErrInvalidTransition      = errors.New("transition not permitted from current status")
	ErrUnauthorized           = errors.New("not authorized for this operation")
	ErrValidation             = errors.New("invalid input")
	ErrConcurrentModification = errors.New("offer was modified concurrently, refetch and retry")
	ErrSelfOffer              = errors.New("cannot make an offer on your own listing")
	ErrActiveProposal         = errors.New("an active pickup proposal already exists")
	ErrNoActiveProposal       = errors.New("no active pickup proposal awaiting a response")
)

// Status represents the state of an offer.
type Status string

const (
	StatusPending            Status = "pending"
	StatusAccepted           Status = "accepted"
	StatusRejected           Status = "rejected"
	StatusWithdrawn          Status = "withdrawn"
	StatusExpired            Status = "expired"
	StatusPickupScheduling   Status = "pickup_scheduling"
	StatusPickupRescheduling Status = "pickup_rescheduling"
	StatusConfirmed          Status = "confirmed"
	StatusSellerVerified     Status = "seller_verified"
	StatusBuyerVerified      Status = "buyer_verified"
	StatusCompleted          Status = "completed"
	StatusReviewed           Status = "reviewed"
	StatusCancelled          Status = "cancelled"
)

// transitions is the offer state graph. An edge missing here means the
// transition fails with ErrInvalidTransition no matter who asks.
var transitions = map[Status][]Status{
	StatusPending:            {StatusAccepted, StatusRejected, StatusWithdrawn, StatusExpired},
	StatusAccepted:           {StatusPickupScheduling, StatusConfirmed},
	StatusPickupScheduling:   {StatusConfirmed, StatusPickupRescheduling, StatusCancelled},
	StatusPickupRescheduling: {StatusConfirmed, StatusPickupRescheduling, StatusCancelled},
	StatusConfirmed:          {StatusSellerVerified, StatusBuyerVerified, StatusCancelled},
	StatusSellerVerified:     {StatusCompleted, StatusCancelled},
	StatusBuyerVerified:      {StatusCompleted, StatusCancelled},
	StatusCompleted:          {StatusReviewed},
}

// CanTransition reports whether the state graph has an edge from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// ItemLine is a single offered item: either goods traded in, or the listed
// good itself with the quantity asked for.
type ItemLine struct {
	ItemID    string `json:"itemId"`
	Quantity  int    `json:"quantity"`
	Condition string `json:"condition,omitempty"`
}

// Offer represents a proposal to exchange money and/or items for a
// listed good.
type Offer struct {
	ID             string           `json:"id"`
	ListingID      string           `json:"listingId"`
	BuyerID        string           `json:"buyerId"`
	SellerID       string           `json:"sellerId"`
	Status         Status           `json:"status"`
	Delivery       listing.Delivery `json:"delivery"`
	Amount         string           `json:"amount,omitempty"`
	Currency       string           `json:"currency,omitempty"`
	Items          []ItemLine       `json:"items,omitempty"`
	Message        string           `json:"message,omitempty"`
	SellerVerified bool             `json:"sellerVerified"`
	BuyerVerified  bool             `json:"buyerVerified"`
	CancelReason   string           `json:"cancelReason,omitempty"`
	ExpiresAt      time.Time        `json:"expiresAt"`
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// IsTerminal returns true if the offer is in a final state.
func (o *Offer) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// IsParty reports whether the given user is the buyer or the seller.
func (o *Offer) IsParty(userID string) bool {
	return userID == o.BuyerID || userID == o.SellerID
}

// Counterpart returns the other party of the exchange, or "" if the given
// user is not a party.
func (o *Offer) Counterpart(userID string) string {
	switch userID {
	case o.BuyerID:
		return o.SellerID
	case o.SellerID:
		return o.BuyerID
	}
	return ""
}

// Store persists offers and pickup proposals. UpdateOffer and
// UpdateProposal compare the record's Version against the persisted one
// and fail with ErrConcurrentModification on mismatch; on success the
// Version on the passed record is incremented.
type Store interface {
	// Offer operations
	CreateOffer(ctx context.Context, o *Offer) error
	GetOffer(ctx context.Context, id string) (*Offer, error)
	UpdateOffer(ctx context.Context, o *Offer) error
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Offer, error)
	ListByListing(ctx context.Context, listingID string, limit int) ([]*Offer, error)
	ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]*Offer, error)

	// Proposal operations
	CreateProposal(ctx context.Context, p *PickupProposal) error
	GetProposal(ctx context.Context, id string) (*PickupProposal, error)
	GetActiveProposal(ctx context.Context, offerID string) (*PickupProposal, error)
	UpdateProposal(ctx context.Context, p *PickupProposal) error
	ListProposalsByOffer(ctx context.Context, offerID string) ([]*PickupProposal, error)
}

// ListingProvider resolves listing snapshots for role and rule checks.
type ListingProvider interface {
	Get(ctx context.Context, id string) (*listing.Listing, error)
}

// Notifier receives state-change notifications. Implementations fan the
// event out (webhooks, live streams); all methods must be non-blocking
// from the caller's point of view and never return errors.
type Notifier interface {
	OfferEvent(eventType string, o *Offer)
	PickupEvent(eventType string, o *Offer, p *PickupProposal)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OfferEvent(string, *Offer)                   {}
func (NopNotifier) PickupEvent(string, *Offer, *PickupProposal) {}

// Event type names published by the service.
const (
	EventOfferCreated     = "offer.created"
	EventOfferAccepted    = "offer.accepted"
	EventOfferRejected    = "offer.rejected"
	EventOfferWithdrawn   = "offer.withdrawn"
	EventOfferExpired     = "offer.expired"
	EventOfferConfirmed   = "offer.confirmed"
	EventOfferVerified    = "offer.verified"
	EventOfferCompleted   = "offer.completed"
	EventOfferCancelled   = "offer.cancelled"
	EventOfferReviewed    = "offer.reviewed"
	EventPickupProposed   = "pickup.proposed"
	EventPickupAccepted   = "pickup.accepted"
	EventPickupDeclined   = "pickup.declined"
	EventPickupDatesAdded = "pickup.dates_added"
)
