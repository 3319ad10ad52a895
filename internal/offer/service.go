package offer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/openclassifieds/handoff/internal/idgen"
	"github.com/openclassifieds/handoff/internal/listing"
	"github.com/openclassifieds/handoff/internal/metrics"
	"github.com/openclassifieds/handoff/internal/syncutil"
	"github.com/openclassifieds/handoff/internal/traces"
)

// DefaultPendingTTL is how long a pending offer waits for the listing
// owner before expiring.
const DefaultPendingTTL = 7 * 24 * time.Hour

// Service implements offer lifecycle, pickup negotiation, and
// transaction verification logic.
type Service struct {
	store    Store
	listings ListingProvider
	notifier Notifier
	ttl      time.Duration

	// locks serializes the two parties inside one process; cross-process
	// races are caught by the store's version check.
	locks syncutil.ShardedMutex
}

// NewService creates a new offer service.
func NewService(store Store, listings ListingProvider) *Service {
	return &Service{
		store:    store,
		listings: listings,
		notifier: NopNotifier{},
		ttl:      DefaultPendingTTL,
	}
}

// WithNotifier adds a state-change notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithPendingTTL overrides the pending-offer deadline.
func (s *Service) WithPendingTTL(d time.Duration) *Service {
	if d > 0 {
		s.ttl = d
	}
	return s
}

// CreateRequest contains the parameters for creating an offer.
type CreateRequest struct {
	ListingID string     `json:"listingId" binding:"required"`
	Delivery  string     `json:"delivery" binding:"required"`
	Amount    string     `json:"amount"`
	Currency  string     `json:"currency"`
	Items     []ItemLine `json:"items"`
	Message   string     `json:"message"`
}

// Create creates a new pending offer on a listing.
func (s *Service) Create(ctx context.Context, buyerID string, req CreateRequest) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offer.Create", traces.ListingID(req.ListingID))
	defer span.End()

	l, err := s.listings.Get(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}

	if buyerID == "" {
		return nil, fmt.Errorf("%w: missing actor identity", ErrValidation)
	}
	if buyerID == l.OwnerID {
		return nil, ErrSelfOffer
	}

	delivery, err := listing.ParseDelivery(req.Delivery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !l.Allows(delivery) {
		return nil, fmt.Errorf("%w: listing does not allow %s delivery", ErrValidation, delivery)
	}

	if req.Amount != "" {
		amount, err := strconv.ParseFloat(req.Amount, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("%w: amount must be a positive number", ErrValidation)
		}
	} else if l.Type.RequiresAmount() {
		return nil, fmt.Errorf("%w: %s listings require a monetary amount", ErrValidation, l.Type)
	}

	for _, line := range req.Items {
		if line.ItemID == "" || line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item lines need an item id and a positive quantity", ErrValidation)
		}
	}

	now := time.Now()
	o := &Offer{
		ID:        idgen.WithPrefix("off_"),
		ListingID: l.ID,
		BuyerID:   buyerID,
		SellerID:  l.OwnerID,
		Status:    StatusPending,
		Delivery:  delivery,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Items:     req.Items,
		Message:   strings.TrimSpace(req.Message),
		ExpiresAt: now.Add(s.ttl),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateOffer(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	metrics.OffersCreatedTotal.Inc()
	s.notifier.OfferEvent(EventOfferCreated, o)
	return o, nil
}

// Accept moves a pending offer to accepted. Only the listing owner may
// accept. Shipping offers skip scheduling and land directly in confirmed.
func (s *Service) Accept(ctx context.Context, offerID, actorID string) (*Offer, error) {
	unlock := s.locks.Lock(offerID)
	defer unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	if o.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	if actorID != o.SellerID {
		return nil, ErrUnauthorized
	}

	o.Status = StatusAccepted
	if o.Delivery == listing.DeliveryShipping {
		// No scheduling cycle for shipped goods: accepted and confirmed
		// are a single step.
		o.Status = StatusConfirmed
	}
	o.UpdatedAt = time.Now()

	if err := s.store.UpdateOffer(ctx, o); err != nil {
		return nil, err
	}

	metrics.OffersAcceptedTotal.Inc()
	s.notifier.OfferEvent(EventOfferAccepted, o)
	if o.Status == StatusConfirmed {
		s.notifier.OfferEvent(EventOfferConfirmed, o)
	}
	return o, nil
}

// Reject moves a pending offer to rejected. Only the listing owner may
// reject.
func (s *Service) Reject(ctx context.Context, offerID, actorID string) (*Offer, error) {
	return s.closePending(ctx, offerID, actorID, StatusRejected)
}

// Withdraw moves a pending offer to withdrawn. Only the offering party
// may withdraw.
func (s *Service) Withdraw(ctx context.Context, offerID, actorID string) (*Offer, error) {
	return s.closePending(ctx, offerID, actorID, StatusWithdrawn)
}

func (s *Service) closePending(ctx context.Context, offerID, actorID string, to Status) (*Offer, error) {
	unlock := s.locks.Lock(offerID)
	defer unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	if o.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	switch to {
	case StatusRejected:
		if actorID != o.SellerID {
			return nil, ErrUnauthorized
		}
	case StatusWithdrawn:
		if actorID != o.BuyerID {
			return nil, ErrUnauthorized
		}
	default:
		return nil, ErrInvalidTransition
	}

	o.Status = to
	o.UpdatedAt = time.Now()

	if err := s.store.UpdateOffer(ctx, o); err != nil {
		return nil, err
	}

	if to == StatusRejected {
		s.notifier.OfferEvent(EventOfferRejected, o)
	} else {
		s.notifier.OfferEvent(EventOfferWithdrawn, o)
	}
	return o, nil
}

// ProposeRequest contains the parameters for a pickup proposal.
type ProposeRequest struct {
	Dates       []string `json:"dates" binding:"required"`
	WindowStart string   `json:"windowStart" binding:"required"`
	WindowEnd   string   `json:"windowEnd" binding:"required"`
	Location    string   `json:"location"`
	Details     string   `json:"details"`
}

// ProposePickup opens a scheduling cycle: legal from accepted or
// pickup_rescheduling, by either party, while no proposal is awaiting a
// response. The proposing party then waits for the counterpart to accept
// or decline.
func (s *Service) ProposePickup(ctx context.Context, offerID, actorID string, req ProposeRequest) (*Offer, *PickupProposal, error) {
	unlock := s.locks.Lock(offerID)
	defer unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}

	if o.Status != StatusAccepted && o.Status != StatusPickupRescheduling {
		return nil, nil, ErrInvalidTransition
	}
	if o.Delivery != listing.DeliveryPickup {
		return nil, nil, ErrInvalidTransition
	}
	if !o.IsParty(actorID) {
		return nil, nil, ErrUnauthorized
	}
	if _, err := s.store.GetActiveProposal(ctx, offerID); err == nil {
		return nil, nil, ErrActiveProposal
	}

	dates, err := normalizeDates(req.Dates)
	if err != nil {
		return nil, nil, err
	}
	if err := validateWindow(req.WindowStart, req.WindowEnd); err != nil {
		return nil, nil, err
	}

	location := strings.TrimSpace(req.Location)
	if location == "" {
		if l, err := s.listings.Get(ctx, o.ListingID); err == nil {
			location = l.PickupLocation
		}
	}
	if location == "" {
		return nil, nil, fmt.Errorf("%w: pickup location required", ErrValidation)
	}

	now := time.Now()
	p := &PickupProposal{
		ID:          idgen.WithPrefix("prop_"),
		OfferID:     o.ID,
		ProposerID:  actorID,
		Dates:       dates,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
		Location:    location,
		Details:     strings.TrimSpace(req.Details),
		Status:      ProposalProposed,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateProposal(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("failed to create pickup proposal: %w", err)
	}

	if o.Status == StatusAccepted {
		o.Status = StatusPickupScheduling
	}
	o.UpdatedAt = now
	if err := s.store.UpdateOffer(ctx, o); err != nil {
		// The offer moved under us; retract the proposal so no orphaned
		// active proposal survives the conflict.
		p.Status = ProposalCancelled
		p.UpdatedAt = time.Now()
		if uerr := s.store.UpdateProposal(ctx, p); uerr != nil {
			log.Printf("WARNING: failed to retract proposal %s after offer conflict: %v", p.ID, uerr)
		}
		return nil, nil, err
	}

	metrics.PickupProposalsTotal.Inc()
	s.notifier.PickupEvent(EventPickupProposed, o, p)
	return o, p, nil
}

// AcceptPickupRequest selects a concrete slot from the active proposal.
type AcceptPickupRequest struct {
	Date string `json:"date" binding:"required"` // must be one of the proposal's dates
	Time string `json:"time" binding:"required"` // "HH:MM" within the window
}

// AcceptPickup finalizes the active proposal: only the responding party
// (not the proposer) may accept, and the slot must fall inside the
// proposed candidates and window. The offer advances to confirmed.
func (s *Service) AcceptPickup(ctx context.Context, offerID, actorID string, req AcceptPickupRequest) (*Offer, *PickupProposal, error) {
	ctx, span := traces.StartSpan(ctx, "offer.AcceptPickup", traces.OfferID(offerID))
	defer span.End()

	unlock := s.locks.Lock(offerID)
	defer unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}

	if o.Status != StatusPickupScheduling && o.Status != StatusPickupRescheduling {
		return nil, nil, ErrInvalidTransition
	}

	p, err := s.store.GetActiveProposal(ctx, offerID)
	if err != nil {
		return nil, nil, ErrNoActiveProposal
	}

	if !o.IsParty(actorID) || actorID == p.ProposerID {
		return nil, nil, ErrUnauthorized
	}

	if !p.HasDate(req.Date) {
		return nil, nil, fmt.Errorf("%w: date %s is not among the proposed candidates", ErrValidation, req.Date)
	}
	if !p.InWindow(req.Time) {
		return nil, nil, fmt.Errorf("%w: time %s is outside the window %s-%s", ErrValidation, req.Time, p.WindowStart, p.WindowEnd)
	}

	// The proposal settles before the offer advances: if the offer
	// update then conflicts, the proposal is reopened, so an active
	// proposal only ever exists alongside a scheduling status.
	now := time.Now()
	p.Status = ProposalAccepted
	p.SelectedDate = req.Date
	p.SelectedTime = req.Time
	p.UpdatedAt = now
	if err := s.store.UpdateProposal(ctx, p); err != nil {
		return nil, nil, err
	}

	o.Status = StatusConfirmed
	o.UpdatedAt = now
	if err := s.store.UpdateOffer(ctx, o); err != nil {
		p.Status = ProposalProposed
		p.SelectedDate = ""
		p.SelectedTime = ""
		p.UpdatedAt = time.Now()
		if uerr := s.store.UpdateProposal(ctx, p); uerr != nil {
			log.Printf("WARNING: failed to reopen proposal %s after offer conflict: %v", p.ID, uerr)
		}
		return nil, nil, err
	}

	if all, err := s.store.ListProposalsByOffer(ctx, offerID); err == nil {
		metrics.PickupCyclesPerOffer.Observe(float64(len(all)))
	}

	metrics.OffersConfirmedTotal.Inc()
	s.notifier.PickupEvent(EventPickupAccepted, o, p)
	s.notifier.OfferEvent(EventOfferConfirmed, o)
	return o, p, nil
}

// DeclinePickup declines the active proposal. The decliner must then
// either reschedule (opening a new cycle) or cancel the offer; neither
// follow-up is automatic.
func (s *Service) DeclinePickup(ctx context.Context, offerID, actorID string) (*PickupProposal, error) {
	unlock := s.locks.Lock(offerID)
	defer unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	if o.Status != StatusPickupScheduling && o.Status != StatusPickupRescheduling {
		return nil, ErrInvalidTransition
	}

	p, err := s.store.GetActiveProposal(ctx, offerID)
	if err != nil {
		return nil, ErrNoActiveProposal
	}

	if !o.IsParty(actorID) || actorID == p.ProposerID {
		return nil, ErrUnauthorized
	}

	p.Status = ProposalDeclined
	p.UpdatedAt = time.Now()
	if err := s.store.UpdateProposal(ctx, p); err != nil {
		return nil, err
	}

	s.notifier.PickupEvent(EventPickupDeclined, o, p)
	return p, nil
}

// ReschedulePickup opens a new scheduling cycle after a decline. Either
// party may follow up with a fresh proposal.
func (s *Service) ReschedulePickup(ctx context.Context, offerID, actorID string) (*Offer, error) {
	unlock := s.locks.Lock(offerID)
	defer unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	if o.Status != StatusPickupScheduling && o.Status != StatusPickupRescheduling {
		return nil, ErrInvalidTransition
	}
	if !o.IsParty(actorID) {
		return nil, ErrUnauthorized
	}
	if _, err := s.store.GetActiveProposal(ctx, offerID); err == nil {
		return nil, ErrActiveProposal
	}

	o.Status = StatusPickupRescheduling
	o.UpdatedAt = time.Now()
	if err := s.store.UpdateOffer(ctx, o); err != nil {
		return nil, err
	}

	return o, nil
}

// AddPickupDates unions extra candidate dates into the active proposal.
// Only the proposer may extend; the existing set is kept, deduplicated,
// ascending.
func (s *Service) AddPickupDates(ctx context.Context, offerID, actorID string, dates []string) (*PickupProposal, error) {
	unlock := s.locks.Lock(offerID)
	defer unlock()

	p, err := s.store.GetActiveProposal(ctx, offerID)
	if err != nil {
		return nil, ErrNoActiveProposal
	}

	if actorID != p.ProposerID {
		return nil, ErrUnauthorized
	}

	merged, err := unionDates(p.Dates, dates)
	if err != nil {
		return nil, err
	}

	p.Dates = merged
	p.UpdatedAt = time.Now()
	if err := s.store.UpdateProposal(ctx, p); err != nil {
		return nil, err
	}

	if o, err := s.store.GetOffer(ctx, offerID); err == nil {
		s.notifier.PickupEvent(EventPickupDatesAdded, o, p)
	}
	return p, nil
}

// Verify records a party's attestation that the exchange completed. The
// first verification moves the offer to seller_verified or
// buyer_verified; the opposite party's verification completes it. The
// orderings commute.
func (s *Service) Verify(ctx context.Context, offerID, actorID string) (*Offer, error) {
	ctx, span := traces.StartSpan(ctx, "offer.Verify", traces.OfferID(offerID))
	defer span.End()

	unlock := s.locks.Lock(offerID)
	defer unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case StatusConfirmed, StatusSellerVerified, StatusBuyerVerified:
	default:
		return nil, ErrInvalidTransition
	}
	if !o.IsParty(actorID) {
		return nil, ErrUnauthorized
	}

	switch actorID {
	case o.SellerID:
		if o.SellerVerified {
			return nil, ErrInvalidTransition
		}
		o.SellerVerified = true
	case o.BuyerID:
		if o.BuyerVerified {
			return nil, ErrInvalidTransition
		}
		o.BuyerVerified = true
	}

	switch {
	case o.SellerVerified && o.BuyerVerified:
		o.Status = StatusCompleted
	case o.SellerVerified:
		o.Status = StatusSellerVerified
	default:
		o.Status = StatusBuyerVerified
	}
	o.UpdatedAt = time.Now()

	if err := s.store.UpdateOffer(ctx, o); err != nil {
		return nil, err
	}

	s.notifier.OfferEvent(EventOfferVerified, o)
	if o.Status == StatusCompleted {
		metrics.OffersCompletedTotal.Inc()
		s.notifier.OfferEvent(EventOfferCompleted, o)
	}
	return o, nil
}

// CancelTransaction cancels an exchange after acceptance: legal during
// scheduling and verification, by either party. Any active proposal is
// cancelled alongside.
func (s *Service) CancelTransaction(ctx context.Context, offerID, actorID, reason string) (*Offer, error) {
	unlock := s.locks.Lock(offerID)
	defer unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case StatusPickupScheduling, StatusPickupRescheduling,
		StatusConfirmed, StatusSellerVerified, StatusBuyerVerified:
	default:
		return nil, ErrInvalidTransition
	}
	if !o.IsParty(actorID) {
		return nil, ErrUnauthorized
	}

	now := time.Now()
	if p, err := s.store.GetActiveProposal(ctx, offerID); err == nil {
		p.Status = ProposalCancelled
		p.UpdatedAt = now
		if uerr := s.store.UpdateProposal(ctx, p); uerr != nil {
			log.Printf("WARNING: failed to cancel proposal %s for offer %s: %v", p.ID, o.ID, uerr)
		}
	}

	o.Status = StatusCancelled
	o.CancelReason = strings.TrimSpace(reason)
	o.UpdatedAt = now

	if err := s.store.UpdateOffer(ctx, o); err != nil {
		return nil, err
	}

	metrics.OffersCancelledTotal.Inc()
	s.notifier.OfferEvent(EventOfferCancelled, o)
	return o, nil
}

// MarkReviewed advances a completed offer to reviewed. Eligibility is
// the review service's concern; this only enforces the state graph.
func (s *Service) MarkReviewed(ctx context.Context, offerID string) (*Offer, error) {
	unlock := s.locks.Lock(offerID)
	defer unlock()

	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	if o.Status != StatusCompleted {
		return nil, ErrInvalidTransition
	}

	o.Status = StatusReviewed
	o.UpdatedAt = time.Now()
	if err := s.store.UpdateOffer(ctx, o); err != nil {
		return nil, err
	}

	s.notifier.OfferEvent(EventOfferReviewed, o)
	return o, nil
}

// Get returns an offer by ID.
func (s *Service) Get(ctx context.Context, id string) (*Offer, error) {
	return s.store.GetOffer(ctx, id)
}

// ListProposals returns all proposals for an offer, newest first,
// including superseded ones.
func (s *Service) ListProposals(ctx context.Context, offerID string) ([]*PickupProposal, error) {
	if _, err := s.store.GetOffer(ctx, offerID); err != nil {
		return nil, err
	}
	return s.store.ListProposalsByOffer(ctx, offerID)
}

// ListByUser returns offers where the user is buyer ("buyer", default)
// or seller ("seller").
func (s *Service) ListByUser(ctx context.Context, userID, role string, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	if role == "seller" {
		return s.store.ListBySeller(ctx, userID, limit)
	}
	return s.store.ListByBuyer(ctx, userID, limit)
}

// ListByListing returns offers made on a listing.
func (s *Service) ListByListing(ctx context.Context, listingID string, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByListing(ctx, listingID, limit)
}

// CheckExpired sweeps pending offers past their deadline into expired.
// Called periodically by the Timer; safe to call from an external
// scheduler as well.
func (s *Service) CheckExpired(ctx context.Context) {
	now := time.Now()

	expired, err := s.store.ListExpiredPending(ctx, now, 100)
	if err != nil {
		log.Printf("WARNING: expired-offer sweep failed: %v", err)
		return
	}

	for _, o := range expired {
		unlock := s.locks.Lock(o.ID)

		fresh, err := s.store.GetOffer(ctx, o.ID)
		if err != nil || fresh.Status != StatusPending || fresh.ExpiresAt.After(now) {
			unlock()
			continue
		}

		fresh.Status = StatusExpired
		fresh.UpdatedAt = now
		if err := s.store.UpdateOffer(ctx, fresh); err != nil {
			log.Printf("WARNING: failed to expire offer %s: %v", fresh.ID, err)
			unlock()
			continue
		}

		metrics.OffersExpiredTotal.Inc()
		s.notifier.OfferEvent(EventOfferExpired, fresh)
		unlock()
	}
}
