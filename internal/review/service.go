package review

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openclassifieds/handoff/internal/idgen"
	"github.com/openclassifieds/handoff/internal/listing"
	"github.com/openclassifieds/handoff/internal/metrics"
	"github.com/openclassifieds/handoff/internal/offer"
	"github.com/openclassifieds/handoff/internal/pagination"
)

// Offers is the slice of the offer service the gate needs: reading the
// offer to judge eligibility and sealing it once the review lands.
type Offers interface {
	Get(ctx context.Context, id string) (*offer.Offer, error)
	MarkReviewed(ctx context.Context, id string) (*offer.Offer, error)
}

// Service implements review submission behind the eligibility gate.
type Service struct {
	store    Store
	offers   Offers
	listings listing.Store
}

// NewService creates a new review service. The listing store is
// consulted for the type gate: gift exchanges never take reviews.
func NewService(store Store, offers Offers, listings listing.Store) *Service {
	return &Service{store: store, offers: offers, listings: listings}
}

// reviewable reports whether the offer's listing type accepts reviews.
// A listing that has vanished from the catalog stays reviewable; the
// snapshot on the offer is authoritative enough for the remaining checks.
func (s *Service) reviewable(ctx context.Context, listingID string) bool {
	l, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return true
	}
	return l.Type.Reviewable()
}

// Check judges whether the actor may review the offer right now. It
// never errors for gate reasons; those come back as an ineligible
// verdict with the reason attached.
func (s *Service) Check(ctx context.Context, offerID, actorID string) (*Eligibility, error) {
	o, err := s.offers.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}

	verdict := &Eligibility{OfferID: offerID, Eligible: true}
	switch {
	case actorID != o.BuyerID:
		verdict.Eligible = false
		verdict.Reason = "only the buyer may review"
	case o.Status == offer.StatusReviewed:
		verdict.Eligible = false
		verdict.Reason = "offer has already been reviewed"
	case o.Status != offer.StatusCompleted:
		verdict.Eligible = false
		verdict.Reason = fmt.Sprintf("offer is %s, reviews open after both parties verify", o.Status)
	case !s.reviewable(ctx, o.ListingID):
		verdict.Eligible = false
		verdict.Reason = "gift exchanges are not reviewable"
	}
	return verdict, nil
}

// SubmitRequest contains the parameters for submitting a review.
type SubmitRequest struct {
	Score   float64 `json:"score" binding:"required"`
	Comment string  `json:"comment"`
}

// Submit records a review and seals the offer. One review per offer;
// score in (0, 5].
func (s *Service) Submit(ctx context.Context, offerID, actorID string, req SubmitRequest) (*Review, error) {
	o, err := s.offers.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}

	if actorID != o.BuyerID {
		return nil, ErrUnauthorized
	}
	if o.Status == offer.StatusReviewed {
		return nil, ErrAlreadyReviewed
	}
	if o.Status != offer.StatusCompleted {
		return nil, fmt.Errorf("%w: offer is %s", ErrNotEligible, o.Status)
	}
	if !s.reviewable(ctx, o.ListingID) {
		return nil, fmt.Errorf("%w: gift exchanges are not reviewable", ErrNotEligible)
	}

	if req.Score <= 0 || req.Score > 5 {
		return nil, fmt.Errorf("%w: score must be greater than 0 and at most 5", ErrValidation)
	}
	comment := strings.TrimSpace(req.Comment)
	if utf8.RuneCountInString(comment) > MaxCommentLen {
		return nil, fmt.Errorf("%w: comment exceeds %d characters", ErrValidation, MaxCommentLen)
	}

	if _, err := s.store.GetByOffer(ctx, offerID); err == nil {
		return nil, ErrAlreadyReviewed
	}

	r := &Review{
		ID:         idgen.WithPrefix("rev_"),
		OfferID:    o.ID,
		ListingID:  o.ListingID,
		ReviewerID: o.BuyerID,
		RevieweeID: o.SellerID,
		Score:      req.Score,
		Comment:    comment,
		CreatedAt:  time.Now(),
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	if _, err := s.offers.MarkReviewed(ctx, offerID); err != nil {
		// The review exists either way; a conflict here means someone
		// else sealed the offer between our checks.
		return nil, fmt.Errorf("review recorded but offer could not be sealed: %w", err)
	}

	metrics.ReviewScores.Observe(req.Score)
	metrics.ReviewsSubmittedTotal.Inc()
	return r, nil
}

// Get returns a review by ID.
func (s *Service) Get(ctx context.Context, id string) (*Review, error) {
	return s.store.Get(ctx, id)
}

// GetByOffer returns the review left on an offer, if any.
func (s *Service) GetByOffer(ctx context.Context, offerID string) (*Review, error) {
	return s.store.GetByOffer(ctx, offerID)
}

// ListByReviewee returns one page of reviews received by a user, newest
// first, along with an opaque cursor for the next page.
func (s *Service) ListByReviewee(ctx context.Context, revieweeID, cursorStr string, limit int) ([]*Review, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	cursor, err := pagination.Decode(cursorStr)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid cursor", ErrValidation)
	}

	// One extra row tells us whether a next page exists.
	reviews, err := s.store.ListByReviewee(ctx, revieweeID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}

	page, next, _ := pagination.ComputePage(reviews, limit, func(r *Review) (time.Time, string) {
		return r.CreatedAt, r.ID
	})
	return page, next, nil
}
