// Package review implements post-exchange reviews and the eligibility
// gate in front of them. A review is buyer to seller, one per offer, and
// only after both parties verified the exchange.
package review

import (
	"context"
	"errors"
	"time"

	"github.com/openclassifieds/handoff/internal/pagination"
)

var (
	ErrNotFound        = errors.New("review not found")
	ErrAlreadyReviewed = errors.New("offer has already been reviewed")
	ErrNotEligible     = errors.New("offer is not eligible for review")
	ErrUnauthorized    = errors.New("not authorized for this operation")
	ErrValidation      = errors.New("invalid input")
)

// MaxCommentLen bounds the free-text comment.
const MaxCommentLen = 1000

// Review is a buyer's rating of a completed exchange.
type Review struct {
	ID         string    `json:"id"`
	OfferID    string    `json:"offerId"`
	ListingID  string    `json:"listingId"`
	ReviewerID string    `json:"reviewerId"`
	RevieweeID string    `json:"revieweeId"`
	Score      float64   `json:"score"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Eligibility is the gate's verdict on whether an actor may review an
// offer right now.
type Eligibility struct {
	OfferID  string `json:"offerId"`
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// Store persists reviews.
type Store interface {
	Create(ctx context.Context, r *Review) error
	Get(ctx context.Context, id string) (*Review, error)
	GetByOffer(ctx context.Context, offerID string) (*Review, error)
	// ListByReviewee returns reviews received by a user, newest first,
	// keyset-paginated on (created_at, id).
	ListByReviewee(ctx context.Context, revieweeID string, cursor *pagination.Cursor, limit int) ([]*Review, error)
}
