package offer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openclassifieds/handoff/internal/listing"
)

// PostgresStore is a PostgreSQL implementation of Store.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const offerColumns = `id, listing_id, buyer_id, seller_id, status, delivery,
	amount, currency, items, message, seller_verified, buyer_verified,
	cancel_reason, expires_at, version, created_at, updated_at`

const proposalColumns = `id, offer_id, proposer_id, dates, window_start,
	window_end, location, details, status, selected_date, selected_time,
	version, created_at, updated_at`

func (s *PostgresStore) CreateOffer(ctx context.Context, o *Offer) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, string(o.Status), string(o.Delivery),
		nullStr(o.Amount), nullStr(o.Currency), items, nullStr(o.Message),
		o.SellerVerified, o.BuyerVerified, nullStr(o.CancelReason),
		o.ExpiresAt, o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOffer(ctx context.Context, id string) (*Offer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)

	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	return o, err
}

// UpdateOffer writes the record if the stored version still matches,
// bumping the version column in the same statement.
func (s *PostgresStore) UpdateOffer(ctx context.Context, o *Offer) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE offers SET
			status = $3, seller_verified = $4, buyer_verified = $5,
			cancel_reason = $6, items = $7, updated_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		o.ID, o.Version, string(o.Status), o.SellerVerified, o.BuyerVerified,
		nullStr(o.CancelReason), items, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the row is gone or someone else got there first.
		if _, gerr := s.GetOffer(ctx, o.ID); gerr != nil {
			return gerr
		}
		return ErrConcurrentModification
	}
	o.Version++
	return nil
}

func (s *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error) {
	return s.listOffers(ctx, `buyer_id = $1`, buyerID, limit)
}

func (s *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Offer, error) {
	return s.listOffers(ctx, `seller_id = $1`, sellerID, limit)
}

func (s *PostgresStore) ListByListing(ctx context.Context, listingID string, limit int) ([]*Offer, error) {
	return s.listOffers(ctx, `listing_id = $1`, listingID, limit)
}

func (s *PostgresStore) listOffers(ctx context.Context, where, arg string, limit int) ([]*Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $2`, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	return collectOffers(rows)
}

func (s *PostgresStore) ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]*Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3`, string(StatusPending), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired offers: %w", err)
	}
	defer rows.Close()

	return collectOffers(rows)
}

func collectOffers(rows *sql.Rows) ([]*Offer, error) {
	var result []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(row scanner) (*Offer, error) {
	var o Offer
	var status, delivery string
	var amount, currency, message, cancelReason sql.NullString
	var items []byte

	err := row.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &status, &delivery,
		&amount, &currency, &items, &message, &o.SellerVerified, &o.BuyerVerified,
		&cancelReason, &o.ExpiresAt, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	o.Delivery = listing.Delivery(delivery)
	o.Amount = amount.String
	o.Currency = currency.String
	o.Message = message.String
	o.CancelReason = cancelReason.String

	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("failed to decode items: %w", err)
		}
	}
	return &o, nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, p *PickupProposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pickup_proposals (`+proposalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.OfferID, p.ProposerID, encodeDates(p.Dates),
		p.WindowStart, p.WindowEnd, p.Location, nullStr(p.Details),
		string(p.Status), nullStr(p.SelectedDate), nullStr(p.SelectedTime),
		p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert pickup proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*PickupProposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+` FROM pickup_proposals WHERE id = $1`, id)

	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, ErrProposalNotFound
	}
	return p, err
}

func (s *PostgresStore) GetActiveProposal(ctx context.Context, offerID string) (*PickupProposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+` FROM pickup_proposals
		WHERE offer_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`, offerID, string(ProposalProposed))

	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, ErrProposalNotFound
	}
	return p, err
}

func (s *PostgresStore) UpdateProposal(ctx context.Context, p *PickupProposal) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pickup_proposals SET
			dates = $3, status = $4, selected_date = $5, selected_time = $6,
			updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $2`,
		p.ID, p.Version, encodeDates(p.Dates), string(p.Status),
		nullStr(p.SelectedDate), nullStr(p.SelectedTime), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update pickup proposal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, gerr := s.GetProposal(ctx, p.ID); gerr != nil {
			return gerr
		}
		return ErrConcurrentModification
	}
	p.Version++
	return nil
}

func (s *PostgresStore) ListProposalsByOffer(ctx context.Context, offerID string) ([]*PickupProposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM pickup_proposals
		WHERE offer_id = $1
		ORDER BY created_at DESC`, offerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pickup proposals: %w", err)
	}
	defer rows.Close()

	var result []*PickupProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanProposal(row scanner) (*PickupProposal, error) {
	var p PickupProposal
	var dates, status string
	var details, selectedDate, selectedTime sql.NullString

	err := row.Scan(&p.ID, &p.OfferID, &p.ProposerID, &dates,
		&p.WindowStart, &p.WindowEnd, &p.Location, &details,
		&status, &selectedDate, &selectedTime,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Dates = decodeDates(dates)
	p.Details = details.String
	p.Status = ProposalStatus(status)
	p.SelectedDate = selectedDate.String
	p.SelectedTime = selectedTime.String
	return &p, nil
}

func encodeDates(dates []string) string {
	return strings.Join(dates, ",")
}

func decodeDates(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
