package review

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/openclassifieds/handoff/internal/pagination"
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

const reviewColumns = `id, offer_id, listing_id, reviewer_id, reviewee_id,
	score, comment, created_at`

func (s *PostgresStore) Create(ctx context.Context, r *Review) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.OfferID, r.ListingID, r.ReviewerID, r.RevieweeID,
		r.Score, nullStr(r.Comment), r.CreatedAt)
	if err != nil {
		// One review per offer, enforced by a unique index on offer_id.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyReviewed
		}
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Review, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id)

	r, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) GetByOffer(ctx context.Context, offerID string) (*Review, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reviewColumns+` FROM reviews WHERE offer_id = $1`, offerID)

	r, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) ListByReviewee(ctx context.Context, revieweeID string, cursor *pagination.Cursor, limit int) ([]*Review, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+reviewColumns+` FROM reviews
			WHERE reviewee_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, revieweeID, cursor.CreatedAt, cursor.ID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+reviewColumns+` FROM reviews
			WHERE reviewee_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, revieweeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var result []*Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReview(row scanner) (*Review, error) {
	var r Review
	var comment sql.NullString

	err := row.Scan(&r.ID, &r.OfferID, &r.ListingID, &r.ReviewerID, &r.RevieweeID,
		&r.Score, &comment, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Comment = comment.String
	return &r, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
