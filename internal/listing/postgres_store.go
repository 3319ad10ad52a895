package listing

import (
	"context"
	"database/sql"
	"strings"
)

// PostgresStore persists listing snapshots in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const listingColumns = `id, owner_id, title, type, price, currency,
	pickup_location, deliveries, created_at`

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, owner_id, title, type, price, currency,
			pickup_location, deliveries, created_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(20,2), $6,
			$7, $8, $9
		)`,
		l.ID, l.OwnerID, l.Title, string(l.Type), nullStr(l.Price), nullStr(l.Currency),
		nullStr(l.PickupLocation), encodeDeliveries(l.Deliveries), l.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return l, err
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(sc scanner) (*Listing, error) {
	l := &Listing{}
	var (
		typ            string
		price          sql.NullString
		currency       sql.NullString
		pickupLocation sql.NullString
		deliveries     string
	)

	err := sc.Scan(
		&l.ID, &l.OwnerID, &l.Title, &typ, &price, &currency,
		&pickupLocation, &deliveries, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Type = Type(typ)
	l.Price = price.String
	l.Currency = currency.String
	l.PickupLocation = pickupLocation.String
	l.Deliveries = decodeDeliveries(deliveries)
	return l, nil
}

// encodeDeliveries joins delivery types into a comma-separated string for
// DB storage.
func encodeDeliveries(ds []Delivery) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

func decodeDeliveries(s string) []Delivery {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ds := make([]Delivery, len(parts))
	for i, p := range parts {
		ds[i] = Delivery(p)
	}
	return ds
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
