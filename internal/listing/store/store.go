package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/listing"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so the same statements run
// standalone or inside a settlement transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// SelectColumns lists the columns in the order scanListing expects.
const SelectColumns = `
	l.id, l.price, l.kind, l.status, l.owner_id, l.agent_id, l.occupant_id,
	l.reserved_by, l.reserved_at, l.rental_expiry, l.version, l.created_at, l.updated_at
`

func scanListing(s scanner) (*listing.Listing, error) {
	var l listing.Listing

	var kindStr, statusStr string

	if err := s.Scan(
		&l.ID, &l.Price, &kindStr, &statusStr, &l.OwnerID, &l.AgentID, &l.OccupantID,
		&l.ReservedBy, &l.ReservedAt, &l.RentalExpiry, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}

	l.Kind = listing.Kind(kindStr)
	l.Status = listing.Status(statusStr)

	return &l, nil
}

func (s *Store) CreateListing(ctx context.Context, l *listing.Listing) error {
	query := `
		INSERT INTO listings (id, price, kind, status, owner_id, agent_id, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW())
		RETURNING version, created_at
	`

	err := s.db.QueryRowContext(ctx, query,
		l.ID,
		l.Price,
		l.Kind,
		l.Status,
		l.OwnerID,
		l.AgentID,
	).Scan(&l.Version, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating listing: %w", err)
	}

	return nil
}

func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	return Get(ctx, s.db, id, false)
}

func (s *Store) SaveListing(ctx context.Context, l *listing.Listing, expectedVersion int64) error {
	return Save(ctx, s.db, l, expectedVersion)
}

// Get loads a listing. With forUpdate the row stays locked until the surrounding
// transaction ends.
func Get(ctx context.Context, q Querier, id uuid.UUID, forUpdate bool) (*listing.Listing, error) {
	query := `SELECT ` + SelectColumns + `
		FROM listings l
		WHERE l.id = $1`

	if forUpdate {
		query += " FOR UPDATE"
	}

	l, err := scanListing(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, listing.ErrNotFound
		}

		return nil, fmt.Errorf("getting listing: %w", err)
	}

	return l, nil
}

// Save writes every mutable column of l in one conditional update keyed on the
// version the caller read. A concurrent writer makes it match zero rows.
func Save(ctx context.Context, q Querier, l *listing.Listing, expectedVersion int64) error {
	query := `
		UPDATE listings
		SET price = $1, kind = $2, status = $3, owner_id = $4, agent_id = $5, occupant_id = $6,
			reserved_by = $7, reserved_at = $8, rental_expiry = $9,
			version = version + 1, updated_at = NOW()
		WHERE id = $10 AND version = $11
		RETURNING version, updated_at
	`

	err := q.QueryRowContext(ctx, query,
		l.Price,
		l.Kind,
		l.Status,
		l.OwnerID,
		l.AgentID,
		l.OccupantID,
		l.ReservedBy,
		l.ReservedAt,
		l.RentalExpiry,
		l.ID,
		expectedVersion,
	).Scan(&l.Version, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return listing.ErrVersionConflict
		}

		return fmt.Errorf("updating listing: %w", err)
	}

	return nil
}

func (s *Store) ListListings(ctx context.Context, status *listing.Status) ([]*listing.Listing, error) {
	query := `SELECT ` + SelectColumns + `
		FROM listings l`

	var args []any

	if status != nil {
		query += " WHERE l.status = $1"

		args = append(args, *status)
	}

	query += " ORDER BY l.created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing listings: %w", err)
	}
	defer rows.Close()

	var ls []*listing.Listing

	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning listing: %w", err)
		}

		ls = append(ls, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating listing rows: %w", err)
	}

	return ls, nil
}
