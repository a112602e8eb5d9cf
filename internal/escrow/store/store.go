package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/MrJamesThe3rd/haven/internal/escrow"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
	ledgerstore "github.com/MrJamesThe3rd/haven/internal/ledger/store"
	"github.com/MrJamesThe3rd/haven/internal/listing"
	listingstore "github.com/MrJamesThe3rd/haven/internal/listing/store"
)

var errWalletsLocked = errors.New("wallets already locked in this settlement")

type Store struct {
	db *sqlx.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "pgx")}
}

func (s *Store) BeginSettlement(ctx context.Context) (escrow.SettlementTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	return &settlement{tx: tx}, nil
}

// settlement joins the listing and ledger stores on one transaction.
type settlement struct {
	tx      *sqlx.Tx
	posting *ledgerstore.Posting
}

func (st *settlement) LockListing(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	return listingstore.Get(ctx, st.tx, id, true)
}

func (st *settlement) LockWallets(ctx context.Context, ownerIDs []string) error {
	if st.posting != nil {
		return errWalletsLocked
	}

	p, err := ledgerstore.Lock(ctx, st.tx.Tx, ownerIDs)
	if err != nil {
		return err
	}

	st.posting = p

	return nil
}

func (st *settlement) SaveListing(ctx context.Context, l *listing.Listing, expectedVersion int64) error {
	return listingstore.Save(ctx, st.tx, l, expectedVersion)
}

func (st *settlement) ListingEntries(ctx context.Context, listingID uuid.UUID) ([]*ledger.Entry, error) {
	return ledgerstore.ListByListing(ctx, st.tx, listingID)
}

func (st *settlement) Balance(ctx context.Context, ownerID string) (int64, error) {
	if st.posting == nil {
		return 0, fmt.Errorf("%w: %s", ledger.ErrWalletNotLocked, ownerID)
	}

	return st.posting.Balance(ctx, ownerID)
}

func (st *settlement) Append(ctx context.Context, entries []*ledger.Entry) error {
	if st.posting == nil {
		return ledger.ErrWalletNotLocked
	}

	return st.posting.Append(ctx, entries)
}

func (st *settlement) Commit() error {
	return st.tx.Commit()
}

func (st *settlement) Rollback() error {
	if err := st.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}

	return nil
}
