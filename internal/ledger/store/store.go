package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/MrJamesThe3rd/haven/internal/ledger"
)

// Store writes through database/sql transactions and reads through sqlx.
type Store struct {
	db  *sql.DB
	dbx *sqlx.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db, dbx: sqlx.NewDb(db, "pgx")}
}

func (s *Store) BeginPosting(ctx context.Context, ownerIDs []string) (ledger.PostingTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	p, err := Lock(ctx, tx, ownerIDs)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return p, nil
}

// Posting is a ledger.PostingTx over an open database transaction.
type Posting struct {
	tx       *sql.Tx
	balances map[string]int64
}

// Lock creates missing wallets and locks every wallet row of ownerIDs inside tx.
// Rows are locked in owner order so concurrent postings never deadlock.
func Lock(ctx context.Context, tx *sql.Tx, ownerIDs []string) (*Posting, error) {
	ids := slices.Clone(ownerIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	p := &Posting{tx: tx, balances: make(map[string]int64, len(ids))}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wallets (owner_id, balance) VALUES ($1, 0) ON CONFLICT (owner_id) DO NOTHING`,
			id,
		); err != nil {
			return nil, fmt.Errorf("creating wallet %s: %w", id, err)
		}

		var balance int64
		if err := tx.QueryRowContext(ctx,
			`SELECT balance FROM wallets WHERE owner_id = $1 FOR UPDATE`,
			id,
		).Scan(&balance); err != nil {
			return nil, fmt.Errorf("locking wallet %s: %w", id, err)
		}

		p.balances[id] = balance
	}

	return p, nil
}

func (p *Posting) Balance(_ context.Context, ownerID string) (int64, error) {
	balance, ok := p.balances[ownerID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ledger.ErrWalletNotLocked, ownerID)
	}

	return balance, nil
}

func (p *Posting) Append(ctx context.Context, entries []*ledger.Entry) error {
	if err := ledger.ValidateBatch(entries); err != nil {
		return err
	}

	deltas := ledger.Deltas(entries)
	for ownerID := range deltas {
		if _, ok := p.balances[ownerID]; !ok {
			return fmt.Errorf("%w: %s", ledger.ErrWalletNotLocked, ownerID)
		}
	}

	insert := `
		INSERT INTO ledger_entries (id, batch_id, owner_id, amount, kind, listing_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, e := range entries {
		if _, err := p.tx.ExecContext(ctx, insert,
			e.ID,
			e.BatchID,
			e.OwnerID,
			e.Amount,
			e.Kind,
			e.ListingID,
			e.Status,
			e.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting ledger entry: %w", err)
		}
	}

	owners := make([]string, 0, len(deltas))
	for ownerID := range deltas {
		owners = append(owners, ownerID)
	}

	slices.Sort(owners)

	for _, ownerID := range owners {
		res, err := p.tx.ExecContext(ctx, `
			UPDATE wallets
			SET balance = balance + $1, updated_at = NOW()
			WHERE owner_id = $2 AND balance + $1 >= 0
		`, deltas[ownerID], ownerID)
		if err != nil {
			return fmt.Errorf("updating wallet %s: %w", ownerID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking wallet update: %w", err)
		}

		if n == 0 {
			return fmt.Errorf("%w: wallet %s", ledger.ErrInsufficientFunds, ownerID)
		}

		p.balances[ownerID] += deltas[ownerID]
	}

	return nil
}

func (p *Posting) Commit() error {
	return p.tx.Commit()
}

// Rollback is safe to call after Commit.
func (p *Posting) Rollback() error {
	if err := p.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}

	return nil
}

type walletRow struct {
	OwnerID   string     `db:"owner_id"`
	Balance   int64      `db:"balance"`
	UpdatedAt *time.Time `db:"updated_at"`
}

func (s *Store) GetWallet(ctx context.Context, ownerID string) (*ledger.Wallet, error) {
	var row walletRow

	err := s.dbx.GetContext(ctx, &row,
		`SELECT owner_id, balance, updated_at FROM wallets WHERE owner_id = $1`, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ledger.Wallet{OwnerID: ownerID}, nil
		}

		return nil, fmt.Errorf("getting wallet: %w", err)
	}

	return &ledger.Wallet{OwnerID: row.OwnerID, Balance: row.Balance, UpdatedAt: row.UpdatedAt}, nil
}

type entryRow struct {
	ID        uuid.UUID  `db:"id"`
	BatchID   uuid.UUID  `db:"batch_id"`
	OwnerID   string     `db:"owner_id"`
	Amount    int64      `db:"amount"`
	Kind      string     `db:"kind"`
	ListingID *uuid.UUID `db:"listing_id"`
	Status    string     `db:"status"`
	CreatedAt time.Time  `db:"created_at"`
}

func (r entryRow) toEntry() *ledger.Entry {
	return &ledger.Entry{
		ID:        r.ID,
		BatchID:   r.BatchID,
		OwnerID:   r.OwnerID,
		Amount:    r.Amount,
		Kind:      ledger.Kind(r.Kind),
		ListingID: r.ListingID,
		Status:    ledger.EntryStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

const entryColumns = `id, batch_id, owner_id, amount, kind, listing_id, status, created_at`

func (s *Store) ListEntriesByOwner(ctx context.Context, ownerID string) ([]*ledger.Entry, error) {
	return selectEntries(ctx, s.dbx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE owner_id = $1 ORDER BY created_at ASC, id ASC`,
		ownerID)
}

func (s *Store) ListEntriesByListing(ctx context.Context, listingID uuid.UUID) ([]*ledger.Entry, error) {
	return ListByListing(ctx, s.dbx, listingID)
}

// ListByListing returns the entries referencing a listing, oldest first. q may be a
// transaction so the read sees its uncommitted writes.
func ListByListing(ctx context.Context, q sqlx.QueryerContext, listingID uuid.UUID) ([]*ledger.Entry, error) {
	return selectEntries(ctx, q,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE listing_id = $1 ORDER BY created_at ASC, id ASC`,
		listingID)
}

func selectEntries(ctx context.Context, q sqlx.QueryerContext, query string, arg any) ([]*ledger.Entry, error) {
	var rows []entryRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, arg); err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}

	entries := make([]*ledger.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toEntry())
	}

	return entries, nil
}

func (s *Store) Reconcile(ctx context.Context) ([]ledger.Mismatch, error) {
	query := `
		SELECT w.owner_id, w.balance AS cached, COALESCE(SUM(e.amount), 0) AS ledger
		FROM wallets w
		LEFT JOIN ledger_entries e ON e.owner_id = w.owner_id
		GROUP BY w.owner_id, w.balance
		HAVING w.balance <> COALESCE(SUM(e.amount), 0)
		ORDER BY w.owner_id
	`

	var rows []struct {
		OwnerID string `db:"owner_id"`
		Cached  int64  `db:"cached"`
		Ledger  int64  `db:"ledger"`
	}

	if err := s.dbx.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("reconciling wallets: %w", err)
	}

	mismatches := make([]ledger.Mismatch, 0, len(rows))
	for _, r := range rows {
		mismatches = append(mismatches, ledger.Mismatch{OwnerID: r.OwnerID, Cached: r.Cached, Ledger: r.Ledger})
	}

	return mismatches, nil
}
