// Package memstore keeps listings, wallets and ledger entries in process memory.
// It backs the TUI demo mode and the escrow tests.
//
// Transactions hold a store-wide lock from Begin until Commit or Rollback and stage
// their writes, so a rolled back transaction leaves no trace. Waiting for the lock
// gives up when the caller's context is done.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/escrow"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/listing"
)

type Store struct {
	sem      chan struct{} // held for the lifetime of a transaction
	listings map[uuid.UUID]*listing.Listing
	wallets  map[string]*ledger.Wallet
	entries  []*ledger.Entry
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sem:      make(chan struct{}, 1),
		listings: make(map[uuid.UUID]*listing.Listing),
		wallets:  make(map[string]*ledger.Wallet),
		now:      time.Now,
	}
}

func (s *Store) CreateListing(ctx context.Context, l *listing.Listing) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	if _, ok := s.listings[l.ID]; ok {
		return fmt.Errorf("creating listing: duplicate id %s", l.ID)
	}

	l.Version = 0
	l.CreatedAt = s.now().UTC()
	s.listings[l.ID] = l.Clone()

	return nil
}

func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	return s.getListing(id)
}

func (s *Store) getListing(id uuid.UUID) (*listing.Listing, error) {
	l, ok := s.listings[id]
	if !ok {
		return nil, listing.ErrNotFound
	}

	return l.Clone(), nil
}

func (s *Store) ListListings(ctx context.Context, status *listing.Status) ([]*listing.Listing, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	var ls []*listing.Listing

	for _, l := range s.listings {
		if status != nil && l.Status != *status {
			continue
		}

		ls = append(ls, l.Clone())
	}

	slices.SortFunc(ls, func(a, b *listing.Listing) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	return ls, nil
}

func (s *Store) SaveListing(ctx context.Context, l *listing.Listing, expectedVersion int64) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	return s.saveListing(l, expectedVersion)
}

func (s *Store) saveListing(l *listing.Listing, expectedVersion int64) error {
	current, ok := s.listings[l.ID]
	if !ok || current.Version != expectedVersion {
		return listing.ErrVersionConflict
	}

	l.Version = expectedVersion + 1
	l.UpdatedAt = new(s.now().UTC())
	s.listings[l.ID] = l.Clone()

	return nil
}

func (s *Store) GetWallet(ctx context.Context, ownerID string) (*ledger.Wallet, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	w, ok := s.wallets[ownerID]
	if !ok {
		return &ledger.Wallet{OwnerID: ownerID}, nil
	}

	c := *w

	return &c, nil
}

func (s *Store) ListEntriesByOwner(ctx context.Context, ownerID string) ([]*ledger.Entry, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	return s.filterEntries(func(e *ledger.Entry) bool { return e.OwnerID == ownerID }), nil
}

func (s *Store) ListEntriesByListing(ctx context.Context, listingID uuid.UUID) ([]*ledger.Entry, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	return s.entriesFor(listingID), nil
}

func (s *Store) entriesFor(listingID uuid.UUID) []*ledger.Entry {
	return s.filterEntries(func(e *ledger.Entry) bool {
		return e.ListingID != nil && *e.ListingID == listingID
	})
}

func (s *Store) filterEntries(keep func(e *ledger.Entry) bool) []*ledger.Entry {
	var out []*ledger.Entry

	for _, e := range s.entries {
		if keep(e) {
			c := *e
			out = append(out, &c)
		}
	}

	return out
}

func (s *Store) Reconcile(ctx context.Context) ([]ledger.Mismatch, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	sums := ledger.Deltas(s.entries)

	var mismatches []ledger.Mismatch

	for id, w := range s.wallets {
		if w.Balance != sums[id] {
			mismatches = append(mismatches, ledger.Mismatch{OwnerID: id, Cached: w.Balance, Ledger: sums[id]})
		}
	}

	slices.SortFunc(mismatches, func(a, b ledger.Mismatch) int {
		return cmp.Compare(a.OwnerID, b.OwnerID)
	})

	return mismatches, nil
}

// Corrupt overwrites a cached balance without a ledger entry. It exists so
// reconciliation can be demonstrated and tested.
func (s *Store) Corrupt(ownerID string, balance int64) {
	s.sem <- struct{}{}
	defer s.unlock()

	w, ok := s.wallets[ownerID]
	if !ok {
		w = &ledger.Wallet{OwnerID: ownerID}
		s.wallets[ownerID] = w
	}

	w.Balance = balance
}

func (s *Store) BeginPosting(ctx context.Context, ownerIDs []string) (ledger.PostingTx, error) {
	t, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	if err := t.LockWallets(ctx, ownerIDs); err != nil {
		_ = t.Rollback()
		return nil, err
	}

	return t, nil
}

func (s *Store) BeginSettlement(ctx context.Context) (escrow.SettlementTx, error) {
	return s.begin(ctx)
}

func (s *Store) begin(ctx context.Context) (*tx, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}

	return &tx{s: s}, nil
}

// lock waits for the store until ctx is done.
func (s *Store) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock() {
	<-s.sem
}

// tx implements both ledger.PostingTx and escrow.SettlementTx.
type tx struct {
	s        *Store
	done     bool
	balances map[string]int64
	listings []*listing.Listing
	versions []int64
	entries  []*ledger.Entry
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("memstore: transaction already finished")
	}

	return ctx.Err()
}

func (t *tx) LockListing(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}

	return t.s.getListing(id)
}

func (t *tx) LockWallets(ctx context.Context, ownerIDs []string) error {
	if err := t.check(ctx); err != nil {
		return err
	}

	if t.balances != nil {
		return fmt.Errorf("memstore: wallets already locked")
	}

	t.balances = make(map[string]int64, len(ownerIDs))

	for _, id := range ownerIDs {
		if w, ok := t.s.wallets[id]; ok {
			t.balances[id] = w.Balance
		} else {
			t.balances[id] = 0
		}
	}

	return nil
}

func (t *tx) SaveListing(ctx context.Context, l *listing.Listing, expectedVersion int64) error {
	if err := t.check(ctx); err != nil {
		return err
	}

	current, ok := t.s.listings[l.ID]
	if !ok || current.Version != expectedVersion {
		return listing.ErrVersionConflict
	}

	l.Version = expectedVersion + 1
	t.listings = append(t.listings, l.Clone())
	t.versions = append(t.versions, expectedVersion)

	return nil
}

func (t *tx) ListingEntries(ctx context.Context, listingID uuid.UUID) ([]*ledger.Entry, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}

	return t.s.entriesFor(listingID), nil
}

func (t *tx) Balance(ctx context.Context, ownerID string) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}

	balance, ok := t.balances[ownerID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ledger.ErrWalletNotLocked, ownerID)
	}

	return balance, nil
}

func (t *tx) Append(ctx context.Context, entries []*ledger.Entry) error {
	if err := t.check(ctx); err != nil {
		return err
	}

	if err := ledger.ValidateBatch(entries); err != nil {
		return err
	}

	deltas := ledger.Deltas(entries)

	for id, delta := range deltas {
		balance, ok := t.balances[id]
		if !ok {
			return fmt.Errorf("%w: %s", ledger.ErrWalletNotLocked, id)
		}

		if balance+delta < 0 {
			return fmt.Errorf("%w: wallet %s", ledger.ErrInsufficientFunds, id)
		}
	}

	for id, delta := range deltas {
		t.balances[id] += delta
	}

	for _, e := range entries {
		c := *e
		t.entries = append(t.entries, &c)
	}

	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("memstore: transaction already finished")
	}

	defer t.finish()

	now := t.s.now().UTC()

	for i, l := range t.listings {
		if err := t.s.saveListing(l, t.versions[i]); err != nil {
			return err
		}
	}

	touched := ledger.Deltas(t.entries)

	for id := range touched {
		w, ok := t.s.wallets[id]
		if !ok {
			w = &ledger.Wallet{OwnerID: id}
			t.s.wallets[id] = w
		}

		w.Balance = t.balances[id]
		w.UpdatedAt = new(now)
	}

	t.s.entries = append(t.s.entries, t.entries...)

	return nil
}

// Rollback discards staged writes. It is a no-op after Commit.
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}

	t.finish()

	return nil
}

func (t *tx) finish() {
	t.done = true
	t.s.unlock()
}
