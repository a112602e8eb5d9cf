package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Batch accumulates the entries of one atomic posting.
type Batch struct {
	tx      PostingTx
	id      uuid.UUID
	now     time.Time
	entries []*Entry
	pending map[string]int64
}

func NewBatch(tx PostingTx, now time.Time) *Batch {
	return &Batch{
		tx:      tx,
		id:      uuid.New(),
		now:     now.UTC(),
		pending: make(map[string]int64),
	}
}

// Debit records a withdrawal of amount from ownerID, refusing overdrafts.
func (b *Batch) Debit(ctx context.Context, ownerID string, amount int64, kind Kind, listingID *uuid.UUID) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	balance, err := b.tx.Balance(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}

	if balance+b.pending[ownerID] < amount {
		return nil, ErrInsufficientFunds
	}

	return b.add(ownerID, -amount, kind, listingID), nil
}

// Credit records a payment of amount into ownerID, refusing balances past MaxInt64.
func (b *Batch) Credit(ctx context.Context, ownerID string, amount int64, kind Kind, listingID *uuid.UUID) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	balance, err := b.tx.Balance(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}

	if balance+b.pending[ownerID] > math.MaxInt64-amount {
		return nil, fmt.Errorf("%w: balance of %s would overflow", ErrInvalidAmount, ownerID)
	}

	return b.add(ownerID, amount, kind, listingID), nil
}

func (b *Batch) Entries() []*Entry {
	return b.entries
}

// Append hands the accumulated entries to the posting transaction in one call.
func (b *Batch) Append(ctx context.Context) error {
	if err := ValidateBatch(b.entries); err != nil {
		return err
	}

	return b.tx.Append(ctx, b.entries)
}

func (b *Batch) add(ownerID string, amount int64, kind Kind, listingID *uuid.UUID) *Entry {
	e := &Entry{
		ID:        uuid.New(),
		BatchID:   b.id,
		OwnerID:   ownerID,
		Amount:    amount,
		Kind:      kind,
		ListingID: listingID,
		Status:    StatusCompleted,
		CreatedAt: b.now,
	}

	b.entries = append(b.entries, e)
	b.pending[ownerID] += amount

	return e
}
