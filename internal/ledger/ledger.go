package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies the business reason for a ledger entry.
type Kind string

const (
	KindDeposit         Kind = "deposit"
	KindWithdrawal      Kind = "withdrawal"
	KindPurchasePayment Kind = "purchase_payment"
	KindRentalPayment   Kind = "rental_payment"
	KindSaleProceeds    Kind = "sale_proceeds"
	KindRentalProceeds  Kind = "rental_proceeds"
	KindRefund          Kind = "refund"
)

// EntryStatus is always completed: entries are only written once final.
type EntryStatus string

const StatusCompleted EntryStatus = "completed"

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidBatch      = errors.New("invalid ledger batch")
	ErrWalletNotLocked   = errors.New("wallet not locked in this posting")
)

// Entry is an immutable, signed record of a single wallet balance change.
type Entry struct {
	ID        uuid.UUID
	BatchID   uuid.UUID // Shared by every entry appended in the same commit
	OwnerID   string
	Amount    int64 // Negative for debits, positive for credits
	Kind      Kind
	ListingID *uuid.UUID
	Status    EntryStatus
	CreatedAt time.Time
}

// Wallet holds the cached running balance of one party.
type Wallet struct {
	OwnerID   string
	Balance   int64
	UpdatedAt *time.Time
}

// Mismatch reports a wallet whose cached balance disagrees with its ledger.
type Mismatch struct {
	OwnerID string
	Cached  int64
	Ledger  int64
}

// Deltas sums entry amounts per owner.
func Deltas(entries []*Entry) map[string]int64 {
	deltas := make(map[string]int64, len(entries))
	for _, e := range entries {
		deltas[e.OwnerID] += e.Amount
	}

	return deltas
}

// ValidateBatch checks that entries can be appended as one unit. A batch touching more
// than one entry is a funds movement and must net to zero.
func ValidateBatch(entries []*Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidBatch)
	}

	batchID := entries[0].BatchID

	var sum int64

	for _, e := range entries {
		if e.Amount == 0 {
			return fmt.Errorf("%w: zero amount entry for %s", ErrInvalidBatch, e.OwnerID)
		}

		if e.OwnerID == "" {
			return fmt.Errorf("%w: entry without owner", ErrInvalidBatch)
		}

		if e.BatchID != batchID {
			return fmt.Errorf("%w: mixed batch ids", ErrInvalidBatch)
		}

		if e.Status != StatusCompleted {
			return fmt.Errorf("%w: entry status %q", ErrInvalidBatch, e.Status)
		}

		sum += e.Amount
	}

	if len(entries) > 1 && sum != 0 {
		return fmt.Errorf("%w: entries sum to %d", ErrInvalidBatch, sum)
	}

	return nil
}
