package listing

import (
	"fmt"
	"time"
)

// The transitions below mutate the listing in place and never touch storage.
// Callers persist the result with a version-checked save.
//
//	available -> reserved -> transferred
//	available <-> withdrawn
//	reserved  -> available (cancel)

// Reserve moves an available listing into the reserved state on behalf of requesterID.
func (l *Listing) Reserve(requesterID string, now time.Time) error {
	switch l.Status {
	case StatusAvailable:
	case StatusReserved:
		return ErrAlreadyReserved
	default:
		return ErrNotAvailable
	}

	l.Status = StatusReserved
	l.ReservedBy = new(requesterID)
	l.ReservedAt = new(now)

	return nil
}

// CancelReservation returns a reserved listing to the market.
func (l *Listing) CancelReservation() error {
	if l.Status != StatusReserved {
		return ErrNotReserved
	}

	l.Status = StatusAvailable
	l.ReservedBy = nil
	l.ReservedAt = nil

	return nil
}

// FinalizeTransfer completes a reservation. Sales hand ownership to party; rentals
// install party as occupant until now+rentalPeriod and keep the landlord as owner.
func (l *Listing) FinalizeTransfer(party string, now time.Time, rentalPeriod time.Duration) error {
	if l.Status != StatusReserved {
		return ErrNotReserved
	}

	switch l.Kind {
	case KindForSale:
		l.OwnerID = party
	case KindForRent:
		l.OccupantID = new(party)
		l.RentalExpiry = new(now.Add(rentalPeriod))
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidListing, l.Kind)
	}

	l.Status = StatusTransferred
	l.ReservedBy = nil
	l.ReservedAt = nil

	return nil
}

// Withdraw takes an available listing off the market.
func (l *Listing) Withdraw() error {
	switch l.Status {
	case StatusAvailable:
	case StatusReserved:
		return ErrAlreadyReserved
	default:
		return ErrNotAvailable
	}

	l.Status = StatusWithdrawn

	return nil
}

// Relist puts a withdrawn listing back on the market.
func (l *Listing) Relist() error {
	if l.Status != StatusWithdrawn {
		return ErrNotAvailable
	}

	l.Status = StatusAvailable

	return nil
}

// Validate checks the structural invariants of a listing.
func (l *Listing) Validate() error {
	if l.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidListing)
	}

	if l.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidListing)
	}

	if l.Kind != KindForSale && l.Kind != KindForRent {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidListing, l.Kind)
	}

	if (l.ReservedBy != nil) != (l.Status == StatusReserved) {
		return fmt.Errorf("%w: reservation does not match status %s", ErrInvalidListing, l.Status)
	}

	occupied := l.Status == StatusTransferred && l.Kind == KindForRent
	if (l.OccupantID != nil) != occupied {
		return fmt.Errorf("%w: occupant does not match status %s", ErrInvalidListing, l.Status)
	}

	return nil
}
