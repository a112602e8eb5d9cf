package listing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes sale listings from rental listings.
type Kind string

const (
	KindForSale Kind = "for_sale"
	KindForRent Kind = "for_rent"
)

// Status represents the lifecycle state of a listing.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusReserved    Status = "reserved"
	StatusTransferred Status = "transferred"
	StatusWithdrawn   Status = "withdrawn"
)

var (
	ErrNotFound        = errors.New("listing not found")
	ErrNotAvailable    = errors.New("listing not available")
	ErrAlreadyReserved = errors.New("listing already reserved")
	ErrNotReserved     = errors.New("listing not reserved")
	ErrVersionConflict = errors.New("listing modified concurrently")
	ErrInvalidListing  = errors.New("invalid listing")
)

// Listing represents a property offered for sale or rent.
type Listing struct {
	ID           uuid.UUID
	Price        int64 // Price in the smallest wallet unit
	Kind         Kind
	Status       Status
	OwnerID      string
	AgentID      *string
	OccupantID   *string
	ReservedBy   *string
	ReservedAt   *time.Time
	RentalExpiry *time.Time
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// Clone returns a deep copy so callers can mutate the result without touching shared state.
func (l *Listing) Clone() *Listing {
	c := *l
	c.AgentID = cloneString(l.AgentID)
	c.OccupantID = cloneString(l.OccupantID)
	c.ReservedBy = cloneString(l.ReservedBy)
	c.ReservedAt = cloneTime(l.ReservedAt)
	c.RentalExpiry = cloneTime(l.RentalExpiry)
	c.UpdatedAt = cloneTime(l.UpdatedAt)

	return &c
}

// CanApprove reports whether party may approve or cancel on the owner's side.
func (l *Listing) CanApprove(party string) bool {
	if party == "" {
		return false
	}

	return party == l.OwnerID || (l.AgentID != nil && *l.AgentID == party)
}

// IsReservedBy reports whether party holds the current reservation.
func (l *Listing) IsReservedBy(party string) bool {
	return l.ReservedBy != nil && *l.ReservedBy == party
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}

	return new(*s)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	return new(*t)
}
