package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/listing"
)

// Kind is the machine readable class of an escrow failure.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindNotAvailable      Kind = "not_available"
	KindAlreadyReserved   Kind = "already_reserved"
	KindSelfDealing       Kind = "self_dealing_not_allowed"
	KindNotReserved       Kind = "not_reserved"
	KindNotAuthorized     Kind = "not_authorized"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindBuyerFundsChanged Kind = "buyer_funds_changed"
	KindLedgerWriteFailed Kind = "ledger_write_failed"
	KindTimeout           Kind = "timeout"
	KindInvalid           Kind = "invalid_request"
	KindInternal          Kind = "internal"
)

var (
	ErrSelfDealing       = errors.New("self dealing not allowed")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrBuyerFundsChanged = errors.New("buyer funds changed")
	ErrLedgerWriteFailed = errors.New("ledger write failed")
	ErrTimeout           = errors.New("escrow operation timed out")
)

// Error is returned by every Service operation. Status is the listing status
// observed when the operation gave up, empty if the listing could not be read.
type Error struct {
	Op        string
	Kind      Kind
	ListingID uuid.UUID
	Status    listing.Status
	Err       error
}

func (e *Error) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("escrow %s %s: %v", e.Op, e.ListingID, e.Err)
	}

	return fmt.Sprintf("escrow %s %s (status %s): %v", e.Op, e.ListingID, e.Status, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Errors that are not escrow failures report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return classify(err)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrLedgerWriteFailed):
		return KindLedgerWriteFailed
	case errors.Is(err, ErrBuyerFundsChanged):
		return KindBuyerFundsChanged
	case errors.Is(err, ErrSelfDealing):
		return KindSelfDealing
	case errors.Is(err, ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, listing.ErrNotFound):
		return KindNotFound
	case errors.Is(err, listing.ErrAlreadyReserved):
		return KindAlreadyReserved
	case errors.Is(err, listing.ErrNotReserved):
		return KindNotReserved
	case errors.Is(err, listing.ErrNotAvailable):
		return KindNotAvailable
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, listing.ErrInvalidListing), errors.Is(err, ledger.ErrInvalidAmount):
		return KindInvalid
	}

	return KindInternal
}
