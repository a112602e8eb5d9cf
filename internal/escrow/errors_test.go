package escrow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MrJamesThe3rd/haven/internal/escrow"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/listing"
)

func TestKindOf(t *testing.T) {
	type testCase struct {
		name string
		err  error
		want escrow.Kind
	}

	tests := []testCase{
		{name: "NotFound", err: listing.ErrNotFound, want: escrow.KindNotFound},
		{name: "AlreadyReserved", err: listing.ErrAlreadyReserved, want: escrow.KindAlreadyReserved},
		{name: "NotAvailable", err: listing.ErrNotAvailable, want: escrow.KindNotAvailable},
		{name: "NotReserved", err: listing.ErrNotReserved, want: escrow.KindNotReserved},
		{name: "SelfDealing", err: escrow.ErrSelfDealing, want: escrow.KindSelfDealing},
		{name: "NotAuthorized", err: escrow.ErrNotAuthorized, want: escrow.KindNotAuthorized},
		{name: "InsufficientFunds", err: ledger.ErrInsufficientFunds, want: escrow.KindInsufficientFunds},
		{name: "BuyerFundsChanged", err: escrow.ErrBuyerFundsChanged, want: escrow.KindBuyerFundsChanged},
		{name: "InvalidListing", err: fmt.Errorf("%w: price", listing.ErrInvalidListing), want: escrow.KindInvalid},
		{
			name: "LedgerWrite",
			err:  fmt.Errorf("%w: append: %w", escrow.ErrLedgerWriteFailed, ledger.ErrInsufficientFunds),
			want: escrow.KindLedgerWriteFailed,
		},
		{
			name: "DeadlineInsideLedgerWrite",
			err:  fmt.Errorf("%w: begin: %w", escrow.ErrLedgerWriteFailed, context.DeadlineExceeded),
			want: escrow.KindTimeout,
		},
		{name: "Unknown", err: errors.New("disk on fire"), want: escrow.KindInternal},
		{
			name: "Wrapped",
			err:  fmt.Errorf("handler: %w", &escrow.Error{Op: "approve", Kind: escrow.KindNotReserved, Err: listing.ErrNotReserved}),
			want: escrow.KindNotReserved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escrow.KindOf(tt.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &escrow.Error{Op: "approve", Kind: escrow.KindNotReserved, Status: listing.StatusAvailable, Err: listing.ErrNotReserved}

	assert.Contains(t, err.Error(), "status available")
	assert.ErrorIs(t, err, listing.ErrNotReserved)
}
