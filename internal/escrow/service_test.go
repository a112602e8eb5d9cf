package escrow_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/haven/internal/escrow"
	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/listing"
	"github.com/MrJamesThe3rd/haven/internal/memstore"
	"github.com/MrJamesThe3rd/haven/internal/notify"
	"github.com/MrJamesThe3rd/haven/internal/notify/notifytest"
)

const rentalPeriod = 30 * 24 * time.Hour

type harness struct {
	svc      *escrow.Service
	store    *memstore.Store
	registry *listing.Registry
	wallets  *ledger.Service
	notes    *notifytest.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memstore.New()
	registry := listing.NewRegistry(store)
	logger := slog.New(slog.DiscardHandler)
	wallets := ledger.NewService(store, notify.Discard{}, logger)
	notes := &notifytest.Recorder{}

	svc := escrow.NewService(registry, wallets, store, notes, logger, escrow.Config{
		ApproveTimeout: time.Second,
		RentalPeriod:   rentalPeriod,
	})

	return &harness{svc: svc, store: store, registry: registry, wallets: wallets, notes: notes}
}

func (h *harness) listing(t *testing.T, kind listing.Kind, price int64, agent *string) *listing.Listing {
	t.Helper()

	l, err := h.svc.CreateListing(context.Background(), escrow.CreateParams{
		OwnerID: "seller",
		AgentID: agent,
		Price:   price,
		Kind:    kind,
	})
	require.NoError(t, err)

	return l
}

func (h *harness) deposit(t *testing.T, owner string, amount int64) {
	t.Helper()

	_, err := h.wallets.Deposit(context.Background(), owner, amount)
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, owner string) int64 {
	t.Helper()

	b, err := h.wallets.BalanceOf(context.Background(), owner)
	require.NoError(t, err)

	return b
}

func (h *harness) status(t *testing.T, id uuid.UUID) listing.Status {
	t.Helper()

	l, err := h.registry.Get(context.Background(), id)
	require.NoError(t, err)

	return l.Status
}

func (h *harness) assertReconciled(t *testing.T) {
	t.Helper()

	mismatches, err := h.wallets.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func requireKind(t *testing.T, err error, want escrow.Kind) *escrow.Error {
	t.Helper()

	var e *escrow.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, want, e.Kind)

	return e
}

func TestService_SaleSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	l := h.listing(t, listing.KindForSale, 200000, nil)
	h.deposit(t, "buyer", 250000)

	reserved, err := h.svc.Initiate(ctx, l.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, listing.StatusReserved, reserved.Listing.Status)
	assert.False(t, reserved.InsufficientFundsHint)
	assert.Equal(t, []notify.EventKind{notify.EventReservationCreated}, h.notes.Kinds("seller"))

	res, err := h.svc.Approve(ctx, l.ID, "seller")
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.Equal(t, listing.StatusTransferred, res.Listing.Status)
	assert.Equal(t, "buyer", res.Listing.OwnerID)
	assert.Nil(t, res.Listing.OccupantID)
	assert.Equal(t, int64(50000), res.BuyerBalance)
	assert.Equal(t, int64(200000), res.SellerBalance)

	require.Len(t, res.Entries, 2)

	var sum int64
	for _, e := range res.Entries {
		sum += e.Amount
		assert.Equal(t, res.Entries[0].BatchID, e.BatchID)
		assert.Equal(t, l.ID, *e.ListingID)
	}

	assert.Zero(t, sum)

	assert.Equal(t, int64(50000), h.balance(t, "buyer"))
	assert.Equal(t, int64(200000), h.balance(t, "seller"))
	assert.Equal(t, listing.StatusTransferred, h.status(t, l.ID))
	h.assertReconciled(t)

	assert.Equal(t, []notify.EventKind{notify.EventApprovalSucceeded, notify.EventFundsChanged}, h.notes.Kinds("buyer"))
	assert.Equal(t, []notify.EventKind{notify.EventReservationCreated, notify.EventFundsChanged}, h.notes.Kinds("seller"))
}

func TestService_RentalSettlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	l := h.listing(t, listing.KindForRent, 1500, nil)
	h.deposit(t, "tenant", 1500)

	_, err := h.svc.Initiate(ctx, l.ID, "tenant")
	require.NoError(t, err)

	res, err := h.svc.Approve(ctx, l.ID, "seller")
	require.NoError(t, err)

	assert.Equal(t, "seller", res.Listing.OwnerID)
	require.NotNil(t, res.Listing.OccupantID)
	assert.Equal(t, "tenant", *res.Listing.OccupantID)
	require.NotNil(t, res.Listing.RentalExpiry)
	assert.WithinDuration(t, time.Now().Add(rentalPeriod), *res.Listing.RentalExpiry, time.Minute)

	kinds := map[ledger.Kind]int64{}
	for _, e := range res.Entries {
		kinds[e.Kind] = e.Amount
	}

	assert.Equal(t, map[ledger.Kind]int64{ledger.KindRentalPayment: -1500, ledger.KindRentalProceeds: 1500}, kinds)
	assert.Zero(t, h.balance(t, "tenant"))
	h.assertReconciled(t)
}

func TestService_InitiateInsufficientFundsHint(t *testing.T) {
	h := newHarness(t)

	l := h.listing(t, listing.KindForSale, 200000, nil)
	h.deposit(t, "buyer", 1000)

	res, err := h.svc.Initiate(context.Background(), l.ID, "buyer")
	require.NoError(t, err)

	assert.True(t, res.InsufficientFundsHint)
	assert.Equal(t, listing.StatusReserved, res.Listing.Status)
}

func TestService_InitiateRejections(t *testing.T) {
	type testCase struct {
		name     string
		setup    func(h *harness, id uuid.UUID)
		buyer    string
		wantKind escrow.Kind
	}

	tests := []testCase{
		{name: "OwnerSelfDealing", buyer: "seller", wantKind: escrow.KindSelfDealing},
		{name: "AgentSelfDealing", buyer: "agent", wantKind: escrow.KindSelfDealing},
		{
			name:  "AlreadyReserved",
			buyer: "buyer-2",
			setup: func(h *harness, id uuid.UUID) {
				_, err := h.svc.Initiate(context.Background(), id, "buyer")
				require.NoError(t, err)
			},
			wantKind: escrow.KindAlreadyReserved,
		},
		{
			name:  "Withdrawn",
			buyer: "buyer",
			setup: func(h *harness, id uuid.UUID) {
				_, err := h.svc.Withdraw(context.Background(), id, "seller")
				require.NoError(t, err)
			},
			wantKind: escrow.KindNotAvailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			l := h.listing(t, listing.KindForSale, 100, new("agent"))

			if tt.setup != nil {
				tt.setup(h, l.ID)
			}

			before := h.status(t, l.ID)

			_, err := h.svc.Initiate(context.Background(), l.ID, tt.buyer)
			e := requireKind(t, err, tt.wantKind)

			assert.Equal(t, before, e.Status)
			assert.Equal(t, before, h.status(t, l.ID))
		})
	}
}

func TestService_InitiateUnknownListing(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Initiate(context.Background(), uuid.New(), "buyer")
	e := requireKind(t, err, escrow.KindNotFound)

	assert.Empty(t, e.Status)
}

func TestService_ConcurrentInitiate(t *testing.T) {
	h := newHarness(t)
	l := h.listing(t, listing.KindForSale, 100, nil)

	const buyers = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)

	for i := range buyers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			buyer := "buyer-" + string(rune('a'+i))

			_, err := h.svc.Initiate(context.Background(), l.ID, buyer)

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				winners = append(winners, buyer)
				return
			}

			if escrow.KindOf(err) == escrow.KindAlreadyReserved {
				conflicts++
			}
		}()
	}

	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, buyers-1, conflicts)

	got, err := h.registry.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], *got.ReservedBy)
}

func TestService_ApproveRejections(t *testing.T) {
	type testCase struct {
		name       string
		reserve    bool
		approver   string
		wantKind   escrow.Kind
		wantStatus listing.Status
	}

	tests := []testCase{
		{name: "BuyerCannotApprove", reserve: true, approver: "buyer", wantKind: escrow.KindNotAuthorized, wantStatus: listing.StatusReserved},
		{name: "StrangerCannotApprove", reserve: true, approver: "mallory", wantKind: escrow.KindNotAuthorized, wantStatus: listing.StatusReserved},
		{name: "NotReserved", approver: "seller", wantKind: escrow.KindNotReserved, wantStatus: listing.StatusAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			l := h.listing(t, listing.KindForSale, 100, nil)
			h.deposit(t, "buyer", 100)

			if tt.reserve {
				_, err := h.svc.Initiate(context.Background(), l.ID, "buyer")
				require.NoError(t, err)
			}

			_, err := h.svc.Approve(context.Background(), l.ID, tt.approver)
			e := requireKind(t, err, tt.wantKind)

			assert.Equal(t, tt.wantStatus, e.Status)
			assert.Equal(t, int64(100), h.balance(t, "buyer"))
			assert.Zero(t, h.balance(t, "seller"))
		})
	}
}

func TestService_AgentApprovesForOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	l := h.listing(t, listing.KindForSale, 300, new("agent"))
	h.deposit(t, "buyer", 300)

	_, err := h.svc.Initiate(ctx, l.ID, "buyer")
	require.NoError(t, err)

	res, err := h.svc.Approve(ctx, l.ID, "agent")
	require.NoError(t, err)

	assert.Equal(t, int64(300), res.SellerBalance)
	assert.Equal(t, int64(300), h.balance(t, "seller"))
	assert.Zero(t, h.balance(t, "agent"))
}

func TestService_ApproveBuyerFundsChanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	l := h.listing(t, listing.KindForSale, 200000, nil)
	h.deposit(t, "buyer", 250000)

	_, err := h.svc.Initiate(ctx, l.ID, "buyer")
	require.NoError(t, err)

	_, err = h.wallets.Withdrawal(ctx, "buyer", 150000)
	require.NoError(t, err)

	_, err = h.svc.Approve(ctx, l.ID, "seller")
	e := requireKind(t, err, escrow.KindBuyerFundsChanged)

	assert.ErrorIs(t, err, escrow.ErrBuyerFundsChanged)
	assert.Equal(t, listing.StatusAvailable, e.Status)
	assert.Equal(t, listing.StatusAvailable, h.status(t, l.ID))
	assert.Equal(t, int64(100000), h.balance(t, "buyer"))
	assert.Zero(t, h.balance(t, "seller"))

	entries, err := h.wallets.ListingEntries(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, []notify.EventKind{notify.EventReservationCancelled}, h.notes.Kinds("buyer"))
	h.assertReconciled(t)

	// The released listing can be reserved again.
	_, err = h.svc.Initiate(ctx, l.ID, "buyer-2")
	assert.NoError(t, err)
}

func TestService_ApproveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	l := h.listing(t, listing.KindForSale, 200000, new("agent"))
	h.deposit(t, "buyer", 250000)

	_, err := h.svc.Initiate(ctx, l.ID, "buyer")
	require.NoError(t, err)

	first, err := h.svc.Approve(ctx, l.ID, "seller")
	require.NoError(t, err)

	notesBefore := len(h.notes.Calls())

	for _, approver := range []string{"seller", "agent"} {
		again, err := h.svc.Approve(ctx, l.ID, approver)
		require.NoError(t, err)

		assert.True(t, again.Replayed)
		assert.Equal(t, first.BuyerBalance, again.BuyerBalance)
		assert.Equal(t, first.SellerBalance, again.SellerBalance)
		assert.ElementsMatch(t, first.Entries, again.Entries)
	}

	// After a sale the buyer is the new owner, but only the seller side may replay.
	_, err = h.svc.Approve(ctx, l.ID, "buyer")
	requireKind(t, err, escrow.KindNotAuthorized)

	entries, err := h.wallets.ListingEntries(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Len(t, h.notes.Calls(), notesBefore)
	h.assertReconciled(t)
}

func TestService_ConcurrentApprove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	l := h.listing(t, listing.KindForSale, 1000, nil)
	h.deposit(t, "buyer", 1000)

	_, err := h.svc.Initiate(ctx, l.ID, "buyer")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		settled  int
		replayed int
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			res, err := h.svc.Approve(ctx, l.ID, "seller")
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			defer mu.Unlock()

			if res.Replayed {
				replayed++
			} else {
				settled++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, 9, replayed)
	assert.Zero(t, h.balance(t, "buyer"))
	assert.Equal(t, int64(1000), h.balance(t, "seller"))
	h.assertReconciled(t)
}

func TestService_CancelReservation(t *testing.T) {
	type testCase struct {
		name          string
		reserve       bool
		requester     string
		wantKind      escrow.Kind
		notifiedParty string
	}

	tests := []testCase{
		{name: "BuyerCancels", reserve: true, requester: "buyer", notifiedParty: "seller"},
		{name: "OwnerCancels", reserve: true, requester: "seller", notifiedParty: "buyer"},
		{name: "AgentCancels", reserve: true, requester: "agent", notifiedParty: "buyer"},
		{name: "StrangerRejected", reserve: true, requester: "mallory", wantKind: escrow.KindNotAuthorized},
		{name: "NotReserved", requester: "seller", wantKind: escrow.KindNotReserved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			l := h.listing(t, listing.KindForSale, 100, new("agent"))

			if tt.reserve {
				_, err := h.svc.Initiate(ctx, l.ID, "buyer")
				require.NoError(t, err)
			}

			got, err := h.svc.CancelReservation(ctx, l.ID, tt.requester)
			if tt.wantKind != "" {
				requireKind(t, err, tt.wantKind)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, listing.StatusAvailable, got.Status)
			assert.Nil(t, got.ReservedBy)
			assert.Contains(t, h.notes.Kinds(tt.notifiedParty), notify.EventReservationCancelled)
		})
	}
}

func TestService_WithdrawAndRelist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	l := h.listing(t, listing.KindForRent, 100, nil)

	_, err := h.svc.Withdraw(ctx, l.ID, "mallory")
	requireKind(t, err, escrow.KindNotAuthorized)

	got, err := h.svc.Withdraw(ctx, l.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, listing.StatusWithdrawn, got.Status)

	_, err = h.svc.Initiate(ctx, l.ID, "tenant")
	requireKind(t, err, escrow.KindNotAvailable)

	got, err = h.svc.Relist(ctx, l.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, listing.StatusAvailable, got.Status)

	_, err = h.svc.Initiate(ctx, l.ID, "tenant")
	require.NoError(t, err)

	_, err = h.svc.Withdraw(ctx, l.ID, "seller")
	requireKind(t, err, escrow.KindAlreadyReserved)
}

func TestService_CreateListingValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateListing(context.Background(), escrow.CreateParams{OwnerID: "seller", Price: 0, Kind: listing.KindForSale})
	requireKind(t, err, escrow.KindInvalid)

	_, err = h.svc.CreateListing(context.Background(), escrow.CreateParams{Price: 10, Kind: listing.KindForSale})
	assert.True(t, errors.Is(err, listing.ErrInvalidListing))
}

func TestService_ApproveTimesOutWaitingForStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	l := h.listing(t, listing.KindForSale, 200000, nil)
	h.deposit(t, "buyer", 250000)

	_, err := h.svc.Initiate(ctx, l.ID, "buyer")
	require.NoError(t, err)

	svc := escrow.NewService(h.registry, h.wallets, h.store, h.notes, slog.New(slog.DiscardHandler), escrow.Config{
		ApproveTimeout: 20 * time.Millisecond,
		RentalPeriod:   rentalPeriod,
	})

	held, err := h.store.BeginSettlement(ctx)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Approve(ctx, l.ID, "seller")
		errc <- err
	}()

	// The approval gives up on its own deadline; the status re-read then waits for the release.
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, held.Rollback())

	select {
	case err := <-errc:
		e := requireKind(t, err, escrow.KindTimeout)
		assert.Equal(t, listing.StatusReserved, e.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("approve blocked past its timeout")
	}

	assert.Equal(t, listing.StatusReserved, h.status(t, l.ID))
	assert.Equal(t, int64(250000), h.balance(t, "buyer"))
	h.assertReconciled(t)
}
