package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/listing"
	"github.com/MrJamesThe3rd/haven/internal/notify"
)

// statusLookupTimeout bounds the re-read of a listing after an operation failed.
const statusLookupTimeout = 2 * time.Second

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=escrow
type Repository interface {
	BeginSettlement(ctx context.Context) (SettlementTx, error)
}

// SettlementTx is the all-or-nothing unit of work behind an approval. The listing
// must be locked before any wallet.
type SettlementTx interface {
	ledger.PostingTx
	// LockListing reads the listing and holds its row lock until the transaction ends.
	LockListing(ctx context.Context, id uuid.UUID) (*listing.Listing, error)
	// LockWallets locks the wallets of ownerIDs, creating missing ones. It may be called once.
	LockWallets(ctx context.Context, ownerIDs []string) error
	SaveListing(ctx context.Context, l *listing.Listing, expectedVersion int64) error
	ListingEntries(ctx context.Context, listingID uuid.UUID) ([]*ledger.Entry, error)
}

type Config struct {
	ApproveTimeout time.Duration
	RentalPeriod   time.Duration
}

// Service coordinates reservations and approvals across the listing registry and the ledger.
type Service struct {
	registry *listing.Registry
	wallets  *ledger.Service
	repo     Repository
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(
	registry *listing.Registry,
	wallets *ledger.Service,
	repo Repository,
	notifier notify.Notifier,
	logger *slog.Logger,
	cfg Config,
) *Service {
	return &Service{
		registry: registry,
		wallets:  wallets,
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

type InitiateResult struct {
	Listing *listing.Listing
	// InsufficientFundsHint is set when the buyer's balance was below the price at
	// reservation time. It is advisory: the balance is checked again on approval.
	InsufficientFundsHint bool
}

type ApproveResult struct {
	Listing       *listing.Listing
	BuyerBalance  int64
	SellerBalance int64
	Entries       []*ledger.Entry
	// Replayed is set when the listing had already been settled and nothing was written.
	Replayed bool
}

type CreateParams struct {
	OwnerID string
	AgentID *string
	Price   int64
	Kind    listing.Kind
}

func (s *Service) CreateListing(ctx context.Context, params CreateParams) (*listing.Listing, error) {
	l, err := s.registry.Create(ctx, listing.CreateParams{
		OwnerID: params.OwnerID,
		AgentID: params.AgentID,
		Price:   params.Price,
		Kind:    params.Kind,
	})
	if err != nil {
		return nil, &Error{Op: "create", Kind: classify(err), Err: err}
	}

	s.logger.InfoContext(ctx, "listing created", "listing", l.ID, "owner", l.OwnerID, "kind", l.Kind, "price", l.Price)

	return l, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	l, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, "get", id, nil, err)
	}

	return l, nil
}

// Initiate reserves an available listing for buyerID.
func (s *Service) Initiate(ctx context.Context, listingID uuid.UUID, buyerID string) (*InitiateResult, error) {
	const op = "initiate"

	l, err := s.registry.Apply(ctx, listingID, func(l *listing.Listing) error {
		if l.CanApprove(buyerID) {
			return ErrSelfDealing
		}

		return l.Reserve(buyerID, s.now().UTC())
	})
	if err != nil {
		return nil, s.fail(ctx, op, listingID, l, err)
	}

	res := &InitiateResult{Listing: l}

	balance, err := s.wallets.BalanceOf(ctx, buyerID)
	if err != nil {
		s.logger.WarnContext(ctx, "reading buyer balance for reservation hint", "listing", l.ID, "buyer", buyerID, "error", err)
	} else {
		res.InsufficientFundsHint = balance < l.Price
	}

	s.logger.InfoContext(ctx, "listing reserved",
		"listing", l.ID, "buyer", buyerID, "price", l.Price, "insufficient_funds_hint", res.InsufficientFundsHint)

	s.notifier.Notify(ctx, l.OwnerID, notify.EventReservationCreated, notify.Payload{
		ListingID:     &l.ID,
		ListingStatus: string(l.Status),
		Amount:        l.Price,
		Counterparty:  buyerID,
	})

	return res, nil
}

// Approve settles a reservation: the buyer is debited, the seller credited and the
// listing transferred in one transaction, or nothing happens at all.
func (s *Service) Approve(ctx context.Context, listingID uuid.UUID, approverID string) (*ApproveResult, error) {
	const op = "approve"

	if s.cfg.ApproveTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.cfg.ApproveTimeout)
		defer cancel()
	}

	res, err := s.settle(ctx, listingID, approverID)
	if errors.Is(err, ErrBuyerFundsChanged) && res != nil {
		s.logger.WarnContext(ctx, "reservation released on approval, buyer funds changed", "listing", listingID)

		return nil, s.fail(ctx, op, listingID, res.Listing, err)
	}

	if err != nil {
		return nil, s.fail(ctx, op, listingID, nil, err)
	}

	if res.Replayed {
		s.logger.InfoContext(ctx, "approval replayed", "listing", listingID, "approver", approverID)
		return res, nil
	}

	s.logger.InfoContext(ctx, "listing transferred",
		"listing", res.Listing.ID, "approver", approverID, "price", res.Listing.Price)

	s.notifySettlement(ctx, res)

	return res, nil
}

func (s *Service) settle(ctx context.Context, listingID uuid.UUID, approverID string) (*ApproveResult, error) {
	stx, err := s.repo.BeginSettlement(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin settlement: %w", ErrLedgerWriteFailed, err)
	}
	defer stx.Rollback()

	l, err := stx.LockListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: locking listing: %w", ErrLedgerWriteFailed, err)
	}

	if l.Status == listing.StatusTransferred {
		return s.replay(ctx, stx, l, approverID)
	}

	if !l.CanApprove(approverID) {
		return nil, ErrNotAuthorized
	}

	if l.Status != listing.StatusReserved {
		return nil, listing.ErrNotReserved
	}

	buyerID, sellerID := *l.ReservedBy, l.OwnerID

	if err := stx.LockWallets(ctx, []string{buyerID, sellerID}); err != nil {
		return nil, fmt.Errorf("%w: locking wallets: %w", ErrLedgerWriteFailed, err)
	}

	buyerBalance, err := stx.Balance(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading buyer balance: %w", ErrLedgerWriteFailed, err)
	}

	now := s.now().UTC()

	if buyerBalance < l.Price {
		return s.compensate(ctx, stx, l, now)
	}

	debitKind, creditKind := ledger.KindPurchasePayment, ledger.KindSaleProceeds
	if l.Kind == listing.KindForRent {
		debitKind, creditKind = ledger.KindRentalPayment, ledger.KindRentalProceeds
	}

	batch := ledger.NewBatch(stx, now)

	if _, err := batch.Debit(ctx, buyerID, l.Price, debitKind, &l.ID); err != nil {
		return nil, fmt.Errorf("%w: debit buyer: %w", ErrLedgerWriteFailed, err)
	}

	if _, err := batch.Credit(ctx, sellerID, l.Price, creditKind, &l.ID); err != nil {
		return nil, fmt.Errorf("%w: credit seller: %w", ErrLedgerWriteFailed, err)
	}

	if err := batch.Append(ctx); err != nil {
		return nil, fmt.Errorf("%w: append entries: %w", ErrLedgerWriteFailed, err)
	}

	next := l.Clone()
	if err := next.FinalizeTransfer(buyerID, now, s.cfg.RentalPeriod); err != nil {
		return nil, fmt.Errorf("%w: finalize transfer: %w", ErrLedgerWriteFailed, err)
	}

	next.UpdatedAt = new(now)

	if err := stx.SaveListing(ctx, next, l.Version); err != nil {
		return nil, fmt.Errorf("%w: saving listing: %w", ErrLedgerWriteFailed, err)
	}

	res := &ApproveResult{Listing: next, Entries: batch.Entries()}

	if res.BuyerBalance, err = stx.Balance(ctx, buyerID); err != nil {
		return nil, fmt.Errorf("%w: reading buyer balance: %w", ErrLedgerWriteFailed, err)
	}

	if res.SellerBalance, err = stx.Balance(ctx, sellerID); err != nil {
		return nil, fmt.Errorf("%w: reading seller balance: %w", ErrLedgerWriteFailed, err)
	}

	if err := stx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit settlement: %w", ErrLedgerWriteFailed, err)
	}

	return res, nil
}

// compensate releases a reservation whose buyer can no longer pay. The release is
// committed before ErrBuyerFundsChanged is returned.
func (s *Service) compensate(ctx context.Context, stx SettlementTx, l *listing.Listing, now time.Time) (*ApproveResult, error) {
	next := l.Clone()
	if err := next.CancelReservation(); err != nil {
		return nil, fmt.Errorf("%w: releasing reservation: %w", ErrLedgerWriteFailed, err)
	}

	next.UpdatedAt = new(now)

	if err := stx.SaveListing(ctx, next, l.Version); err != nil {
		return nil, fmt.Errorf("%w: releasing reservation: %w", ErrLedgerWriteFailed, err)
	}

	if err := stx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit release: %w", ErrLedgerWriteFailed, err)
	}

	s.notifier.Notify(ctx, *l.ReservedBy, notify.EventReservationCancelled, notify.Payload{
		ListingID:     &next.ID,
		ListingStatus: string(next.Status),
		Amount:        next.Price,
		Counterparty:  next.OwnerID,
	})

	return &ApproveResult{Listing: next}, ErrBuyerFundsChanged
}

// replay answers a repeated approval of a settled listing from its recorded entries.
func (s *Service) replay(ctx context.Context, stx SettlementTx, l *listing.Listing, approverID string) (*ApproveResult, error) {
	entries, err := stx.ListingEntries(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading settlement entries: %w", ErrLedgerWriteFailed, err)
	}

	settlement := settlementEntries(entries)
	if settlement == nil {
		return nil, listing.ErrNotReserved
	}

	var buyerID, sellerID string

	for _, e := range settlement {
		if e.Amount > 0 {
			sellerID = e.OwnerID
		} else {
			buyerID = e.OwnerID
		}
	}

	isAgent := l.AgentID != nil && *l.AgentID == approverID
	if approverID == "" || (approverID != sellerID && !isAgent) {
		return nil, ErrNotAuthorized
	}

	if err := stx.LockWallets(ctx, []string{buyerID, sellerID}); err != nil {
		return nil, fmt.Errorf("%w: locking wallets: %w", ErrLedgerWriteFailed, err)
	}

	res := &ApproveResult{Listing: l, Entries: settlement, Replayed: true}

	if res.BuyerBalance, err = stx.Balance(ctx, buyerID); err != nil {
		return nil, fmt.Errorf("%w: reading buyer balance: %w", ErrLedgerWriteFailed, err)
	}

	if res.SellerBalance, err = stx.Balance(ctx, sellerID); err != nil {
		return nil, fmt.Errorf("%w: reading seller balance: %w", ErrLedgerWriteFailed, err)
	}

	return res, nil
}

// settlementEntries returns the most recent payment batch among entries.
func settlementEntries(entries []*ledger.Entry) []*ledger.Entry {
	var batchID uuid.UUID

	found := false

	for _, e := range entries {
		switch e.Kind {
		case ledger.KindSaleProceeds, ledger.KindRentalProceeds:
			batchID = e.BatchID
			found = true
		}
	}

	if !found {
		return nil
	}

	var out []*ledger.Entry

	for _, e := range entries {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}

	return out
}

func (s *Service) notifySettlement(ctx context.Context, res *ApproveResult) {
	l := res.Listing

	for _, e := range res.Entries {
		balance := res.SellerBalance
		if e.Amount < 0 {
			balance = res.BuyerBalance

			s.notifier.Notify(ctx, e.OwnerID, notify.EventApprovalSucceeded, notify.Payload{
				ListingID:     &l.ID,
				ListingStatus: string(l.Status),
				Amount:        l.Price,
			})
		}

		s.notifier.Notify(ctx, e.OwnerID, notify.EventFundsChanged, notify.Payload{
			ListingID: &l.ID,
			Amount:    e.Amount,
			Balance:   new(balance),
		})
	}
}

// CancelReservation releases a reservation. The reserving buyer, the owner and the
// agent may cancel.
func (s *Service) CancelReservation(ctx context.Context, listingID uuid.UUID, requesterID string) (*listing.Listing, error) {
	var buyerID string

	l, err := s.registry.Apply(ctx, listingID, func(l *listing.Listing) error {
		if l.Status != listing.StatusReserved {
			return listing.ErrNotReserved
		}

		if !l.IsReservedBy(requesterID) && !l.CanApprove(requesterID) {
			return ErrNotAuthorized
		}

		buyerID = *l.ReservedBy

		return l.CancelReservation()
	})
	if err != nil {
		return nil, s.fail(ctx, "cancel", listingID, l, err)
	}

	s.logger.InfoContext(ctx, "reservation cancelled", "listing", l.ID, "requester", requesterID)

	counterparty := buyerID
	if requesterID == buyerID {
		counterparty = l.OwnerID
	}

	s.notifier.Notify(ctx, counterparty, notify.EventReservationCancelled, notify.Payload{
		ListingID:     &l.ID,
		ListingStatus: string(l.Status),
		Amount:        l.Price,
		Counterparty:  requesterID,
	})

	return l, nil
}

// Withdraw takes an available listing off the market. Only the owner may withdraw.
func (s *Service) Withdraw(ctx context.Context, listingID uuid.UUID, ownerID string) (*listing.Listing, error) {
	l, err := s.registry.Apply(ctx, listingID, func(l *listing.Listing) error {
		if l.OwnerID != ownerID {
			return ErrNotAuthorized
		}

		return l.Withdraw()
	})
	if err != nil {
		return nil, s.fail(ctx, "withdraw", listingID, l, err)
	}

	s.logger.InfoContext(ctx, "listing withdrawn", "listing", l.ID)

	return l, nil
}

// Relist returns a withdrawn listing to the market. Only the owner may relist.
func (s *Service) Relist(ctx context.Context, listingID uuid.UUID, ownerID string) (*listing.Listing, error) {
	l, err := s.registry.Apply(ctx, listingID, func(l *listing.Listing) error {
		if l.OwnerID != ownerID {
			return ErrNotAuthorized
		}

		return l.Relist()
	})
	if err != nil {
		return nil, s.fail(ctx, "relist", listingID, l, err)
	}

	s.logger.InfoContext(ctx, "listing relisted", "listing", l.ID)

	return l, nil
}

// fail wraps err into an *Error. When current is nil the listing is read again so
// the error still reports its status.
func (s *Service) fail(ctx context.Context, op string, listingID uuid.UUID, current *listing.Listing, err error) error {
	kind := classify(err)

	if kind == KindTimeout && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	e := &Error{Op: op, Kind: kind, ListingID: listingID, Err: err}

	if current == nil && kind != KindNotFound {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusLookupTimeout)
		if l, gerr := s.registry.Get(lookupCtx, listingID); gerr == nil {
			current = l
		}

		cancel()
	}

	if current != nil {
		e.Status = current.Status
	}

	if kind == KindLedgerWriteFailed || kind == KindTimeout || kind == KindInternal {
		s.logger.ErrorContext(ctx, "escrow operation failed", "op", op, "listing", listingID, "kind", kind, "error", err)
	}

	return e
}
