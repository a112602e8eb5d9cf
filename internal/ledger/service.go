package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/notify"
)

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=ledger
type Repository interface {
	// BeginPosting opens a unit of work holding locks on the given wallets,
	// creating empty wallets for first-time owners.
	BeginPosting(ctx context.Context, ownerIDs []string) (PostingTx, error)
	GetWallet(ctx context.Context, ownerID string) (*Wallet, error)
	ListEntriesByOwner(ctx context.Context, ownerID string) ([]*Entry, error)
	ListEntriesByListing(ctx context.Context, listingID uuid.UUID) ([]*Entry, error)
	// Reconcile returns every wallet whose cached balance differs from the sum of its entries.
	Reconcile(ctx context.Context) ([]Mismatch, error)
}

// PostingTx is a unit of work over a fixed set of locked wallets. Nothing it appends is
// visible to other readers until Commit.
type PostingTx interface {
	// Balance returns the locked balance, including anything appended so far.
	Balance(ctx context.Context, ownerID string) (int64, error)
	// Append writes entries and applies their deltas to the cached balances. It fails
	// with ErrInsufficientFunds if any balance would go negative.
	Append(ctx context.Context, entries []*Entry) error
	Commit() error
	Rollback() error
}

// Service is the wallet accessor: the only way balances change outside escrow settlement.
type Service struct {
	repo     Repository
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Receipt is the outcome of a deposit or withdrawal.
type Receipt struct {
	Entry   *Entry
	Balance int64
}

func (s *Service) Deposit(ctx context.Context, ownerID string, amount int64) (*Receipt, error) {
	return s.post(ctx, ownerID, func(b *Batch) (*Entry, error) {
		return b.Credit(ctx, ownerID, amount, KindDeposit, nil)
	})
}

func (s *Service) Withdrawal(ctx context.Context, ownerID string, amount int64) (*Receipt, error) {
	return s.post(ctx, ownerID, func(b *Batch) (*Entry, error) {
		return b.Debit(ctx, ownerID, amount, KindWithdrawal, nil)
	})
}

func (s *Service) post(ctx context.Context, ownerID string, build func(b *Batch) (*Entry, error)) (*Receipt, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidBatch)
	}

	ptx, err := s.repo.BeginPosting(ctx, []string{ownerID})
	if err != nil {
		return nil, fmt.Errorf("begin posting: %w", err)
	}
	defer ptx.Rollback()

	batch := NewBatch(ptx, s.now())

	entry, err := build(batch)
	if err != nil {
		return nil, err
	}

	if err := batch.Append(ctx); err != nil {
		return nil, fmt.Errorf("append entries: %w", err)
	}

	balance, err := ptx.Balance(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}

	if err := ptx.Commit(); err != nil {
		return nil, fmt.Errorf("commit posting: %w", err)
	}

	s.logger.InfoContext(ctx, "wallet posting committed",
		"owner", ownerID, "kind", entry.Kind, "amount", entry.Amount, "balance", balance)

	s.notifier.Notify(ctx, ownerID, notify.EventFundsChanged, notify.Payload{
		Amount:  entry.Amount,
		Balance: new(balance),
	})

	return &Receipt{Entry: entry, Balance: balance}, nil
}

// BalanceOf returns the cached balance. Owners without a wallet have a zero balance.
func (s *Service) BalanceOf(ctx context.Context, ownerID string) (int64, error) {
	w, err := s.repo.GetWallet(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	return w.Balance, nil
}

func (s *Service) History(ctx context.Context, ownerID string) ([]*Entry, error) {
	return s.repo.ListEntriesByOwner(ctx, ownerID)
}

func (s *Service) ListingEntries(ctx context.Context, listingID uuid.UUID) ([]*Entry, error) {
	return s.repo.ListEntriesByListing(ctx, listingID)
}

// Reconcile compares every cached balance with the sum of its ledger entries.
func (s *Service) Reconcile(ctx context.Context) ([]Mismatch, error) {
	mismatches, err := s.repo.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciling wallets: %w", err)
	}

	for _, m := range mismatches {
		s.logger.ErrorContext(ctx, "wallet balance does not match ledger",
			"owner", m.OwnerID, "cached", m.Cached, "ledger", m.Ledger)
	}

	return mismatches, nil
}
