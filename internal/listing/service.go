package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxSaveAttempts bounds the re-read/re-validate loop after a version conflict.
const maxSaveAttempts = 5

//go:generate mockgen -source=service.go -destination=repository_mock.go -package=listing
type Repository interface {
	CreateListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, id uuid.UUID) (*Listing, error)
	ListListings(ctx context.Context, status *Status) ([]*Listing, error)
	// SaveListing persists l only if the stored version still equals expectedVersion,
	// returning ErrVersionConflict otherwise. On success l.Version is advanced.
	SaveListing(ctx context.Context, l *Listing, expectedVersion int64) error
}

// Registry owns listing records and their status transitions.
type Registry struct {
	repo Repository
	now  func() time.Time
}

func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, now: time.Now}
}

type CreateParams struct {
	OwnerID string
	AgentID *string
	Price   int64
	Kind    Kind
}

func (r *Registry) Create(ctx context.Context, params CreateParams) (*Listing, error) {
	l := &Listing{
		ID:        uuid.New(),
		Price:     params.Price,
		Kind:      params.Kind,
		Status:    StatusAvailable,
		OwnerID:   params.OwnerID,
		AgentID:   params.AgentID,
		CreatedAt: r.now().UTC(),
	}

	if err := l.Validate(); err != nil {
		return nil, err
	}

	if err := r.repo.CreateListing(ctx, l); err != nil {
		return nil, err
	}

	return l, nil
}

func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return r.repo.GetListing(ctx, id)
}

func (r *Registry) List(ctx context.Context, status *Status) ([]*Listing, error) {
	return r.repo.ListListings(ctx, status)
}

// Reserve atomically moves the listing from available to reserved. When two callers
// race, the loser re-reads the listing and receives ErrAlreadyReserved.
func (r *Registry) Reserve(ctx context.Context, id uuid.UUID, requesterID string) (*Listing, error) {
	return r.Apply(ctx, id, func(l *Listing) error {
		return l.Reserve(requesterID, r.now().UTC())
	})
}

// CancelReservation returns a reserved listing to available.
func (r *Registry) CancelReservation(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return r.Apply(ctx, id, func(l *Listing) error {
		return l.CancelReservation()
	})
}

func (r *Registry) Withdraw(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return r.Apply(ctx, id, func(l *Listing) error {
		return l.Withdraw()
	})
}

func (r *Registry) Relist(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return r.Apply(ctx, id, func(l *Listing) error {
		return l.Relist()
	})
}

// Apply runs fn against a fresh copy of the listing and saves the result with a
// version check. fn may run more than once and must only mutate the listing it is given.
// When fn fails the stored listing is returned alongside the error.
func (r *Registry) Apply(ctx context.Context, id uuid.UUID, fn func(l *Listing) error) (*Listing, error) {
	for range maxSaveAttempts {
		current, err := r.repo.GetListing(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return current, err
		}

		next.UpdatedAt = new(r.now().UTC())

		err = r.repo.SaveListing(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("saving listing: %w", err)
		}

		return next, nil
	}

	return nil, fmt.Errorf("transition listing %s: %w", id, ErrVersionConflict)
}
