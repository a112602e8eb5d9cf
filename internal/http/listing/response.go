package listing

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/http/response"
	"github.com/MrJamesThe3rd/haven/internal/listing"
)

type listingResponse struct {
	ID           uuid.UUID      `json:"id"`
	Price        int64          `json:"price"`
	Kind         listing.Kind   `json:"kind"`
	Status       listing.Status `json:"status"`
	OwnerID      string         `json:"owner_id"`
	AgentID      *string        `json:"agent_id,omitempty"`
	OccupantID   *string        `json:"occupant_id,omitempty"`
	ReservedBy   *string        `json:"reserved_by,omitempty"`
	ReservedAt   *time.Time     `json:"reserved_at,omitempty"`
	RentalExpiry *time.Time     `json:"rental_expiry,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
}

type reserveResponse struct {
	Listing               listingResponse `json:"listing"`
	InsufficientFundsHint bool            `json:"insufficient_funds_hint"`
}

type approveResponse struct {
	Listing       listingResponse  `json:"listing"`
	BuyerBalance  int64            `json:"buyer_balance"`
	SellerBalance int64            `json:"seller_balance"`
	Entries       []response.Entry `json:"entries"`
	Replayed      bool             `json:"replayed"`
}

func toResponse(l *listing.Listing) listingResponse {
	return listingResponse{
		ID:           l.ID,
		Price:        l.Price,
		Kind:         l.Kind,
		Status:       l.Status,
		OwnerID:      l.OwnerID,
		AgentID:      l.AgentID,
		OccupantID:   l.OccupantID,
		ReservedBy:   l.ReservedBy,
		ReservedAt:   l.ReservedAt,
		RentalExpiry: l.RentalExpiry,
		Version:      l.Version,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}
