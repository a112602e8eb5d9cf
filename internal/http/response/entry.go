package response

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/ledger"
)

type Entry struct {
	ID        uuid.UUID          `json:"id"`
	BatchID   uuid.UUID          `json:"batch_id"`
	OwnerID   string             `json:"owner_id"`
	Amount    int64              `json:"amount"`
	Kind      ledger.Kind        `json:"kind"`
	ListingID *uuid.UUID         `json:"listing_id,omitempty"`
	Status    ledger.EntryStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

func Entries(entries []*ledger.Entry) []Entry {
	out := make([]Entry, 0, len(entries))

	for _, e := range entries {
		out = append(out, Entry{
			ID:        e.ID,
			BatchID:   e.BatchID,
			OwnerID:   e.OwnerID,
			Amount:    e.Amount,
			Kind:      e.Kind,
			ListingID: e.ListingID,
			Status:    e.Status,
			CreatedAt: e.CreatedAt,
		})
	}

	return out
}
