// Package statement renders a wallet's ledger history for download.
package statement

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrJamesThe3rd/haven/internal/ledger"
	"github.com/MrJamesThe3rd/haven/internal/notify"
)

// Line is one ledger entry with the balance right after it.
type Line struct {
	Date      time.Time
	Kind      ledger.Kind
	Amount    int64
	Balance   int64
	ListingID *uuid.UUID
	BatchID   uuid.UUID
}

type Service struct {
	wallets *ledger.Service
}

func NewService(wallets *ledger.Service) *Service {
	return &Service{wallets: wallets}
}

// Build returns the statement lines of ownerID, oldest first.
func (s *Service) Build(ctx context.Context, ownerID string) ([]Line, error) {
	entries, err := s.wallets.History(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	return Lines(entries), nil
}

// Lines accumulates a running balance over entries, which must be in commit order.
func Lines(entries []*ledger.Entry) []Line {
	lines := make([]Line, 0, len(entries))

	var balance int64

	for _, e := range entries {
		balance += e.Amount

		lines = append(lines, Line{
			Date:      e.CreatedAt,
			Kind:      e.Kind,
			Amount:    e.Amount,
			Balance:   balance,
			ListingID: e.ListingID,
			BatchID:   e.BatchID,
		})
	}

	return lines
}

var header = []string{"date", "kind", "amount", "balance", "listing_id", "batch_id"}

func WriteCSV(w io.Writer, lines []Line) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, l := range lines {
		listingID := ""
		if l.ListingID != nil {
			listingID = l.ListingID.String()
		}

		record := []string{
			l.Date.UTC().Format(time.RFC3339),
			string(l.Kind),
			strconv.FormatInt(l.Amount, 10),
			strconv.FormatInt(l.Balance, 10),
			listingID,
			l.BatchID.String(),
		}

		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing line: %w", err)
		}
	}

	cw.Flush()

	return cw.Error()
}

// Summary renders one human readable row per line, e.g. for a notification body.
func Summary(lines []Line) string {
	var sb strings.Builder

	for _, l := range lines {
		sign := ""
		if l.Amount > 0 {
			sign = "+"
		}

		fmt.Fprintf(&sb, "* %s | %s | %s%s | balance %s\n",
			l.Date.UTC().Format("2006-01-02"),
			l.Kind,
			sign,
			notify.FormatAmount(l.Amount),
			notify.FormatAmount(l.Balance),
		)
	}

	return sb.String()
}
