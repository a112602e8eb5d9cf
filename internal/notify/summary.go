package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatAmount renders wallet units with digit grouping, e.g. 200000 -> "200,000".
func FormatAmount(units int64) string {
	return printer.Sprintf("%d", units)
}

// Summarize builds the one-line human readable text attached to an event.
func Summarize(kind EventKind, p Payload) string {
	listing := "listing"
	if p.ListingID != nil {
		listing = "listing " + p.ListingID.String()
	}

	switch kind {
	case EventReservationCreated:
		return printer.Sprintf("%s was reserved by %s for %s units", listing, p.Counterparty, FormatAmount(p.Amount))
	case EventApprovalSucceeded:
		return printer.Sprintf("%s was transferred to you for %s units", listing, FormatAmount(p.Amount))
	case EventReservationCancelled:
		return printer.Sprintf("reservation on %s was cancelled", listing)
	case EventFundsChanged:
		if p.Balance != nil {
			return printer.Sprintf("wallet changed by %s units, balance is now %s", FormatAmount(p.Amount), FormatAmount(*p.Balance))
		}

		return printer.Sprintf("wallet changed by %s units", FormatAmount(p.Amount))
	}

	return string(kind)
}
