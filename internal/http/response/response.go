package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/MrJamesThe3rd/haven/internal/escrow"
)

type errorBody struct {
	Error         string            `json:"error"`
	Message       string            `json:"message"`
	ListingStatus string            `json:"listing_status,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Error writes err with the status code of its escrow kind.
func Error(w http.ResponseWriter, err error) {
	body := errorBody{Error: string(escrow.KindOf(err)), Message: err.Error()}

	var e *escrow.Error
	if errors.As(err, &e) {
		body.ListingStatus = string(e.Status)
	}

	status := StatusFor(escrow.Kind(body.Error))
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)

		body.Message = "internal error"
	}

	JSON(w, status, body)
}

// BadRequest reports a malformed or invalid request body. Validation failures are
// listed per field.
func BadRequest(w http.ResponseWriter, err error) {
	body := errorBody{Error: string(escrow.KindInvalid), Message: err.Error()}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		body.Message = "validation failed"
		body.Details = make(map[string]string, len(verrs))

		for _, fe := range verrs {
			body.Details[fe.Field()] = "failed on '" + fe.Tag() + "'"
		}
	}

	JSON(w, http.StatusBadRequest, body)
}

func StatusFor(kind escrow.Kind) int {
	switch kind {
	case escrow.KindNotFound:
		return http.StatusNotFound
	case escrow.KindNotAuthorized:
		return http.StatusForbidden
	case escrow.KindSelfDealing, escrow.KindInvalid:
		return http.StatusBadRequest
	case escrow.KindAlreadyReserved, escrow.KindNotAvailable, escrow.KindNotReserved, escrow.KindBuyerFundsChanged:
		return http.StatusConflict
	case escrow.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case escrow.KindLedgerWriteFailed:
		return http.StatusServiceUnavailable
	case escrow.KindTimeout:
		return http.StatusGatewayTimeout
	}

	return http.StatusInternalServerError
}
