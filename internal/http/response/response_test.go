package response_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/haven/internal/escrow"
	"github.com/MrJamesThe3rd/haven/internal/http/response"
	"github.com/MrJamesThe3rd/haven/internal/listing"
)

func TestStatusFor(t *testing.T) {
	tests := map[escrow.Kind]int{
		escrow.KindNotFound:          http.StatusNotFound,
		escrow.KindNotAuthorized:     http.StatusForbidden,
		escrow.KindSelfDealing:       http.StatusBadRequest,
		escrow.KindInvalid:           http.StatusBadRequest,
		escrow.KindAlreadyReserved:   http.StatusConflict,
		escrow.KindNotAvailable:      http.StatusConflict,
		escrow.KindNotReserved:       http.StatusConflict,
		escrow.KindBuyerFundsChanged: http.StatusConflict,
		escrow.KindInsufficientFunds: http.StatusUnprocessableEntity,
		escrow.KindLedgerWriteFailed: http.StatusServiceUnavailable,
		escrow.KindTimeout:           http.StatusGatewayTimeout,
		escrow.KindInternal:          http.StatusInternalServerError,
	}

	for kind, want := range tests {
		t.Run(string(kind), func(t *testing.T) {
			assert.Equal(t, want, response.StatusFor(kind))
		})
	}
}

func TestError(t *testing.T) {
	t.Run("EscrowError", func(t *testing.T) {
		rec := httptest.NewRecorder()

		response.Error(rec, &escrow.Error{
			Op:        "approve",
			Kind:      escrow.KindBuyerFundsChanged,
			ListingID: uuid.New(),
			Status:    listing.StatusAvailable,
			Err:       escrow.ErrBuyerFundsChanged,
		})

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "buyer_funds_changed", body["error"])
		assert.Equal(t, "available", body["listing_status"])
	})

	t.Run("InternalMasked", func(t *testing.T) {
		rec := httptest.NewRecorder()

		response.Error(rec, errors.New("pq: password authentication failed"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal error", body["message"])
	})
}
