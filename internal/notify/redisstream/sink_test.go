package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/haven/internal/notify"
)

func testEvent() notify.Event {
	listingID := uuid.New()

	return notify.Event{
		ID:          uuid.New(),
		RecipientID: "seller",
		Kind:        notify.EventReservationCreated,
		Payload:     notify.Payload{ListingID: &listingID, Amount: 200000, Counterparty: "buyer"},
		Summary:     "reserved",
		OccurredAt:  time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSink_Deliver(t *testing.T) {
	type testCase struct {
		name    string
		maxLen  int64
		failure error
	}

	tests := []testCase{
		{name: "Capped", maxLen: 1000},
		{name: "Uncapped"},
		{name: "RedisDown", maxLen: 1000, failure: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()

			e := testEvent()
			body, err := json.Marshal(e)
			require.NoError(t, err)

			args := xaddArgs("haven:notifications", tt.maxLen, e.RecipientID, string(e.Kind), string(body))

			if tt.failure != nil {
				mock.ExpectXAdd(args).SetErr(tt.failure)
			} else {
				mock.ExpectXAdd(args).SetVal("1714557600000-0")
			}

			err = New(client, "haven:notifications", tt.maxLen).Deliver(context.Background(), e)

			if tt.failure != nil {
				assert.ErrorIs(t, err, tt.failure)
			} else {
				assert.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestXAddArgs(t *testing.T) {
	capped := xaddArgs("s", 10, "r", "k", "{}")
	assert.Equal(t, int64(10), capped.MaxLen)
	assert.True(t, capped.Approx)

	uncapped := xaddArgs("s", 0, "r", "k", "{}")
	assert.Zero(t, uncapped.MaxLen)
	assert.False(t, uncapped.Approx)
	assert.Equal(t, []any{"recipient", "r", "kind", "k", "event", "{}"}, uncapped.Values)
}
