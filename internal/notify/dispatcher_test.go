package notify

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts int
	got      []Event
	done     chan struct{}
}

func (s *flakySink) Deliver(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("stream unavailable")
	}

	s.got = append(s.got, e)
	if s.done != nil {
		close(s.done)
		s.done = nil
	}

	return nil
}

func TestDispatcher_RetriesUntilDelivered(t *testing.T) {
	sink := &flakySink{failures: 2, done: make(chan struct{})}
	done := sink.done

	d := NewDispatcher(sink, slog.New(slog.DiscardHandler), WithRetry(3, time.Millisecond), WithWorkers(1))

	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()

	listingID := uuid.New()
	d.Notify(ctx, "buyer", EventApprovalSucceeded, Payload{ListingID: &listingID, Amount: 200000})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	cancel()
	require.NoError(t, <-errc)

	sink.mu.Lock()
	defer sink.mu.Unlock()

	assert.Equal(t, 3, sink.attempts)
	require.Len(t, sink.got, 1)
	assert.Equal(t, "buyer", sink.got[0].RecipientID)
	assert.Contains(t, sink.got[0].Summary, "200,000")
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	sink := &flakySink{failures: 100}

	d := NewDispatcher(sink, slog.New(slog.DiscardHandler), WithRetry(2, 0))
	d.deliver(context.Background(), Event{ID: uuid.New(), RecipientID: "a", Kind: EventFundsChanged})

	assert.Equal(t, 2, sink.attempts)
	assert.Empty(t, sink.got)
}

func TestDispatcher_NotifyNeverBlocks(t *testing.T) {
	sink := &flakySink{}

	d := NewDispatcher(sink, slog.New(slog.DiscardHandler), WithQueueSize(1))

	finished := make(chan struct{})

	go func() {
		for range 10 {
			d.Notify(context.Background(), "a", EventFundsChanged, Payload{Amount: 1})
		}

		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	assert.Len(t, d.queue, 1)
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	sink := &flakySink{}

	d := NewDispatcher(sink, slog.New(slog.DiscardHandler), WithQueueSize(4))

	for range 3 {
		d.Notify(context.Background(), "a", EventFundsChanged, Payload{Amount: 1})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, d.Run(ctx))

	sink.mu.Lock()
	defer sink.mu.Unlock()

	assert.Len(t, sink.got, 3)
}

func TestDispatcher_RetryPolicy(t *testing.T) {
	type testCase struct {
		name        string
		maxAttempts int
		base        time.Duration
		wantDelays  int
	}

	tests := []testCase{
		{name: "ThreeAttempts", maxAttempts: 3, base: 200 * time.Millisecond, wantDelays: 2},
		{name: "SingleAttempt", maxAttempts: 1, base: 200 * time.Millisecond, wantDelays: 0},
		{name: "ZeroBase", maxAttempts: 4, base: 0, wantDelays: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(&flakySink{}, slog.New(slog.DiscardHandler), WithRetry(tt.maxAttempts, tt.base))
			policy := d.retryPolicy(context.Background())

			for i := range tt.wantDelays {
				delay := policy.NextBackOff()
				require.NotEqual(t, backoff.Stop, delay, "delay %d", i)

				nominal := float64(tt.base) * math.Pow(2, float64(i))
				assert.GreaterOrEqual(t, float64(delay), nominal*0.5)
				assert.LessOrEqual(t, float64(delay), nominal*1.5+1)
			}

			assert.Equal(t, backoff.Stop, policy.NextBackOff())
		})
	}
}

func TestDispatcher_RetryPolicyStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(&flakySink{}, slog.New(slog.DiscardHandler), WithRetry(5, time.Second))

	assert.Equal(t, backoff.Stop, d.retryPolicy(ctx).NextBackOff())
}

func TestDispatcher_AbandonsWhenContextDone(t *testing.T) {
	sink := &flakySink{failures: 100}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(sink, slog.New(slog.DiscardHandler), WithRetry(5, time.Hour))
	d.deliver(ctx, Event{ID: uuid.New(), RecipientID: "a", Kind: EventFundsChanged})

	assert.Equal(t, 1, sink.attempts)
	assert.Empty(t, sink.got)
}
