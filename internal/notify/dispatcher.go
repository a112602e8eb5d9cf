package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	defaultQueueSize    = 256
	defaultWorkers      = 2
	defaultMaxAttempts  = 3
	defaultBaseDelay    = 200 * time.Millisecond
	defaultDrainTimeout = 5 * time.Second
)

// Dispatcher queues notifications in memory and delivers them to a Sink from
// background workers, retrying with exponential backoff. Delivery failures are
// logged and dropped.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Event
	now    func() time.Time

	workers      int
	maxAttempts  int
	baseDelay    time.Duration
	drainTimeout time.Duration

	wg sync.WaitGroup
}

type Option func(*Dispatcher)

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}

		if baseDelay >= 0 {
			d.baseDelay = baseDelay
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(sink Sink, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:         sink,
		logger:       logger,
		queue:        make(chan Event, defaultQueueSize),
		now:          time.Now,
		workers:      defaultWorkers,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		drainTimeout: defaultDrainTimeout,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Notify enqueues an event without blocking. A full queue drops the event.
func (d *Dispatcher) Notify(ctx context.Context, recipientID string, kind EventKind, payload Payload) {
	e := Event{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     payload,
		Summary:     Summarize(kind, payload),
		OccurredAt:  d.now().UTC(),
	}

	select {
	case d.queue <- e:
	default:
		d.logger.WarnContext(ctx, "notification queue full, dropping event",
			"id", e.ID, "recipient", recipientID, "kind", kind)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is left
// within a bounded grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	for range d.workers {
		d.wg.Add(1)

		go func() {
			defer d.wg.Done()
			d.work(ctx)
		}()
	}

	d.wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	for {
		select {
		case e := <-d.queue:
			d.deliver(drainCtx, e)
		default:
			return nil
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			d.deliver(ctx, e)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	attempt := 0

	err := backoff.RetryNotify(func() error {
		attempt++
		return d.sink.Deliver(ctx, e)
	}, d.retryPolicy(ctx), func(err error, next time.Duration) {
		d.logger.WarnContext(ctx, "notification delivery failed",
			"id", e.ID, "recipient", e.RecipientID, "kind", e.Kind, "attempt", attempt, "retry_in", next, "error", err)
	})
	if err == nil {
		return
	}

	if ctx.Err() != nil {
		d.logger.ErrorContext(ctx, "notification abandoned", "id", e.ID, "attempt", attempt, "error", err)
		return
	}

	d.logger.ErrorContext(ctx, "notification dropped after retries",
		"id", e.ID, "recipient", e.RecipientID, "kind", e.Kind, "attempts", attempt, "error", err)
}

// retryPolicy allows maxAttempts deliveries in total, doubling the jittered delay
// from baseDelay between them, and stops early once ctx is done.
func (d *Dispatcher) retryPolicy(ctx context.Context) backoff.BackOffContext {
	if d.maxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.baseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.5
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.maxAttempts-1)), ctx)
}
