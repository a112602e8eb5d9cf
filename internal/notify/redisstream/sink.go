package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/MrJamesThe3rd/haven/internal/notify"
)

// Sink appends events to a Redis stream that the delivery service consumes.
type Sink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// New creates a sink. A positive maxLen caps the stream length approximately.
func New(client *redis.Client, stream string, maxLen int64) *Sink {
	return &Sink{client: client, stream: stream, maxLen: maxLen}
}

func (s *Sink) Deliver(ctx context.Context, e notify.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if err := s.client.XAdd(ctx, xaddArgs(s.stream, s.maxLen, e.RecipientID, string(e.Kind), string(body))).Err(); err != nil {
		return fmt.Errorf("appending to stream %s: %w", s.stream, err)
	}

	return nil
}

// xaddArgs builds the XADD arguments for one event.
func xaddArgs(stream string, maxLen int64, recipientID, kind, body string) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: []any{"recipient", recipientID, "kind", kind, "event", body},
	}

	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	return args
}
