// Package notifytest provides a Notifier that remembers what it was asked to send.
package notifytest

import (
	"context"
	"sync"

	"github.com/MrJamesThe3rd/haven/internal/notify"
)

type Call struct {
	RecipientID string
	Kind        notify.EventKind
	Payload     notify.Payload
}

type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) Notify(_ context.Context, recipientID string, kind notify.EventKind, payload notify.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{RecipientID: recipientID, Kind: kind, Payload: payload})
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, len(r.calls))
	copy(out, r.calls)

	return out
}

// For returns the calls addressed to recipientID in order.
func (r *Recorder) For(recipientID string) []Call {
	var out []Call

	for _, c := range r.Calls() {
		if c.RecipientID == recipientID {
			out = append(out, c)
		}
	}

	return out
}

// Kinds returns the event kinds recorded for recipientID in order.
func (r *Recorder) Kinds(recipientID string) []notify.EventKind {
	var out []notify.EventKind

	for _, c := range r.For(recipientID) {
		out = append(out, c.Kind)
	}

	return out
}
