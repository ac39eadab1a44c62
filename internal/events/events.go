// Package events describes the domain events emitted after committed mutations.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"budgeteer/internal/core"
)

type Type string

const (
	Created         Type = "entity.created"
	Updated         Type = "entity.updated"
	Deleted         Type = "entity.deleted"
	BalanceChanged  Type = "card.balance"
	PurgeIncomplete Type = "cascade.partial_failure"
)

// Detail keys used by the worker.
const (
	DetailBalanceCents = "balance_cents"
	DetailRemaining    = "remaining"
)

type Event struct {
	Type      Type              `json:"type"`
	Kind      core.Kind         `json:"kind"`
	ID        string            `json:"id"`
	Owner     string            `json:"owner"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func New(t Type, kind core.Kind, id, owner string) Event {
	return Event{Type: t, Kind: kind, ID: id, Owner: owner, Timestamp: time.Now().UTC()}
}

// With returns a copy of e carrying one more detail entry.
func (e Event) With(key, value string) Event {
	detail := make(map[string]string, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	e.Detail = detail
	return e
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher delivers events to whoever listens. Implementations must be safe
// for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a snapshot of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters the snapshot down to one event type.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
