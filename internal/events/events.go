// Package events implements the optional event stream of spec §4.I: InvoiceCreated,
// MissingParcel, ParcelCreated, and InvoiceYanked records, delivered in per-request order.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the shape of an event's payload.
type Kind string

const (
	KindInvoiceCreated Kind = "InvoiceCreated"
	KindMissingParcel  Kind = "MissingParcel"
	KindParcelCreated  Kind = "ParcelCreated"
	KindInvoiceYanked  Kind = "InvoiceYanked"
)

// Event is a single timestamped record emitted to a Sink.
type Event struct {
	ID        string
	Kind      Kind
	At        time.Time
	BindleID  string
	ParcelSHA string
}

func newEvent(kind Kind, bindleID, parcelSHA string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		At:        time.Now(),
		BindleID:  bindleID,
		ParcelSHA: parcelSHA,
	}
}

func InvoiceCreated(bindleID string) Event     { return newEvent(KindInvoiceCreated, bindleID, "") }
func MissingParcel(bindleID, sha string) Event { return newEvent(KindMissingParcel, bindleID, sha) }
func ParcelCreated(bindleID, sha string) Event { return newEvent(KindParcelCreated, bindleID, sha) }
func InvoiceYanked(bindleID string) Event      { return newEvent(KindInvoiceYanked, bindleID, "") }

// Sink is the event delivery interface. Implementations may be at-least-once (durable) or
// best-effort; the no-op sink below is best-effort and drops everything.
type Sink interface {
	Emit(e Event)
}

type noop struct{}

func (noop) Emit(Event) {}

// NoOp returns a Sink that discards every event.
func NoOp() Sink { return noop{} }

// RingBuffer is an in-memory, best-effort Sink that retains the last N events, useful for a
// `/events` debug endpoint or for tests asserting on emission order.
type RingBuffer struct {
	mu     sync.Mutex
	events []Event
	cap    int
}

// NewRingBuffer returns a RingBuffer retaining at most capacity events.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingBuffer{cap: capacity}
}

// Emit implements Sink.
func (r *RingBuffer) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if len(r.events) > r.cap {
		r.events = r.events[len(r.events)-r.cap:]
	}
}

// Events returns a snapshot of the retained events, oldest first.
func (r *RingBuffer) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
