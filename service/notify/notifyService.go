// Package notifysvc emits rental lifecycle events for external dispatchers
// (email, SMS, push). The core never waits on delivery: a full buffer drops
// the event and logs it.
package notifysvc

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
)

// Event describes one successful rental transition.
type Event struct {
	RentalID  uuid.UUID                  `json:"rental_id"`
	FromState model.RentalStatus         `json:"from_state"`
	ToState   model.RentalStatus         `json:"to_state"`
	ActorID   uuid.UUID                  `json:"actor_id"`
	Amounts   map[string]decimal.Decimal `json:"amounts,omitempty"`
	At        time.Time                  `json:"at"`
}

type Publisher interface {
	Publish(e Event)
}

// Dispatcher fans events out to subscribers on a single worker goroutine.
type Dispatcher struct {
	log  *slog.Logger
	ch   chan Event
	done chan struct{}

	mu     sync.RWMutex
	subs   []func(Event)
	closed bool
}

func NewDispatcher(log *slog.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		log:  log,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Subscribe(fn func(Event)) {
	d.mu.Lock()
	d.subs = append(d.subs, fn)
	d.mu.Unlock()
}

// Publish never blocks the calling transition. Events published after
// Close are dropped, not delivered.
func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("dispatcher closed, dropping",
			"rental_id", e.RentalID, "from", e.FromState, "to", e.ToState)
		return
	}
	select {
	case d.ch <- e:
	default:
		d.log.Warn("event buffer full, dropping",
			"rental_id", e.RentalID, "from", e.FromState, "to", e.ToState)
	}
}

// Close stops accepting events and drains what was already queued.
// Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.ch)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.ch {
		d.mu.RLock()
		subs := d.subs
		d.mu.RUnlock()
		for _, fn := range subs {
			fn(e)
		}
	}
}
