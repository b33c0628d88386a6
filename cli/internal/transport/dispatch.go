package transport

import (
	"log/slog"
	"sync"
)

// Handler receives events of the kind it was registered for.
type Handler func(Event)

// Subscription identifies a registered handler for Off.
type Subscription struct {
	kind Kind
	id   uint64
}

type subscriber struct {
	id uint64
	fn Handler
}

// dispatcher delivers events in production order from one goroutine, so
// handlers never run concurrently and may call back into the transport.
type dispatcher struct {
	mu       sync.Mutex
	handlers map[Kind][]subscriber
	nextID   uint64

	queue  []Event
	wake   chan struct{}
	sealed bool
	done   chan struct{}

	logger *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		handlers: make(map[Kind][]subscriber),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go d.run()
	return d
}

func (d *dispatcher) on(kind Kind, fn Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[kind] = append(d.handlers[kind], subscriber{id: d.nextID, fn: fn})
	return Subscription{kind: kind, id: d.nextID}
}

func (d *dispatcher) off(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.handlers[sub.kind]
	for i, s := range subs {
		if s.id == sub.id {
			d.handlers[sub.kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// emit queues ev. It never blocks and is ignored once sealed.
func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	if d.sealed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.notify()
}

// seal drops everything still queued, queues last as the final event and
// stops the dispatcher once it has been delivered.
func (d *dispatcher) seal(last Event) {
	d.mu.Lock()
	if d.sealed {
		d.mu.Unlock()
		return
	}
	d.sealed = true
	d.queue = append(d.queue[:0], last)
	d.mu.Unlock()
	d.notify()
}

func (d *dispatcher) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)

	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				sealed := d.sealed
				d.mu.Unlock()
				if sealed {
					return
				}
				break
			}
			ev := d.queue[0]
			d.queue = d.queue[1:]
			subs := append([]subscriber(nil), d.handlers[ev.Kind()]...)
			d.mu.Unlock()

			for _, s := range subs {
				d.call(s.fn, ev)
			}
		}
	}
}

// call runs one handler, isolating its panic from the others.
func (d *dispatcher) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("transport event handler panicked", "event", ev.Kind(), "panic", r)
		}
	}()
	fn(ev)
}
