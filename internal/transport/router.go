package transport

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Router fans inbound events out to registered handlers. Deliveries are
// queued without bound and run one at a time on the router's goroutine, so
// a handler may send on any channel without deadlocking the sender.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	presence map[int]PresenceHandler
	nextID   int

	qmu     sync.Mutex
	pending []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	logger *zap.Logger
}

// NewRouter starts a router. Stop releases its goroutine.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		handlers: make(map[string]map[int]Handler),
		presence: make(map[int]PresenceHandler),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go r.loop()
	return r
}

// On registers h for event.
func (r *Router) On(event string, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[int]Handler)
	}
	r.handlers[event][id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[event], id)
	}
}

// OnPresence registers h for member list changes.
func (r *Router) OnPresence(h PresenceHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.presence[id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.presence, id)
	}
}

// Deliver queues an inbound event.
func (r *Router) Deliver(event string, payload json.RawMessage) {
	r.enqueue(func() {
		r.mu.RLock()
		hs := make([]Handler, 0, len(r.handlers[event]))
		for _, h := range r.handlers[event] {
			hs = append(hs, h)
		}
		r.mu.RUnlock()

		if len(hs) == 0 {
			r.logger.Debug("no handler for event", zap.String("event", event))
		}
		for _, h := range hs {
			h(payload)
		}
	})
}

// DeliverPresence queues a member list change. The list is copied.
func (r *Router) DeliverPresence(members []Presence) {
	list := make([]Presence, len(members))
	copy(list, members)
	r.enqueue(func() {
		r.mu.RLock()
		hs := make([]PresenceHandler, 0, len(r.presence))
		for _, h := range r.presence {
			hs = append(hs, h)
		}
		r.mu.RUnlock()

		for _, h := range hs {
			h(list)
		}
	})
}

// Stop discards pending deliveries and ends the goroutine.
func (r *Router) Stop() {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	r.pending = nil
	close(r.done)
}

func (r *Router) enqueue(fn func()) {
	r.qmu.Lock()
	if r.stopped {
		r.qmu.Unlock()
		return
	}
	r.pending = append(r.pending, fn)
	r.qmu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Router) loop() {
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}
		for {
			r.qmu.Lock()
			if r.stopped || len(r.pending) == 0 {
				r.qmu.Unlock()
				break
			}
			batch := r.pending
			r.pending = nil
			r.qmu.Unlock()

			for _, fn := range batch {
				fn()
			}
		}
	}
}
