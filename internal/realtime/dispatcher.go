package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/apex/log"
)

// HandlerFunc handles one inbound event. A nil result with a nil error sends no reply.
type HandlerFunc func(ctx context.Context, s *Session, env Envelope) (any, error)

// Middleware wraps the handler registered for an event.
type Middleware func(event Event, next HandlerFunc) HandlerFunc

// Chain applies mws to h so that the first middleware runs outermost.
func Chain(event Event, h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](event, h)
	}
	return h
}

// Registration identifies a handler added with On.
type Registration struct {
	event Event
	id    uint64
}

type registeredHandler struct {
	id      uint64
	handler HandlerFunc
}

// Dispatcher routes inbound envelopes to the handlers registered per event.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Event][]registeredHandler
	logTags  log.Fields
}

// NewDispatcher creates a dispatcher with no handlers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Event][]registeredHandler),
		logTags:  log.Fields{"module": "realtime", "component": "dispatcher"},
	}
}

// On registers h for event. It panics for events outside the inbound set.
func (d *Dispatcher) On(event Event, h HandlerFunc) Registration {
	if !event.Inbound() {
		panic(fmt.Sprintf("realtime: cannot register handler for event %q", event))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers[event] = append(d.handlers[event], registeredHandler{id: d.nextID, handler: h})
	return Registration{event: event, id: d.nextID}
}

// Off removes a handler added with On.
func (d *Dispatcher) Off(reg Registration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.handlers[reg.event]
	for i, h := range list {
		if h.id == reg.id {
			d.handlers[reg.event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(d.handlers[reg.event]) == 0 {
		delete(d.handlers, reg.event)
	}
}

// HandlerCount returns how many handlers are registered for event.
func (d *Dispatcher) HandlerCount(event Event) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event])
}

// DispatchRaw decodes a raw frame and dispatches it.
func (d *Dispatcher) DispatchRaw(ctx context.Context, s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		d.reply(s, NewErrorMessage(env.RequestID, ErrorBody{
			Code:    CodeInvalidEnvelope,
			Message: "message must be a JSON object with an event field",
		}))
		return
	}
	d.Dispatch(ctx, s, env)
}

// Dispatch invokes every handler registered for the envelope's event
// concurrently and waits for all of them. Each handler's result or failure
// is replied to s independently, in registration order.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, env Envelope) {
	if env.Event == EventPing {
		d.reply(s, NewReply(EventPong, env.RequestID, nil))
		return
	}
	if env.Event == EventPong {
		s.Pong()
		return
	}
	if env.Event.System() {
		return
	}

	d.mu.RLock()
	handlers := append([]registeredHandler(nil), d.handlers[env.Event]...)
	d.mu.RUnlock()

	if len(handlers) == 0 {
		log.WithFields(d.logTags).WithFields(log.Fields{
			"event": env.Event, "session": s.ID(),
		}).Warn("Unhandled event")
		d.reply(s, NewErrorMessage(env.RequestID, ErrorBody{
			Code:    CodeUnhandledEvent,
			Message: fmt.Sprintf("no handler for event %q", env.Event),
		}))
		return
	}

	replies := make([]*Message, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h HandlerFunc) {
			defer wg.Done()
			replies[i] = d.invoke(ctx, s, env, h)
		}(i, h.handler)
	}
	wg.Wait()

	for _, msg := range replies {
		if msg != nil {
			d.reply(s, msg)
		}
	}
}

// invoke runs one handler, converting its failure or panic into an error reply.
func (d *Dispatcher) invoke(ctx context.Context, s *Session, env Envelope, h HandlerFunc) (msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(d.logTags).WithFields(log.Fields{
				"event": env.Event, "session": s.ID(), "panic": r,
			}).Error("Handler panicked")
			msg = NewErrorMessage(env.RequestID, ErrorBody{
				Code:    CodeInternal,
				Message: "internal error",
			})
		}
	}()

	result, err := h(ctx, s, env)
	if err != nil {
		log.WithError(err).WithFields(d.logTags).WithFields(log.Fields{
			"event": env.Event, "session": s.ID(), "request": env.RequestID,
		}).Info("Handler failed")
		return NewErrorMessage(env.RequestID, errorBody(err))
	}
	if result == nil {
		return nil
	}
	return NewReply(env.Event, env.RequestID, result)
}

func (d *Dispatcher) reply(s *Session, msg *Message) {
	if err := s.Send(msg); err != nil {
		log.WithError(err).WithFields(d.logTags).WithField("session", s.ID()).Debug("Reply dropped")
	}
}
