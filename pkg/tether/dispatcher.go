package tether

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// dispatcher routes inbound messages and lifecycle events to three
// independent listener sets: per-connection, global, and per-message-type.
// Listener errors are confined to the failing listener: a panic inside a
// handler is recovered and logged, and delivery to the remaining listeners
// continues.
type dispatcher struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	byConn map[string]map[EventKind]map[uint64]EventHandler
	global map[EventKind]map[uint64]EventHandler
	byType map[MessageType]map[uint64]MessageHandler
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	return &dispatcher{
		logger: logger,
		byConn: make(map[string]map[EventKind]map[uint64]EventHandler),
		global: make(map[EventKind]map[uint64]EventHandler),
		byType: make(map[MessageType]map[uint64]MessageHandler),
	}
}

// on registers a handler scoped to one connection's events. Registration
// does not require the connection to exist yet, so callers may subscribe
// before connecting.
func (d *dispatcher) on(connectionID string, kind EventKind, handler EventHandler) Unsubscribe {
	d.mu.Lock()
	defer d.mu.Unlock()

	kinds, ok := d.byConn[connectionID]
	if !ok {
		kinds = make(map[EventKind]map[uint64]EventHandler)
		d.byConn[connectionID] = kinds
	}
	handlers, ok := kinds[kind]
	if !ok {
		handlers = make(map[uint64]EventHandler)
		kinds[kind] = handlers
	}

	id := d.nextID
	d.nextID++
	handlers[id] = handler

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if kinds, ok := d.byConn[connectionID]; ok {
			delete(kinds[kind], id)
		}
	}
}

// onGlobal registers a handler for the given event kind across all
// connections, present and future.
func (d *dispatcher) onGlobal(kind EventKind, handler EventHandler) Unsubscribe {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers, ok := d.global[kind]
	if !ok {
		handlers = make(map[uint64]EventHandler)
		d.global[kind] = handlers
	}

	id := d.nextID
	d.nextID++
	handlers[id] = handler

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.global[kind], id)
	}
}

// onMessage registers a handler for every inbound message of the given
// type, on any connection.
func (d *dispatcher) onMessage(msgType MessageType, handler MessageHandler) Unsubscribe {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers, ok := d.byType[msgType]
	if !ok {
		handlers = make(map[uint64]MessageHandler)
		d.byType[msgType] = handlers
	}

	id := d.nextID
	d.nextID++
	handlers[id] = handler

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.byType[msgType], id)
	}
}

// dispatchMessage delivers an inbound message: per-type listeners first,
// then the connection's message listeners, then global message listeners.
func (d *dispatcher) dispatchMessage(connectionID string, msg Message) {
	d.mu.RLock()
	typed := collect(d.byType[msg.Type])
	scoped := collectEvents(d.byConn[connectionID], EventMessage)
	global := collect(d.global[EventMessage])
	d.mu.RUnlock()

	for _, h := range typed {
		d.invokeMessage(h, msg)
	}

	event := Event{
		Kind:         EventMessage,
		ConnectionID: connectionID,
		Message:      &msg,
		At:           time.Now(),
	}
	for _, h := range scoped {
		d.invokeEvent(h, event)
	}
	for _, h := range global {
		d.invokeEvent(h, event)
	}
}

// dispatchLifecycle delivers a lifecycle event to the connection's
// listeners for that kind, then to global listeners.
func (d *dispatcher) dispatchLifecycle(event Event) {
	d.mu.RLock()
	scoped := collectEvents(d.byConn[event.ConnectionID], event.Kind)
	global := collect(d.global[event.Kind])
	d.mu.RUnlock()

	for _, h := range scoped {
		d.invokeEvent(h, event)
	}
	for _, h := range global {
		d.invokeEvent(h, event)
	}
}

// clear removes every registered listener in all three sets.
func (d *dispatcher) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byConn = make(map[string]map[EventKind]map[uint64]EventHandler)
	d.global = make(map[EventKind]map[uint64]EventHandler)
	d.byType = make(map[MessageType]map[uint64]MessageHandler)
}

func (d *dispatcher) invokeEvent(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked",
				zap.String("event", event.Kind.String()),
				zap.String("connection_id", event.ConnectionID),
				zap.Any("panic", r),
			)
		}
	}()
	h(event)
}

func (d *dispatcher) invokeMessage(h MessageHandler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message listener panicked",
				zap.String("type", string(msg.Type)),
				zap.String("connection_id", msg.ConnectionID),
				zap.Any("panic", r),
			)
		}
	}()
	h(msg)
}

// collect snapshots a handler set in registration order so dispatch runs
// without holding the lock.
func collect[H any](handlers map[uint64]H) []H {
	if len(handlers) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(handlers))
	for id := range handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]H, 0, len(ids))
	for _, id := range ids {
		out = append(out, handlers[id])
	}
	return out
}

func collectEvents(kinds map[EventKind]map[uint64]EventHandler, kind EventKind) []EventHandler {
	if kinds == nil {
		return nil
	}
	return collect(kinds[kind])
}
