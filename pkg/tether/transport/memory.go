package transport

import (
	"context"
	"errors"
	"sync"
)

// MemoryBroker is an in-process channel service. Every adapter open on a
// named channel receives every frame published to it, including frames it
// published itself (the same loopback behavior a subscribed pub/sub
// connection sees), which keeps heartbeats honest in tests and demos.
type MemoryBroker struct {
	mu       sync.RWMutex
	channels map[string]map[*memoryAdapter]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		channels: make(map[string]map[*memoryAdapter]struct{}),
	}
}

// Factory returns a Factory whose adapters all share this broker.
func (b *MemoryBroker) Factory() Factory {
	return func(channel Channel) Adapter {
		return &memoryAdapter{broker: b, name: channel.Name}
	}
}

// Publish injects a frame into a channel from outside any adapter.
func (b *MemoryBroker) Publish(name string, frame []byte) {
	b.mu.RLock()
	subs := make([]*memoryAdapter, 0, len(b.channels[name]))
	for a := range b.channels[name] {
		subs = append(subs, a)
	}
	b.mu.RUnlock()

	for _, a := range subs {
		a.deliver(frame)
	}
}

func (b *MemoryBroker) attach(a *memoryAdapter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.channels[a.name]
	if !ok {
		subs = make(map[*memoryAdapter]struct{})
		b.channels[a.name] = subs
	}
	subs[a] = struct{}{}
}

func (b *MemoryBroker) detach(a *memoryAdapter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels[a.name], a)
	if len(b.channels[a.name]) == 0 {
		delete(b.channels, a.name)
	}
}

type memoryAdapter struct {
	broker *MemoryBroker
	name   string

	mu      sync.Mutex
	inbound func([]byte)
	onClose func(error)
	open    bool
}

func (a *memoryAdapter) Open(ctx context.Context, name string) (OpenResult, error) {
	if err := ctx.Err(); err != nil {
		return OpenTimedOut, err
	}

	a.mu.Lock()
	a.name = name
	a.open = true
	a.mu.Unlock()

	a.broker.attach(a)
	return OpenSubscribed, nil
}

func (a *memoryAdapter) Send(ctx context.Context, frame []byte) error {
	a.mu.Lock()
	open := a.open
	a.mu.Unlock()
	if !open {
		return errors.New("memory adapter is closed")
	}

	a.broker.Publish(a.name, frame)
	return nil
}

func (a *memoryAdapter) OnInbound(handler func(frame []byte)) {
	a.mu.Lock()
	a.inbound = handler
	a.mu.Unlock()
}

func (a *memoryAdapter) OnClose(handler func(err error)) {
	a.mu.Lock()
	a.onClose = handler
	a.mu.Unlock()
}

func (a *memoryAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.open {
		a.mu.Unlock()
		return nil
	}
	a.open = false
	a.mu.Unlock()

	a.broker.detach(a)
	return nil
}

func (a *memoryAdapter) deliver(frame []byte) {
	a.mu.Lock()
	handler := a.inbound
	open := a.open
	a.mu.Unlock()

	if open && handler != nil {
		handler(frame)
	}
}
