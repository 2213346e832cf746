package cachebus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-node deployments.
// Handlers run synchronously on the publisher's goroutine.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[int]Handler
	next     int
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[int]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(key)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, h Handler) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	stop := func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
	return stop, nil
}
