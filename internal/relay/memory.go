package relay

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("relay: bus closed")

// MemoryBus is an in-process Bus for single-process deployments and tests.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]*Registry
	buffer int
	closed bool
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus returns a bus whose subscribers buffer up to buffer messages.
func NewMemoryBus(buffer int) *MemoryBus {
	return &MemoryBus{topics: map[string]*Registry{}, buffer: buffer}
}

func (b *MemoryBus) topic(channel string) (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	reg, ok := b.topics[channel]
	if !ok {
		reg = NewRegistry()
		b.topics[channel] = reg
	}
	return reg, nil
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	reg, err := b.topic(channel)
	if err != nil {
		return err
	}
	reg.Broadcast(payload)
	return nil
}

// Subscribe registers a subscriber that is removed when ctx ends or the
// returned func is called.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	reg, err := b.topic(channel)
	if err != nil {
		return nil, nil, err
	}
	ch, remove := reg.Add(b.buffer)
	stop := context.AfterFunc(ctx, remove)
	return ch, func() {
		stop()
		remove()
	}, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
