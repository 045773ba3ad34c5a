package relay

import (
	"sync"
	"sync/atomic"
)

// Registry tracks live client connections. Add and remove may run
// concurrently with Broadcast. Broadcast holds the read lock across its
// non-blocking sends, so a channel is never closed while a send to it is in
// flight and add or remove waits at most one broadcast.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]chan []byte
	seq   atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: map[uint64]chan []byte{}}
}

// Add registers a connection with a buffer of size buffer. The returned
// remove func closes the channel and is safe to call more than once.
func (r *Registry) Add(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan []byte, buffer)
	id := r.seq.Add(1)

	r.mu.Lock()
	r.conns[id] = ch
	r.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.conns, id)
			close(ch)
			r.mu.Unlock()
		})
	}
	return ch, remove
}

// Len reports how many connections are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast offers msg to every registered connection without blocking and
// returns how many connections had a full buffer and missed it.
func (r *Registry) Broadcast(msg []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dropped := 0
	for _, ch := range r.conns {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	return dropped
}
