package providers

import (
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

// Registry maps channel types to their adapter implementations.
type Registry struct {
	mu       sync.RWMutex
	adapters map[store.ChannelType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[store.ChannelType]Adapter)}
}

// Register adds an adapter. Registering the same channel twice replaces it.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Channel()] = a
}

// Get returns the adapter for a channel.
func (r *Registry) Get(ch store.ChannelType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %s", ch)
	}
	return a, nil
}

// Channels returns the registered channel types.
func (r *Registry) Channels() []store.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.ChannelType, 0, len(r.adapters))
	for ch := range r.adapters {
		out = append(out, ch)
	}
	return out
}
