package app

import (
	"maps"
	"sync"

	"github.com/dkeye/duocall/internal/core"
	"github.com/rs/zerolog/log"
)

// Registry is the live connection set of the relay.
// Iteration always happens over a snapshot so mutation never races a broadcast.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]core.SignalConnection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]core.SignalConnection)}
}

// Add binds id to conn and returns the new live count.
func (r *Registry) Add(id core.ConnID, conn core.SignalConnection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = conn
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
	return len(r.conns)
}

// Remove drops id and returns the live count and whether it was present.
func (r *Registry) Remove(id core.ConnID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	if ok {
		log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
	}
	return len(r.conns), ok
}

func (r *Registry) Get(id core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Snapshot() map[core.ConnID]core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[core.ConnID]core.SignalConnection, len(r.conns))
	maps.Copy(out, r.conns)
	return out
}
