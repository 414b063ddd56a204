package callcontrol

import "sync"

// Registry is the process-local table of live connections keyed by
// connection id. It is intentionally not durable: after a restart every
// physical connection is gone and clients re-CONNECT with their remembered
// session key.
type Registry struct {
	sync.RWMutex
	connections map[string]*CallChannel
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*CallChannel),
	}
}

func (r *Registry) Register(connectionID string, cc *CallChannel) {
	r.Lock()
	defer r.Unlock()
	r.connections[connectionID] = cc
}

func (r *Registry) Lookup(connectionID string) (*CallChannel, bool) {
	r.RLock()
	defer r.RUnlock()
	cc, ok := r.connections[connectionID]
	return cc, ok
}

func (r *Registry) Unregister(connectionID string) {
	r.Lock()
	defer r.Unlock()
	delete(r.connections, connectionID)
}

func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.connections)
}
