// Package peers tracks the other nodes in this deployment and runs
// bounded, deadline-scoped fan-out calls across them — discover_rooms,
// 2PC PREPARE/COMMIT/ROLLBACK, member and message event broadcast. FanOut
// uses a sync.WaitGroup and BroadcastTo uses golang.org/x/sync/errgroup,
// each under a per-call context deadline.
package peers

import (
	"sync"
)

// Registry is this node's static view of the other nodes in the
// deployment: node_id -> RPC address. Peers are configured at startup
// (spec.md Non-goals: no dynamic peer discovery) but the map stays
// mutex-guarded so tests and admin tooling can add peers at runtime.
type Registry struct {
	nodeID string

	mu    sync.RWMutex
	peers map[string]string // node_id -> rpc address
}

// New builds a Registry seeded with the given peer addresses.
func New(nodeID string, seed map[string]string) *Registry {
	r := &Registry{
		nodeID: nodeID,
		peers:  make(map[string]string, len(seed)),
	}
	for id, addr := range seed {
		r.peers[id] = addr
	}
	return r
}

// NodeID returns this node's own identifier.
func (r *Registry) NodeID() string {
	return r.nodeID
}

// Register adds or updates a peer's address.
func (r *Registry) Register(nodeID, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[nodeID] = address
}

// Address returns a peer's RPC address, or "" if unknown.
func (r *Registry) Address(nodeID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[nodeID]
}

// All returns a copy of the full node_id -> address map.
func (r *Registry) All() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.peers))
	for id, addr := range r.peers {
		out[id] = addr
	}
	return out
}

// IDs returns every known peer's node ID, excluding this node.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}
