package replica

import (
	"sort"
)

// Peer is one live connection as seen by fan-out.
type Peer interface {
	ID() string
	RemoteAddr() string
	// Send queues data for delivery. An error means the peer can no longer be
	// written to and should be dropped.
	Send(data []byte) error
	Close() error
}

// Registry is the set of live peers. It is owned by the network loop and is not safe
// for concurrent use.
type Registry struct {
	peers map[string]Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]Peer)}
}

func (r *Registry) Add(p Peer) {
	r.peers[p.ID()] = p
}

// Remove reports whether the peer was still registered.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *Registry) Len() int {
	return len(r.peers)
}

// Snapshot returns the peers ordered by id. Callers may mutate the registry while
// walking the result.
func (r *Registry) Snapshot() []Peer {
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out
}
