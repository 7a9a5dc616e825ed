package registry

import (
	"context"
	"sync"
)

// Conn is the write side of a live connection. The registry holds these as
// non-owning references for routing; the transport layer owns the socket.
type Conn interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Registry maps a user id to the set of connections currently open for that
// user. It is the only shared mutable state in the relay and is mutated only
// through Register, Deregister and ConnectionsFor, all guarded by one mutex.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]map[string]Conn
	owner  map[string]string // connection id -> user id
}

func New() *Registry {
	return &Registry{
		byUser: map[string]map[string]Conn{},
		owner:  map[string]string{},
	}
}

// Register adds conn to userID's set. Idempotent if the connection is
// already present.
func (r *Registry) Register(userID string, conn Conn) {
	if userID == "" || conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byUser[userID]
	if set == nil {
		set = map[string]Conn{}
		r.byUser[userID] = set
	}
	set[conn.ID()] = conn
	r.owner[conn.ID()] = userID
}

// Deregister removes the connection from whichever user set contains it.
// When the owning user's set becomes empty the entry is removed entirely.
// Unknown ids are a no-op; double deregistration is safe.
func (r *Registry) Deregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owner[connID]
	if !ok {
		return
	}
	delete(r.owner, connID)

	set := r.byUser[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

// ConnectionsFor returns the connections currently open for userID.
// The returned slice is a snapshot; it may be empty but never nil-panics.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Size reports the number of open connections across all users.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owner)
}
