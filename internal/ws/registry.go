package ws

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// Connection is what the registry needs from a live connection.
type Connection interface {
	ID() string
	UserID() string
	Send(data []byte) error
}

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]Connection // userID -> connID -> conn
}

// Registry maps a user id to that user's live connections.
//
// Users are spread over fixed shards so connection churn for one user does not
// serialize against every other user. A user with no connections has no entry.
// Registry is safe for concurrent use and never returns errors.
type Registry struct {
	shards [shardCount]*shard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]map[string]Connection)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	return r.shards[xxhash.Sum64String(userID)%shardCount]
}

// Register adds c to userID's set. Registering the same connection twice is a no-op.
func (r *Registry) Register(userID string, c Connection) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.users[userID]
	if !ok {
		conns = make(map[string]Connection)
		s.users[userID] = conns
	}
	conns[c.ID()] = c
}

// Deregister removes c from userID's set and drops the user once the set is empty.
// Removing an unknown connection is a no-op.
func (r *Registry) Deregister(userID string, c Connection) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.users[userID]
	if !ok {
		return
	}
	delete(conns, c.ID())
	if len(conns) == 0 {
		delete(s.users, userID)
	}
}

// ConnectionsFor returns a snapshot of userID's connections, possibly empty.
func (r *Registry) ConnectionsFor(userID string) []Connection {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.users[userID]
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Has reports whether userID currently has an entry.
func (r *Registry) Has(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// Users returns the number of users with at least one live connection.
func (r *Registry) Users() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.users)
		s.mu.RUnlock()
	}
	return n
}

// Len returns the total number of registered connections.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, conns := range s.users {
			n += len(conns)
		}
		s.mu.RUnlock()
	}
	return n
}
