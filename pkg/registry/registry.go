package registry

import (
	"sync"
	"time"

	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// Registry is the concurrency-safe set of live connections, keyed by
// client id. All methods are safe to call from any connection's receive
// loop and from the heartbeat sweep concurrently.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

// Add inserts or replaces the entry for conn.ClientID with the given
// initial status. The heartbeat timestamp starts at now so a client that
// registers and immediately goes silent still times out.
func (r *Registry) Add(conn *Connection, status wire.Status, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn.status = status
	conn.lastHeartbeat = now
	r.conns[conn.ClientID] = conn
}

// Remove deletes the entry for clientID. Removing an absent id is a
// no-op; the return value reports whether an entry was removed.
func (r *Registry) Remove(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.conns[clientID]
	delete(r.conns, clientID)
	return ok
}

// Get returns the live connection for clientID, if any.
func (r *Registry) Get(clientID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[clientID]
	return conn, ok
}

// FindByHardwareID returns the live device connection for a hardware
// identifier, if any.
func (r *Registry) FindByHardwareID(hardwareID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.conns {
		if conn.Role == RoleDevice && conn.HardwareID == hardwareID {
			return conn, true
		}
	}
	return nil, false
}

// ForEach visits every live connection under the read lock. The visitor
// must not call back into the registry and returns false to stop early.
func (r *Registry) ForEach(visit func(*Connection) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.conns {
		if !visit(conn) {
			return
		}
	}
}

// UpdateClientID rebinds a stale entry to a freshly issued logical id so
// the reconnecting client inherits its bookkeeping. No-op if oldID is
// absent or newID is already taken.
func (r *Registry) UpdateClientID(oldID, newID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[oldID]
	if !ok {
		return false
	}
	if _, taken := r.conns[newID]; taken {
		return false
	}

	delete(r.conns, oldID)
	conn.ClientID = newID
	r.conns[newID] = conn
	return true
}

// Heartbeat refreshes the entry's liveness timestamp and promotes it to
// Online. A healthy heartbeat also clears a Warning/Error status. Returns
// the previous status; ok is false when the id is unknown (e.g. the
// sweep already evicted it — the heartbeat is then dropped, the client
// re-registers on the next cycle).
func (r *Registry) Heartbeat(clientID string, now time.Time) (prev wire.Status, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[clientID]
	if !ok {
		return "", false
	}

	prev = conn.status
	conn.lastHeartbeat = now
	conn.status = wire.StatusOnline
	return prev, true
}

// SetStatus sets an explicit status (Warning/Error from a status report).
// Returns the previous status; ok is false when the id is unknown.
func (r *Registry) SetStatus(clientID string, status wire.Status) (prev wire.Status, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[clientID]
	if !ok {
		return "", false
	}

	prev = conn.status
	conn.status = status
	return prev, true
}

// ExpireStale atomically removes every entry whose last heartbeat is
// before cutoff and returns the removed connections with their status set
// to Offline. Entries touched by a concurrent Heartbeat keep their fresh
// timestamp and survive; an entry can never be both refreshed and
// evicted.
func (r *Registry) ExpireStale(cutoff time.Time) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*Connection
	for id, conn := range r.conns {
		if conn.lastHeartbeat.Before(cutoff) {
			conn.status = wire.StatusOffline
			delete(r.conns, id)
			expired = append(expired, conn)
		}
	}
	return expired
}

// Snapshot returns the client info list for all live connections of the
// given role.
func (r *Registry) Snapshot(role Role) []wire.ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]wire.ClientInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		if conn.Role == role {
			infos = append(infos, conn.Info())
		}
	}
	return infos
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
