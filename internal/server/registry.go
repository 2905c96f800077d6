package server

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/minitel/internal/protocol"
	"github.com/google/uuid"
)

// ConnectionState is the per-connection protocol state. Sequence and Machine
// belong to the handler goroutine; the reaper only reads lastActivity.
type ConnectionState struct {
	ID          uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time
	Sequence    protocol.ServerSequence
	Machine     *protocol.Machine

	lastActivity atomic.Int64
	evicted      atomic.Bool
}

func NewConnectionState(remote string, now time.Time) *ConnectionState {
	st := &ConnectionState{
		ID:          uuid.New(),
		RemoteAddr:  remote,
		ConnectedAt: now,
		Sequence:    protocol.NewServerSequence(),
		Machine:     protocol.NewMachine(),
	}
	st.Touch(now)
	return st
}

// Touch records activity at now.
func (s *ConnectionState) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

func (s *ConnectionState) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Idle reports whether the connection has been quiet for longer than idle.
func (s *ConnectionState) Idle(now time.Time, idle time.Duration) bool {
	return now.Sub(s.LastActivity()) > idle
}

// Evicted reports whether the reaper closed this connection.
func (s *ConnectionState) Evicted() bool {
	return s.evicted.Load()
}

type entry struct {
	state *ConnectionState
	conn  net.Conn
}

// Registry tracks live connections for the reaper and the admin surface.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]*entry)}
}

func (r *Registry) Add(state *ConnectionState, conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[state.ID] = &entry{state: state, conn: conn}
}

// Remove unregisters id and reports whether it was present.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Expired unregisters every connection idle for longer than idle, marks it
// evicted and returns the connections for the caller to close.
func (r *Registry) Expired(now time.Time, idle time.Duration) []Evicted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Evicted
	for id, e := range r.entries {
		if !e.state.Idle(now, idle) {
			continue
		}
		e.state.evicted.Store(true)
		delete(r.entries, id)
		out = append(out, Evicted{State: e.state, Conn: e.conn})
	}
	return out
}

// Evicted is one connection removed by Expired.
type Evicted struct {
	State *ConnectionState
	Conn  net.Conn
}

// CloseAll closes every tracked connection. Handlers unregister themselves as
// their reads fail.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := make([]net.Conn, 0, len(r.entries))
	for _, e := range r.entries {
		conns = append(conns, e.conn)
	}
	r.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

// ConnectionInfo is a point-in-time copy of one registry entry.
type ConnectionInfo struct {
	ID           uuid.UUID
	RemoteAddr   string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// Snapshot returns the tracked connections ordered by connect time.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.Lock()
	out := make([]ConnectionInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, ConnectionInfo{
			ID:           e.state.ID,
			RemoteAddr:   e.state.RemoteAddr,
			ConnectedAt:  e.state.ConnectedAt,
			LastActivity: e.state.LastActivity(),
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
