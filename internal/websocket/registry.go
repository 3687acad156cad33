package websocket

import (
	"sync"

	"github.com/rs/zerolog"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Registry maps live connection ids to their connection and identity.
// It knows nothing about rooms.
type Registry struct {
	mu          sync.RWMutex
	logger      zerolog.Logger
	connections map[string]interfaces.Connection
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger:      logger.With().Str("component", "registry").Logger(),
		connections: make(map[string]interfaces.Connection),
	}
}

// Register adds conn under its id. Ids are minted per socket, so an id that
// is already taken is refused.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.Identity().ID == "" {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[conn.ID()]; ok {
		return ErrDuplicateConnectionID
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes conn only if it is the instance currently registered
// under its id. Repeated calls are no-ops.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.connections[conn.ID()]; ok && existing == conn {
		delete(r.connections, conn.ID())
	}
}

// Get returns the live connection for connectionID
func (r *Registry) Get(connectionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionID]
	return conn, ok
}

// Identity returns the authenticated user behind connectionID
func (r *Registry) Identity(connectionID string) (types.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return types.User{}, false
	}
	return conn.Identity(), true
}

// Stats returns registry statistics for monitoring
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make(map[string]struct{})
	for _, conn := range r.connections {
		users[conn.Identity().ID] = struct{}{}
	}
	return map[string]int{
		"total_connections": len(r.connections),
		"unique_users":      len(users),
	}
}

// CloseAll closes every registered connection and returns how many were
// closed. Each read pump then unregisters its own connection.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.logger.Debug().Err(err).Str("socketId", conn.ID()).Msg("close on shutdown")
		}
	}
	return len(conns)
}
