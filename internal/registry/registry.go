package registry

import (
	"time"
)

// Sender is the transport half of a connection. The dispatcher holds it to
// push frames without owning socket lifecycle details.
type Sender interface {
	// Send queues a frame for delivery. It must not block the caller.
	Send(data []byte) error
	// Close asks the transport to close the connection.
	Close(code int, reason string)
}

// Connection describes one authenticated WebSocket connection and the
// collaboration state attached to it.
type Connection struct {
	ID           string
	UserID       string
	Username     string
	Permissions  map[string]bool
	ConnectedAt  time.Time
	LastActivity time.Time

	// SessionID is the collaborative session this connection takes part in,
	// empty when none.
	SessionID string
	// Cursor is the last shared pointer position in scene coordinates.
	Cursor map[string]float64
	// Selection is the entity set the user currently has selected.
	Selection []string

	sender Sender
}

// NewConnection builds a connection record around a transport handle.
func NewConnection(id, userID, username string, permissions []string, sender Sender, now time.Time) *Connection {
	perms := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		perms[p] = true
	}
	return &Connection{
		ID:           id,
		UserID:       userID,
		Username:     username,
		Permissions:  perms,
		ConnectedAt:  now,
		LastActivity: now,
		sender:       sender,
	}
}

// Send forwards a frame to the connection's transport.
func (c *Connection) Send(data []byte) error {
	return c.sender.Send(data)
}

// CloseTransport asks the transport to close the connection.
func (c *Connection) CloseTransport(code int, reason string) {
	c.sender.Close(code, reason)
}

// Touch records activity, deferring the inactivity reaper.
func (c *Connection) Touch(now time.Time) {
	c.LastActivity = now
}

// HasPermission reports whether the user authenticated with the permission.
func (c *Connection) HasPermission(perm string) bool {
	return c.Permissions[perm]
}

// Registry tracks live connections. It is not safe for concurrent use; the
// dispatcher goroutine owns it.
type Registry struct {
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// Register adds a connection.
func (r *Registry) Register(c *Connection) {
	r.conns[c.ID] = c
	userConns, ok := r.byUser[c.UserID]
	if !ok {
		userConns = make(map[string]*Connection)
		r.byUser[c.UserID] = userConns
	}
	userConns[c.ID] = c
}

// Unregister removes a connection and returns it. Unknown ids return nil, so
// duplicate detaches are harmless.
func (r *Registry) Unregister(connID string) *Connection {
	c, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)
	if userConns, ok := r.byUser[c.UserID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	return c
}

// Get looks up a connection by id.
func (r *Registry) Get(connID string) (*Connection, bool) {
	c, ok := r.conns[connID]
	return c, ok
}

// All returns every live connection in unspecified order.
func (r *Registry) All() []*Connection {
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// ByUser returns the user's live connections.
func (r *Registry) ByUser(userID string) []*Connection {
	userConns := r.byUser[userID]
	conns := make([]*Connection, 0, len(userConns))
	for _, c := range userConns {
		conns = append(conns, c)
	}
	return conns
}

// UserConnected reports whether the user still has at least one connection.
func (r *Registry) UserConnected(userID string) bool {
	return len(r.byUser[userID]) > 0
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// UserCount returns the number of distinct connected users.
func (r *Registry) UserCount() int {
	return len(r.byUser)
}
