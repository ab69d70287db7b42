// Package registry keeps track of live connections per user identity.
package registry

import (
	"sort"
	"sync"
	"time"

	"campuschat/internal/models"

	"github.com/google/uuid"
)

// Sender delivers one outbound event over a connection's transport.
type Sender interface {
	Send(msg models.ServerMessage) error
}

// Connection is one live transport session of a user.
type Connection struct {
	ID       string
	UserID   string
	OpenedAt time.Time

	sender Sender
}

func NewConnection(userID string, sender Sender) *Connection {
	return &Connection{
		ID:       uuid.NewString(),
		UserID:   userID,
		OpenedAt: time.Now(),
		sender:   sender,
	}
}

func (c *Connection) Send(msg models.ServerMessage) error {
	return c.sender.Send(msg)
}

type Registry struct {
	// Map of userID -> connectionID -> Connection
	byUser map[string]map[string]*Connection
	count  int

	mu sync.RWMutex
}

func New() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]*Connection),
	}
}

// Register adds conn to the connection set of userID.
// It returns true only when this is the first live connection of the user.
// Registering the same connection twice is a no-op.
func (r *Registry) Register(userID string, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]*Connection)
		r.byUser[userID] = conns
	}
	if _, exists := conns[conn.ID]; exists {
		return false
	}
	conns[conn.ID] = conn
	r.count++

	return len(conns) == 1
}

// Unregister removes conn from the connection set of userID.
// It returns true only when the removed connection was the last one of the user.
// Unknown connections are ignored.
func (r *Registry) Unregister(userID string, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.byUser[userID]
	if !ok {
		return false
	}
	if _, exists := conns[conn.ID]; !exists {
		return false
	}
	delete(conns, conn.ID)
	r.count--

	if len(conns) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// ConnectionsFor returns a snapshot of the live connections of userID.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	result := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		result = append(result, c)
	}
	return result
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the sorted identities that have at least one connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
