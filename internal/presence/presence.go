// Package presence derives online/offline transitions from registry membership
// and announces them to the other connected users.
package presence

import (
	"log/slog"
	"sync"

	"campuschat/internal/metrics"
	"campuschat/internal/models"
	"campuschat/internal/registry"
)

type Tracker struct {
	registry *registry.Registry
	logger   *slog.Logger

	// serializes edge announcements; never held together with the registry lock
	mu sync.Mutex
}

func NewTracker(reg *registry.Registry, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		registry: reg,
		logger:   logger,
	}
}

// Connect registers conn and announces "online" on the user's first connection.
func (t *Tracker) Connect(conn *registry.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	first := t.registry.Register(conn.UserID, conn)
	metrics.ConnectionsActive.Set(float64(t.registry.Len()))
	if !first {
		return
	}
	metrics.UsersOnline.Inc()
	t.broadcast(conn.UserID, models.PresenceOnline)
}

// Disconnect unregisters conn and announces "offline" when it was the user's last one.
func (t *Tracker) Disconnect(conn *registry.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last := t.registry.Unregister(conn.UserID, conn)
	metrics.ConnectionsActive.Set(float64(t.registry.Len()))
	if !last {
		return
	}
	metrics.UsersOnline.Dec()
	t.broadcast(conn.UserID, models.PresenceOffline)
}

func (t *Tracker) IsOnline(userID string) bool {
	return t.registry.IsOnline(userID)
}

func (t *Tracker) broadcast(userID string, status models.PresenceStatus) {
	event := models.UserStatus(userID, status)

	for _, otherID := range t.registry.OnlineUsers() {
		if otherID == userID {
			continue
		}
		for _, c := range t.registry.ConnectionsFor(otherID) {
			if err := c.Send(event); err != nil {
				metrics.Deliveries.WithLabelValues(string(event.Type), "failed").Inc()
				t.logger.Warn("presence delivery failed",
					"user_id", userID,
					"recipient_id", otherID,
					"connection_id", c.ID,
					"error", err,
				)
				continue
			}
			metrics.Deliveries.WithLabelValues(string(event.Type), "ok").Inc()
		}
	}
}
