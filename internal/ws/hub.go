package ws

import (
	"context"

	"campuschat/internal/models"
	"campuschat/internal/presence"
	"campuschat/internal/registry"
	"campuschat/internal/router"
)

// Hub connects gateway sessions to presence tracking and message routing.
type Hub struct {
	tracker *presence.Tracker
	router  *router.Router
}

func NewHub(tracker *presence.Tracker, router *router.Router) *Hub {
	return &Hub{
		tracker: tracker,
		router:  router,
	}
}

// Join makes conn reachable for fan-out and announces the user online on
// their first connection.
func (h *Hub) Join(conn *registry.Connection) {
	h.tracker.Connect(conn)
}

// Leave removes conn and announces the user offline when it was their last one.
func (h *Hub) Leave(conn *registry.Connection) {
	h.tracker.Disconnect(conn)
}

// Dispatch routes one inbound event of userID.
func (h *Hub) Dispatch(ctx context.Context, userID string, event models.InboundEvent) error {
	return h.router.Route(ctx, userID, event)
}
