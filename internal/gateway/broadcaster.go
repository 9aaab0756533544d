package gateway

import (
	"github.com/rs/zerolog/log"
)

// Broadcaster serializes registry and public-collection state into wire
// payloads and delivers them to live sessions. Delivery is fire-and-forget:
// a dead session never blocks delivery to the rest.
type Broadcaster struct {
	manager *SessionManager
}

// NewBroadcaster creates a broadcaster over the given session set.
func NewBroadcaster(manager *SessionManager) *Broadcaster {
	return &Broadcaster{manager: manager}
}

// PushModeratorView sends a moderator their current owned-item view. The
// payload is always a concrete list (possibly empty) so resolved items
// disappear from the client immediately.
func (b *Broadcaster) PushModeratorView(moderatorID string, items []PendingImage) {
	if items == nil {
		items = []PendingImage{}
	}
	for _, s := range b.manager.moderatorSessions() {
		if s.ModeratorID() == moderatorID {
			b.manager.sendJSON(s, ModeratorViewMessage{PendingImages: items})
			return
		}
	}
	// The moderator may have disconnected between rebalance and push.
	log.Debug().Str("moderator_id", moderatorID).Msg("view push skipped, moderator gone")
}

// PushPublicCollection sends the approved collection to a single viewer,
// used on viewer connect.
func (b *Broadcaster) PushPublicCollection(sessionID string, images []string) {
	s := b.manager.sessionByID(sessionID)
	if s == nil {
		return
	}
	if images == nil {
		images = []string{}
	}
	b.manager.sendJSON(s, PublicCollectionMessage{Images: images})
}

// BroadcastPublicCollection pushes the approved collection to every viewer
// after a resolution changes it.
func (b *Broadcaster) BroadcastPublicCollection(images []string) {
	if images == nil {
		images = []string{}
	}
	for _, s := range b.manager.viewerSessions() {
		b.manager.sendJSON(s, PublicCollectionMessage{Images: images})
	}
}

// NotifyRemoval broadcasts an out-of-band deletion event to all moderator
// sessions.
func (b *Broadcaster) NotifyRemoval(itemID string) {
	for _, s := range b.manager.moderatorSessions() {
		b.manager.sendJSON(s, ItemDeletedMessage{Type: "itemDeleted", ID: itemID})
	}
}
