package gateway

// Inbound message types a client may send after connecting.
const (
	MessageTypeModerator = "moderator"
	MessageTypeViewer    = "viewer"
	MessageTypePing      = "ping"
)

// InboundMessage is the envelope for all client-to-server messages. Key
// carries the shared moderator credential on the moderator identification
// message; it is ignored elsewhere.
type InboundMessage struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
}

// AssignedIDMessage tells a freshly identified moderator its moderator ID.
// It is always delivered before any item push so the client can interpret
// subsequent payloads.
type AssignedIDMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PongMessage answers a client keepalive ping.
type PongMessage struct {
	Type string `json:"type"`
}

// PendingImage is one entry of a moderator's owned-item view.
type PendingImage struct {
	URL     string `json:"url"`
	OwnerID string `json:"ownerId"`
}

// ModeratorViewMessage carries a moderator's current owned items. The server
// filters per recipient: a moderator only ever sees their own items.
type ModeratorViewMessage struct {
	PendingImages []PendingImage `json:"pendingImages"`
}

// PublicCollectionMessage carries the full approved collection to viewers.
type PublicCollectionMessage struct {
	Images []string `json:"images"`
}

// ItemDeletedMessage is the out-of-band removal event pushed to moderators
// when an already-public item is deleted, so clients can drop the row
// without waiting for the next full view push.
type ItemDeletedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}
