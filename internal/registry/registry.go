package registry

import (
	"errors"
	"time"
)

// ErrDuplicateItem is returned when an item ID is inserted twice.
var ErrDuplicateItem = errors.New("item already registered")

// Item is a pending submission awaiting a moderator decision. OwnerID is
// empty while the item is unclaimed; AssignedAt is zero in that case.
type Item struct {
	ID         string
	OwnerID    string
	AssignedAt time.Time
}

// Unclaimed reports whether the item has no current owner.
func (i *Item) Unclaimed() bool {
	return i.OwnerID == ""
}

// Registry is the authoritative in-memory set of unresolved items and their
// current assignment. It preserves intake order so that the oldest unclaimed
// items are handed out first.
//
// Registry is not safe for concurrent use. All mutation paths funnel through
// the moderation coordinator, which serializes access under a single lock.
type Registry struct {
	items map[string]*Item
	order []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		items: make(map[string]*Item),
	}
}

// Insert adds a new unclaimed item at the end of the intake order.
// Inserting an ID that is already present returns ErrDuplicateItem and
// leaves the registry unchanged.
func (r *Registry) Insert(itemID string) error {
	if _, ok := r.items[itemID]; ok {
		return ErrDuplicateItem
	}
	r.items[itemID] = &Item{ID: itemID}
	r.order = append(r.order, itemID)
	return nil
}

// Remove deletes the item regardless of ownership state. Removing an absent
// item is a no-op: resolution may race with a disconnect-triggered release,
// so removal must be idempotent.
func (r *Registry) Remove(itemID string) {
	if _, ok := r.items[itemID]; !ok {
		return
	}
	delete(r.items, itemID)
	for i, id := range r.order {
		if id == itemID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Contains reports whether the item is still pending.
func (r *Registry) Contains(itemID string) bool {
	_, ok := r.items[itemID]
	return ok
}

// Get returns the item with the given ID, or nil if it is not pending.
func (r *Registry) Get(itemID string) *Item {
	return r.items[itemID]
}

// Assign sets the owner of an item. It is called only by the load balancer.
func (r *Registry) Assign(itemID, moderatorID string, at time.Time) {
	if item, ok := r.items[itemID]; ok {
		item.OwnerID = moderatorID
		item.AssignedAt = at
	}
}

// ReleaseAllOwnedBy clears ownership of every item currently owned by the
// given moderator. Called exactly once per moderator disconnect, before the
// next balancing pass.
func (r *Registry) ReleaseAllOwnedBy(moderatorID string) int {
	released := 0
	for _, id := range r.order {
		item := r.items[id]
		if item.OwnerID == moderatorID {
			item.OwnerID = ""
			item.AssignedAt = time.Time{}
			released++
		}
	}
	return released
}

// ItemsOwnedBy returns the items currently owned by the moderator, in
// intake order. Used to build the per-moderator push payload.
func (r *Registry) ItemsOwnedBy(moderatorID string) []*Item {
	var owned []*Item
	for _, id := range r.order {
		if item := r.items[id]; item.OwnerID == moderatorID {
			owned = append(owned, item)
		}
	}
	return owned
}

// UnclaimedItems returns all items with no owner, oldest first.
func (r *Registry) UnclaimedItems() []*Item {
	var unclaimed []*Item
	for _, id := range r.order {
		if item := r.items[id]; item.Unclaimed() {
			unclaimed = append(unclaimed, item)
		}
	}
	return unclaimed
}

// Len returns the number of pending items.
func (r *Registry) Len() int {
	return len(r.items)
}

// Snapshot returns all pending items in intake order.
func (r *Registry) Snapshot() []*Item {
	items := make([]*Item, 0, len(r.order))
	for _, id := range r.order {
		items = append(items, r.items[id])
	}
	return items
}
