package moderation

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"modqueue/internal/balancer"
	"modqueue/internal/events"
	"modqueue/internal/gateway"
	"modqueue/internal/metrics"
	"modqueue/internal/registry"
	"modqueue/internal/storage"
)

// Directory exposes the connected moderator set in registration order.
// Implemented by the gateway session manager.
type Directory interface {
	ModeratorIDs() []string
}

// Pusher delivers computed views to sessions. Implemented by the gateway
// broadcaster.
type Pusher interface {
	PushModeratorView(moderatorID string, items []gateway.PendingImage)
	PushPublicCollection(sessionID string, images []string)
	BroadcastPublicCollection(images []string)
	NotifyRemoval(itemID string)
}

// App is the moderation coordinator. It owns the pending registry and is the
// only component that mutates item ownership. Every mutation path runs
// mutation, rebalance, and broadcast as one step under a single lock, so the
// sequence of views pushed to any moderator reflects a linearizable sequence
// of registry states. Pushes only enqueue onto buffered session channels,
// so the lock is never held across network I/O.
type App struct {
	mu  sync.Mutex
	reg *registry.Registry

	directory Directory
	pusher    Pusher
	store     storage.ArtifactStore
	events    events.Publisher
	metrics   metrics.Collector
	clock     clockwork.Clock
}

// NewApp creates the coordinator.
func NewApp(dir Directory, pusher Pusher, store storage.ArtifactStore, publisher events.Publisher, collector metrics.Collector, clock clockwork.Clock) *App {
	return &App{
		reg:       registry.New(),
		directory: dir,
		pusher:    pusher,
		store:     store,
		events:    publisher,
		metrics:   collector,
		clock:     clock,
	}
}

// Rebuild reloads the pending registry from the durable store listing. The
// distribution state is ephemeral; this runs once at startup before any
// connection is accepted.
func (a *App) Rebuild(ctx context.Context) error {
	ids, err := a.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending artifacts: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		if err := a.reg.Insert(id); err != nil {
			log.Warn().Err(err).Str("item_id", id).Msg("skipping duplicate item during rebuild")
		}
	}
	a.metrics.SetPendingItems(a.reg.Len())

	log.Info().Int("pending", a.reg.Len()).Msg("rebuilt pending registry from durable store")
	return nil
}

// Intake registers a freshly stored artifact, assigns it an owner if any
// moderator is connected, and pushes updated views.
func (a *App) Intake(ctx context.Context, itemID string) error {
	a.mu.Lock()
	if err := a.reg.Insert(itemID); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("register item %s: %w", itemID, err)
	}
	a.rebalanceAndPushLocked()
	a.metrics.SetPendingItems(a.reg.Len())
	a.mu.Unlock()

	a.metrics.RecordSubmission()
	a.publish(ctx, events.TypeItemSubmitted, itemID, events.ItemSubmittedPayload{
		ItemID:      itemID,
		SubmittedAt: a.clock.Now(),
	})

	log.Info().Str("item_id", itemID).Msg("item entered pending pool")
	return nil
}

// Approve promotes an item into the public collection. The durable-store
// promotion runs first, outside the lock: if it fails the registry is left
// untouched (the item keeps its owner) and the moderator can retry.
func (a *App) Approve(ctx context.Context, itemID string) error {
	if err := a.store.Promote(ctx, itemID); err != nil {
		return fmt.Errorf("promote item %s: %w", itemID, err)
	}

	a.resolve(itemID)
	a.metrics.RecordResolution(true)
	a.publish(ctx, events.TypeItemApproved, itemID, events.ItemApprovedPayload{
		ItemID:     itemID,
		PublicURL:  a.store.PublicURL(itemID),
		ApprovedAt: a.clock.Now(),
	})
	a.broadcastPublicCollection(ctx)

	log.Info().Str("item_id", itemID).Msg("item approved")
	return nil
}

// Deny discards an item. Same failure contract as Approve.
func (a *App) Deny(ctx context.Context, itemID string) error {
	if err := a.store.Discard(ctx, itemID); err != nil {
		return fmt.Errorf("discard item %s: %w", itemID, err)
	}

	a.resolve(itemID)
	a.metrics.RecordResolution(false)
	a.publish(ctx, events.TypeItemDenied, itemID, events.ItemDeniedPayload{
		ItemID:   itemID,
		DeniedAt: a.clock.Now(),
	})

	log.Info().Str("item_id", itemID).Msg("item denied")
	return nil
}

// DeletePublic removes an already-approved item from the public collection,
// notifies moderators out-of-band, and refreshes viewer collections.
func (a *App) DeletePublic(ctx context.Context, itemID string) error {
	if err := a.store.RemovePublic(ctx, itemID); err != nil {
		return fmt.Errorf("delete public item %s: %w", itemID, err)
	}

	a.pusher.NotifyRemoval(itemID)
	a.publish(ctx, events.TypeItemDeleted, itemID, events.ItemDeletedPayload{
		ItemID:    itemID,
		DeletedAt: a.clock.Now(),
	})
	a.broadcastPublicCollection(ctx)

	log.Info().Str("item_id", itemID).Msg("public item deleted")
	return nil
}

// ModeratorJoined hands unclaimed items to the new moderator and pushes
// views. A joiner arriving after the pool was claimed legitimately starts at
// zero load: assigned work is never reshuffled.
func (a *App) ModeratorJoined(moderatorID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rebalanceAndPushLocked()
	log.Info().Str("moderator_id", moderatorID).Msg("moderator joined balancing pool")
}

// ModeratorLeft releases the departed moderator's items before the next
// balancing pass, then redistributes them.
func (a *App) ModeratorLeft(moderatorID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	released := a.reg.ReleaseAllOwnedBy(moderatorID)
	a.rebalanceAndPushLocked()
	log.Info().
		Str("moderator_id", moderatorID).
		Int("released", released).
		Msg("moderator left, items released")
}

// ViewerJoined pushes the current public collection to the new viewer.
func (a *App) ViewerJoined(sessionID string) {
	images, err := a.publicImages(context.Background())
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to load public collection for viewer")
		return
	}
	a.pusher.PushPublicCollection(sessionID, images)
}

// PendingCount reports the registry size.
func (a *App) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reg.Len()
}

// resolve removes the item and re-pushes moderator views. Removal is
// idempotent: the item may already be gone if a disconnect-triggered
// release raced the resolution.
func (a *App) resolve(itemID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reg.Remove(itemID)
	a.rebalanceAndPushLocked()
	a.metrics.SetPendingItems(a.reg.Len())
}

// rebalanceAndPushLocked runs a balancing pass and re-pushes every connected
// moderator's view. Re-pushing all views is cheap relative to the network
// I/O that follows and keeps the delivery logic simple. Caller holds a.mu.
func (a *App) rebalanceAndPushLocked() {
	moderatorIDs := a.directory.ModeratorIDs()
	changed := balancer.Rebalance(a.reg, moderatorIDs, a.clock.Now())
	if len(changed) > 0 {
		log.Debug().Int("changed", len(changed)).Msg("assignment changed")
	}
	for _, id := range moderatorIDs {
		a.pusher.PushModeratorView(id, a.viewForLocked(id))
	}
}

// viewForLocked maps a moderator's owned items to their wire payload.
func (a *App) viewForLocked(moderatorID string) []gateway.PendingImage {
	owned := a.reg.ItemsOwnedBy(moderatorID)
	items := make([]gateway.PendingImage, 0, len(owned))
	for _, item := range owned {
		items = append(items, gateway.PendingImage{
			URL:     a.store.PendingURL(item.ID),
			OwnerID: item.OwnerID,
		})
	}
	return items
}

func (a *App) broadcastPublicCollection(ctx context.Context) {
	images, err := a.publicImages(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load public collection for broadcast")
		return
	}
	a.pusher.BroadcastPublicCollection(images)
}

func (a *App) publicImages(ctx context.Context) ([]string, error) {
	ids, err := a.store.ListPublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("list public collection: %w", err)
	}
	images := make([]string, 0, len(ids))
	for _, id := range ids {
		images = append(images, a.store.PublicURL(id))
	}
	return images, nil
}

// publish emits a moderation event. The feed is advisory; failures are
// logged and never affect the moderation decision.
func (a *App) publish(ctx context.Context, eventType, itemID string, payload interface{}) {
	event := events.NewEvent(eventType, itemID, a.clock.Now(), payload)
	if err := a.events.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Str("item_id", itemID).Msg("failed to publish moderation event")
	}
}
