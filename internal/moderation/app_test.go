package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modqueue/internal/events"
	"modqueue/internal/gateway"
	"modqueue/internal/metrics"
	"modqueue/internal/storage"
)

// fakeDirectory is a fixed moderator set in registration order.
type fakeDirectory struct {
	ids []string
}

func (d *fakeDirectory) ModeratorIDs() []string { return d.ids }

// fakePusher records every push so tests can assert on delivered views.
type fakePusher struct {
	views     map[string][][]gateway.PendingImage
	viewer    map[string][]string
	broadcast [][]string
	removals  []string
}

func newFakePusher() *fakePusher {
	return &fakePusher{
		views:  make(map[string][][]gateway.PendingImage),
		viewer: make(map[string][]string),
	}
}

func (p *fakePusher) PushModeratorView(moderatorID string, items []gateway.PendingImage) {
	p.views[moderatorID] = append(p.views[moderatorID], items)
}

func (p *fakePusher) PushPublicCollection(sessionID string, images []string) {
	p.viewer[sessionID] = images
}

func (p *fakePusher) BroadcastPublicCollection(images []string) {
	p.broadcast = append(p.broadcast, images)
}

func (p *fakePusher) NotifyRemoval(itemID string) {
	p.removals = append(p.removals, itemID)
}

// lastView returns the most recent view pushed to a moderator.
func (p *fakePusher) lastView(moderatorID string) []gateway.PendingImage {
	history := p.views[moderatorID]
	if len(history) == 0 {
		return nil
	}
	return history[len(history)-1]
}

// recordingPublisher captures published lifecycle events.
type recordingPublisher struct {
	published []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.published = append(p.published, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// failingStore wraps a store and fails Promote/Discard, simulating a
// transient durable-store outage.
type failingStore struct {
	storage.ArtifactStore
}

var errStorageDown = errors.New("storage down")

func (f *failingStore) Promote(ctx context.Context, itemID string) error { return errStorageDown }
func (f *failingStore) Discard(ctx context.Context, itemID string) error { return errStorageDown }

type fixture struct {
	app       *App
	dir       *fakeDirectory
	pusher    *fakePusher
	store     *storage.MemoryStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := &fakeDirectory{}
	pusher := newFakePusher()
	publisher := &recordingPublisher{}
	store := storage.NewMemoryStore("http://localhost", clockwork.NewFakeClock())
	app := NewApp(dir, pusher, store, publisher, metrics.NoOpCollector{}, clockwork.NewFakeClock())
	return &fixture{app: app, dir: dir, pusher: pusher, store: store, publisher: publisher}
}

func (f *fixture) submit(t *testing.T, caption string) string {
	t.Helper()
	id, err := f.store.PutPending(context.Background(), []byte(caption), "image/png", caption)
	require.NoError(t, err)
	require.NoError(t, f.app.Intake(context.Background(), id))
	return id
}

func TestIntakeWithNoModerators(t *testing.T) {
	f := newFixture(t)

	id := f.submit(t, "x")

	assert.Equal(t, 1, f.app.PendingCount())
	assert.Empty(t, f.pusher.views, "no view pushes without connected moderators")
	assert.True(t, f.app.reg.Get(id).Unclaimed())
}

func TestModeratorJoinClaimsBacklog(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "x")

	f.dir.ids = []string{"mod_A"}
	f.app.ModeratorJoined("mod_A")

	view := f.pusher.lastView("mod_A")
	require.Len(t, view, 1)
	assert.Equal(t, f.store.PendingURL(id), view[0].URL)
	assert.Equal(t, "mod_A", view[0].OwnerID)
}

func TestSecondJoinerDoesNotReshuffle(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "one")
	f.submit(t, "two")

	f.dir.ids = []string{"mod_A"}
	f.app.ModeratorJoined("mod_A")
	require.Len(t, f.pusher.lastView("mod_A"), 2)

	f.dir.ids = []string{"mod_A", "mod_B"}
	f.app.ModeratorJoined("mod_B")

	// Both items were claimed before B joined; assigned work never moves.
	assert.Len(t, f.pusher.lastView("mod_A"), 2)
	assert.Empty(t, f.pusher.lastView("mod_B"))
}

func TestDisconnectReassignsInFIFOOrder(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t, "a")
	b := f.submit(t, "b")
	c := f.submit(t, "c")

	f.dir.ids = []string{"mod_M", "mod_N"}
	f.app.ModeratorJoined("mod_M")
	// M claimed a and c, N claimed b (greedy FIFO with both connected).

	f.dir.ids = []string{"mod_N"}
	f.app.ModeratorLeft("mod_M")

	view := f.pusher.lastView("mod_N")
	require.Len(t, view, 3)
	assert.Equal(t, f.store.PendingURL(a), view[0].URL)
	assert.Equal(t, f.store.PendingURL(b), view[1].URL)
	assert.Equal(t, f.store.PendingURL(c), view[2].URL)
	for _, img := range view {
		assert.Equal(t, "mod_N", img.OwnerID)
	}
}

func TestApproveRemovesAndPublishes(t *testing.T) {
	f := newFixture(t)
	f.dir.ids = []string{"mod_A"}
	id := f.submit(t, "x")

	require.NoError(t, f.app.Approve(context.Background(), id))

	assert.Equal(t, 0, f.app.PendingCount())
	assert.Empty(t, f.pusher.lastView("mod_A"), "approved item leaves the moderator view")
	require.Len(t, f.pusher.broadcast, 1)
	assert.Contains(t, f.pusher.broadcast[0], f.store.PublicURL(id))
}

func TestDenyRemovesWithoutViewerBroadcast(t *testing.T) {
	f := newFixture(t)
	f.dir.ids = []string{"mod_A"}
	id := f.submit(t, "x")

	require.NoError(t, f.app.Deny(context.Background(), id))

	assert.Equal(t, 0, f.app.PendingCount())
	assert.Empty(t, f.pusher.lastView("mod_A"))
	assert.Empty(t, f.pusher.broadcast)
}

func TestFailedResolutionLeavesRegistryUntouched(t *testing.T) {
	f := newFixture(t)
	f.dir.ids = []string{"mod_A"}
	id := f.submit(t, "x")
	f.app.store = &failingStore{ArtifactStore: f.store}

	err := f.app.Approve(context.Background(), id)

	require.ErrorIs(t, err, errStorageDown)
	assert.Equal(t, 1, f.app.PendingCount())
	assert.Equal(t, "mod_A", f.app.reg.Get(id).OwnerID, "item keeps its owner so the retry is routable")

	err = f.app.Deny(context.Background(), id)
	require.ErrorIs(t, err, errStorageDown)
	assert.Equal(t, 1, f.app.PendingCount())
}

func TestResolutionIdempotentAgainstRace(t *testing.T) {
	f := newFixture(t)
	f.dir.ids = []string{"mod_A"}
	id := f.submit(t, "x")

	require.NoError(t, f.app.Approve(context.Background(), id))
	// A second resolve of the same item must not panic or corrupt state.
	f.app.resolve(id)

	assert.Equal(t, 0, f.app.PendingCount())
}

func TestDeletePublicNotifiesModerators(t *testing.T) {
	f := newFixture(t)
	f.dir.ids = []string{"mod_A"}
	id := f.submit(t, "x")
	require.NoError(t, f.app.Approve(context.Background(), id))

	require.NoError(t, f.app.DeletePublic(context.Background(), id))

	assert.Equal(t, []string{id}, f.pusher.removals)
	last := f.pusher.broadcast[len(f.pusher.broadcast)-1]
	assert.Empty(t, last, "collection broadcast reflects the deletion")
}

func TestLifecycleEventsCarryTypedPayloads(t *testing.T) {
	f := newFixture(t)
	f.dir.ids = []string{"mod_A"}
	id := f.submit(t, "x")

	require.NoError(t, f.app.Approve(context.Background(), id))
	require.NoError(t, f.app.DeletePublic(context.Background(), id))

	require.Len(t, f.publisher.published, 3)

	submitted := f.publisher.published[0]
	assert.Equal(t, events.TypeItemSubmitted, submitted.Type)
	assert.Equal(t, id, submitted.ItemID)
	submittedPayload, ok := submitted.Payload.(events.ItemSubmittedPayload)
	require.True(t, ok, "submitted event carries its typed payload")
	assert.Equal(t, id, submittedPayload.ItemID)

	approved := f.publisher.published[1]
	assert.Equal(t, events.TypeItemApproved, approved.Type)
	approvedPayload, ok := approved.Payload.(events.ItemApprovedPayload)
	require.True(t, ok, "approved event carries its typed payload")
	assert.Equal(t, f.store.PublicURL(id), approvedPayload.PublicURL)

	deleted := f.publisher.published[2]
	assert.Equal(t, events.TypeItemDeleted, deleted.Type)
	_, ok = deleted.Payload.(events.ItemDeletedPayload)
	assert.True(t, ok, "deleted event carries its typed payload")
}

func TestDenyEventCarriesDeniedPayload(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "x")

	require.NoError(t, f.app.Deny(context.Background(), id))

	require.Len(t, f.publisher.published, 2)
	denied := f.publisher.published[1]
	assert.Equal(t, events.TypeItemDenied, denied.Type)
	payload, ok := denied.Payload.(events.ItemDeniedPayload)
	require.True(t, ok)
	assert.Equal(t, id, payload.ItemID)
}

func TestViewerJoinedGetsPublicCollection(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "x")
	require.NoError(t, f.app.Approve(context.Background(), id))

	f.app.ViewerJoined("session-1")

	assert.Equal(t, []string{f.store.PublicURL(id)}, f.pusher.viewer["session-1"])
}

func TestRebuildRestoresPendingPool(t *testing.T) {
	dir := &fakeDirectory{}
	pusher := newFakePusher()
	store := storage.NewMemoryStore("http://localhost", clockwork.NewFakeClock())
	ctx := context.Background()

	a, err := store.PutPending(ctx, []byte("a"), "image/png", "a")
	require.NoError(t, err)
	b, err := store.PutPending(ctx, []byte("b"), "image/png", "b")
	require.NoError(t, err)

	// A fresh process rebuilds its registry from the durable listing.
	app := NewApp(dir, pusher, store, events.NoOpPublisher{}, metrics.NoOpCollector{}, clockwork.NewFakeClock())
	require.NoError(t, app.Rebuild(ctx))

	assert.Equal(t, 2, app.PendingCount())
	unclaimed := app.reg.UnclaimedItems()
	require.Len(t, unclaimed, 2)
	assert.Equal(t, a, unclaimed[0].ID)
	assert.Equal(t, b, unclaimed[1].ID)
}

func TestNoOverlappingOwnershipAcrossChurn(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 8; i++ {
		f.submit(t, "item")
	}

	f.dir.ids = []string{"mod_A"}
	f.app.ModeratorJoined("mod_A")
	f.dir.ids = []string{"mod_A", "mod_B"}
	f.app.ModeratorJoined("mod_B")
	f.dir.ids = []string{"mod_B"}
	f.app.ModeratorLeft("mod_A")
	f.dir.ids = []string{"mod_B", "mod_C"}
	f.app.ModeratorJoined("mod_C")

	owners := make(map[string]string)
	for _, item := range f.app.reg.Snapshot() {
		require.False(t, item.Unclaimed(), "all items should be claimed with moderators connected")
		require.Contains(t, f.dir.ids, item.OwnerID, "owner must be a connected moderator")
		owners[item.ID] = item.OwnerID
	}
	assert.Len(t, owners, 8)
}
