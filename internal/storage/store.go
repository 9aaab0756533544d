package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an artifact does not exist in the store.
var ErrNotFound = errors.New("artifact not found")

// ArtifactStore is the durable-store boundary. The moderation core treats
// Promote and Discard as fallible, retryable operations: on failure the item
// stays in the pending registry untouched, so the triggering moderator can
// simply retry.
type ArtifactStore interface {
	// PutPending stores a newly submitted artifact and returns its item ID,
	// which is derived from the underlying storage key. IDs sort in upload
	// order so that a startup listing reconstructs intake order.
	PutPending(ctx context.Context, data []byte, contentType, caption string) (string, error)

	// Promote copies a pending artifact into the public collection and
	// deletes the pending copy. The copy may be eventually consistent; the
	// implementation polls for visibility with a bounded retry before
	// deleting the original.
	Promote(ctx context.Context, itemID string) error

	// Discard deletes a pending artifact.
	Discard(ctx context.Context, itemID string) error

	// RemovePublic deletes an artifact from the public collection. Used by
	// the delete-after-approval admin action.
	RemovePublic(ctx context.Context, itemID string) error

	// ListPending returns the IDs of all pending artifacts in upload order.
	ListPending(ctx context.Context) ([]string, error)

	// ListPublic returns the IDs of the public collection in upload order.
	ListPublic(ctx context.Context) ([]string, error)

	// PendingURL maps an item ID to the locator moderators use to view it.
	PendingURL(itemID string) string

	// PublicURL maps an item ID to its public-collection locator.
	PublicURL(itemID string) string
}
