package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MemoryStore is an in-process ArtifactStore for tests and local development.
// It mirrors the S3 store's key layout and ordering semantics without the
// eventual-consistency delay.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string]artifact
	public  map[string]artifact
	order   []string
	baseURL string
	clock   clockwork.Clock
}

type artifact struct {
	data        []byte
	contentType string
	caption     string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(baseURL string, clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		pending: make(map[string]artifact),
		public:  make(map[string]artifact),
		baseURL: baseURL,
		clock:   clock,
	}
}

func (m *MemoryStore) PutPending(ctx context.Context, data []byte, contentType, caption string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	itemID := fmt.Sprintf("%d_%s%s", m.clock.Now().UnixNano(), uuid.New().String(), extensionFor(contentType))
	m.pending[itemID] = artifact{data: data, contentType: contentType, caption: caption}
	m.order = append(m.order, itemID)
	return itemID, nil
}

func (m *MemoryStore) Promote(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	art, ok := m.pending[itemID]
	if !ok {
		return fmt.Errorf("promote %s: %w", itemID, ErrNotFound)
	}
	m.public[itemID] = art
	delete(m.pending, itemID)
	return nil
}

func (m *MemoryStore) Discard(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[itemID]; !ok {
		return fmt.Errorf("discard %s: %w", itemID, ErrNotFound)
	}
	delete(m.pending, itemID)
	return nil
}

func (m *MemoryStore) RemovePublic(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.public[itemID]; !ok {
		return fmt.Errorf("remove public %s: %w", itemID, ErrNotFound)
	}
	delete(m.public, itemID)
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, id := range m.order {
		if _, ok := m.pending[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) ListPublic(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, id := range m.order {
		if _, ok := m.public[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) PendingURL(itemID string) string {
	return m.baseURL + "/pending/" + itemID
}

func (m *MemoryStore) PublicURL(itemID string) string {
	return m.baseURL + "/public/" + itemID
}
