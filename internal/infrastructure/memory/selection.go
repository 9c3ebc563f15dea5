package memory

import (
	"context"
	"sync"

	"github.com/Zhima-Mochi/keyshop/internal/domain/selection"
)

// SelectionTracker keeps pending product choices per user. Selections are not
// persisted; a restart simply asks users to pick again.
type SelectionTracker struct {
	m sync.Map // user id -> product name
}

var _ selection.Tracker = (*SelectionTracker)(nil)

// NewSelectionTracker returns a tracker with no pending choices.
func NewSelectionTracker() *SelectionTracker {
	return &SelectionTracker{}
}

// Select records product as userID's pending choice, replacing any earlier one.
func (t *SelectionTracker) Select(ctx context.Context, userID, product string) error {
	_ = ctx
	t.m.Store(userID, product)
	return nil
}

// Current returns selection.ErrNoSelection when userID has not picked a product.
func (t *SelectionTracker) Current(ctx context.Context, userID string) (string, error) {
	_ = ctx
	v, ok := t.m.Load(userID)
	if !ok {
		return "", selection.ErrNoSelection
	}
	return v.(string), nil
}

// Clear forgets the pending choice. Clearing nothing is not an error.
func (t *SelectionTracker) Clear(ctx context.Context, userID string) error {
	_ = ctx
	t.m.Delete(userID)
	return nil
}
