package selection

import (
	"context"
	"errors"
)

var ErrNoSelection = errors.New("selection: no product selected")

// Tracker remembers which product a user is about to buy until an invoice is issued.
// Entries are per user and independent of each other.
type Tracker interface {
	Select(ctx context.Context, userID, product string) error
	Current(ctx context.Context, userID string) (string, error)
	Clear(ctx context.Context, userID string) error
}
