package history

import "context"

// Log is the append-only record of settlement charge ids per user.
type Log interface {
	Append(ctx context.Context, userID, chargeID string) error
	// ListFor returns the user's charge ids in settlement order; empty when none.
	ListFor(ctx context.Context, userID string) ([]string, error)
}
