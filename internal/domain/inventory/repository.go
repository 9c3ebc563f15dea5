package inventory

import (
	"context"
)

type Repository interface {
	StockCount(ctx context.Context, product string) (int, error)
	AppendKeys(ctx context.Context, product string, keys []string) error
	// ReserveAndIssue checks, removes and returns keys as one indivisible step.
	ReserveAndIssue(ctx context.Context, product string, quantity int) ([]string, error)
	Levels(ctx context.Context) ([]StockLevel, error)
}
