package catalog

import "context"

// Repository owns product definitions. Creating a product must also create its
// key pool and removing it must drop the pool, in one step.
type Repository interface {
	CreateProduct(ctx context.Context, p Product) error
	RemoveProduct(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (Product, error)
	List(ctx context.Context) ([]Product, error)
}
