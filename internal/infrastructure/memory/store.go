package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"
)

// Store owns the catalog and the key pools behind one lock, so a product and
// its pool are created and removed together and a reservation is a single
// critical section across check, decide and remove.
type Store struct {
	mu       sync.RWMutex
	order    []string
	products map[string]catalog.Product
	pools    map[string]*inventory.Pool
}

var (
	_ catalog.Repository   = (*Store)(nil)
	_ inventory.Repository = (*Store)(nil)
)

// NewStore returns an empty catalog with no key pools.
func NewStore() *Store {
	return &Store{
		products: make(map[string]catalog.Product),
		pools:    make(map[string]*inventory.Pool),
	}
}

// CreateProduct adds p with an empty pool. It fails with catalog.ErrDuplicateProduct
// when the name is taken.
func (s *Store) CreateProduct(ctx context.Context, p catalog.Product) error {
	_ = ctx
	if _, err := catalog.New(p.Name, p.Description, p.Price); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.Name]; exists {
		return catalog.ErrDuplicateProduct
	}
	s.products[p.Name] = p
	s.pools[p.Name] = inventory.NewPool(p.Name)
	s.order = append(s.order, p.Name)
	return nil
}

// RemoveProduct drops the product and its unsold keys.
func (s *Store) RemoveProduct(ctx context.Context, name string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[name]; !exists {
		return catalog.ErrNotFound
	}
	delete(s.products, name)
	delete(s.pools, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns catalog.ErrNotFound for an unknown name.
func (s *Store) Get(ctx context.Context, name string) (catalog.Product, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[name]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

// List returns products in creation order.
func (s *Store) List(ctx context.Context) ([]catalog.Product, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Product, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.products[name])
	}
	return out, nil
}

// StockCount reports the keys left in a product's pool.
func (s *Store) StockCount(ctx context.Context, product string) (int, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	pool, ok := s.pools[product]
	if !ok {
		return 0, nil
	}
	return pool.Len(), nil
}

// AppendKeys adds keys to the end of the pool in the given order.
func (s *Store) AppendKeys(ctx context.Context, product string, keys []string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[product]
	if !ok {
		return inventory.ErrNotFound
	}
	pool.Append(keys...)
	return nil
}

// ReserveAndIssue removes and returns the oldest quantity keys, or nothing when
// the pool is short. An unknown product also reports inventory.ErrInsufficientStock.
func (s *Store) ReserveAndIssue(ctx context.Context, product string, quantity int) ([]string, error) {
	_ = ctx
	if quantity <= 0 {
		return nil, inventory.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[product]
	if !ok {
		return nil, fmt.Errorf("%w: %w", inventory.ErrInsufficientStock, inventory.ErrNotFound)
	}
	return pool.Take(quantity)
}

// Levels reports the stock of every product in catalog order.
func (s *Store) Levels(ctx context.Context) ([]inventory.StockLevel, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]inventory.StockLevel, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, inventory.StockLevel{Product: name, Available: s.pools[name].Len()})
	}
	return out, nil
}

// Capture copies the catalog and pools as of one instant.
func (s *Store) Capture(ctx context.Context) ([]catalog.Product, map[string][]string) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]catalog.Product, 0, len(s.order))
	pools := make(map[string][]string, len(s.pools))
	for _, name := range s.order {
		products = append(products, s.products[name])
		pools[name] = append([]string{}, s.pools[name].Keys...)
	}
	return products, pools
}

// Restore replaces the whole catalog and pools with the snapshot content.
func (s *Store) Restore(snap snapshot.Snapshot) error {
	snap = snap.Normalize()
	if err := snap.Validate(); err != nil {
		return err
	}

	products := make(map[string]catalog.Product, len(snap.Products))
	pools := make(map[string]*inventory.Pool, len(snap.Products))
	order := make([]string, 0, len(snap.Products))
	for _, p := range snap.Products {
		products[p.Name] = p
		pool := inventory.NewPool(p.Name)
		pool.Append(snap.Pools[p.Name]...)
		pools[p.Name] = pool
		order = append(order, p.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.products = products
	s.pools = pools
	s.order = order
	return nil
}
