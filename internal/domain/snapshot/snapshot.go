package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
)

var ErrCorruptSnapshot = errors.New("snapshot: corrupt snapshot")

// Snapshot is the durable state: catalog, key pools and purchase history.
// The three records are always saved and loaded together.
type Snapshot struct {
	Products []catalog.Product
	Pools    map[string][]string
	History  map[string][]string
}

func Empty() Snapshot {
	return Snapshot{
		Products: []catalog.Product{},
		Pools:    map[string][]string{},
		History:  map[string][]string{},
	}
}

// Gateway persists snapshots. Load returns Empty when nothing was stored yet.
type Gateway interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
}

// Validate checks the cross-record invariants. Every product owns exactly one
// pool and no pool exists without its product.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Products))
	for _, p := range s.Products {
		if p.Name == "" {
			return fmt.Errorf("%w: product with empty name", ErrCorruptSnapshot)
		}
		if p.Price <= 0 {
			return fmt.Errorf("%w: product %q has price %d", ErrCorruptSnapshot, p.Name, p.Price)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate product %q", ErrCorruptSnapshot, p.Name)
		}
		seen[p.Name] = struct{}{}
		if _, ok := s.Pools[p.Name]; !ok {
			return fmt.Errorf("%w: product %q has no key pool", ErrCorruptSnapshot, p.Name)
		}
	}
	for name := range s.Pools {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("%w: key pool %q has no product", ErrCorruptSnapshot, name)
		}
	}
	for user := range s.History {
		if user == "" {
			return fmt.Errorf("%w: history entry with empty user id", ErrCorruptSnapshot)
		}
	}
	return nil
}

// Normalize fills nil records so callers can range and index freely.
func (s Snapshot) Normalize() Snapshot {
	if s.Products == nil {
		s.Products = []catalog.Product{}
	}
	if s.Pools == nil {
		s.Pools = map[string][]string{}
	}
	if s.History == nil {
		s.History = map[string][]string{}
	}
	for name, keys := range s.Pools {
		if keys == nil {
			s.Pools[name] = []string{}
		}
	}
	return s
}
