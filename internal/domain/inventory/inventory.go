package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// ShortfallError reports how many keys were available when a request could not be met.
// It matches ErrInsufficientStock with errors.Is.
type ShortfallError struct {
	Product   string
	Requested int
	Available int
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %q: requested %d, available %d", e.Product, e.Requested, e.Available)
}

func (e *ShortfallError) Is(target error) bool { return target == ErrInsufficientStock }

// Pool is the ordered set of unused redemption keys for one product.
// Keys leave from the front in the order they were added.
type Pool struct {
	Product string
	Keys    []string
}

func NewPool(product string) *Pool {
	return &Pool{Product: product, Keys: []string{}}
}

func (p *Pool) Len() int { return len(p.Keys) }

func (p *Pool) Append(keys ...string) {
	p.Keys = append(p.Keys, keys...)
}

// Take removes and returns the first quantity keys. The pool is left untouched on error.
func (p *Pool) Take(quantity int) ([]string, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if quantity > len(p.Keys) {
		return nil, &ShortfallError{Product: p.Product, Requested: quantity, Available: len(p.Keys)}
	}
	issued := make([]string, quantity)
	copy(issued, p.Keys[:quantity])
	// Copy the remainder so issued keys are not retained by the backing array.
	rest := make([]string, len(p.Keys)-quantity)
	copy(rest, p.Keys[quantity:])
	p.Keys = rest
	return issued, nil
}

// StockLevel is one line of the inventory report.
type StockLevel struct {
	Product   string
	Available int
}
