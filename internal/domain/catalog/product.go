package catalog

import (
	"errors"
	"strings"
)

var (
	ErrNotFound         = errors.New("catalog: product not found")
	ErrDuplicateProduct = errors.New("catalog: product already exists")
	ErrInvalidPrice     = errors.New("catalog: price must be greater than zero")
	ErrInvalidName      = errors.New("catalog: product name is required")
)

// Product is a sellable item. Name is the identity and never changes once created.
type Product struct {
	Name        string
	Description string
	Price       int64
}

func New(name, description string, price int64) (Product, error) {
	if strings.TrimSpace(name) == "" {
		return Product{}, ErrInvalidName
	}
	if price <= 0 {
		return Product{}, ErrInvalidPrice
	}
	return Product{
		Name:        name,
		Description: description,
		Price:       price,
	}, nil
}
