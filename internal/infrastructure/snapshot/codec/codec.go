// Package codec holds the JSON document shared by the document-style snapshot backends.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"
)

const Version = 1

type ProductRecord struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

// Document is the on-disk form of a snapshot. Products stay a list so catalog
// order survives a round trip.
type Document struct {
	Version    int                 `json:"version"`
	Products   []ProductRecord     `json:"products"`
	CardKeys   map[string][]string `json:"card_keys"`
	PayHistory map[string][]string `json:"payhistory"`
}

func FromSnapshot(s snapshot.Snapshot) Document {
	s = s.Normalize()
	products := make([]ProductRecord, 0, len(s.Products))
	for _, p := range s.Products {
		products = append(products, ProductRecord{Name: p.Name, Description: p.Description, Price: p.Price})
	}
	return Document{
		Version:    Version,
		Products:   products,
		CardKeys:   s.Pools,
		PayHistory: s.History,
	}
}

// Snapshot converts the document back and checks its invariants.
func (d Document) Snapshot() (snapshot.Snapshot, error) {
	if d.Version != Version {
		return snapshot.Snapshot{}, fmt.Errorf("%w: unsupported version %d", snapshot.ErrCorruptSnapshot, d.Version)
	}
	s := snapshot.Snapshot{
		Products: ProductsFromRecords(d.Products),
		Pools:    d.CardKeys,
		History:  d.PayHistory,
	}.Normalize()
	if err := s.Validate(); err != nil {
		return snapshot.Snapshot{}, err
	}
	return s, nil
}

func ProductsFromRecords(records []ProductRecord) []catalog.Product {
	out := make([]catalog.Product, 0, len(records))
	for _, r := range records {
		out = append(out, catalog.Product{Name: r.Name, Description: r.Description, Price: r.Price})
	}
	return out
}

func Marshal(s snapshot.Snapshot) ([]byte, error) {
	return json.MarshalIndent(FromSnapshot(s), "", "  ")
}

// Unmarshal decodes and validates a document. Any failure matches snapshot.ErrCorruptSnapshot.
func Unmarshal(data []byte) (snapshot.Snapshot, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %w", snapshot.ErrCorruptSnapshot, err)
	}
	return d.Snapshot()
}
