package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"

	"gopkg.in/yaml.v3"
)

// Legacy file names written by the first version of the bot.
const (
	LegacyProductsFile   = "products.json"
	LegacyCardKeysFile   = "card_keys.json"
	LegacyPayHistoryFile = "payhistory.json"
)

type legacyProduct struct {
	Description string `yaml:"description"`
	Price       int64  `yaml:"price"`
}

// ImportLegacy reads the three-file layout from dir. products.json is an
// object keyed by product name; it is walked as a YAML node so the catalog
// keeps the order the products were created in. A missing file reads as empty.
// Products without a key list get an empty pool.
func ImportLegacy(dir string) (snapshot.Snapshot, error) {
	products, err := readLegacyProducts(filepath.Join(dir, LegacyProductsFile))
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	pools := map[string][]string{}
	if err := readLegacyMap(filepath.Join(dir, LegacyCardKeysFile), &pools); err != nil {
		return snapshot.Snapshot{}, err
	}
	history := map[string][]string{}
	if err := readLegacyMap(filepath.Join(dir, LegacyPayHistoryFile), &history); err != nil {
		return snapshot.Snapshot{}, err
	}

	for _, p := range products {
		if _, ok := pools[p.Name]; !ok {
			pools[p.Name] = []string{}
		}
	}
	s := snapshot.Snapshot{Products: products, Pools: pools, History: history}.Normalize()
	if err := s.Validate(); err != nil {
		return snapshot.Snapshot{}, err
	}
	return s, nil
}

func readLegacyFile(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", snapshot.ErrCorruptSnapshot, path, err)
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s: top level must be an object", snapshot.ErrCorruptSnapshot, path)
	}
	return doc.Content[0], nil
}

func readLegacyProducts(path string) ([]catalog.Product, error) {
	root, err := readLegacyFile(path)
	if err != nil || root == nil {
		return []catalog.Product{}, err
	}
	out := make([]catalog.Product, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var rec legacyProduct
		if err := root.Content[i+1].Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: %s: product %q: %w", snapshot.ErrCorruptSnapshot, path, name, err)
		}
		out = append(out, catalog.Product{Name: name, Description: rec.Description, Price: rec.Price})
	}
	return out, nil
}

func readLegacyMap(path string, dst *map[string][]string) error {
	root, err := readLegacyFile(path)
	if err != nil || root == nil {
		return err
	}
	if err := root.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s: %w", snapshot.ErrCorruptSnapshot, path, err)
	}
	return nil
}
