package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	"github.com/Zhima-Mochi/keyshop/internal/domain/selection"
	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustProduct(t *testing.T, name string, price int64) catalog.Product {
	t.Helper()
	p, err := catalog.New(name, "", price)
	require.NoError(t, err)
	return p
}

func TestStoreCatalogLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.CreateProduct(ctx, mustProduct(t, "b", 2)))
	require.NoError(t, s.CreateProduct(ctx, mustProduct(t, "a", 1)))
	assert.ErrorIs(t, s.CreateProduct(ctx, mustProduct(t, "a", 9)), catalog.ErrDuplicateProduct)
	assert.ErrorIs(t, s.CreateProduct(ctx, catalog.Product{Name: "zero"}), catalog.ErrInvalidPrice)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Name, "creation order is kept")

	n, err := s.StockCount(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n, "a new product starts with an empty pool")

	require.NoError(t, s.RemoveProduct(ctx, "b"))
	assert.ErrorIs(t, s.RemoveProduct(ctx, "b"), catalog.ErrNotFound)
	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.ErrorIs(t, s.AppendKeys(ctx, "b", []string{"K"}), inventory.ErrNotFound)
}

func TestStoreRecreatedProductStartsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.CreateProduct(ctx, mustProduct(t, "a", 1)))
	require.NoError(t, s.AppendKeys(ctx, "a", []string{"K1", "K2"}))
	require.NoError(t, s.RemoveProduct(ctx, "a"))
	require.NoError(t, s.CreateProduct(ctx, mustProduct(t, "a", 1)))

	n, err := s.StockCount(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreReserveAndIssue(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateProduct(ctx, mustProduct(t, "a", 1)))
	require.NoError(t, s.AppendKeys(ctx, "a", []string{"K1", "K2", "K3"}))

	keys, err := s.ReserveAndIssue(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"K1", "K2"}, keys)

	_, err = s.ReserveAndIssue(ctx, "a", 2)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	n, _ := s.StockCount(ctx, "a")
	assert.Equal(t, 1, n, "a failed reservation removes nothing")

	_, err = s.ReserveAndIssue(ctx, "a", 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = s.ReserveAndIssue(ctx, "ghost", 1)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestStoreConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateProduct(ctx, mustProduct(t, "a", 1)))
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = fmt.Sprintf("K%03d", i)
	}
	require.NoError(t, s.AppendKeys(ctx, "a", keys))

	var (
		mu     sync.Mutex
		issued = map[string]int{}
		wg     sync.WaitGroup
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.ReserveAndIssue(ctx, "a", 3)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, k := range got {
				issued[k]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, issued, 99)
	for k, n := range issued {
		assert.Equal(t, 1, n, "key %s issued more than once", k)
	}
	n, _ := s.StockCount(ctx, "a")
	assert.Equal(t, 1, n)
}

func TestStoreCaptureRestore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateProduct(ctx, mustProduct(t, "b", 2)))
	require.NoError(t, s.CreateProduct(ctx, mustProduct(t, "a", 1)))
	require.NoError(t, s.AppendKeys(ctx, "a", []string{"K1"}))

	products, pools := s.Capture(ctx)
	restored := NewStore()
	require.NoError(t, restored.Restore(snapshot.Snapshot{Products: products, Pools: pools}))

	levels, err := restored.Levels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []inventory.StockLevel{{Product: "b", Available: 0}, {Product: "a", Available: 1}}, levels)

	// Captured pools are copies.
	pools["a"][0] = "mutated"
	keys, err := s.ReserveAndIssue(ctx, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"K1"}, keys)
}

func TestStoreRestoreRejectsOrphanPool(t *testing.T) {
	s := NewStore()
	err := s.Restore(snapshot.Snapshot{Pools: map[string][]string{"ghost": {"K"}}})
	assert.ErrorIs(t, err, snapshot.ErrCorruptSnapshot)
}

func TestSelectionTracker(t *testing.T) {
	ctx := context.Background()
	tr := NewSelectionTracker()

	_, err := tr.Current(ctx, "u1")
	assert.ErrorIs(t, err, selection.ErrNoSelection)

	require.NoError(t, tr.Select(ctx, "u1", "a"))
	require.NoError(t, tr.Select(ctx, "u1", "b"))
	got, err := tr.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b", got, "the latest choice wins")

	require.NoError(t, tr.Clear(ctx, "u1"))
	require.NoError(t, tr.Clear(ctx, "u1"))
	_, err = tr.Current(ctx, "u1")
	assert.ErrorIs(t, err, selection.ErrNoSelection)
}

func TestHistoryLogKeepsOrderAndDuplicates(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryLog()
	require.NoError(t, h.Append(ctx, "u1", "ch_1"))
	require.NoError(t, h.Append(ctx, "u1", "ch_2"))
	require.NoError(t, h.Append(ctx, "u1", "ch_1"))

	got, err := h.ListFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch_1", "ch_2", "ch_1"}, got)

	empty, err := h.ListFor(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)

	captured := h.Capture(ctx)
	other := NewHistoryLog()
	other.Restore(captured)
	got, err = other.ListFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch_1", "ch_2", "ch_1"}, got)
}
