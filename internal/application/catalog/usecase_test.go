package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	domcatalog "github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSaver struct {
	calls int
	err   error
}

func (s *countingSaver) Save(context.Context) error {
	s.calls++
	return s.err
}

func TestCreateListRemove(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	saver := &countingSaver{}

	create := NewCreateProductUseCase(store, saver, nil)
	remove := NewRemoveProductUseCase(store, saver, nil)
	list := NewListProductsUseCase(store, store, nil)

	p, err := create.Execute(ctx, CreateProductInput{Name: "gift10", Description: "Gift card", Price: 500})
	require.NoError(t, err)
	assert.Equal(t, "gift10", p.Name)
	require.NoError(t, store.AppendKeys(ctx, "gift10", []string{"K1", "K2"}))

	views, err := list.Execute(ctx, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, []ProductView{{Name: "gift10", Description: "Gift card", Price: 500, Available: 2}}, views)

	_, err = remove.Execute(ctx, "gift10")
	require.NoError(t, err)
	assert.Equal(t, 2, saver.calls)

	views, err = list.Execute(ctx, struct{}{})
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestCreateProductErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	saver := &countingSaver{}
	create := NewCreateProductUseCase(store, saver, nil)

	_, err := create.Execute(ctx, CreateProductInput{Name: "  ", Price: 1})
	assert.ErrorIs(t, err, domcatalog.ErrInvalidName)
	_, err = create.Execute(ctx, CreateProductInput{Name: "a", Price: -1})
	assert.ErrorIs(t, err, domcatalog.ErrInvalidPrice)

	_, err = create.Execute(ctx, CreateProductInput{Name: "a", Price: 1})
	require.NoError(t, err)
	_, err = create.Execute(ctx, CreateProductInput{Name: "a", Price: 2})
	assert.ErrorIs(t, err, domcatalog.ErrDuplicateProduct)
	assert.Equal(t, 1, saver.calls, "failed creations are not saved")
}

func TestRemoveUnknownProduct(t *testing.T) {
	remove := NewRemoveProductUseCase(memory.NewStore(), nil, nil)
	_, err := remove.Execute(context.Background(), "ghost")
	assert.ErrorIs(t, err, domcatalog.ErrNotFound)
}

func TestCreateReportsUnsavedProduct(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	saveErr := errors.New("disk full")
	saver := &countingSaver{err: saveErr}
	create := NewCreateProductUseCase(store, saver, nil)

	p, err := create.Execute(ctx, CreateProductInput{Name: "gift10", Price: 500})
	require.ErrorIs(t, err, application.ErrNotPersisted)
	assert.ErrorIs(t, err, saveErr)
	require.NotNil(t, p, "the product was created in memory")
	assert.Equal(t, "gift10", p.Name)

	// A retry sees the product the caller was told about.
	_, err = create.Execute(ctx, CreateProductInput{Name: "gift10", Price: 500})
	assert.ErrorIs(t, err, domcatalog.ErrDuplicateProduct)
	assert.NotErrorIs(t, err, application.ErrNotPersisted)

	saver.err = nil
	_, err = NewRemoveProductUseCase(store, saver, nil).Execute(ctx, "gift10")
	require.NoError(t, err)
	assert.Equal(t, 2, saver.calls)
}

func TestRemoveReportsUnsavedRemoval(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.CreateProduct(ctx, domcatalog.Product{Name: "gift10", Price: 500}))

	_, err := NewRemoveProductUseCase(store, &countingSaver{err: errors.New("disk full")}, nil).Execute(ctx, "gift10")
	require.ErrorIs(t, err, application.ErrNotPersisted)

	_, err = store.Get(ctx, "gift10")
	assert.ErrorIs(t, err, domcatalog.ErrNotFound)
}
