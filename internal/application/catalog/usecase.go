package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	domcatalog "github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	"github.com/Zhima-Mochi/keyshop/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	catalogService       = "catalog-service"
	useCaseCreateProduct = "catalog.create_product"
	useCaseRemoveProduct = "catalog.remove_product"
	useCaseListProducts  = "catalog.list_products"
)

type CreateProductInput struct {
	Name        string
	Description string
	Price       int64
}

// CreateProductUseCase registers a product together with an empty key pool.
// When the snapshot save fails the product still exists and Execute returns it
// with an error wrapping application.ErrNotPersisted.
type CreateProductUseCase struct {
	repo      domcatalog.Repository
	saver     application.SnapshotSaver
	in        application.Instruments
	available observability.Gauge
}

// NewCreateProductUseCase saves through saver after every creation; saver may be nil.
func NewCreateProductUseCase(repo domcatalog.Repository, saver application.SnapshotSaver, tel observability.Observability) *CreateProductUseCase {
	in := application.NewInstruments(tel, catalogService)
	return &CreateProductUseCase{
		repo:      repo,
		saver:     saver,
		in:        in,
		available: in.Metrics().Gauge(observability.MKeysAvailable),
	}
}

func (uc *CreateProductUseCase) Execute(ctx context.Context, cmd CreateProductInput) (_ *domcatalog.Product, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseCreateProduct, "CreateProduct",
		[]observability.Field{
			observability.F("product", cmd.Name),
			observability.F("price", cmd.Price),
		},
		attribute.String("product.name", cmd.Name),
		attribute.Int64("product.price", cmd.Price),
	)
	defer func() { run.End(err) }()

	p, err := domcatalog.New(cmd.Name, cmd.Description, cmd.Price)
	if err != nil {
		run.Fail("VALIDATION_FAILED")
		return nil, fmt.Errorf("catalog: create: %w", err)
	}
	if err = uc.repo.CreateProduct(ctx, p); err != nil {
		if errors.Is(err, domcatalog.ErrDuplicateProduct) {
			run.Fail("DUPLICATE_PRODUCT")
		} else {
			run.Fail("CREATE_FAILED")
		}
		return nil, fmt.Errorf("catalog: create: %w", err)
	}
	uc.available.Set(0, observability.L("product", p.Name))

	if uc.saver != nil {
		if err = uc.saver.Save(ctx); err != nil {
			run.Fail("SNAPSHOT_SAVE_FAILED")
			return &p, fmt.Errorf("catalog: save: %w: %w", application.ErrNotPersisted, err)
		}
	}
	return &p, nil
}

// RemoveProductUseCase deletes a product and every unused key it had. A failed
// save is reported with application.ErrNotPersisted; the removal stands.
type RemoveProductUseCase struct {
	repo      domcatalog.Repository
	saver     application.SnapshotSaver
	in        application.Instruments
	available observability.Gauge
}

// NewRemoveProductUseCase saves through saver after every removal; saver may be nil.
func NewRemoveProductUseCase(repo domcatalog.Repository, saver application.SnapshotSaver, tel observability.Observability) *RemoveProductUseCase {
	in := application.NewInstruments(tel, catalogService)
	return &RemoveProductUseCase{
		repo:      repo,
		saver:     saver,
		in:        in,
		available: in.Metrics().Gauge(observability.MKeysAvailable),
	}
}

func (uc *RemoveProductUseCase) Execute(ctx context.Context, name string) (_ struct{}, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseRemoveProduct, "RemoveProduct",
		[]observability.Field{observability.F("product", name)},
		attribute.String("product.name", name),
	)
	defer func() { run.End(err) }()

	if err = uc.repo.RemoveProduct(ctx, name); err != nil {
		if errors.Is(err, domcatalog.ErrNotFound) {
			run.Fail("PRODUCT_NOT_FOUND")
		} else {
			run.Fail("REMOVE_FAILED")
		}
		return struct{}{}, fmt.Errorf("catalog: remove: %w", err)
	}
	uc.available.Set(0, observability.L("product", name))

	if uc.saver != nil {
		if err = uc.saver.Save(ctx); err != nil {
			run.Fail("SNAPSHOT_SAVE_FAILED")
			return struct{}{}, fmt.Errorf("catalog: save: %w: %w", application.ErrNotPersisted, err)
		}
	}
	return struct{}{}, nil
}

// ProductView is a catalog entry with its current availability.
type ProductView struct {
	Name        string
	Description string
	Price       int64
	Available   int
}

// ListProductsUseCase backs the product menu shown to buyers.
type ListProductsUseCase struct {
	repo  domcatalog.Repository
	stock dominv.Repository
	in    application.Instruments
}

// NewListProductsUseCase reads stock from a separate repository.
func NewListProductsUseCase(repo domcatalog.Repository, stock dominv.Repository, tel observability.Observability) *ListProductsUseCase {
	return &ListProductsUseCase{
		repo:  repo,
		stock: stock,
		in:    application.NewInstruments(tel, catalogService),
	}
}

func (uc *ListProductsUseCase) Execute(ctx context.Context, _ struct{}) (_ []ProductView, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseListProducts, "ListProducts", nil)
	defer func() { run.End(err) }()

	products, err := uc.repo.List(ctx)
	if err != nil {
		run.Fail("LIST_FAILED")
		return nil, fmt.Errorf("catalog: list: %w", err)
	}

	out := make([]ProductView, 0, len(products))
	for _, p := range products {
		// A product removed after List reads as zero stock.
		n, stockErr := uc.stock.StockCount(ctx, p.Name)
		if stockErr != nil {
			run.Fail("STOCK_READ_FAILED")
			return nil, fmt.Errorf("catalog: stock count: %w", stockErr)
		}
		out = append(out, ProductView{
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			Available:   n,
		})
	}
	run.Add(observability.F("products", len(out)))
	return out, nil
}
