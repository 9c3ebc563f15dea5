package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	domcatalog "github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	domselection "github.com/Zhima-Mochi/keyshop/internal/domain/selection"
	"github.com/Zhima-Mochi/keyshop/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseSelectProduct = "purchase.select_product"

type SelectProductInput struct {
	UserID  string
	Product string
}

type SelectProductResult struct {
	Product   domcatalog.Product
	Available int
}

// SelectProductUseCase records which product a user wants before asking for a quantity.
type SelectProductUseCase struct {
	catalog   domcatalog.Repository
	stock     dominv.Repository
	selection domselection.Tracker
	in        application.Instruments
}

// NewSelectProductUseCase records choices in tracker.
func NewSelectProductUseCase(
	catalog domcatalog.Repository,
	stock dominv.Repository,
	selection domselection.Tracker,
	tel observability.Observability,
) *SelectProductUseCase {
	return &SelectProductUseCase{
		catalog:   catalog,
		stock:     stock,
		selection: selection,
		in:        application.NewInstruments(tel, purchaseService),
	}
}

func (uc *SelectProductUseCase) Execute(ctx context.Context, cmd SelectProductInput) (_ *SelectProductResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseSelectProduct, "SelectProduct",
		[]observability.Field{
			observability.F("user_id", cmd.UserID),
			observability.F("product", cmd.Product),
		},
		attribute.String("product.name", cmd.Product),
	)
	defer func() { run.End(err) }()

	if cmd.UserID == "" {
		run.Fail("USER_ID_REQUIRED")
		return nil, errors.New("purchase: user id is required")
	}

	p, err := uc.catalog.Get(ctx, cmd.Product)
	if err != nil {
		run.Fail("PRODUCT_LOOKUP_FAILED")
		return nil, fmt.Errorf("purchase: select: %w", err)
	}
	available, err := uc.stock.StockCount(ctx, p.Name)
	if err != nil {
		run.Fail("STOCK_READ_FAILED")
		return nil, fmt.Errorf("purchase: stock count: %w", err)
	}
	if err = uc.selection.Select(ctx, cmd.UserID, p.Name); err != nil {
		run.Fail("SELECTION_FAILED")
		return nil, fmt.Errorf("purchase: select: %w", err)
	}

	run.Add(observability.F("available", available))
	return &SelectProductResult{Product: p, Available: available}, nil
}
