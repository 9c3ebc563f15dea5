package purchase

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	domcatalog "github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	dompurchase "github.com/Zhima-Mochi/keyshop/internal/domain/purchase"
	domselection "github.com/Zhima-Mochi/keyshop/internal/domain/selection"
	"github.com/Zhima-Mochi/keyshop/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const useCaseIssueInvoice = "purchase.issue_invoice"

type IssueInvoiceInput struct {
	UserID string
	// Product overrides the user's pending selection when set.
	Product  string
	Quantity int
}

// IssueInvoiceUseCase turns a product and quantity into an invoice for the payment provider.
// Stock is read to refuse obviously unfillable orders but nothing is reserved.
type IssueInvoiceUseCase struct {
	catalog   domcatalog.Repository
	stock     dominv.Repository
	selection domselection.Tracker
	ids       InvoiceIDGenerator
	opts      Options
	in        application.Instruments
}

// NewIssueInvoiceUseCase prices invoices in opts.Currency.
func NewIssueInvoiceUseCase(
	catalog domcatalog.Repository,
	stock dominv.Repository,
	selection domselection.Tracker,
	ids InvoiceIDGenerator,
	opts Options,
	tel observability.Observability,
) *IssueInvoiceUseCase {
	return &IssueInvoiceUseCase{
		catalog:   catalog,
		stock:     stock,
		selection: selection,
		ids:       ids,
		opts:      opts,
		in:        application.NewInstruments(tel, purchaseService),
	}
}

func (uc *IssueInvoiceUseCase) Execute(ctx context.Context, cmd IssueInvoiceInput) (_ *dompurchase.Invoice, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseIssueInvoice, "IssueInvoice",
		[]observability.Field{
			observability.F("user_id", cmd.UserID),
			observability.F("quantity", cmd.Quantity),
		},
		attribute.Int("purchase.quantity", cmd.Quantity),
	)
	defer func() { run.End(err) }()

	if cmd.UserID == "" {
		run.Fail("USER_ID_REQUIRED")
		return nil, errors.New("purchase: user id is required")
	}

	productName := cmd.Product
	if productName == "" {
		productName, err = uc.selection.Current(ctx, cmd.UserID)
		if err != nil {
			run.Fail("NO_SELECTION")
			return nil, fmt.Errorf("purchase: invoice: %w", err)
		}
	}
	run.Add(observability.F("product", productName))

	if cmd.Quantity < 1 {
		run.Fail("QUANTITY_INVALID")
		return nil, fmt.Errorf("purchase: invoice: %w", dominv.ErrInvalidQuantity)
	}

	product, err := uc.catalog.Get(ctx, productName)
	if err != nil {
		run.Fail("PRODUCT_LOOKUP_FAILED")
		return nil, fmt.Errorf("purchase: invoice: %w", err)
	}
	if int64(cmd.Quantity) > math.MaxInt64/product.Price {
		run.Fail("TOTAL_OVERFLOW")
		return nil, fmt.Errorf("purchase: invoice: total overflows: %w", dominv.ErrInvalidQuantity)
	}
	total := product.Price * int64(cmd.Quantity)

	available, err := uc.stock.StockCount(ctx, product.Name)
	if err != nil {
		run.Fail("STOCK_READ_FAILED")
		return nil, fmt.Errorf("purchase: stock count: %w", err)
	}
	if available < cmd.Quantity {
		run.Fail("INSUFFICIENT_STOCK")
		return nil, fmt.Errorf("purchase: invoice: %w", &dominv.ShortfallError{
			Product:   product.Name,
			Requested: cmd.Quantity,
			Available: available,
		})
	}

	payload, err := dompurchase.NewPayload(uc.ids.NewID(), product.Name, cmd.Quantity)
	if err != nil {
		run.Fail("PAYLOAD_INVALID")
		return nil, fmt.Errorf("purchase: invoice: %w", err)
	}
	attempt := dompurchase.NewAttempt(cmd.UserID, product.Name)
	if err = attempt.InvoiceIssued(payload); err != nil {
		run.Fail("STATE_TRANSITION_FAILED")
		return nil, fmt.Errorf("purchase: invoice: %w", err)
	}

	// The invoice supersedes the pending choice.
	if clearErr := uc.selection.Clear(ctx, cmd.UserID); clearErr != nil {
		run.Add(observability.F("selection_clear_error", clearErr.Error()))
	}

	run.Add(
		observability.F("invoice_id", payload.InvoiceID),
		observability.F("total", total),
		observability.F("purchase_status", string(attempt.Status)),
	)
	run.Span().AddEvent("purchase.invoice_issued",
		trace.WithAttributes(
			attribute.String("invoice.id", payload.InvoiceID),
			attribute.Int64("invoice.total", total),
		),
	)

	return &dompurchase.Invoice{
		InvoiceID:   payload.InvoiceID,
		Title:       fmt.Sprintf("Purchase %s (%d units)", product.Name, cmd.Quantity),
		Description: product.Description,
		Payload:     payload.Encode(),
		Currency:    uc.opts.currency(),
		Label:       fmt.Sprintf("%s card key x%d", product.Name, cmd.Quantity),
		Total:       total,
	}, nil
}
