package purchase

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	dominv "github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	dompurchase "github.com/Zhima-Mochi/keyshop/internal/domain/purchase"
	"github.com/Zhima-Mochi/keyshop/internal/observability"
)

const (
	useCasePreCheckout = "purchase.pre_checkout"

	reasonMalformedPayload = "Sorry, this invoice is no longer valid."
)

// ValidatePreCheckoutUseCase answers the provider's pre-checkout query.
// The stock check is advisory; settlement re-checks under the inventory lock.
type ValidatePreCheckoutUseCase struct {
	stock dominv.Repository
	in    application.Instruments
}

// NewValidatePreCheckoutUseCase only reads stock.
func NewValidatePreCheckoutUseCase(stock dominv.Repository, tel observability.Observability) *ValidatePreCheckoutUseCase {
	return &ValidatePreCheckoutUseCase{
		stock: stock,
		in:    application.NewInstruments(tel, purchaseService),
	}
}

// Execute never fails a checkout with an error; rejections come back as a decision.
func (uc *ValidatePreCheckoutUseCase) Execute(ctx context.Context, rawPayload string) (_ *dompurchase.PreCheckoutDecision, err error) {
	ctx, run := uc.in.Begin(ctx, useCasePreCheckout, "ValidatePreCheckout", nil)
	defer func() { run.End(err) }()

	payload, decodeErr := dompurchase.DecodePayload(rawPayload)
	if decodeErr != nil {
		run.Status("REJECTED_MALFORMED_PAYLOAD")
		return &dompurchase.PreCheckoutDecision{OK: false, Reason: reasonMalformedPayload}, nil
	}
	run.Add(
		observability.F("invoice_id", payload.InvoiceID),
		observability.F("product", payload.Product),
		observability.F("quantity", payload.Quantity),
	)

	available, stockErr := uc.stock.StockCount(ctx, payload.Product)
	if stockErr != nil {
		run.Status("REJECTED_STOCK_UNREADABLE")
		run.Add(observability.F("stock_error", stockErr.Error()))
		return &dompurchase.PreCheckoutDecision{OK: false, Reason: insufficientStockReason(payload.Product)}, nil
	}
	run.Add(observability.F("available", available))
	if available < payload.Quantity {
		run.Status("REJECTED_INSUFFICIENT_STOCK")
		return &dompurchase.PreCheckoutDecision{OK: false, Reason: insufficientStockReason(payload.Product)}, nil
	}

	attempt := dompurchase.ResumeAttempt("", payload)
	if err = attempt.PreCheckoutApproved(); err != nil {
		run.Fail("STATE_TRANSITION_FAILED")
		return nil, err
	}
	run.Status("APPROVED")
	return &dompurchase.PreCheckoutDecision{OK: true}, nil
}

func insufficientStockReason(product string) string {
	return fmt.Sprintf("Sorry, insufficient stock for %s.", product)
}
