package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	domhistory "github.com/Zhima-Mochi/keyshop/internal/domain/history"
	dominv "github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/keyshop/internal/domain/outbox"
	dompurchase "github.com/Zhima-Mochi/keyshop/internal/domain/purchase"
	"github.com/Zhima-Mochi/keyshop/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const useCaseSettle = "purchase.settle"

type SettleInput struct {
	UserID   string
	Payload  string
	ChargeID string
}

// SettleUseCase fulfils a captured payment. Money has already moved, so stock
// problems end in an out-of-stock outcome rather than an error.
type SettleUseCase struct {
	stock     dominv.Repository
	history   domhistory.Log
	saver     application.SnapshotSaver
	publisher domoutbox.Publisher
	in        application.Instruments

	issued     observability.Counter
	shortfalls observability.Counter
	available  observability.Gauge
}

// NewSettleUseCase wires the settlement path. saver and publisher may be nil.
func NewSettleUseCase(
	stock dominv.Repository,
	history domhistory.Log,
	saver application.SnapshotSaver,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *SettleUseCase {
	in := application.NewInstruments(tel, purchaseService)
	return &SettleUseCase{
		stock:      stock,
		history:    history,
		saver:      saver,
		publisher:  publisher,
		in:         in,
		issued:     in.Metrics().Counter(observability.MKeysIssued),
		shortfalls: in.Metrics().Counter(observability.MSettlementShortfalls),
		available:  in.Metrics().Gauge(observability.MKeysAvailable),
	}
}

// Execute returns a non-nil outcome whenever the charge was recorded. A save
// failure comes back together with the outcome so issued keys still reach the buyer.
func (uc *SettleUseCase) Execute(ctx context.Context, cmd SettleInput) (_ *dompurchase.Outcome, err error) {
	ctx = context.WithoutCancel(ctx)
	ctx, run := uc.in.Begin(ctx, useCaseSettle, "Settle",
		[]observability.Field{
			observability.F("user_id", cmd.UserID),
			observability.F("charge_id", cmd.ChargeID),
		},
		attribute.String("payment.charge_id", cmd.ChargeID),
	)
	defer func() { run.End(err) }()

	if err = uc.history.Append(ctx, cmd.UserID, cmd.ChargeID); err != nil {
		run.Fail("HISTORY_APPEND_FAILED")
		return nil, fmt.Errorf("purchase: settle: history: %w", err)
	}

	payload, decodeErr := dompurchase.DecodePayload(cmd.Payload)
	if decodeErr != nil {
		run.Add(observability.F("decode_error", decodeErr.Error()))
		attempt := &dompurchase.Attempt{UserID: cmd.UserID}
		return uc.shortfall(ctx, run, attempt, cmd.ChargeID, dompurchase.ShortfallReasonMalformedPayload)
	}
	run.Add(
		observability.F("invoice_id", payload.InvoiceID),
		observability.F("product", payload.Product),
		observability.F("quantity", payload.Quantity),
	)
	run.Span().SetAttributes(
		attribute.String("product.name", payload.Product),
		attribute.Int("purchase.quantity", payload.Quantity),
	)

	attempt := dompurchase.ResumeAttempt(cmd.UserID, payload)
	keys, reserveErr := uc.stock.ReserveAndIssue(ctx, payload.Product, payload.Quantity)
	switch {
	case reserveErr == nil:
	case errors.Is(reserveErr, dominv.ErrNotFound):
		run.Add(observability.F("reserve_error", reserveErr.Error()))
		return uc.shortfall(ctx, run, attempt, cmd.ChargeID, dompurchase.ShortfallReasonUnknownProduct)
	case errors.Is(reserveErr, dominv.ErrInsufficientStock):
		run.Add(observability.F("reserve_error", reserveErr.Error()))
		return uc.shortfall(ctx, run, attempt, cmd.ChargeID, dompurchase.ShortfallReasonInsufficientStock)
	default:
		// Only a decoded payload reaches here, so quantity is already valid.
		run.Fail("RESERVE_FAILED")
		return nil, fmt.Errorf("purchase: settle: reserve: %w", reserveErr)
	}

	if err = attempt.Settled(cmd.ChargeID); err != nil {
		run.Fail("STATE_TRANSITION_FAILED")
		return nil, fmt.Errorf("purchase: settle: %w", err)
	}
	uc.issued.Add(float64(len(keys)), observability.L("product", payload.Product))
	uc.refreshGauge(ctx, payload.Product)
	run.Span().AddEvent("purchase.keys_issued", trace.WithAttributes(attribute.Int("keys.count", len(keys))))

	outcome := &dompurchase.Outcome{
		Status:   attempt.Status,
		Product:  attempt.Product,
		Quantity: attempt.Quantity,
		ChargeID: attempt.ChargeID,
		Keys:     keys,
	}
	run.Add(observability.F("purchase_status", string(outcome.Status)))

	if err = uc.save(ctx, run); err != nil {
		return outcome, err
	}
	if pubErr := uc.in.Publish(ctx, uc.publisher, dompurchase.NewSettledEvent(attempt)); pubErr != nil {
		run.Add(observability.F("event_publish_error", pubErr.Error()))
	}
	return outcome, nil
}

func (uc *SettleUseCase) shortfall(ctx context.Context, run *application.Execution, attempt *dompurchase.Attempt, chargeID, reason string) (*dompurchase.Outcome, error) {
	if attempt.Status == "" {
		// Undecodable payloads never had an invoice we can resume.
		attempt.ChargeID = chargeID
		attempt.Status = dompurchase.StatusSettledOutOfStock
	} else if err := attempt.SettledOutOfStock(chargeID); err != nil {
		run.Fail("STATE_TRANSITION_FAILED")
		return nil, fmt.Errorf("purchase: settle: %w", err)
	}
	uc.shortfalls.Add(1, observability.L("reason", reason))
	run.Status("SETTLED_OUT_OF_STOCK")
	run.Add(
		observability.F("shortfall_reason", reason),
		observability.F("purchase_status", string(attempt.Status)),
	)
	run.Logger().Warn("settlement_shortfall",
		observability.F("charge_id", attempt.ChargeID),
		observability.F("product", attempt.Product),
		observability.F("reason", reason),
	)

	outcome := &dompurchase.Outcome{
		Status:   attempt.Status,
		Product:  attempt.Product,
		Quantity: attempt.Quantity,
		ChargeID: attempt.ChargeID,
	}
	if err := uc.save(ctx, run); err != nil {
		return outcome, err
	}
	if pubErr := uc.in.Publish(ctx, uc.publisher, dompurchase.NewShortfallEvent(attempt, reason)); pubErr != nil {
		run.Add(observability.F("event_publish_error", pubErr.Error()))
	}
	return outcome, nil
}

func (uc *SettleUseCase) save(ctx context.Context, run *application.Execution) error {
	if uc.saver == nil {
		return nil
	}
	if err := uc.saver.Save(ctx); err != nil {
		run.Fail("SNAPSHOT_SAVE_FAILED")
		return fmt.Errorf("purchase: settle: save: %w: %w", application.ErrNotPersisted, err)
	}
	return nil
}

func (uc *SettleUseCase) refreshGauge(ctx context.Context, product string) {
	if n, err := uc.stock.StockCount(ctx, product); err == nil {
		uc.available.Set(float64(n), observability.L("product", product))
	}
}
