// Package notify turns domain events into messages for the shop administrators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	dominv "github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/keyshop/internal/domain/outbox"
	dompurchase "github.com/Zhima-Mochi/keyshop/internal/domain/purchase"
	"github.com/Zhima-Mochi/keyshop/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	notifyService  = "notify-service"
	useCaseNotify  = "notify.admins"
	notifierPeer   = "notifier"
	notifyTimeout  = 5 * time.Second
	unknownProduct = "unknown"
)

const (
	KindSettled   = "settled"
	KindShortfall = "shortfall"
	KindRestocked = "restocked"
)

// Notice is one message for every listening administrator.
type Notice struct {
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	UserID     string    `json:"user_id,omitempty"`
	Product    string    `json:"product,omitempty"`
	ChargeID   string    `json:"charge_id,omitempty"`
	InvoiceID  string    `json:"invoice_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers notices to administrators.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

var ErrUnsupportedEvent = errors.New("notify: unsupported event")

// Events lists the event names NotifyAdminsUseCase understands.
func Events() []string {
	return []string{
		dompurchase.SettledEvent{}.EventName(),
		dompurchase.ShortfallEvent{}.EventName(),
		dominv.KeysAppendedEvent{}.EventName(),
	}
}

// NotifyAdminsUseCase formats an event and hands it to the notifier.
type NotifyAdminsUseCase struct {
	notifier Notifier
	in       application.Instruments

	extCounter  observability.Counter
	extDuration observability.Histogram
}

// NewNotifyAdminsUseCase delivers through notifier with a bounded timeout.
func NewNotifyAdminsUseCase(notifier Notifier, tel observability.Observability) *NotifyAdminsUseCase {
	in := application.NewInstruments(tel, notifyService)
	return &NotifyAdminsUseCase{
		notifier:    notifier,
		in:          in,
		extCounter:  in.Metrics().Counter(observability.MExternalRequests),
		extDuration: in.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

func (uc *NotifyAdminsUseCase) Execute(ctx context.Context, e domoutbox.Event) (_ struct{}, err error) {
	name := ""
	if e != nil {
		name = e.EventName()
	}
	ctx, run := uc.in.Begin(ctx, useCaseNotify, "NotifyAdmins",
		[]observability.Field{observability.F("event", name)},
		attribute.String("event", name),
	)
	defer func() { run.End(err) }()

	n, err := Format(e)
	if err != nil {
		run.Fail("UNSUPPORTED_EVENT")
		return struct{}{}, err
	}
	run.Add(observability.F("kind", n.Kind))

	callCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	start := time.Now()
	err = uc.notifier.Notify(callCtx, n)
	cancel()

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	uc.extCounter.Add(1,
		observability.L("peer", notifierPeer),
		observability.L("endpoint", n.Kind),
		observability.L("outcome", outcome),
	)
	uc.extDuration.Observe(time.Since(start).Seconds(),
		observability.L("peer", notifierPeer),
		observability.L("endpoint", n.Kind),
	)
	if err != nil {
		run.Fail("NOTIFY_FAILED")
		return struct{}{}, fmt.Errorf("notify: deliver: %w", err)
	}
	return struct{}{}, nil
}

// Format renders the administrator message for an event.
func Format(e domoutbox.Event) (Notice, error) {
	switch evt := e.(type) {
	case dompurchase.SettledEvent:
		return Notice{
			Kind:       KindSettled,
			Text:       fmt.Sprintf("Successful payment for '%s' by user %s. Charge ID: %s", evt.Product, evt.UserID, evt.ChargeID),
			UserID:     evt.UserID,
			Product:    evt.Product,
			ChargeID:   evt.ChargeID,
			InvoiceID:  evt.InvoiceID,
			OccurredAt: evt.OccurredAt,
		}, nil
	case dompurchase.ShortfallEvent:
		product := evt.Product
		if product == "" {
			product = unknownProduct
		}
		return Notice{
			Kind:       KindShortfall,
			Text:       fmt.Sprintf("Out-Of-Stock payment for '%s' by user %s. Charge ID: %s (%s)", product, evt.UserID, evt.ChargeID, evt.Reason),
			UserID:     evt.UserID,
			Product:    evt.Product,
			ChargeID:   evt.ChargeID,
			InvoiceID:  evt.InvoiceID,
			OccurredAt: evt.OccurredAt,
		}, nil
	case dominv.KeysAppendedEvent:
		return Notice{
			Kind:       KindRestocked,
			Text:       fmt.Sprintf("Added %d keys to '%s'. %d available.", evt.Added, evt.Product, evt.Available),
			Product:    evt.Product,
			OccurredAt: evt.OccurredAt,
		}, nil
	default:
		return Notice{}, ErrUnsupportedEvent
	}
}
