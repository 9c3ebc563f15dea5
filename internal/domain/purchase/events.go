package purchase

import "time"

// SettledEvent is emitted when a paid purchase was fulfilled with keys.
type SettledEvent struct {
	UserID     string
	InvoiceID  string
	Product    string
	Quantity   int
	ChargeID   string
	OccurredAt time.Time
}

func (SettledEvent) EventName() string { return "purchase.settled" }

func (e SettledEvent) EventAttributes() map[string]string {
	return map[string]string{"charge_id": e.ChargeID, "product": e.Product, "user_id": e.UserID}
}

func NewSettledEvent(a *Attempt) SettledEvent {
	return SettledEvent{
		UserID:     a.UserID,
		InvoiceID:  a.InvoiceID,
		Product:    a.Product,
		Quantity:   a.Quantity,
		ChargeID:   a.ChargeID,
		OccurredAt: time.Now().UTC(),
	}
}

// ShortfallEvent is emitted when payment was captured but no keys could be issued.
// Support has to refund or restock by hand.
type ShortfallEvent struct {
	UserID     string
	InvoiceID  string
	Product    string
	Quantity   int
	ChargeID   string
	Reason     string
	OccurredAt time.Time
}

func (ShortfallEvent) EventName() string { return "purchase.shortfall" }

func (e ShortfallEvent) EventAttributes() map[string]string {
	return map[string]string{"charge_id": e.ChargeID, "product": e.Product, "user_id": e.UserID, "reason": e.Reason}
}

func NewShortfallEvent(a *Attempt, reason string) ShortfallEvent {
	return ShortfallEvent{
		UserID:     a.UserID,
		InvoiceID:  a.InvoiceID,
		Product:    a.Product,
		Quantity:   a.Quantity,
		ChargeID:   a.ChargeID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

const (
	ShortfallReasonInsufficientStock = "insufficient_stock"
	ShortfallReasonUnknownProduct    = "unknown_product"
	ShortfallReasonMalformedPayload  = "malformed_payload"
)
