package purchase

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidStateTransition = errors.New("purchase: invalid state transition")

type Status string

const (
	StatusSelecting            Status = "selecting"
	StatusInvoiceIssued        Status = "invoice_issued"
	StatusPreCheckoutValidated Status = "pre_checkout_validated"
	StatusSettled              Status = "settled"
	StatusSettledOutOfStock    Status = "settled_out_of_stock"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusSettledOutOfStock
}

// NewPayload validates the parts of a payload before it is handed to the provider.
func NewPayload(invoiceID, product string, quantity int) (Payload, error) {
	if invoiceID == "" || strings.Contains(invoiceID, ":") {
		return Payload{}, ErrMalformedPayload
	}
	if product == "" || quantity < 1 {
		return Payload{}, ErrMalformedPayload
	}
	return Payload{InvoiceID: invoiceID, Product: product, Quantity: quantity}, nil
}

// Attempt tracks one user's way through the payment lifecycle.
// Abandoned attempts never reach a terminal status and need no cleanup.
type Attempt struct {
	UserID    string
	InvoiceID string
	Product   string
	Quantity  int
	ChargeID  string
	Status    Status
	UpdatedAt time.Time

	state AttemptState
}

// NewAttempt starts an attempt for a product the user just picked.
func NewAttempt(userID, product string) *Attempt {
	a := &Attempt{
		UserID:  userID,
		Product: product,
	}
	a.setState(selectingState{})
	return a
}

// ResumeAttempt rebuilds an attempt from a payload that came back from the provider.
// Holding a payload means an invoice was issued for it.
func ResumeAttempt(userID string, p Payload) *Attempt {
	a := &Attempt{
		UserID:    userID,
		InvoiceID: p.InvoiceID,
		Product:   p.Product,
		Quantity:  p.Quantity,
	}
	a.setState(invoiceIssuedState{})
	return a
}

func (a *Attempt) InvoiceIssued(p Payload) error {
	return a.apply(func(s AttemptState) (AttemptState, error) { return s.OnInvoiceIssued(a, p) })
}

func (a *Attempt) PreCheckoutApproved() error {
	return a.apply(func(s AttemptState) (AttemptState, error) { return s.OnPreCheckoutApproved(a) })
}

func (a *Attempt) Settled(chargeID string) error {
	return a.apply(func(s AttemptState) (AttemptState, error) { return s.OnSettled(a, chargeID) })
}

func (a *Attempt) SettledOutOfStock(chargeID string) error {
	return a.apply(func(s AttemptState) (AttemptState, error) { return s.OnSettledOutOfStock(a, chargeID) })
}

func (a *Attempt) apply(transition func(AttemptState) (AttemptState, error)) error {
	if a.state == nil {
		a.setState(selectingState{})
	}
	next, err := transition(a.state)
	if err != nil {
		return err
	}
	a.setState(next)
	return nil
}

func (a *Attempt) setState(s AttemptState) {
	a.state = s
	a.Status = s.Status()
	a.UpdatedAt = time.Now().UTC()
}

// Invoice is what the payment provider renders to the user.
type Invoice struct {
	InvoiceID   string
	Title       string
	Description string
	Payload     string
	Currency    string
	Label       string
	Total       int64
}

// PreCheckoutDecision answers the provider's pre-checkout query.
type PreCheckoutDecision struct {
	OK     bool
	Reason string
}

// Outcome is the terminal result of a settlement.
type Outcome struct {
	Status   Status
	Product  string
	Quantity int
	ChargeID string
	Keys     []string
}
