package purchase

// AttemptState implements the state pattern for purchase attempt transitions.
type AttemptState interface {
	Status() Status
	OnInvoiceIssued(a *Attempt, p Payload) (AttemptState, error)
	OnPreCheckoutApproved(a *Attempt) (AttemptState, error)
	OnSettled(a *Attempt, chargeID string) (AttemptState, error)
	OnSettledOutOfStock(a *Attempt, chargeID string) (AttemptState, error)
}

type selectingState struct{}

func (selectingState) Status() Status { return StatusSelecting }

func (selectingState) OnInvoiceIssued(a *Attempt, p Payload) (AttemptState, error) {
	if p.Product != a.Product {
		return nil, ErrInvalidStateTransition
	}
	a.InvoiceID = p.InvoiceID
	a.Quantity = p.Quantity
	return invoiceIssuedState{}, nil
}

func (selectingState) OnPreCheckoutApproved(*Attempt) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (selectingState) OnSettled(*Attempt, string) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (selectingState) OnSettledOutOfStock(*Attempt, string) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

type invoiceIssuedState struct{}

func (invoiceIssuedState) Status() Status { return StatusInvoiceIssued }

func (invoiceIssuedState) OnInvoiceIssued(*Attempt, Payload) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (invoiceIssuedState) OnPreCheckoutApproved(*Attempt) (AttemptState, error) {
	return preCheckoutValidatedState{}, nil
}

// The provider's pre-checkout answer is not observed by settlement, so an
// issued invoice may settle directly.
func (invoiceIssuedState) OnSettled(a *Attempt, chargeID string) (AttemptState, error) {
	a.ChargeID = chargeID
	return settledState{}, nil
}

func (invoiceIssuedState) OnSettledOutOfStock(a *Attempt, chargeID string) (AttemptState, error) {
	a.ChargeID = chargeID
	return settledOutOfStockState{}, nil
}

type preCheckoutValidatedState struct{}

func (preCheckoutValidatedState) Status() Status { return StatusPreCheckoutValidated }

func (preCheckoutValidatedState) OnInvoiceIssued(*Attempt, Payload) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (preCheckoutValidatedState) OnPreCheckoutApproved(*Attempt) (AttemptState, error) {
	return preCheckoutValidatedState{}, nil
}

func (preCheckoutValidatedState) OnSettled(a *Attempt, chargeID string) (AttemptState, error) {
	a.ChargeID = chargeID
	return settledState{}, nil
}

func (preCheckoutValidatedState) OnSettledOutOfStock(a *Attempt, chargeID string) (AttemptState, error) {
	a.ChargeID = chargeID
	return settledOutOfStockState{}, nil
}

type settledState struct{}

func (settledState) Status() Status { return StatusSettled }

func (settledState) OnInvoiceIssued(*Attempt, Payload) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (settledState) OnPreCheckoutApproved(*Attempt) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (settledState) OnSettled(a *Attempt, chargeID string) (AttemptState, error) {
	if chargeID != a.ChargeID {
		return nil, ErrInvalidStateTransition
	}
	return settledState{}, nil
}

func (settledState) OnSettledOutOfStock(*Attempt, string) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

type settledOutOfStockState struct{}

func (settledOutOfStockState) Status() Status { return StatusSettledOutOfStock }

func (settledOutOfStockState) OnInvoiceIssued(*Attempt, Payload) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (settledOutOfStockState) OnPreCheckoutApproved(*Attempt) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (settledOutOfStockState) OnSettled(*Attempt, string) (AttemptState, error) {
	return nil, ErrInvalidStateTransition
}

func (settledOutOfStockState) OnSettledOutOfStock(a *Attempt, chargeID string) (AttemptState, error) {
	if chargeID != a.ChargeID {
		return nil, ErrInvalidStateTransition
	}
	return settledOutOfStockState{}, nil
}
