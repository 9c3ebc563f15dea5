package support

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	domhistory "github.com/Zhima-Mochi/keyshop/internal/domain/history"
	"github.com/Zhima-Mochi/keyshop/internal/observability"
)

const (
	supportService         = "support-service"
	useCasePurchaseHistory = "support.purchase_history"
)

type PurchaseHistory struct {
	UserID    string
	ChargeIDs []string
	Contact   string
}

// PurchaseHistoryUseCase answers a buyer's payment support request with the
// charges on record and where to ask for a refund.
type PurchaseHistoryUseCase struct {
	history domhistory.Log
	contact string
	in      application.Instruments
}

// NewPurchaseHistoryUseCase returns contact with every lookup; it may be empty.
func NewPurchaseHistoryUseCase(history domhistory.Log, contact string, tel observability.Observability) *PurchaseHistoryUseCase {
	return &PurchaseHistoryUseCase{
		history: history,
		contact: contact,
		in:      application.NewInstruments(tel, supportService),
	}
}

func (uc *PurchaseHistoryUseCase) Execute(ctx context.Context, userID string) (_ *PurchaseHistory, err error) {
	ctx, run := uc.in.Begin(ctx, useCasePurchaseHistory, "PurchaseHistory",
		[]observability.Field{observability.F("user_id", userID)},
	)
	defer func() { run.End(err) }()

	if userID == "" {
		run.Fail("USER_ID_REQUIRED")
		return nil, errors.New("support: user id is required")
	}
	charges, err := uc.history.ListFor(ctx, userID)
	if err != nil {
		run.Fail("HISTORY_READ_FAILED")
		return nil, fmt.Errorf("support: history: %w", err)
	}
	run.Add(observability.F("charges", len(charges)))
	return &PurchaseHistory{UserID: userID, ChargeIDs: charges, Contact: uc.contact}, nil
}
