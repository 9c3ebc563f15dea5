package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	dominv "github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/keyshop/internal/domain/outbox"
	"github.com/Zhima-Mochi/keyshop/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	inventoryService    = "inventory-service"
	useCaseAppendKeys   = "inventory.append_keys"
	useCaseStockReport  = "inventory.report"
	statusSaveFailed    = "SNAPSHOT_SAVE_FAILED"
	statusProductAbsent = "PRODUCT_NOT_FOUND"
)

type AppendKeysInput struct {
	Product string
	Keys    []string
}

type AppendKeysResult struct {
	Added     int
	Available int
}

// AppendKeysUseCase restocks a product's key pool.
type AppendKeysUseCase struct {
	repo      dominv.Repository
	saver     application.SnapshotSaver
	publisher domoutbox.Publisher
	in        application.Instruments
	available observability.Gauge
}

// NewAppendKeysUseCase announces restocks on publisher; saver and publisher may be nil.
func NewAppendKeysUseCase(repo dominv.Repository, saver application.SnapshotSaver, publisher domoutbox.Publisher, tel observability.Observability) *AppendKeysUseCase {
	in := application.NewInstruments(tel, inventoryService)
	return &AppendKeysUseCase{
		repo:      repo,
		saver:     saver,
		publisher: publisher,
		in:        in,
		available: in.Metrics().Gauge(observability.MKeysAvailable),
	}
}

// Execute appends the non-blank keys in order. Duplicates are kept as given.
func (uc *AppendKeysUseCase) Execute(ctx context.Context, cmd AppendKeysInput) (_ *AppendKeysResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseAppendKeys, "AppendKeys",
		[]observability.Field{observability.F("product", cmd.Product)},
		attribute.String("product.name", cmd.Product),
	)
	defer func() { run.End(err) }()

	keys := make([]string, 0, len(cmd.Keys))
	for _, k := range cmd.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		run.Fail("NO_KEYS")
		return nil, fmt.Errorf("inventory: append: %w", ErrNoKeys)
	}

	if err = uc.repo.AppendKeys(ctx, cmd.Product, keys); err != nil {
		if errors.Is(err, dominv.ErrNotFound) {
			run.Fail(statusProductAbsent)
		} else {
			run.Fail("APPEND_FAILED")
		}
		return nil, fmt.Errorf("inventory: append: %w", err)
	}

	available, err := uc.repo.StockCount(ctx, cmd.Product)
	if err != nil {
		run.Fail("STOCK_READ_FAILED")
		return nil, fmt.Errorf("inventory: stock count: %w", err)
	}
	uc.available.Set(float64(available), observability.L("product", cmd.Product))
	run.Add(
		observability.F("added", len(keys)),
		observability.F("available", available),
	)

	if pubErr := uc.in.Publish(ctx, uc.publisher, dominv.NewKeysAppendedEvent(cmd.Product, len(keys), available)); pubErr != nil {
		run.Add(observability.F("event_publish_error", pubErr.Error()))
	}

	res := &AppendKeysResult{Added: len(keys), Available: available}
	if uc.saver != nil {
		if err = uc.saver.Save(ctx); err != nil {
			// The keys are already sellable.
			run.Fail(statusSaveFailed)
			return res, fmt.Errorf("inventory: save: %w: %w", application.ErrNotPersisted, err)
		}
	}
	return res, nil
}

// ParseKeyLines splits an admin message body into keys, one per line.
func ParseKeyLines(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	keys := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			keys = append(keys, line)
		}
	}
	return keys
}

var ErrNoKeys = errors.New("inventory: no keys supplied")

// StockReportUseCase lists how many keys each product has left.
type StockReportUseCase struct {
	repo      dominv.Repository
	in        application.Instruments
	available observability.Gauge
}

// NewStockReportUseCase also refreshes the keys-available gauge on each report.
func NewStockReportUseCase(repo dominv.Repository, tel observability.Observability) *StockReportUseCase {
	in := application.NewInstruments(tel, inventoryService)
	return &StockReportUseCase{
		repo:      repo,
		in:        in,
		available: in.Metrics().Gauge(observability.MKeysAvailable),
	}
}

func (uc *StockReportUseCase) Execute(ctx context.Context, _ struct{}) (_ []dominv.StockLevel, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseStockReport, "StockReport", nil)
	defer func() { run.End(err) }()

	levels, err := uc.repo.Levels(ctx)
	if err != nil {
		run.Fail("LEVELS_FAILED")
		return nil, fmt.Errorf("inventory: levels: %w", err)
	}
	for _, l := range levels {
		uc.available.Set(float64(l.Available), observability.L("product", l.Product))
	}
	run.Add(observability.F("products", len(levels)))
	return levels, nil
}
