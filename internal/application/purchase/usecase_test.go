package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	domcatalog "github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/keyshop/internal/domain/outbox"
	dompurchase "github.com/Zhima-Mochi/keyshop/internal/domain/purchase"
	domselection "github.com/Zhima-Mochi/keyshop/internal/domain/selection"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() string { return fmt.Sprintf("inv%03d", g.n.Add(1)) }

type countingSaver struct {
	calls atomic.Int64
	err   error
}

func (s *countingSaver) Save(context.Context) error {
	s.calls.Add(1)
	return s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type fixture struct {
	store     *memory.Store
	selection *memory.SelectionTracker
	history   *memory.HistoryLog
	saver     *countingSaver
	events    *recordingPublisher

	selectUC  *SelectProductUseCase
	invoiceUC *IssueInvoiceUseCase
	checkUC   *ValidatePreCheckoutUseCase
	settleUC  *SettleUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewStore(),
		selection: memory.NewSelectionTracker(),
		history:   memory.NewHistoryLog(),
		saver:     &countingSaver{},
		events:    &recordingPublisher{},
	}
	f.selectUC = NewSelectProductUseCase(f.store, f.store, f.selection, nil)
	f.invoiceUC = NewIssueInvoiceUseCase(f.store, f.store, f.selection, &seqIDs{}, Options{}, nil)
	f.checkUC = NewValidatePreCheckoutUseCase(f.store, nil)
	f.settleUC = NewSettleUseCase(f.store, f.history, f.saver, f.events, nil)
	return f
}

func (f *fixture) stock(t *testing.T, name string, price int64, keys ...string) {
	t.Helper()
	ctx := context.Background()
	p, err := domcatalog.New(name, name+" description", price)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateProduct(ctx, p))
	if len(keys) > 0 {
		require.NoError(t, f.store.AppendKeys(ctx, name, keys))
	}
}

func (f *fixture) invoice(t *testing.T, user, product string, qty int) *dompurchase.Invoice {
	t.Helper()
	ctx := context.Background()
	_, err := f.selectUC.Execute(ctx, SelectProductInput{UserID: user, Product: product})
	require.NoError(t, err)
	inv, err := f.invoiceUC.Execute(ctx, IssueInvoiceInput{UserID: user, Quantity: qty})
	require.NoError(t, err)
	return inv
}

func TestFullPurchaseIssuesKeysInOrder(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "gift10", 500, "A", "B", "C")
	ctx := context.Background()

	inv := f.invoice(t, "u1", "gift10", 2)
	assert.Equal(t, int64(1000), inv.Total)
	assert.Equal(t, "XTR", inv.Currency)
	assert.Equal(t, "Purchase gift10 (2 units)", inv.Title)
	assert.Equal(t, "gift10 card key x2", inv.Label)

	_, err := f.selection.Current(ctx, "u1")
	assert.ErrorIs(t, err, domselection.ErrNoSelection, "invoice clears the selection")

	decision, err := f.checkUC.Execute(ctx, inv.Payload)
	require.NoError(t, err)
	assert.True(t, decision.OK)

	out, err := f.settleUC.Execute(ctx, SettleInput{UserID: "u1", Payload: inv.Payload, ChargeID: "ch_1"})
	require.NoError(t, err)
	assert.Equal(t, dompurchase.StatusSettled, out.Status)
	assert.Equal(t, []string{"A", "B"}, out.Keys)
	assert.Equal(t, "ch_1", out.ChargeID)

	n, err := f.store.StockCount(ctx, "gift10")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	charges, err := f.history.ListFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch_1"}, charges)
	assert.Equal(t, int64(1), f.saver.calls.Load())
	assert.Equal(t, []string{"purchase.settled"}, f.events.names())
}

func TestIssueInvoiceRejectsQuantityAboveStock(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "gift10", 500, "A", "B", "C")
	ctx := context.Background()

	_, err := f.selectUC.Execute(ctx, SelectProductInput{UserID: "u1", Product: "gift10"})
	require.NoError(t, err)

	_, err = f.invoiceUC.Execute(ctx, IssueInvoiceInput{UserID: "u1", Quantity: 5})
	require.ErrorIs(t, err, dominv.ErrInsufficientStock)

	var shortfall *dominv.ShortfallError
	require.True(t, errors.As(err, &shortfall))
	assert.Equal(t, 3, shortfall.Available)

	current, err := f.selection.Current(ctx, "u1")
	require.NoError(t, err, "a rejected invoice keeps the selection")
	assert.Equal(t, "gift10", current)
}

func TestIssueInvoiceValidation(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "gift10", 500, "A")
	ctx := context.Background()

	_, err := f.invoiceUC.Execute(ctx, IssueInvoiceInput{UserID: "u1", Quantity: 1})
	assert.ErrorIs(t, err, domselection.ErrNoSelection)

	_, err = f.invoiceUC.Execute(ctx, IssueInvoiceInput{UserID: "u1", Product: "gift10", Quantity: 0})
	assert.ErrorIs(t, err, dominv.ErrInvalidQuantity)

	_, err = f.invoiceUC.Execute(ctx, IssueInvoiceInput{UserID: "u1", Product: "nope", Quantity: 1})
	assert.ErrorIs(t, err, domcatalog.ErrNotFound)

	f.stock(t, "whale", 1<<62, "K1", "K2", "K3", "K4")
	_, err = f.invoiceUC.Execute(ctx, IssueInvoiceInput{UserID: "u1", Product: "whale", Quantity: 4})
	assert.ErrorIs(t, err, dominv.ErrInvalidQuantity, "total overflow")
}

func TestIssueInvoiceUsesConfiguredCurrency(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "gift10", 500, "A")
	uc := NewIssueInvoiceUseCase(f.store, f.store, f.selection, &seqIDs{}, Options{Currency: "USD"}, nil)

	inv, err := uc.Execute(context.Background(), IssueInvoiceInput{UserID: "u1", Product: "gift10", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "USD", inv.Currency)

	p, err := dompurchase.DecodePayload(inv.Payload)
	require.NoError(t, err)
	assert.Equal(t, "inv001", p.InvoiceID)
	assert.Equal(t, "gift10", p.Product)
	assert.Equal(t, 1, p.Quantity)
}

func TestSelectUnknownProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.selectUC.Execute(context.Background(), SelectProductInput{UserID: "u1", Product: "ghost"})
	assert.ErrorIs(t, err, domcatalog.ErrNotFound)
}

func TestPreCheckoutRejections(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "gift10", 500, "A")
	ctx := context.Background()

	cases := map[string]string{
		"malformed": "not-a-payload",
		"unknown":   dompurchase.Payload{InvoiceID: "i1", Product: "ghost", Quantity: 1}.Encode(),
		"too many":  dompurchase.Payload{InvoiceID: "i2", Product: "gift10", Quantity: 2}.Encode(),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			decision, err := f.checkUC.Execute(ctx, raw)
			require.NoError(t, err)
			assert.False(t, decision.OK)
			assert.NotEmpty(t, decision.Reason)
		})
	}
}

func TestSettleAfterStockRanOut(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "gift10", 500, "A", "B", "C")
	ctx := context.Background()

	first := f.invoice(t, "u1", "gift10", 2)
	second := f.invoice(t, "u2", "gift10", 2)

	out, err := f.settleUC.Execute(ctx, SettleInput{UserID: "u1", Payload: first.Payload, ChargeID: "ch_1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, out.Keys)

	out, err = f.settleUC.Execute(ctx, SettleInput{UserID: "u2", Payload: second.Payload, ChargeID: "ch_2"})
	require.NoError(t, err)
	assert.Equal(t, dompurchase.StatusSettledOutOfStock, out.Status)
	assert.Empty(t, out.Keys)

	n, err := f.store.StockCount(ctx, "gift10")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "pool untouched by the failed reservation")

	charges, err := f.history.ListFor(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch_2"}, charges)
	assert.Equal(t, []string{"purchase.settled", "purchase.shortfall"}, f.events.names())
}

func TestSettleRemovedProduct(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "gift10", 500, "A")
	ctx := context.Background()

	inv := f.invoice(t, "u1", "gift10", 1)
	require.NoError(t, f.store.RemoveProduct(ctx, "gift10"))

	out, err := f.settleUC.Execute(ctx, SettleInput{UserID: "u1", Payload: inv.Payload, ChargeID: "ch_9"})
	require.NoError(t, err)
	assert.Equal(t, dompurchase.StatusSettledOutOfStock, out.Status)

	charges, err := f.history.ListFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch_9"}, charges)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 1)
	ev, ok := f.events.events[0].(dompurchase.ShortfallEvent)
	require.True(t, ok)
	assert.Equal(t, dompurchase.ShortfallReasonUnknownProduct, ev.Reason)
}

func TestSettleMalformedPayloadStillRecordsCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.settleUC.Execute(ctx, SettleInput{UserID: "u1", Payload: "garbage", ChargeID: "ch_x"})
	require.NoError(t, err)
	assert.Equal(t, dompurchase.StatusSettledOutOfStock, out.Status)
	assert.Equal(t, "ch_x", out.ChargeID)

	charges, err := f.history.ListFor(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch_x"}, charges)
}

func TestSettleReturnsOutcomeWhenSaveFails(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "gift10", 500, "A")
	f.saver.err = errors.New("disk full")
	ctx := context.Background()

	inv := f.invoice(t, "u1", "gift10", 1)
	out, err := f.settleUC.Execute(ctx, SettleInput{UserID: "u1", Payload: inv.Payload, ChargeID: "ch_1"})
	require.ErrorIs(t, err, application.ErrNotPersisted)
	require.NotNil(t, out)
	assert.Equal(t, []string{"A"}, out.Keys)
}

func TestSettleIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "gift10", 500, "A")
	inv := f.invoice(t, "u1", "gift10", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := f.settleUC.Execute(ctx, SettleInput{UserID: "u1", Payload: inv.Payload, ChargeID: "ch_1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, out.Keys)
}

func TestConcurrentSettlementNeverOversells(t *testing.T) {
	f := newFixture(t)
	keys := make([]string, 50)
	for i := range keys {
		keys[i] = fmt.Sprintf("K%02d", i)
	}
	f.stock(t, "gift10", 100, keys...)
	payload := dompurchase.Payload{InvoiceID: "i", Product: "gift10", Quantity: 3}.Encode()

	const buyers = 40
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		issued []string
		short  atomic.Int64
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.settleUC.Execute(context.Background(), SettleInput{
				UserID:   fmt.Sprintf("u%d", i),
				Payload:  payload,
				ChargeID: fmt.Sprintf("ch_%d", i),
			})
			if err != nil {
				t.Errorf("settle: %v", err)
				return
			}
			if out.Status == dompurchase.StatusSettledOutOfStock {
				short.Add(1)
				return
			}
			mu.Lock()
			issued = append(issued, out.Keys...)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, issued, 48)
	assert.Equal(t, int64(buyers-16), short.Load())
	seen := make(map[string]struct{}, len(issued))
	for _, k := range issued {
		_, dup := seen[k]
		require.False(t, dup, "key %s issued twice", k)
		seen[k] = struct{}{}
	}
	n, err := f.store.StockCount(context.Background(), "gift10")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
