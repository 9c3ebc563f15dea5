// Package persist coordinates snapshot writes for the in-memory state.
package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	"github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"
	"github.com/Zhima-Mochi/keyshop/internal/observability"
)

const gatewayPeer = "snapshot_gateway"

// CatalogSource is the store whose catalog and pools are captured together.
type CatalogSource interface {
	Capture(ctx context.Context) ([]catalog.Product, map[string][]string)
	Restore(s snapshot.Snapshot) error
}

// HistorySource is the purchase history captured alongside the catalog.
type HistorySource interface {
	Capture(ctx context.Context) map[string][]string
	Restore(records map[string][]string)
}

// Persister writes the whole state through a gateway. Saves are serialized so
// an older capture never lands after a newer one.
type Persister struct {
	mu      sync.Mutex
	gateway snapshot.Gateway
	store   CatalogSource
	history HistorySource

	log         observability.Logger
	extCounter  observability.Counter
	extDuration observability.Histogram
}

var _ application.SnapshotSaver = (*Persister)(nil)

// New snapshots store and history through gateway.
func New(gateway snapshot.Gateway, store CatalogSource, history HistorySource, tel observability.Observability) *Persister {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Persister{
		gateway:     gateway,
		store:       store,
		history:     history,
		log:         tel.Logger().With(observability.F("component", "persister")),
		extCounter:  tel.Metrics().Counter(observability.MExternalRequests),
		extDuration: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// Load restores the stored snapshot into memory. A corrupt snapshot is returned
// as an error wrapping snapshot.ErrCorruptSnapshot and nothing is restored.
func (p *Persister) Load(ctx context.Context) (snapshot.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := p.call(ctx, "load", func(ctx context.Context) (snapshot.Snapshot, error) {
		return p.gateway.Load(ctx)
	})
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("persist: load: %w", err)
	}
	snap = snap.Normalize()
	if err := p.store.Restore(snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("persist: restore: %w", err)
	}
	p.history.Restore(snap.History)

	p.log.Info("snapshot_loaded",
		observability.F("products", len(snap.Products)),
		observability.F("users", len(snap.History)),
	)
	return snap, nil
}

// Capture returns the current state without writing it.
func (p *Persister) Capture(ctx context.Context) snapshot.Snapshot {
	products, pools := p.store.Capture(ctx)
	return snapshot.Snapshot{
		Products: products,
		Pools:    pools,
		History:  p.history.Capture(ctx),
	}
}

func (p *Persister) Save(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.Capture(ctx)
	_, err := p.call(ctx, "save", func(ctx context.Context) (snapshot.Snapshot, error) {
		return snap, p.gateway.Save(ctx, snap)
	})
	if err != nil {
		p.log.Error("snapshot_save_failed", observability.F("error", err))
		return fmt.Errorf("persist: save: %w", err)
	}
	return nil
}

func (p *Persister) call(ctx context.Context, endpoint string, fn func(context.Context) (snapshot.Snapshot, error)) (snapshot.Snapshot, error) {
	start := time.Now()
	snap, err := fn(ctx)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.extCounter.Add(1,
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	p.extDuration.Observe(time.Since(start).Seconds(),
		observability.L("peer", gatewayPeer),
		observability.L("endpoint", endpoint),
	)
	return snap, err
}
