package workerpresentation

import (
	"context"
	"maps"
	"slices"

	domoutbox "github.com/Zhima-Mochi/keyshop/internal/domain/outbox"
	"github.com/Zhima-Mochi/keyshop/internal/observability"
	"github.com/Zhima-Mochi/keyshop/internal/observability/logctx"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const componentNotifyWorker = "notify_worker"

// EventUseCase handles one bus event.
type EventUseCase interface {
	Execute(ctx context.Context, e domoutbox.Event) (struct{}, error)
}

// Worker binds an event use case to the bus for a fixed set of event names.
type Worker struct {
	subscriber domoutbox.Subscriber
	useCase    EventUseCase
	events     []string
	log        observability.Logger
}

// New subscribes nothing until Start is called.
func New(subscriber domoutbox.Subscriber, useCase EventUseCase, events []string, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber: subscriber,
		useCase:    useCase,
		events:     events,
		log:        tel.Logger().With(observability.F("component", componentNotifyWorker)),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.useCase == nil {
		return
	}
	for _, name := range w.events {
		w.subscriber.Subscribe(name, w.handle)
	}
}

func (w *Worker) handle(ctx context.Context, e domoutbox.Event) error {
	_, err := w.useCase.Execute(w.eventContext(ctx, e), e)
	return err
}

// eventContext attaches a logger tagged with the event, a fresh event_id, the
// propagated trace and the event's own attributes in key order.
func (w *Worker) eventContext(ctx context.Context, e domoutbox.Event) context.Context {
	fields := []observability.Field{
		observability.F("event", e.EventName()),
		observability.F("event_id", uuid.NewString()),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	if a, ok := e.(domoutbox.Attributed); ok {
		attrs := a.EventAttributes()
		for _, k := range slices.Sorted(maps.Keys(attrs)) {
			if v := attrs[k]; v != "" {
				fields = append(fields, observability.F(k, v))
			}
		}
	}
	return logctx.With(ctx, w.log.With(fields...))
}
