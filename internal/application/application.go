package application

import (
	"context"
	"errors"
	"time"

	domoutbox "github.com/Zhima-Mochi/keyshop/internal/domain/outbox"
	"github.com/Zhima-Mochi/keyshop/internal/observability"
	"github.com/Zhima-Mochi/keyshop/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	spanPrefix     = "UC."
	publishPeer    = "outbox"
	publishTimeout = 300 * time.Millisecond
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

// SnapshotSaver persists the current state after a mutation.
type SnapshotSaver interface {
	Save(ctx context.Context) error
}

// ErrNotPersisted marks a mutation that took effect in memory but could not be
// saved. Use cases return it together with their result; the next successful
// save writes the change.
var ErrNotPersisted = errors.New("application: change applied but not persisted")

// Instruments bundles the base logger, tracer and RED metrics shared by a
// service's use cases. Build it once in the constructor; never inside Execute.
type Instruments struct {
	log          observability.Logger
	tracer       observability.Tracer
	metrics      observability.Metrics
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewInstruments(tel observability.Observability, service string) Instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	metricsProvider := tel.Metrics()
	return Instruments{
		log:          tel.Logger().With(observability.F("service", service)),
		tracer:       tel.Tracer(),
		metrics:      metricsProvider,
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

// Publish hands an event to the outbox with a short timeout and records it as an external call.
func (in Instruments) Publish(ctx context.Context, publisher domoutbox.Publisher, event domoutbox.Event) error {
	if publisher == nil || event == nil {
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	start := time.Now()
	err := publisher.Publish(pubCtx, event)
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if pubCtx.Err() != nil {
		outcome = "canceled"
		err = pubCtx.Err()
	}
	cancel()

	in.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
		observability.L("outcome", outcome),
	)
	in.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
	)
	return err
}

func (in Instruments) Logger() observability.Logger   { return in.log }
func (in Instruments) Metrics() observability.Metrics { return in.metrics }

// Execution follows one use case run from Begin to End.
type Execution struct {
	useCase string
	logger  observability.Logger
	span    trace.Span
	ctx     context.Context
	start   time.Time
	outcome string
	status  string
	fields  []observability.Field

	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

// Begin opens a span named UC.<spanName> and a request-scoped logger carrying fields.
func (in Instruments) Begin(ctx context.Context, useCase, spanName string, fields []observability.Field, attrs ...attribute.KeyValue) (context.Context, *Execution) {
	logger := logctx.FromOr(ctx, in.log).With(observability.F("use_case", useCase))
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := in.tracer.Start(ctx, spanPrefix+spanName, attrs...)

	e := &Execution{
		useCase: useCase,
		logger:  logger,
		span:    span,
		ctx:     ctx,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
		fields:  fields,
	}
	e.reqCounter, e.durHistogram = in.reqCounter, in.durHistogram
	return ctx, e
}

// Fail marks the run as an error with a machine-readable status.
func (e *Execution) Fail(status string) {
	e.outcome, e.status = "error", status
}

// Status keeps the outcome but replaces the status text.
func (e *Execution) Status(status string) {
	e.status = status
}

// Add appends fields to the final use_case_done line.
func (e *Execution) Add(fields ...observability.Field) {
	e.fields = append(e.fields, fields...)
}

// Span exposes the current span for events and attributes.
func (e *Execution) Span() trace.Span { return e.span }

// Logger returns the run's logger.
func (e *Execution) Logger() observability.Logger { return e.logger }

// End closes the span, records RED metrics and writes a single use_case_done line.
func (e *Execution) End(err error) {
	if err != nil && e.outcome == "success" {
		e.outcome = "error"
		if e.status == "OK" {
			e.status = "ERROR"
		}
	}

	if e.span != nil {
		if err != nil {
			e.span.RecordError(err)
			e.span.SetStatus(codes.Error, e.status)
		} else {
			e.span.SetStatus(codes.Ok, e.status)
		}
		e.span.End()
	}

	latency := time.Since(e.start).Seconds()
	if e.reqCounter != nil {
		e.reqCounter.Add(1,
			observability.L("use_case", e.useCase),
			observability.L("outcome", e.outcome),
		)
	}
	if e.durHistogram != nil {
		e.durHistogram.Observe(latency,
			observability.L("use_case", e.useCase),
		)
	}

	fields := []observability.Field{
		observability.F("outcome", e.outcome),
		observability.F("status", e.status),
		observability.F("latency_seconds", latency),
	}
	fields = append(fields, e.fields...)
	if sc := trace.SpanContextFromContext(e.ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}

	e.logger.Info("use_case_done", fields...)
}
