// Package messenger delivers administrator notices.
package messenger

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/keyshop/internal/application/notify"
	"github.com/Zhima-Mochi/keyshop/internal/observability"
	"github.com/Zhima-Mochi/keyshop/internal/observability/logctx"
)

// LogNotifier writes every notice to the log. Shortfalls are warnings since
// someone has to refund or restock by hand.
type LogNotifier struct {
	log observability.Logger
}

var _ notify.Notifier = (*LogNotifier)(nil)

// NewLogNotifier tags its lines with component=admin_notifier.
func NewLogNotifier(logger observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{log: logger.With(observability.F("component", "admin_notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, notice notify.Notice) error {
	logger := logctx.FromOr(ctx, n.log)
	fields := []observability.Field{
		observability.F("kind", notice.Kind),
		observability.F("text", notice.Text),
	}
	if notice.ChargeID != "" {
		fields = append(fields, observability.F("charge_id", notice.ChargeID))
	}
	if notice.Product != "" {
		fields = append(fields, observability.F("product", notice.Product))
	}
	if notice.Kind == notify.KindShortfall {
		logger.Warn("admin_notice", fields...)
	} else {
		logger.Info("admin_notice", fields...)
	}
	return nil
}

// Fanout sends each notice to every notifier and reports all failures together.
type Fanout []notify.Notifier

var _ notify.Notifier = Fanout(nil)

func (f Fanout) Notify(ctx context.Context, notice notify.Notice) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
