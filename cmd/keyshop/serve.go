package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcatalog "github.com/Zhima-Mochi/keyshop/internal/application/catalog"
	appinventory "github.com/Zhima-Mochi/keyshop/internal/application/inventory"
	"github.com/Zhima-Mochi/keyshop/internal/application/notify"
	"github.com/Zhima-Mochi/keyshop/internal/application/persist"
	apppurchase "github.com/Zhima-Mochi/keyshop/internal/application/purchase"
	appsupport "github.com/Zhima-Mochi/keyshop/internal/application/support"
	"github.com/Zhima-Mochi/keyshop/internal/config"
	"github.com/Zhima-Mochi/keyshop/internal/domain/access"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/id"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/messenger"
	infraobs "github.com/Zhima-Mochi/keyshop/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/keyshop/internal/observability"
	httppresentation "github.com/Zhima-Mochi/keyshop/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/keyshop/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the stored state and serve the webhook and admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newLogger(cfg config.Config) (*zaplogger.Logger, error) {
	return zaplogger.New(zaplogger.Options{
		Level:   cfg.LogLevel,
		LogFile: cfg.LogFile,
		Fields: []observability.Field{
			observability.F("service", cfg.ServiceName),
			observability.F("env", cfg.Env),
		},
	})
}

func runServe(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseLogger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger.Zap())
	systemLogger := baseLogger.With(observability.F("component", "system"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := infraobs.New(
		oteltrace.New(cfg.ServiceName),
		baseLogger,
		infraobs.StandardInstruments(prometrics.New("", "", reg)),
	)

	gateway, closeGateway, err := openGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("snapshot gateway: %w", err)
	}
	defer closeGateway()

	store := memory.NewStore()
	selection := memory.NewSelectionTracker()
	history := memory.NewHistoryLog()
	persister := persist.New(gateway, store, history, tel)
	// A snapshot that cannot be read must stop startup; serving from empty
	// state would overwrite it on the next save.
	if _, err := persister.Load(ctx); err != nil {
		systemLogger.Error("snapshot_load_failed", observability.F("driver", cfg.StoreDriver), observability.F("error", err))
		return err
	}

	bus := outbox.NewBus(baseLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	hub := messenger.NewHub(baseLogger, cfg.FeedOrigins...)
	notifier := messenger.Fanout{messenger.NewLogNotifier(baseLogger), hub}
	notifyWorker := workerpresentation.New(bus, notify.NewNotifyAdminsUseCase(notifier, tel), notify.Events(), tel)
	notifyWorker.Start()

	ids := id.NewULIDGenerator()
	uc := httppresentation.UseCases{
		SelectProduct:   apppurchase.NewSelectProductUseCase(store, store, selection, tel),
		IssueInvoice:    apppurchase.NewIssueInvoiceUseCase(store, store, selection, ids, apppurchase.Options{Currency: cfg.Currency}, tel),
		PreCheckout:     apppurchase.NewValidatePreCheckoutUseCase(store, tel),
		Settle:          apppurchase.NewSettleUseCase(store, history, persister, bus, tel),
		CreateProduct:   appcatalog.NewCreateProductUseCase(store, persister, tel),
		RemoveProduct:   appcatalog.NewRemoveProductUseCase(store, persister, tel),
		ListProducts:    appcatalog.NewListProductsUseCase(store, store, tel),
		AppendKeys:      appinventory.NewAppendKeysUseCase(store, persister, bus, tel),
		StockReport:     appinventory.NewStockReportUseCase(store, tel),
		PurchaseHistory: appsupport.NewPurchaseHistoryUseCase(history, cfg.SupportContact, tel),
	}
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	handler := httppresentation.NewHandler(uc, access.NewStaticPolicy(cfg.AdminIDs...), cfg.WebhookSecret, hub, metricsHandler, tel)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
			observability.F("store_driver", cfg.StoreDriver),
			observability.F("admins", len(cfg.AdminIDs)),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			systemLogger.Error("http_server_error", observability.F("error", err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", observability.F("error", err))
	} else {
		systemLogger.Info("http_server_stopped")
	}
	// Settlements may have raced the shutdown; one last write keeps them.
	if err := persister.Save(shutdownCtx); err != nil {
		systemLogger.Error("final_snapshot_save_failed", observability.F("error", err))
		return err
	}
	return nil
}
