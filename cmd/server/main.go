// Command server runs the entitlement and billing core as a background
// worker process: no HTTP transport (out of scope, spec.md §1), just the
// hot-store flush ticker, the eventbus forwarder draining onto
// ClickHouse, and the Temporal billing-cycle worker. Grounded on the
// teacher's cmd/server/main.go fx.New composition, pared down to this
// core's own components.
package main

import (
	"context"
	"time"

	"github.com/flexprice/flexcore/internal/analytics/clickhouse"
	"github.com/flexprice/flexcore/internal/billing/scheduler"
	"github.com/flexprice/flexcore/internal/billingfx"
	"github.com/flexprice/flexcore/internal/config"
	"github.com/flexprice/flexcore/internal/entitlementfx"
	"github.com/flexprice/flexcore/internal/entitlementservice"
	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/eventbus"
	eventbuskafka "github.com/flexprice/flexcore/internal/eventbus/kafka"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/grantsmanager"
	"github.com/flexprice/flexcore/internal/hotstore"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/security"
	"github.com/flexprice/flexcore/internal/storefx"
	"github.com/flexprice/flexcore/internal/validator"
	"go.uber.org/fx"
)

func init() {
	time.Local = time.UTC
}

func provideBus(cfg *config.Configuration) (eventbus.Bus, error) {
	return eventbuskafka.New(cfg.Kafka, cfg.Logging.Level == "debug")
}

func provideAnalyticsSink(cfg *config.Configuration, log *logger.Logger) (external.Analytics, error) {
	return clickhouse.New(clickhouse.Config{
		Addr:     cfg.ClickHouse.GetClientOptions().Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
	}, log)
}

func provideForwarder(bus eventbus.Bus, sink external.Analytics, log *logger.Logger) *eventbus.Forwarder {
	return eventbus.NewForwarder(bus, sink, log)
}

// runForwarder and runFlushTicker are invoked as fx lifecycle hooks so
// the worker process has the same two background loops the teacher's
// webhook/event pipeline runs alongside its HTTP server.
func runForwarder(lc fx.Lifecycle, fwd *eventbus.Forwarder, log *logger.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := fwd.Run(ctx); err != nil && err != context.Canceled {
					log.Errorf("eventbus forwarder stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func runFlushTicker(lc fx.Lifecycle, hot *hotstore.Store, log *logger.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := hot.Flush(ctx); err != nil {
							log.Errorf("hot store flush failed: %v", err)
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func runBillingWorker(lc fx.Lifecycle, w *scheduler.Worker) {
	w.RegisterWithLifecycle(lc)
}

// unresolvedSubscriptionContext and unresolvedSubscriptionMachineFactory
// stand in for the subscription domain this core deliberately excludes
// (spec.md §1). A real deployment supplies its own implementations
// backed by whatever subscription service it runs; wiring a stub here
// keeps the composition root complete and buildable on its own.
func ierrDependencyMissing(what string) error {
	return ierr.NewError(what + " not configured").
		WithHint("the embedding application must supply its own subscription domain adapter").
		Mark(ierr.ErrDependencyMissing)
}

type unresolvedSubscriptionContext struct{}

func (unresolvedSubscriptionContext) GetCurrentPlanContext(ctx context.Context, projectID, customerID string) (string, string, error) {
	return "", "", ierrDependencyMissing("subscription context")
}

type unresolvedSubscriptionMachineFactory struct{}

func (unresolvedSubscriptionMachineFactory) New(ctx context.Context, projectID, subscriptionID string) external.SubscriptionMachine {
	return unresolvedSubscriptionMachine{}
}

type unresolvedSubscriptionMachine struct{}

func (unresolvedSubscriptionMachine) Create(ctx context.Context, subscriptionID string) error {
	return ierrDependencyMissing("subscription machine")
}
func (unresolvedSubscriptionMachine) Shutdown(ctx context.Context) error { return nil }
func (unresolvedSubscriptionMachine) ReportInvoiceSuccess(ctx context.Context, invoiceID string) error {
	return ierrDependencyMissing("subscription machine")
}
func (unresolvedSubscriptionMachine) ReportInvoiceFailure(ctx context.Context, invoiceID, reason string) error {
	return ierrDependencyMissing("subscription machine")
}
func (unresolvedSubscriptionMachine) ReportPaymentFailure(ctx context.Context, invoiceID, reason string) error {
	return ierrDependencyMissing("subscription machine")
}

func provideSubscriptionContext() grantsmanager.SubscriptionContext {
	return unresolvedSubscriptionContext{}
}

func provideSubscriptionMachineFactory() external.SubscriptionMachineFactory {
	return unresolvedSubscriptionMachineFactory{}
}

func main() {
	fx.New(
		fx.Provide(
			validator.NewValidator,
			config.NewConfig,
			logger.NewLogger,
			security.NewEncryptionService,
			provideBus,
			provideAnalyticsSink,
			provideForwarder,
			provideSubscriptionContext,
			provideSubscriptionMachineFactory,
		),
		storefx.Module,
		entitlementfx.Module,
		billingfx.Module,
		fx.Invoke(
			runForwarder,
			runFlushTicker,
			runBillingWorker,
			func(*entitlementservice.Service) {},
		),
	).Run()
}
