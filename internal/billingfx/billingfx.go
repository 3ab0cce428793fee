// Package billingfx wires the billing cycle pipeline (materializer,
// finalizer, reconciler, collector, subscription lock, Temporal
// scheduler) together, grounded on the teacher's per-domain fx module
// convention in cmd/server/main.go.
//
// external.SubscriptionMachineFactory is, like
// grantsmanager.SubscriptionContext, an out-of-scope collaborator this
// module does not provide. The embedding application must fx.Supply its
// own implementation.
package billingfx

import (
	"github.com/flexprice/flexcore/internal/analytics/clickhouse"
	"github.com/flexprice/flexcore/internal/billing"
	"github.com/flexprice/flexcore/internal/billing/scheduler"
	"github.com/flexprice/flexcore/internal/config"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/grantsmanager"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/paymentprovider/stripe"
	"github.com/flexprice/flexcore/internal/security"
	"github.com/flexprice/flexcore/internal/store/dynamolock"
	"github.com/flexprice/flexcore/internal/store/postgres"
	"github.com/flexprice/flexcore/internal/sublock"
	"go.uber.org/fx"
)

func asBillingStore(r *postgres.BillingRepository) billing.Store { return r }

func asLockBackend(s *dynamolock.Store) sublock.Backend { return s }

func provideTemporalConfig(cfg *config.Configuration) config.TemporalConfig { return cfg.Temporal }

func provideLockConfig(cfg *config.Configuration) billing.LockConfig {
	return billing.LockConfig{
		DefaultTTL:        cfg.Lock.DefaultTTL,
		StaleTakeoverMs:   cfg.Lock.StaleTakeoverMs,
		MaxHoldMultiplier: cfg.Lock.MaxHoldMultiplier,
		MaxHoldFloor:      cfg.Lock.MaxHoldFloor,
	}
}

func asGrantResolver(m *grantsmanager.Manager) billing.GrantResolver { return m }

func provideMaterializer(store billing.Store, grants billing.GrantResolver, log *logger.Logger, cfg *config.Configuration) *billing.Materializer {
	return billing.NewMaterializer(store, grants, log, cfg.Billing.MaterializationLookbackDays, cfg.Billing.MaterializationBatchSize)
}

// provideUsageAnalytics gives the finalizer its own ClickHouse reader for
// batch usage lookups (spec.md §4.6.2 step 3a). Deliberately separate
// from entitlementfx's asAnalytics: that one exposes the eventbus
// publisher as external.Analytics for the hot-path ingest write, and fx
// can't provide two values of the same interface type in one app.
func provideUsageAnalytics(cfg *config.Configuration, log *logger.Logger) (billing.UsageAnalytics, error) {
	return clickhouse.New(clickhouse.Config{
		Addr:     cfg.ClickHouse.GetClientOptions().Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
	}, log)
}

func provideStripeProvider(cfg *config.Configuration, enc security.EncryptionService, log *logger.Logger) (*stripe.Provider, error) {
	return stripe.New(cfg.Stripe.SecretKey, enc, log)
}

func asPaymentProvider(p *stripe.Provider) external.PaymentProvider { return p }

func provideReconciler(store billing.Store, provider external.PaymentProvider, log *logger.Logger, cfg *config.Configuration) *billing.Reconciler {
	return billing.NewReconciler(store, provider, log, cfg.Billing.ProviderUpsertConcurrency)
}

func provideCollector(store billing.Store, provider external.PaymentProvider, machines external.SubscriptionMachineFactory, log *logger.Logger, cfg *config.Configuration) *billing.Collector {
	return billing.NewCollector(store, provider, machines, log, cfg.Billing.MaxPaymentAttempts)
}

var Module = fx.Module("billing",
	fx.Provide(
		asBillingStore,
		asGrantResolver,
		asLockBackend,
		provideLockConfig,
		provideTemporalConfig,
		billing.NewCycleRunner,
		provideMaterializer,
		provideUsageAnalytics,
		billing.NewFinalizer,
		provideStripeProvider,
		asPaymentProvider,
		provideReconciler,
		provideCollector,
		scheduler.NewClient,
		scheduler.NewActivities,
		scheduler.NewWorker,
	),
)
