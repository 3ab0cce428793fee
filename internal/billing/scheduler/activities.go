package scheduler

import (
	"context"

	"github.com/flexprice/flexcore/internal/billing"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

// BillingCycleInput is one subscription-item's worth of work, resolved
// by the caller scheduling the workflow (subscription domain is out of
// this core's scope; see internal/external.SubscriptionMachine).
type BillingCycleInput struct {
	Item             billing.SubscriptionItem
	PriceConfig      types.PriceConfig
	Quantity         string // decimal.Decimal serialized for workflow-history determinism
	Currency         string
	PaymentProvider  string
	PaymentMethodID  string
	CollectionMethod types.CollectionMethod
	CustomerID       string
	DueAt            int64
	PastDueAt        int64
	Now              int64
}

// BillingCycleResult reports how much work one run did.
type BillingCycleResult struct {
	PeriodsMaterialized int
	InvoicesFinalized   int
	InvoicesCollected   int
}

// Activities bundles the billing pipeline stages behind Temporal
// activity methods. One Activities value is registered per worker.
type Activities struct {
	store        billing.Store
	materializer *billing.Materializer
	finalizer    *billing.Finalizer
	reconciler   *billing.Reconciler
	collector    *billing.Collector
	cycles       *billing.CycleRunner
	log          *logger.Logger
}

func NewActivities(
	store billing.Store,
	materializer *billing.Materializer,
	finalizer *billing.Finalizer,
	reconciler *billing.Reconciler,
	collector *billing.Collector,
	cycles *billing.CycleRunner,
	log *logger.Logger,
) *Activities {
	return &Activities{
		store:        store,
		materializer: materializer,
		finalizer:    finalizer,
		reconciler:   reconciler,
		collector:    collector,
		cycles:       cycles,
		log:          log,
	}
}

const dueBillingPeriodPageSize = 50

// RunBillingCycle is the sole activity this package registers: under
// the subscription's lock, it materializes any newly-due billing
// periods for one subscription item, then finalizes, reconciles and
// collects every billing period of that subscription still pending
// invoicing (spec.md §4.6).
func (a *Activities) RunBillingCycle(ctx context.Context, in BillingCycleInput) (BillingCycleResult, error) {
	var result BillingCycleResult

	err := a.cycles.WithSubscriptionLock(ctx, in.Item.ProjectID, in.Item.SubscriptionID, func(ctx context.Context) error {
		materialized, err := a.materializer.MaterializeItem(ctx, in.Item, in.Now)
		if err != nil {
			return err
		}
		result.PeriodsMaterialized = materialized

		periods, err := a.store.ListDueBillingPeriods(ctx, in.Item.ProjectID, in.Now, dueBillingPeriodPageSize)
		if err != nil {
			return err
		}

		for _, period := range periods {
			if period.SubscriptionID != in.Item.SubscriptionID || period.InvoiceID != nil {
				continue
			}

			quantity, err := decimal.NewFromString(in.Quantity)
			if err != nil {
				return err
			}

			inv, err := a.finalizer.Finalize(ctx, billing.FinalizeInput{
				Items: []billing.FinalizeItemInput{{
					Period:               period,
					FeaturePlanVersionID: in.Item.FeaturePlanVersionID,
					FeatureSlug:          in.Item.FeatureSlug,
					FeatureType:          in.Item.FeatureType,
					AggregationMethod:    in.Item.AggregationMethod,
					PriceConfig:          in.PriceConfig,
					Quantity:             quantity,
				}},
				Currency:             in.Currency,
				PaymentProvider:      in.PaymentProvider,
				PaymentMethodID:      in.PaymentMethodID,
				CollectionMethod:     in.CollectionMethod,
				CustomerID:           in.CustomerID,
				DueAt:                in.DueAt,
				PastDueAt:            in.PastDueAt,
				EffectiveStartDate:   in.Item.EffectiveStartDate,
			})
			if err != nil {
				return err
			}
			result.InvoicesFinalized++

			_, items, err := a.store.GetInvoice(ctx, inv.ProjectID, inv.ID)
			if err != nil {
				return err
			}

			inv, err = a.reconciler.Reconcile(ctx, inv, items, external.ProviderInvoicePayload{
				Currency:         in.Currency,
				CollectionMethod: string(in.CollectionMethod),
				DueDate:          in.DueAt,
			})
			if err != nil {
				return err
			}

			if err := a.collector.Collect(ctx, inv.ProjectID, inv.ID, in.Now); err != nil {
				return err
			}
			result.InvoicesCollected++
		}

		return nil
	})

	return result, err
}
