package billing

import (
	"context"

	"github.com/flexprice/flexcore/internal/cyclecalc"
	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

// UsageAnalytics is the narrow, read-only slice of external.Analytics the
// finalizer needs to batch-fetch usage for a billing cycle group
// (spec.md §4.6.2 step 3a). Kept separate from external.Analytics so the
// billing module can wire its own ClickHouse reader without colliding
// with the entitlement module's ingest-side publisher, which answers to
// the same external.Analytics interface for a different purpose.
type UsageAnalytics interface {
	GetUsageBillingFeatures(ctx context.Context, projectID, customerID string, features []external.UsageFeatureQuery, startAt, endAt int64) ([]external.UsageFeatureResult, error)
}

// Finalizer turns a group of pending BillingPeriods sharing an invoice
// statement into one Invoice, applying proration, batched usage lookups
// and FIFO credit application before the invoice is handed to the
// provider reconciler. Grounded on the teacher's proration calculator
// pattern, generalized from a single subscription-change preview into
// the periodic, multi-item billing-period flow (spec.md §4.6.2).
type Finalizer struct {
	store     Store
	analytics UsageAnalytics
	log       *logger.Logger
}

func NewFinalizer(store Store, analytics UsageAnalytics, log *logger.Logger) *Finalizer {
	return &Finalizer{store: store, analytics: analytics, log: log}
}

// FinalizeItemInput bundles what's needed to price one billing period's
// line item. Usage-aggregated features (tier, usage) leave Quantity
// zero; Finalize resolves it from a batched Analytics call instead.
// Non-usage features (flat, package) carry their quantity directly.
type FinalizeItemInput struct {
	Period               types.BillingPeriod
	FeaturePlanVersionID string
	FeatureSlug          string
	FeatureType          types.FeatureType
	AggregationMethod    types.AggregationMethod
	PriceConfig          types.PriceConfig
	Quantity             decimal.Decimal
	Description          string
}

// FinalizeInput bundles every billing-period item destined for the same
// invoice. Items may span multiple billing cycles (e.g. a feature billed
// monthly alongside one billed weekly); Finalize groups them internally
// by (cycleStartAt, cycleEndAt) before pricing.
type FinalizeInput struct {
	Items              []FinalizeItemInput
	Currency           string
	PaymentProvider    string
	PaymentMethodID    string
	CollectionMethod   types.CollectionMethod
	CustomerID         string
	DueAt              int64
	PastDueAt          int64
	EffectiveStartDate int64
}

func isUsageFed(ft types.FeatureType) bool {
	return ft == types.FeatureTypeTier || ft == types.FeatureTypeUsage
}

// cycleKey groups FinalizeItemInputs sharing an invoice-affecting
// billing window (spec.md §4.6.2 step 2).
type cycleKey struct{ start, end int64 }

func groupItemsByCycle(items []FinalizeItemInput) [][]FinalizeItemInput {
	order := make([]cycleKey, 0, len(items))
	groups := map[cycleKey][]FinalizeItemInput{}
	for _, it := range items {
		k := cycleKey{it.Period.CycleStartAt, it.Period.CycleEndAt}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], it)
	}

	out := make([][]FinalizeItemInput, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

// Finalize prices every item, opens a single draft invoice covering all
// of them, then applies FIFO credit grants up to the invoice total
// (spec.md §4.6.2). Returns the created invoice.
func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (types.Invoice, error) {
	if len(in.Items) == 0 {
		return types.Invoice{}, ierr.NewError("finalize requires at least one billing period item").
			Mark(ierr.ErrInvalidOperation)
	}

	var allItems []types.InvoiceItem
	for _, group := range groupItemsByCycle(in.Items) {
		priced, err := f.priceCycleGroup(ctx, in, group)
		if err != nil {
			return types.Invoice{}, err
		}
		allItems = append(allItems, priced...)
	}

	var subtotal int64
	for _, it := range allItems {
		subtotal += it.AmountTotalCents
	}

	first := in.Items[0].Period
	inv := types.Invoice{
		ProjectID:        first.ProjectID,
		SubscriptionID:   first.SubscriptionID,
		CustomerID:       in.CustomerID,
		Status:           types.InvoiceStatusDraft,
		SubtotalCents:    subtotal,
		TotalCents:       subtotal,
		Currency:         in.Currency,
		PaymentProvider:  in.PaymentProvider,
		CollectionMethod: in.CollectionMethod,
		PaymentMethodID:  in.PaymentMethodID,
		DueAt:            in.DueAt,
		PastDueAt:        in.PastDueAt,
		Metadata:         map[string]string{},
	}

	created, err := f.store.CreateInvoice(ctx, inv, allItems)
	if err != nil {
		return types.Invoice{}, ierr.WithError(err).
			WithHint("failed to persist draft invoice").
			Mark(ierr.ErrStorageFailed)
	}

	for _, it := range in.Items {
		if err := f.store.MarkBillingPeriodInvoiced(ctx, it.Period.ID, created.ID); err != nil {
			return types.Invoice{}, ierr.WithError(err).
				WithHint("failed to mark billing period invoiced").
				Mark(ierr.ErrStorageFailed)
		}
	}

	final, err := f.applyCredits(ctx, created, in.PastDueAt)
	if err != nil {
		return types.Invoice{}, err
	}
	return final, nil
}

// priceCycleGroup prices every item sharing one billing window, splitting
// usage-fed features (tier, usage) from directly-quantified ones (flat,
// package). Usage-fed features are batch-resolved with a single
// Analytics call per cycle group rather than one round trip per feature
// (spec.md §4.6.2 step 3a).
func (f *Finalizer) priceCycleGroup(ctx context.Context, in FinalizeInput, group []FinalizeItemInput) ([]types.InvoiceItem, error) {
	cycleStart := group[0].Period.CycleStartAt
	cycleEnd := group[0].Period.CycleEndAt

	prorationResult, err := cyclecalc.CalculateProration(cyclecalc.ProrationInput{
		ServiceStart:       cycleStart,
		ServiceEnd:         cycleEnd,
		EffectiveStartDate: in.EffectiveStartDate,
		BillingConfig:      types.BillingConfig{PlanType: types.PlanTypeRecurring, Interval: types.IntervalMonth, IntervalCount: 1},
	})
	if err != nil {
		return nil, err
	}

	var usageItems, directItems []FinalizeItemInput
	for _, it := range group {
		if isUsageFed(it.FeatureType) {
			usageItems = append(usageItems, it)
		} else {
			directItems = append(directItems, it)
		}
	}

	usageBySlug := map[string]decimal.Decimal{}
	if len(usageItems) > 0 {
		queries := make([]external.UsageFeatureQuery, len(usageItems))
		for i, it := range usageItems {
			queries[i] = external.UsageFeatureQuery{
				FeatureSlug:       it.FeatureSlug,
				AggregationMethod: string(it.AggregationMethod),
				FeatureType:       string(it.FeatureType),
			}
		}

		results, err := f.analytics.GetUsageBillingFeatures(ctx, group[0].Period.ProjectID, in.CustomerID, queries, cycleStart, cycleEnd)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("failed to fetch usage for billing cycle").
				Mark(ierr.ErrAnalyticsFailed)
		}
		for _, r := range results {
			qty, parseErr := decimal.NewFromString(r.Usage)
			if parseErr != nil {
				qty = decimal.Zero
			}
			usageBySlug[r.FeatureSlug] = qty
		}
	}

	out := make([]types.InvoiceItem, 0, len(group))
	for _, it := range usageItems {
		// A feature with no grant/usage returned is zeroed out rather
		// than omitted from the invoice (spec.md §4.6.2 step 3b).
		qty := usageBySlug[it.FeatureSlug]
		priced, err := f.priceItem(it, qty, prorationResult.ProrationFactor)
		if err != nil {
			return nil, err
		}
		out = append(out, priced)
	}
	for _, it := range directItems {
		priced, err := f.priceItem(it, it.Quantity, prorationResult.ProrationFactor)
		if err != nil {
			return nil, err
		}
		out = append(out, priced)
	}
	return out, nil
}

func (f *Finalizer) priceItem(it FinalizeItemInput, qty decimal.Decimal, prorationFactor float64) (types.InvoiceItem, error) {
	priceResult, err := cyclecalc.CalculatePricePerFeature(cyclecalc.PriceInput{
		Config:      it.PriceConfig,
		FeatureType: it.FeatureType,
		Quantity:    qty,
		Prorate:     prorationFactor,
	})
	if err != nil {
		return types.InvoiceItem{}, ierr.WithError(err).
			WithHint("failed to price billing period").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	kind := types.InvoiceItemPeriod
	if it.Period.Type == types.BillingPeriodTrial {
		kind = types.InvoiceItemTrial
	}

	subItemID := it.Period.SubscriptionItemID
	grantID := it.Period.GrantID
	return types.InvoiceItem{
		FeaturePlanVersionID: it.FeaturePlanVersionID,
		SubscriptionItemID:   &subItemID,
		GrantID:              &grantID,
		Kind:                 kind,
		Quantity:             qty,
		UnitAmountCents:      priceResult.UnitPriceCents,
		AmountSubtotalCents:  priceResult.SubtotalPriceCents,
		AmountTotalCents:     priceResult.TotalPriceCents,
		Description:          it.Description,
		CycleStartAt:         it.Period.CycleStartAt,
		CycleEndAt:           it.Period.CycleEndAt,
		ProrationFactor:      prorationFactor,
	}, nil
}

// applyCredits walks active credit grants oldest-expiry-first, debiting
// each until the invoice's remaining balance is zero or credits run out,
// then always persists the resulting total and status (spec.md §4.6.2
// steps 5-6) whether or not any credit was actually applied. Never
// applies more than a grant's remaining balance, and never more than
// the invoice still owes.
func (f *Finalizer) applyCredits(ctx context.Context, inv types.Invoice, now int64) (types.Invoice, error) {
	remaining := inv.TotalCents - inv.AmountCreditUsedCents

	if remaining > 0 {
		grants, err := f.store.ListActiveCreditGrants(ctx, inv.ProjectID, inv.CustomerID, inv.Currency, inv.PaymentProvider, now)
		if err != nil {
			return types.Invoice{}, ierr.WithError(err).
				WithHint("failed to list credit grants").
				Mark(ierr.ErrStorageFailed)
		}

		for _, g := range grants {
			if remaining <= 0 {
				break
			}
			apply := g.Remaining()
			if apply > remaining {
				apply = remaining
			}
			if apply <= 0 {
				continue
			}

			ok, err := f.store.ApplyCredit(ctx, types.InvoiceCreditApplication{
				InvoiceID:          inv.ID,
				CreditGrantID:      g.ID,
				AmountAppliedCents: apply,
				AppliedAt:          now,
			}, g.AmountUsedCents+apply)
			if err != nil {
				return types.Invoice{}, ierr.WithError(err).
					WithHint("failed to apply credit grant").
					Mark(ierr.ErrStorageFailed)
			}
			if !ok {
				// Already applied on a prior retry; don't double count.
				continue
			}

			remaining -= apply
			inv.AmountCreditUsedCents += apply
		}
	}

	inv.TotalCents = inv.SubtotalCents - inv.AmountCreditUsedCents
	if inv.TotalCents < 0 {
		inv.TotalCents = 0
	}

	status := types.InvoiceStatusUnpaid
	if inv.TotalCents == 0 {
		status = types.InvoiceStatusVoid
	}

	if err := f.store.SetInvoiceCreditAndTotal(ctx, inv.ProjectID, inv.ID, inv.AmountCreditUsedCents, inv.TotalCents, status, inv.PaidAt); err != nil {
		return types.Invoice{}, ierr.WithError(err).
			WithHint("failed to persist credit application against invoice total").
			Mark(ierr.ErrStorageFailed)
	}
	inv.Status = status

	return inv, nil
}
