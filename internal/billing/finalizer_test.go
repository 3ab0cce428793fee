package billing

import (
	"context"
	"testing"

	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/testutil"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	jan1UTCMillis = 1704067200000
	feb1UTCMillis = 1706745600000
)

func tieredPriceConfig() types.PriceConfig {
	ten := int64(10)
	twenty := int64(20)
	return types.PriceConfig{
		FeatureType: types.FeatureTypeTier,
		TierMode:    types.TierModeGraduated,
		Tiers: []types.TierBracket{
			{FirstUnit: 1, LastUnit: &ten, UnitPrice: decimal.NewFromInt(100)},
			{FirstUnit: 11, LastUnit: &twenty, UnitPrice: decimal.NewFromInt(50)},
			{FirstUnit: 21, LastUnit: nil, UnitPrice: decimal.NewFromInt(20)},
		},
	}
}

// TestFinalize_TieredPricingUnprorated reproduces spec.md §8 scenario 3:
// a full, unprorated cycle against the documented tier ladder, with
// quantity resolved from a batched Analytics usage fetch, should total
// 1600 cents.
func TestFinalize_TieredPricingUnprorated(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	analytics := testutil.NewInMemoryAnalytics()
	analytics.SetUsage("api_calls", "25")
	f := NewFinalizer(store, analytics, logger.NewNop())

	period := types.BillingPeriod{
		ID:                 "period_1",
		ProjectID:          "proj_1",
		SubscriptionID:     "sub_1",
		SubscriptionItemID: "item_1",
		GrantID:            "grant_1",
		CycleStartAt:       jan1UTCMillis,
		CycleEndAt:         feb1UTCMillis,
		Type:               types.BillingPeriodNormal,
	}

	inv, err := f.Finalize(context.Background(), FinalizeInput{
		Items: []FinalizeItemInput{{
			Period:               period,
			FeaturePlanVersionID: "fpv_1",
			FeatureSlug:          "api_calls",
			FeatureType:          types.FeatureTypeTier,
			AggregationMethod:    types.AggregationSum,
			PriceConfig:          tieredPriceConfig(),
		}},
		Currency:           "usd",
		PaymentProvider:    "stripe",
		CollectionMethod:   types.CollectionChargeAutomatically,
		CustomerID:         "cust_1",
		DueAt:              feb1UTCMillis,
		PastDueAt:          feb1UTCMillis + 86400000*7,
		EffectiveStartDate: jan1UTCMillis,
	})
	require.NoError(t, err)

	require.Equal(t, int64(1600), inv.SubtotalCents)
	require.Equal(t, int64(1600), inv.TotalCents)
	require.Equal(t, types.InvoiceStatusUnpaid, inv.Status)

	_, items, err := store.GetInvoice(context.Background(), "proj_1", inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(1600), items[0].AmountTotalCents)
	require.InDelta(t, 1.0, items[0].ProrationFactor, 1e-9)
}

// TestFinalize_CreditFIFO reproduces spec.md §8 scenario 4: a 1000-cent
// invoice against two active credit grants is drained oldest-expiry-
// first, the first fully consumed before the second is touched.
func TestFinalize_CreditFIFO(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	analytics := testutil.NewInMemoryAnalytics()
	f := NewFinalizer(store, analytics, logger.NewNop())

	store.AddCreditGrant(types.CreditGrant{
		ID: "credit_early", ProjectID: "proj_1", CustomerID: "cust_1",
		TotalAmountCents: 400, Currency: "usd", PaymentProvider: "stripe",
		Active: true, ExpiresAt: i64ptr(jan1UTCMillis + 100000),
	})
	store.AddCreditGrant(types.CreditGrant{
		ID: "credit_late", ProjectID: "proj_1", CustomerID: "cust_1",
		TotalAmountCents: 800, Currency: "usd", PaymentProvider: "stripe",
		Active: true, ExpiresAt: i64ptr(jan1UTCMillis + 200000),
	})

	period := types.BillingPeriod{
		ID:                 "period_1",
		ProjectID:          "proj_1",
		SubscriptionID:     "sub_1",
		SubscriptionItemID: "item_1",
		GrantID:            "grant_1",
		CycleStartAt:       jan1UTCMillis,
		CycleEndAt:         feb1UTCMillis,
		Type:               types.BillingPeriodNormal,
	}

	flatCfg := types.PriceConfig{FeatureType: types.FeatureTypeFlat, FlatPrice: decimal.NewFromInt(1000)}

	inv, err := f.Finalize(context.Background(), FinalizeInput{
		Items: []FinalizeItemInput{{
			Period:               period,
			FeaturePlanVersionID: "fpv_1",
			FeatureSlug:          "seats",
			FeatureType:          types.FeatureTypeFlat,
			PriceConfig:          flatCfg,
			Quantity:             decimal.NewFromInt(1),
		}},
		Currency:           "usd",
		PaymentProvider:    "stripe",
		CollectionMethod:   types.CollectionChargeAutomatically,
		CustomerID:         "cust_1",
		DueAt:              jan1UTCMillis,
		PastDueAt:          jan1UTCMillis,
		EffectiveStartDate: jan1UTCMillis,
	})
	require.NoError(t, err)

	require.Equal(t, int64(1000), inv.AmountCreditUsedCents)
	require.Equal(t, int64(0), inv.TotalCents)
	require.Equal(t, types.InvoiceStatusVoid, inv.Status)
}

// TestFinalize_MultiFeatureCycleGroupSharesOneAnalyticsCall reproduces
// spec.md §4.6.2 steps 2-3: two usage-fed features sharing one billing
// cycle are batched into a single Analytics.GetUsageBillingFeatures
// call and priced from its results, alongside a directly-quantified
// flat-rate item in the same cycle group priced without touching
// Analytics at all.
func TestFinalize_MultiFeatureCycleGroupSharesOneAnalyticsCall(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	analytics := testutil.NewInMemoryAnalytics()
	analytics.SetUsage("api_calls", "5")
	analytics.SetUsage("storage_gb", "2")
	f := NewFinalizer(store, analytics, logger.NewNop())

	cycle := types.BillingPeriod{
		ProjectID:      "proj_1",
		SubscriptionID: "sub_1",
		CycleStartAt:   jan1UTCMillis,
		CycleEndAt:     feb1UTCMillis,
		Type:           types.BillingPeriodNormal,
	}

	apiPeriod := cycle
	apiPeriod.ID, apiPeriod.SubscriptionItemID, apiPeriod.GrantID = "period_api", "item_api", "grant_api"
	storagePeriod := cycle
	storagePeriod.ID, storagePeriod.SubscriptionItemID, storagePeriod.GrantID = "period_storage", "item_storage", "grant_storage"
	seatsPeriod := cycle
	seatsPeriod.ID, seatsPeriod.SubscriptionItemID, seatsPeriod.GrantID = "period_seats", "item_seats", "grant_seats"

	flatUnit := decimal.NewFromInt(10)
	inv, err := f.Finalize(context.Background(), FinalizeInput{
		Items: []FinalizeItemInput{
			{
				Period: apiPeriod, FeaturePlanVersionID: "fpv_api", FeatureSlug: "api_calls",
				FeatureType: types.FeatureTypeUsage, AggregationMethod: types.AggregationSum,
				PriceConfig: types.PriceConfig{FeatureType: types.FeatureTypeUsage, TierMode: types.TierModeVolume,
					Tiers: []types.TierBracket{{FirstUnit: 1, LastUnit: nil, UnitPrice: decimal.NewFromInt(10)}}},
			},
			{
				Period: storagePeriod, FeaturePlanVersionID: "fpv_storage", FeatureSlug: "storage_gb",
				FeatureType: types.FeatureTypeUsage, AggregationMethod: types.AggregationMax,
				PriceConfig: types.PriceConfig{FeatureType: types.FeatureTypeUsage, TierMode: types.TierModeVolume,
					Tiers: []types.TierBracket{{FirstUnit: 1, LastUnit: nil, UnitPrice: decimal.NewFromInt(25)}}},
			},
			{
				Period: seatsPeriod, FeaturePlanVersionID: "fpv_seats", FeatureSlug: "seats",
				FeatureType: types.FeatureTypeFlat, Quantity: decimal.NewFromInt(1),
				PriceConfig: types.PriceConfig{FeatureType: types.FeatureTypeFlat, FlatPrice: flatUnit},
			},
		},
		Currency:           "usd",
		PaymentProvider:    "stripe",
		CollectionMethod:   types.CollectionChargeAutomatically,
		CustomerID:         "cust_1",
		DueAt:              feb1UTCMillis,
		PastDueAt:          feb1UTCMillis + 86400000*7,
		EffectiveStartDate: jan1UTCMillis,
	})
	require.NoError(t, err)

	// api_calls: 5 * 10 = 50, storage_gb: 2 * 25 = 50, seats: flat 10.
	require.Equal(t, int64(110), inv.SubtotalCents)

	_, items, err := store.GetInvoice(context.Background(), "proj_1", inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)

	byFeature := map[string]types.InvoiceItem{}
	for _, it := range items {
		byFeature[it.FeaturePlanVersionID] = it
	}
	require.Equal(t, int64(50), byFeature["fpv_api"].AmountTotalCents)
	require.Equal(t, int64(50), byFeature["fpv_storage"].AmountTotalCents)
	require.Equal(t, int64(10), byFeature["fpv_seats"].AmountTotalCents)
}

// TestFinalize_UnmatchedUsageFeatureZeroedNotOmitted reproduces spec.md
// §4.6.2 step 3b: a usage-fed feature absent from the Analytics result
// set still produces a (zero-quantity) invoice item rather than being
// dropped.
func TestFinalize_UnmatchedUsageFeatureZeroedNotOmitted(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	analytics := testutil.NewInMemoryAnalytics() // no usage staged at all
	f := NewFinalizer(store, analytics, logger.NewNop())

	period := types.BillingPeriod{
		ID:                 "period_1",
		ProjectID:          "proj_1",
		SubscriptionID:     "sub_1",
		SubscriptionItemID: "item_1",
		GrantID:            "grant_1",
		CycleStartAt:       jan1UTCMillis,
		CycleEndAt:         feb1UTCMillis,
		Type:               types.BillingPeriodNormal,
	}

	inv, err := f.Finalize(context.Background(), FinalizeInput{
		Items: []FinalizeItemInput{{
			Period:               period,
			FeaturePlanVersionID: "fpv_1",
			FeatureSlug:          "unprovisioned_feature",
			FeatureType:          types.FeatureTypeUsage,
			AggregationMethod:    types.AggregationSum,
			PriceConfig: types.PriceConfig{FeatureType: types.FeatureTypeUsage, TierMode: types.TierModeVolume,
				Tiers: []types.TierBracket{{FirstUnit: 0, LastUnit: nil, UnitPrice: decimal.NewFromInt(10)}}},
		}},
		Currency:           "usd",
		PaymentProvider:    "stripe",
		CollectionMethod:   types.CollectionChargeAutomatically,
		CustomerID:         "cust_1",
		DueAt:              feb1UTCMillis,
		PastDueAt:          feb1UTCMillis + 86400000*7,
		EffectiveStartDate: jan1UTCMillis,
	})
	require.NoError(t, err)

	_, items, err := store.GetInvoice(context.Background(), "proj_1", inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 1, "zero-usage feature must still produce a line item")
	require.Equal(t, int64(0), items[0].AmountTotalCents)
	require.True(t, items[0].Quantity.IsZero())
}

func i64ptr(v int64) *int64 { return &v }
