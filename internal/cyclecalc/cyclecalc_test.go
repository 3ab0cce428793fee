package cyclecalc

import (
	"testing"

	"github.com/flexprice/flexcore/internal/types"
	"github.com/stretchr/testify/require"
)

func monthlyCfg(anchor int) types.BillingConfig {
	return types.BillingConfig{
		PlanType:      types.PlanTypeRecurring,
		Interval:      types.IntervalMonth,
		IntervalCount: 1,
		Anchor:        anchor,
	}
}

func TestCalculateCycleWindow_Monthly(t *testing.T) {
	cfg := monthlyCfg(1)
	effectiveStart := int64(1704067200000) // 2024-01-01 00:00:00 UTC

	w, ok, err := CalculateCycleWindow(effectiveStart+86400000*15, effectiveStart, nil, cfg, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, effectiveStart, w.Start)
	require.Equal(t, int64(1706745600000), w.End) // 2024-02-01 00:00:00 UTC
}

func TestCalculateCycleWindow_OutsideEffectiveRange(t *testing.T) {
	cfg := monthlyCfg(1)
	effectiveStart := int64(1704067200000)

	_, ok, err := CalculateCycleWindow(effectiveStart-1000, effectiveStart, nil, cfg, nil)
	require.NoError(t, err)
	require.False(t, ok)

	end := effectiveStart + 1000
	_, ok, err = CalculateCycleWindow(end+86400000, effectiveStart, &end, cfg, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCalculateCycleWindow_Onetime(t *testing.T) {
	cfg := types.BillingConfig{PlanType: types.PlanTypeOnetime}
	effectiveStart := int64(1704067200000)

	w, ok, err := CalculateCycleWindow(effectiveStart+100, effectiveStart, nil, cfg, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, effectiveStart, w.Start)
}

func TestCalculateCycleWindow_TrialFlag(t *testing.T) {
	cfg := monthlyCfg(1)
	effectiveStart := int64(1704067200000)
	trialEnd := effectiveStart + 86400000*10

	w, ok, err := CalculateCycleWindow(effectiveStart+100, effectiveStart, nil, cfg, &trialEnd)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, w.IsTrial)
}

func TestCalculateNextNCycles(t *testing.T) {
	cfg := monthlyCfg(1)
	effectiveStart := int64(1704067200000) // 2024-01-01

	windows, err := CalculateNextNCycles(effectiveStart, effectiveStart, nil, nil, cfg, 2)
	require.NoError(t, err)
	require.Len(t, windows, 3) // the reference cycle plus 2 more
	require.Equal(t, effectiveStart, windows[0].Start)
	require.Equal(t, windows[0].End, windows[1].Start)
	require.Equal(t, windows[1].End, windows[2].Start)
}

func TestCalculateProration_FullCycle(t *testing.T) {
	cfg := monthlyCfg(1)
	effectiveStart := int64(1704067200000)
	cycleEnd := int64(1706745600000)

	res, err := CalculateProration(ProrationInput{
		ServiceStart:       effectiveStart,
		ServiceEnd:         cycleEnd,
		EffectiveStartDate: effectiveStart,
		BillingConfig:      cfg,
	})
	require.NoError(t, err)
	require.InDelta(t, 1.0, res.ProrationFactor, 1e-9)
}

func TestCalculateProration_PartialCycle(t *testing.T) {
	cfg := monthlyCfg(1)
	effectiveStart := int64(1704067200000)
	cycleEnd := int64(1706745600000)
	half := effectiveStart + (cycleEnd-effectiveStart)/2

	res, err := CalculateProration(ProrationInput{
		ServiceStart:       effectiveStart,
		ServiceEnd:         half,
		EffectiveStartDate: effectiveStart,
		BillingConfig:      cfg,
	})
	require.NoError(t, err)
	require.InDelta(t, 0.5, res.ProrationFactor, 1e-6)
}

func TestCalculateProration_InvalidWindow(t *testing.T) {
	cfg := monthlyCfg(1)
	_, err := CalculateProration(ProrationInput{
		ServiceStart:       100,
		ServiceEnd:         100,
		EffectiveStartDate: 100,
		BillingConfig:      cfg,
	})
	require.Error(t, err)
}

func TestCalculateFreeUnits_ExplicitField(t *testing.T) {
	units, err := CalculateFreeUnits(types.PriceConfig{
		FeatureType: types.FeatureTypeUsage,
		FreeUnits:   50,
	})
	require.NoError(t, err)
	require.Equal(t, int64(50), units)
}

func TestCalculateFreeUnits_FromZeroPricedFirstTier(t *testing.T) {
	nine := int64(9)
	units, err := CalculateFreeUnits(types.PriceConfig{
		FeatureType: types.FeatureTypeTier,
		Tiers: []types.TierBracket{
			{FirstUnit: 0, LastUnit: &nine},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), units)
}

func TestCalculateFreeUnits_FlatFeatureHasNone(t *testing.T) {
	units, err := CalculateFreeUnits(types.PriceConfig{FeatureType: types.FeatureTypeFlat})
	require.NoError(t, err)
	require.Equal(t, int64(0), units)
}
