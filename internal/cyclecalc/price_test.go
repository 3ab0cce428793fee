package cyclecalc

import (
	"testing"

	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCalculatePricePerFeature_Flat(t *testing.T) {
	res, err := CalculatePricePerFeature(PriceInput{
		Config:      types.PriceConfig{FeatureType: types.FeatureTypeFlat, FlatPrice: decimal.NewFromInt(2500)},
		FeatureType: types.FeatureTypeFlat,
		Prorate:     1,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2500), res.TotalPriceCents)
	require.Equal(t, int64(2500), res.SubtotalPriceCents)
}

func TestCalculatePricePerFeature_Flat_Prorated(t *testing.T) {
	res, err := CalculatePricePerFeature(PriceInput{
		Config:      types.PriceConfig{FeatureType: types.FeatureTypeFlat, FlatPrice: decimal.NewFromInt(2500)},
		FeatureType: types.FeatureTypeFlat,
		Prorate:     0.5,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1250), res.TotalPriceCents)
}

// TestCalculatePricePerFeature_GraduatedTiers reproduces spec.md §8
// scenario 3: tiers 1-10@$1, 11-20@$0.50, 21-∞@$0.20, quantity 25 ->
// 1000 + 500 + 100 = 1600 cents.
func TestCalculatePricePerFeature_GraduatedTiers(t *testing.T) {
	ten := int64(10)
	twenty := int64(20)
	cfg := types.PriceConfig{
		FeatureType: types.FeatureTypeTier,
		TierMode:    types.TierModeGraduated,
		Tiers: []types.TierBracket{
			{FirstUnit: 1, LastUnit: &ten, UnitPrice: decimal.NewFromInt(100)},
			{FirstUnit: 11, LastUnit: &twenty, UnitPrice: decimal.NewFromInt(50)},
			{FirstUnit: 21, LastUnit: nil, UnitPrice: decimal.NewFromInt(20)},
		},
	}

	res, err := CalculatePricePerFeature(PriceInput{
		Config:      cfg,
		FeatureType: types.FeatureTypeTier,
		Quantity:    decimal.NewFromInt(25),
		Prorate:     1,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1600), res.SubtotalPriceCents)
	require.Equal(t, int64(1600), res.TotalPriceCents)
}

func TestCalculatePricePerFeature_GraduatedTiers_WithinFirstBracket(t *testing.T) {
	ten := int64(10)
	cfg := types.PriceConfig{
		FeatureType: types.FeatureTypeTier,
		TierMode:    types.TierModeGraduated,
		Tiers: []types.TierBracket{
			{FirstUnit: 1, LastUnit: &ten, UnitPrice: decimal.NewFromInt(100)},
			{FirstUnit: 11, LastUnit: nil, UnitPrice: decimal.NewFromInt(50)},
		},
	}

	res, err := CalculatePricePerFeature(PriceInput{
		Config:      cfg,
		FeatureType: types.FeatureTypeTier,
		Quantity:    decimal.NewFromInt(5),
		Prorate:     1,
	})
	require.NoError(t, err)
	require.Equal(t, int64(500), res.SubtotalPriceCents)
}

func TestCalculatePricePerFeature_Volume(t *testing.T) {
	ten := int64(10)
	cfg := types.PriceConfig{
		FeatureType: types.FeatureTypeUsage,
		TierMode:    types.TierModeVolume,
		Tiers: []types.TierBracket{
			{FirstUnit: 0, LastUnit: &ten, UnitPrice: decimal.NewFromInt(100)},
			{FirstUnit: 11, LastUnit: nil, UnitPrice: decimal.NewFromInt(50)},
		},
	}

	res, err := CalculatePricePerFeature(PriceInput{
		Config:      cfg,
		FeatureType: types.FeatureTypeUsage,
		Quantity:    decimal.NewFromInt(15),
		Prorate:     1,
	})
	require.NoError(t, err)
	// Volume pricing: the whole quantity is priced at the bracket it
	// falls into (15 falls in the 11-∞ bracket at $0.50/unit).
	require.Equal(t, int64(750), res.SubtotalPriceCents)
}

func TestCalculatePricePerFeature_Package(t *testing.T) {
	cfg := types.PriceConfig{
		FeatureType:     types.FeatureTypePackage,
		UnitsPerPackage: 1000,
		PricePerPackage: decimal.NewFromInt(500),
	}

	res, err := CalculatePricePerFeature(PriceInput{
		Config:      cfg,
		FeatureType: types.FeatureTypePackage,
		Quantity:    decimal.NewFromInt(1500),
		Prorate:     1,
	})
	require.NoError(t, err)
	// 1500 units / 1000-unit packages rounds up to 2 packages.
	require.Equal(t, int64(1000), res.SubtotalPriceCents)
}

func TestCalculatePricePerFeature_InvalidConfigRejected(t *testing.T) {
	_, err := CalculatePricePerFeature(PriceInput{
		Config:      types.PriceConfig{FeatureType: types.FeatureTypeTier, TierMode: types.TierModeGraduated},
		FeatureType: types.FeatureTypeTier,
		Quantity:    decimal.NewFromInt(1),
		Prorate:     1,
	})
	require.Error(t, err)
}

func TestCalculatePricePerFeature_ProrateOutOfRangeRejected(t *testing.T) {
	_, err := CalculatePricePerFeature(PriceInput{
		Config:      types.PriceConfig{FeatureType: types.FeatureTypeFlat, FlatPrice: decimal.NewFromInt(100)},
		FeatureType: types.FeatureTypeFlat,
		Prorate:     1.5,
	})
	require.Error(t, err)
}
