package cyclecalc

import (
	"math"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

// PriceResult is the output of CalculatePricePerFeature, expressed in
// integer minor units ("cents").
type PriceResult struct {
	UnitPriceCents    int64
	SubtotalPriceCents int64
	TotalPriceCents   int64
}

// PriceInput bundles a price config with the measured quantity and
// whether the final total should be scaled by a proration factor.
type PriceInput struct {
	Config      types.PriceConfig
	FeatureType types.FeatureType
	Quantity    decimal.Decimal
	Prorate     float64
}

// CalculatePricePerFeature computes unit/subtotal/total price in minor
// units. Rounding is half-away-from-zero, applied exactly once at the
// final minor-unit boundary (spec.md §9 Design Notes).
func CalculatePricePerFeature(in PriceInput) (PriceResult, error) {
	if err := in.Config.Validate(); err != nil {
		return PriceResult{}, ierr.WithError(err).
			WithHint("invalid price config").
			Mark(ierr.ErrCycleCalculationFailed)
	}
	if in.Prorate < 0 || in.Prorate > 1 {
		return PriceResult{}, ierr.NewError("prorate factor out of range").
			WithHintf("prorate=%f", in.Prorate).
			Mark(ierr.ErrCycleCalculationFailed)
	}

	var subtotal decimal.Decimal

	switch in.FeatureType {
	case types.FeatureTypeFlat:
		subtotal = in.Config.FlatPrice

	case types.FeatureTypeTier, types.FeatureTypeUsage:
		q := in.Quantity
		if q.IsNegative() {
			q = decimal.Zero
		}
		switch in.Config.TierMode {
		case types.TierModeVolume:
			bracket, ok := findBracket(in.Config.Tiers, q)
			if !ok {
				return PriceResult{}, ierr.NewError("quantity outside all tier brackets").
					Mark(ierr.ErrCycleCalculationFailed)
			}
			subtotal = q.Mul(bracket.UnitPrice).Add(bracket.FlatPrice)
		default: // graduated
			subtotal = decimal.Zero
			for _, b := range in.Config.Tiers {
				last := q
				if b.LastUnit != nil {
					last = decimal.Min(q, decimal.NewFromInt(*b.LastUnit))
				}
				first := decimal.NewFromInt(b.FirstUnit)
				if last.LessThan(first) {
					continue
				}
				units := last.Sub(first).Add(decimal.NewFromInt(1))
				if units.IsNegative() {
					continue
				}
				subtotal = subtotal.Add(units.Mul(b.UnitPrice)).Add(b.FlatPrice)
				if b.LastUnit != nil && q.LessThanOrEqual(decimal.NewFromInt(*b.LastUnit)) {
					break
				}
			}
		}

	case types.FeatureTypePackage:
		q := in.Quantity
		if q.IsNegative() {
			q = decimal.Zero
		}
		if in.Config.UnitsPerPackage <= 0 {
			return PriceResult{}, ierr.NewError("package units must be positive").
				Mark(ierr.ErrCycleCalculationFailed)
		}
		units := decimal.NewFromInt(in.Config.UnitsPerPackage)
		packages := q.Div(units)
		packages = decimal.NewFromFloat(math.Ceil(mustFloat(packages)))
		subtotal = packages.Mul(in.Config.PricePerPackage)

	default:
		return PriceResult{}, ierr.NewError("unknown feature type").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	total := subtotal.Mul(decimal.NewFromFloat(in.Prorate))

	unitCents := roundCents(unitPrice(in.Config, in.FeatureType))
	subtotalCents := roundCents(subtotal)
	totalCents := roundCents(total)

	return PriceResult{
		UnitPriceCents:     unitCents,
		SubtotalPriceCents: subtotalCents,
		TotalPriceCents:    totalCents,
	}, nil
}

func unitPrice(cfg types.PriceConfig, ft types.FeatureType) decimal.Decimal {
	switch ft {
	case types.FeatureTypeFlat:
		return cfg.FlatPrice
	case types.FeatureTypePackage:
		return cfg.PricePerPackage
	case types.FeatureTypeTier, types.FeatureTypeUsage:
		if len(cfg.Tiers) > 0 {
			return cfg.Tiers[0].UnitPrice
		}
	}
	return decimal.Zero
}

func findBracket(tiers []types.TierBracket, q decimal.Decimal) (types.TierBracket, bool) {
	for _, b := range tiers {
		first := decimal.NewFromInt(b.FirstUnit)
		if q.LessThan(first) {
			continue
		}
		if b.LastUnit == nil || q.LessThanOrEqual(decimal.NewFromInt(*b.LastUnit)) {
			return b, true
		}
	}
	return types.TierBracket{}, false
}

// roundCents rounds a decimal amount in major-unit-scaled cents
// half-away-from-zero to the nearest integer minor unit.
func roundCents(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
