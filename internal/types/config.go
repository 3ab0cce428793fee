package types

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPriceConfig = errors.New("invalid price config for feature type")
	ErrTierGapOrOverlap   = errors.New("tier brackets have a gap or overlap")
)

// BillingConfig describes a recurring or one-time cadence: the interval
// unit, a multiplier on that unit, the calendar anchor that fixes cycle
// boundaries, and the plan type. ResetConfig reuses this same shape to
// describe a usage-reset cadence independent of billing.
type BillingConfig struct {
	PlanType      PlanType        `json:"planType"`
	Interval      BillingInterval `json:"interval"`
	IntervalCount int             `json:"intervalCount"`
	Anchor        int             `json:"anchor"`
}

// TierBracket is one bracket of a graduated or volume pricing ladder.
// FirstUnit is inclusive; LastUnit nil means unbounded (the final bracket).
type TierBracket struct {
	FirstUnit int64           `json:"firstUnit"`
	LastUnit  *int64          `json:"lastUnit,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	FlatPrice decimal.Decimal `json:"flatPrice"`
}

// PriceConfig is a tagged variant keyed by FeatureType — modeling the
// source's opaque "config" JSON bag as a compile-time-distinguishable
// shape per spec.md §9 Design Notes. Exactly one of the feature-type
// specific fields is populated, selected by FeatureType.
type PriceConfig struct {
	FeatureType FeatureType `json:"featureType"`

	// FeatureTypeFlat
	FlatPrice decimal.Decimal `json:"flatPrice,omitempty"`

	// FeatureTypeTier, FeatureTypeUsage
	TierMode  TierMode      `json:"tierMode,omitempty"`
	Tiers     []TierBracket `json:"tiers,omitempty"`
	FreeUnits int64         `json:"freeUnits,omitempty"`

	// FeatureTypePackage
	UnitsPerPackage int64           `json:"unitsPerPackage,omitempty"`
	PricePerPackage decimal.Decimal `json:"pricePerPackage,omitempty"`
}

// Validate rejects ambiguous or malformed shapes at load, per spec.md §9
// ("reject ambiguous shapes at load").
func (c PriceConfig) Validate() error {
	switch c.FeatureType {
	case FeatureTypeFlat:
		if c.FlatPrice.IsNegative() {
			return ErrInvalidPriceConfig
		}
	case FeatureTypeTier, FeatureTypeUsage:
		if len(c.Tiers) == 0 {
			return ErrInvalidPriceConfig
		}
		if c.TierMode != TierModeGraduated && c.TierMode != TierModeVolume {
			return ErrInvalidPriceConfig
		}
		var prevLast int64 = -1
		for i, t := range c.Tiers {
			// The first bracket may start at 0 (a zero-priced free-unit
			// bracket, per CalculateFreeUnits) or at 1 (the first paid
			// unit, matching the 1-based unit numbering quantities and
			// bracket bounds share everywhere else). Later brackets must
			// continue immediately after the previous one either way.
			if i == 0 {
				if t.FirstUnit != 0 && t.FirstUnit != 1 {
					return ErrTierGapOrOverlap
				}
			} else if t.FirstUnit != prevLast+1 {
				return ErrTierGapOrOverlap
			}
			if t.LastUnit != nil {
				if *t.LastUnit < t.FirstUnit {
					return ErrTierGapOrOverlap
				}
				prevLast = *t.LastUnit
			} else {
				prevLast = int64(1) << 62 // unbounded final bracket
			}
		}
	case FeatureTypePackage:
		if c.UnitsPerPackage <= 0 {
			return ErrInvalidPriceConfig
		}
	}
	return nil
}
