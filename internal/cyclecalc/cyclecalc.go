// Package cyclecalc implements the pure, deterministic calendar and
// monetary arithmetic shared by the entitlement and billing engines:
// cycle windows, multi-cycle enumeration, proration factors, and
// per-feature price calculation. Every function here is a pure function
// of its inputs — no I/O, no wall-clock reads except what callers pass
// in as `now`.
package cyclecalc

import (
	"math"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/types"
)

// Window is a half-open cycle interval [Start, End) in epoch milliseconds.
type Window struct {
	Start   int64
	End     int64
	IsTrial bool
}

func isFinite(ms int64) bool {
	return ms > math.MinInt64/2 && ms < math.MaxInt64/2
}

// CalculateCycleWindow finds the cycle window containing `now`.
//
// For a onetime plan, there is exactly one window: [effectiveStart,
// effectiveEnd ?? +inf). For a recurring plan, an anchor date is derived
// from cfg.Anchor (day-of-month for month/year, day-of-week for week,
// hour-of-day for day, minute-aligned for minute) and the window
// advances by cfg.IntervalCount steps until it contains `now`. Returns
// (Window{}, false, nil) if `now` falls outside [effectiveStart,
// effectiveEnd].
func CalculateCycleWindow(now, effectiveStart int64, effectiveEnd *int64, cfg types.BillingConfig, trialEndsAt *int64) (Window, bool, error) {
	if !isFinite(now) || !isFinite(effectiveStart) {
		return Window{}, false, ierr.NewError("non-finite cycle window input").
			WithHintf("now=%d effectiveStart=%d", now, effectiveStart).
			Mark(ierr.ErrCycleCalculationFailed)
	}
	if effectiveEnd != nil && now > *effectiveEnd {
		return Window{}, false, nil
	}
	if now < effectiveStart {
		return Window{}, false, nil
	}

	if cfg.PlanType == types.PlanTypeOnetime {
		end := int64(math.MaxInt64)
		if effectiveEnd != nil {
			end = *effectiveEnd
		}
		w := Window{Start: effectiveStart, End: end}
		w.IsTrial = trialEndsAt != nil && now <= *trialEndsAt
		return w, true, nil
	}

	if cfg.IntervalCount <= 0 {
		return Window{}, false, ierr.NewError("invalid interval count").
			WithHintf("intervalCount=%d", cfg.IntervalCount).
			Mark(ierr.ErrCycleCalculationFailed)
	}

	start := anchorWindowStart(effectiveStart, cfg)
	for {
		end := advanceByInterval(start, cfg)
		if now < end {
			w := Window{Start: start, End: end}
			if effectiveEnd != nil && w.End > *effectiveEnd {
				w.End = *effectiveEnd
			}
			w.IsTrial = trialEndsAt != nil && start <= *trialEndsAt
			return w, true, nil
		}
		start = end
		if effectiveEnd != nil && start > *effectiveEnd {
			return Window{}, false, nil
		}
	}
}

// CalculateNextNCycles enumerates windows from effectiveStartDate
// forward. When count == 0, it stops at (and includes) the window
// containing referenceDate. Otherwise, it yields `count` windows after
// that one. Each window is flagged IsTrial if it lies inside
// [effectiveStartDate, trialEndsAt].
func CalculateNextNCycles(referenceDate, effectiveStartDate int64, effectiveEndDate, trialEndsAt *int64, cfg types.BillingConfig, count int) ([]Window, error) {
	var windows []Window

	cursor := effectiveStartDate
	for {
		w, ok, err := CalculateCycleWindow(cursor, effectiveStartDate, effectiveEndDate, cfg, trialEndsAt)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		windows = append(windows, w)

		if w.End > referenceDate {
			// We've reached (or passed) the cycle containing the
			// reference date; emit `count` more and stop.
			for i := 0; i < count; i++ {
				next := w.End
				nw, ok, err := CalculateCycleWindow(next, effectiveStartDate, effectiveEndDate, cfg, trialEndsAt)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				windows = append(windows, nw)
				w = nw
			}
			break
		}

		cursor = w.End
		if effectiveEndDate != nil && cursor > *effectiveEndDate {
			break
		}
	}

	return windows, nil
}

// ProrationResult is the output of CalculateProration.
type ProrationResult struct {
	ProrationFactor    float64
	ReferenceCycleStart int64
	ReferenceCycleEnd   int64
}

// ProrationInput bundles the window being served against the cycle that
// contains it.
type ProrationInput struct {
	ServiceStart       int64
	ServiceEnd         int64
	EffectiveStartDate int64
	BillingConfig      types.BillingConfig
}

// CalculateProration computes the fraction of a reference cycle that was
// actually served.
func CalculateProration(in ProrationInput) (ProrationResult, error) {
	if in.ServiceStart >= in.ServiceEnd {
		return ProrationResult{}, ierr.NewError("invalid service window").
			WithHintf("serviceStart=%d serviceEnd=%d", in.ServiceStart, in.ServiceEnd).
			Mark(ierr.ErrCycleCalculationFailed)
	}

	w, ok, err := CalculateCycleWindow(in.ServiceStart, in.EffectiveStartDate, nil, in.BillingConfig, nil)
	if err != nil {
		return ProrationResult{}, err
	}
	if !ok {
		return ProrationResult{}, ierr.NewError("no reference cycle contains service start").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	cycleLen := float64(w.End - w.Start)
	if cycleLen <= 0 {
		return ProrationResult{}, ierr.NewError("degenerate reference cycle").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	factor := float64(in.ServiceEnd-in.ServiceStart) / cycleLen
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}

	return ProrationResult{
		ProrationFactor:     factor,
		ReferenceCycleStart: w.Start,
		ReferenceCycleEnd:   w.End,
	}, nil
}

// CalculateFreeUnits returns the integer free allowance embedded in a
// price config: either the first tier's offset from zero, or an
// explicit FreeUnits field.
func CalculateFreeUnits(cfg types.PriceConfig) (int64, error) {
	switch cfg.FeatureType {
	case types.FeatureTypeTier, types.FeatureTypeUsage:
		if cfg.FreeUnits > 0 {
			return cfg.FreeUnits, nil
		}
		if len(cfg.Tiers) > 0 && cfg.Tiers[0].FirstUnit == 0 && cfg.Tiers[0].UnitPrice.IsZero() {
			if cfg.Tiers[0].LastUnit != nil {
				return *cfg.Tiers[0].LastUnit + 1, nil
			}
		}
		return 0, nil
	default:
		return 0, nil
	}
}

func anchorWindowStart(effectiveStart int64, cfg types.BillingConfig) int64 {
	return alignToAnchor(effectiveStart, cfg)
}

func advanceByInterval(start int64, cfg types.BillingConfig) int64 {
	t := fromMillis(start)
	switch cfg.Interval {
	case types.IntervalMinute:
		return toMillis(t.AddDate(0, 0, 0).Add(durationMinutes(cfg.IntervalCount)))
	case types.IntervalHour:
		return toMillis(t.Add(durationHours(cfg.IntervalCount)))
	case types.IntervalDay:
		return toMillis(t.AddDate(0, 0, cfg.IntervalCount))
	case types.IntervalWeek:
		return toMillis(t.AddDate(0, 0, 7*cfg.IntervalCount))
	case types.IntervalMonth:
		return toMillis(t.AddDate(0, cfg.IntervalCount, 0))
	case types.IntervalYear:
		return toMillis(t.AddDate(cfg.IntervalCount, 0, 0))
	default:
		return toMillis(t.AddDate(0, cfg.IntervalCount, 0))
	}
}
