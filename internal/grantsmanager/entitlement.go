package grantsmanager

import (
	"context"
	"time"

	"github.com/flexprice/flexcore/internal/cyclecalc"
	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

// ComputeEntitlementFromGrants merges the given grants for one feature,
// folds in the prior state's mutable usage counters (never clobbering
// them), runs NormalizeCycleUsage, and upserts the result. usageOverride,
// when non-nil, replaces the current-cycle usage counter before
// persisting — used by EntitlementService when rematerializing across a
// cycle boundary so usage is preserved (spec.md §4.5.1 step 2).
func (m *Manager) ComputeEntitlementFromGrants(ctx context.Context, projectID, customerID, featureSlug string, grants []types.Grant, now int64, usageOverride *decimal.Decimal) (types.EntitlementState, error) {
	if len(grants) == 0 {
		return types.EntitlementState{}, ierr.NewError("no grants to merge").
			WithHintf("project=%s customer=%s feature=%s", projectID, customerID, featureSlug).
			Mark(ierr.ErrEntitlementNotFound)
	}

	merged, err := MergeGrants(grants, nil)
	if err != nil {
		return types.EntitlementState{}, err
	}

	version, err := snapshotHash(merged.Grants)
	if err != nil {
		return types.EntitlementState{}, ierr.WithError(err).
			WithHint("failed to hash grant snapshot").
			Mark(ierr.ErrSystem)
	}

	prior, found, err := m.store.GetEntitlementState(ctx, projectID, customerID, featureSlug)
	if err != nil {
		return types.EntitlementState{}, ierr.WithError(err).
			WithHint("failed to read prior entitlement state").
			Mark(ierr.ErrStorageFailed)
	}

	state := types.EntitlementState{
		ProjectID:         projectID,
		CustomerID:        customerID,
		FeatureSlug:       featureSlug,
		FeatureType:       merged.FeatureType,
		AggregationMethod: merged.AggregationMethod,
		ResetConfig:       merged.ResetConfig,
		MergingPolicy:     merged.MergingPolicy,
		Limit:             merged.Limit,
		AllowOverage:      merged.AllowOverage,
		Grants:            merged.Grants,
		EffectiveAt:       merged.EffectiveAt,
		ExpiresAt:         merged.ExpiresAt,
		Version:           version,
		ComputedAt:        now,
	}

	if found {
		state.CurrentCycleUsage = prior.CurrentCycleUsage
		state.AccumulatedUsage = prior.AccumulatedUsage
		state.LastSyncAt = prior.LastSyncAt
		state.NextRevalidateAt = prior.NextRevalidateAt
	}
	if usageOverride != nil {
		state.CurrentCycleUsage = *usageOverride
	}

	state = NormalizeCycleUsage(state, now)

	clampEntitlementExpiry(&state, grants, now)

	if err := m.store.UpsertEntitlementState(ctx, state); err != nil {
		return types.EntitlementState{}, ierr.WithError(err).
			WithHint("failed to persist entitlement state").
			Mark(ierr.ErrStorageFailed)
	}
	return state, nil
}

// clampEntitlementExpiry sets ExpiresAt to the earliest of: the winning
// grant union end, the active-grant earliest end, and the current reset
// cycle end (spec.md §3 EntitlementState invariants).
func clampEntitlementExpiry(state *types.EntitlementState, grants []types.Grant, now int64) {
	earliest := state.ExpiresAt

	for _, g := range grants {
		if !g.ActiveAt(now) {
			continue
		}
		if g.ExpiresAt != nil && (earliest == nil || *g.ExpiresAt < *earliest) {
			earliest = g.ExpiresAt
		}
	}

	if state.ResetConfig != nil {
		w, ok, err := cyclecalc.CalculateCycleWindow(now, state.EffectiveAt, nil, *state.ResetConfig, nil)
		if err == nil && ok {
			if earliest == nil || w.End < *earliest {
				end := w.End
				earliest = &end
			}
		}
	}

	state.ExpiresAt = earliest
}

// NormalizeCycleUsage is the safety-net reset: if the reset cycle
// containing `now` differs from the reset cycle containing
// state.EffectiveAt, the current-cycle usage counter folds into
// accumulated usage and resets to zero. Aggregations whose suffix is
// "_all" never reset (spec.md §4.3.6).
func NormalizeCycleUsage(state types.EntitlementState, now int64) types.EntitlementState {
	if state.ResetConfig == nil || state.AggregationMethod.IsAll() {
		return state
	}

	currentWindow, ok1, err1 := cyclecalc.CalculateCycleWindow(now, state.EffectiveAt, nil, *state.ResetConfig, nil)
	effectiveWindow, ok2, err2 := cyclecalc.CalculateCycleWindow(state.EffectiveAt, state.EffectiveAt, nil, *state.ResetConfig, nil)
	if err1 != nil || err2 != nil || !ok1 || !ok2 {
		return state
	}

	if currentWindow.Start == effectiveWindow.Start {
		return state
	}

	state.AccumulatedUsage = state.AccumulatedUsage.Add(state.CurrentCycleUsage)
	state.CurrentCycleUsage = decimal.Zero
	state.EffectiveAt = currentWindow.Start
	state.NextRevalidateAt = now + int64(time.Hour/time.Millisecond)
	return state
}
