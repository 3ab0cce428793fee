package grantsmanager

import (
	"context"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

// VerificationResult is the outcome of Verify.
type VerificationResult struct {
	Allowed      bool
	DeniedReason types.DeniedReason
	Usage        decimal.Decimal
	Limit        *decimal.Decimal
}

// Verify checks whether a feature is currently permitted, without
// recording consumption.
func Verify(state types.EntitlementState, now int64) VerificationResult {
	if state.FeatureType == types.FeatureTypeFlat {
		return VerificationResult{Allowed: true, Usage: decimal.NewFromInt(1), Limit: ptrDec(decimal.NewFromInt(1))}
	}

	if !hasActiveGrant(state, now) {
		return VerificationResult{Allowed: false, DeniedReason: types.DeniedReasonEntitlementMissing}
	}

	if state.Limit != nil && state.CurrentCycleUsage.GreaterThanOrEqual(*state.Limit) {
		return VerificationResult{
			Allowed:      false,
			DeniedReason: types.DeniedReasonLimitExceeded,
			Usage:        state.CurrentCycleUsage,
			Limit:        state.Limit,
		}
	}

	return VerificationResult{
		Allowed: true,
		Usage:   state.CurrentCycleUsage,
		Limit:   state.Limit,
	}
}

func hasActiveGrant(state types.EntitlementState, now int64) bool {
	for _, g := range state.Grants {
		if now >= g.EffectiveAt && (g.ExpiresAt == nil || now < *g.ExpiresAt) {
			return true
		}
	}
	return false
}

func ptrDec(d decimal.Decimal) *decimal.Decimal { return &d }

// ConsumedFrom is one grant's share of an attributed consumption.
type ConsumedFrom struct {
	GrantID string
	Amount  decimal.Decimal
}

// ReportUsageResult is the outcome of Consume.
type ReportUsageResult struct {
	Allowed          bool
	Usage            decimal.Decimal
	AccumulatedUsage decimal.Decimal
	EffectiveAt      int64
	Limit            *decimal.Decimal
	ConsumedFrom     []ConsumedFrom
	DeniedReason     types.DeniedReason
	NotifiedOverLimit bool
}

// Consume records usage against the merged entitlement, re-merging the
// currently active grants first (in case one expired between snapshot
// and now), then attributing the consumed amount waterfall-style across
// grants priority-descending.
func (m *Manager) Consume(ctx context.Context, state types.EntitlementState, amount decimal.Decimal, now int64) (types.EntitlementState, ReportUsageResult, error) {
	state = NormalizeCycleUsage(state, now)

	if amount.IsNegative() && !state.AggregationMethod.IsReversible() {
		return state, ReportUsageResult{}, ierr.NewError("negative amount on non-reversible aggregation").
			WithHintf("aggregation=%s amount=%s", state.AggregationMethod, amount).
			Mark(ierr.ErrIncorrectUsageReporting)
	}

	activeGrants := activeSnapshots(state.Grants, now)
	if len(activeGrants) == 0 {
		return state, ReportUsageResult{
			Allowed:      false,
			DeniedReason: types.DeniedReasonEntitlementMissing,
		}, nil
	}

	effLimit := state.Limit
	allowOverage := state.AllowOverage
	if state.MergingPolicy == types.MergingPolicySum {
		var sum decimal.Decimal
		anyLimit := false
		allowOverage = false
		for _, g := range activeGrants {
			if g.Limit != nil {
				sum = sum.Add(*g.Limit)
				anyLimit = true
			}
			allowOverage = allowOverage || g.AllowOverage
		}
		effLimit = nil
		if anyLimit {
			effLimit = &sum
		}
	}

	newUsage := state.CurrentCycleUsage.Add(amount)
	allowed := effLimit == nil || newUsage.LessThanOrEqual(*effLimit) || allowOverage

	result := ReportUsageResult{
		Allowed:     allowed,
		EffectiveAt: state.EffectiveAt,
		Limit:       effLimit,
	}

	if !allowed {
		result.DeniedReason = types.DeniedReasonLimitExceeded
		result.Usage = state.CurrentCycleUsage
		result.AccumulatedUsage = state.AccumulatedUsage
		return state, result, nil
	}

	result.ConsumedFrom = attribute(activeGrants, amount, allowOverage)

	state.CurrentCycleUsage = newUsage
	result.Usage = state.CurrentCycleUsage
	result.AccumulatedUsage = state.AccumulatedUsage
	result.NotifiedOverLimit = effLimit != nil && newUsage.GreaterThan(*effLimit)

	return state, result, nil
}

func activeSnapshots(grants []types.GrantSnapshot, now int64) []types.GrantSnapshot {
	var out []types.GrantSnapshot
	for _, g := range grants {
		if now >= g.EffectiveAt && (g.ExpiresAt == nil || now < *g.ExpiresAt) {
			out = append(out, g)
		}
	}
	sortSnapshotsByPriorityDesc(out)
	return out
}

func sortSnapshotsByPriorityDesc(grants []types.GrantSnapshot) {
	for i := 1; i < len(grants); i++ {
		for j := i; j > 0 && grants[j-1].Priority < grants[j].Priority; j-- {
			grants[j-1], grants[j] = grants[j], grants[j-1]
		}
	}
}

// attribute walks active grants priority-descending, attributing
// min(remaining, grant.Limit) to each until remaining <= 0. Any leftover
// (overage) is attributed to the highest-priority grant with
// AllowOverage, else to the top-priority grant — never dropped.
func attribute(grants []types.GrantSnapshot, amount decimal.Decimal, allowOverage bool) []ConsumedFrom {
	remaining := amount
	var out []ConsumedFrom

	for _, g := range grants {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		cap := remaining
		if g.Limit != nil && g.Limit.LessThan(remaining) {
			cap = *g.Limit
		}
		if cap.LessThanOrEqual(decimal.Zero) {
			continue
		}
		out = append(out, ConsumedFrom{GrantID: g.GrantID, Amount: cap})
		remaining = remaining.Sub(cap)
	}

	if remaining.GreaterThan(decimal.Zero) && len(grants) > 0 {
		target := grants[0]
		for _, g := range grants {
			if g.AllowOverage {
				target = g
				break
			}
		}
		out = append(out, ConsumedFrom{GrantID: target.GrantID, Amount: remaining})
	}

	return out
}
