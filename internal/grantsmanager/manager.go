// Package grantsmanager implements grant creation and overlap
// validation, aggregation of grants across subjects, merging into an
// entitlement snapshot, and waterfall verify/consume attribution — the
// largest single component of the entitlement engine.
package grantsmanager

import (
	"context"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/hashutil"
	"github.com/flexprice/flexcore/internal/idgen"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manager implements grant lifecycle and entitlement merge/attribution.
type Manager struct {
	store  GrantStore
	subCtx SubscriptionContext
	log    *logger.Logger
}

func NewManager(store GrantStore, subCtx SubscriptionContext, log *logger.Logger) *Manager {
	return &Manager{store: store, subCtx: subCtx, log: log}
}

// CreateGrant applies the type->priority map implicitly (Grant.Priority
// reads it off Type) and performs the conflict-free insert. Overlap
// validation within the same (project, subject) runs first: grants
// sharing a feature slug whose
// active intervals overlap the new grant's must share FeatureType,
// AggregationMethod, and ResetConfig.
func (m *Manager) CreateGrant(ctx context.Context, g types.Grant) (types.Grant, error) {
	if g.ID == "" {
		g.ID = idgen.New("grant")
	}

	overlapping, err := m.store.ListOverlappingGrants(ctx, g.ProjectID, g.SubjectType, g.SubjectID, g.FeatureSlug, g.EffectiveAt, g.ExpiresAt)
	if err != nil {
		return types.Grant{}, ierr.WithError(err).
			WithHint("failed to list overlapping grants").
			Mark(ierr.ErrGrantCreateFailed)
	}

	for _, existing := range overlapping {
		if !existing.OverlapsInterval(g.EffectiveAt, g.ExpiresAt) {
			continue
		}
		if existing.FeatureType != g.FeatureType ||
			existing.AggregationMethod != g.AggregationMethod ||
			!resetConfigsEqual(existing.ResetConfig, g.ResetConfig) {
			return types.Grant{}, ierr.NewError("overlapping grant has incompatible shape").
				WithHintf("existing grant %s has featureType=%s aggregation=%s, new grant has featureType=%s aggregation=%s",
					existing.ID, existing.FeatureType, existing.AggregationMethod, g.FeatureType, g.AggregationMethod).
				Mark(ierr.ErrGrantCreateFailed)
		}
	}

	created, ok, err := m.store.CreateGrant(ctx, g)
	if err != nil {
		return types.Grant{}, ierr.WithError(err).
			WithHint("grant insert failed").
			Mark(ierr.ErrGrantCreateFailed)
	}
	if !ok {
		return types.Grant{}, ierr.NewError("grant conflict produced no row").
			WithHintf("grant key (project=%s subject=%s/%s fpv=%s type=%s effectiveAt=%d) already exists",
				g.ProjectID, g.SubjectType, g.SubjectID, g.FeaturePlanVersionID, g.Type, g.EffectiveAt).
			Mark(ierr.ErrGrantCreateFailed)
	}
	return created, nil
}

// FindCoveringGrant passes through to the store so other components
// (e.g. the billing materializer) can resolve a subscription item's
// grant without reimplementing the lookup against GrantStore directly.
func (m *Manager) FindCoveringGrant(ctx context.Context, projectID, featurePlanVersionID, customerID string, start, end int64) (types.Grant, bool, error) {
	return m.store.FindCoveringGrant(ctx, projectID, featurePlanVersionID, customerID, start, end)
}

func resetConfigsEqual(a, b *types.BillingConfig) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// GetGrantsForCustomer reads the customer's current plan context to
// derive the subject list, then loads all non-deleted grants across
// those subjects whose interval intersects the query window, ordered by
// priority descending.
func (m *Manager) GetGrantsForCustomer(ctx context.Context, projectID, customerID string, startAt int64, endAt *int64) ([]types.Grant, error) {
	planID, planVersionID, err := m.subCtx.GetCurrentPlanContext(ctx, projectID, customerID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("failed to resolve current plan context").
			Mark(ierr.ErrSystem)
	}

	subjects := []Subject{
		{Type: types.SubjectCustomer, ID: customerID},
		{Type: types.SubjectProject, ID: projectID},
	}
	if planID != "" {
		subjects = append(subjects, Subject{Type: types.SubjectPlan, ID: planID})
	}
	if planVersionID != "" {
		subjects = append(subjects, Subject{Type: types.SubjectPlanVersion, ID: planVersionID})
	}

	grants, err := m.store.ListActiveGrantsForSubjects(ctx, projectID, subjects, startAt, endAt)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("failed to list grants for subjects").
			Mark(ierr.ErrStorageFailed)
	}

	grants = lo.Filter(grants, func(g types.Grant, _ int) bool { return !g.Deleted })
	sortByPriorityDesc(grants)
	return grants, nil
}

func sortByPriorityDesc(grants []types.Grant) {
	for i := 1; i < len(grants); i++ {
		for j := i; j > 0 && grants[j-1].Priority() < grants[j].Priority(); j-- {
			grants[j-1], grants[j] = grants[j], grants[j-1]
		}
	}
}

// MergeResult is the output of MergeGrants before it is persisted as an
// EntitlementState.
type MergeResult struct {
	FeatureType       types.FeatureType
	AggregationMethod types.AggregationMethod
	ResetConfig       *types.BillingConfig
	MergingPolicy     types.MergingPolicy
	Limit             *decimal.Decimal
	AllowOverage      bool
	EffectiveAt       int64
	ExpiresAt         *int64
	Grants            []types.GrantSnapshot
}

// MergeGrants combines a priority-sorted set of grants for a single
// feature into one entitlement view, per the policy table in spec.md
// §4.3.3. Grants must already be sorted priority descending (as returned
// by GetGrantsForCustomer) and must all share the same feature slug.
func MergeGrants(grants []types.Grant, policyOverride *types.MergingPolicy) (MergeResult, error) {
	if len(grants) == 0 {
		return MergeResult{}, ierr.NewError("cannot merge empty grant set").
			Mark(ierr.ErrEntitlementNotFound)
	}

	top := grants[0]
	policy := types.DefaultMergingPolicyForFeatureType(top.FeatureType)
	if policyOverride != nil {
		policy = *policyOverride
	}

	result := MergeResult{
		FeatureType:       top.FeatureType,
		AggregationMethod: top.AggregationMethod,
		ResetConfig:       top.ResetConfig,
		MergingPolicy:     policy,
	}
	if top.ResetConfig != nil {
		rc := *top.ResetConfig
		rc.Anchor = top.Anchor
		result.ResetConfig = &rc
	}

	switch policy {
	case types.MergingPolicySum:
		var sum decimal.Decimal
		anyLimit := false
		minEff := top.EffectiveAt
		var maxExp *int64
		for _, g := range grants {
			if g.Limit != nil {
				sum = sum.Add(*g.Limit)
				anyLimit = true
			}
			if g.EffectiveAt < minEff {
				minEff = g.EffectiveAt
			}
			if g.ExpiresAt == nil {
				maxExp = nil
			} else if maxExp != nil && *g.ExpiresAt > *maxExp {
				maxExp = g.ExpiresAt
			} else if maxExp == nil && len(result.Grants) == 0 {
				maxExp = g.ExpiresAt
			}
			result.AllowOverage = result.AllowOverage || g.AllowOverage
			result.Grants = append(result.Grants, toSnapshot(g))
		}
		if anyLimit {
			result.Limit = &sum
		}
		result.EffectiveAt = minEff
		result.ExpiresAt = maxExp

	case types.MergingPolicyMax, types.MergingPolicyMin:
		var best *decimal.Decimal
		var winner types.Grant
		allowOverageAny := false
		allowOverageAll := true
		for _, g := range grants {
			if g.Limit == nil {
				allowOverageAll = allowOverageAll && g.AllowOverage
				allowOverageAny = allowOverageAny || g.AllowOverage
				continue
			}
			if best == nil {
				best = g.Limit
				winner = g
			} else if policy == types.MergingPolicyMax && g.Limit.GreaterThan(*best) {
				best = g.Limit
				winner = g
			} else if policy == types.MergingPolicyMin && g.Limit.LessThan(*best) {
				best = g.Limit
				winner = g
			} else if g.Limit.Equal(*best) && g.Priority() > winner.Priority() {
				winner = g
			}
			allowOverageAny = allowOverageAny || g.AllowOverage
			allowOverageAll = allowOverageAll && g.AllowOverage
		}
		result.Limit = best
		if policy == types.MergingPolicyMax {
			result.AllowOverage = allowOverageAny
		} else {
			result.AllowOverage = allowOverageAll
		}
		if best != nil {
			result.EffectiveAt = winner.EffectiveAt
			result.ExpiresAt = winner.ExpiresAt
			result.Grants = []types.GrantSnapshot{toSnapshot(winner)}
		} else {
			result.EffectiveAt = top.EffectiveAt
			result.ExpiresAt = top.ExpiresAt
			result.Grants = []types.GrantSnapshot{toSnapshot(top)}
		}

	case types.MergingPolicyReplace:
		result.Limit = top.Limit
		result.AllowOverage = top.AllowOverage
		result.EffectiveAt = top.EffectiveAt
		result.ExpiresAt = top.ExpiresAt
		result.Grants = []types.GrantSnapshot{toSnapshot(top)}
	}

	return result, nil
}

func toSnapshot(g types.Grant) types.GrantSnapshot {
	return types.GrantSnapshot{
		GrantID:              g.ID,
		Priority:             g.Priority(),
		Limit:                g.Limit,
		EffectiveAt:          g.EffectiveAt,
		ExpiresAt:            g.ExpiresAt,
		AllowOverage:         g.AllowOverage,
		SubscriptionItemID:   g.SubscriptionItemID,
		SubscriptionPhaseID:  g.SubscriptionPhaseID,
		SubscriptionID:       g.SubscriptionID,
		FeaturePlanVersionID: g.FeaturePlanVersionID,
	}
}

// snapshotHash returns a stable content hash of the merged grant
// snapshot; EntitlementState.Version changes iff the set or limits of
// the winning grants change (spec.md §8 replay-equivalence property).
func snapshotHash(snapshots []types.GrantSnapshot) (string, error) {
	b, err := json.Marshal(snapshots)
	if err != nil {
		return "", err
	}
	return hashutil.HexSHA256(b), nil
}
