package types

import "github.com/shopspring/decimal"

// Grant is an allocation of a feature to a subject, with a priority
// derived from its Type and a temporal validity window.
type Grant struct {
	ID                  string
	ProjectID           string
	SubjectType         SubjectType
	SubjectID           string
	FeaturePlanVersionID string
	FeatureSlug         string
	Type                GrantType
	EffectiveAt         int64
	ExpiresAt           *int64
	Limit               *decimal.Decimal
	Units               *decimal.Decimal
	AllowOverage        bool
	AutoRenew           bool
	Anchor              int
	Deleted             bool

	FeatureType       FeatureType
	AggregationMethod AggregationMethod
	ResetConfig       *BillingConfig

	// SubscriptionItemID links this grant back to the subscription
	// line item it was materialized for, when known. Used by the
	// waterfall resolver (spec.md §9).
	SubscriptionItemID   *string
	SubscriptionPhaseID  *string
	SubscriptionID       *string
}

// Priority is the fixed type->priority map applied at creation time.
func (g Grant) Priority() int {
	return g.Type.Priority()
}

// ActiveAt reports whether the grant's interval covers `now`.
func (g Grant) ActiveAt(now int64) bool {
	if g.Deleted {
		return false
	}
	if now < g.EffectiveAt {
		return false
	}
	if g.ExpiresAt != nil && now >= *g.ExpiresAt {
		return false
	}
	return true
}

// OverlapsInterval reports whether this grant's [EffectiveAt, ExpiresAt)
// interval intersects another.
func (g Grant) OverlapsInterval(otherStart int64, otherEnd *int64) bool {
	gEnd := int64(1) << 62
	if g.ExpiresAt != nil {
		gEnd = *g.ExpiresAt
	}
	oEnd := int64(1) << 62
	if otherEnd != nil {
		oEnd = *otherEnd
	}
	return g.EffectiveAt < oEnd && otherStart < gEnd
}

// GrantSnapshot is the subset of a Grant retained on an EntitlementState
// as a winning-grant record: enough to re-derive attribution and audit
// which grants backed a merge, without re-reading the store.
type GrantSnapshot struct {
	GrantID             string
	Priority            int
	Limit               *decimal.Decimal
	EffectiveAt         int64
	ExpiresAt           *int64
	AllowOverage        bool
	SubscriptionItemID  *string
	SubscriptionPhaseID *string
	SubscriptionID      *string
	FeaturePlanVersionID string
}

// EntitlementState is the merged, versioned view of all grants that
// currently apply to a (project, customer, feature).
type EntitlementState struct {
	ProjectID   string
	CustomerID  string
	FeatureSlug string

	FeatureType       FeatureType
	AggregationMethod AggregationMethod
	ResetConfig       *BillingConfig
	MergingPolicy     MergingPolicy
	Limit             *decimal.Decimal
	AllowOverage      bool
	Grants            []GrantSnapshot

	EffectiveAt int64
	ExpiresAt   *int64
	Version     string

	CurrentCycleUsage decimal.Decimal
	AccumulatedUsage  decimal.Decimal
	LastSyncAt        int64
	NextRevalidateAt  int64
	ComputedAt        int64
}

// Key is the unique identity of an EntitlementState.
func (s EntitlementState) Key() string {
	return s.ProjectID + ":" + s.CustomerID + ":" + s.FeatureSlug
}
